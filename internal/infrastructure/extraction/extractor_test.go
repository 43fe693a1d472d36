package extraction

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/kirillkom/doc-curator/internal/core/domain"
	"github.com/kirillkom/doc-curator/internal/core/ports"
)

type fakeLocal struct {
	types     map[string]bool
	fragments []domain.Fragment
	calls     int
}

func (f *fakeLocal) Supports(fileType string) bool { return f.types[fileType] }

func (f *fakeLocal) Fragments(context.Context, ports.ExtractionRequest) ([]domain.Fragment, error) {
	f.calls++
	return f.fragments, nil
}

type fakeRemote struct {
	fragments []domain.Fragment
	err       error
	lastReq   ports.ExtractionRequest
	calls     int
}

func (f *fakeRemote) Fragments(_ context.Context, req ports.ExtractionRequest) ([]domain.Fragment, error) {
	f.calls++
	f.lastReq = req
	return f.fragments, f.err
}

func TestAssembleCapsAtBoundaryWithoutTrailingSeparator(t *testing.T) {
	fragments := []domain.Fragment{
		{Content: strings.Repeat("a", 20000)},
		{Content: strings.Repeat("b", 20000)},
		{Content: strings.Repeat("c", 20000)},
	}
	got := Assemble(fragments, 50000)

	if n := utf8.RuneCountInString(got.Body); n != 50000+2*len(FragmentSeparator) {
		t.Fatalf("expected 50000 chars plus two separators, got %d", n)
	}
	if !got.Truncated {
		t.Fatalf("expected truncated")
	}
	if got.FragmentCount != 3 || got.TotalLength != 60000 {
		t.Fatalf("unexpected diagnostics %d/%d", got.FragmentCount, got.TotalLength)
	}
	if strings.HasSuffix(got.Body, FragmentSeparator) {
		t.Fatalf("body must not end with a separator")
	}
	if !strings.HasSuffix(got.Body, strings.Repeat("c", 10000)) || strings.Contains(got.Body, strings.Repeat("c", 10001)) {
		t.Fatalf("third fragment should be cut to 10000 chars")
	}
}

func TestAssembleCountsRunesNotBytes(t *testing.T) {
	got := Assemble([]domain.Fragment{{Content: "一二三"}, {Content: "四五六"}}, 4)
	if got.Body != "一二三"+FragmentSeparator+"四" {
		t.Fatalf("unexpected body %q", got.Body)
	}
}

func TestAssembleSkipsBlankFragments(t *testing.T) {
	got := Assemble([]domain.Fragment{{Content: " x "}, {Content: "  "}, {Content: "y"}}, 0)
	if got.Body != "x"+FragmentSeparator+"y" || got.FragmentCount != 2 || got.Truncated {
		t.Fatalf("unexpected result %+v", got)
	}
}

func TestExtractRoutesByFileType(t *testing.T) {
	local := &fakeLocal{types: map[string]bool{"txt": true}, fragments: []domain.Fragment{{Content: "local"}}}
	remote := &fakeRemote{fragments: []domain.Fragment{{Content: "remote"}}}
	e := NewExtractor(local, remote, nil, nil)

	got, err := e.Extract(context.Background(), ports.ExtractionRequest{Filename: "a.TXT", MaxChars: 100})
	if err != nil || got.Body != "local" {
		t.Fatalf("expected local extraction, got %+v err=%v", got, err)
	}

	got, err = e.Extract(context.Background(), ports.ExtractionRequest{Filename: "b.docx", FileType: ".DOCX", MaxChars: 100})
	if err != nil || got.Body != "remote" {
		t.Fatalf("expected remote extraction, got %+v err=%v", got, err)
	}
	if remote.lastReq.FileType != "docx" {
		t.Fatalf("expected normalized file type, got %q", remote.lastReq.FileType)
	}

	_, err = e.Extract(context.Background(), ports.ExtractionRequest{Filename: "c.exe"})
	if !domain.IsKind(err, domain.ErrUnsupportedFormat) {
		t.Fatalf("expected unsupported format, got %v", err)
	}
	if local.calls != 1 || remote.calls != 1 {
		t.Fatalf("unexpected calls local=%d remote=%d", local.calls, remote.calls)
	}
}

func TestExtractWrapsServiceErrorsAndEmptyBodies(t *testing.T) {
	remote := &fakeRemote{err: errors.New("connection reset")}
	e := NewExtractor(nil, remote, []string{"doc"}, nil)
	_, err := e.Extract(context.Background(), ports.ExtractionRequest{Filename: "a.doc"})
	if !domain.IsKind(err, domain.ErrExtractionFailed) {
		t.Fatalf("expected extraction failed, got %v", err)
	}

	remote.err = nil
	remote.fragments = []domain.Fragment{{Content: "   "}}
	_, err = e.Extract(context.Background(), ports.ExtractionRequest{Filename: "a.doc"})
	if !domain.IsKind(err, domain.ErrExtractionFailed) {
		t.Fatalf("expected extraction failed for empty body, got %v", err)
	}
}
