package remote

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kirillkom/doc-curator/internal/core/domain"
	"github.com/kirillkom/doc-curator/internal/core/ports"
)

func TestFragmentsSendsChunkPolicy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/upload-document/" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		var separators []string
		if err := json.Unmarshal([]byte(r.FormValue("separators")), &separators); err != nil {
			t.Fatalf("separators not json: %v", err)
		}
		if len(separators) != 4 || separators[0] != "\n\n" || separators[3] != "" {
			t.Fatalf("unexpected separators %q", separators)
		}
		if r.FormValue("chunk_size") != "1000" || r.FormValue("chunk_overlap") != "200" {
			t.Fatalf("unexpected chunk params %q/%q", r.FormValue("chunk_size"), r.FormValue("chunk_overlap"))
		}
		if r.FormValue("keep_separator") != "true" || r.FormValue("is_separator_regex") != "false" {
			t.Fatalf("unexpected flags")
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		data, _ := io.ReadAll(file)
		if header.Filename != "report.docx" || string(data) != "docx-bytes" {
			t.Fatalf("unexpected file %s %q", header.Filename, data)
		}

		_, _ = w.Write([]byte(`{"filename":"report.docx","file_type":"docx","chunks":[
			{"content":"第一段","metadata":{"source":"report.docx","file_type":"docx"},"length":3},
			{"content":"Sheet text","metadata":{"source":"report.docx","sheet_name":"S1"}}
		]}`))
	}))
	defer srv.Close()

	client := New(srv.URL, Options{})
	fragments, err := client.Fragments(context.Background(), ports.ExtractionRequest{
		Filename: "report.docx",
		FileType: "docx",
		Data:     []byte("docx-bytes"),
	})
	if err != nil {
		t.Fatalf("Fragments() error = %v", err)
	}
	if len(fragments) != 2 {
		t.Fatalf("expected 2 fragments, got %d", len(fragments))
	}
	if fragments[1].SheetName != "S1" || fragments[1].Length != 10 || fragments[1].FileType != "docx" {
		t.Fatalf("unexpected fragment %+v", fragments[1])
	}
}

func TestFragmentsMapsUnsupportedMediaType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "unsupported", http.StatusUnsupportedMediaType)
	}))
	defer srv.Close()

	_, err := New(srv.URL, Options{}).Fragments(context.Background(), ports.ExtractionRequest{Filename: "a.xyz", Data: []byte("x")})
	if !domain.IsKind(err, domain.ErrUnsupportedFormat) {
		t.Fatalf("expected unsupported format, got %v", err)
	}
}

func TestFragmentsMapsServerErrorToExtractionFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := New(srv.URL, Options{}).Fragments(context.Background(), ports.ExtractionRequest{Filename: "a.doc", Data: []byte("x")})
	if !domain.IsKind(err, domain.ErrExtractionFailed) {
		t.Fatalf("expected extraction failed, got %v", err)
	}
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("5xx should be marked temporary, got %v", err)
	}
}
