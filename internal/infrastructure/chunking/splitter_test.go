package chunking

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/kirillkom/doc-curator/internal/core/domain"
)

func TestSplitKeepsShortTextWhole(t *testing.T) {
	s := NewSplitter(domain.DefaultChunkPolicy())
	got := s.Split("  第一条 总则。\n\n第二条 适用范围。  ")
	if len(got) != 1 {
		t.Fatalf("expected 1 chunk, got %d: %q", len(got), got)
	}
	if got[0] != "第一条 总则。\n\n第二条 适用范围。" {
		t.Fatalf("unexpected chunk %q", got[0])
	}
}

func TestSplitPrefersParagraphBoundaries(t *testing.T) {
	s := NewSplitter(domain.ChunkPolicy{
		Separators:   []string{"\n\n", "\n", ".", ""},
		MaxChunkSize: 10,
		Overlap:      0,
	})
	got := s.Split("aaaa bbbb\n\ncccc dddd\n\neeee")
	want := []string{"aaaa bbbb", "cccc dddd", "eeee"}
	if len(got) != len(want) {
		t.Fatalf("expected %d chunks, got %d: %q", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("chunk %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestSplitHardCutsUnbrokenText(t *testing.T) {
	s := NewSplitter(domain.ChunkPolicy{
		Separators:   []string{"\n\n", "\n", ".", ""},
		MaxChunkSize: 100,
		Overlap:      20,
	})
	text := strings.Repeat("字", 250)
	got := s.Split(text)
	if len(got) != 3 {
		t.Fatalf("expected 3 windows, got %d", len(got))
	}
	for i, chunk := range got {
		if n := utf8.RuneCountInString(chunk); n > 100 {
			t.Fatalf("chunk %d has %d runes", i, n)
		}
	}
}

func TestSplitEmptyText(t *testing.T) {
	if got := NewSplitter(domain.DefaultChunkPolicy()).Split(" \n "); got != nil {
		t.Fatalf("expected nil, got %q", got)
	}
}
