package localfs

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kirillkom/doc-curator/internal/core/domain"
)

func TestSaveOpenDeleteRoundTrip(t *testing.T) {
	base := t.TempDir()
	s, err := New(base)
	if err != nil {
		t.Fatalf("new storage: %v", err)
	}
	ctx := context.Background()

	if err := s.Save(ctx, "doc-1/raw", strings.NewReader("ciphertext")); err != nil {
		t.Fatalf("save: %v", err)
	}
	rc, err := s.Open(ctx, "doc-1/raw")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "ciphertext" {
		t.Fatalf("unexpected content %q", data)
	}

	if err := s.Delete(ctx, "doc-1/raw"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := os.Stat(filepath.Join(base, "doc-1")); !os.IsNotExist(err) {
		t.Fatalf("expected empty artifact dir to be removed, stat err=%v", err)
	}
	if err := s.Delete(ctx, "doc-1/raw"); err != nil {
		t.Fatalf("second delete must be a no-op: %v", err)
	}
}

func TestOpenMissingArtifactIsNotFound(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new storage: %v", err)
	}
	_, err = s.Open(context.Background(), "missing/plain")
	if !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRejectsEscapingKeys(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new storage: %v", err)
	}
	for _, key := range []string{"../etc/passwd", "", "/abs/path"} {
		if err := s.Save(context.Background(), key, strings.NewReader("x")); !domain.IsKind(err, domain.ErrInvalidInput) {
			t.Fatalf("expected invalid input for %q, got %v", key, err)
		}
	}
}
