package s3

import (
	"errors"
	"net/http"
	"testing"

	"github.com/minio/minio-go/v7"

	"github.com/kirillkom/doc-curator/internal/core/domain"
)

func TestParseLocator(t *testing.T) {
	cases := []struct {
		locator string
		bucket  string
		key     string
	}{
		{locator: "docs/2024/a.bin", bucket: "default", key: "docs/2024/a.bin"},
		{locator: "/docs/a.bin", bucket: "default", key: "docs/a.bin"},
		{locator: "s3://archive/2023/b.bin", bucket: "archive", key: "2023/b.bin"},
	}
	for _, tc := range cases {
		bucket, key, err := parseLocator(tc.locator, "default")
		if err != nil {
			t.Fatalf("parse %q: %v", tc.locator, err)
		}
		if bucket != tc.bucket || key != tc.key {
			t.Fatalf("parse %q: got %s/%s", tc.locator, bucket, key)
		}
	}

	if _, _, err := parseLocator("s3://bucket-only", "default"); !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("expected not found for malformed locator, got %v", err)
	}
}

func TestMapS3Error(t *testing.T) {
	missing := minio.ErrorResponse{Code: "NoSuchKey", StatusCode: http.StatusNotFound}
	if err := mapS3Error("a", missing); !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if classifyS3Error(missing).Retryable {
		t.Fatalf("missing objects must not be retried")
	}

	unavailable := minio.ErrorResponse{Code: "SlowDown", StatusCode: http.StatusServiceUnavailable}
	if !classifyS3Error(unavailable).Retryable {
		t.Fatalf("503 must be retryable")
	}
	if err := mapS3Error("a", errors.New("dial tcp: refused")); !domain.IsKind(err, domain.ErrStorageUnavailable) {
		t.Fatalf("expected storage unavailable, got %v", err)
	}
}
