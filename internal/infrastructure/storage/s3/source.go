package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/kirillkom/doc-curator/internal/core/domain"
	"github.com/kirillkom/doc-curator/internal/infrastructure/resilience"
)

const defaultMaxObjectBytes = 512 << 20

type Config struct {
	Endpoint       string
	AccessKey      string
	SecretKey      string
	Region         string
	Bucket         string
	UseSSL         bool
	MaxObjectBytes int64
}

// Source reads encrypted source documents from an S3-compatible bucket.
// Locators are either a bare object key in the configured bucket or
// "s3://bucket/key".
type Source struct {
	client   *minio.Client
	bucket   string
	maxBytes int64
	executor *resilience.Executor
}

func New(cfg Config, executor *resilience.Executor) (*Source, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("s3 endpoint is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	cli, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	maxBytes := cfg.MaxObjectBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxObjectBytes
	}
	return &Source{
		client:   cli,
		bucket:   cfg.Bucket,
		maxBytes: maxBytes,
		executor: executor,
	}, nil
}

// Ping verifies the configured bucket is reachable.
func (s *Source) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket existence: %w", err)
	}
	if !exists {
		return fmt.Errorf("bucket %q does not exist", s.bucket)
	}
	return nil
}

func (s *Source) Get(ctx context.Context, locator string) ([]byte, error) {
	bucket, key, err := parseLocator(locator, s.bucket)
	if err != nil {
		return nil, err
	}

	data, err := resilience.ExecuteValue(ctx, s.executor, "s3.get", func(ctx context.Context) ([]byte, error) {
		return s.read(ctx, bucket, key)
	}, classifyS3Error)
	if err != nil {
		return nil, mapS3Error(locator, err)
	}
	return data, nil
}

func (s *Source) read(ctx context.Context, bucket, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()

	st, err := obj.Stat()
	if err != nil {
		return nil, err
	}
	if st.Size > s.maxBytes {
		return nil, fmt.Errorf("object %s/%s is %d bytes, limit %d", bucket, key, st.Size, s.maxBytes)
	}
	data, err := io.ReadAll(io.LimitReader(obj, s.maxBytes+1))
	if err != nil {
		return nil, err
	}
	return data, nil
}

func parseLocator(locator, defaultBucket string) (string, string, error) {
	loc := strings.TrimSpace(locator)
	if loc == "" {
		return "", "", domain.WrapError(domain.ErrNotFound, "parse locator", errors.New("empty storage locator"))
	}
	if rest, ok := strings.CutPrefix(loc, "s3://"); ok {
		bucket, key, found := strings.Cut(rest, "/")
		if !found || bucket == "" || key == "" {
			return "", "", domain.WrapError(domain.ErrNotFound, "parse locator", fmt.Errorf("malformed locator %q", locator))
		}
		return bucket, key, nil
	}
	return defaultBucket, strings.TrimPrefix(loc, "/"), nil
}

func errorResponse(err error) minio.ErrorResponse {
	var resp minio.ErrorResponse
	if errors.As(err, &resp) {
		return resp
	}
	return minio.ErrorResponse{}
}

func isMissing(err error) bool {
	resp := errorResponse(err)
	switch resp.Code {
	case "NoSuchKey", "NoSuchBucket", "NotFound":
		return true
	}
	return resp.StatusCode == http.StatusNotFound
}

func classifyS3Error(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	if isMissing(err) {
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}
	if status := errorResponse(err).StatusCode; status != 0 {
		return resilience.ClassifyHTTPError(&resilience.HTTPStatusError{StatusCode: status})
	}
	return resilience.ClassifyHTTPError(err)
}

func mapS3Error(locator string, err error) error {
	if domain.IsKind(err, domain.ErrNotFound) {
		return err
	}
	if isMissing(err) {
		return domain.WrapError(domain.ErrNotFound, "s3 get "+locator, err)
	}
	return domain.WrapError(domain.ErrStorageUnavailable, "s3 get "+locator, err)
}
