package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kirillkom/doc-curator/internal/core/domain"
	"github.com/kirillkom/doc-curator/internal/core/ports"
	"github.com/kirillkom/doc-curator/internal/infrastructure/resilience"
)

const defaultTimeout = 2 * time.Minute

// Client posts documents to the extraction service's upload-document endpoint
// with a fixed chunk policy.
type Client struct {
	baseURL    string
	policy     domain.ChunkPolicy
	httpClient *http.Client
	executor   *resilience.Executor
}

type Options struct {
	Timeout            time.Duration
	Policy             *domain.ChunkPolicy
	ResilienceExecutor *resilience.Executor
}

func New(baseURL string, opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	policy := domain.DefaultChunkPolicy()
	if opts.Policy != nil {
		policy = *opts.Policy
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		policy:     policy,
		httpClient: &http.Client{Timeout: timeout},
		executor:   opts.ResilienceExecutor,
	}
}

type uploadResponse struct {
	Filename string `json:"filename"`
	FileType string `json:"file_type"`
	Chunks   []struct {
		Content  string `json:"content"`
		Metadata struct {
			Source    string `json:"source"`
			SheetName string `json:"sheet_name"`
			FileType  string `json:"file_type"`
		} `json:"metadata"`
		Length int `json:"length"`
	} `json:"chunks"`
}

func (c *Client) Fragments(ctx context.Context, req ports.ExtractionRequest) ([]domain.Fragment, error) {
	body, contentType, err := c.encode(req)
	if err != nil {
		return nil, err
	}

	resp, err := resilience.ExecuteValue(ctx, c.executor, "extraction.upload", func(ctx context.Context) (uploadResponse, error) {
		return c.upload(ctx, body, contentType)
	}, resilience.ClassifyHTTPError)
	if err != nil {
		if resilience.StatusCode(err) == http.StatusUnsupportedMediaType {
			return nil, domain.WrapError(domain.ErrUnsupportedFormat, "extraction upload", err)
		}
		err = resilience.WrapTemporaryIfNeeded("extraction upload", err, resilience.ClassifyHTTPError)
		return nil, domain.WrapError(domain.ErrExtractionFailed, "extraction upload", err)
	}

	fileType := resp.FileType
	if fileType == "" {
		fileType = req.FileType
	}
	out := make([]domain.Fragment, 0, len(resp.Chunks))
	for _, chunk := range resp.Chunks {
		length := chunk.Length
		if length <= 0 {
			length = utf8.RuneCountInString(chunk.Content)
		}
		ft := chunk.Metadata.FileType
		if ft == "" {
			ft = fileType
		}
		out = append(out, domain.Fragment{
			Content:   chunk.Content,
			Source:    chunk.Metadata.Source,
			SheetName: chunk.Metadata.SheetName,
			FileType:  ft,
			Length:    length,
		})
	}
	return out, nil
}

func (c *Client) encode(req ports.ExtractionRequest) ([]byte, string, error) {
	separators, err := json.Marshal(c.policy.Separators)
	if err != nil {
		return nil, "", fmt.Errorf("marshal separators: %w", err)
	}
	rules, err := json.Marshal(c.policy.SeparatorRules)
	if err != nil {
		return nil, "", fmt.Errorf("marshal separator rules: %w", err)
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", req.Filename)
	if err != nil {
		return nil, "", fmt.Errorf("create file part: %w", err)
	}
	if _, err := part.Write(req.Data); err != nil {
		return nil, "", fmt.Errorf("write file part: %w", err)
	}

	fields := []struct{ key, value string }{
		{"separators", string(separators)},
		{"separator_rules", string(rules)},
		{"chunk_size", strconv.Itoa(c.policy.MaxChunkSize)},
		{"chunk_overlap", strconv.Itoa(c.policy.Overlap)},
		{"is_separator_regex", strconv.FormatBool(c.policy.Regex)},
		{"keep_separator", strconv.FormatBool(c.policy.KeepSeparator)},
	}
	for _, f := range fields {
		if err := w.WriteField(f.key, f.value); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", f.key, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart: %w", err)
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

func (c *Client) upload(ctx context.Context, body []byte, contentType string) (uploadResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload-document/", bytes.NewReader(body))
	if err != nil {
		return uploadResponse{}, fmt.Errorf("create upload request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return uploadResponse{}, fmt.Errorf("extraction upload request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return uploadResponse{}, resilience.NewHTTPStatusError("extraction", "upload", resp)
	}
	var out uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return uploadResponse{}, fmt.Errorf("decode upload response: %w", err)
	}
	return out, nil
}
