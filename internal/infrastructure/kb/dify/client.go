// Package dify publishes text documents into Dify datasets.
package dify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kirillkom/doc-curator/internal/core/domain"
	"github.com/kirillkom/doc-curator/internal/infrastructure/resilience"
)

// Segmentation is the hierarchical (parent/child) chunking Dify applies to
// created documents.
type Segmentation struct {
	ParentSeparator string
	ParentMaxTokens int
	ChildSeparator  string
	ChildMaxTokens  int
	ChildOverlap    int
	DocLanguage     string
}

func DefaultSegmentation() Segmentation {
	return Segmentation{
		ParentSeparator: "\n\n",
		ParentMaxTokens: 1024,
		ChildSeparator:  "\n",
		ChildMaxTokens:  256,
		ChildOverlap:    50,
		DocLanguage:     "Chinese",
	}
}

type Options struct {
	Timeout      time.Duration
	Segmentation *Segmentation
	// ResilienceExecutor guards create-by-text, which must not be replayed.
	ResilienceExecutor *resilience.Executor
	// DeleteExecutor guards deletes and may retry. Defaults to ResilienceExecutor.
	DeleteExecutor *resilience.Executor
}

type Client struct {
	baseURL      string
	apiKey       string
	segmentation Segmentation
	httpClient   *http.Client
	executor     *resilience.Executor
	deleter      *resilience.Executor
}

func New(baseURL, apiKey string, opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	seg := DefaultSegmentation()
	if opts.Segmentation != nil {
		seg = *opts.Segmentation
	}
	deleter := opts.DeleteExecutor
	if deleter == nil {
		deleter = opts.ResilienceExecutor
	}
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiKey:       apiKey,
		segmentation: seg,
		httpClient:   &http.Client{Timeout: timeout},
		executor:     opts.ResilienceExecutor,
		deleter:      deleter,
	}
}

type segmentRule struct {
	Separator    string `json:"separator"`
	MaxTokens    int    `json:"max_tokens"`
	ChunkOverlap int    `json:"chunk_overlap,omitempty"`
}

type processRules struct {
	PreProcessingRules   []preProcessingRule `json:"pre_processing_rules"`
	Segmentation         segmentRule         `json:"segmentation"`
	ParentMode           string              `json:"parent_mode"`
	SubchunkSegmentation segmentRule         `json:"subchunk_segmentation"`
}

type preProcessingRule struct {
	ID      string `json:"id"`
	Enabled bool   `json:"enabled"`
}

type processRule struct {
	Mode  string       `json:"mode"`
	Rules processRules `json:"rules"`
}

type createByTextRequest struct {
	Name              string      `json:"name"`
	Text              string      `json:"text"`
	IndexingTechnique string      `json:"indexing_technique"`
	DocForm           string      `json:"doc_form"`
	DocLanguage       string      `json:"doc_language"`
	ProcessRule       processRule `json:"process_rule"`
}

type createByTextResponse struct {
	Document struct {
		ID string `json:"id"`
	} `json:"document"`
}

// CreateByText returns the Dify document id of the created document.
func (c *Client) CreateByText(ctx context.Context, datasetID, name, text string) (string, error) {
	if strings.TrimSpace(datasetID) == "" {
		return "", domain.WrapError(domain.ErrInvalidInput, "dify create", errors.New("dataset id is required"))
	}
	payload := createByTextRequest{
		Name:              name,
		Text:              text,
		IndexingTechnique: "high_quality",
		DocForm:           "hierarchical_model",
		DocLanguage:       c.segmentation.DocLanguage,
		ProcessRule: processRule{
			Mode: "hierarchical",
			Rules: processRules{
				PreProcessingRules: []preProcessingRule{
					{ID: "remove_extra_spaces", Enabled: true},
					{ID: "remove_urls_emails", Enabled: false},
				},
				Segmentation: segmentRule{
					Separator: c.segmentation.ParentSeparator,
					MaxTokens: c.segmentation.ParentMaxTokens,
				},
				ParentMode: "paragraph",
				SubchunkSegmentation: segmentRule{
					Separator:    c.segmentation.ChildSeparator,
					MaxTokens:    c.segmentation.ChildMaxTokens,
					ChunkOverlap: c.segmentation.ChildOverlap,
				},
			},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", domain.WrapError(domain.ErrPublishFailed, "dify create", fmt.Errorf("marshal request: %w", err))
	}

	endpoint := fmt.Sprintf("%s/v1/datasets/%s/document/create-by-text", c.baseURL, url.PathEscape(datasetID))
	id, err := resilience.ExecuteValue(ctx, c.executor, "dify.create", func(callCtx context.Context) (string, error) {
		var decoded createByTextResponse
		if err := c.do(callCtx, http.MethodPost, endpoint, body, &decoded, "create"); err != nil {
			return "", err
		}
		if decoded.Document.ID == "" {
			return "", errors.New("dify create response has no document id")
		}
		return decoded.Document.ID, nil
	}, resilience.ClassifyHTTPError)
	if err != nil {
		return "", domain.WrapError(domain.ErrPublishFailed, "dify create", err)
	}
	return id, nil
}

// DeleteDocument reports false when Dify no longer knows the document.
func (c *Client) DeleteDocument(ctx context.Context, datasetID, documentID string) (bool, error) {
	if strings.TrimSpace(datasetID) == "" || strings.TrimSpace(documentID) == "" {
		return false, domain.WrapError(domain.ErrInvalidInput, "dify delete", errors.New("dataset id and document id are required"))
	}
	endpoint := fmt.Sprintf("%s/v1/datasets/%s/documents/%s", c.baseURL, url.PathEscape(datasetID), url.PathEscape(documentID))
	err := c.deleter.Execute(ctx, "dify.delete", func(callCtx context.Context) error {
		return c.do(callCtx, http.MethodDelete, endpoint, nil, nil, "delete")
	}, resilience.ClassifyHTTPError)
	if err != nil {
		if resilience.StatusCode(err) == http.StatusNotFound {
			return false, nil
		}
		return false, domain.WrapError(domain.ErrDeleteFailed, "dify delete", err)
	}
	return true, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body []byte, out any, operation string) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create %s request: %w", operation, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("dify %s request: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resilience.NewHTTPStatusError("dify", operation, resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", operation, err)
	}
	return nil
}
