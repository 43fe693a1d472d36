package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/kirillkom/doc-curator/internal/core/domain"
	"github.com/kirillkom/doc-curator/internal/core/ports"
)

type StructuredOutputMode string

const (
	OutputJSONMode       StructuredOutputMode = "json_mode"
	OutputSchemaInPrompt StructuredOutputMode = "schema_in_prompt"
)

func ParseStructuredOutputMode(raw string) StructuredOutputMode {
	if StructuredOutputMode(strings.ToLower(strings.TrimSpace(raw))) == OutputSchemaInPrompt {
		return OutputSchemaInPrompt
	}
	return OutputJSONMode
}

type DecisionConfig struct {
	OutputMode              StructuredOutputMode
	DefaultKnowledgeStoreID string
	MinConfidence           int
	AutoApproveConfidence   int
	SummaryMaxChars         int
	PromptMaxChars          int
	Temperature             float64
	MaxTokens               int
}

func (c DecisionConfig) normalize() DecisionConfig {
	out := c
	if out.OutputMode == "" {
		out.OutputMode = OutputJSONMode
	}
	if out.MinConfidence <= 0 {
		out.MinConfidence = 40
	}
	if out.AutoApproveConfidence <= 0 {
		out.AutoApproveConfidence = 80
	}
	if out.SummaryMaxChars <= 0 {
		out.SummaryMaxChars = 500
	}
	if out.PromptMaxChars <= 0 {
		out.PromptMaxChars = defaultAnalysisMaxChars
	}
	if out.MaxTokens <= 0 {
		out.MaxTokens = 2000
	}
	return out
}

// VerdictStore persists verdicts. The decision engine is its only caller.
type VerdictStore interface {
	SaveVerdict(ctx context.Context, id string, verdict domain.Verdict, knowledgeStoreID string) error
}

// DecisionEngine resolves a category's routing, asks the inference service for
// a structured verdict and validates it against the routing's schema.
type DecisionEngine struct {
	routes   ports.RoutingRepository
	verdicts VerdictStore
	llm      ports.InferenceClient
	cfg      DecisionConfig
	logger   *slog.Logger
	now      func() time.Time
}

func NewDecisionEngine(
	routes ports.RoutingRepository,
	verdicts VerdictStore,
	llm ports.InferenceClient,
	cfg DecisionConfig,
	logger *slog.Logger,
) *DecisionEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &DecisionEngine{
		routes:   routes,
		verdicts: verdicts,
		llm:      llm,
		cfg:      cfg.normalize(),
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (e *DecisionEngine) Decide(ctx context.Context, doc *domain.Document, text string) (domain.Decision, error) {
	routing, err := e.resolveRouting(ctx, doc.Category)
	if err != nil {
		return domain.Decision{}, err
	}

	storeID := doc.KnowledgeStoreID
	if storeID == "" {
		storeID = routing.KnowledgeStoreID
	}
	if storeID == "" {
		storeID = e.cfg.DefaultKnowledgeStoreID
	}

	schema, err := e.verdictSchema(routing.OutputSchema)
	if err != nil {
		return domain.Decision{}, domain.WrapError(domain.ErrAnalysisFailed, "load output schema", err)
	}

	prompt := renderAnalysisPrompt(routing.PromptTemplate, doc, truncateRunes(text, e.cfg.PromptMaxChars))
	messages := []ports.Message{
		{Role: "system", Content: analysisSystemPrompt},
		{Role: "user", Content: prompt},
	}
	payload, model, err := e.completeJSON(ctx, "analyze document", messages, schema)
	if err != nil {
		return domain.Decision{}, err
	}

	verdict := verdictFromPayload(payload)
	verdict.Mode = string(e.cfg.OutputMode)
	verdict.Model = model
	verdict.AnalyzedAt = e.now()

	if err := e.verdicts.SaveVerdict(ctx, doc.ID, verdict, storeID); err != nil {
		return domain.Decision{}, fmt.Errorf("save verdict: %w", err)
	}

	return domain.Decision{
		Verdict:          verdict,
		KnowledgeStoreID: storeID,
		MinConfidence:    routing.MinConfidence,
		AutoApprove:      routing.AutoApprove,
	}, nil
}

// RankVersions asks which of the previewed documents is the latest revision.
func (e *DecisionEngine) RankVersions(ctx context.Context, previews []domain.Preview) (domain.VersionRanking, error) {
	payload, _, err := e.completeJSON(ctx, "rank versions", buildVersionMessages(previews), versionRankingSchema())
	if err != nil {
		return domain.VersionRanking{}, err
	}
	var ranking domain.VersionRanking
	if err := remarshal(payload, &ranking); err != nil {
		return domain.VersionRanking{}, domain.WrapError(domain.ErrAnalysisFailed, "rank versions", err)
	}
	return ranking, nil
}

// JudgeExpiration asks whether the previewed document has expired as of today.
func (e *DecisionEngine) JudgeExpiration(ctx context.Context, doc *domain.Document, preview string, today time.Time) (domain.ExpirationJudgment, error) {
	payload, _, err := e.completeJSON(ctx, "judge expiration", buildExpirationMessages(doc, preview, today), expirationSchema())
	if err != nil {
		return domain.ExpirationJudgment{}, err
	}
	var judgment domain.ExpirationJudgment
	if err := remarshal(payload, &judgment); err != nil {
		return domain.ExpirationJudgment{}, domain.WrapError(domain.ErrAnalysisFailed, "judge expiration", err)
	}
	return judgment, nil
}

func (e *DecisionEngine) resolveRouting(ctx context.Context, category domain.Category) (domain.CategoryRouting, error) {
	routing, err := e.routes.GetActiveRouting(ctx, category)
	if err != nil {
		if !domain.IsKind(err, domain.ErrRoutingNotFound) {
			return domain.CategoryRouting{}, fmt.Errorf("resolve routing for %s: %w", category, err)
		}
		e.logger.Debug("routing_default", "category", category)
		return domain.CategoryRouting{
			Category:         category,
			KnowledgeStoreID: e.cfg.DefaultKnowledgeStoreID,
			MinConfidence:    e.cfg.MinConfidence,
			AutoApprove:      e.cfg.AutoApproveConfidence,
		}, nil
	}

	out := *routing
	if out.MinConfidence < 0 {
		out.MinConfidence = e.cfg.MinConfidence
	}
	if out.AutoApprove <= 0 {
		out.AutoApprove = e.cfg.AutoApproveConfidence
	}
	return out, nil
}

// completeJSON sends messages, validates the answer and re-prompts exactly once
// with the validation error before giving up.
func (e *DecisionEngine) completeJSON(
	ctx context.Context,
	operation string,
	messages []ports.Message,
	schema *openapi3.Schema,
) (map[string]any, string, error) {
	msgs := append([]ports.Message(nil), messages...)
	jsonMode := e.cfg.OutputMode != OutputSchemaInPrompt
	if !jsonMode {
		schemaJSON, err := json.Marshal(schema)
		if err != nil {
			return nil, "", domain.WrapError(domain.ErrAnalysisFailed, operation, fmt.Errorf("marshal schema: %w", err))
		}
		last := len(msgs) - 1
		msgs[last].Content += schemaInstruction(schemaJSON)
	}

	var lastErr error
	for attempt := 1; attempt <= 2; attempt++ {
		completion, err := e.llm.Complete(ctx, ports.CompletionRequest{
			Messages:    msgs,
			JSONMode:    jsonMode,
			Temperature: e.cfg.Temperature,
			MaxTokens:   e.cfg.MaxTokens,
		})
		if err != nil {
			return nil, "", domain.WrapError(domain.ErrAnalysisFailed, operation, err)
		}

		payload, err := parseStructured(completion.Text, schema)
		if err == nil {
			return payload, completion.Model, nil
		}
		lastErr = err
		e.logger.Warn("ai_output_invalid", "operation", operation, "attempt", attempt, "error", err)
		msgs = append(msgs,
			ports.Message{Role: "assistant", Content: completion.Text},
			ports.Message{Role: "user", Content: correctionPrompt(err)},
		)
	}

	return nil, "", domain.WrapError(
		domain.ErrAnalysisFailed,
		operation,
		domain.WrapError(domain.ErrValidationFailed, "validate ai output", lastErr),
	)
}

func (e *DecisionEngine) verdictSchema(categorySchema json.RawMessage) (*openapi3.Schema, error) {
	schema := baseVerdictSchema(e.cfg.SummaryMaxChars)
	if len(categorySchema) == 0 {
		return schema, nil
	}

	var extra openapi3.Schema
	if err := json.Unmarshal(categorySchema, &extra); err != nil {
		return nil, fmt.Errorf("decode category schema: %w", err)
	}
	for name, prop := range extra.Properties {
		if _, reserved := schema.Properties[name]; reserved {
			continue
		}
		schema.Properties[name] = prop
	}
	for _, name := range extra.Required {
		if !slices.Contains(schema.Required, name) {
			schema.Required = append(schema.Required, name)
		}
	}
	return schema, nil
}

func baseVerdictSchema(summaryMaxChars int) *openapi3.Schema {
	schema := openapi3.NewObjectSchema().
		WithProperty("suitable_for_kb", openapi3.NewBoolSchema()).
		WithProperty("confidence_score", openapi3.NewIntegerSchema().WithMin(0).WithMax(100)).
		WithProperty("reasons", openapi3.NewArraySchema().WithItems(openapi3.NewStringSchema())).
		WithProperty("summary", openapi3.NewStringSchema().WithMaxLength(int64(summaryMaxChars)))
	schema.Required = []string{"suitable_for_kb", "confidence_score", "reasons", "summary"}
	return schema
}

func versionRankingSchema() *openapi3.Schema {
	schema := openapi3.NewObjectSchema().
		WithProperty("latest_document_id", openapi3.NewStringSchema().WithNullable()).
		WithProperty("old_document_ids", openapi3.NewArraySchema().WithItems(openapi3.NewStringSchema()).WithNullable()).
		WithProperty("reasoning", openapi3.NewStringSchema().WithNullable())
	schema.Required = []string{"latest_document_id", "old_document_ids"}
	return schema
}

func expirationSchema() *openapi3.Schema {
	schema := openapi3.NewObjectSchema().
		WithProperty("is_expired", openapi3.NewBoolSchema()).
		WithProperty("reasoning", openapi3.NewStringSchema().WithNullable()).
		WithProperty("expiration_date", openapi3.NewStringSchema().WithNullable()).
		WithProperty("validity", openapi3.NewStringSchema().WithNullable()).
		WithProperty("confidence", openapi3.NewIntegerSchema().WithMin(0).WithMax(100).WithNullable())
	schema.Required = []string{"is_expired"}
	return schema
}

func parseStructured(text string, schema *openapi3.Schema) (map[string]any, error) {
	var payload map[string]any
	if err := json.Unmarshal([]byte(jsonObjectFrom(text)), &payload); err != nil {
		return nil, fmt.Errorf("response is not a JSON object: %w", err)
	}
	if err := schema.VisitJSON(payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func verdictFromPayload(payload map[string]any) domain.Verdict {
	v := domain.Verdict{
		Reasons:    []string{},
		Attributes: map[string]any{},
	}
	for key, value := range payload {
		switch key {
		case "suitable_for_kb":
			v.SuitableForKB, _ = value.(bool)
		case "confidence_score":
			if n, ok := value.(float64); ok {
				v.ConfidenceScore = int(n)
			}
		case "reasons":
			items, _ := value.([]any)
			for _, item := range items {
				if s, ok := item.(string); ok {
					v.Reasons = append(v.Reasons, s)
				}
			}
		case "summary":
			v.Summary, _ = value.(string)
		default:
			v.Attributes[key] = value
		}
	}
	return v
}

// jsonObjectFrom strips code fences and surrounding prose from a model answer.
func jsonObjectFrom(raw string) string {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start >= 0 && end > start {
		return cleaned[start : end+1]
	}
	return cleaned
}

func remarshal(in map[string]any, out any) error {
	raw, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
