package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kirillkom/doc-curator/internal/core/domain"
	"github.com/kirillkom/doc-curator/internal/core/ports"
)

const expirationPreviewChars = 600

// permanentMarkers short-circuit any expiration check.
var permanentMarkers = []string{
	"永久", "长期", "无", "permanent", "long-term", "longterm", "none", "never", "indefinite", "无期限",
}

var expirationDateLayouts = []string{
	"2006-1-2",
	"2006/1/2",
	"2006.1.2",
	"2006年1月2日",
	"20060102",
}

// ExpirationJudge decides from a preview whether a document has expired.
type ExpirationJudge interface {
	JudgeExpiration(ctx context.Context, doc *domain.Document, preview string, today time.Time) (domain.ExpirationJudgment, error)
}

type ExpirationReconcileConfig struct {
	ExcludeCategory domain.Category
	PreviewChars    int
	Now             func() time.Time
}

// ExpirationReconciler removes published documents whose validity has ended.
type ExpirationReconciler struct {
	repo      ports.DocumentRepository
	previews  PreviewSource
	judge     ExpirationJudge
	publisher ports.KnowledgePublisher
	cfg       ExpirationReconcileConfig
	logger    *slog.Logger
}

func NewExpirationReconciler(
	repo ports.DocumentRepository,
	previews PreviewSource,
	judge ExpirationJudge,
	publisher ports.KnowledgePublisher,
	cfg ExpirationReconcileConfig,
	logger *slog.Logger,
) *ExpirationReconciler {
	if cfg.ExcludeCategory == "" {
		cfg.ExcludeCategory = domain.CategoryHeadquartersIssue
	}
	if cfg.PreviewChars <= 0 {
		cfg.PreviewChars = expirationPreviewChars
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ExpirationReconciler{
		repo:      repo,
		previews:  previews,
		judge:     judge,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
	}
}

func (r *ExpirationReconciler) Run(ctx context.Context, limit int) (domain.ExpirationStats, error) {
	stats := domain.ExpirationStats{Details: []domain.ReconcileDetail{}}
	docs, err := r.repo.ListCompleted(ctx, ports.CompletedFilter{
		ExcludeCategory: r.cfg.ExcludeCategory,
		Limit:           normalizeReconcileLimit(limit),
	})
	if err != nil {
		return stats, fmt.Errorf("list completed documents: %w", err)
	}

	today := r.cfg.Now()
	for i := range docs {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.Processed++
		r.checkOne(ctx, &docs[i], today, &stats)
	}

	r.logger.Info("expiration_reconciliation_finished",
		"processed", stats.Processed,
		"expired_by_metadata", stats.ExpiredByMetadata,
		"expired_by_ai", stats.ExpiredByAI,
		"deleted", stats.Deleted,
		"errors", stats.Errors,
	)
	return stats, nil
}

func (r *ExpirationReconciler) checkOne(ctx context.Context, doc *domain.Document, today time.Time, stats *domain.ExpirationStats) {
	validity := verdictAttribute(doc, "validity")
	declared := verdictAttribute(doc, "expiration_date")

	if HasPermanentMarker(doc.Title()) || IsPermanentValidity(validity) || IsPermanentValidity(declared) {
		stats.Details = append(stats.Details, skipped(doc, "", "permanent validity"))
		return
	}

	if declared != "" {
		date, ok := ParseExpirationDate(declared, today.Location())
		if !ok {
			stats.Details = append(stats.Details, skipped(doc, "", "unparseable expiration date "+declared))
			return
		}
		if !IsPastDue(date, today) {
			return
		}
		stats.ExpiredByMetadata++
		r.remove(ctx, doc, domain.RemovalMetadata, "expired on "+date.Format("2006-01-02"), stats)
		return
	}

	preview, err := r.previews.Preview(ctx, doc, r.cfg.PreviewChars)
	if err != nil {
		stats.Errors++
		stats.Details = append(stats.Details, failed(doc, "", fmt.Errorf("fetch preview: %w", err)))
		return
	}
	judgment, err := r.judge.JudgeExpiration(ctx, doc, preview, today)
	if err != nil {
		stats.Errors++
		stats.Details = append(stats.Details, failed(doc, "", fmt.Errorf("judge expiration: %w", err)))
		return
	}
	if IsPermanentValidity(judgment.Validity) || IsPermanentValidity(judgment.ExpirationDate) {
		return
	}
	if !judgment.Expired {
		return
	}
	stats.ExpiredByAI++
	r.remove(ctx, doc, domain.RemovalAI, judgment.Reasoning, stats)
}

func (r *ExpirationReconciler) remove(ctx context.Context, doc *domain.Document, method domain.RemovalMethod, reason string, stats *domain.ExpirationStats) {
	if _, err := r.publisher.Delete(ctx, doc.PublishedDocID, doc.KnowledgeStoreID); err != nil {
		stats.Errors++
		stats.Details = append(stats.Details, failed(doc, "", err))
		return
	}
	err := r.repo.MarkRemoved(ctx, []domain.Removal{{
		DocumentID: doc.ID,
		Stage:      domain.StageExpired,
		Method:     method,
		Reason:     reason,
	}})
	if err != nil {
		stats.Errors++
		stats.Details = append(stats.Details, failed(doc, "", fmt.Errorf("mark expired: %w", err)))
		return
	}

	stats.Deleted++
	stats.Details = append(stats.Details, domain.ReconcileDetail{
		DocumentID: doc.ID,
		Filename:   doc.Filename,
		Action:     domain.ActionDeleted,
		Method:     string(method),
		Reason:     reason,
	})
	r.logger.Info("document_expired", "document_id", doc.ID, "method", method)
}

// HasPermanentMarker checks free text such as a title. Single-character
// markers are ignored here since they appear in ordinary words, and Latin
// markers must stand as whole words.
func HasPermanentMarker(text string) bool {
	lower := strings.ToLower(text)
	for _, m := range permanentMarkers {
		if utf8.RuneCountInString(m) < 2 {
			continue
		}
		if isASCII(m) {
			if containsWord(lower, m) {
				return true
			}
			continue
		}
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

func containsWord(text, word string) bool {
	for offset := 0; ; {
		i := strings.Index(text[offset:], word)
		if i < 0 {
			return false
		}
		start := offset + i
		end := start + len(word)
		if (start == 0 || !isWordByte(text[start-1])) && (end == len(text) || !isWordByte(text[end])) {
			return true
		}
		offset = start + 1
	}
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= '0' && b <= '9' || b == '_'
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// IsPermanentValidity checks a declared validity or expiration value.
func IsPermanentValidity(value string) bool {
	v := strings.ToLower(strings.TrimSpace(value))
	if v == "" {
		return false
	}
	for _, m := range permanentMarkers {
		if v == m {
			return true
		}
	}
	return HasPermanentMarker(v)
}

func ParseExpirationDate(value string, loc *time.Location) (time.Time, bool) {
	v := strings.TrimSpace(value)
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range expirationDateLayouts {
		if t, err := time.ParseInLocation(layout, v, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// IsPastDue reports whether the calendar day of date is before the calendar day of today.
func IsPastDue(date, today time.Time) bool {
	y, m, d := today.Date()
	startOfToday := time.Date(y, m, d, 0, 0, 0, 0, today.Location())
	return date.Before(startOfToday)
}

func verdictAttribute(doc *domain.Document, key string) string {
	if doc.Verdict == nil || doc.Verdict.Attributes == nil {
		return ""
	}
	switch v := doc.Verdict.Attributes[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}
