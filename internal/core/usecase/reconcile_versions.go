package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/kirillkom/doc-curator/internal/core/domain"
	"github.com/kirillkom/doc-curator/internal/core/ports"
)

const (
	defaultReconcileLimit = 50
	maxReconcileLimit     = 200
	versionPreviewChars   = 400
)

var defaultRevisionKeywords = []string{
	"修订", "修改", "更新", "调整", "变更", "修正", "补充", "完善", "废止", "废除",
	"update", "amend", "supersede", "revoke", "revise", "revision",
}

var titlePattern = regexp.MustCompile(`《(.+?)》`)

// PreviewSource fetches a short leading excerpt of a document.
type PreviewSource interface {
	Preview(ctx context.Context, doc *domain.Document, chars int) (string, error)
}

// VersionRanker names the latest document of a group of previews.
type VersionRanker interface {
	RankVersions(ctx context.Context, previews []domain.Preview) (domain.VersionRanking, error)
}

type VersionReconcileConfig struct {
	Category         domain.Category
	RevisionKeywords []string
	PreviewChars     int
}

// VersionReconciler removes superseded revisions of the same titled document.
type VersionReconciler struct {
	repo      ports.DocumentRepository
	previews  PreviewSource
	ranker    VersionRanker
	publisher ports.KnowledgePublisher
	cfg       VersionReconcileConfig
	logger    *slog.Logger
}

func NewVersionReconciler(
	repo ports.DocumentRepository,
	previews PreviewSource,
	ranker VersionRanker,
	publisher ports.KnowledgePublisher,
	cfg VersionReconcileConfig,
	logger *slog.Logger,
) *VersionReconciler {
	if cfg.Category == "" {
		cfg.Category = domain.CategoryHeadquartersIssue
	}
	if len(cfg.RevisionKeywords) == 0 {
		cfg.RevisionKeywords = defaultRevisionKeywords
	}
	if cfg.PreviewChars <= 0 {
		cfg.PreviewChars = versionPreviewChars
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &VersionReconciler{
		repo:      repo,
		previews:  previews,
		ranker:    ranker,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
	}
}

func (r *VersionReconciler) Run(ctx context.Context, limit int) (domain.VersionStats, error) {
	stats := domain.VersionStats{Details: []domain.ReconcileDetail{}}
	docs, err := r.repo.ListCompleted(ctx, ports.CompletedFilter{
		Category: r.cfg.Category,
		Limit:    normalizeReconcileLimit(limit),
	})
	if err != nil {
		return stats, fmt.Errorf("list completed documents: %w", err)
	}

	handled := make(map[string]bool, len(docs))
	for i := range docs {
		doc := &docs[i]
		if handled[doc.ID] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.Processed++
		r.reconcileOne(ctx, doc, handled, &stats)
	}

	r.logger.Info("version_reconciliation_finished",
		"processed", stats.Processed,
		"duplicates_found", stats.DuplicatesFound,
		"deleted", stats.Deleted,
		"errors", stats.Errors,
	)
	return stats, nil
}

func (r *VersionReconciler) reconcileOne(ctx context.Context, doc *domain.Document, handled map[string]bool, stats *domain.VersionStats) {
	if !HasRevisionKeyword(doc.Filename, r.cfg.RevisionKeywords) {
		return
	}
	title, ok := ExtractTitle(doc.Filename)
	if !ok {
		stats.Details = append(stats.Details, skipped(doc, "", "no bracketed title"))
		return
	}

	matches, err := r.repo.FindCompletedByTitle(ctx, r.cfg.Category, title)
	if err != nil {
		stats.Errors++
		stats.Details = append(stats.Details, failed(doc, title, fmt.Errorf("find similar documents: %w", err)))
		return
	}
	group := make([]domain.Document, 0, len(matches))
	for _, m := range matches {
		if !handled[m.ID] {
			group = append(group, m)
		}
	}
	if len(group) < 2 {
		stats.Details = append(stats.Details, skipped(doc, title, "no other versions"))
		return
	}
	stats.DuplicatesFound++
	for _, m := range group {
		handled[m.ID] = true
	}
	handled[doc.ID] = true

	previews := make([]domain.Preview, 0, len(group))
	for i := range group {
		member := &group[i]
		text, err := r.previews.Preview(ctx, member, r.cfg.PreviewChars)
		if err != nil {
			stats.Errors++
			stats.Details = append(stats.Details, failed(member, title, fmt.Errorf("fetch preview: %w", err)))
			continue
		}
		previews = append(previews, domain.Preview{Document: member, Text: text})
	}
	if len(previews) < 2 {
		stats.Details = append(stats.Details, skipped(doc, title, "fewer than two previews available"))
		return
	}

	ranking, err := r.ranker.RankVersions(ctx, previews)
	if err != nil {
		stats.Errors++
		stats.Details = append(stats.Details, failed(doc, title, fmt.Errorf("rank versions: %w", err)))
		return
	}
	losers := SupersededDocuments(ranking, previews)
	if len(losers) == 0 {
		r.logger.Info("version_group_kept", "title", title, "reason", "ambiguous ranking")
		stats.Details = append(stats.Details, domain.ReconcileDetail{
			DocumentID: doc.ID,
			Filename:   doc.Filename,
			Title:      title,
			Action:     domain.ActionKept,
			Reason:     "no clear latest version",
		})
		return
	}

	// Every knowledge-base delete of the group must succeed before any ledger
	// row is marked; otherwise the whole group is retried next run.
	removals := make([]domain.Removal, 0, len(losers))
	groupFailed := false
	for _, loser := range losers {
		if _, err := r.publisher.Delete(ctx, loser.PublishedDocID, loser.KnowledgeStoreID); err != nil {
			stats.Errors++
			stats.Details = append(stats.Details, failed(loser, title, err))
			groupFailed = true
			continue
		}
		removals = append(removals, domain.Removal{
			DocumentID: loser.ID,
			Stage:      domain.StageSuperseded,
			Method:     domain.RemovalVersion,
			Reason:     fmt.Sprintf("superseded by %s: %s", ranking.LatestID, ranking.Reasoning),
		})
	}
	if groupFailed {
		return
	}
	if err := r.repo.MarkRemoved(ctx, removals); err != nil {
		stats.Errors++
		stats.Details = append(stats.Details, failed(doc, title, fmt.Errorf("mark superseded: %w", err)))
		return
	}

	for _, loser := range losers {
		stats.Deleted++
		stats.Details = append(stats.Details, domain.ReconcileDetail{
			DocumentID: loser.ID,
			Filename:   loser.Filename,
			Title:      title,
			Action:     domain.ActionDeleted,
			Method:     string(domain.RemovalVersion),
			LatestID:   ranking.LatestID,
			Reason:     ranking.Reasoning,
		})
	}
	r.logger.Info("version_group_reconciled", "title", title, "latest_id", ranking.LatestID, "deleted", len(losers))
}

// SupersededDocuments validates a ranking against the previewed set. It returns
// nothing unless the latest id is one of the previews and at least one other
// previewed document is named as older.
func SupersededDocuments(ranking domain.VersionRanking, previews []domain.Preview) []*domain.Document {
	byID := make(map[string]*domain.Document, len(previews))
	for _, p := range previews {
		byID[p.Document.ID] = p.Document
	}
	latest := strings.TrimSpace(ranking.LatestID)
	if _, ok := byID[latest]; !ok {
		return nil
	}

	seen := map[string]bool{latest: true}
	out := make([]*domain.Document, 0, len(ranking.SupersededIDs))
	for _, raw := range ranking.SupersededIDs {
		id := strings.TrimSpace(raw)
		doc, ok := byID[id]
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, doc)
	}
	return out
}

func HasRevisionKeyword(filename string, keywords []string) bool {
	lower := strings.ToLower(filename)
	for _, kw := range keywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// ExtractTitle returns the text between the first 《 》 pair.
func ExtractTitle(filename string) (string, bool) {
	m := titlePattern.FindStringSubmatch(filename)
	if len(m) < 2 {
		return "", false
	}
	title := strings.TrimSpace(m[1])
	return title, title != ""
}

func normalizeReconcileLimit(limit int) int {
	if limit <= 0 {
		return defaultReconcileLimit
	}
	if limit > maxReconcileLimit {
		return maxReconcileLimit
	}
	return limit
}

func skipped(doc *domain.Document, title, reason string) domain.ReconcileDetail {
	return domain.ReconcileDetail{
		DocumentID: doc.ID,
		Filename:   doc.Filename,
		Title:      title,
		Action:     domain.ActionSkipped,
		Reason:     reason,
	}
}

func failed(doc *domain.Document, title string, err error) domain.ReconcileDetail {
	return domain.ReconcileDetail{
		DocumentID: doc.ID,
		Filename:   doc.Filename,
		Title:      title,
		Action:     domain.ActionError,
		Error:      err.Error(),
	}
}
