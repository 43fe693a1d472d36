package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kirillkom/doc-curator/internal/core/domain"
)

type RoutingRepository struct {
	db *sql.DB
}

func NewRoutingRepository(db *sql.DB) *RoutingRepository {
	return &RoutingRepository{db: db}
}

func (r *RoutingRepository) GetActiveRouting(ctx context.Context, category domain.Category) (*domain.CategoryRouting, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, category, knowledge_store_id, prompt_template, output_schema, min_confidence, auto_approve_confidence, active, updated_at
FROM category_routings
WHERE category = $1 AND active
ORDER BY updated_at DESC
LIMIT 1
`, string(category))

	var (
		routing   domain.CategoryRouting
		cat       string
		schemaRaw []byte
	)
	err := row.Scan(
		&routing.ID,
		&cat,
		&routing.KnowledgeStoreID,
		&routing.PromptTemplate,
		&schemaRaw,
		&routing.MinConfidence,
		&routing.AutoApprove,
		&routing.Active,
		&routing.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrRoutingNotFound, "get routing", fmt.Errorf("category=%s", category))
		}
		return nil, fmt.Errorf("scan routing: %w", err)
	}
	routing.Category = domain.Category(cat)
	if len(schemaRaw) > 0 && string(schemaRaw) != "null" {
		routing.OutputSchema = schemaRaw
	}
	return &routing, nil
}

// UpsertRouting writes a routing. Activating a routing deactivates any other
// active routing of the same category in the same transaction.
func (r *RoutingRepository) UpsertRouting(ctx context.Context, routing domain.CategoryRouting) error {
	if routing.ID == "" {
		return domain.WrapError(domain.ErrInvalidInput, "upsert routing", errors.New("routing id is required"))
	}
	if routing.UpdatedAt.IsZero() {
		routing.UpdatedAt = time.Now().UTC()
	}
	var schema any
	if len(routing.OutputSchema) > 0 {
		schema = []byte(routing.OutputSchema)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin routing tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if routing.Active {
		if _, err := tx.ExecContext(ctx, `
UPDATE category_routings SET active = FALSE, updated_at = $3
WHERE category = $1 AND id <> $2 AND active
`, string(routing.Category), routing.ID, routing.UpdatedAt); err != nil {
			return fmt.Errorf("deactivate routings: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO category_routings (
	id, category, knowledge_store_id, prompt_template, output_schema, min_confidence, auto_approve_confidence, active, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (id) DO UPDATE SET
	category = EXCLUDED.category,
	knowledge_store_id = EXCLUDED.knowledge_store_id,
	prompt_template = EXCLUDED.prompt_template,
	output_schema = EXCLUDED.output_schema,
	min_confidence = EXCLUDED.min_confidence,
	auto_approve_confidence = EXCLUDED.auto_approve_confidence,
	active = EXCLUDED.active,
	updated_at = EXCLUDED.updated_at
`, routing.ID, string(routing.Category), routing.KnowledgeStoreID, routing.PromptTemplate, schema,
		routing.MinConfidence, routing.AutoApprove, routing.Active, routing.UpdatedAt); err != nil {
		return fmt.Errorf("upsert routing: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit routing tx: %w", err)
	}
	return nil
}

func (r *RoutingRepository) GetKnowledgeStore(ctx context.Context, id string) (*domain.KnowledgeStore, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, name, dataset_id, active, document_count, created_at
FROM knowledge_stores
WHERE id = $1
`, id)

	var store domain.KnowledgeStore
	err := row.Scan(&store.ID, &store.Name, &store.DatasetID, &store.Active, &store.DocumentCount, &store.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "get knowledge store", fmt.Errorf("id=%s", id))
		}
		return nil, fmt.Errorf("scan knowledge store: %w", err)
	}
	return &store, nil
}

// UpsertKnowledgeStore never touches document_count.
func (r *RoutingRepository) UpsertKnowledgeStore(ctx context.Context, store domain.KnowledgeStore) error {
	if store.ID == "" {
		return domain.WrapError(domain.ErrInvalidInput, "upsert knowledge store", errors.New("store id is required"))
	}
	if store.CreatedAt.IsZero() {
		store.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO knowledge_stores (id, name, dataset_id, active, created_at)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (id) DO UPDATE SET
	name = EXCLUDED.name,
	dataset_id = EXCLUDED.dataset_id,
	active = EXCLUDED.active
`, store.ID, store.Name, store.DatasetID, store.Active, store.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert knowledge store: %w", err)
	}
	return nil
}

func (r *RoutingRepository) AdjustDocumentCount(ctx context.Context, storeID string, delta int) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE knowledge_stores
SET document_count = GREATEST(document_count + $2, 0)
WHERE id = $1
`, storeID, delta)
	if err != nil {
		return fmt.Errorf("adjust document count: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("adjust document count rows affected: %w", err)
	}
	if rows == 0 {
		return domain.WrapError(domain.ErrNotFound, "adjust document count", fmt.Errorf("store=%s", storeID))
	}
	return nil
}
