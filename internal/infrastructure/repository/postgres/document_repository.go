package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/doc-curator/internal/core/domain"
	"github.com/kirillkom/doc-curator/internal/core/ports"
)

const documentColumns = `id, filename, file_type, category, stage, storage_locator, decryption_code, is_archive,
	extracted_text, fragment_count, extracted_length, verdict, knowledge_store_id, published_doc_id, resolution,
	stage_message, error_message, error_count, removal_reason, removal_method, stage_entered_at, created_at, updated_at`

type DocumentRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewDocumentRepository(db *sql.DB) *DocumentRepository {
	return &DocumentRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *DocumentRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker/reconciler startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026101901)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS knowledge_stores (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	dataset_id TEXT NOT NULL,
	active BOOLEAN NOT NULL DEFAULT TRUE,
	document_count INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS category_routings (
	id TEXT PRIMARY KEY,
	category TEXT NOT NULL,
	knowledge_store_id TEXT NOT NULL REFERENCES knowledge_stores(id),
	prompt_template TEXT NOT NULL DEFAULT '',
	output_schema JSONB,
	min_confidence INTEGER NOT NULL,
	auto_approve_confidence INTEGER NOT NULL,
	active BOOLEAN NOT NULL DEFAULT TRUE,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_category_routings_active ON category_routings(category) WHERE active;

CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	filename TEXT NOT NULL,
	file_type TEXT NOT NULL DEFAULT '',
	category TEXT NOT NULL,
	stage TEXT NOT NULL,
	storage_locator TEXT NOT NULL,
	decryption_code TEXT NOT NULL DEFAULT '',
	is_archive BOOLEAN NOT NULL DEFAULT FALSE,
	extracted_text TEXT NOT NULL DEFAULT '',
	fragment_count INTEGER NOT NULL DEFAULT 0,
	extracted_length INTEGER NOT NULL DEFAULT 0,
	verdict JSONB,
	knowledge_store_id TEXT NOT NULL DEFAULT '',
	published_doc_id TEXT NOT NULL DEFAULT '',
	resolution TEXT NOT NULL DEFAULT '',
	stage_message TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	error_count INTEGER NOT NULL DEFAULT 0,
	removal_reason TEXT NOT NULL DEFAULT '',
	removal_method TEXT NOT NULL DEFAULT '',
	stage_entered_at JSONB NOT NULL DEFAULT '{}'::jsonb,
	claimed_until TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

ALTER TABLE documents ADD COLUMN IF NOT EXISTS claimed_until TIMESTAMPTZ;

CREATE INDEX IF NOT EXISTS idx_documents_stage_created ON documents(stage, created_at);
CREATE INDEX IF NOT EXISTS idx_documents_category_stage ON documents(category, stage);

CREATE TABLE IF NOT EXISTS processing_records (
	id TEXT PRIMARY KEY,
	document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	stage TEXT NOT NULL,
	outcome TEXT NOT NULL,
	duration_ms DOUBLE PRECISION NOT NULL DEFAULT 0,
	error_message TEXT NOT NULL DEFAULT '',
	note TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_processing_records_document ON processing_records(document_id, created_at);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *DocumentRepository) Create(ctx context.Context, doc *domain.Document) error {
	now := r.now()
	if doc.Stage == "" {
		doc.Stage = domain.StagePending
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now
	if doc.StageEnteredAt == nil {
		doc.StageEnteredAt = map[domain.Stage]time.Time{doc.Stage: now}
	}
	enteredJSON, err := json.Marshal(doc.StageEnteredAt)
	if err != nil {
		return fmt.Errorf("marshal stage timestamps: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO documents (
	id, filename, file_type, category, stage, storage_locator, decryption_code, is_archive, stage_entered_at, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
`,
		doc.ID, doc.Filename, doc.FileType, string(doc.Category), string(doc.Stage), doc.StorageLocator,
		doc.DecryptionCode, doc.IsArchive, enteredJSON, doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+documentColumns+`
FROM documents
WHERE id = $1
`, id)

	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", fmt.Errorf("id=%s", id))
		}
		return nil, fmt.Errorf("scan document: %w", err)
	}
	return &doc, nil
}

// ClaimStage takes the stage lease when the row is still at stage and no
// other run holds an unexpired lease on it.
func (r *DocumentRepository) ClaimStage(ctx context.Context, id string, stage domain.Stage, lease time.Duration) error {
	now := r.now()
	result, err := r.db.ExecContext(ctx, `
UPDATE documents
SET claimed_until = $3, updated_at = $4
WHERE id = $1 AND stage = $2 AND (claimed_until IS NULL OR claimed_until <= $4)
`, id, string(stage), now.Add(lease), now)
	if err != nil {
		return fmt.Errorf("claim stage: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("claim stage rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}

	var (
		current string
		until   sql.NullTime
	)
	err = r.db.QueryRowContext(ctx, `SELECT stage, claimed_until FROM documents WHERE id = $1`, id).Scan(&current, &until)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.WrapError(domain.ErrDocumentNotFound, "claim stage", fmt.Errorf("id=%s", id))
	}
	if err != nil {
		return fmt.Errorf("read stage claim: %w", err)
	}
	if current != string(stage) {
		return domain.WrapError(domain.ErrStageConflict, "claim stage",
			fmt.Errorf("document %s is %s, expected %s", id, current, stage))
	}
	return domain.WrapError(domain.ErrStageConflict, "claim stage",
		fmt.Errorf("document %s %s is claimed until %s", id, stage, until.Time.Format(time.RFC3339)))
}

// Transition moves the stage only when the row is still at tr.From and
// inserts the stage record in the same transaction.
func (r *DocumentRepository) Transition(ctx context.Context, tr domain.StageTransition) error {
	now := r.now()
	enteredJSON, err := json.Marshal(map[domain.Stage]time.Time{tr.To: now})
	if err != nil {
		return fmt.Errorf("marshal stage timestamp: %w", err)
	}

	var (
		text     sql.NullString
		frags    sql.NullInt64
		textLen  sql.NullInt64
		failures int
	)
	if tr.Extraction != nil {
		text = sql.NullString{String: tr.Extraction.Body, Valid: true}
		frags = sql.NullInt64{Int64: int64(tr.Extraction.FragmentCount), Valid: true}
		textLen = sql.NullInt64{Int64: int64(tr.Extraction.TotalLength), Valid: true}
	}
	if tr.To == domain.StageFailed {
		failures = 1
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transition tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	result, err := tx.ExecContext(ctx, `
UPDATE documents
SET stage = $3,
	stage_message = $4,
	error_message = $5,
	error_count = error_count + $6,
	resolution = CASE WHEN $7 <> '' THEN $7 ELSE resolution END,
	extracted_text = COALESCE($8, extracted_text),
	fragment_count = COALESCE($9, fragment_count),
	extracted_length = COALESCE($10, extracted_length),
	stage_entered_at = stage_entered_at || $11::jsonb,
	claimed_until = NULL,
	updated_at = $12
WHERE id = $1 AND stage = $2
`, tr.DocumentID, string(tr.From), string(tr.To), tr.Message, tr.Error, failures, string(tr.Resolution),
		text, frags, textLen, enteredJSON, now)
	if err != nil {
		return fmt.Errorf("update document stage: %w", err)
	}
	if err := r.expectOneRow(ctx, tx, result, tr.DocumentID, tr.From); err != nil {
		return err
	}

	if err := insertRecord(ctx, tx, tr.Record); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transition tx: %w", err)
	}
	return nil
}

// SaveVerdict stores the verdict. The knowledge store is resolved at most
// once, so an already assigned store is kept.
func (r *DocumentRepository) SaveVerdict(ctx context.Context, id string, verdict domain.Verdict, knowledgeStoreID string) error {
	verdictJSON, err := json.Marshal(verdict)
	if err != nil {
		return fmt.Errorf("marshal verdict: %w", err)
	}
	result, err := r.db.ExecContext(ctx, `
UPDATE documents
SET verdict = $2,
	knowledge_store_id = CASE WHEN knowledge_store_id = '' THEN $3 ELSE knowledge_store_id END,
	updated_at = $4
WHERE id = $1
`, id, verdictJSON, knowledgeStoreID, r.now())
	if err != nil {
		return fmt.Errorf("save verdict: %w", err)
	}
	return requireAffected(result, "save verdict", id)
}

// RecordPublication never overwrites an existing publication id, so a
// second entry created by a concurrent run is reported instead of orphaned.
func (r *DocumentRepository) RecordPublication(ctx context.Context, id, publishedDocID string) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE documents
SET published_doc_id = $2, updated_at = $3
WHERE id = $1 AND published_doc_id = ''
`, id, publishedDocID, r.now())
	if err != nil {
		return fmt.Errorf("record publication: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("record publication rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}

	var current string
	err = r.db.QueryRowContext(ctx, `SELECT published_doc_id FROM documents WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.WrapError(domain.ErrDocumentNotFound, "record publication", fmt.Errorf("id=%s", id))
	}
	if err != nil {
		return fmt.Errorf("read publication: %w", err)
	}
	return domain.WrapError(domain.ErrStageConflict, "record publication",
		fmt.Errorf("document %s is already published as %s", id, current))
}

// Reset moves a document back to pending. A document that already has a
// knowledge-base entry keeps its verdict, store and publication id so the
// entry is never orphaned.
func (r *DocumentRepository) Reset(ctx context.Context, id string, from []domain.Stage, record domain.ProcessingRecord) error {
	if len(from) == 0 {
		return domain.WrapError(domain.ErrInvalidInput, "reset document", errors.New("no source stages"))
	}
	now := r.now()
	enteredJSON, err := json.Marshal(map[domain.Stage]time.Time{domain.StagePending: now})
	if err != nil {
		return fmt.Errorf("marshal stage timestamp: %w", err)
	}

	args := []any{id, record.Note, enteredJSON, now}
	placeholders := make([]string, 0, len(from))
	for _, stage := range from {
		args = append(args, string(stage))
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reset tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	result, err := tx.ExecContext(ctx, `
UPDATE documents
SET stage = 'pending',
	stage_message = $2,
	error_message = '',
	resolution = '',
	extracted_text = '',
	fragment_count = 0,
	extracted_length = 0,
	verdict = CASE WHEN published_doc_id <> '' THEN verdict ELSE NULL END,
	knowledge_store_id = CASE WHEN published_doc_id <> '' THEN knowledge_store_id ELSE '' END,
	stage_entered_at = stage_entered_at || $3::jsonb,
	claimed_until = NULL,
	updated_at = $4
WHERE id = $1 AND stage IN (`+strings.Join(placeholders, ", ")+`)
`, args...)
	if err != nil {
		return fmt.Errorf("reset document: %w", err)
	}
	if err := r.expectOneRow(ctx, tx, result, id, from...); err != nil {
		return err
	}
	if err := insertRecord(ctx, tx, record); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reset tx: %w", err)
	}
	return nil
}

func (r *DocumentRepository) ListByStage(ctx context.Context, stage domain.Stage, limit int) ([]domain.Document, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+documentColumns+`
FROM documents
WHERE stage = $1
ORDER BY created_at ASC
LIMIT $2
`, string(stage), limit)
	if err != nil {
		return nil, fmt.Errorf("list documents by stage: %w", err)
	}
	return collectDocuments(rows)
}

func (r *DocumentRepository) ListRecords(ctx context.Context, documentID string) ([]domain.ProcessingRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, document_id, stage, outcome, duration_ms, error_message, note, created_at
FROM processing_records
WHERE document_id = $1
ORDER BY created_at ASC, id ASC
`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list processing records: %w", err)
	}
	defer rows.Close()

	out := make([]domain.ProcessingRecord, 0)
	for rows.Next() {
		var (
			rec        domain.ProcessingRecord
			stage      string
			outcome    string
			durationMs float64
		)
		if err := rows.Scan(&rec.ID, &rec.DocumentID, &stage, &outcome, &durationMs, &rec.Error, &rec.Note, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan processing record: %w", err)
		}
		rec.Stage = domain.Stage(stage)
		rec.Outcome = domain.Outcome(outcome)
		rec.Duration = time.Duration(durationMs * float64(time.Millisecond))
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate processing records: %w", err)
	}
	return out, nil
}

// ListCompleted returns published, completed documents, newest first.
func (r *DocumentRepository) ListCompleted(ctx context.Context, filter ports.CompletedFilter) ([]domain.Document, error) {
	query := `SELECT ` + documentColumns + `
FROM documents
WHERE stage = 'completed' AND published_doc_id <> ''
`
	args := make([]any, 0, 3)
	if filter.Category != "" {
		args = append(args, string(filter.Category))
		query += fmt.Sprintf("AND category = $%d\n", len(args))
	}
	if filter.ExcludeCategory != "" {
		args = append(args, string(filter.ExcludeCategory))
		query += fmt.Sprintf("AND category <> $%d\n", len(args))
	}
	query += "ORDER BY created_at DESC\n"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf("LIMIT $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list completed documents: %w", err)
	}
	return collectDocuments(rows)
}

// FindCompletedByTitle matches published, completed documents whose filename
// contains the title.
func (r *DocumentRepository) FindCompletedByTitle(ctx context.Context, category domain.Category, title string) ([]domain.Document, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+documentColumns+`
FROM documents
WHERE stage = 'completed' AND published_doc_id <> '' AND category = $1 AND filename LIKE $2 ESCAPE '\'
ORDER BY created_at ASC
`, string(category), "%"+escapeLike(title)+"%")
	if err != nil {
		return nil, fmt.Errorf("find documents by title: %w", err)
	}
	return collectDocuments(rows)
}

// MarkRemoved commits all removals in one transaction. Every document must
// still be completed, otherwise nothing is applied.
func (r *DocumentRepository) MarkRemoved(ctx context.Context, removals []domain.Removal) error {
	if len(removals) == 0 {
		return nil
	}
	now := r.now()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin removal tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, rm := range removals {
		if rm.Stage != domain.StageSuperseded && rm.Stage != domain.StageExpired {
			return domain.WrapError(domain.ErrInvalidTransition, "mark removed", fmt.Errorf("stage %s is not a removal marker", rm.Stage))
		}
		enteredJSON, err := json.Marshal(map[domain.Stage]time.Time{rm.Stage: now})
		if err != nil {
			return fmt.Errorf("marshal stage timestamp: %w", err)
		}
		result, err := tx.ExecContext(ctx, `
UPDATE documents
SET stage = $2,
	removal_method = $3,
	removal_reason = $4,
	stage_message = $4,
	stage_entered_at = stage_entered_at || $5::jsonb,
	updated_at = $6
WHERE id = $1 AND stage = 'completed'
`, rm.DocumentID, string(rm.Stage), string(rm.Method), rm.Reason, enteredJSON, now)
		if err != nil {
			return fmt.Errorf("mark document removed: %w", err)
		}
		if err := r.expectOneRow(ctx, tx, result, rm.DocumentID, domain.StageCompleted); err != nil {
			return err
		}
		if err := insertRecord(ctx, tx, domain.ProcessingRecord{
			ID:         uuid.NewString(),
			DocumentID: rm.DocumentID,
			Stage:      rm.Stage,
			Outcome:    domain.OutcomeSuccess,
			Note:       string(rm.Method) + ": " + rm.Reason,
			CreatedAt:  now,
		}); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit removal tx: %w", err)
	}
	return nil
}

// expectOneRow distinguishes a missing document from a stage mismatch when
// a guarded update touched nothing.
func (r *DocumentRepository) expectOneRow(ctx context.Context, tx *sql.Tx, result sql.Result, id string, expected ...domain.Stage) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}

	var current string
	err = tx.QueryRowContext(ctx, `SELECT stage FROM documents WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.WrapError(domain.ErrDocumentNotFound, "guarded update", fmt.Errorf("id=%s", id))
	}
	if err != nil {
		return fmt.Errorf("read current stage: %w", err)
	}
	return domain.WrapError(domain.ErrStageConflict, "guarded update",
		fmt.Errorf("document %s is %s, expected %v", id, current, expected))
}

func insertRecord(ctx context.Context, tx *sql.Tx, rec domain.ProcessingRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	_, err := tx.ExecContext(ctx, `
INSERT INTO processing_records (id, document_id, stage, outcome, duration_ms, error_message, note, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
`, rec.ID, rec.DocumentID, string(rec.Stage), string(rec.Outcome),
		float64(rec.Duration.Microseconds())/1000.0, rec.Error, rec.Note, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert processing record: %w", err)
	}
	return nil
}

func requireAffected(result sql.Result, op, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if rows == 0 {
		return domain.WrapError(domain.ErrDocumentNotFound, op, fmt.Errorf("id=%s", id))
	}
	return nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

type documentScanner interface {
	Scan(dest ...interface{}) error
}

func collectDocuments(rows *sql.Rows) ([]domain.Document, error) {
	defer rows.Close()
	out := make([]domain.Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return out, nil
}

func scanDocument(row documentScanner) (domain.Document, error) {
	var (
		doc        domain.Document
		category   string
		stage      string
		resolution string
		method     string
		verdictRaw []byte
		enteredRaw []byte
	)
	err := row.Scan(
		&doc.ID,
		&doc.Filename,
		&doc.FileType,
		&category,
		&stage,
		&doc.StorageLocator,
		&doc.DecryptionCode,
		&doc.IsArchive,
		&doc.ExtractedText,
		&doc.FragmentCount,
		&doc.ExtractedLength,
		&verdictRaw,
		&doc.KnowledgeStoreID,
		&doc.PublishedDocID,
		&resolution,
		&doc.StageMessage,
		&doc.Error,
		&doc.ErrorCount,
		&doc.RemovalReason,
		&method,
		&enteredRaw,
		&doc.CreatedAt,
		&doc.UpdatedAt,
	)
	if err != nil {
		return domain.Document{}, err
	}
	doc.Category = domain.Category(category)
	doc.Stage = domain.Stage(stage)
	doc.Resolution = domain.Resolution(resolution)
	doc.RemovalMethod = domain.RemovalMethod(method)

	if len(verdictRaw) > 0 && string(verdictRaw) != "null" {
		var v domain.Verdict
		if err := json.Unmarshal(verdictRaw, &v); err != nil {
			return domain.Document{}, fmt.Errorf("unmarshal verdict: %w", err)
		}
		doc.Verdict = &v
	}
	if len(enteredRaw) > 0 {
		if err := json.Unmarshal(enteredRaw, &doc.StageEnteredAt); err != nil {
			return domain.Document{}, fmt.Errorf("unmarshal stage timestamps: %w", err)
		}
	}
	return doc, nil
}
