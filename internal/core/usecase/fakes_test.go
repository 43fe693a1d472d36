package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/kirillkom/doc-curator/internal/core/domain"
	"github.com/kirillkom/doc-curator/internal/core/ports"
)

// memRepo mirrors the guarded-update semantics of the postgres ledger.
type memRepo struct {
	mu      sync.Mutex
	order   []string
	docs    map[string]*domain.Document
	records []domain.ProcessingRecord
	removed []domain.Removal
	claims  map[string]time.Time
	writes  int

	beforeTransition func(doc *domain.Document)
	markErr          error
}

func newMemRepo(docs ...*domain.Document) *memRepo {
	r := &memRepo{docs: map[string]*domain.Document{}, claims: map[string]time.Time{}}
	for _, d := range docs {
		_ = r.Create(context.Background(), d)
	}
	return r
}

func (r *memRepo) Create(_ context.Context, doc *domain.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *doc
	if cp.StageEnteredAt == nil {
		cp.StageEnteredAt = map[domain.Stage]time.Time{}
	}
	r.docs[cp.ID] = &cp
	r.order = append(r.order, cp.ID)
	return nil
}

func (r *memRepo) GetByID(_ context.Context, id string) (*domain.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", fmt.Errorf("id=%s", id))
	}
	cp := *doc
	return &cp, nil
}

func (r *memRepo) ClaimStage(_ context.Context, id string, stage domain.Stage, lease time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes++
	doc, ok := r.docs[id]
	if !ok {
		return domain.WrapError(domain.ErrDocumentNotFound, "claim stage", fmt.Errorf("id=%s", id))
	}
	if doc.Stage != stage {
		return domain.WrapError(domain.ErrStageConflict, "claim stage", fmt.Errorf("expected %s, found %s", stage, doc.Stage))
	}
	now := time.Now()
	if until, held := r.claims[id]; held && until.After(now) {
		return domain.WrapError(domain.ErrStageConflict, "claim stage", fmt.Errorf("%s claimed until %s", stage, until))
	}
	r.claims[id] = now.Add(lease)
	return nil
}

func (r *memRepo) Transition(_ context.Context, tr domain.StageTransition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes++
	doc, ok := r.docs[tr.DocumentID]
	if !ok {
		return domain.WrapError(domain.ErrDocumentNotFound, "transition", fmt.Errorf("id=%s", tr.DocumentID))
	}
	if r.beforeTransition != nil {
		r.beforeTransition(doc)
	}
	if doc.Stage != tr.From {
		return domain.WrapError(domain.ErrStageConflict, "transition", fmt.Errorf("expected %s, found %s", tr.From, doc.Stage))
	}
	delete(r.claims, doc.ID)
	doc.Stage = tr.To
	doc.StageMessage = tr.Message
	doc.Error = tr.Error
	if tr.To == domain.StageFailed {
		doc.ErrorCount++
	}
	if tr.Resolution != domain.ResolutionNone {
		doc.Resolution = tr.Resolution
	}
	if tr.Extraction != nil {
		doc.ExtractedText = tr.Extraction.Body
		doc.FragmentCount = tr.Extraction.FragmentCount
		doc.ExtractedLength = tr.Extraction.TotalLength
	}
	if doc.StageEnteredAt == nil {
		doc.StageEnteredAt = map[domain.Stage]time.Time{}
	}
	doc.StageEnteredAt[tr.To] = tr.Record.CreatedAt
	r.records = append(r.records, tr.Record)
	return nil
}

func (r *memRepo) SaveVerdict(_ context.Context, id string, verdict domain.Verdict, storeID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes++
	doc, ok := r.docs[id]
	if !ok {
		return domain.WrapError(domain.ErrDocumentNotFound, "save verdict", fmt.Errorf("id=%s", id))
	}
	v := verdict
	doc.Verdict = &v
	if doc.KnowledgeStoreID == "" {
		doc.KnowledgeStoreID = storeID
	}
	return nil
}

func (r *memRepo) RecordPublication(_ context.Context, id, publishedDocID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes++
	doc, ok := r.docs[id]
	if !ok {
		return domain.WrapError(domain.ErrDocumentNotFound, "record publication", fmt.Errorf("id=%s", id))
	}
	if doc.PublishedDocID != "" {
		return domain.WrapError(domain.ErrStageConflict, "record publication", fmt.Errorf("already published as %s", doc.PublishedDocID))
	}
	doc.PublishedDocID = publishedDocID
	return nil
}

func (r *memRepo) Reset(_ context.Context, id string, from []domain.Stage, record domain.ProcessingRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes++
	doc, ok := r.docs[id]
	if !ok {
		return domain.WrapError(domain.ErrDocumentNotFound, "reset", fmt.Errorf("id=%s", id))
	}
	allowed := false
	for _, s := range from {
		if doc.Stage == s {
			allowed = true
		}
	}
	if !allowed {
		return domain.WrapError(domain.ErrStageConflict, "reset", fmt.Errorf("stage %s", doc.Stage))
	}
	delete(r.claims, doc.ID)
	doc.Stage = domain.StagePending
	doc.StageMessage = record.Note
	doc.Error = ""
	doc.Resolution = domain.ResolutionNone
	doc.ExtractedText = ""
	doc.FragmentCount = 0
	doc.ExtractedLength = 0
	if doc.PublishedDocID == "" {
		doc.Verdict = nil
		doc.KnowledgeStoreID = ""
	}
	r.records = append(r.records, record)
	return nil
}

func (r *memRepo) ListByStage(_ context.Context, stage domain.Stage, limit int) ([]domain.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Document, 0)
	for _, id := range r.order {
		if d := r.docs[id]; d.Stage == stage && len(out) < limit {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (r *memRepo) ListRecords(_ context.Context, documentID string) ([]domain.ProcessingRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.ProcessingRecord, 0)
	for _, rec := range r.records {
		if rec.DocumentID == documentID {
			out = append(out, rec)
		}
	}
	return out, nil
}

// ListCompleted returns newest first, like the ledger.
func (r *memRepo) ListCompleted(_ context.Context, filter ports.CompletedFilter) ([]domain.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Document, 0)
	for i := len(r.order) - 1; i >= 0; i-- {
		d := r.docs[r.order[i]]
		if d.Stage != domain.StageCompleted || d.PublishedDocID == "" {
			continue
		}
		if filter.Category != "" && d.Category != filter.Category {
			continue
		}
		if filter.ExcludeCategory != "" && d.Category == filter.ExcludeCategory {
			continue
		}
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
		out = append(out, *d)
	}
	return out, nil
}

func (r *memRepo) FindCompletedByTitle(_ context.Context, category domain.Category, title string) ([]domain.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Document, 0)
	for _, id := range r.order {
		d := r.docs[id]
		if d.Stage == domain.StageCompleted && d.PublishedDocID != "" && d.Category == category && strings.Contains(d.Filename, title) {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (r *memRepo) MarkRemoved(_ context.Context, removals []domain.Removal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes++
	if r.markErr != nil {
		return r.markErr
	}
	for _, rm := range removals {
		if d, ok := r.docs[rm.DocumentID]; !ok || d.Stage != domain.StageCompleted {
			return domain.WrapError(domain.ErrStageConflict, "mark removed", fmt.Errorf("id=%s", rm.DocumentID))
		}
	}
	for _, rm := range removals {
		d := r.docs[rm.DocumentID]
		d.Stage = rm.Stage
		d.RemovalMethod = rm.Method
		d.RemovalReason = rm.Reason
		r.removed = append(r.removed, rm)
	}
	return nil
}

func (r *memRepo) writeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writes
}

func (r *memRepo) doc(id string) domain.Document {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.docs[id]
}

type routesFake struct {
	routing     *domain.CategoryRouting
	stores      map[string]*domain.KnowledgeStore
	adjustments map[string]int
}

func newRoutesFake(stores ...domain.KnowledgeStore) *routesFake {
	f := &routesFake{stores: map[string]*domain.KnowledgeStore{}, adjustments: map[string]int{}}
	for i := range stores {
		s := stores[i]
		f.stores[s.ID] = &s
	}
	return f
}

func (f *routesFake) GetActiveRouting(_ context.Context, category domain.Category) (*domain.CategoryRouting, error) {
	if f.routing == nil || f.routing.Category != category {
		return nil, domain.WrapError(domain.ErrRoutingNotFound, "get routing", fmt.Errorf("category=%s", category))
	}
	cp := *f.routing
	return &cp, nil
}

func (f *routesFake) UpsertRouting(_ context.Context, routing domain.CategoryRouting) error {
	f.routing = &routing
	return nil
}

func (f *routesFake) GetKnowledgeStore(_ context.Context, id string) (*domain.KnowledgeStore, error) {
	s, ok := f.stores[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "get knowledge store", fmt.Errorf("id=%s", id))
	}
	cp := *s
	return &cp, nil
}

func (f *routesFake) UpsertKnowledgeStore(_ context.Context, store domain.KnowledgeStore) error {
	f.stores[store.ID] = &store
	return nil
}

func (f *routesFake) AdjustDocumentCount(_ context.Context, storeID string, delta int) error {
	f.adjustments[storeID] += delta
	return nil
}

type sourceFake struct {
	data  []byte
	err   error
	calls int
}

func (f *sourceFake) Get(context.Context, string) ([]byte, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.data, nil
}

type artifactsFake struct {
	mu    sync.Mutex
	items map[string][]byte
}

func newArtifactsFake() *artifactsFake {
	return &artifactsFake{items: map[string][]byte{}}
}

func (f *artifactsFake) Save(_ context.Context, key string, data io.Reader) error {
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[key] = raw
	return nil
}

func (f *artifactsFake) Open(_ context.Context, key string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, ok := f.items[key]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "open artifact", fmt.Errorf("key=%s", key))
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

func (f *artifactsFake) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.items, key)
	return nil
}

type decrypterFake struct {
	plain []byte
	err   error
}

func (f *decrypterFake) Decrypt([]byte, string) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.plain, nil
}

type extractorFake struct {
	text    domain.ExtractedText
	err     error
	lastReq ports.ExtractionRequest
}

func (f *extractorFake) Extract(_ context.Context, req ports.ExtractionRequest) (domain.ExtractedText, error) {
	f.lastReq = req
	if f.err != nil {
		return domain.ExtractedText{}, f.err
	}
	return f.text, nil
}

type deciderFake struct {
	decision domain.Decision
	err      error
	calls    int

	// entered and release, when set, hold Decide open until the test lets go.
	entered chan struct{}
	release chan struct{}
}

func (f *deciderFake) Decide(context.Context, *domain.Document, string) (domain.Decision, error) {
	f.calls++
	if f.entered != nil {
		f.entered <- struct{}{}
		<-f.release
	}
	if f.err != nil {
		return domain.Decision{}, f.err
	}
	return f.decision, nil
}

// publisherFake records publications on the repo the way the real publisher does.
type publisherFake struct {
	repo       *memRepo
	externalID string
	publishErr error
	deleteErr  map[string]error
	// gone lists entries the knowledge base no longer has.
	gone      map[string]bool
	published []string
	deleted   []string
}

func (f *publisherFake) Publish(ctx context.Context, doc *domain.Document, _ string, storeID string) (string, error) {
	if f.publishErr != nil {
		return "", f.publishErr
	}
	f.published = append(f.published, doc.ID+"@"+storeID)
	if f.repo != nil {
		if err := f.repo.RecordPublication(ctx, doc.ID, f.externalID); err != nil {
			return "", err
		}
	}
	return f.externalID, nil
}

func (f *publisherFake) Delete(_ context.Context, externalID, _ string) (bool, error) {
	if err := f.deleteErr[externalID]; err != nil {
		return false, err
	}
	f.deleted = append(f.deleted, externalID)
	return !f.gone[externalID], nil
}

type queueFake struct {
	published []string
	err       error
}

func (f *queueFake) PublishDocument(_ context.Context, documentID string) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, documentID)
	return nil
}

func (f *queueFake) SubscribeDocuments(context.Context, func(context.Context, string) error) error {
	return errors.New("not used")
}

// llmFake answers with scripted replies in order and keeps every request.
type llmFake struct {
	replies  []string
	err      error
	requests []ports.CompletionRequest
}

func (f *llmFake) Complete(_ context.Context, req ports.CompletionRequest) (ports.Completion, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return ports.Completion{}, f.err
	}
	if len(f.replies) == 0 {
		return ports.Completion{}, errors.New("no scripted reply")
	}
	reply := f.replies[0]
	f.replies = f.replies[1:]
	return ports.Completion{Text: reply, Model: "test-model"}, nil
}

type previewFake struct {
	texts map[string]string
	err   map[string]error
	calls int
}

func (f *previewFake) Preview(_ context.Context, doc *domain.Document, _ int) (string, error) {
	f.calls++
	if err := f.err[doc.ID]; err != nil {
		return "", err
	}
	return f.texts[doc.ID], nil
}
