package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/kirillkom/doc-curator/internal/core/domain"
)

type kbFake struct {
	mu         sync.Mutex
	createdIn  []string
	externalID string
	createErr  error
	deleted    []string
	deleteOK   bool
	deleteErr  error

	// onCreate runs before CreateByText answers.
	onCreate func()
}

func (f *kbFake) CreateByText(_ context.Context, datasetID, _, _ string) (string, error) {
	if f.onCreate != nil {
		f.onCreate()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createdIn = append(f.createdIn, datasetID)
	return f.externalID, f.createErr
}

func (f *kbFake) DeleteDocument(_ context.Context, datasetID, documentID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, datasetID+"/"+documentID)
	return f.deleteOK, f.deleteErr
}

func publisherStores() *routesFake {
	return newRoutesFake(
		domain.KnowledgeStore{ID: "general", DatasetID: "ds-general", Active: true},
		domain.KnowledgeStore{ID: "policies", DatasetID: "ds-policies", Active: true},
		domain.KnowledgeStore{ID: "archive", DatasetID: "ds-archive", Active: false},
	)
}

func TestPublisherPublishRecordsPublication(t *testing.T) {
	doc := branchDocument()
	repo := newMemRepo(doc)
	routes := publisherStores()
	kb := &kbFake{externalID: "dify-1"}
	p := NewPublisher(kb, routes, repo, "general", nil)

	id, err := p.Publish(context.Background(), doc, "正文", "policies")
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if id != "dify-1" || len(kb.createdIn) != 1 || kb.createdIn[0] != "ds-policies" {
		t.Fatalf("unexpected publish id=%q datasets=%v", id, kb.createdIn)
	}
	if repo.doc("doc-1").PublishedDocID != "dify-1" {
		t.Fatalf("publication not recorded")
	}
	if routes.adjustments["policies"] != 1 {
		t.Fatalf("document count not incremented: %v", routes.adjustments)
	}

	other := branchDocument()
	other.ID = "doc-2"
	if err := repo.Create(context.Background(), other); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := p.Publish(context.Background(), other, "正文", ""); err != nil {
		t.Fatalf("Publish() to default store error = %v", err)
	}
	if kb.createdIn[1] != "ds-general" {
		t.Fatalf("expected default store dataset, got %v", kb.createdIn)
	}
}

func TestPublisherPublishFailures(t *testing.T) {
	cases := []struct {
		name    string
		storeID string
		kb      *kbFake
	}{
		{"inactive store", "archive", &kbFake{externalID: "x"}},
		{"unknown store", "missing", &kbFake{externalID: "x"}},
		{"service error", "policies", &kbFake{createErr: errors.New("400 bad request")}},
		{"empty id", "policies", &kbFake{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			doc := branchDocument()
			repo := newMemRepo(doc)
			p := NewPublisher(tc.kb, publisherStores(), repo, "general", nil)

			_, err := p.Publish(context.Background(), doc, "正文", tc.storeID)
			if !domain.IsKind(err, domain.ErrPublishFailed) {
				t.Fatalf("expected publish failure, got %v", err)
			}
			if repo.doc("doc-1").PublishedDocID != "" {
				t.Fatalf("failed publish must not record an id")
			}
		})
	}
}

func TestPublisherDiscardsEntryWhenAnotherRunRecordedFirst(t *testing.T) {
	doc := branchDocument()
	repo := newMemRepo(doc)
	routes := publisherStores()
	kb := &kbFake{externalID: "dify-2", deleteOK: true}
	kb.onCreate = func() {
		_ = repo.RecordPublication(context.Background(), "doc-1", "dify-1")
	}
	p := NewPublisher(kb, routes, repo, "general", nil)

	_, err := p.Publish(context.Background(), doc, "正文", "policies")
	if !domain.IsKind(err, domain.ErrStageConflict) {
		t.Fatalf("expected stage conflict, got %v", err)
	}
	if domain.IsKind(err, domain.ErrPublishFailed) {
		t.Fatalf("a lost race is not a publish failure: %v", err)
	}
	if len(kb.deleted) != 1 || kb.deleted[0] != "ds-policies/dify-2" {
		t.Fatalf("duplicate entry not deleted: %v", kb.deleted)
	}
	if got := repo.doc("doc-1").PublishedDocID; got != "dify-1" {
		t.Fatalf("recorded publication overwritten with %q", got)
	}
	if routes.adjustments["policies"] != 0 {
		t.Fatalf("document count must not change, got %v", routes.adjustments)
	}
}

func TestPublisherDelete(t *testing.T) {
	routes := publisherStores()
	kb := &kbFake{deleteOK: true}
	p := NewPublisher(kb, routes, newMemRepo(), "general", nil)

	deleted, err := p.Delete(context.Background(), "dify-1", "policies")
	if err != nil || !deleted {
		t.Fatalf("Delete() = %v, %v", deleted, err)
	}
	if kb.deleted[0] != "ds-policies/dify-1" || routes.adjustments["policies"] != -1 {
		t.Fatalf("unexpected delete %v adjustments %v", kb.deleted, routes.adjustments)
	}

	kb.deleteOK = false
	deleted, err = p.Delete(context.Background(), "dify-2", "policies")
	if err != nil || deleted {
		t.Fatalf("missing entry should report false without error, got %v, %v", deleted, err)
	}
	if routes.adjustments["policies"] != -1 {
		t.Fatalf("count must not change for a missing entry")
	}

	deleted, err = p.Delete(context.Background(), "", "policies")
	if err != nil || deleted || len(kb.deleted) != 2 {
		t.Fatalf("empty external id must be a no-op")
	}

	kb.deleteErr = errors.New("403 forbidden")
	if _, err := p.Delete(context.Background(), "dify-3", "policies"); !domain.IsKind(err, domain.ErrDeleteFailed) {
		t.Fatalf("expected delete failure, got %v", err)
	}
}
