package nats

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
)

func TestMessageCarriesHeaderAndEnvelope(t *testing.T) {
	enqueued := time.Date(2025, 1, 14, 9, 30, 0, 0, time.UTC)
	q := &Queue{subject: "documents.pipeline", now: func() time.Time { return enqueued }}

	msg, err := q.message("doc-42")
	if err != nil {
		t.Fatalf("message() error = %v", err)
	}
	if msg.Subject != "documents.pipeline" || msg.Header.Get(headerDocumentID) != "doc-42" {
		t.Fatalf("unexpected message subject=%q header=%v", msg.Subject, msg.Header)
	}
	var env envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		t.Fatalf("envelope is not JSON: %v", err)
	}
	if env.DocumentID != "doc-42" || !env.EnqueuedAt.Equal(enqueued) {
		t.Fatalf("unexpected envelope %+v", env)
	}
}

func TestDecodeDocumentID(t *testing.T) {
	withHeader := nats.NewMsg("documents.pipeline")
	withHeader.Header.Set(headerDocumentID, " doc-1 ")
	withHeader.Data = []byte(`{"document_id":"ignored"}`)

	cases := []struct {
		name string
		msg  *nats.Msg
		want string
	}{
		{"header wins", withHeader, "doc-1"},
		{"envelope", &nats.Msg{Data: []byte(`{"document_id":"doc-2","enqueued_at":"2025-01-14T09:30:00Z"}`)}, "doc-2"},
		{"bare id", &nats.Msg{Data: []byte(" doc-3\n")}, "doc-3"},
		{"broken json", &nats.Msg{Data: []byte(`{"document_id":`)}, ""},
		{"empty", &nats.Msg{}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := decodeDocumentID(tc.msg); got != tc.want {
				t.Fatalf("decodeDocumentID() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestOptionsDefaults(t *testing.T) {
	opts := Options{Concurrency: -3}.withDefaults()
	if opts.Concurrency != 1 || opts.MaxReconnects != 60 || opts.Logger == nil {
		t.Fatalf("unexpected defaults %+v", opts)
	}
	if opts.RetryOnFailedConnect == nil || !*opts.RetryOnFailedConnect {
		t.Fatalf("reconnect on failed connect should default to true")
	}
}
