package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kirillkom/doc-curator/internal/core/domain"
	"github.com/kirillkom/doc-curator/internal/infrastructure/resilience"
	"github.com/nats-io/nats.go"
)

const (
	workerQueueGroup = "curator-workers"
	headerDocumentID = "Curator-Document-Id"
)

// envelope is the message body. Workers also accept a bare document id so
// ids pushed with the nats CLI still run.
type envelope struct {
	DocumentID string    `json:"document_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Queue carries document ids from the API and the pipeline to workers in the
// same queue group.
type Queue struct {
	conn     *nats.Conn
	subject  string
	opts     Options
	executor *resilience.Executor
	logger   *slog.Logger
	now      func() time.Time
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	// Concurrency is the number of documents a worker handles at once.
	Concurrency        int
	DrainTimeout       time.Duration
	ResilienceExecutor *resilience.Executor
	Logger             *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 2 * time.Second
	}
	if o.ReconnectWait <= 0 {
		o.ReconnectWait = 2 * time.Second
	}
	if o.MaxReconnects <= 0 {
		o.MaxReconnects = 60
	}
	if o.RetryOnFailedConnect == nil {
		retry := true
		o.RetryOnFailedConnect = &retry
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
	if o.DrainTimeout <= 0 {
		o.DrainTimeout = 5 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

func New(url, subject string, options Options) (*Queue, error) {
	if strings.TrimSpace(subject) == "" {
		return nil, fmt.Errorf("nats subject is required")
	}
	opts := options.withDefaults()
	logger := opts.Logger.With("subject", subject)

	conn, err := nats.Connect(
		url,
		nats.Name("doc-curator"),
		nats.Timeout(opts.ConnectTimeout),
		nats.ReconnectWait(opts.ReconnectWait),
		nats.MaxReconnects(opts.MaxReconnects),
		nats.RetryOnFailedConnect(*opts.RetryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("queue_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("queue_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, domain.WrapError(domain.ErrTemporary, "connect queue", err)
	}
	return &Queue{
		conn:     conn,
		subject:  subject,
		opts:     opts,
		executor: opts.ResilienceExecutor,
		logger:   logger,
		now:      time.Now,
	}, nil
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

func (q *Queue) PublishDocument(ctx context.Context, documentID string) error {
	documentID = strings.TrimSpace(documentID)
	if documentID == "" {
		return domain.WrapError(domain.ErrInvalidInput, "enqueue document", fmt.Errorf("document id is required"))
	}
	msg, err := q.message(documentID)
	if err != nil {
		return domain.WrapError(domain.ErrInvalidInput, "enqueue document", err)
	}
	err = q.executor.Execute(ctx, "publish", func(context.Context) error {
		return q.conn.PublishMsg(msg)
	}, classifyNATSError)
	return wrapTemporaryIfNeeded(err)
}

func (q *Queue) message(documentID string) (*nats.Msg, error) {
	body, err := json.Marshal(envelope{DocumentID: documentID, EnqueuedAt: q.now().UTC()})
	if err != nil {
		return nil, err
	}
	msg := nats.NewMsg(q.subject)
	msg.Header.Set(headerDocumentID, documentID)
	msg.Data = body
	return msg, nil
}

// decodeDocumentID reads the id from a message: header first, then the JSON
// envelope, then the raw body.
func decodeDocumentID(msg *nats.Msg) string {
	if msg.Header != nil {
		if id := strings.TrimSpace(msg.Header.Get(headerDocumentID)); id != "" {
			return id
		}
	}
	data := strings.TrimSpace(string(msg.Data))
	if strings.HasPrefix(data, "{") {
		var env envelope
		if err := json.Unmarshal([]byte(data), &env); err == nil {
			return strings.TrimSpace(env.DocumentID)
		}
		return ""
	}
	return data
}

// SubscribeDocuments blocks until ctx is done. Up to Options.Concurrency
// documents run at once; on shutdown the subscription is drained and running
// handlers finish before it returns.
func (q *Queue) SubscribeDocuments(ctx context.Context, handler func(context.Context, string) error) error {
	messages := make(chan *nats.Msg, q.opts.Concurrency)
	sub, err := q.conn.ChanQueueSubscribe(q.subject, workerQueueGroup, messages)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", q.subject, err)
	}
	if err := q.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return fmt.Errorf("flush subscription: %w", err)
	}
	q.logger.Info("queue_subscribed", "group", workerQueueGroup, "concurrency", q.opts.Concurrency)

	var wg sync.WaitGroup
	for i := 0; i < q.opts.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.consume(ctx, messages, handler)
		}()
	}

	<-ctx.Done()
	drainErr := sub.Drain()
	wg.Wait()
	if drainErr != nil {
		return fmt.Errorf("drain subscription: %w", drainErr)
	}
	if err := q.conn.FlushTimeout(q.opts.DrainTimeout); err != nil {
		return fmt.Errorf("flush after drain: %w", err)
	}
	return nil
}

func (q *Queue) consume(ctx context.Context, messages <-chan *nats.Msg, handler func(context.Context, string) error) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-messages:
			documentID := decodeDocumentID(msg)
			if documentID == "" {
				q.logger.Warn("queue_message_skipped", "reason", "no document id", "bytes", len(msg.Data))
				continue
			}
			if err := handler(ctx, documentID); err != nil {
				q.logger.Error("queue_handler_failed", "document_id", documentID, "error", err)
			}
		}
	}
}
