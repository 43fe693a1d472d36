package nats

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/kirillkom/doc-curator/internal/core/domain"
	"github.com/nats-io/nats.go"
	"github.com/sony/gobreaker/v2"
)

func TestClassifyNATSError(t *testing.T) {
	retryable := []error{
		nats.ErrNoServers,
		nats.ErrTimeout,
		fmt.Errorf("publish: %w", nats.ErrConnectionClosed),
		nats.ErrConnectionDraining,
		gobreaker.ErrOpenState,
	}
	for _, err := range retryable {
		if class := classifyNATSError(err); !class.Retryable || !class.RecordFailure {
			t.Fatalf("expected %v to be retryable, got %+v", err, class)
		}
	}
	if class := classifyNATSError(nats.ErrBadSubject); class.Retryable || !class.RecordFailure {
		t.Fatalf("bad subject must fail without retry, got %+v", class)
	}
	if class := classifyNATSError(context.Canceled); class.Retryable || class.RecordFailure {
		t.Fatalf("cancellation must not count against the broker, got %+v", class)
	}
}

func TestWrapTemporaryIfNeededMarksConnectionLoss(t *testing.T) {
	err := wrapTemporaryIfNeeded(nats.ErrNoServers)
	if !domain.IsKind(err, domain.ErrTemporary) || !errors.Is(err, nats.ErrNoServers) {
		t.Fatalf("expected temporary wrapping the broker error, got %v", err)
	}
	if err := wrapTemporaryIfNeeded(nats.ErrMaxPayload); domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("payload errors are not temporary: %v", err)
	}
	if wrapTemporaryIfNeeded(nil) != nil {
		t.Fatalf("nil stays nil")
	}
}
