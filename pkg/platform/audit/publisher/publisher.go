// Package publisher provides the fail-closed audit publisher.
//
// Emit is synchronous: the caller blocks until the event is persisted. If the
// write fails, an error is returned and the mutating operation MUST fail —
// the registry's contract is one durable event per successful mutation.
package publisher

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	audit "namereg/pkg/platform/audit"
	"namereg/pkg/requestcontext"
)

// Publisher emits audit events with fail-closed semantics.
type Publisher struct {
	store  audit.Store
	logger *slog.Logger
}

// Option configures the Publisher.
type Option func(*Publisher)

// WithLogger sets a logger for error reporting.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// New creates a publisher backed by the given store. For guaranteed delivery
// the store should be outbox-backed.
func New(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{store: store}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Emit synchronously persists an audit event. It fills in the event ID,
// timestamp, and request correlation ID when absent.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	if event.Action == "" {
		return fmt.Errorf("audit event requires an action")
	}
	if event.Registry == "" {
		return fmt.Errorf("audit event requires a registry label")
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}

	if err := p.store.Append(ctx, event); err != nil {
		if p.logger != nil {
			p.logger.ErrorContext(ctx, "audit persistence failed",
				"action", event.Action,
				"registry", event.Registry,
				"name", event.Name,
				"error", err,
			)
		}
		return fmt.Errorf("audit persistence failed: %w", err)
	}
	return nil
}

// List returns the full event trail in emission order.
func (p *Publisher) List(ctx context.Context) ([]audit.Event, error) {
	return p.store.List(ctx)
}

// ListByName returns the event trail for one registered name.
func (p *Publisher) ListByName(ctx context.Context, name string) ([]audit.Event, error) {
	return p.store.ListByName(ctx, name)
}
