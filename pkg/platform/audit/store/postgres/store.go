// Package postgres implements audit.Store with the transactional outbox
// pattern. Events are written to the outbox table and published to Kafka by
// the outbox relay; Kafka is the downstream source of truth for audit events.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	id "namereg/pkg/domain"
	audit "namereg/pkg/platform/audit"
	txcontext "namereg/pkg/platform/tx"
)

type Store struct {
	db *sql.DB
}

// New creates a PostgreSQL audit store that writes to the outbox.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// execer returns the context transaction when one is open, so the outbox
// append commits atomically with the registry mutation it records.
func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// Migrate creates the outbox table if it does not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS audit_outbox (
			id           UUID PRIMARY KEY,
			event_type   TEXT NOT NULL,
			payload      JSONB NOT NULL,
			created_at   TIMESTAMPTZ NOT NULL,
			published_at TIMESTAMPTZ
		)
	`)
	if err != nil {
		return fmt.Errorf("migrate audit outbox: %w", err)
	}
	return nil
}

// payload is the JSON structure published to Kafka. Field names match
// audit.Event so downstream consumers can deserialize directly.
type payload struct {
	ID            string `json:"ID"`
	Timestamp     string `json:"Timestamp"`
	Registry      string `json:"Registry"`
	Action        string `json:"Action"`
	Actor         string `json:"Actor,omitempty"`
	Name          string `json:"Name,omitempty"`
	Value         string `json:"Value,omitempty"`
	OldValue      string `json:"OldValue,omitempty"`
	PreviousOwner string `json:"PreviousOwner,omitempty"`
	NewOwner      string `json:"NewOwner,omitempty"`
	RequestID     string `json:"RequestID,omitempty"`
}

func toPayload(event audit.Event) payload {
	p := payload{
		ID:        event.ID.String(),
		Timestamp: event.Timestamp.Format(time.RFC3339Nano),
		Registry:  event.Registry,
		Action:    string(event.Action),
		Name:      event.Name,
		Value:     event.Value,
		OldValue:  event.OldValue,
		RequestID: event.RequestID,
	}
	if !event.Actor.IsNil() {
		p.Actor = event.Actor.String()
	}
	if !event.PreviousOwner.IsNil() {
		p.PreviousOwner = event.PreviousOwner.String()
	}
	if !event.NewOwner.IsNil() {
		p.NewOwner = event.NewOwner.String()
	}
	return p
}

func fromPayload(p payload) (audit.Event, error) {
	eventID, err := uuid.Parse(p.ID)
	if err != nil {
		return audit.Event{}, fmt.Errorf("parse event id: %w", err)
	}
	ts, err := time.Parse(time.RFC3339Nano, p.Timestamp)
	if err != nil {
		return audit.Event{}, fmt.Errorf("parse event timestamp: %w", err)
	}
	event := audit.Event{
		ID:        eventID,
		Timestamp: ts,
		Registry:  p.Registry,
		Action:    audit.Action(p.Action),
		Name:      p.Name,
		Value:     p.Value,
		OldValue:  p.OldValue,
		RequestID: p.RequestID,
	}
	if p.Actor != "" {
		if event.Actor, err = id.ParseIdentity(p.Actor); err != nil {
			return audit.Event{}, fmt.Errorf("parse actor: %w", err)
		}
	}
	if p.PreviousOwner != "" {
		if event.PreviousOwner, err = id.ParseIdentity(p.PreviousOwner); err != nil {
			return audit.Event{}, fmt.Errorf("parse previous owner: %w", err)
		}
	}
	if p.NewOwner != "" {
		if event.NewOwner, err = id.ParseIdentity(p.NewOwner); err != nil {
			return audit.Event{}, fmt.Errorf("parse new owner: %w", err)
		}
	}
	return event, nil
}

// Append writes an audit event to the outbox table for Kafka publishing.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	payloadBytes, err := json.Marshal(toPayload(event))
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}

	_, err = s.execer(ctx).ExecContext(ctx, `
		INSERT INTO audit_outbox (id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4)
	`, event.ID, string(event.Action), payloadBytes, event.Timestamp)
	if err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	return nil
}

// List returns all events in append order, published or not. The outbox is
// append-only so this is the full audit trail as seen by this instance.
func (s *Store) List(ctx context.Context) ([]audit.Event, error) {
	return s.list(ctx, `
		SELECT payload FROM audit_outbox
		ORDER BY created_at, id
	`)
}

// ListByName returns the events for one registered name, oldest first.
func (s *Store) ListByName(ctx context.Context, name string) ([]audit.Event, error) {
	return s.list(ctx, `
		SELECT payload FROM audit_outbox
		WHERE payload->>'Name' = $1
		ORDER BY created_at, id
	`, name)
}

func (s *Store) list(ctx context.Context, query string, args ...any) ([]audit.Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		var p payload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("unmarshal outbox payload: %w", err)
		}
		event, err := fromPayload(p)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}
