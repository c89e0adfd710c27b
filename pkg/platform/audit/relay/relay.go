// Package relay publishes audit events from the Postgres outbox to Kafka.
// Delivery is at-least-once; the event payload carries its uuid so consumers
// can dedup.
package relay

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

const defaultBatchSize = 100

// Relay polls the audit outbox and produces unpublished entries to Kafka.
type Relay struct {
	db       *sql.DB
	client   *kgo.Client
	topic    string
	interval time.Duration
	logger   *slog.Logger
}

// New connects a relay to the given brokers. Close releases the Kafka client.
func New(db *sql.DB, brokers []string, topic string, interval time.Duration, logger *slog.Logger) (*Relay, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &Relay{
		db:       db,
		client:   client,
		topic:    topic,
		interval: interval,
		logger:   logger,
	}, nil
}

// EnsureTopic creates the audit topic if it does not exist.
func (r *Relay) EnsureTopic(ctx context.Context, partitions int32, replication int16) error {
	adm := kadm.NewClient(r.client)
	resp, err := adm.CreateTopics(ctx, partitions, replication, nil, r.topic)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", r.topic, err)
	}
	for _, res := range resp {
		if res.Err != nil && !errors.Is(res.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create topic %s: %w", res.Topic, res.Err)
		}
	}
	return nil
}

// Run polls the outbox until the context is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n, err := r.Flush(ctx)
			if err != nil {
				r.logger.ErrorContext(ctx, "outbox relay pass failed", "error", err)
				continue
			}
			if n > 0 {
				r.logger.DebugContext(ctx, "relayed audit events", "count", n)
			}
		}
	}
}

// Flush publishes one batch of unpublished outbox entries and marks them
// published. Returns the number of events relayed.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, event_type, payload FROM audit_outbox
		WHERE published_at IS NULL
		ORDER BY created_at, id
		LIMIT $1
	`, defaultBatchSize)
	if err != nil {
		return 0, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	type entry struct {
		id        uuid.UUID
		eventType string
		payload   []byte
	}
	var entries []entry
	for rows.Next() {
		var e entry
		if err := rows.Scan(&e.id, &e.eventType, &e.payload); err != nil {
			return 0, fmt.Errorf("scan outbox row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}

	for _, e := range entries {
		record := &kgo.Record{
			Topic: r.topic,
			Key:   []byte(e.id.String()),
			Value: e.payload,
			Headers: []kgo.RecordHeader{
				{Key: "event_type", Value: []byte(e.eventType)},
			},
		}
		if err := r.client.ProduceSync(ctx, record).FirstErr(); err != nil {
			return 0, fmt.Errorf("produce outbox entry %s: %w", e.id, err)
		}
		if _, err := r.db.ExecContext(ctx, `
			UPDATE audit_outbox SET published_at = $1 WHERE id = $2
		`, time.Now().UTC(), e.id); err != nil {
			return 0, fmt.Errorf("mark outbox entry published: %w", err)
		}
	}
	return len(entries), nil
}

// Close releases the Kafka client.
func (r *Relay) Close() {
	r.client.Close()
}
