//go:build integration

package relay_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	"namereg/internal/platform/logger"
	id "namereg/pkg/domain"
	audit "namereg/pkg/platform/audit"
	"namereg/pkg/platform/audit/relay"
	auditpostgres "namereg/pkg/platform/audit/store/postgres"
	"namereg/pkg/testutil/containers"
)

type RelaySuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	redpanda *containers.RedpandaContainer
	outbox   *auditpostgres.Store
	relay    *relay.Relay
}

func TestRelaySuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RelaySuite))
}

const testTopic = "namereg.audit.test"

func (s *RelaySuite) SetupSuite() {
	ctx := context.Background()

	s.postgres = containers.NewPostgresContainer(s.T())
	s.redpanda = containers.NewRedpandaContainer(s.T())

	s.outbox = auditpostgres.New(s.postgres.DB)
	s.Require().NoError(s.outbox.Migrate(ctx))

	r, err := relay.New(s.postgres.DB, []string{s.redpanda.Broker}, testTopic, 100*time.Millisecond, logger.New())
	s.Require().NoError(err)
	s.relay = r
	s.T().Cleanup(r.Close)

	s.Require().NoError(r.EnsureTopic(ctx, 1, 1))
}

func (s *RelaySuite) SetupTest() {
	err := s.postgres.TruncateTables(context.Background(), "audit_outbox")
	s.Require().NoError(err)
}

func (s *RelaySuite) appendEvent(name string) audit.Event {
	event := audit.Event{
		ID:        uuid.New(),
		Timestamp: time.Now().UTC(),
		Registry:  audit.RegistryKeys,
		Action:    audit.ActionNameRegistered,
		Actor:     id.NewIdentity(),
		Name:      name,
		Value:     "0102",
	}
	s.Require().NoError(s.outbox.Append(context.Background(), event))
	return event
}

func (s *RelaySuite) consume(ctx context.Context, want int) []*kgo.Record {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(s.redpanda.Broker),
		kgo.ConsumeTopics(testTopic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	s.Require().NoError(err)
	defer client.Close()

	var records []*kgo.Record
	deadline := time.Now().Add(15 * time.Second)
	for len(records) < want && time.Now().Before(deadline) {
		pollCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		fetches := client.PollFetches(pollCtx)
		cancel()
		fetches.EachRecord(func(rec *kgo.Record) {
			records = append(records, rec)
		})
	}
	return records
}

func (s *RelaySuite) TestFlushPublishesOutboxEntries() {
	ctx := context.Background()

	first := s.appendEvent("waku.eth")
	second := s.appendEvent("status.eth")

	n, err := s.relay.Flush(ctx)
	s.Require().NoError(err)
	s.Equal(2, n)

	records := s.consume(ctx, 2)
	s.Require().Len(records, 2)

	var payload struct {
		Name   string
		Action string
	}
	s.Require().NoError(json.Unmarshal(records[0].Value, &payload))
	s.Equal(first.Name, payload.Name)
	s.Equal(string(audit.ActionNameRegistered), payload.Action)

	s.Require().NoError(json.Unmarshal(records[1].Value, &payload))
	s.Equal(second.Name, payload.Name)
}

func (s *RelaySuite) TestFlushIsIdempotent() {
	ctx := context.Background()
	s.appendEvent("waku.eth")

	n, err := s.relay.Flush(ctx)
	s.Require().NoError(err)
	s.Equal(1, n)

	// Published entries must not be relayed twice.
	n, err = s.relay.Flush(ctx)
	s.Require().NoError(err)
	s.Equal(0, n)
}

func (s *RelaySuite) TestRunRelaysInBackground() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.relay.Run(ctx)
	}()

	s.appendEvent("waku.eth")

	records := s.consume(ctx, 1)
	s.Require().NotEmpty(records)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		s.Fail("relay did not stop after cancellation")
	}
}
