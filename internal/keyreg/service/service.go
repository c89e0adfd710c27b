// Package service implements the key registry: a single-owner mapping from
// domain names to public-key bytes with an append-only enumeration log and a
// durable audit event per mutation.
package service

import (
	"context"
	"encoding/hex"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	keymetrics "namereg/internal/keyreg/metrics"
	"namereg/internal/keyreg/models"
	"namereg/internal/keyreg/store"
	id "namereg/pkg/domain"
	dErrors "namereg/pkg/domain-errors"
	audit "namereg/pkg/platform/audit"
	"namereg/pkg/platform/audit/publisher"
	"namereg/pkg/platform/sentinel"
	tx "namereg/pkg/platform/tx"
	"namereg/pkg/requestcontext"
)

// Transactor runs a mutation and its audit append as one atomic unit. The
// Postgres deployment binds both to a single transaction (tx.Runner); the
// in-memory deployment uses tx.Nop.
type Transactor interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Service orchestrates key registry mutations and queries. Mutations take the
// authenticated caller identity explicitly; the host boundary (HTTP
// middleware, embedding code) is responsible for authenticating it.
//
// Mutations are serialized with a service-level mutex: owner check, store
// write, and audit emit happen under one critical section, so check-then-act
// sequences cannot interleave across concurrent requests.
type Service struct {
	store   store.Store
	audit   *publisher.Publisher
	tx      Transactor
	logger  *slog.Logger
	metrics *keymetrics.Metrics
	tracer  trace.Tracer

	mu sync.Mutex // serializes mutations
}

type serviceConfig struct {
	logger  *slog.Logger
	metrics *keymetrics.Metrics
	tx      Transactor
}

// Option configures the Service.
type Option func(*serviceConfig)

func WithLogger(logger *slog.Logger) Option {
	return func(cfg *serviceConfig) { cfg.logger = logger }
}

func WithMetrics(m *keymetrics.Metrics) Option {
	return func(cfg *serviceConfig) { cfg.metrics = m }
}

// WithTransactor couples store writes and audit appends into one transaction.
func WithTransactor(t Transactor) Option {
	return func(cfg *serviceConfig) { cfg.tx = t }
}

func New(st store.Store, auditPublisher *publisher.Publisher, opts ...Option) *Service {
	cfg := &serviceConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}
	transactor := cfg.tx
	if transactor == nil {
		transactor = tx.Nop{}
	}
	return &Service{
		store:   st,
		audit:   auditPublisher,
		tx:      transactor,
		logger:  logger,
		metrics: cfg.metrics,
		tracer:  otel.Tracer("namereg/keyreg"),
	}
}

// Register stores a public key for a name. Fails if the caller is not the
// owner, the name or key is empty, or a live record already holds the name.
func (s *Service) Register(ctx context.Context, caller id.Identity, name string, publicKey []byte) error {
	ctx, span := s.tracer.Start(ctx, "keyreg.Register")
	defer span.End()
	start := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireOwner(ctx, caller); err != nil {
		return err
	}
	if name == "" {
		return dErrors.New(dErrors.CodeEmptyKey, "name cannot be empty")
	}
	if len(publicKey) == 0 {
		return dErrors.New(dErrors.CodeEmptyValue, "public key cannot be empty")
	}

	now := requestcontext.Now(ctx)
	rec := &models.Record{
		Name:      name,
		PublicKey: publicKey,
		Live:      true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.Create(ctx, rec); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return dErrors.New(dErrors.CodeAlreadyExists, "name is already registered")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to register name")
		}
		if err := s.audit.Emit(ctx, audit.Event{
			Registry: audit.RegistryKeys,
			Action:   audit.ActionNameRegistered,
			Actor:    caller,
			Name:     name,
			Value:    hex.EncodeToString(publicKey),
		}); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record registration")
		}
		return nil
	}); err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.Registrations.Inc()
		s.metrics.ObserveMutation(start)
	}
	s.logger.InfoContext(ctx, "name registered", "name", name, "actor", caller)
	return nil
}

// UpdateKey overwrites the stored public key for a live name in place. The
// enumeration log is untouched.
func (s *Service) UpdateKey(ctx context.Context, caller id.Identity, name string, publicKey []byte) error {
	ctx, span := s.tracer.Start(ctx, "keyreg.UpdateKey")
	defer span.End()
	start := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireOwner(ctx, caller); err != nil {
		return err
	}
	if len(publicKey) == 0 {
		return dErrors.New(dErrors.CodeEmptyValue, "public key cannot be empty")
	}

	if err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.UpdateKey(ctx, name, publicKey, requestcontext.Now(ctx)); err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeNotFound, "name is not registered")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update key")
		}
		if err := s.audit.Emit(ctx, audit.Event{
			Registry: audit.RegistryKeys,
			Action:   audit.ActionNameUpdated,
			Actor:    caller,
			Name:     name,
			Value:    hex.EncodeToString(publicKey),
		}); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record update")
		}
		return nil
	}); err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.Updates.Inc()
		s.metrics.ObserveMutation(start)
	}
	s.logger.InfoContext(ctx, "key updated", "name", name, "actor", caller)
	return nil
}

// Deregister clears the key and marks the name not live. The name keeps its
// slot in the enumeration log.
func (s *Service) Deregister(ctx context.Context, caller id.Identity, name string) error {
	ctx, span := s.tracer.Start(ctx, "keyreg.Deregister")
	defer span.End()
	start := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireOwner(ctx, caller); err != nil {
		return err
	}

	if err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.Remove(ctx, name, requestcontext.Now(ctx)); err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeNotFound, "name is not registered")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to remove name")
		}
		if err := s.audit.Emit(ctx, audit.Event{
			Registry: audit.RegistryKeys,
			Action:   audit.ActionNameRemoved,
			Actor:    caller,
			Name:     name,
		}); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record removal")
		}
		return nil
	}); err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.Removals.Inc()
		s.metrics.ObserveMutation(start)
	}
	s.logger.InfoContext(ctx, "name removed", "name", name, "actor", caller)
	return nil
}

// Resolve returns the stored public key for a live name. Pure read.
func (s *Service) Resolve(ctx context.Context, name string) ([]byte, error) {
	rec, err := s.store.Find(ctx, name)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "name is not registered")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve name")
	}
	return rec.PublicKey, nil
}

// Exists reports whether a live record holds the name.
func (s *Service) Exists(ctx context.Context, name string) (bool, error) {
	exists, err := s.store.Exists(ctx, name)
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check name")
	}
	return exists, nil
}

// ListNames returns the enumeration log verbatim, tombstones included.
// Callers must pair each name with an Exists check before trusting it as live.
func (s *Service) ListNames(ctx context.Context) ([]string, error) {
	names, err := s.store.ListNames(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list names")
	}
	return names, nil
}

// TransferOwnership replaces the registry owner. Only the current owner may
// transfer, and never to the absent identity.
func (s *Service) TransferOwnership(ctx context.Context, caller, newOwner id.Identity) error {
	ctx, span := s.tracer.Start(ctx, "keyreg.TransferOwnership")
	defer span.End()
	start := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireOwner(ctx, caller); err != nil {
		return err
	}
	if newOwner.IsNil() {
		return dErrors.New(dErrors.CodeInvalidOwner, "new owner identity cannot be empty")
	}

	if err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.SetOwner(ctx, newOwner); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to transfer ownership")
		}
		if err := s.audit.Emit(ctx, audit.Event{
			Registry:      audit.RegistryKeys,
			Action:        audit.ActionOwnershipTransferred,
			Actor:         caller,
			PreviousOwner: caller,
			NewOwner:      newOwner,
		}); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record transfer")
		}
		return nil
	}); err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.Transfers.Inc()
		s.metrics.ObserveMutation(start)
	}
	s.logger.InfoContext(ctx, "ownership transferred", "previous", caller, "new", newOwner)
	return nil
}

// Owner returns the current registry owner. Pure read.
func (s *Service) Owner(ctx context.Context) (id.Identity, error) {
	owner, err := s.store.Owner(ctx)
	if err != nil {
		return id.Identity{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load owner")
	}
	return owner, nil
}

func (s *Service) requireOwner(ctx context.Context, caller id.Identity) error {
	owner, err := s.store.Owner(ctx)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load owner")
	}
	if caller.IsNil() || caller != owner {
		if s.metrics != nil {
			s.metrics.Unauthorized.Inc()
		}
		return dErrors.New(dErrors.CodeUnauthorized, "caller is not the registry owner")
	}
	return nil
}
