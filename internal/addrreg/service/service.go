// Package service implements the address registry: a single-owner mapping
// from canonicalized (hashed) domain names to address strings.
//
// Existence is inferred from the stored value: non-empty means registered.
// Empty addresses are rejected at write time so "never registered" and
// "registered empty" can never collide. There is no enumeration structure.
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	addrmetrics "namereg/internal/addrreg/metrics"
	"namereg/internal/addrreg/store"
	id "namereg/pkg/domain"
	dErrors "namereg/pkg/domain-errors"
	audit "namereg/pkg/platform/audit"
	"namereg/pkg/platform/audit/publisher"
)

// Service orchestrates address registry mutations and queries.
//
// Mutations are serialized with a service-level mutex: the existence check,
// the store write, and the audit emit happen under one critical section, so
// two concurrent registrations of the same name cannot both pass the check.
type Service struct {
	store   store.Store
	audit   *publisher.Publisher
	logger  *slog.Logger
	metrics *addrmetrics.Metrics
	tracer  trace.Tracer

	mu sync.Mutex // serializes mutations
}

type serviceConfig struct {
	logger  *slog.Logger
	metrics *addrmetrics.Metrics
}

// Option configures the Service.
type Option func(*serviceConfig)

func WithLogger(logger *slog.Logger) Option {
	return func(cfg *serviceConfig) { cfg.logger = logger }
}

func WithMetrics(m *addrmetrics.Metrics) Option {
	return func(cfg *serviceConfig) { cfg.metrics = m }
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
	return &Service{
		store:   st,
		audit:   auditPublisher,
		logger:  logger,
		metrics: cfg.metrics,
		tracer:  otel.Tracer("namereg/addrreg"),
	}
}

// Canonicalize derives the fixed-width lookup hash for a name. Deterministic
// and pure; external callers use it to pre-compute lookup keys.
func (s *Service) Canonicalize(name string) (id.NameHash, error) {
	h, err := id.HashName(name)
	if err != nil {
		return id.NameHash{}, dErrors.New(dErrors.CodeEmptyKey, "name cannot be empty")
	}
	return h, nil
}

// Register stores an address for a name. Fails if the caller is not the
// owner, the name or address is empty, or the name is already registered.
func (s *Service) Register(ctx context.Context, caller id.Identity, name, addr string) error {
	ctx, span := s.tracer.Start(ctx, "addrreg.Register")
	defer span.End()
	start := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireOwner(ctx, caller); err != nil {
		return err
	}
	h, err := s.Canonicalize(name)
	if err != nil {
		return err
	}
	if addr == "" {
		return dErrors.New(dErrors.CodeEmptyValue, "address cannot be empty")
	}

	existing, err := s.store.Get(ctx, h)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to register name")
	}
	if existing != "" {
		return dErrors.New(dErrors.CodeAlreadyExists, "name is already registered")
	}

	if err := s.store.Set(ctx, h, addr); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to register name")
	}

	if err := s.audit.Emit(ctx, audit.Event{
		Registry: audit.RegistryAddresses,
		Action:   audit.ActionNameRegistered,
		Actor:    caller,
		Name:     h.String(),
		Value:    addr,
	}); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record registration")
	}

	if s.metrics != nil {
		s.metrics.Registrations.Inc()
		s.metrics.ObserveMutation(start)
	}
	s.logger.InfoContext(ctx, "address registered", "hash", h, "actor", caller)
	return nil
}

// UpdateAddr overwrites the stored address for a registered name. The emitted
// event carries both the old and the new value.
func (s *Service) UpdateAddr(ctx context.Context, caller id.Identity, name, addr string) error {
	ctx, span := s.tracer.Start(ctx, "addrreg.UpdateAddr")
	defer span.End()
	start := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireOwner(ctx, caller); err != nil {
		return err
	}
	h, err := s.Canonicalize(name)
	if err != nil {
		return err
	}
	if addr == "" {
		return dErrors.New(dErrors.CodeEmptyValue, "address cannot be empty")
	}

	existing, err := s.store.Get(ctx, h)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update address")
	}
	if existing == "" {
		return dErrors.New(dErrors.CodeNotFound, "name is not registered")
	}

	if err := s.store.Set(ctx, h, addr); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update address")
	}

	if err := s.audit.Emit(ctx, audit.Event{
		Registry: audit.RegistryAddresses,
		Action:   audit.ActionNameUpdated,
		Actor:    caller,
		Name:     h.String(),
		OldValue: existing,
		Value:    addr,
	}); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record update")
	}

	if s.metrics != nil {
		s.metrics.Updates.Inc()
		s.metrics.ObserveMutation(start)
	}
	s.logger.InfoContext(ctx, "address updated", "hash", h, "actor", caller)
	return nil
}

// Deregister clears the stored address, returning the name to the
// unregistered state.
func (s *Service) Deregister(ctx context.Context, caller id.Identity, name string) error {
	ctx, span := s.tracer.Start(ctx, "addrreg.Deregister")
	defer span.End()
	start := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireOwner(ctx, caller); err != nil {
		return err
	}
	h, err := s.Canonicalize(name)
	if err != nil {
		return err
	}

	existing, err := s.store.Get(ctx, h)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to remove name")
	}
	if existing == "" {
		return dErrors.New(dErrors.CodeNotFound, "name is not registered")
	}

	if err := s.store.Set(ctx, h, ""); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to remove name")
	}

	if err := s.audit.Emit(ctx, audit.Event{
		Registry: audit.RegistryAddresses,
		Action:   audit.ActionNameRemoved,
		Actor:    caller,
		Name:     h.String(),
	}); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record removal")
	}

	if s.metrics != nil {
		s.metrics.Removals.Inc()
		s.metrics.ObserveMutation(start)
	}
	s.logger.InfoContext(ctx, "address removed", "hash", h, "actor", caller)
	return nil
}

// Resolve returns the stored address for a name. Pure read.
func (s *Service) Resolve(ctx context.Context, name string) (string, error) {
	h, err := s.Canonicalize(name)
	if err != nil {
		return "", err
	}
	return s.ResolveHash(ctx, h)
}

// ResolveHash returns the stored address for a pre-computed hash.
func (s *Service) ResolveHash(ctx context.Context, h id.NameHash) (string, error) {
	addr, err := s.store.Get(ctx, h)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve name")
	}
	if addr == "" {
		return "", dErrors.New(dErrors.CodeNotFound, "name is not registered")
	}
	return addr, nil
}

// Exists reports whether the name currently resolves to a non-empty address.
func (s *Service) Exists(ctx context.Context, name string) (bool, error) {
	h, err := s.Canonicalize(name)
	if err != nil {
		return false, err
	}
	addr, err := s.store.Get(ctx, h)
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check name")
	}
	return addr != "", nil
}

// TransferOwnership replaces the registry owner. Only the current owner may
// transfer, and never to the absent identity.
func (s *Service) TransferOwnership(ctx context.Context, caller, newOwner id.Identity) error {
	ctx, span := s.tracer.Start(ctx, "addrreg.TransferOwnership")
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

	if err := s.store.SetOwner(ctx, newOwner); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to transfer ownership")
	}

	if err := s.audit.Emit(ctx, audit.Event{
		Registry:      audit.RegistryAddresses,
		Action:        audit.ActionOwnershipTransferred,
		Actor:         caller,
		PreviousOwner: caller,
		NewOwner:      newOwner,
	}); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record transfer")
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
