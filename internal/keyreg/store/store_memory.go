package store

import (
	"context"
	"sync"
	"time"

	"namereg/internal/keyreg/models"
	id "namereg/pkg/domain"
	"namereg/pkg/platform/sentinel"
)

// InMemory keeps the registry state in maps plus an ordered name slice for
// the enumeration log. It favors clarity over performance and doubles as the
// reference implementation for store behavior in tests.
type InMemory struct {
	mu      sync.RWMutex
	records map[string]*models.Record
	names   []string
	owner   id.Identity
}

// NewInMemory creates an empty store owned by the given identity.
func NewInMemory(owner id.Identity) *InMemory {
	return &InMemory{
		records: make(map[string]*models.Record),
		owner:   owner,
	}
}

func (s *InMemory) Create(_ context.Context, rec *models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.records[rec.Name]; ok && existing.Live {
		return sentinel.ErrConflict
	}
	clone := *rec
	clone.PublicKey = append([]byte(nil), rec.PublicKey...)
	s.records[rec.Name] = &clone
	s.names = append(s.names, rec.Name)
	return nil
}

func (s *InMemory) UpdateKey(_ context.Context, name string, publicKey []byte, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[name]
	if !ok || !rec.Live {
		return sentinel.ErrNotFound
	}
	rec.PublicKey = append([]byte(nil), publicKey...)
	rec.UpdatedAt = now
	return nil
}

func (s *InMemory) Remove(_ context.Context, name string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[name]
	if !ok || !rec.Live {
		return sentinel.ErrNotFound
	}
	rec.PublicKey = nil
	rec.Live = false
	rec.UpdatedAt = now
	return nil
}

func (s *InMemory) Find(_ context.Context, name string) (*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[name]
	if !ok || !rec.Live {
		return nil, sentinel.ErrNotFound
	}
	clone := *rec
	clone.PublicKey = append([]byte(nil), rec.PublicKey...)
	return &clone, nil
}

func (s *InMemory) Exists(_ context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[name]
	return ok && rec.Live, nil
}

func (s *InMemory) ListNames(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string{}, s.names...), nil
}

func (s *InMemory) Owner(_ context.Context) (id.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.owner, nil
}

func (s *InMemory) SetOwner(_ context.Context, owner id.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.owner = owner
	return nil
}
