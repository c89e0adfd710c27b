package store

import (
	"context"
	"sync"

	id "namereg/pkg/domain"
)

// InMemory keeps the address mapping in a map. Favors clarity over
// performance, same as the key registry memory store.
type InMemory struct {
	mu    sync.RWMutex
	addrs map[id.NameHash]string
	owner id.Identity
}

// NewInMemory creates an empty store owned by the given identity.
func NewInMemory(owner id.Identity) *InMemory {
	return &InMemory{
		addrs: make(map[id.NameHash]string),
		owner: owner,
	}
}

func (s *InMemory) Get(_ context.Context, h id.NameHash) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addrs[h], nil
}

func (s *InMemory) Set(_ context.Context, h id.NameHash, addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addrs[h] = addr
	return nil
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
