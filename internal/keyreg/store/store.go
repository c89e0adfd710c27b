// Package store persists key registry records, the append-only enumeration
// log, and the single-owner state.
package store

import (
	"context"
	"time"

	"namereg/internal/keyreg/models"
	id "namereg/pkg/domain"
)

// Store is interface-driven to keep the registry logic testable and to allow
// swapping the in-memory and Postgres backends without rewiring the service.
//
// Implementations serialize mutations internally; the service assumes
// at-most-one live record per name and an enumeration log that only grows.
type Store interface {
	// Create stores a live record and appends its name to the enumeration
	// log. Returns sentinel.ErrConflict if a live record already exists.
	// Re-registering a removed name succeeds and appends the name again.
	Create(ctx context.Context, rec *models.Record) error

	// UpdateKey overwrites the key bytes of a live record in place.
	// Returns sentinel.ErrNotFound if no live record exists.
	UpdateKey(ctx context.Context, name string, publicKey []byte, now time.Time) error

	// Remove clears the key bytes and marks the record not live. The name
	// keeps its slot in the enumeration log (tombstone).
	// Returns sentinel.ErrNotFound if no live record exists.
	Remove(ctx context.Context, name string, now time.Time) error

	// Find returns the live record for a name, or sentinel.ErrNotFound.
	Find(ctx context.Context, name string) (*models.Record, error)

	// Exists reports whether a live record exists. Never errors on absence.
	Exists(ctx context.Context, name string) (bool, error)

	// ListNames returns the enumeration log verbatim: every name ever
	// passed to Create, in registration order, tombstones included.
	ListNames(ctx context.Context) ([]string, error)

	// Owner returns the current registry owner.
	Owner(ctx context.Context) (id.Identity, error)

	// SetOwner replaces the registry owner.
	SetOwner(ctx context.Context, owner id.Identity) error
}
