// Package store persists address registry values keyed by canonical name
// hash, plus the single-owner state.
package store

import (
	"context"

	id "namereg/pkg/domain"
)

// Store is a flat hash→address mapping. The empty string is the absence
// sentinel: a missing entry and a cleared entry are indistinguishable, which
// is safe only because the service rejects empty addresses at write time.
type Store interface {
	// Get returns the stored address, or "" when the hash has no entry.
	Get(ctx context.Context, h id.NameHash) (string, error)

	// Set stores an address under the hash, overwriting any prior value.
	// Clearing is Set with the empty string.
	Set(ctx context.Context, h id.NameHash, addr string) error

	// Owner returns the current registry owner.
	Owner(ctx context.Context) (id.Identity, error)

	// SetOwner replaces the registry owner.
	SetOwner(ctx context.Context, owner id.Identity) error
}
