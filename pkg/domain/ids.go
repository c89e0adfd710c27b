// Package domain holds the shared identifier types for the name registry.
//
// Identities are uuid-backed so the zero value doubles as the "absent"
// identity the ownership rules guard against.
package domain

import (
	"github.com/google/uuid"
)

// Identity is the authenticated caller identity supplied by the host boundary.
// The zero value means "absent" and is never a valid owner.
type Identity uuid.UUID

// NewIdentity returns a fresh random identity. Mostly useful in tests and
// bootstrap tooling.
func NewIdentity() Identity {
	return Identity(uuid.New())
}

// ParseIdentity parses the canonical string form of an identity.
func ParseIdentity(s string) (Identity, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return Identity{}, err
	}
	return Identity(u), nil
}

// IsNil reports whether the identity is the absent/zero identity.
func (i Identity) IsNil() bool {
	return uuid.UUID(i) == uuid.Nil
}

func (i Identity) String() string {
	return uuid.UUID(i).String()
}
