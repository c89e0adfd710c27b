package domain

import (
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/sha3"
)

// NameHash is the fixed-width canonical form of a registered name. The address
// registry stores records under this hash rather than the raw name, so two
// callers resolving the same name always derive the same lookup key.
type NameHash [32]byte

// HashName canonicalizes a raw name into its NameHash. The derivation is
// deterministic and collision-resistant (SHA3-256 over the exact bytes of the
// name: no lowercasing, no trimming).
func HashName(name string) (NameHash, error) {
	if name == "" {
		return NameHash{}, fmt.Errorf("name cannot be empty")
	}
	return NameHash(sha3.Sum256([]byte(name))), nil
}

// ParseNameHash parses the hex string form produced by String.
func ParseNameHash(s string) (NameHash, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return NameHash{}, fmt.Errorf("parse name hash: %w", err)
	}
	if len(b) != len(NameHash{}) {
		return NameHash{}, fmt.Errorf("parse name hash: expected %d bytes, got %d", len(NameHash{}), len(b))
	}
	var h NameHash
	copy(h[:], b)
	return h, nil
}

// IsZero reports whether the hash is the zero value. HashName never returns
// the zero hash for a non-empty name.
func (h NameHash) IsZero() bool {
	return h == NameHash{}
}

func (h NameHash) String() string {
	return hex.EncodeToString(h[:])
}
