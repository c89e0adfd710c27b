package models

import "time"

// Record is the stored (name, key, live) tuple for one registered domain.
//
// Invariants:
//   - Name is non-empty and compared by exact byte equality (no lowercasing)
//   - PublicKey is non-empty while Live is true
//   - Live is tracked separately from the key bytes: a removed name keeps a
//     record slot and its position in the enumeration log
type Record struct {
	Name      string    `json:"name"`
	PublicKey []byte    `json:"public_key"`
	Live      bool      `json:"live"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
