package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	id "namereg/pkg/domain"
)

// Action names the mutation an event records. One event is emitted per
// successful mutation, in program order; failed calls emit nothing.
type Action string

const (
	ActionNameRegistered       Action = "name_registered"
	ActionNameUpdated          Action = "name_updated"
	ActionNameRemoved          Action = "name_removed"
	ActionOwnershipTransferred Action = "ownership_transferred"
)

// Registry labels identifying which registry variant emitted an event.
const (
	RegistryKeys      = "keys"
	RegistryAddresses = "addresses"
)

// Event is the durable audit record for one registry mutation. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	ID        uuid.UUID
	Timestamp time.Time
	Registry  string
	Action    Action
	Actor     id.Identity

	// Name is the registered name; the address registry reports the
	// canonical hash here since that is its storage key.
	Name string
	// Value is the new/current value (hex-encoded for key bytes).
	Value string
	// OldValue is the previous value; populated only for address updates.
	OldValue string

	// Ownership transfer fields.
	PreviousOwner id.Identity
	NewOwner      id.Identity

	// RequestID correlates the event with the request that caused it.
	RequestID string
}

// Store is an ordered, append-only event sink. Append must preserve program
// order; List returns events oldest first.
type Store interface {
	Append(ctx context.Context, event Event) error
	List(ctx context.Context) ([]Event, error)
	ListByName(ctx context.Context, name string) ([]Event, error)
}
