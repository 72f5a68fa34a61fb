// Package types provides the core data model for the Ei companion engine:
// the Human profile, Personas, their learned knowledge (facts, traits,
// topics, people, quotes), per-persona message logs, and the durable LLM
// request queue.
package types

import (
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// EiPersonaID is the reserved id of the built-in, omniscient Ei persona.
// It always exists and is never archived or deleted.
const EiPersonaID = "ei"

// NewEntityID generates a new UUID-shaped id for a Human, Persona, DataItem,
// Message, or Quote, per the identity convention in the data model.
func NewEntityID() string {
	return uuid.NewString()
}

// NewQueueID generates a new lexicographically sortable id for a queue item.
// ULIDs carry a millisecond timestamp, which makes stable (priority,
// created_at) ordering cheap to verify and debug.
func NewQueueID() string {
	return ulid.Make().String()
}
