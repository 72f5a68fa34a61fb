package event

import "github.com/eicompanion/ei/pkg/types"

// The structs below are payload shapes for the bus's event types. Events
// that statemgr publishes through Bus.Notify carry statemgr's own
// map[string]any payload, not these structs; engine.AbortCurrentOperation
// publishes a QueueChangedData.

// HumanUpdatedData is a payload shape for onHumanUpdated events: the
// resulting Human snapshot.
type HumanUpdatedData struct {
	Human types.Human `json:"human"`
}

// PersonaAddedData is a payload shape for onPersonaAdded events.
type PersonaAddedData struct {
	Persona types.Persona `json:"persona"`
}

// PersonaUpdatedData is a payload shape for onPersonaUpdated events.
type PersonaUpdatedData struct {
	Persona types.Persona `json:"persona"`
}

// PersonaDeletedData is a payload shape for onPersonaDeleted events.
type PersonaDeletedData struct {
	PersonaID string `json:"persona_id"`
}

// MessageAddedData is a payload shape for onMessageAdded events.
type MessageAddedData struct {
	PersonaID string        `json:"persona_id"`
	Message   types.Message `json:"message"`
}

// MessageRemovedData is a payload shape for onMessageRemoved events.
type MessageRemovedData struct {
	PersonaID  string   `json:"persona_id"`
	MessageIDs []string `json:"message_ids"`
}

// DataItemChangedData is a payload shape for onDataItemChanged events: a
// Fact, Trait, Topic, or Person was created or updated.
type DataItemChangedData struct {
	Category string `json:"category"`
	ItemID   string `json:"item_id"`
}

// QuoteChangedData is a payload shape for onQuoteChanged events.
type QuoteChangedData struct {
	QuoteID string `json:"quote_id"`
}

// QueueChangedData is the payload engine.AbortCurrentOperation publishes
// with an onQueueStateChanged event: the current queue length.
type QueueChangedData struct {
	QueueLength int `json:"queue_length"`
}

// CeremonyPhaseData names a Daily Ceremony phase
// (exposure/decay/expire/explore). No EventType constant is defined for
// ceremony phases and nothing publishes this payload.
type CeremonyPhaseData struct {
	Phase string `json:"phase"`
}

// HeartbeatFiredData identifies a persona heartbeat and its topic. No
// EventType constant is defined for heartbeats and nothing publishes this
// payload.
type HeartbeatFiredData struct {
	PersonaID string `json:"persona_id"`
	TopicID   string `json:"topic_id,omitempty"`
}
