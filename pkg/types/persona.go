package types

// PauseActive is the sentinel Persona.PauseUntil value meaning "not paused".
const PauseActive = 1

// PauseIndefinite is the sentinel Persona.PauseUntil value meaning "paused
// with no scheduled resume".
const PauseIndefinite = 0

// GeneralGroup is the default visibility group. It replaces any prior
// wildcard membership on migration: a persona that previously had no
// explicit groups is given GroupPrimary = GeneralGroup.
const GeneralGroup = "general"

// Persona is one of many AI companions the Human can converse with.
type Persona struct {
	ID          string   `json:"id"`
	DisplayName string   `json:"display_name"`
	Aliases     []string `json:"aliases"`
	Entity      string   `json:"entity"` // always "system"

	ShortDescription string `json:"short_description"`
	LongDescription  string `json:"long_description"`
	Model            string `json:"model,omitempty"` // "provider:model" override

	GroupPrimary   string   `json:"group_primary"`
	GroupsVisible  []string `json:"groups_visible"`

	Traits []Trait `json:"traits"`
	Topics []Topic `json:"topics"`

	// PauseUntil: PauseActive (1) = active, PauseIndefinite (0) = paused
	// with no resume time, any other value = unix-ms pause expiry.
	PauseUntil int64 `json:"pause_until"`

	IsArchived bool `json:"is_archived"`
	IsStatic   bool `json:"is_static"`

	HeartbeatDelayMs int64  `json:"heartbeat_delay_ms"`
	ContextWindowMs  int64  `json:"context_window_ms"`
	ContextBoundary  string `json:"context_boundary,omitempty"` // ISO timestamp

	LastHeartbeatCheck int64 `json:"last_heartbeat_check"`
}

// IsPaused reports whether the persona is currently paused, given the
// current unix-ms time.
func (p *Persona) IsPaused(nowMs int64) bool {
	switch p.PauseUntil {
	case PauseActive:
		return false
	case PauseIndefinite:
		return true
	default:
		return nowMs < p.PauseUntil
	}
}

// VisibleGroups returns the set of groups this persona can see data for.
func (p *Persona) VisibleGroups() []string {
	groups := make([]string, 0, len(p.GroupsVisible)+1)
	if p.GroupPrimary != "" {
		groups = append(groups, p.GroupPrimary)
	}
	groups = append(groups, p.GroupsVisible...)
	return groups
}

// IsEi reports whether this persona is the reserved, omniscient Ei persona.
func (p *Persona) IsEi() bool {
	return p.ID == EiPersonaID
}

// NewEiPersona constructs the built-in Ei persona with its locked
// description constants.
func NewEiPersona() *Persona {
	return &Persona{
		ID:               EiPersonaID,
		DisplayName:      "Ei",
		Entity:           "system",
		ShortDescription: "Your companion, guide, and keeper of everything learned so far.",
		LongDescription:  "Ei is omniscient across every group and persona, orchestrates cross-persona validation, and runs the nightly ceremony.",
		GroupPrimary:     GeneralGroup,
		PauseUntil:       PauseActive,
		HeartbeatDelayMs: int64(6 * 60 * 60 * 1000),
		ContextWindowMs:  int64(7 * 24 * 60 * 60 * 1000),
	}
}
