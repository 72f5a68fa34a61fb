package types

// Priority levels for a queue item. Ordering is high < normal < low.
const (
	PriorityHigh   = "high"
	PriorityNormal = "normal"
	PriorityLow    = "low"
)

// priorityRank gives the sort weight for a Priority value (lower sorts
// first).
func priorityRank(p string) int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityNormal:
		return 1
	case PriorityLow:
		return 2
	default:
		return 1
	}
}

// NextStep names the handler to invoke when a queued LLM call completes.
type NextStep string

// The closed set of handler tags. Adding a handler requires a new tag here
// and a matching entry in the handler dispatch map.
const (
	HandleResponse NextStep = "HandleResponse"

	HandleHumanFactScan   NextStep = "HandleHumanFactScan"
	HandleHumanTraitScan  NextStep = "HandleHumanTraitScan"
	HandleHumanTopicScan  NextStep = "HandleHumanTopicScan"
	HandleHumanPersonScan NextStep = "HandleHumanPersonScan"

	HandleHumanItemMatch  NextStep = "HandleHumanItemMatch"
	HandleHumanItemUpdate NextStep = "HandleHumanItemUpdate"

	HandleCeremonyProgress NextStep = "HandleCeremonyProgress"
	HandleEiValidation     NextStep = "HandleEiValidation"

	HandlePersonaGeneration NextStep = "HandlePersonaGeneration"
	HandleDescriptionRegen  NextStep = "HandleDescriptionRegen"

	HandlePersonaTopicScan   NextStep = "HandlePersonaTopicScan"
	HandlePersonaTopicMatch  NextStep = "HandlePersonaTopicMatch"
	HandlePersonaTopicUpdate NextStep = "HandlePersonaTopicUpdate"

	HandleBehaviorGate   NextStep = "HandleBehaviorGate"
	HandleBehaviorExtract NextStep = "HandleBehaviorExtract"
	HandleBehaviorMap    NextStep = "HandleBehaviorMap"

	HandleHeartbeat NextStep = "HandleHeartbeat"

	HandleExpire  NextStep = "HandleExpire"
	HandleExplore NextStep = "HandleExplore"
)

// Prompt is the materialized request body sent to the LLM client.
type Prompt struct {
	System   string    `json:"system,omitempty"`
	User     string    `json:"user,omitempty"`
	Messages []ChatMsg `json:"messages,omitempty"`
}

// ChatMsg is one turn in a native chat-format prompt.
type ChatMsg struct {
	Role    string `json:"role"` // "user" | "assistant"
	Content string `json:"content"`
}

// LLMRequest is a durable queue item describing one pending LLM call.
type LLMRequest struct {
	ID        string         `json:"id"`
	CreatedAt int64          `json:"created_at"`
	Priority  string         `json:"priority"`
	Attempts  int            `json:"attempts"`

	NextStep NextStep       `json:"next_step"`
	Data     map[string]any `json:"data"`
	Prompt   Prompt         `json:"prompt"`

	Temperature float64 `json:"temperature"`
	Model       string  `json:"model,omitempty"`

	Deadline int64 `json:"deadline,omitempty"` // unix-ms
}

// CeremonyProgressKey is the key under LLMRequest.Data carrying the
// ceremony phase array, e.g. []string{"exposure","decay","expire","explore"}.
const CeremonyProgressKey = "ceremony_progress"

// CeremonyProgress reads the ceremony_progress array off a queue item's
// data payload, if present.
func (r *LLMRequest) CeremonyProgress() ([]string, bool) {
	raw, ok := r.Data[CeremonyProgressKey]
	if !ok {
		return nil, false
	}
	switch v := raw.(type) {
	case []string:
		return v, true
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out, true
	default:
		return nil, false
	}
}

// Less implements the (priority, created_at) stable ordering used by the
// queue: highest priority first, then oldest created_at.
func Less(a, b LLMRequest) bool {
	pa, pb := priorityRank(a.Priority), priorityRank(b.Priority)
	if pa != pb {
		return pa < pb
	}
	return a.CreatedAt < b.CreatedAt
}
