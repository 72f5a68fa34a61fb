package types

// Config is the layered on-disk configuration for the engine: provider
// credentials, per-operation model defaults, and tunables for the
// ceremony/heartbeat scheduler. Loaded by internal/config.
type Config struct {
	// Model selection, "<provider>:<model>" form.
	Model      string `json:"model,omitempty"`
	SmallModel string `json:"small_model,omitempty"`

	Provider map[string]ProviderConfig `json:"provider,omitempty"`

	// DataPath is the profile directory the Storage backend reads/writes.
	DataPath string `json:"data_path,omitempty"`

	Ceremony CeremonyConfig `json:"ceremony,omitempty"`
}

// ProviderConfig holds configuration for a specific LLM provider.
type ProviderConfig struct {
	APIKey  string `json:"apiKey,omitempty"`
	BaseURL string `json:"baseURL,omitempty"`
	Model   string `json:"model,omitempty"`
	Disable bool   `json:"disable,omitempty"`

	// Npm mirrors the teacher's provider-type discriminator so the same
	// inference table can route a configured account to the right
	// internal/llmclient adapter.
	Npm string `json:"npm,omitempty"`
}

// CeremonyConfig exposes the ceremony/heartbeat tunables: decay half-life,
// desire-gap threshold, and sentiment floor. Only DailyCeremonyHour is read
// from the loaded config at run time; the decay phase and the heartbeat scan
// use the built-in default half-life, gap threshold and sentiment floor, and
// nothing uses DecayCheckIntervalMinutes.
type CeremonyConfig struct {
	// DecayHalfLifeHours is the half-life, in hours, of the exponential
	// decay applied to topic/person level_current during the ceremony's
	// Decay phase.
	DecayHalfLifeHours float64 `json:"decay_half_life_hours,omitempty"`

	// DesireGapThreshold is the minimum level_ideal - level_current that
	// triggers heartbeat initiative.
	DesireGapThreshold float64 `json:"desire_gap_threshold,omitempty"`

	// SentimentFloor excludes desire-gap triggers for topics/people whose
	// sentiment is at or below this value.
	SentimentFloor float64 `json:"sentiment_floor,omitempty"`

	// DailyCeremonyHour is the local wall-clock hour (0-23) at which the
	// Daily Ceremony is triggered. Defaults to 9.
	DailyCeremonyHour int `json:"daily_ceremony_hour,omitempty"`

	// DecayCheckIntervalMinutes is an interval in minutes for a Decay-only
	// check outside of the Daily Ceremony. It is merged from config, but no
	// Decay-only check exists: decay runs only in the ceremony's Decay phase.
	DecayCheckIntervalMinutes int `json:"decay_check_interval_minutes,omitempty"`
}

// DefaultCeremonyConfig returns the engine's tuned defaults (see DESIGN.md
// for the reasoning behind each value).
func DefaultCeremonyConfig() CeremonyConfig {
	return CeremonyConfig{
		DecayHalfLifeHours:        7 * 24,
		DesireGapThreshold:        0.3,
		SentimentFloor:            -0.5,
		DailyCeremonyHour:         9,
		DecayCheckIntervalMinutes: 60,
	}
}

// Model represents an LLM model available from a provider.
type Model struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	ProviderID      string `json:"providerID"`
	ContextLength   int    `json:"contextLength"`
	MaxOutputTokens int    `json:"maxOutputTokens,omitempty"`
}

// ContextWindowDefault is the conservative fallback context window (in
// tokens) used when no override or auto-detection is available.
const ContextWindowDefault = 8192

// ExtractionBudgetFraction is the fraction of the resolved context window
// the extraction chunker uses as its working budget per call.
const ExtractionBudgetFraction = 0.75

// ExtractionBudget returns floor(contextWindow * ExtractionBudgetFraction).
func ExtractionBudget(contextWindow int) int {
	if contextWindow <= 0 {
		contextWindow = ContextWindowDefault
	}
	return int(float64(contextWindow) * ExtractionBudgetFraction)
}
