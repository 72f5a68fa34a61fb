// Package config loads and merges the engine's on-disk configuration:
// provider credentials, per-operation model defaults, and the ceremony/
// heartbeat tunables in types.CeremonyConfig.
//
// # Configuration Loading
//
// Load merges configuration from three layers, in increasing priority:
//
//  1. Global config (~/.config/ei/ei.json or ei.jsonc)
//  2. Profile-local config (<profileDir>/ei.json or ei.jsonc)
//  3. Environment variable overrides
//
// Both JSON and JSONC (JSON with // and /* */ comments) are accepted;
// comments are stripped before unmarshaling. Scalar fields from a later
// layer overwrite an earlier layer's value only when set; the Provider map
// is merged key by key so a profile config can add or override a single
// provider without restating the rest.
//
// # Environment Variable Overrides
//
//   - EI_MODEL / EI_SMALL_MODEL - override the default/small model
//   - EI_DATA_PATH - override the profile directory
//   - ANTHROPIC_API_KEY, OPENAI_API_KEY, GOOGLE_API_KEY,
//     AWS_ACCESS_KEY_ID - fill in a provider's APIKey when the config
//     files leave it blank
//
// # Path Management
//
// Paths follows the XDG Base Directory layout, rooted under "ei" rather
// than a per-project directory:
//   - Data: ~/.local/share/ei (XDG_DATA_HOME)
//   - Config: ~/.config/ei (XDG_CONFIG_HOME)
//   - Cache: ~/.cache/ei (XDG_CACHE_HOME)
//   - State: ~/.local/state/ei (XDG_STATE_HOME)
//
// On Windows these fall back to APPDATA.
package config
