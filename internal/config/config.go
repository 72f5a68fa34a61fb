package config

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"

	"github.com/eicompanion/ei/pkg/types"
)

// Load loads configuration from multiple layers, each overriding the last:
//  1. Global config (~/.config/ei/ei.json[c])
//  2. Profile-local config (<profileDir>/ei.json[c])
//  3. Environment variable overrides
//
// Missing files are not an error; an absent config is simply the zero value
// plus whatever the Ceremony defaults provide.
func Load(profileDir string) (*types.Config, error) {
	config := &types.Config{
		Provider: make(map[string]types.ProviderConfig),
		Ceremony: types.DefaultCeremonyConfig(),
		DataPath: profileDir,
	}

	globalPath := GetPaths().Config
	loadConfigFile(filepath.Join(globalPath, "ei.json"), config)
	loadConfigFile(filepath.Join(globalPath, "ei.jsonc"), config)

	if profileDir != "" {
		loadConfigFile(filepath.Join(profileDir, "ei.json"), config)
		loadConfigFile(filepath.Join(profileDir, "ei.jsonc"), config)
	}

	applyEnvOverrides(config)

	return config, nil
}

func loadConfigFile(path string, config *types.Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err // file doesn't exist, skip
	}

	data = stripJSONComments(data)

	var fileConfig types.Config
	if err := json.Unmarshal(data, &fileConfig); err != nil {
		return err
	}

	mergeConfig(config, &fileConfig)
	return nil
}

// stripJSONComments removes // and /* */ comments from JSONC.
func stripJSONComments(data []byte) []byte {
	singleLine := regexp.MustCompile(`//.*$`)
	lines := bytes.Split(data, []byte("\n"))
	for i, line := range lines {
		lines[i] = singleLine.ReplaceAll(line, nil)
	}
	data = bytes.Join(lines, []byte("\n"))

	multiLine := regexp.MustCompile(`/\*[\s\S]*?\*/`)
	return multiLine.ReplaceAll(data, nil)
}

// mergeConfig merges source config into target, field by field. Zero
// values in source never clobber a target that already has a value —
// later layers only override what they actually set.
func mergeConfig(target, source *types.Config) {
	if source.Model != "" {
		target.Model = source.Model
	}
	if source.SmallModel != "" {
		target.SmallModel = source.SmallModel
	}
	if source.DataPath != "" {
		target.DataPath = source.DataPath
	}

	if source.Provider != nil {
		if target.Provider == nil {
			target.Provider = make(map[string]types.ProviderConfig)
		}
		for k, v := range source.Provider {
			target.Provider[k] = v
		}
	}

	mergeCeremony(&target.Ceremony, source.Ceremony)
}

func mergeCeremony(target *types.CeremonyConfig, source types.CeremonyConfig) {
	if source.DecayHalfLifeHours != 0 {
		target.DecayHalfLifeHours = source.DecayHalfLifeHours
	}
	if source.DesireGapThreshold != 0 {
		target.DesireGapThreshold = source.DesireGapThreshold
	}
	if source.SentimentFloor != 0 {
		target.SentimentFloor = source.SentimentFloor
	}
	if source.DailyCeremonyHour != 0 {
		target.DailyCeremonyHour = source.DailyCeremonyHour
	}
	if source.DecayCheckIntervalMinutes != 0 {
		target.DecayCheckIntervalMinutes = source.DecayCheckIntervalMinutes
	}
}

// providerEnvVars maps a provider id to the environment variable that
// supplies its API key when no config file has set one.
var providerEnvVars = map[string]string{
	"anthropic": "ANTHROPIC_API_KEY",
	"openai":    "OPENAI_API_KEY",
	"google":    "GOOGLE_API_KEY",
	"bedrock":   "AWS_ACCESS_KEY_ID",
}

func applyEnvOverrides(config *types.Config) {
	for provider, envVar := range providerEnvVars {
		apiKey := os.Getenv(envVar)
		if apiKey == "" {
			continue
		}
		if config.Provider == nil {
			config.Provider = make(map[string]types.ProviderConfig)
		}
		p := config.Provider[provider]
		if p.APIKey == "" {
			p.APIKey = apiKey
			config.Provider[provider] = p
		}
	}

	if model := os.Getenv("EI_MODEL"); model != "" {
		config.Model = model
	}
	if smallModel := os.Getenv("EI_SMALL_MODEL"); smallModel != "" {
		config.SmallModel = smallModel
	}
	if dataPath := os.Getenv("EI_DATA_PATH"); dataPath != "" {
		config.DataPath = dataPath
	}
}

// Save writes config as indented JSON to path, creating parent directories
// as needed.
func Save(config *types.Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
