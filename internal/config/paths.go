// Package config loads the layered on-disk configuration for the engine.
package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// Paths contains the standard XDG-style paths for ei's own data.
type Paths struct {
	Data   string // ~/.local/share/ei
	Config string // ~/.config/ei
	Cache  string // ~/.cache/ei
	State  string // ~/.local/state/ei
}

// GetPaths returns the standard paths for ei's data.
func GetPaths() *Paths {
	return &Paths{
		Data:   filepath.Join(getEnvOrDefault("XDG_DATA_HOME", defaultDataHome()), "ei"),
		Config: filepath.Join(getEnvOrDefault("XDG_CONFIG_HOME", defaultConfigHome()), "ei"),
		Cache:  filepath.Join(getEnvOrDefault("XDG_CACHE_HOME", defaultCacheHome()), "ei"),
		State:  filepath.Join(getEnvOrDefault("XDG_STATE_HOME", defaultStateHome()), "ei"),
	}
}

// EnsurePaths creates all required directories.
func (p *Paths) EnsurePaths() error {
	for _, dir := range []string{p.Data, p.Config, p.Cache, p.State} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

// ProfilePath returns the default profile directory the storage backend
// reads/writes, unless overridden by Config.DataPath.
func (p *Paths) ProfilePath() string {
	return filepath.Join(p.Data, "profile")
}

// AuthPath returns the path to the credentials file holding provider API
// keys and sync passphrase material outside the main config file.
func (p *Paths) AuthPath() string {
	return filepath.Join(p.Data, "auth.json")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func defaultDataHome() string {
	if runtime.GOOS == "windows" {
		return os.Getenv("APPDATA")
	}
	return filepath.Join(os.Getenv("HOME"), ".local", "share")
}

func defaultConfigHome() string {
	if runtime.GOOS == "windows" {
		return os.Getenv("APPDATA")
	}
	return filepath.Join(os.Getenv("HOME"), ".config")
}

func defaultCacheHome() string {
	if runtime.GOOS == "windows" {
		return filepath.Join(os.Getenv("APPDATA"), "cache")
	}
	return filepath.Join(os.Getenv("HOME"), ".cache")
}

func defaultStateHome() string {
	if runtime.GOOS == "windows" {
		return os.Getenv("APPDATA")
	}
	return filepath.Join(os.Getenv("HOME"), ".local", "state")
}

// GlobalConfigPath returns the path to the global config file.
func GlobalConfigPath() string {
	return filepath.Join(GetPaths().Config, "ei.json")
}

// ProfileConfigPath returns the path to a profile-local config file, which
// overrides the global config for settings scoped to one profile directory.
func ProfileConfigPath(profileDir string) string {
	return filepath.Join(profileDir, "ei.json")
}
