package commands

import (
	"context"
	"fmt"

	"github.com/eicompanion/ei/internal/config"
	"github.com/eicompanion/ei/internal/engine"
	"github.com/eicompanion/ei/internal/llmclient"
	"github.com/eicompanion/ei/internal/logging"
	"github.com/eicompanion/ei/internal/storage"
	"github.com/eicompanion/ei/pkg/types"
)

// buildEngine loads config for profileDir, constructs the provider
// registry, opens the file-backed Store, and returns a started-but-not-Run
// Engine. frontend names the caller for the single-instance lock claim.
func buildEngine(ctx context.Context, profileDir, frontend string) (*engine.Engine, *types.Config, error) {
	cfg, err := config.Load(profileDir)
	if err != nil {
		return nil, nil, err
	}

	registry := llmclient.NewRegistry()
	for providerID, pc := range cfg.Provider {
		if pc.Disable || pc.APIKey == "" {
			continue
		}
		kind := ""
		if providerID == "local" {
			kind = "local"
		}
		if err := registry.RegisterAccount(ctx, llmclient.Account{
			Provider: providerID,
			Model:    pc.Model,
			APIKey:   pc.APIKey,
			BaseURL:  pc.BaseURL,
			Kind:     kind,
		}); err != nil {
			logging.Warn().Err(err).Str("provider", providerID).Msg("ei: failed to register provider")
		}
	}

	store, err := storage.NewFileStore(profileDir)
	if err != nil {
		return nil, nil, fmt.Errorf("ei: open storage: %w", err)
	}

	client := llmclient.New(registry)
	eng, err := engine.New(ctx, engine.Options{
		Store:      store,
		Client:     client,
		Kinds:      registry,
		ProfileDir: profileDir,
		Frontend:   frontend,
		Ceremony:   cfg.Ceremony,
	})
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	return eng, cfg, nil
}
