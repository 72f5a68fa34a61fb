package handler

import (
	"context"
	"testing"

	"github.com/eicompanion/ei/internal/queue"
	"github.com/eicompanion/ei/internal/statemgr"
	"github.com/eicompanion/ei/internal/storage"
	"github.com/eicompanion/ei/pkg/types"
)

func newTestDeps(t *testing.T) queue.Deps {
	t.Helper()
	store, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	sm, err := statemgr.New(context.Background(), statemgr.Options{Store: store})
	if err != nil {
		t.Fatalf("statemgr.New: %v", err)
	}
	return queue.Deps{
		State:    sm,
		Messages: sm.GetMessages,
	}
}

func addTestPersona(t *testing.T, deps queue.Deps, id string) types.Persona {
	t.Helper()
	p := types.Persona{
		ID:           id,
		DisplayName:  id,
		Entity:       "system",
		GroupPrimary: types.GeneralGroup,
		PauseUntil:   types.PauseActive,
	}
	if err := deps.State.AddPersona(p); err != nil {
		t.Fatalf("AddPersona: %v", err)
	}
	return p
}
