package integration

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/eicompanion/ei/internal/statemgr"
	"github.com/eicompanion/ei/internal/storage"
	"github.com/eicompanion/ei/pkg/types"
)

func writeJSON(t *testing.T, path string, v any) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// seedForeignTree lays out one project, one session, and two messages
// ("user" then "assistant") each with a single text part, at the given
// timestamps.
func seedForeignTree(t *testing.T, root string, userAt, assistantAt int64) {
	t.Helper()
	writeJSON(t, filepath.Join(root, "session", "proj1", "sess1.json"), map[string]any{
		"id":        "sess1",
		"projectID": "proj1",
		"title":     "test session",
	})

	writeJSON(t, filepath.Join(root, "message", "sess1", "msg-user.json"), map[string]any{
		"id":   "msg-user",
		"role": "user",
		"time": map[string]any{"created": userAt},
	})
	writeJSON(t, filepath.Join(root, "part", "msg-user", "part1.json"), map[string]any{
		"id":   "part1",
		"type": "text",
		"text": "hello from the user",
	})

	writeJSON(t, filepath.Join(root, "message", "sess1", "msg-assistant.json"), map[string]any{
		"id":   "msg-assistant",
		"role": "assistant",
		"time": map[string]any{"created": assistantAt},
	})
	writeJSON(t, filepath.Join(root, "part", "msg-assistant", "part1.json"), map[string]any{
		"id":   "part1",
		"type": "text",
		"text": "hello from the assistant",
	})
}

func newTestManager(t *testing.T) *statemgr.StateManager {
	t.Helper()
	fs, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	t.Cleanup(func() { fs.Close() })

	sm, err := statemgr.New(context.Background(), statemgr.Options{Store: fs})
	if err != nil {
		t.Fatalf("statemgr.New: %v", err)
	}
	t.Cleanup(func() { sm.Close(context.Background()) })
	return sm
}

func TestSyncNewMessagesAppendsAndAdvancesWatermark(t *testing.T) {
	root := t.TempDir()
	seedForeignTree(t, root, 1000, 2000)

	sm := newTestManager(t)
	personaID := types.EiPersonaID

	im := New(root)
	imported, err := im.SyncNewMessages(sm, personaID)
	if err != nil {
		t.Fatalf("SyncNewMessages: %v", err)
	}
	if imported != 2 {
		t.Fatalf("expected 2 imported messages, got %d", imported)
	}

	msgs := sm.GetMessages(personaID)
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages in log, got %d", len(msgs))
	}
	if msgs[0].Role != types.RoleHuman || msgs[0].Content != "hello from the user" {
		t.Fatalf("unexpected first message: %+v", msgs[0])
	}
	if msgs[1].Role != types.RoleSystem || !msgs[1].Read {
		t.Fatalf("expected imported assistant message marked read: %+v", msgs[1])
	}

	human := sm.GetHuman()
	if human.Settings.Opencode.LastSync != 2000 {
		t.Fatalf("expected last_sync=2000, got %d", human.Settings.Opencode.LastSync)
	}

	// A second sync with nothing new imports nothing and does not move the
	// watermark backwards.
	imported, err = im.SyncNewMessages(sm, personaID)
	if err != nil {
		t.Fatalf("SyncNewMessages (second pass): %v", err)
	}
	if imported != 0 {
		t.Fatalf("expected 0 imported on second pass, got %d", imported)
	}
}

func TestArchiveExtractQueuesScansWithoutPersistingMessages(t *testing.T) {
	root := t.TempDir()
	seedForeignTree(t, root, 1000, 2000)

	sm := newTestManager(t)
	personaID := types.EiPersonaID

	sm.UpdateHuman(func(h *types.Human) {
		h.Settings.Opencode.LastSync = 2000
	})

	im := New(root)
	queued, err := im.ArchiveExtract(sm, personaID, "anthropic:claude-3-haiku")
	if err != nil {
		t.Fatalf("ArchiveExtract: %v", err)
	}
	if queued != 1 {
		t.Fatalf("expected 1 transcript queued, got %d", queued)
	}

	if msgs := sm.GetMessages(personaID); len(msgs) != 0 {
		t.Fatalf("archive extraction must not persist messages, found %d", len(msgs))
	}

	queue := sm.QueueGetAll()
	if len(queue) != 4 {
		t.Fatalf("expected 4 queued scan items (one per category), got %d", len(queue))
	}

	human := sm.GetHuman()
	if human.Settings.Opencode.ExtractionPoint != 2000 {
		t.Fatalf("expected extraction_point=2000, got %d", human.Settings.Opencode.ExtractionPoint)
	}

	// Nothing new to extract once extraction_point has caught up to last_sync.
	queued, err = im.ArchiveExtract(sm, personaID, "anthropic:claude-3-haiku")
	if err != nil {
		t.Fatalf("ArchiveExtract (second pass): %v", err)
	}
	if queued != 0 {
		t.Fatalf("expected 0 queued on second pass, got %d", queued)
	}
}
