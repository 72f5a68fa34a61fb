package integration

import (
	"fmt"
	"strings"

	"github.com/eicompanion/ei/internal/handler"
	"github.com/eicompanion/ei/internal/statemgr"
	"github.com/eicompanion/ei/pkg/types"
)

// humanCategories are the four DataItem categories every extraction pass
// scans the human side of a conversation for.
var humanCategories = []string{
	types.CategoryFact,
	types.CategoryTrait,
	types.CategoryTopic,
	types.CategoryPerson,
}

// Importer is a read-only adapter over one code-session tool's foreign
// storage directory. It never mutates that directory; it only reads it and
// calls out to a StateManager the same way any other caller would.
type Importer struct {
	store *foreignStore
}

// New returns an Importer rooted at a foreign code-session storage
// directory (the tool's own data directory, e.g. its session/message/part
// tree).
func New(foreignStorageDir string) *Importer {
	return &Importer{store: newForeignStore(foreignStorageDir)}
}

// SyncNewMessages appends every foreign message newer than the recorded
// last_sync watermark (Human.Settings.Opencode) to personaID's own message log, mapping
// "user" to RoleHuman and "assistant" to RoleSystem, then advances
// last_sync to the newest message's timestamp. Imported assistant messages
// are marked read since no live response is owed for already-answered
// history.
func (im *Importer) SyncNewMessages(sm *statemgr.StateManager, personaID string) (imported int, err error) {
	human := sm.GetHuman()
	since := human.Settings.Opencode.LastSync

	sessions, err := im.store.listSessions()
	if err != nil {
		return 0, fmt.Errorf("integration: list foreign sessions: %w", err)
	}

	newest := since
	for _, session := range sessions {
		messages, texts, err := im.store.messagesSince(session.ID, since)
		if err != nil {
			continue
		}
		for _, m := range messages {
			text := strings.TrimSpace(texts[m.ID])
			if text == "" {
				continue
			}
			role := types.RoleHuman
			if m.Role == "assistant" {
				role = types.RoleSystem
			}
			msg := types.Message{
				PersonaID:     personaID,
				Role:          role,
				Content:       text,
				Timestamp:     m.Time.Created,
				ContextStatus: types.ContextDefault,
				Read:          role == types.RoleSystem,
			}
			if _, err := sm.AppendMessage(personaID, msg); err != nil {
				return imported, err
			}
			imported++
			if m.Time.Created > newest {
				newest = m.Time.Created
			}
		}
	}

	if newest > since {
		sm.UpdateHuman(func(h *types.Human) {
			h.Settings.Opencode.LastSync = newest
		})
	}
	return imported, nil
}

// ArchiveExtract reads every foreign session message between the recorded
// extraction_point watermark (Human.Settings.Opencode) and last_sync (older history already imported
// by an earlier SyncNewMessages but not yet knowledge-mined), builds one
// transcript per session, and enqueues the four human-category scan items
// directly — without appending those historical messages into this
// engine's own message log, per the archive-extraction contract.
func (im *Importer) ArchiveExtract(sm *statemgr.StateManager, personaID, modelRef string) (transcriptsQueued int, err error) {
	human := sm.GetHuman()
	from := human.Settings.Opencode.ExtractionPoint
	to := human.Settings.Opencode.LastSync
	if to <= from {
		return 0, nil
	}

	sessions, err := im.store.listSessions()
	if err != nil {
		return 0, fmt.Errorf("integration: list foreign sessions: %w", err)
	}

	for _, session := range sessions {
		messages, texts, err := im.store.messagesSince(session.ID, from)
		if err != nil {
			continue
		}

		var sb strings.Builder
		for _, m := range messages {
			if m.Time.Created > to {
				break
			}
			text := strings.TrimSpace(texts[m.ID])
			if text == "" {
				continue
			}
			fmt.Fprintf(&sb, "%s: %s\n", m.Role, text)
		}
		transcript := sb.String()
		if transcript == "" {
			continue
		}

		for _, category := range humanCategories {
			sm.QueueEnqueue(handler.BuildHumanScanItem(personaID, category, transcript, modelRef))
		}
		transcriptsQueued++
	}

	sm.UpdateHuman(func(h *types.Human) {
		h.Settings.Opencode.ExtractionPoint = to
	})
	return transcriptsQueued, nil
}
