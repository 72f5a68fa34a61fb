// Package integration implements read-only adapters over foreign
// code-session storage: directories of JSON files laid out the way a
// code-session tool persists its own sessions, messages, and message parts.
// Adapters here never write to the foreign directory — only to this
// engine's own StateManager, through the same mutators any other caller
// uses.
package integration

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

// foreignStore reads a code-session tool's on-disk layout:
// <root>/session/<project>/<id>.json, <root>/message/<sessionID>/<id>.json,
// <root>/part/<messageID>/<id>.json. It never writes.
type foreignStore struct {
	root string
}

func newForeignStore(root string) *foreignStore {
	return &foreignStore{root: root}
}

func (f *foreignStore) list(segments ...string) ([]string, error) {
	dir := filepath.Join(append([]string{f.root}, segments...)...)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var items []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			items = append(items, name)
			continue
		}
		if strings.HasSuffix(name, ".json") {
			items = append(items, strings.TrimSuffix(name, ".json"))
		}
	}
	return items, nil
}

func (f *foreignStore) get(v any, segments ...string) error {
	path := filepath.Join(append([]string{f.root}, segments...)...) + ".json"
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// foreignSession mirrors the fields this adapter actually reads from a
// session record; everything else in the foreign JSON is ignored.
type foreignSession struct {
	ID        string `json:"id"`
	ProjectID string `json:"projectID"`
	Title     string `json:"title"`
}

// foreignMessage mirrors the fields read from a message record.
type foreignMessage struct {
	ID   string `json:"id"`
	Role string `json:"role"` // "user" | "assistant"
	Time struct {
		Created int64 `json:"created"`
	} `json:"time"`
}

// foreignTextPart mirrors the fields read from a text-typed message part;
// other part types (tool calls, file diffs) carry no human-readable
// conversational content and are skipped.
type foreignTextPart struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Text string `json:"text"`
}

// listSessions enumerates every session across every project directory.
func (f *foreignStore) listSessions() ([]foreignSession, error) {
	projects, err := f.list("session")
	if err != nil {
		return nil, err
	}
	var out []foreignSession
	for _, projectID := range projects {
		ids, err := f.list("session", projectID)
		if err != nil {
			continue
		}
		for _, id := range ids {
			var s foreignSession
			if err := f.get(&s, "session", projectID, id); err != nil {
				continue
			}
			out = append(out, s)
		}
	}
	return out, nil
}

// messagesSince returns sessionID's messages with Time.Created > afterMs,
// oldest first, each paired with its concatenated text-part content.
func (f *foreignStore) messagesSince(sessionID string, afterMs int64) ([]foreignMessage, map[string]string, error) {
	ids, err := f.list("message", sessionID)
	if err != nil {
		return nil, nil, err
	}

	var messages []foreignMessage
	texts := make(map[string]string)
	for _, id := range ids {
		var m foreignMessage
		if err := f.get(&m, "message", sessionID, id); err != nil {
			continue
		}
		if m.Time.Created <= afterMs {
			continue
		}
		messages = append(messages, m)
		texts[m.ID] = f.textOf(m.ID)
	}

	for i := 1; i < len(messages); i++ {
		for j := i; j > 0 && messages[j].Time.Created < messages[j-1].Time.Created; j-- {
			messages[j], messages[j-1] = messages[j-1], messages[j]
		}
	}
	return messages, texts, nil
}

// textOf concatenates every text-typed part belonging to messageID.
func (f *foreignStore) textOf(messageID string) string {
	ids, err := f.list("part", messageID)
	if err != nil {
		return ""
	}
	var sb strings.Builder
	for _, id := range ids {
		var p foreignTextPart
		if err := f.get(&p, "part", messageID, id); err != nil {
			continue
		}
		if p.Type != "text" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(p.Text)
	}
	return sb.String()
}
