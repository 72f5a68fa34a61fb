// Package statemgr is the single in-memory source of truth for the
// engine's state: the Human entity, the persona registry, per-persona
// message logs, the LLM request queue, and settings. All mutation goes
// through pure mutators here; persistence is a debounced side effect, never
// a blocking step in the caller's path.
package statemgr

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/agnivade/levenshtein"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/rs/zerolog/log"

	"github.com/eicompanion/ei/internal/apperrors"
	"github.com/eicompanion/ei/internal/storage"
	"github.com/eicompanion/ei/pkg/types"
)

// debounceWindow is the single-shot write-through delay: every mutator
// resets this timer, so a burst of mutations collapses into one save.
const debounceWindow = 100 * time.Millisecond

// fuzzyMatchThreshold is the minimum normalized similarity score (1 -
// distance/maxLen) resolvePersonaByName accepts for its fuzzy step.
const fuzzyMatchThreshold = 0.6

// Notifier receives a notification whenever a mutator changes state. The
// event bus wiring lives above this package so statemgr does not depend on
// a specific pub/sub implementation.
type Notifier interface {
	Notify(eventType string, payload map[string]any)
}

// noopNotifier is used when the caller supplies none.
type noopNotifier struct{}

func (noopNotifier) Notify(string, map[string]any) {}

// Event type names statemgr publishes through Notifier.
const (
	EventHumanUpdated    = "onHumanUpdated"
	EventPersonaAdded    = "onPersonaAdded"
	EventPersonaUpdated  = "onPersonaUpdated"
	EventPersonaDeleted  = "onPersonaDeleted"
	EventMessageAdded    = "onMessageAdded"
	EventMessageRemoved  = "onMessageRemoved"
	EventDataItemChanged = "onDataItemChanged"
	EventQuoteChanged    = "onQuoteChanged"
	EventQueueChanged    = "onQueueStateChanged"
)

// StateManager is the authoritative in-memory state holder.
type StateManager struct {
	store    storage.Store
	instance *storage.InstanceLock
	notify   Notifier

	mu    sync.RWMutex
	state *types.StorageState

	saveMu      sync.Mutex
	debounce    *time.Timer
	pendingSave bool
}

// Options configures New.
type Options struct {
	Store    storage.Store
	Notifier Notifier
	// Frontend names the caller for the instance lock claim ("cli", "daemon").
	Frontend string
	// ProfileDir is where ei.lock lives; required for single-instance
	// enforcement. Empty disables the instance lock (used by tests).
	ProfileDir string
}

// New constructs a StateManager, loading existing state (or seeding a
// fresh one) and acquiring the single-instance lock.
func New(ctx context.Context, opts Options) (*StateManager, error) {
	notifier := opts.Notifier
	if notifier == nil {
		notifier = noopNotifier{}
	}

	sm := &StateManager{
		store:  opts.Store,
		notify: notifier,
	}

	if opts.ProfileDir != "" {
		sm.instance = storage.NewInstanceLock(opts.ProfileDir)
		if err := sm.instance.Acquire(ctx, opts.Frontend); err != nil {
			return nil, fmt.Errorf("%w: %v", apperrors.ErrPersonaLockHeld, err)
		}
	}

	state, err := sm.load(ctx, opts.ProfileDir)
	if err != nil {
		if sm.instance != nil {
			sm.instance.Release()
		}
		return nil, err
	}
	sm.state = state

	return sm, nil
}

// load reads state from the store, applying the corrupt-storage recovery
// rule: rename the offending blob aside and boot empty rather than wiping
// it or propagating the error.
func (sm *StateManager) load(ctx context.Context, profileDir string) (*types.StorageState, error) {
	state, err := sm.store.Load(ctx)
	if err == nil {
		return migrateLegacyGroups(state), nil
	}
	if err == storage.ErrNotFound {
		return types.NewStorageState(), nil
	}

	log.Error().Err(err).Msg(apperrors.ErrStorageCorrupt.Error())
	if profileDir != "" {
		corrupt := filepath.Join(profileDir, fmt.Sprintf("state.corrupt.%d", time.Now().UnixMilli()))
		if renameErr := os.Rename(filepath.Join(profileDir, "state.json"), corrupt); renameErr != nil {
			log.Warn().Err(renameErr).Msg("statemgr: could not preserve corrupt state blob")
		}
	}
	return types.NewStorageState(), nil
}

// legacyWildcardGroup is the pre-migration marker meaning "visible to every
// persona". The General group (types.GeneralGroup) replaces it.
const legacyWildcardGroup = "*"

// isLegacyWildcardGroup reports whether g is the old wildcard marker, using
// doublestar's glob matcher rather than a plain equality check so any
// legacy glob-style marker a prior schema version wrote (not just the bare
// "*") is recognized.
func isLegacyWildcardGroup(g string) bool {
	matched, err := doublestar.Match(g, "any-persona-group")
	return err == nil && matched
}

// migrateLegacyGroups replaces any pre-General wildcard group membership
// with types.GeneralGroup, on both personas and Human data items (spec.md:
// "the General group replaces any prior wildcard").
func migrateLegacyGroups(state *types.StorageState) *types.StorageState {
	for id, rec := range state.Personas {
		if rec.Entity.GroupPrimary == "" || isLegacyWildcardGroup(rec.Entity.GroupPrimary) {
			rec.Entity.GroupPrimary = types.GeneralGroup
		}
		rec.Entity.GroupsVisible = dropWildcardGroups(rec.Entity.GroupsVisible)
		state.Personas[id] = rec
	}

	for i := range state.Human.Facts {
		state.Human.Facts[i].PersonaGroups = migrateGroupSlice(state.Human.Facts[i].PersonaGroups)
	}
	for i := range state.Human.Traits {
		state.Human.Traits[i].PersonaGroups = migrateGroupSlice(state.Human.Traits[i].PersonaGroups)
	}
	for i := range state.Human.Topics {
		state.Human.Topics[i].PersonaGroups = migrateGroupSlice(state.Human.Topics[i].PersonaGroups)
	}
	for i := range state.Human.People {
		state.Human.People[i].PersonaGroups = migrateGroupSlice(state.Human.People[i].PersonaGroups)
	}
	for i := range state.Human.Quotes {
		state.Human.Quotes[i].PersonaGroups = migrateGroupSlice(state.Human.Quotes[i].PersonaGroups)
	}
	return state
}

func migrateGroupSlice(groups []string) []string {
	if len(groups) == 0 {
		return []string{types.GeneralGroup}
	}
	return dropWildcardGroups(groups)
}

func dropWildcardGroups(groups []string) []string {
	out := groups[:0:0]
	hadWildcard := false
	for _, g := range groups {
		if isLegacyWildcardGroup(g) {
			hadWildcard = true
			continue
		}
		out = append(out, g)
	}
	if hadWildcard {
		out = append(out, types.GeneralGroup)
	}
	return out
}

// Close flushes any pending debounced save synchronously and releases the
// instance lock. Call on clean shutdown.
func (sm *StateManager) Close(ctx context.Context) error {
	sm.saveMu.Lock()
	if sm.debounce != nil {
		sm.debounce.Stop()
		sm.debounce = nil
	}
	pending := sm.pendingSave
	sm.pendingSave = false
	sm.saveMu.Unlock()

	var err error
	if pending {
		err = sm.saveNow(ctx)
	}

	if sm.instance != nil {
		if relErr := sm.instance.Release(); relErr != nil && err == nil {
			err = relErr
		}
	}
	return err
}

// scheduleSave resets the debounce timer; the actual save runs on a
// background goroutine when it fires.
func (sm *StateManager) scheduleSave() {
	sm.saveMu.Lock()
	defer sm.saveMu.Unlock()

	sm.pendingSave = true
	if sm.debounce != nil {
		sm.debounce.Stop()
	}
	sm.debounce = time.AfterFunc(debounceWindow, func() {
		if err := sm.saveNow(context.Background()); err != nil {
			log.Error().Err(err).Msg(apperrors.ErrStorageFull.Error())
		}
	})
}

// saveNow serializes the current state and writes it through, regardless
// of the debounce timer's state.
func (sm *StateManager) saveNow(ctx context.Context) error {
	sm.mu.RLock()
	snapshot := cloneState(sm.state)
	sm.mu.RUnlock()

	sm.saveMu.Lock()
	sm.pendingSave = false
	sm.saveMu.Unlock()

	if err := sm.store.Save(ctx, snapshot); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrStorageFull, err)
	}
	return nil
}

// CheckpointSaveAuto forces an immediate synchronous save, bypassing the
// debounce window. Used by the ceremony sequencer before a risky phase
// transition.
func (sm *StateManager) CheckpointSaveAuto(ctx context.Context) error {
	return sm.saveNow(ctx)
}

func cloneState(s *types.StorageState) *types.StorageState {
	out := *s
	out.Personas = make(map[string]types.PersonaRecord, len(s.Personas))
	for id, rec := range s.Personas {
		recCopy := rec
		recCopy.Messages = append([]types.Message(nil), rec.Messages...)
		out.Personas[id] = recCopy
	}
	out.Queue = append([]types.LLMRequest(nil), s.Queue...)
	out.Human.Facts = append([]types.Fact(nil), s.Human.Facts...)
	out.Human.Traits = append([]types.Trait(nil), s.Human.Traits...)
	out.Human.Topics = append([]types.Topic(nil), s.Human.Topics...)
	out.Human.People = append([]types.Person(nil), s.Human.People...)
	out.Human.Quotes = append([]types.Quote(nil), s.Human.Quotes...)
	out.Settings = make(map[string]any, len(s.Settings))
	for k, v := range s.Settings {
		out.Settings[k] = v
	}
	return &out
}

// ---- Read accessors ----

// GetHuman returns a copy of the Human entity.
func (sm *StateManager) GetHuman() types.Human {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.state.Human
}

// GetPersonas returns every persona in the registry, including archived
// ones.
func (sm *StateManager) GetPersonas() []types.Persona {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	out := make([]types.Persona, 0, len(sm.state.Personas))
	for _, rec := range sm.state.Personas {
		out = append(out, rec.Entity)
	}
	return out
}

// GetPersonaByID returns the persona with the given id, if present.
func (sm *StateManager) GetPersonaByID(id string) (types.Persona, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	rec, ok := sm.state.Personas[id]
	return rec.Entity, ok
}

// ResolvePersonaByName matches query against display names and aliases in
// priority order: exact case-insensitive display name, exact alias, then a
// scored fuzzy match over the union of both. Ties in the fuzzy step break
// on most-recent last_heartbeat_check.
func (sm *StateManager) ResolvePersonaByName(query string) (types.Persona, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return types.Persona{}, false
	}

	for _, rec := range sm.state.Personas {
		if strings.ToLower(rec.Entity.DisplayName) == q {
			return rec.Entity, true
		}
	}
	for _, rec := range sm.state.Personas {
		for _, alias := range rec.Entity.Aliases {
			if strings.ToLower(alias) == q {
				return rec.Entity, true
			}
		}
	}

	type candidate struct {
		persona types.Persona
		score   float64
	}
	var best *candidate
	consider := func(name string, p types.Persona) {
		name = strings.ToLower(name)
		dist := levenshtein.ComputeDistance(q, name)
		maxLen := len(q)
		if len(name) > maxLen {
			maxLen = len(name)
		}
		if maxLen == 0 {
			return
		}
		score := 1 - float64(dist)/float64(maxLen)
		if score < fuzzyMatchThreshold {
			return
		}
		if best == nil ||
			score > best.score ||
			(score == best.score && p.LastHeartbeatCheck > best.persona.LastHeartbeatCheck) {
			best = &candidate{persona: p, score: score}
		}
	}
	for _, rec := range sm.state.Personas {
		consider(rec.Entity.DisplayName, rec.Entity)
		for _, alias := range rec.Entity.Aliases {
			consider(alias, rec.Entity)
		}
	}
	if best == nil {
		return types.Persona{}, false
	}
	return best.persona, true
}

// GetMessages returns a copy of personaID's message log.
func (sm *StateManager) GetMessages(personaID string) []types.Message {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	rec, ok := sm.state.Personas[personaID]
	if !ok {
		return nil
	}
	return append([]types.Message(nil), rec.Messages...)
}

// GetQuotes returns a copy of the Human's quote list.
func (sm *StateManager) GetQuotes() []types.Quote {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return append([]types.Quote(nil), sm.state.Human.Quotes...)
}

// QueueGetAll returns a copy of the full queue, in storage order (not
// priority order; callers that need dequeue order should use the queue
// package's selection logic).
func (sm *StateManager) QueueGetAll() []types.LLMRequest {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return append([]types.LLMRequest(nil), sm.state.Queue...)
}

// QueuePeekHighest returns the highest-priority, oldest eligible queue
// item without removing it, excluding HandleEiValidation items (those are
// only surfaced via QueueGetValidations).
func (sm *StateManager) QueuePeekHighest() (types.LLMRequest, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	var best *types.LLMRequest
	for i := range sm.state.Queue {
		item := &sm.state.Queue[i]
		if item.NextStep == types.HandleEiValidation {
			continue
		}
		if best == nil || types.Less(*item, *best) {
			best = item
		}
	}
	if best == nil {
		return types.LLMRequest{}, false
	}
	return *best, true
}

// QueueGetValidations returns all HandleEiValidation items, read only by
// the orchestrator's once-a-minute validation drain.
func (sm *StateManager) QueueGetValidations() []types.LLMRequest {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	var out []types.LLMRequest
	for _, item := range sm.state.Queue {
		if item.NextStep == types.HandleEiValidation {
			out = append(out, item)
		}
	}
	return out
}

// ---- Mutators ----
// Every mutator below takes the write lock, applies its change and
// schedules the debounced save; all but SortMessages, SetMessageFlag and
// MarkMessageRead also publish a Notifier event.

// UpdateHuman replaces the Human entity.
func (sm *StateManager) UpdateHuman(fn func(*types.Human)) {
	sm.mu.Lock()
	fn(&sm.state.Human)
	sm.mu.Unlock()
	sm.scheduleSave()
	sm.notify.Notify(EventHumanUpdated, nil)
}

// AddPersona inserts a new persona. Returns a plain error if the id
// already exists.
func (sm *StateManager) AddPersona(p types.Persona) error {
	sm.mu.Lock()
	if _, exists := sm.state.Personas[p.ID]; exists {
		sm.mu.Unlock()
		return fmt.Errorf("statemgr: persona %s already exists", p.ID)
	}
	sm.state.Personas[p.ID] = types.PersonaRecord{Entity: p}
	sm.mu.Unlock()
	sm.scheduleSave()
	sm.notify.Notify(EventPersonaAdded, map[string]any{"persona_id": p.ID})
	return nil
}

// UpdatePersona applies fn to the persona named by id, if present.
func (sm *StateManager) UpdatePersona(id string, fn func(*types.Persona)) error {
	sm.mu.Lock()
	rec, ok := sm.state.Personas[id]
	if !ok {
		sm.mu.Unlock()
		return apperrors.ErrPersonaNotFound
	}
	fn(&rec.Entity)
	sm.state.Personas[id] = rec
	sm.mu.Unlock()
	sm.scheduleSave()
	sm.notify.Notify(EventPersonaUpdated, map[string]any{"persona_id": id})
	return nil
}

// ArchivePersona marks a persona archived (soft-delete: conversation and
// data items are retained).
func (sm *StateManager) ArchivePersona(id string) error {
	return sm.UpdatePersona(id, func(p *types.Persona) { p.IsArchived = true })
}

// UnarchivePersona clears the archived flag.
func (sm *StateManager) UnarchivePersona(id string) error {
	return sm.UpdatePersona(id, func(p *types.Persona) { p.IsArchived = false })
}

// DeletePersona removes a persona and its message log permanently. The
// built-in Ei persona cannot be deleted.
func (sm *StateManager) DeletePersona(id string) error {
	if id == types.EiPersonaID {
		return fmt.Errorf("statemgr: cannot delete the Ei persona")
	}
	sm.mu.Lock()
	if _, ok := sm.state.Personas[id]; !ok {
		sm.mu.Unlock()
		return apperrors.ErrPersonaNotFound
	}
	delete(sm.state.Personas, id)
	sm.mu.Unlock()
	sm.scheduleSave()
	sm.notify.Notify(EventPersonaDeleted, map[string]any{"persona_id": id})
	return nil
}

// AppendMessage adds a message to personaID's log and returns it (ID
// populated if empty).
func (sm *StateManager) AppendMessage(personaID string, msg types.Message) (types.Message, error) {
	if msg.ID == "" {
		msg.ID = types.NewEntityID()
	}
	sm.mu.Lock()
	rec, ok := sm.state.Personas[personaID]
	if !ok {
		sm.mu.Unlock()
		return types.Message{}, apperrors.ErrPersonaNotFound
	}
	rec.Messages = append(rec.Messages, msg)
	sm.state.Personas[personaID] = rec
	sm.mu.Unlock()
	sm.scheduleSave()
	sm.notify.Notify(EventMessageAdded, map[string]any{"persona_id": personaID, "message_id": msg.ID})
	return msg, nil
}

// RemoveMessages deletes the given message ids from personaID's log and
// nullifies message_id on any quote referencing a removed id (spec
// invariant: no quote may dangle on a deleted message).
func (sm *StateManager) RemoveMessages(personaID string, ids []string) error {
	removed := make(map[string]bool, len(ids))
	for _, id := range ids {
		removed[id] = true
	}

	sm.mu.Lock()
	rec, ok := sm.state.Personas[personaID]
	if !ok {
		sm.mu.Unlock()
		return apperrors.ErrPersonaNotFound
	}
	kept := rec.Messages[:0:0]
	for _, m := range rec.Messages {
		if !removed[m.ID] {
			kept = append(kept, m)
		}
	}
	rec.Messages = kept
	sm.state.Personas[personaID] = rec

	for i := range sm.state.Human.Quotes {
		if removed[sm.state.Human.Quotes[i].MessageID] {
			sm.state.Human.Quotes[i].MessageID = ""
		}
	}
	sm.mu.Unlock()
	sm.scheduleSave()
	sm.notify.Notify(EventMessageRemoved, map[string]any{"persona_id": personaID})
	return nil
}

// SortMessages stably sorts personaID's message log by timestamp
// ascending. Used after hydration from out-of-order sources (importers).
func (sm *StateManager) SortMessages(personaID string) error {
	sm.mu.Lock()
	rec, ok := sm.state.Personas[personaID]
	if !ok {
		sm.mu.Unlock()
		return apperrors.ErrPersonaNotFound
	}
	sort.SliceStable(rec.Messages, func(i, j int) bool {
		return rec.Messages[i].Timestamp < rec.Messages[j].Timestamp
	})
	sm.state.Personas[personaID] = rec
	sm.mu.Unlock()
	sm.scheduleSave()
	return nil
}

// SetMessageFlag sets one of the p/r/o/f extraction flags on a message.
func (sm *StateManager) SetMessageFlag(personaID, messageID, flag string, value bool) error {
	sm.mu.Lock()
	rec, ok := sm.state.Personas[personaID]
	if !ok {
		sm.mu.Unlock()
		return apperrors.ErrPersonaNotFound
	}
	found := false
	for i := range rec.Messages {
		if rec.Messages[i].ID == messageID {
			rec.Messages[i].SetFlag(flag, value)
			found = true
			break
		}
	}
	sm.state.Personas[personaID] = rec
	sm.mu.Unlock()
	if !found {
		return fmt.Errorf("statemgr: message %s not found for persona %s", messageID, personaID)
	}
	sm.scheduleSave()
	return nil
}

// MarkMessageRead sets Read on a human message, used when a persona
// decides not to respond ("No Message") so the triggering message isn't
// re-offered to future response attempts.
func (sm *StateManager) MarkMessageRead(personaID, messageID string) error {
	sm.mu.Lock()
	rec, ok := sm.state.Personas[personaID]
	if !ok {
		sm.mu.Unlock()
		return apperrors.ErrPersonaNotFound
	}
	found := false
	for i := range rec.Messages {
		if rec.Messages[i].ID == messageID {
			rec.Messages[i].Read = true
			found = true
			break
		}
	}
	sm.state.Personas[personaID] = rec
	sm.mu.Unlock()
	if !found {
		return fmt.Errorf("statemgr: message %s not found for persona %s", messageID, personaID)
	}
	sm.scheduleSave()
	return nil
}

// UpsertDataItem inserts or updates a Fact/Trait/Topic/Person by category
// and name, refusing the update if an existing Fact is human-validated.
// fn receives the existing item (or a zero value if new) and returns the
// item to store.
func (sm *StateManager) UpsertDataItem(category string, name string, fn func(existed bool, current any) (any, error)) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	switch category {
	case types.CategoryFact:
		idx, existed := findBase(facts(sm.state.Human.Facts), name)
		var current types.Fact
		if existed {
			current = sm.state.Human.Facts[idx]
			if current.IsLocked() {
				return apperrors.ErrLockedFact
			}
		} else {
			current.ID = types.NewEntityID()
			current.Name = name
		}
		result, err := fn(existed, current)
		if err != nil {
			return err
		}
		updated := result.(types.Fact)
		if existed {
			sm.state.Human.Facts[idx] = updated
		} else {
			sm.state.Human.Facts = append(sm.state.Human.Facts, updated)
		}
	case types.CategoryTrait:
		idx, existed := findBase(traits(sm.state.Human.Traits), name)
		var current types.Trait
		if existed {
			current = sm.state.Human.Traits[idx]
		} else {
			current.ID = types.NewEntityID()
			current.Name = name
		}
		result, err := fn(existed, current)
		if err != nil {
			return err
		}
		updated := result.(types.Trait)
		if existed {
			sm.state.Human.Traits[idx] = updated
		} else {
			sm.state.Human.Traits = append(sm.state.Human.Traits, updated)
		}
	case types.CategoryTopic:
		idx, existed := findBase(topics(sm.state.Human.Topics), name)
		var current types.Topic
		if existed {
			current = sm.state.Human.Topics[idx]
		} else {
			current.ID = types.NewEntityID()
			current.Name = name
		}
		result, err := fn(existed, current)
		if err != nil {
			return err
		}
		updated := result.(types.Topic)
		if existed {
			sm.state.Human.Topics[idx] = updated
		} else {
			sm.state.Human.Topics = append(sm.state.Human.Topics, updated)
		}
	case types.CategoryPerson:
		idx, existed := findBase(people(sm.state.Human.People), name)
		var current types.Person
		if existed {
			current = sm.state.Human.People[idx]
		} else {
			current.ID = types.NewEntityID()
			current.Name = name
		}
		result, err := fn(existed, current)
		if err != nil {
			return err
		}
		updated := result.(types.Person)
		if existed {
			sm.state.Human.People[idx] = updated
		} else {
			sm.state.Human.People = append(sm.state.Human.People, updated)
		}
	default:
		return fmt.Errorf("statemgr: unknown data item category %q", category)
	}

	sm.scheduleSave()
	sm.notify.Notify(EventDataItemChanged, map[string]any{"category": category, "name": name})
	return nil
}

// RemoveDataItem deletes a data item by category and id.
func (sm *StateManager) RemoveDataItem(category, id string) error {
	sm.mu.Lock()
	switch category {
	case types.CategoryFact:
		sm.state.Human.Facts = removeByID(sm.state.Human.Facts, id, func(f types.Fact) string { return f.ID })
	case types.CategoryTrait:
		sm.state.Human.Traits = removeByID(sm.state.Human.Traits, id, func(t types.Trait) string { return t.ID })
	case types.CategoryTopic:
		sm.state.Human.Topics = removeByID(sm.state.Human.Topics, id, func(t types.Topic) string { return t.ID })
	case types.CategoryPerson:
		sm.state.Human.People = removeByID(sm.state.Human.People, id, func(p types.Person) string { return p.ID })
	default:
		sm.mu.Unlock()
		return fmt.Errorf("statemgr: unknown data item category %q", category)
	}
	sm.mu.Unlock()
	sm.scheduleSave()
	sm.notify.Notify(EventDataItemChanged, map[string]any{"category": category, "id": id})
	return nil
}

// AddQuote appends a quote to the Human's quote list.
func (sm *StateManager) AddQuote(q types.Quote) types.Quote {
	if q.ID == "" {
		q.ID = types.NewEntityID()
	}
	sm.mu.Lock()
	sm.state.Human.Quotes = append(sm.state.Human.Quotes, q)
	sm.mu.Unlock()
	sm.scheduleSave()
	sm.notify.Notify(EventQuoteChanged, map[string]any{"quote_id": q.ID})
	return q
}

// UpdateQuote applies fn to the quote named by id, if present.
func (sm *StateManager) UpdateQuote(id string, fn func(*types.Quote)) error {
	sm.mu.Lock()
	found := false
	for i := range sm.state.Human.Quotes {
		if sm.state.Human.Quotes[i].ID == id {
			fn(&sm.state.Human.Quotes[i])
			found = true
			break
		}
	}
	sm.mu.Unlock()
	if !found {
		return fmt.Errorf("statemgr: quote %s not found", id)
	}
	sm.scheduleSave()
	sm.notify.Notify(EventQuoteChanged, map[string]any{"quote_id": id})
	return nil
}

// RemoveQuote deletes a quote by id.
func (sm *StateManager) RemoveQuote(id string) error {
	sm.mu.Lock()
	before := len(sm.state.Human.Quotes)
	sm.state.Human.Quotes = removeByID(sm.state.Human.Quotes, id, func(q types.Quote) string { return q.ID })
	after := len(sm.state.Human.Quotes)
	sm.mu.Unlock()
	if before == after {
		return fmt.Errorf("statemgr: quote %s not found", id)
	}
	sm.scheduleSave()
	sm.notify.Notify(EventQuoteChanged, map[string]any{"quote_id": id})
	return nil
}

// QueueEnqueue appends an LLMRequest, assigning an id and created_at if
// absent.
func (sm *StateManager) QueueEnqueue(req types.LLMRequest) types.LLMRequest {
	if req.ID == "" {
		req.ID = types.NewQueueID()
	}
	if req.CreatedAt == 0 {
		req.CreatedAt = time.Now().UnixMilli()
	}
	sm.mu.Lock()
	sm.state.Queue = append(sm.state.Queue, req)
	sm.mu.Unlock()
	sm.scheduleSave()
	sm.notify.Notify(EventQueueChanged, map[string]any{"op": "enqueue", "id": req.ID})
	return req
}

// QueueComplete removes the queue item with the given id, whether it
// succeeded or was dropped after exhausting its attempts.
func (sm *StateManager) QueueComplete(id string) {
	sm.mu.Lock()
	sm.state.Queue = removeByID(sm.state.Queue, id, func(r types.LLMRequest) string { return r.ID })
	sm.mu.Unlock()
	sm.scheduleSave()
	sm.notify.Notify(EventQueueChanged, map[string]any{"op": "complete", "id": id})
}

// QueueClearValidations removes all HandleEiValidation items, called by
// the orchestrator's once-a-minute validation drain once it has consumed
// them.
func (sm *StateManager) QueueClearValidations() {
	sm.mu.Lock()
	kept := sm.state.Queue[:0:0]
	for _, item := range sm.state.Queue {
		if item.NextStep != types.HandleEiValidation {
			kept = append(kept, item)
		}
	}
	sm.state.Queue = kept
	sm.mu.Unlock()
	sm.scheduleSave()
	sm.notify.Notify(EventQueueChanged, map[string]any{"op": "clear_validations"})
}

// QueueRequeueWithBackoff increments a queue item's attempt counter in
// place (used after a failed dispatch) and returns the updated item, so the
// caller can decide whether to drop it once attempts exhausts max_attempts.
func (sm *StateManager) QueueRequeueWithBackoff(id string) (types.LLMRequest, bool) {
	sm.mu.Lock()
	var found *types.LLMRequest
	for i := range sm.state.Queue {
		if sm.state.Queue[i].ID == id {
			sm.state.Queue[i].Attempts++
			found = &sm.state.Queue[i]
			break
		}
	}
	var item types.LLMRequest
	ok := found != nil
	if ok {
		item = *found
	}
	sm.mu.Unlock()
	if ok {
		sm.scheduleSave()
		sm.notify.Notify(EventQueueChanged, map[string]any{"op": "requeue", "id": id, "attempts": item.Attempts})
	}
	return item, ok
}

// ---- small generic helpers over []T with an embedded Base ----

func facts(in []types.Fact) []named   { return wrap(in, func(f types.Fact) string { return f.Name }) }
func traits(in []types.Trait) []named { return wrap(in, func(t types.Trait) string { return t.Name }) }
func topics(in []types.Topic) []named { return wrap(in, func(t types.Topic) string { return t.Name }) }
func people(in []types.Person) []named { return wrap(in, func(p types.Person) string { return p.Name }) }

type named struct {
	name string
}

func wrap[T any](in []T, nameOf func(T) string) []named {
	out := make([]named, len(in))
	for i, v := range in {
		out[i] = named{name: nameOf(v)}
	}
	return out
}

func findBase(items []named, name string) (int, bool) {
	for i, it := range items {
		if strings.EqualFold(it.name, name) {
			return i, true
		}
	}
	return -1, false
}

func removeByID[T any](items []T, id string, idOf func(T) string) []T {
	out := items[:0:0]
	for _, it := range items {
		if idOf(it) != id {
			out = append(out, it)
		}
	}
	return out
}
