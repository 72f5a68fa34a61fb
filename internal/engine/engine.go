// Package engine is the top-level Processor: it owns lifecycle, the tick
// loop driving the Queue Processor, ceremony/heartbeat scheduling via
// internal/orchestrator, event emission to the UI, and the public API the
// UI layer calls against (sendMessage, createPersona, ...).
package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/eicompanion/ei/internal/apperrors"
	"github.com/eicompanion/ei/internal/embedding"
	"github.com/eicompanion/ei/internal/event"
	"github.com/eicompanion/ei/internal/handler"
	"github.com/eicompanion/ei/internal/llmclient"
	"github.com/eicompanion/ei/internal/orchestrator"
	"github.com/eicompanion/ei/internal/promptbuild"
	"github.com/eicompanion/ei/internal/queue"
	"github.com/eicompanion/ei/internal/statemgr"
	"github.com/eicompanion/ei/internal/storage"
	"github.com/eicompanion/ei/pkg/types"
)

// Options configures New. Store, Client, and Kinds are required; Bus,
// ProfileDir, and Frontend have usable defaults for tests.
type Options struct {
	Store    storage.Store
	Client   llmclient.Client
	Kinds    queue.ProviderKinder
	Selector *embedding.Selector

	// Bus receives every statemgr mutation and every engine-level UI event.
	// A fresh event.NewBus() is used if nil.
	Bus *event.Bus

	// ProfileDir enables the single-instance lock; empty disables it (tests).
	ProfileDir string
	Frontend   string

	Ceremony types.CeremonyConfig
}

// Engine wires StateManager, Queue Processor, handler dispatch, and the
// orchestrator into one runnable unit, and exposes the public API described
// in spec.md §4.4/§6.
type Engine struct {
	sm        *statemgr.StateManager
	processor *queue.Processor
	orch      *orchestrator.Orchestrator
	builder   *promptbuild.Builder
	bus       *event.Bus

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	running bool
	wg      sync.WaitGroup
}

// New constructs an Engine. It does not start any background work; call
// Start for that.
func New(ctx context.Context, opts Options) (*Engine, error) {
	bus := opts.Bus
	if bus == nil {
		bus = event.NewBus()
	}

	sm, err := statemgr.New(ctx, statemgr.Options{
		Store:      opts.Store,
		Notifier:   bus,
		Frontend:   opts.Frontend,
		ProfileDir: opts.ProfileDir,
	})
	if err != nil {
		return nil, fmt.Errorf("engine: init state manager: %w", err)
	}

	proc := queue.New(sm, opts.Client, opts.Kinds, sm.GetMessages)
	handler.RegisterAll(proc)

	builder := promptbuild.New(opts.Selector)
	orch := orchestrator.New(sm, proc, builder, opts.Ceremony)

	return &Engine{
		sm:        sm,
		processor: proc,
		orch:      orch,
		builder:   builder,
		bus:       bus,
	}, nil
}

// Start begins the queue processor's tick loop and the orchestrator's
// ceremony/heartbeat scheduling. Safe to call once; a second call is a
// no-op.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.ctx, e.cancel = context.WithCancel(ctx)
	runCtx := e.ctx
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.processor.Run(runCtx)
	}()

	e.orch.Start(runCtx)
	log.Info().Msg("engine: started")
}

// Stop halts the tick loop and orchestrator, flushes any pending debounced
// save, and releases the single-instance lock.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	cancel := e.cancel
	e.mu.Unlock()

	e.orch.Stop()
	if cancel != nil {
		cancel()
	}
	e.wg.Wait()

	return e.sm.Close(context.Background())
}

// AbortCurrentOperation cancels every in-flight LLM call. Each aborted item
// is requeued (attempts incremented) and retried on the next eligible tick.
func (e *Engine) AbortCurrentOperation() {
	e.processor.AbortAll()
	e.bus.Publish(event.Event{
		Type: event.QueueChanged,
		Data: event.QueueChangedData{QueueLength: len(e.sm.QueueGetAll())},
	})
}

// ResumeQueue forces an immediate dispatch attempt rather than waiting for
// the next tick, used after an abort or a paused persona resumes.
func (e *Engine) ResumeQueue() {
	if e.ctx == nil {
		return
	}
	e.processor.Tick(e.ctx)
}

// SendMessage resolves personaNameOrAlias, appends the human's message, and
// enqueues a response request.
func (e *Engine) SendMessage(ctx context.Context, personaNameOrAlias, text string) error {
	persona, ok := e.sm.ResolvePersonaByName(personaNameOrAlias)
	if !ok {
		return personaNotFoundMessage(personaNameOrAlias)
	}
	if persona.IsPaused(time.Now().UnixMilli()) {
		return fmt.Errorf("engine: persona %s is paused", persona.ID)
	}

	msg := types.Message{
		PersonaID:     persona.ID,
		Role:          types.RoleHuman,
		Content:       text,
		Timestamp:     time.Now().UnixMilli(),
		ContextStatus: types.ContextDefault,
	}
	msg, err := e.sm.AppendMessage(persona.ID, msg)
	if err != nil {
		return err
	}

	human := e.sm.GetHuman()
	allPersonas := e.sm.GetPersonas()
	visibleHuman := promptbuild.FilterHumanByGroups(persona, human)
	system, err := e.builder.BuildSystemPrompt(ctx, persona, text, visibleHuman, allPersonas)
	if err != nil {
		return fmt.Errorf("engine: build response prompt: %w", err)
	}

	modelRef := llmclient.ResolveProviderModel(human.Settings, "response", persona.Model)
	e.sm.QueueEnqueue(types.LLMRequest{
		Priority: types.PriorityHigh,
		NextStep: types.HandleResponse,
		Model:    modelRef,
		Data: map[string]any{
			handler.PersonaIDKey:        persona.ID,
			handler.TriggerMessageIDKey: msg.ID,
		},
		Prompt: types.Prompt{
			System: system,
			Messages: []types.ChatMsg{{
				Role:    types.RoleHuman,
				Content: text,
			}},
		},
	})
	return nil
}

// PersonaInput is the payload for CreatePersona.
type PersonaInput struct {
	DisplayName      string
	Aliases          []string
	ShortDescription string
	LongDescription  string
	Model            string
	GroupPrimary     string
	GroupsVisible    []string
	HeartbeatDelayMs int64
	ContextWindowMs  int64
}

// CreatePersona inserts a new, immediately-active persona. Callers that
// want an LLM-authored persona (display name, descriptions derived from a
// prompt) should enqueue a HandlePersonaGeneration request instead; this
// method is the direct "I already know who this is" path.
func (e *Engine) CreatePersona(input PersonaInput) (types.Persona, error) {
	groupPrimary := input.GroupPrimary
	if groupPrimary == "" {
		groupPrimary = types.GeneralGroup
	}
	p := types.Persona{
		ID:               types.NewEntityID(),
		DisplayName:      input.DisplayName,
		Aliases:          input.Aliases,
		Entity:           "system",
		ShortDescription: input.ShortDescription,
		LongDescription:  input.LongDescription,
		Model:            input.Model,
		GroupPrimary:     groupPrimary,
		GroupsVisible:    input.GroupsVisible,
		PauseUntil:       types.PauseActive,
		HeartbeatDelayMs: input.HeartbeatDelayMs,
		ContextWindowMs:  input.ContextWindowMs,
	}
	if err := e.sm.AddPersona(p); err != nil {
		return types.Persona{}, err
	}
	return p, nil
}

// GetPersona resolves a persona by display name or alias.
func (e *Engine) GetPersona(nameOrAlias string) (types.Persona, bool) {
	return e.sm.ResolvePersonaByName(nameOrAlias)
}

// GetPersonaByID returns the persona with the given id.
func (e *Engine) GetPersonaByID(id string) (types.Persona, bool) {
	return e.sm.GetPersonaByID(id)
}

// GetPersonaList returns every persona, optionally filtered to archived (or
// non-archived) only.
func (e *Engine) GetPersonaList(archived *bool) []types.Persona {
	all := e.sm.GetPersonas()
	if archived == nil {
		return all
	}
	out := all[:0:0]
	for _, p := range all {
		if p.IsArchived == *archived {
			out = append(out, p)
		}
	}
	return out
}

// GetMessages returns personaID's message log.
func (e *Engine) GetMessages(personaID string) []types.Message {
	return e.sm.GetMessages(personaID)
}

// PersonaPatch carries only the fields to change; a nil field leaves the
// existing value untouched.
type PersonaPatch struct {
	DisplayName      *string
	Aliases          []string
	ShortDescription *string
	LongDescription  *string
	Model            *string
	GroupPrimary     *string
	GroupsVisible    []string
	HeartbeatDelayMs *int64
}

// UpdatePersona applies patch to the persona named by id.
func (e *Engine) UpdatePersona(id string, patch PersonaPatch) error {
	return e.sm.UpdatePersona(id, func(p *types.Persona) {
		if patch.DisplayName != nil {
			p.DisplayName = *patch.DisplayName
		}
		if patch.Aliases != nil {
			p.Aliases = patch.Aliases
		}
		if patch.ShortDescription != nil {
			p.ShortDescription = *patch.ShortDescription
		}
		if patch.LongDescription != nil {
			p.LongDescription = *patch.LongDescription
		}
		if patch.Model != nil {
			p.Model = *patch.Model
		}
		if patch.GroupPrimary != nil {
			p.GroupPrimary = *patch.GroupPrimary
		}
		if patch.GroupsVisible != nil {
			p.GroupsVisible = patch.GroupsVisible
		}
		if patch.HeartbeatDelayMs != nil {
			p.HeartbeatDelayMs = *patch.HeartbeatDelayMs
		}
	})
}

// ArchivePersona soft-deletes a persona: conversation and learned data are
// retained, but it stops receiving heartbeats and ceremony scans.
func (e *Engine) ArchivePersona(id string) error {
	return e.sm.ArchivePersona(id)
}

// UnarchivePersona clears the archived flag.
func (e *Engine) UnarchivePersona(id string) error {
	return e.sm.UnarchivePersona(id)
}

// DeleteMessages removes the given message ids from personaID's log.
func (e *Engine) DeleteMessages(personaID string, ids []string) error {
	return e.sm.RemoveMessages(personaID, ids)
}

// SetContextBoundary sets the per-persona timestamp below which messages
// are excluded from future LLM context regardless of age.
func (e *Engine) SetContextBoundary(personaID string, boundary string) error {
	return e.sm.UpdatePersona(personaID, func(p *types.Persona) {
		p.ContextBoundary = boundary
	})
}

// PausePersona pauses a persona. untilMs == 0 means paused indefinitely
// (types.PauseIndefinite); any other value is a unix-ms resume time.
func (e *Engine) PausePersona(id string, untilMs int64) error {
	if untilMs == 0 {
		untilMs = types.PauseIndefinite
	}
	return e.sm.UpdatePersona(id, func(p *types.Persona) {
		p.PauseUntil = untilMs
	})
}

// personaNotFoundMessage formats a consistent apperrors-wrapped message for
// resolution failures that need the attempted query in the error text.
func personaNotFoundMessage(query string) error {
	return fmt.Errorf("%w: %q", apperrors.ErrPersonaNotFound, strings.TrimSpace(query))
}
