// Package queue dispatches durable LLMRequest items onto provider-gated
// concurrent LLM calls. It owns no queue state of its own — statemgr.StateManager
// is the single source of truth for the queue slice — this package only
// decides dequeue order, concurrency, and which handler runs on completion.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/rs/zerolog/log"

	"github.com/eicompanion/ei/internal/apperrors"
	"github.com/eicompanion/ei/internal/llmclient"
	"github.com/eicompanion/ei/internal/statemgr"
	"github.com/eicompanion/ei/pkg/types"
)

// TickInterval is how often the processor scans the queue for eligible,
// unstarted work.
const TickInterval = 100 * time.Millisecond

// MaxAttempts is the number of failed dispatch attempts (after llmclient's
// own internal retry/backoff has already given up on one attempt) before an
// item is dropped instead of requeued.
const MaxAttempts = 3

// localConcurrency/cloudConcurrency size each provider's semaphore.
const (
	localConcurrency = 1
	cloudConcurrency = 3
)

// Result is what a dispatched call produced, handed to the matching Handler.
type Result struct {
	ChatText string
	JSON     json.RawMessage
	Err      error
}

// OK reports whether the call completed without error.
func (r Result) OK() bool { return r.Err == nil }

// Deps is the set of capabilities a Handler needs beyond the item and its
// result: reading/mutating human-companion state and enqueuing follow-on work.
type Deps struct {
	State    *statemgr.StateManager
	Messages func(personaID string) []types.Message
}

// Handler reacts to one completed (or failed) dispatch. Handlers run one at
// a time, in completion order, so they never race each other over shared
// state beyond what StateManager's own locking already guarantees.
type Handler func(ctx context.Context, item types.LLMRequest, result Result, deps Deps) error

// ProviderKinder reports whether a provider id runs "local" (single
// in-flight call) or "cloud" (up to three) concurrency policy.
type ProviderKinder interface {
	ProviderKind(providerID string) string
}

// Processor starts, on each tick and in priority order, every eligible
// LLMRequest that its provider's concurrency gate admits, and serializes
// handler dispatch on completion.
type Processor struct {
	sm       *statemgr.StateManager
	client   llmclient.Client
	kinds    ProviderKinder
	messages func(personaID string) []types.Message

	dispatchMu sync.RWMutex
	dispatch   map[types.NextStep]Handler

	semMu sync.Mutex
	sems  map[string]*semaphore.Weighted

	inFlightMu sync.Mutex
	inFlight   map[string]context.CancelFunc

	results chan completion

	wg sync.WaitGroup
}

type completion struct {
	item   types.LLMRequest
	result Result
}

// New constructs a Processor. messageFetcher hydrates a persona's message
// history before a handler runs; it may be nil if no handler needs it.
func New(sm *statemgr.StateManager, client llmclient.Client, kinds ProviderKinder, messageFetcher func(string) []types.Message) *Processor {
	return &Processor{
		sm:       sm,
		client:   client,
		kinds:    kinds,
		messages: messageFetcher,
		dispatch: make(map[types.NextStep]Handler),
		sems:     make(map[string]*semaphore.Weighted),
		inFlight: make(map[string]context.CancelFunc),
		results:  make(chan completion, 64),
	}
}

// Register wires a handler under a next_step tag. Call before Run starts.
func (p *Processor) Register(step types.NextStep, h Handler) {
	p.dispatchMu.Lock()
	defer p.dispatchMu.Unlock()
	p.dispatch[step] = h
}

// Run ticks every TickInterval until ctx is canceled, dispatching eligible
// queue items and draining completions in between ticks.
func (p *Processor) Run(ctx context.Context) {
	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.wg.Wait()
			return
		case <-ticker.C:
			p.Tick(ctx)
		case c := <-p.results:
			p.handleCompletion(ctx, c)
		}
	}
}

// Tick starts as many eligible, not-already-in-flight queue items as the
// per-provider semaphores allow, then drains any completions already
// waiting without blocking.
func (p *Processor) Tick(ctx context.Context) {
	for _, item := range p.eligibleItems() {
		provider, _ := llmclient.ParseModelRef(item.Model)
		sem := p.semFor(provider)
		if !sem.TryAcquire(1) {
			continue
		}
		p.startDispatch(ctx, item, sem)
	}

	for {
		select {
		case c := <-p.results:
			p.handleCompletion(ctx, c)
		default:
			return
		}
	}
}

// eligibleItems returns queue items not awaiting Ei's own daily review
// (HandleEiValidation, drained only by the orchestrator's periodic tick) and
// not already dispatched, in (priority, created_at) order.
func (p *Processor) eligibleItems() []types.LLMRequest {
	all := p.sm.QueueGetAll()

	p.inFlightMu.Lock()
	inFlight := make(map[string]bool, len(p.inFlight))
	for id := range p.inFlight {
		inFlight[id] = true
	}
	p.inFlightMu.Unlock()

	eligible := all[:0:0]
	for _, item := range all {
		if item.NextStep == types.HandleEiValidation {
			continue
		}
		if inFlight[item.ID] {
			continue
		}
		eligible = append(eligible, item)
	}

	for i := 1; i < len(eligible); i++ {
		for j := i; j > 0 && types.Less(eligible[j], eligible[j-1]); j-- {
			eligible[j], eligible[j-1] = eligible[j-1], eligible[j]
		}
	}
	return eligible
}

func (p *Processor) semFor(providerID string) *semaphore.Weighted {
	p.semMu.Lock()
	defer p.semMu.Unlock()
	if sem, ok := p.sems[providerID]; ok {
		return sem
	}
	n := int64(cloudConcurrency)
	if p.kinds != nil && p.kinds.ProviderKind(providerID) == "local" {
		n = localConcurrency
	}
	sem := semaphore.NewWeighted(n)
	p.sems[providerID] = sem
	return sem
}

// startDispatch issues the LLM call for item in its own goroutine, releasing
// sem and delivering a completion once the call (including llmclient's own
// internal retry/backoff) settles.
func (p *Processor) startDispatch(ctx context.Context, item types.LLMRequest, sem *semaphore.Weighted) {
	callCtx, cancel := context.WithCancel(ctx)

	p.inFlightMu.Lock()
	p.inFlight[item.ID] = cancel
	p.inFlightMu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer sem.Release(1)
		defer func() {
			p.inFlightMu.Lock()
			delete(p.inFlight, item.ID)
			p.inFlightMu.Unlock()
		}()

		result := p.call(callCtx, item)

		select {
		case p.results <- completion{item: item, result: result}:
		case <-ctx.Done():
		}
	}()
}

func (p *Processor) call(ctx context.Context, item types.LLMRequest) Result {
	if len(item.Prompt.Messages) > 0 {
		text, err := p.client.CallChat(ctx, llmclient.ChatRequest{
			System:      item.Prompt.System,
			Messages:    toClientMessages(item.Prompt.Messages),
			Model:       item.Model,
			Temperature: item.Temperature,
		})
		return Result{ChatText: text, Err: err}
	}

	raw, err := p.client.CallJSON(ctx, llmclient.JSONRequest{
		System:      item.Prompt.System,
		User:        item.Prompt.User,
		Model:       item.Model,
		Temperature: item.Temperature,
	})
	return Result{JSON: raw, Err: err}
}

func toClientMessages(in []types.ChatMsg) []llmclient.ChatMsg {
	out := make([]llmclient.ChatMsg, len(in))
	for i, m := range in {
		out[i] = llmclient.ChatMsg{Role: m.Role, Content: m.Content}
	}
	return out
}

// handleCompletion runs the registered handler for c.item.NextStep, then
// either completes, requeues, or drops the item depending on the outcome.
// Handlers run one at a time (handleCompletion is only ever called from
// Run/Tick on the processor's own goroutine), so they never race each other.
func (p *Processor) handleCompletion(ctx context.Context, c completion) {
	p.dispatchMu.RLock()
	handler, ok := p.dispatch[c.item.NextStep]
	p.dispatchMu.RUnlock()

	if !ok {
		log.Warn().Str("next_step", string(c.item.NextStep)).Str("id", c.item.ID).
			Msg("queue: no handler registered for next_step, dropping item")
		p.sm.QueueComplete(c.item.ID)
		return
	}

	deps := Deps{State: p.sm, Messages: p.messages}

	if c.result.Err != nil {
		p.requeueOrDrop(c.item, c.result.Err)
		return
	}

	if err := handler(ctx, c.item, c.result, deps); err != nil {
		p.requeueOrDrop(c.item, err)
		return
	}

	p.sm.QueueComplete(c.item.ID)
}

func (p *Processor) requeueOrDrop(item types.LLMRequest, cause error) {
	updated, found := p.sm.QueueRequeueWithBackoff(item.ID)
	if !found {
		return
	}
	if updated.Attempts >= MaxAttempts {
		log.Warn().Str("id", item.ID).Str("next_step", string(item.NextStep)).
			Str("code", apperrors.Code(cause)).Err(cause).
			Msg("queue: dropping item after exhausting max_attempts")
		p.sm.QueueComplete(item.ID)
		return
	}
	log.Warn().Str("id", item.ID).Str("next_step", string(item.NextStep)).
		Int("attempts", updated.Attempts).Err(cause).
		Msg("queue: requeueing item after failed dispatch")
}

// Abort cancels an in-flight call for the given queue item id, if any. The
// item remains in the queue and is retried on the next eligible tick.
func (p *Processor) Abort(id string) {
	p.inFlightMu.Lock()
	defer p.inFlightMu.Unlock()
	if cancel, ok := p.inFlight[id]; ok {
		cancel()
	}
}

// AbortAll cancels every in-flight call. Each aborted item remains in the
// queue and is retried (with attempts incremented) on the next eligible
// tick, same as any other failed dispatch.
func (p *Processor) AbortAll() {
	p.inFlightMu.Lock()
	defer p.inFlightMu.Unlock()
	for _, cancel := range p.inFlight {
		cancel()
	}
}

// IsInFlight reports whether id currently has a call in progress.
func (p *Processor) IsInFlight(id string) bool {
	p.inFlightMu.Lock()
	defer p.inFlightMu.Unlock()
	_, ok := p.inFlight[id]
	return ok
}

// Call dispatches item synchronously, bypassing the normal tick/semaphore
// path, and runs its registered handler against the outcome. It exists for
// out-of-band consumers like the ei_validation batch drain, whose items are
// deliberately excluded from eligibleItems and never reach Tick on their own.
func (p *Processor) Call(ctx context.Context, item types.LLMRequest) error {
	result := p.call(ctx, item)

	p.dispatchMu.RLock()
	h, ok := p.dispatch[item.NextStep]
	p.dispatchMu.RUnlock()
	if !ok {
		return fmt.Errorf("queue: no handler registered for next_step %q", item.NextStep)
	}
	if result.Err != nil {
		return result.Err
	}
	return h(ctx, item, result, Deps{State: p.sm, Messages: p.messages})
}
