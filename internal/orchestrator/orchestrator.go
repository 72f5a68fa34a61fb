// Package orchestrator drives the time-based work the queue processor
// doesn't originate on its own: the nightly Daily Ceremony, proactive
// heartbeat checks, and draining the ei_validation backlog the processor
// deliberately never dequeues by itself.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/eicompanion/ei/internal/handler"
	"github.com/eicompanion/ei/internal/llmclient"
	"github.com/eicompanion/ei/internal/promptbuild"
	"github.com/eicompanion/ei/internal/queue"
	"github.com/eicompanion/ei/internal/statemgr"
	"github.com/eicompanion/ei/pkg/types"
)

// heartbeatPollInterval is how often the heartbeat scan checks every
// active persona's due time, independent of each persona's own
// heartbeat_delay_ms.
const heartbeatPollInterval = time.Minute

// Orchestrator schedules the Daily Ceremony and heartbeat checks, and
// periodically drains the ei_validation backlog.
type Orchestrator struct {
	sm        *statemgr.StateManager
	processor *queue.Processor
	builder   *promptbuild.Builder
	cfg       types.CeremonyConfig

	mu          sync.Mutex
	running     bool
	ceremonyTmr *time.Timer
	heartbeatTk *time.Ticker
	stopCh      chan struct{}
	wg          sync.WaitGroup
}

// New constructs an Orchestrator. cfg is typically types.DefaultCeremonyConfig().
func New(sm *statemgr.StateManager, processor *queue.Processor, builder *promptbuild.Builder, cfg types.CeremonyConfig) *Orchestrator {
	return &Orchestrator{sm: sm, processor: processor, builder: builder, cfg: cfg}
}

// Start schedules the Daily Ceremony timer and the heartbeat poll ticker.
// Safe to call once; a second call is a no-op.
func (o *Orchestrator) Start(ctx context.Context) {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return
	}
	o.running = true
	o.stopCh = make(chan struct{})
	o.mu.Unlock()

	o.scheduleCeremony(ctx)

	o.heartbeatTk = time.NewTicker(heartbeatPollInterval)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		for {
			select {
			case <-o.stopCh:
				return
			case <-ctx.Done():
				return
			case <-o.heartbeatTk.C:
				o.runHeartbeatScan(ctx)
				o.drainValidations(ctx)
			}
		}
	}()
}

// Stop halts all scheduled work and waits for in-flight runs to finish.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	o.running = false
	if o.ceremonyTmr != nil {
		o.ceremonyTmr.Stop()
	}
	if o.heartbeatTk != nil {
		o.heartbeatTk.Stop()
	}
	close(o.stopCh)
	o.mu.Unlock()

	o.wg.Wait()
}

// scheduleCeremony arms a timer for the next occurrence of
// cfg.DailyCeremonyHour local time, re-arming itself after each firing.
func (o *Orchestrator) scheduleCeremony(ctx context.Context) {
	next := nextCeremonyTime(time.Now(), o.cfg.DailyCeremonyHour)
	delay := time.Until(next)
	if delay < 0 {
		delay = 0
	}

	o.mu.Lock()
	o.ceremonyTmr = time.AfterFunc(delay, func() {
		o.wg.Add(1)
		defer o.wg.Done()
		o.runCeremony(ctx)
		o.scheduleCeremony(ctx)
	})
	o.mu.Unlock()
}

func nextCeremonyTime(now time.Time, hour int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// runCeremony kicks off the Daily Ceremony: Exposure scans across every
// active persona, tagged with the full phase progression.
func (o *Orchestrator) runCeremony(ctx context.Context) {
	log.Info().Msg("orchestrator: starting daily ceremony")
	modelRef := llmclient.ResolveProviderModel(o.sm.GetHuman().Settings, "concept", "")
	handler.StartCeremony(o.deps(), types.EiPersonaID, modelRef)
}

func (o *Orchestrator) deps() queue.Deps {
	return queue.Deps{State: o.sm, Messages: o.sm.GetMessages}
}

// runHeartbeatScan checks every active, non-paused persona whose
// heartbeat delay has elapsed since its last check, and — only when at
// least one Human topic it can see has a desire gap above threshold and
// isn't sentiment-soured — enqueues a heartbeat prompt. Human people are
// not considered as heartbeat triggers.
func (o *Orchestrator) runHeartbeatScan(ctx context.Context) {
	now := time.Now().UnixMilli()
	human := o.sm.GetHuman()
	allPersonas := o.sm.GetPersonas()

	for _, p := range allPersonas {
		if p.IsArchived || p.IsPaused(now) {
			continue
		}
		delay := p.HeartbeatDelayMs
		if delay <= 0 {
			continue
		}
		if now-p.LastHeartbeatCheck < delay {
			continue
		}

		topic, ok := highestDesireGap(promptbuild.FilterHumanByGroups(p, human))
		if !ok {
			continue
		}

		item, err := o.buildHeartbeatItem(ctx, p, human, allPersonas, topic)
		if err != nil {
			log.Warn().Str("persona_id", p.ID).Err(err).Msg("orchestrator: build heartbeat prompt")
			continue
		}
		o.sm.QueueEnqueue(item)
	}
}

// highestDesireGap returns the Human topic with the largest desire gap
// above the fixed 0.3 threshold and -0.5 sentiment floor, if any;
// CeremonyConfig is not consulted.
func highestDesireGap(human types.Human) (types.Topic, bool) {
	const gapThreshold = 0.3
	const sentimentFloor = -0.5

	var best types.Topic
	found := false
	for _, t := range human.Topics {
		if t.DesireGap() <= gapThreshold || t.Sentiment <= sentimentFloor {
			continue
		}
		if !found || t.DesireGap() > best.DesireGap() {
			best = t
			found = true
		}
	}
	return best, found
}

func (o *Orchestrator) buildHeartbeatItem(ctx context.Context, persona types.Persona, human types.Human, allPersonas []types.Persona, topic types.Topic) (types.LLMRequest, error) {
	system, err := o.builder.BuildSystemPrompt(ctx, persona, topic.Description, human, allPersonas)
	if err != nil {
		return types.LLMRequest{}, fmt.Errorf("orchestrator: build heartbeat system prompt: %w", err)
	}

	modelRef := llmclient.ResolveProviderModel(human.Settings, "response", persona.Model)
	return types.LLMRequest{
		Priority: types.PriorityLow,
		NextStep: types.HandleHeartbeat,
		Model:    modelRef,
		Data:     map[string]any{handler.PersonaIDKey: persona.ID},
		Prompt: types.Prompt{
			System: system,
			Messages: []types.ChatMsg{{
				Role:    types.RoleSystem,
				Content: fmt.Sprintf("It has been a while and %q is an under-discussed topic you'd naturally want to bring up. If it fits naturally, produce a proactive message; otherwise reply exactly \"No Message\".", topic.Name),
			}},
		},
	}, nil
}

// drainValidations dispatches every pending ei_validation item directly
// (they are never surfaced by the processor's own tick) and clears the
// backlog once the batch has been attempted.
func (o *Orchestrator) drainValidations(ctx context.Context) {
	validations := o.sm.QueueGetValidations()
	if len(validations) == 0 {
		return
	}
	for _, item := range validations {
		if err := o.processor.Call(ctx, item); err != nil {
			log.Warn().Str("id", item.ID).Err(err).Msg("orchestrator: ei_validation dispatch failed")
		}
	}
	o.sm.QueueClearValidations()
}
