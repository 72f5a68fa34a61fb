package handler

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/eicompanion/ei/internal/queue"
	"github.com/eicompanion/ei/pkg/types"
)

// ceremonyPhases is the fixed order the nightly Daily Ceremony walks
// through: every human/persona learned item is first re-exposed to a scan,
// then decayed, then checked for expiry, then (for anything that expired)
// explored with a fresh prompt.
var ceremonyPhases = []string{"exposure", "decay", "expire", "explore"}

// minMessages is the message-count floor prunePersonaMessages will never
// drop below, regardless of age or extraction state.
const minMessages = 200

// messageRetention is the age floor below which a fully-extracted message
// becomes eligible for pruning.
const messageRetention = 14 * 24 * time.Hour

// StartCeremony enqueues the Exposure phase across every active (non-paused,
// non-archived) persona and plans the remaining phase order onto the
// ceremony_progress marker each spawned item carries.
func StartCeremony(deps queue.Deps, personaID string, modelRef string) {
	progress := append([]string{}, ceremonyPhases...)
	for _, p := range deps.State.GetPersonas() {
		if p.IsArchived || p.IsPaused(nowMs()) {
			continue
		}
		transcript := ""
		if deps.Messages != nil {
			transcript = renderTranscript(deps.Messages(p.ID))
		}
		for _, category := range []string{types.CategoryFact, types.CategoryTrait, types.CategoryTopic, types.CategoryPerson} {
			item := BuildHumanScanItem(p.ID, category, transcript, modelRef)
			item.Data[types.CeremonyProgressKey] = progress
			deps.State.QueueEnqueue(item)
		}
	}
}

func renderTranscript(messages []types.Message) string {
	s := ""
	for _, m := range messages {
		s += fmt.Sprintf("[%s] %s\n", m.Role, m.Content)
	}
	return s
}

// HandleCeremonyProgress is the no-prompt check enqueued alongside every
// ceremony-tagged follow-up. It scans the queue for any other item still
// carrying the same ceremony_progress marker; if any remain, the current
// phase isn't done yet and this check simply returns. Once none remain,
// it advances to the next phase.
func HandleCeremonyProgress(ctx context.Context, item types.LLMRequest, result queue.Result, deps queue.Deps) error {
	progress, ok := item.CeremonyProgress()
	if !ok || len(progress) == 0 {
		return nil
	}

	for _, other := range deps.State.QueueGetAll() {
		if other.ID == item.ID {
			continue
		}
		if otherProgress, ok := other.CeremonyProgress(); ok && sameProgress(otherProgress, progress) {
			return nil
		}
	}

	return advanceCeremony(deps, progress[1:])
}

func sameProgress(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// advanceCeremony dispatches the next ceremony phase. An empty slice means
// the ceremony is complete.
func advanceCeremony(deps queue.Deps, remaining []string) error {
	if len(remaining) == 0 {
		return nil
	}

	switch remaining[0] {
	case "decay":
		runDecayPhase(deps)
		return advanceCeremony(deps, remaining[1:])
	case "expire":
		runExpirePhase(deps, remaining)
		return nil // Explore is chained per-persona by runExpirePhase via enqueueFollowUps
	case "explore":
		return nil // driven entirely by Expire's per-persona chaining
	default:
		return fmt.Errorf("handler: unknown ceremony phase %q", remaining[0])
	}
}

// decayFactor returns the multiplicative decay applied to a level over
// elapsedHours, given a half-life in hours, using exponential decay:
// level * 0.5^(elapsed/half_life).
func decayFactor(elapsedHours, halfLifeHours float64) float64 {
	if halfLifeHours <= 0 {
		return 1
	}
	return math.Pow(0.5, elapsedHours/halfLifeHours)
}

// runDecayPhase applies exponential decay to the Human's topic and person
// levels and to every non-archived persona's own topic levels, then prunes
// each persona's message log. The half-life is the built-in
// types.DefaultCeremonyConfig() value; the configured CeremonyConfig is not
// consulted.
func runDecayPhase(deps queue.Deps) {
	cfg := types.DefaultCeremonyConfig()
	now := nowMs()

	deps.State.UpdateHuman(func(h *types.Human) {
		for i := range h.Topics {
			elapsed := float64(now-h.Topics[i].LastUpdated) / float64(time.Hour.Milliseconds())
			h.Topics[i].LevelCurrent *= decayFactor(elapsed, cfg.DecayHalfLifeHours)
		}
		for i := range h.People {
			elapsed := float64(now-h.People[i].LastUpdated) / float64(time.Hour.Milliseconds())
			h.People[i].LevelCurrent *= decayFactor(elapsed, cfg.DecayHalfLifeHours)
		}
	})

	for _, p := range deps.State.GetPersonas() {
		if p.IsArchived {
			continue
		}
		_ = deps.State.UpdatePersona(p.ID, func(p *types.Persona) {
			for i := range p.Topics {
				elapsed := float64(now-p.Topics[i].LastUpdated) / float64(time.Hour.Milliseconds())
				p.Topics[i].LevelCurrent *= decayFactor(elapsed, cfg.DecayHalfLifeHours)
			}
		})
		prunePersonaMessages(deps, p.ID)
	}
}

// prunePersonaMessages removes messages older than messageRetention that
// have been fully extracted, oldest-first, down to either the age floor or
// exactly minMessages, whichever is reached first.
func prunePersonaMessages(deps queue.Deps, personaID string) {
	if deps.Messages == nil {
		return
	}
	messages := deps.Messages(personaID)
	if len(messages) <= minMessages {
		return
	}

	cutoff := time.Now().Add(-messageRetention).UnixMilli()
	var toRemove []string
	keep := len(messages)
	for _, m := range messages {
		if keep <= minMessages {
			break
		}
		if m.Timestamp >= cutoff {
			continue
		}
		if !m.FullyExtracted() {
			continue
		}
		toRemove = append(toRemove, m.ID)
		keep--
	}
	if len(toRemove) == 0 {
		return
	}
	_ = deps.State.RemoveMessages(personaID, toRemove)
}

// expireTriggerResult is the Expire prompt's verdict for one decayed topic.
type expireTriggerResult struct {
	ShouldExplore bool   `json:"should_explore"`
	Prompt        string `json:"prompt"`
}

// runExpirePhase finds every topic (Human and per-persona) whose
// level_current has decayed below the expiry floor, and enqueues an Expire
// prompt for each; HandleExpire chains into HandleExplore for anything the
// model decides is worth re-engaging.
func runExpirePhase(deps queue.Deps, progress []string) {
	const expireFloor = 0.1

	human := deps.State.GetHuman()
	var followUps []types.LLMRequest
	for _, t := range human.Topics {
		if t.LevelCurrent < expireFloor {
			followUps = append(followUps, types.LLMRequest{
				Priority: types.PriorityLow,
				NextStep: types.HandleExpire,
				Data:     map[string]any{PersonaIDKey: types.EiPersonaID, TopicIDKey: t.ID, CategoryKey: types.CategoryTopic},
				Prompt: types.Prompt{
					System: "A topic's exposure has decayed near zero. Decide whether to re-engage and, if so, produce an opening prompt.",
					User:   fmt.Sprintf("Topic %q: %s", t.Name, t.Description),
				},
			})
		}
	}

	for _, p := range deps.State.GetPersonas() {
		if p.IsArchived {
			continue
		}
		for _, t := range p.Topics {
			if t.LevelCurrent < expireFloor {
				followUps = append(followUps, types.LLMRequest{
					Priority: types.PriorityLow,
					NextStep: types.HandleExpire,
					Data:     map[string]any{PersonaIDKey: p.ID, TopicIDKey: t.ID, CategoryKey: types.CategoryTopic},
					Prompt: types.Prompt{
						System: "A topic's exposure has decayed near zero. Decide whether to re-engage and, if so, produce an opening prompt.",
						User:   fmt.Sprintf("Topic %q: %s", t.Name, t.Description),
					},
				})
			}
		}
	}

	parent := types.LLMRequest{Data: map[string]any{types.CeremonyProgressKey: progress}}
	enqueueFollowUps(deps, parent, followUps...)
}

// HandleExpire consumes the Expire verdict and, when the model chose to
// re-engage, chains to HandleExplore with the generated opening prompt.
func HandleExpire(ctx context.Context, item types.LLMRequest, result queue.Result, deps queue.Deps) error {
	verdict, err := parseJSONResult[expireTriggerResult](result)
	if err != nil {
		return err
	}
	if !verdict.ShouldExplore {
		return nil
	}

	personaID, _ := item.Data[PersonaIDKey].(string)
	topicID, _ := item.Data[TopicIDKey].(string)

	enqueueFollowUps(deps, item, types.LLMRequest{
		Priority: types.PriorityLow,
		NextStep: types.HandleExplore,
		Data:     map[string]any{PersonaIDKey: personaID, TopicIDKey: topicID},
		Prompt: types.Prompt{
			System: "Produce a natural opening message re-engaging this topic with the human.",
			User:   verdict.Prompt,
		},
	})
	return nil
}

// HandleExplore completes the Explore phase for one topic by appending the
// generated re-engagement message to the owning persona's log.
func HandleExplore(ctx context.Context, item types.LLMRequest, result queue.Result, deps queue.Deps) error {
	personaID, _ := item.Data[PersonaIDKey].(string)
	if personaID == "" || result.ChatText == "" {
		return nil
	}
	_, err := deps.State.AppendMessage(personaID, types.Message{
		PersonaID:     personaID,
		Role:          types.RoleSystem,
		Content:       result.ChatText,
		Timestamp:     nowMs(),
		ContextStatus: types.ContextDefault,
	})
	return err
}
