package handler

import (
	"context"
	"fmt"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/eicompanion/ei/internal/queue"
	"github.com/eicompanion/ei/pkg/types"
)

// behaviorGateResult is Tier-1's low-temperature classification.
type behaviorGateResult struct {
	IsBehaviorChange bool `json:"is_behavior_change"`
}

// behaviorExtractResult is Tier-2's structured extraction.
type behaviorExtractResult struct {
	BehaviorName    string `json:"behavior_name"`
	CurrentState    string `json:"current_state"`
	RequestedChange string `json:"requested_change"`
}

// HandleBehaviorGate implements Tier-1 of the 3-tier behavior-change gate:
// if the classifier says this human turn isn't a behavior-change request,
// the chain stops here.
func HandleBehaviorGate(ctx context.Context, item types.LLMRequest, result queue.Result, deps queue.Deps) error {
	gate, err := parseJSONResult[behaviorGateResult](result)
	if err != nil {
		return err
	}
	if !gate.IsBehaviorChange {
		return nil
	}

	personaID, _ := item.Data[PersonaIDKey].(string)
	enqueueFollowUps(deps, item, types.LLMRequest{
		Priority: types.PriorityNormal,
		NextStep: types.HandleBehaviorExtract,
		Model:    item.Model,
		Data:     map[string]any{PersonaIDKey: personaID},
		Prompt:   item.Prompt,
	})
	return nil
}

// HandleBehaviorExtract implements Tier-2: extract the structured
// behavior-change request, then chain to Tier-3 mapping.
func HandleBehaviorExtract(ctx context.Context, item types.LLMRequest, result queue.Result, deps queue.Deps) error {
	extract, err := parseJSONResult[behaviorExtractResult](result)
	if err != nil {
		return err
	}
	personaID, _ := item.Data[PersonaIDKey].(string)

	enqueueFollowUps(deps, item, types.LLMRequest{
		Priority: types.PriorityNormal,
		NextStep: types.HandleBehaviorMap,
		Model:    item.Model,
		Data: map[string]any{
			PersonaIDKey: personaID,
			"behavior":    toDataValue(extract),
		},
	})
	return nil
}

// behaviorStrength maps the user's requested-change language to a trait
// strength, per spec.md's fixed vocabulary (stop/never -> 0.0, sometimes ->
// 0.3, default -> 0.5, always/every time -> 0.9).
func behaviorStrength(requestedChange string) float64 {
	lower := strings.ToLower(requestedChange)
	switch {
	case strings.Contains(lower, "never"), strings.Contains(lower, "stop"):
		return 0.0
	case strings.Contains(lower, "sometimes"):
		return 0.3
	case strings.Contains(lower, "always"), strings.Contains(lower, "every time"):
		return 0.9
	default:
		return 0.5
	}
}

// HandleBehaviorMap implements Tier-3: map the extracted behavior onto a
// Trait, merging into an existing trait by name similarity when one is
// close enough, and triggers a description regen on any trait change.
func HandleBehaviorMap(ctx context.Context, item types.LLMRequest, result queue.Result, deps queue.Deps) error {
	personaID, _ := item.Data[PersonaIDKey].(string)
	behavior, err := decodeInto[behaviorExtractResult](item.Data["behavior"])
	if err != nil {
		return err
	}
	strength := behaviorStrength(behavior.RequestedChange)

	persona, ok := deps.State.GetPersonaByID(personaID)
	if !ok {
		return fmt.Errorf("handler: persona %s not found", personaID)
	}

	targetName := behavior.BehaviorName
	for _, t := range persona.Traits {
		if traitNameSimilar(t.Name, behavior.BehaviorName) {
			targetName = t.Name
			break
		}
	}

	found := false
	for i := range persona.Traits {
		if persona.Traits[i].Name == targetName {
			persona.Traits[i].Strength = strength
			persona.Traits[i].Description = behavior.CurrentState
			persona.Traits[i].LastUpdated = nowMs()
			found = true
			break
		}
	}
	if !found {
		persona.Traits = append(persona.Traits, types.Trait{
			Base: types.Base{
				ID:          types.NewEntityID(),
				Name:        targetName,
				Description: behavior.CurrentState,
				LastUpdated: nowMs(),
				LearnedBy:   personaID,
			},
			Strength: strength,
		})
	}

	if err := deps.State.UpdatePersona(personaID, func(p *types.Persona) {
		p.Traits = persona.Traits
	}); err != nil {
		return err
	}

	enqueueFollowUps(deps, item, types.LLMRequest{
		Priority: types.PriorityLow,
		NextStep: types.HandleDescriptionRegen,
		Model:    item.Model,
		Data:     map[string]any{PersonaIDKey: personaID},
	})
	return nil
}

// traitNameSimilar reports whether two trait names are close enough to be
// the same underlying trait, via the same edit-distance scoring used for
// fuzzy persona-name resolution.
func traitNameSimilar(a, b string) bool {
	a, b = strings.ToLower(a), strings.ToLower(b)
	if a == b {
		return true
	}
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return false
	}
	score := 1 - float64(levenshtein.ComputeDistance(a, b))/float64(maxLen)
	return score >= 0.6
}

// personaTopicScanResult mirrors the human topic scan shape.
type personaTopicScanResult struct {
	Candidates []candidatePayload `json:"candidates"`
}

// HandlePersonaTopicScan scans a conversation slice for persona-topic
// candidates, applying the same message_count < 2 noise filter as the
// human topic flow.
func HandlePersonaTopicScan(ctx context.Context, item types.LLMRequest, result queue.Result, deps queue.Deps) error {
	scan, err := parseJSONResult[personaTopicScanResult](result)
	if err != nil {
		return err
	}
	personaID, _ := item.Data[PersonaIDKey].(string)

	var followUps []types.LLMRequest
	for _, c := range scan.Candidates {
		if c.MessageCount < 2 {
			continue
		}
		followUps = append(followUps, types.LLMRequest{
			Priority: types.PriorityNormal,
			NextStep: types.HandlePersonaTopicMatch,
			Model:    item.Model,
			Data: map[string]any{
				PersonaIDKey: personaID,
				CandidateKey: toDataValue(c),
			},
		})
	}
	enqueueFollowUps(deps, item, followUps...)
	return nil
}

// HandlePersonaTopicMatch resolves a persona-topic candidate against the
// persona's existing topics by name.
func HandlePersonaTopicMatch(ctx context.Context, item types.LLMRequest, result queue.Result, deps queue.Deps) error {
	match, err := parseJSONResult[matchResult](result)
	if err != nil {
		return err
	}
	personaID, _ := item.Data[PersonaIDKey].(string)
	candidate, err := decodeInto[candidatePayload](item.Data[CandidateKey])
	if err != nil {
		return err
	}

	data := map[string]any{PersonaIDKey: personaID, CandidateKey: toDataValue(candidate)}
	if match.MatchedGUID != nil {
		data[MatchedIDKey] = *match.MatchedGUID
	}

	enqueueFollowUps(deps, item, types.LLMRequest{
		Priority: types.PriorityNormal,
		NextStep: types.HandlePersonaTopicUpdate,
		Model:    item.Model,
		Data:     data,
	})
	return nil
}

// HandlePersonaTopicUpdate writes the rich PersonaTopic fields for the
// surviving candidate. Persona descriptions never regenerate on topic
// changes (only on trait changes) — and Ei's descriptions are locked
// constants, so Ei is skipped entirely.
func HandlePersonaTopicUpdate(ctx context.Context, item types.LLMRequest, result queue.Result, deps queue.Deps) error {
	update, err := parseJSONResult[updatePayload](result)
	if err != nil {
		return err
	}
	personaID, _ := item.Data[PersonaIDKey].(string)
	if personaID == types.EiPersonaID {
		return nil
	}

	name := update.Name
	if name == "" {
		if candidate, cErr := decodeInto[candidatePayload](item.Data[CandidateKey]); cErr == nil {
			name = candidate.Name
		}
	}

	return deps.State.UpdatePersona(personaID, func(p *types.Persona) {
		for i := range p.Topics {
			if strings.EqualFold(p.Topics[i].Name, name) {
				p.Topics[i].Description = update.Description
				p.Topics[i].Sentiment = update.Sentiment
				p.Topics[i].LevelCurrent = update.LevelCurrent
				p.Topics[i].LevelIdeal = update.LevelIdeal
				p.Topics[i].LastUpdated = nowMs()
				return
			}
		}
		p.Topics = append(p.Topics, types.Topic{
			Base: types.Base{
				ID:          types.NewEntityID(),
				Name:        name,
				Description: update.Description,
				Sentiment:   update.Sentiment,
				LastUpdated: nowMs(),
				LearnedBy:   personaID,
			},
			LevelCurrent: update.LevelCurrent,
			LevelIdeal:   update.LevelIdeal,
		})
	})
}

// personaGenerationResult is the LLM's fully authored persona.
type personaGenerationResult struct {
	DisplayName      string   `json:"display_name"`
	ShortDescription string   `json:"short_description"`
	LongDescription  string   `json:"long_description"`
	Aliases          []string `json:"aliases"`
}

// HandlePersonaGeneration completes a requested new-persona generation by
// creating the Persona record.
func HandlePersonaGeneration(ctx context.Context, item types.LLMRequest, result queue.Result, deps queue.Deps) error {
	gen, err := parseJSONResult[personaGenerationResult](result)
	if err != nil {
		return err
	}

	p := types.Persona{
		ID:               types.NewEntityID(),
		DisplayName:      gen.DisplayName,
		Aliases:          gen.Aliases,
		Entity:           "system",
		ShortDescription: gen.ShortDescription,
		LongDescription:  gen.LongDescription,
		GroupPrimary:     types.GeneralGroup,
		PauseUntil:       types.PauseActive,
		HeartbeatDelayMs: int64(6 * 60 * 60 * 1000),
	}
	return deps.State.AddPersona(p)
}

// descriptionRegenResult is a refreshed short/long description pair.
type descriptionRegenResult struct {
	ShortDescription string `json:"short_description"`
	LongDescription  string `json:"long_description"`
}

// HandleDescriptionRegen rewrites a persona's descriptions after a trait
// change. Ei's descriptions are locked constants and are never regenerated.
func HandleDescriptionRegen(ctx context.Context, item types.LLMRequest, result queue.Result, deps queue.Deps) error {
	personaID, _ := item.Data[PersonaIDKey].(string)
	if personaID == types.EiPersonaID {
		return nil
	}
	regen, err := parseJSONResult[descriptionRegenResult](result)
	if err != nil {
		return err
	}
	return deps.State.UpdatePersona(personaID, func(p *types.Persona) {
		p.ShortDescription = regen.ShortDescription
		p.LongDescription = regen.LongDescription
	})
}
