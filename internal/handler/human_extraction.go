package handler

import (
	"context"
	"fmt"
	"strings"

	"github.com/eicompanion/ei/internal/queue"
	"github.com/eicompanion/ei/pkg/types"
)

// candidatePayload is a scan-step candidate: a possible new or updated
// Fact/Trait/Topic/Person, shaped generically across the four categories.
type candidatePayload struct {
	Name            string  `json:"name"`
	Description     string  `json:"description"`
	SentimentSignal float64 `json:"sentiment_signal,omitempty"`
	MessageCount    int     `json:"message_count,omitempty"`
}

type scanResult struct {
	Candidates []candidatePayload `json:"candidates"`
}

type matchResult struct {
	MatchedGUID *string `json:"matched_guid"`
}

type updatePayload struct {
	Name         string  `json:"name"`
	Description  string  `json:"description"`
	Sentiment    float64 `json:"sentiment"`
	Strength     float64 `json:"strength,omitempty"`
	LevelCurrent float64 `json:"level_current,omitempty"`
	LevelIdeal   float64 `json:"level_ideal,omitempty"`
	Relationship string  `json:"relationship,omitempty"`
}

// scanNextStepForCategory maps a human-data category to its scan next_step.
var scanNextStepForCategory = map[string]types.NextStep{
	types.CategoryFact:   types.HandleHumanFactScan,
	types.CategoryTrait:  types.HandleHumanTraitScan,
	types.CategoryTopic:  types.HandleHumanTopicScan,
	types.CategoryPerson: types.HandleHumanPersonScan,
}

// BuildHumanScanItem returns the LLMRequest that kicks off the blind scan
// step for one category over the given conversation slice. Callers
// (StartCeremony's Exposure pass and integration's ArchiveExtract) enqueue
// the result.
func BuildHumanScanItem(personaID, category, transcript, modelRef string) types.LLMRequest {
	return types.LLMRequest{
		Priority: types.PriorityNormal,
		NextStep: scanNextStepForCategory[category],
		Model:    modelRef,
		Data:     map[string]any{PersonaIDKey: personaID, CategoryKey: category},
		Prompt: types.Prompt{
			System: fmt.Sprintf("You scan a conversation transcript for new or updated %s-category information about the human. Reply with JSON {\"candidates\":[{\"name\":...,\"description\":...}]}. Never invent detail not present in the transcript.", category),
			User:   transcript,
		},
	}
}

func handleHumanScan(category string) queue.Handler {
	return func(ctx context.Context, item types.LLMRequest, result queue.Result, deps queue.Deps) error {
		scan, err := parseJSONResult[scanResult](result)
		if err != nil {
			return err
		}

		personaID, _ := item.Data[PersonaIDKey].(string)
		var followUps []types.LLMRequest
		for _, c := range scan.Candidates {
			if category == types.CategoryTopic && c.MessageCount < 2 {
				continue // noise filter: spec.md topic scan skip rule
			}
			followUps = append(followUps, types.LLMRequest{
				Priority: types.PriorityNormal,
				NextStep: types.HandleHumanItemMatch,
				Model:    item.Model,
				Data: map[string]any{
					PersonaIDKey: personaID,
					CategoryKey:  category,
					CandidateKey: toDataValue(c),
				},
				Prompt: types.Prompt{
					System: "Given a candidate human-data item and the full list of known items across all categories, reply with JSON {\"matched_guid\": string|null}.",
					User:   matchPromptBody(category, c, deps),
				},
			})
		}
		enqueueFollowUps(deps, item, followUps...)
		return nil
	}
}

// HandleHumanFactScan, HandleHumanTraitScan, HandleHumanTopicScan, and
// HandleHumanPersonScan are registered against the matching NextStep; all
// four share handleHumanScan's body, parameterized by category.
var (
	HandleHumanFactScan   = handleHumanScan(types.CategoryFact)
	HandleHumanTraitScan  = handleHumanScan(types.CategoryTrait)
	HandleHumanTopicScan  = handleHumanScan(types.CategoryTopic)
	HandleHumanPersonScan = handleHumanScan(types.CategoryPerson)
)

// matchPromptBody renders the candidate plus every known human item: items
// in the candidate's own category get their full description, items from
// the other three categories are truncated to 255 chars, per spec.md's
// match-step prompt shape.
func matchPromptBody(category string, c candidatePayload, deps queue.Deps) string {
	human := deps.State.GetHuman()
	desc := func(cat, d string) string {
		if cat == category {
			return d
		}
		return truncate255(d)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Candidate: %s — %s\n\nKnown items:\n", c.Name, c.Description)
	for _, f := range human.Facts {
		fmt.Fprintf(&b, "- [fact:%s] %s: %s\n", f.ID, f.Name, desc(types.CategoryFact, f.Description))
	}
	for _, t := range human.Traits {
		fmt.Fprintf(&b, "- [trait:%s] %s: %s\n", t.ID, t.Name, desc(types.CategoryTrait, t.Description))
	}
	for _, t := range human.Topics {
		fmt.Fprintf(&b, "- [topic:%s] %s: %s\n", t.ID, t.Name, desc(types.CategoryTopic, t.Description))
	}
	for _, p := range human.People {
		fmt.Fprintf(&b, "- [person:%s] %s: %s\n", p.ID, p.Name, desc(types.CategoryPerson, p.Description))
	}
	return b.String()
}

func truncate255(s string) string {
	if len(s) <= 255 {
		return s
	}
	return s[:255]
}

// HandleHumanItemMatch resolves the matched_guid against the known human
// items. A match on a human-validated fact exits silently (locked facts
// are never auto-updated); a match of a different category than the
// candidate enqueues an ei_validation request; otherwise it chains into
// HandleHumanItemUpdate.
func HandleHumanItemMatch(ctx context.Context, item types.LLMRequest, result queue.Result, deps queue.Deps) error {
	match, err := parseJSONResult[matchResult](result)
	if err != nil {
		return err
	}

	category, _ := item.Data[CategoryKey].(string)
	candidate, err := decodeInto[candidatePayload](item.Data[CandidateKey])
	if err != nil {
		return err
	}
	personaID, _ := item.Data[PersonaIDKey].(string)

	var matchedID string
	var matchedCategory string
	if match.MatchedGUID != nil && *match.MatchedGUID != "" {
		matchedID, matchedCategory = findItemCategory(deps, *match.MatchedGUID)
		if matchedCategory == types.CategoryFact {
			if fact, ok := findFact(deps, matchedID); ok && fact.IsLocked() {
				return nil
			}
		}
	}

	if matchedID != "" && matchedCategory != "" && matchedCategory != category {
		// ei_validation items are drained only by the orchestrator's
		// heartbeat poll (up to a minute later), never by the normal tick, so
		// this one is enqueued directly rather than through
		// enqueueFollowUps — tagging it with the parent's ceremony_progress
		// marker would stall phase advancement until that poll runs. The
		// call below with no follow-ups still emits the HandleCeremonyProgress
		// check, so the ceremony sequencer sees this chain as done.
		deps.State.QueueEnqueue(types.LLMRequest{
			Priority: types.PriorityHigh,
			NextStep: types.HandleEiValidation,
			Data: map[string]any{
				PersonaIDKey: personaID,
				CategoryKey:  category,
				CandidateKey: toDataValue(candidate),
				MatchedIDKey: matchedID,
			},
			Prompt: types.Prompt{
				System: "Ei: resolve a cross-category match conflict in the human's learned data.",
				User:   fmt.Sprintf("Candidate %q (category %s) matched existing item in category %s.", candidate.Name, category, matchedCategory),
			},
		})
		enqueueFollowUps(deps, item)
		return nil
	}

	data := map[string]any{
		PersonaIDKey: personaID,
		CategoryKey:  category,
		CandidateKey: toDataValue(candidate),
	}
	if matchedID != "" {
		data[MatchedIDKey] = matchedID
	}

	enqueueFollowUps(deps, item, types.LLMRequest{
		Priority: types.PriorityNormal,
		NextStep: types.HandleHumanItemUpdate,
		Model:    item.Model,
		Data:     data,
		Prompt: types.Prompt{
			System: fmt.Sprintf("Produce the full updated %s item as JSON given the candidate and (if any) the existing item.", category),
			User:   candidate.Description,
		},
	})
	return nil
}

// HandleHumanItemUpdate writes the surviving candidate into the Human's
// data items, resetting validated to "none" and bumping last_updated /
// change_log whenever the write is a create or substantive change.
func HandleHumanItemUpdate(ctx context.Context, item types.LLMRequest, result queue.Result, deps queue.Deps) error {
	update, err := parseJSONResult[updatePayload](result)
	if err != nil {
		return err
	}
	category, _ := item.Data[CategoryKey].(string)
	personaID, _ := item.Data[PersonaIDKey].(string)

	name := update.Name
	if name == "" {
		if candidate, cErr := decodeInto[candidatePayload](item.Data[CandidateKey]); cErr == nil {
			name = candidate.Name
		}
	}
	if name == "" {
		return fmt.Errorf("handler: HandleHumanItemUpdate has no item name")
	}

	var groups []string
	if persona, ok := deps.State.GetPersonaByID(personaID); ok {
		groups = persona.VisibleGroups()
	}

	changed := false
	err = deps.State.UpsertDataItem(category, name, func(existed bool, current any) (any, error) {
		switch category {
		case types.CategoryFact:
			f := current.(types.Fact)
			changed = !existed || f.Description != update.Description
			f.Description = update.Description
			f.Sentiment = update.Sentiment
			f.LearnedBy = personaID
			if len(f.PersonaGroups) == 0 {
				f.PersonaGroups = groups
			}
			f.LastUpdated = nowMs()
			if changed {
				f.Validated = types.ValidatedNone
				f.ChangeLog = append(f.ChangeLog, types.ChangeLogEntry{Date: nowMs(), PersonaID: personaID, DeltaSize: len(update.Description)})
			}
			return f, nil
		case types.CategoryTrait:
			t := current.(types.Trait)
			changed = !existed || t.Description != update.Description || t.Strength != update.Strength
			t.Description = update.Description
			t.Sentiment = update.Sentiment
			t.Strength = update.Strength
			t.LearnedBy = personaID
			if len(t.PersonaGroups) == 0 {
				t.PersonaGroups = groups
			}
			t.LastUpdated = nowMs()
			return t, nil
		case types.CategoryTopic:
			t := current.(types.Topic)
			changed = !existed || t.Description != update.Description
			t.Description = update.Description
			t.Sentiment = update.Sentiment
			t.LevelCurrent = update.LevelCurrent
			t.LevelIdeal = update.LevelIdeal
			t.LearnedBy = personaID
			if len(t.PersonaGroups) == 0 {
				t.PersonaGroups = groups
			}
			t.LastUpdated = nowMs()
			return t, nil
		case types.CategoryPerson:
			p := current.(types.Person)
			changed = !existed || p.Description != update.Description
			p.Description = update.Description
			p.Sentiment = update.Sentiment
			p.LevelCurrent = update.LevelCurrent
			p.LevelIdeal = update.LevelIdeal
			p.Relationship = update.Relationship
			p.LearnedBy = personaID
			if len(p.PersonaGroups) == 0 {
				p.PersonaGroups = groups
			}
			p.LastUpdated = nowMs()
			return p, nil
		default:
			return nil, fmt.Errorf("handler: unknown category %q", category)
		}
	})
	if err != nil {
		return err
	}

	// Cross-persona validation: a non-Ei persona touching a General-group
	// item must be countersigned by Ei.
	if changed && personaID != types.EiPersonaID && groupsContain(groups, types.GeneralGroup) {
		deps.State.QueueEnqueue(types.LLMRequest{
			Priority: types.PriorityHigh,
			NextStep: types.HandleEiValidation,
			Data:     map[string]any{PersonaIDKey: personaID, CategoryKey: category},
			Prompt: types.Prompt{
				System: "Ei: countersign a General-group human data item written by another persona.",
				User:   fmt.Sprintf("%s wrote %s %q.", personaID, category, name),
			},
		})
	}
	return nil
}

func groupsContain(groups []string, g string) bool {
	for _, x := range groups {
		if x == g {
			return true
		}
	}
	return false
}

func findItemCategory(deps queue.Deps, id string) (string, string) {
	human := deps.State.GetHuman()
	for _, f := range human.Facts {
		if f.ID == id {
			return f.ID, types.CategoryFact
		}
	}
	for _, t := range human.Traits {
		if t.ID == id {
			return t.ID, types.CategoryTrait
		}
	}
	for _, t := range human.Topics {
		if t.ID == id {
			return t.ID, types.CategoryTopic
		}
	}
	for _, p := range human.People {
		if p.ID == id {
			return p.ID, types.CategoryPerson
		}
	}
	return "", ""
}

func findFact(deps queue.Deps, id string) (types.Fact, bool) {
	for _, f := range deps.State.GetHuman().Facts {
		if f.ID == id {
			return f, true
		}
	}
	return types.Fact{}, false
}
