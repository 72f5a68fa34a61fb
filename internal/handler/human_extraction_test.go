package handler

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/eicompanion/ei/internal/queue"
	"github.com/eicompanion/ei/pkg/types"
)

func TestHandleHumanTopicScanFiltersNoiseCandidates(t *testing.T) {
	deps := newTestDeps(t)
	addTestPersona(t, deps, "p1")

	scan := scanResult{Candidates: []candidatePayload{
		{Name: "hiking", Description: "likes hiking", MessageCount: 1},
		{Name: "cooking", Description: "likes cooking", MessageCount: 3},
	}}
	raw, _ := json.Marshal(scan)

	item := types.LLMRequest{ID: "scan1", NextStep: types.HandleHumanTopicScan, Data: map[string]any{PersonaIDKey: "p1"}}
	if err := HandleHumanTopicScan(context.Background(), item, queue.Result{JSON: raw}, deps); err != nil {
		t.Fatalf("HandleHumanTopicScan: %v", err)
	}

	all := deps.State.QueueGetAll()
	if len(all) != 1 {
		t.Fatalf("expected exactly one follow-up (noise candidate filtered), got %d", len(all))
	}
	candidate, err := decodeInto[candidatePayload](all[0].Data[CandidateKey])
	if err != nil {
		t.Fatalf("decodeInto: %v", err)
	}
	if candidate.Name != "cooking" {
		t.Fatalf("expected surviving candidate to be cooking, got %q", candidate.Name)
	}
}

func TestHandleHumanItemMatchExitsOnLockedFact(t *testing.T) {
	deps := newTestDeps(t)
	addTestPersona(t, deps, "p1")

	err := deps.State.UpsertDataItem(types.CategoryFact, "allergy", func(existed bool, current any) (any, error) {
		f := current.(types.Fact)
		f.Description = "allergic to peanuts"
		f.Validated = types.ValidatedHuman
		return f, nil
	})
	if err != nil {
		t.Fatalf("seed fact: %v", err)
	}
	human := deps.State.GetHuman()
	factID := human.Facts[0].ID

	candidate := candidatePayload{Name: "allergy", Description: "no longer allergic"}
	match := matchResult{MatchedGUID: &factID}
	raw, _ := json.Marshal(match)

	item := types.LLMRequest{
		ID:       "match1",
		NextStep: types.HandleHumanItemMatch,
		Data: map[string]any{
			PersonaIDKey: "p1",
			CategoryKey:  types.CategoryFact,
			CandidateKey: toDataValue(candidate),
		},
	}
	if err := HandleHumanItemMatch(context.Background(), item, queue.Result{JSON: raw}, deps); err != nil {
		t.Fatalf("HandleHumanItemMatch: %v", err)
	}

	if len(deps.State.QueueGetAll()) != 0 {
		t.Fatalf("expected no follow-up enqueued for a locked-fact match")
	}
}

func TestHandleHumanItemMatchCrossCategoryEnqueuesValidation(t *testing.T) {
	deps := newTestDeps(t)
	addTestPersona(t, deps, "p1")

	err := deps.State.UpsertDataItem(types.CategoryTrait, "runner", func(existed bool, current any) (any, error) {
		tr := current.(types.Trait)
		tr.Description = "runs marathons"
		return tr, nil
	})
	if err != nil {
		t.Fatalf("seed trait: %v", err)
	}
	traitID := deps.State.GetHuman().Traits[0].ID

	candidate := candidatePayload{Name: "runner", Description: "a topic about running"}
	match := matchResult{MatchedGUID: &traitID}
	raw, _ := json.Marshal(match)

	item := types.LLMRequest{
		ID:       "match2",
		NextStep: types.HandleHumanItemMatch,
		Data: map[string]any{
			PersonaIDKey: "p1",
			CategoryKey:  types.CategoryTopic,
			CandidateKey: toDataValue(candidate),
		},
	}
	if err := HandleHumanItemMatch(context.Background(), item, queue.Result{JSON: raw}, deps); err != nil {
		t.Fatalf("HandleHumanItemMatch: %v", err)
	}

	all := deps.State.QueueGetAll()
	if len(all) != 1 || all[0].NextStep != types.HandleEiValidation {
		t.Fatalf("expected exactly one ei_validation follow-up, got %+v", all)
	}
}

func TestHandleHumanItemMatchCrossCategoryDoesNotStallCeremonyProgress(t *testing.T) {
	deps := newTestDeps(t)
	addTestPersona(t, deps, "p1")

	err := deps.State.UpsertDataItem(types.CategoryTrait, "runner", func(existed bool, current any) (any, error) {
		tr := current.(types.Trait)
		tr.Description = "runs marathons"
		return tr, nil
	})
	if err != nil {
		t.Fatalf("seed trait: %v", err)
	}
	traitID := deps.State.GetHuman().Traits[0].ID

	candidate := candidatePayload{Name: "runner", Description: "a topic about running"}
	match := matchResult{MatchedGUID: &traitID}
	raw, _ := json.Marshal(match)

	progress := []string{"exposure", "decay"}
	item := types.LLMRequest{
		ID:       "match3",
		NextStep: types.HandleHumanItemMatch,
		Data: map[string]any{
			PersonaIDKey:               "p1",
			CategoryKey:                types.CategoryTopic,
			CandidateKey:               toDataValue(candidate),
			types.CeremonyProgressKey: progress,
		},
	}
	if err := HandleHumanItemMatch(context.Background(), item, queue.Result{JSON: raw}, deps); err != nil {
		t.Fatalf("HandleHumanItemMatch: %v", err)
	}

	all := deps.State.QueueGetAll()
	if len(all) != 2 {
		t.Fatalf("expected an ei_validation item plus a ceremony progress check, got %+v", all)
	}
	for _, req := range all {
		if req.NextStep == types.HandleEiValidation {
			if _, ok := req.CeremonyProgress(); ok {
				t.Fatalf("ei_validation item must not carry ceremony_progress (it isn't drained until the heartbeat poll), got %+v", req)
			}
		}
		if req.NextStep == types.HandleCeremonyProgress {
			if _, ok := req.CeremonyProgress(); !ok {
				t.Fatalf("expected the ceremony progress check to carry the marker, got %+v", req)
			}
		}
	}
}

func TestHandleHumanItemUpdateCreatesFactAndTriggersValidationForGeneralGroup(t *testing.T) {
	deps := newTestDeps(t)
	addTestPersona(t, deps, "p1")

	update := updatePayload{Name: "hometown", Description: "grew up in Denver", Sentiment: 0.2}
	raw, _ := json.Marshal(update)

	item := types.LLMRequest{
		ID:       "update1",
		NextStep: types.HandleHumanItemUpdate,
		Data: map[string]any{
			PersonaIDKey: "p1",
			CategoryKey:  types.CategoryFact,
		},
	}
	if err := HandleHumanItemUpdate(context.Background(), item, queue.Result{JSON: raw}, deps); err != nil {
		t.Fatalf("HandleHumanItemUpdate: %v", err)
	}

	human := deps.State.GetHuman()
	if len(human.Facts) != 1 || human.Facts[0].Description != "grew up in Denver" {
		t.Fatalf("expected fact to be created, got %+v", human.Facts)
	}
	if len(human.Facts[0].ChangeLog) != 1 {
		t.Fatalf("expected a change-log entry on create, got %d", len(human.Facts[0].ChangeLog))
	}

	all := deps.State.QueueGetAll()
	if len(all) != 1 || all[0].NextStep != types.HandleEiValidation {
		t.Fatalf("expected one ei_validation follow-up for General-group write by non-Ei persona, got %+v", all)
	}
}

func TestHandleHumanItemUpdateSkipsValidationForEi(t *testing.T) {
	deps := newTestDeps(t)

	update := updatePayload{Name: "hometown", Description: "grew up in Denver"}
	raw, _ := json.Marshal(update)

	item := types.LLMRequest{
		ID:       "update2",
		NextStep: types.HandleHumanItemUpdate,
		Data: map[string]any{
			PersonaIDKey: types.EiPersonaID,
			CategoryKey:  types.CategoryFact,
		},
	}
	if err := HandleHumanItemUpdate(context.Background(), item, queue.Result{JSON: raw}, deps); err != nil {
		t.Fatalf("HandleHumanItemUpdate: %v", err)
	}

	if len(deps.State.QueueGetAll()) != 0 {
		t.Fatalf("expected no ei_validation follow-up when Ei itself writes the item")
	}
}
