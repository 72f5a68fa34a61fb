package handler

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/eicompanion/ei/internal/queue"
	"github.com/eicompanion/ei/pkg/types"
)

func TestBehaviorStrengthMapsVocabulary(t *testing.T) {
	cases := map[string]float64{
		"please never do that again":    0.0,
		"stop doing that":               0.0,
		"sometimes it's fine":           0.3,
		"always do it this way":         0.9,
		"every time you see this, do X": 0.9,
		"just do it normally":           0.5,
	}
	for input, want := range cases {
		if got := behaviorStrength(input); got != want {
			t.Errorf("behaviorStrength(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestHandleBehaviorMapCreatesTraitAndChainsDescriptionRegen(t *testing.T) {
	deps := newTestDeps(t)
	addTestPersona(t, deps, "p1")

	behavior := behaviorExtractResult{
		BehaviorName:    "formality",
		CurrentState:    "casual tone",
		RequestedChange: "always be formal",
	}
	item := types.LLMRequest{
		ID:       "map1",
		NextStep: types.HandleBehaviorMap,
		Data: map[string]any{
			PersonaIDKey: "p1",
			"behavior":    toDataValue(behavior),
		},
	}
	if err := HandleBehaviorMap(context.Background(), item, queue.Result{}, deps); err != nil {
		t.Fatalf("HandleBehaviorMap: %v", err)
	}

	p, ok := deps.State.GetPersonaByID("p1")
	if !ok {
		t.Fatalf("persona not found")
	}
	if len(p.Traits) != 1 || p.Traits[0].Strength != 0.9 {
		t.Fatalf("expected one trait with strength 0.9, got %+v", p.Traits)
	}

	all := deps.State.QueueGetAll()
	if len(all) != 1 || all[0].NextStep != types.HandleDescriptionRegen {
		t.Fatalf("expected a description_regen follow-up, got %+v", all)
	}
}

func TestHandleBehaviorMapMergesIntoSimilarExistingTrait(t *testing.T) {
	deps := newTestDeps(t)
	p := addTestPersona(t, deps, "p1")
	p.Traits = []types.Trait{{Base: types.Base{ID: "t1", Name: "formal tone"}, Strength: 0.5}}
	if err := deps.State.UpdatePersona("p1", func(x *types.Persona) { x.Traits = p.Traits }); err != nil {
		t.Fatalf("seed trait: %v", err)
	}

	behavior := behaviorExtractResult{BehaviorName: "formal tones", CurrentState: "relaxed", RequestedChange: "never"}
	item := types.LLMRequest{
		NextStep: types.HandleBehaviorMap,
		Data:     map[string]any{PersonaIDKey: "p1", "behavior": toDataValue(behavior)},
	}
	if err := HandleBehaviorMap(context.Background(), item, queue.Result{}, deps); err != nil {
		t.Fatalf("HandleBehaviorMap: %v", err)
	}

	updated, _ := deps.State.GetPersonaByID("p1")
	if len(updated.Traits) != 1 {
		t.Fatalf("expected merge into the one existing trait, got %d traits", len(updated.Traits))
	}
	if updated.Traits[0].Strength != 0.0 {
		t.Fatalf("expected merged trait strength 0.0, got %v", updated.Traits[0].Strength)
	}
}

func TestHandleDescriptionRegenSkipsEi(t *testing.T) {
	deps := newTestDeps(t)
	regen := descriptionRegenResult{ShortDescription: "new short", LongDescription: "new long"}
	raw, _ := json.Marshal(regen)

	item := types.LLMRequest{NextStep: types.HandleDescriptionRegen, Data: map[string]any{PersonaIDKey: types.EiPersonaID}}
	if err := HandleDescriptionRegen(context.Background(), item, queue.Result{JSON: raw}, deps); err != nil {
		t.Fatalf("HandleDescriptionRegen: %v", err)
	}

	ei, ok := deps.State.GetPersonaByID(types.EiPersonaID)
	if !ok {
		t.Fatalf("ei persona not found")
	}
	if ei.ShortDescription == "new short" {
		t.Fatalf("Ei's locked description must never regenerate")
	}
}

func TestHandlePersonaTopicUpdateDoesNotTriggerDescriptionRegen(t *testing.T) {
	deps := newTestDeps(t)
	addTestPersona(t, deps, "p1")

	update := updatePayload{Name: "space travel", Description: "enjoys discussing space travel", LevelCurrent: 0.4, LevelIdeal: 0.7}
	raw, _ := json.Marshal(update)

	item := types.LLMRequest{NextStep: types.HandlePersonaTopicUpdate, Data: map[string]any{PersonaIDKey: "p1"}}
	if err := HandlePersonaTopicUpdate(context.Background(), item, queue.Result{JSON: raw}, deps); err != nil {
		t.Fatalf("HandlePersonaTopicUpdate: %v", err)
	}

	p, _ := deps.State.GetPersonaByID("p1")
	if len(p.Topics) != 1 {
		t.Fatalf("expected topic to be created, got %+v", p.Topics)
	}
	if len(deps.State.QueueGetAll()) != 0 {
		t.Fatalf("persona topic updates must never enqueue a description_regen")
	}
}
