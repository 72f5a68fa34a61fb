package handler

import (
	"context"

	"github.com/eicompanion/ei/internal/queue"
	"github.com/eicompanion/ei/pkg/types"
)

// eiValidationVerdict is Ei's countersign decision for a HandleEiValidation
// item: either a cross-category match conflict or a General-group write by
// another persona.
type eiValidationVerdict struct {
	Approved bool `json:"approved"`
}

// HandleEiValidation consumes Ei's verdict on a validation item. These
// items are never picked up by the processor's own tick (queue.eligibleItems
// excludes HandleEiValidation); the orchestrator dispatches them directly
// via queue.Processor.Call during its periodic drain.
func HandleEiValidation(ctx context.Context, item types.LLMRequest, result queue.Result, deps queue.Deps) error {
	verdict, err := parseJSONResult[eiValidationVerdict](result)
	if err != nil {
		return err
	}
	if !verdict.Approved {
		return nil
	}

	candidateRaw, hasCandidate := item.Data[CandidateKey]
	if !hasCandidate {
		// Plain countersign of a General-group write already committed by
		// another persona; Ei's approval is advisory and carries no further
		// state change.
		return nil
	}

	candidate, err := decodeInto[candidatePayload](candidateRaw)
	if err != nil {
		return err
	}
	category, _ := item.Data[CategoryKey].(string)
	personaID, _ := item.Data[PersonaIDKey].(string)

	data := map[string]any{PersonaIDKey: personaID, CategoryKey: category, CandidateKey: toDataValue(candidate)}
	if matchedID, ok := item.Data[MatchedIDKey].(string); ok && matchedID != "" {
		data[MatchedIDKey] = matchedID
	}

	enqueueFollowUps(deps, item, types.LLMRequest{
		Priority: types.PriorityNormal,
		NextStep: types.HandleHumanItemUpdate,
		Model:    item.Model,
		Data:     data,
		Prompt: types.Prompt{
			System: "Produce the full updated " + category + " item as JSON given the candidate and (if any) the existing item.",
			User:   candidate.Description,
		},
	})
	return nil
}
