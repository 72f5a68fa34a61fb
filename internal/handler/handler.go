// Package handler implements the finite set of next_step transitions a
// queued LLM call can complete into: each either mutates state and
// completes, enqueues one or more follow-up items, or both. Handlers never
// call the LLM client directly — that is internal/queue's job — they only
// read the Result placed in front of them and describe what queue items
// should exist next.
package handler

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/eicompanion/ei/internal/queue"
	"github.com/eicompanion/ei/pkg/types"
)

// Data keys used on LLMRequest.Data across the human/persona extraction
// flows and the ceremony sequencer.
const (
	PersonaIDKey        = "persona_id"
	CategoryKey         = "category"
	CandidateKey        = "candidate"
	MatchedIDKey        = "matched_id"
	TriggerMessageIDKey = "trigger_message_id"
	TopicIDKey          = "topic_id"
)

func nowMs() int64 { return time.Now().UnixMilli() }

// decodeInto marshals v (typically a map[string]any pulled off
// LLMRequest.Data, which may or may not have round-tripped through JSON
// persistence) and unmarshals it into T, so callers get a typed value
// regardless of whether the in-memory value already was one.
func decodeInto[T any](v any) (T, error) {
	var out T
	if v == nil {
		return out, fmt.Errorf("handler: missing value")
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return out, fmt.Errorf("handler: re-marshal data field: %w", err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("handler: decode data field: %w", err)
	}
	return out, nil
}

// toDataValue round-trips v through JSON so it can be stored on
// LLMRequest.Data and later decoded back with decodeInto regardless of an
// intervening save/load cycle.
func toDataValue(v any) any {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out any
	_ = json.Unmarshal(raw, &out)
	return out
}

func parseJSONResult[T any](result queue.Result) (T, error) {
	var out T
	if err := json.Unmarshal(result.JSON, &out); err != nil {
		return out, fmt.Errorf("handler: parse llm result: %w", err)
	}
	return out, nil
}

// withCeremonyProgress copies parent's ceremony_progress marker onto req,
// if parent carries one, so a ceremony-initiated chain of handlers keeps
// tagging every item it spawns.
func withCeremonyProgress(parent types.LLMRequest, req types.LLMRequest) types.LLMRequest {
	if progress, ok := parent.CeremonyProgress(); ok {
		if req.Data == nil {
			req.Data = map[string]any{}
		}
		req.Data[types.CeremonyProgressKey] = progress
	}
	return req
}

// enqueueFollowUps enqueues each follow-up (tagged with parent's ceremony
// marker, if any), and — when parent is part of a ceremony chain — also
// enqueues a no-prompt HandleCeremonyProgress check, so the sequencer
// notices once every spawned item has drained.
func enqueueFollowUps(deps queue.Deps, parent types.LLMRequest, followUps ...types.LLMRequest) {
	for _, f := range followUps {
		deps.State.QueueEnqueue(withCeremonyProgress(parent, f))
	}
	if _, ok := parent.CeremonyProgress(); ok {
		deps.State.QueueEnqueue(withCeremonyProgress(parent, types.LLMRequest{
			NextStep: types.HandleCeremonyProgress,
			Priority: types.PriorityLow,
		}))
	}
}
