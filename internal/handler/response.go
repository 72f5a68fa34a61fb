package handler

import (
	"context"
	"strings"

	"github.com/eicompanion/ei/internal/queue"
	"github.com/eicompanion/ei/pkg/types"
)

// noMessageSentinel is the persona response meaning "stay silent".
const noMessageSentinel = "No Message"

// HandleResponse appends the persona's reply to its message log, unless
// the model explicitly declined to answer.
func HandleResponse(ctx context.Context, item types.LLMRequest, result queue.Result, deps queue.Deps) error {
	personaID, _ := item.Data[PersonaIDKey].(string)
	if personaID == "" {
		return nil
	}

	text := strings.TrimSpace(result.ChatText)
	if text == noMessageSentinel || text == "" {
		if triggerID, ok := item.Data[TriggerMessageIDKey].(string); ok && triggerID != "" {
			return deps.State.MarkMessageRead(personaID, triggerID)
		}
		return nil
	}

	msg := types.Message{
		PersonaID:     personaID,
		Role:          types.RoleSystem,
		Content:       text,
		Timestamp:     nowMs(),
		ContextStatus: types.ContextDefault,
	}
	_, err := deps.State.AppendMessage(personaID, msg)
	return err
}

// HandleHeartbeat completes a heartbeat check: the model either produced a
// message (handled exactly like a normal response) or declined, in which
// case only last_heartbeat_check is refreshed.
func HandleHeartbeat(ctx context.Context, item types.LLMRequest, result queue.Result, deps queue.Deps) error {
	personaID, _ := item.Data[PersonaIDKey].(string)
	if personaID == "" {
		return nil
	}

	if err := deps.State.UpdatePersona(personaID, func(p *types.Persona) {
		p.LastHeartbeatCheck = nowMs()
	}); err != nil {
		return err
	}

	text := strings.TrimSpace(result.ChatText)
	if text == noMessageSentinel || text == "" {
		return nil
	}

	msg := types.Message{
		PersonaID:     personaID,
		Role:          types.RoleSystem,
		Content:       text,
		Timestamp:     nowMs(),
		ContextStatus: types.ContextDefault,
	}
	_, err := deps.State.AppendMessage(personaID, msg)
	return err
}
