package handler

import (
	"github.com/eicompanion/ei/internal/queue"
	"github.com/eicompanion/ei/pkg/types"
)

// RegisterAll wires every next_step tag to its handler on proc. Called once
// during engine startup, before the processor's tick loop runs.
func RegisterAll(proc *queue.Processor) {
	proc.Register(types.HandleResponse, HandleResponse)
	proc.Register(types.HandleHeartbeat, HandleHeartbeat)

	proc.Register(types.HandleHumanFactScan, HandleHumanFactScan)
	proc.Register(types.HandleHumanTraitScan, HandleHumanTraitScan)
	proc.Register(types.HandleHumanTopicScan, HandleHumanTopicScan)
	proc.Register(types.HandleHumanPersonScan, HandleHumanPersonScan)
	proc.Register(types.HandleHumanItemMatch, HandleHumanItemMatch)
	proc.Register(types.HandleHumanItemUpdate, HandleHumanItemUpdate)

	proc.Register(types.HandleCeremonyProgress, HandleCeremonyProgress)
	proc.Register(types.HandleExpire, HandleExpire)
	proc.Register(types.HandleExplore, HandleExplore)

	proc.Register(types.HandlePersonaGeneration, HandlePersonaGeneration)
	proc.Register(types.HandleDescriptionRegen, HandleDescriptionRegen)

	proc.Register(types.HandlePersonaTopicScan, HandlePersonaTopicScan)
	proc.Register(types.HandlePersonaTopicMatch, HandlePersonaTopicMatch)
	proc.Register(types.HandlePersonaTopicUpdate, HandlePersonaTopicUpdate)

	proc.Register(types.HandleBehaviorGate, HandleBehaviorGate)
	proc.Register(types.HandleBehaviorExtract, HandleBehaviorExtract)
	proc.Register(types.HandleBehaviorMap, HandleBehaviorMap)

	// HandleEiValidation is registered so queue.Processor.Call can dispatch
	// it, but queue.eligibleItems excludes it from the normal tick path —
	// it only ever runs via orchestrator.Orchestrator.drainValidations.
	proc.Register(types.HandleEiValidation, HandleEiValidation)
}
