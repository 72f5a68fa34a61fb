/*
Package event provides a type-safe pub/sub event bus for the engine.

The event system decouples internal/statemgr's state mutations from
whatever is listening for them — a CLI rendering a live view, a sync
client deciding whether to push, a future notification channel — without
those listeners depending directly on statemgr.

# Architecture

Built on watermill's gochannel for infrastructure, while keeping direct-call
semantics so subscribers receive typed Data payloads rather than having to
decode a generic message envelope. Bus.Notify implements
statemgr.Notifier, so a *Bus can be handed straight to statemgr.Options.Notifier
and every state mutation republishes here automatically.

# Event Types

  - onHumanUpdated: a Human-scoped Fact/Trait/Topic/Person or setting changed
  - onPersonaAdded / onPersonaUpdated / onPersonaDeleted: persona lifecycle
  - onMessageAdded / onMessageRemoved: a persona's message log changed
  - onDataItemChanged: a Fact/Trait/Topic/Person was created or updated
  - onQuoteChanged: the Quotes collection changed
  - onQueueStateChanged: the LLM request queue was mutated

# Basic Usage

Publishing events:

	event.Publish(event.Event{
		Type: event.PersonaAdded,
		Data: event.PersonaAddedData{Persona: persona},
	})

	event.PublishSync(event.Event{
		Type: event.MessageAdded,
		Data: event.MessageAddedData{PersonaID: id, Message: msg},
	})

Subscribing:

	unsubscribe := event.Subscribe(event.PersonaAdded, func(e event.Event) {
		data := e.Data.(event.PersonaAddedData)
		logging.Info().Str("persona_id", data.Persona.ID).Msg("persona added")
	})
	defer unsubscribe()

	unsubscribe = event.SubscribeAll(func(e event.Event) {
		logging.Debug().Str("type", string(e.Type)).Msg("event received")
	})
	defer unsubscribe()

# Subscriber Safety Guidelines

PublishSync calls subscribers synchronously in the publisher's goroutine.
Subscribers MUST complete quickly, never publish re-entrantly, and never
acquire a lock the publisher might hold.

# Custom Event Bus

	bus := event.NewBus()
	defer bus.Close()
	sm, _ := statemgr.New(ctx, statemgr.Options{Store: store, Notifier: bus})

# Thread Safety

The bus is safe for concurrent publish/subscribe from multiple goroutines.
*/
package event
