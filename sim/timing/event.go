// Package timing provides a cycle-based discrete event kernel.
package timing

import "github.com/sarchlab/hybridmem/sim/hooking"

// Handler reacts to the events scheduled for it. Events are plain structs
// and handlers switch on their type. An error stops the engine.
type Handler interface {
	Handle(event any) error
}

// TimeTeller exposes the current simulation cycle.
type TimeTeller interface {
	CurrentTime() VTimeInCycle
}

// EventScheduler schedules events in the simulation timeline.
type EventScheduler interface {
	TimeTeller
	Schedule(event ScheduledEvent)
}

// ScheduledEvent is an event bound to its time and handler.
type ScheduledEvent struct {
	// Event is the data payload delivered to the handler.
	Event any

	// Time is the cycle when the event should be processed.
	Time VTimeInCycle

	// Handler is the component that will process this event.
	Handler Handler

	// IsSecondary events run after all primary events of the same cycle.
	IsSecondary bool
}

// Hook positions of the engine. The Item of the hook context is the
// ScheduledEvent being handled.
var (
	HookPosBeforeEvent = &hooking.HookPos{Name: "BeforeEvent"}
	HookPosAfterEvent  = &hooking.HookPos{Name: "AfterEvent"}
)
