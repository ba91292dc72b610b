package timing

import (
	"fmt"
	"reflect"

	"github.com/sarchlab/hybridmem/sim/hooking"
)

// SerialEngine processes scheduled events one at a time in time order. It is
// not safe for concurrent use; handlers run on the goroutine that calls Run.
type SerialEngine struct {
	*hooking.HookableBase

	now VTimeInCycle

	queue          *eventQueue
	secondaryQueue *eventQueue
}

// NewSerialEngine creates a SerialEngine.
func NewSerialEngine() *SerialEngine {
	return &SerialEngine{
		HookableBase:   hooking.NewHookableBase(),
		queue:          newEventQueue(),
		secondaryQueue: newEventQueue(),
	}
}

// Schedule registers an event to be handled in the future.
func (e *SerialEngine) Schedule(evt ScheduledEvent) {
	if evt.Time < e.now {
		panic(fmt.Sprintf(
			"timing: cannot schedule event in the past, evt %s @ %d, now %d",
			reflect.TypeOf(evt.Event), evt.Time, e.now,
		))
	}

	if evt.IsSecondary {
		e.secondaryQueue.Push(evt)
		return
	}

	e.queue.Push(evt)
}

// CurrentTime returns the cycle of the most recently executed event.
func (e *SerialEngine) CurrentTime() VTimeInCycle {
	return e.now
}

// Pending returns the number of events that have not run yet.
func (e *SerialEngine) Pending() int {
	return e.queue.Len() + e.secondaryQueue.Len()
}

// Run processes all scheduled events until none is left.
func (e *SerialEngine) Run() error {
	return e.RunUntil(MaxTime)
}

// RunUntil processes the events scheduled at or before the given time. Time
// is left at the last executed event.
func (e *SerialEngine) RunUntil(until VTimeInCycle) error {
	for e.Pending() > 0 {
		if e.peekTime() > until {
			return nil
		}

		evt := e.nextEvent()
		e.now = evt.Time

		hookCtx := hooking.HookCtx{
			Domain: e,
			Pos:    HookPosBeforeEvent,
			Item:   evt,
		}
		e.InvokeHook(hookCtx)

		if evt.Handler != nil {
			err := evt.Handler.Handle(evt.Event)
			if err != nil {
				return fmt.Errorf("timing: handling %s @ %d: %w",
					reflect.TypeOf(evt.Event), evt.Time, err)
			}
		}

		hookCtx.Pos = HookPosAfterEvent
		e.InvokeHook(hookCtx)
	}

	return nil
}

func (e *SerialEngine) peekTime() VTimeInCycle {
	switch {
	case e.queue.Len() == 0:
		return e.secondaryQueue.Peek().Time
	case e.secondaryQueue.Len() == 0:
		return e.queue.Peek().Time
	default:
		return min(e.queue.Peek().Time, e.secondaryQueue.Peek().Time)
	}
}

func (e *SerialEngine) nextEvent() ScheduledEvent {
	if e.queue.Len() == 0 {
		return e.secondaryQueue.Pop()
	}

	if e.secondaryQueue.Len() == 0 {
		return e.queue.Pop()
	}

	if e.queue.Peek().Time <= e.secondaryQueue.Peek().Time {
		return e.queue.Pop()
	}

	return e.secondaryQueue.Pop()
}

var _ EventScheduler = (*SerialEngine)(nil)
