package hybrid

import (
	"github.com/sarchlab/hybridmem/mem/mem"
	"github.com/sarchlab/hybridmem/sim/timing"
)

// nextReqEvent runs the bus scheduler.
type nextReqEvent struct {
	gen uint64
}

// respondEvent processes the earliest completion.
type respondEvent struct {
	gen uint64
}

// deliverEvent hands a response to the transport.
type deliverEvent struct {
	req *mem.Request
	rsp *mem.Response
}

// eventSlot tracks the one pending event of a kind. Scheduling an earlier
// event supersedes the pending one, which is then ignored when it fires.
type eventSlot struct {
	scheduled bool
	time      timing.VTimeInCycle
	gen       uint64
}

// arm returns the generation of a new event at the given time, or false if
// an event at or before that time is already pending.
func (s *eventSlot) arm(at timing.VTimeInCycle) (uint64, bool) {
	if s.scheduled && s.time <= at {
		return 0, false
	}

	s.gen++
	s.scheduled = true
	s.time = at

	return s.gen, true
}

// fire returns true if the event of the generation is the pending one.
func (s *eventSlot) fire(gen uint64) bool {
	if !s.scheduled || gen != s.gen {
		return false
	}

	s.scheduled = false

	return true
}

func (c *Comp) scheduleNextReq(at timing.VTimeInCycle) {
	gen, ok := c.nextReqSlot.arm(at)
	if !ok {
		return
	}

	c.engine.Schedule(timing.ScheduledEvent{
		Event:   nextReqEvent{gen: gen},
		Time:    at,
		Handler: c,
	})
}

// kickScheduler runs the scheduler as soon as the bus allows it.
func (c *Comp) kickScheduler(at timing.VTimeInCycle) {
	c.scheduleNextReq(max(at, c.nextReqTime, c.now()))
}

func (c *Comp) scheduleRespond(at timing.VTimeInCycle) {
	gen, ok := c.respondSlot.arm(at)
	if !ok {
		return
	}

	c.engine.Schedule(timing.ScheduledEvent{
		Event:   respondEvent{gen: gen},
		Time:    at,
		Handler: c,
	})
}
