package hybrid

import (
	"github.com/sarchlab/hybridmem/mem/mem"
	"github.com/sarchlab/hybridmem/sim/timing"
)

// Media is the timing model of one memory tier. The controller asks it where
// a burst lives, whether it can issue, and when its data is ready. The media
// never changes the state of the controller.
type Media interface {
	// BurstSize returns the number of bytes in a burst.
	BurstSize() uint64

	// Capacity returns the number of bytes the tier holds.
	Capacity() uint64

	// Decode returns the location of the burst that contains addr.
	Decode(addr uint64) mem.Location

	// BurstReady returns true if the rank of the location can accept a
	// burst now.
	BurstReady(loc mem.Location, now timing.VTimeInCycle) bool

	// ColumnAllowedAt returns the earliest time a column command to the
	// location can issue and whether the access hits the open row.
	ColumnAllowedAt(
		loc mem.Location,
		now timing.VTimeInCycle,
	) (at timing.VTimeInCycle, rowHit bool)

	// DoBurstAccess issues the burst and reports its timing.
	DoBurstAccess(access BurstAccess) BurstResult

	// IsBusy returns true if no rank can take a burst now. A busy media
	// calls WakeUp on its Waker once it can.
	IsBusy(now timing.VTimeInCycle) bool

	// AllRanksDrained returns true if no burst is in flight.
	AllRanksDrained(now timing.VTimeInCycle) bool

	// DrainRanks prepares the ranks for a drain.
	DrainRanks()

	// Startup restarts the timers of the media in timing mode.
	Startup(now timing.VTimeInCycle)

	// Suspend stops the timers of the media.
	Suspend()

	// CommandOffset returns how long before its data a burst's commands
	// issue.
	CommandOffset() timing.VTimeInCycle

	// MinReadToWriteDataGap is the data bus gap on a read to write switch.
	MinReadToWriteDataGap() timing.VTimeInCycle

	// MinWriteToReadDataGap is the data bus gap on a write to read switch.
	MinWriteToReadDataGap() timing.VTimeInCycle

	// AccessLatency is the nominal latency of one access, used for atomic
	// accesses.
	AccessLatency() timing.VTimeInCycle
}

// BurstAccess describes a burst handed to the media.
type BurstAccess struct {
	Addr   uint64
	Size   uint64
	IsRead bool
	Loc    mem.Location
	Now    timing.VTimeInCycle

	// NextBurstAt is the earliest time the data bus is free for this burst.
	NextBurstAt timing.VTimeInCycle

	// Bus must be used to reserve the command slots of the burst.
	Bus CommandBus
}

// BurstResult reports the timing of an issued burst.
type BurstResult struct {
	CmdAt       timing.VTimeInCycle
	NextBurstAt timing.VTimeInCycle
	ReadyTime   timing.VTimeInCycle
}

// CommandBus hands out command slots.
type CommandBus interface {
	// ReserveSingle reserves one command slot at or after the given time and
	// returns when the command issues.
	ReserveSingle(at timing.VTimeInCycle) timing.VTimeInCycle

	// ReserveMulti reserves a two-command sequence whose commands may be up
	// to maxSplit apart and returns when the second command issues.
	ReserveMulti(at, maxSplit timing.VTimeInCycle) timing.VTimeInCycle
}

// A Waker restarts the scheduler after the media was busy.
type Waker interface {
	WakeUp()
}

// Transport carries responses back to the requestors.
type Transport interface {
	// Deliver hands over the response of a finalized request.
	Deliver(rsp *mem.Response)

	// NotifyRetry tells the requestors that a refused request can be
	// submitted again.
	NotifyRetry()
}

// DrainListener is told when a drain completes.
type DrainListener interface {
	NotifyDrained()
}

// System tells whether the simulation runs in timing mode.
type System interface {
	IsTimingMode() bool
}
