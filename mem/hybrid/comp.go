// Package hybrid provides a memory controller that places a small, fast,
// direct-mapped cache tier in front of a large backing tier.
package hybrid

import (
	"fmt"

	"github.com/sarchlab/hybridmem/mem/hybrid/internal/cmdbus"
	"github.com/sarchlab/hybridmem/mem/hybrid/internal/queue"
	"github.com/sarchlab/hybridmem/mem/hybrid/internal/signal"
	"github.com/sarchlab/hybridmem/mem/hybrid/internal/tagstore"
	"github.com/sarchlab/hybridmem/mem/mem"
	"github.com/sarchlab/hybridmem/sim/hooking"
	"github.com/sarchlab/hybridmem/sim/timing"
	"github.com/sirupsen/logrus"
)

// Policy selects how packets are picked from a queue.
type Policy int

// A list of all arbitration policies.
const (
	// PolicyFCFS picks the oldest packet whose rank is ready.
	PolicyFCFS Policy = iota
	// PolicyFRFCFS prefers packets that hit an open row.
	PolicyFRFCFS
)

func (p Policy) String() string {
	if p == PolicyFRFCFS {
		return "frfcfs"
	}

	return "fcfs"
}

// ParsePolicy converts a policy name into a Policy.
func ParsePolicy(name string) (Policy, error) {
	switch name {
	case "fcfs":
		return PolicyFCFS, nil
	case "frfcfs":
		return PolicyFRFCFS, nil
	default:
		return PolicyFCFS, fmt.Errorf("unknown arbitration policy %q", name)
	}
}

// BusState is the direction of the data bus.
type BusState int

// A list of all bus states.
const (
	BusStateRead BusState = iota
	BusStateWrite
)

func (s BusState) String() string {
	if s == BusStateWrite {
		return "write"
	}

	return "read"
}

// DrainState tells how far a drain has progressed.
type DrainState int

// A list of all drain states.
const (
	DrainStateRunning DrainState = iota
	DrainStateDraining
	DrainStateDrained
)

func (s DrainState) String() string {
	switch s {
	case DrainStateDraining:
		return "draining"
	case DrainStateDrained:
		return "drained"
	default:
		return "running"
	}
}

// Stats counts what happened inside the controller.
type Stats struct {
	ReadReqs  uint64
	WriteReqs uint64

	RefusedReads  uint64
	RefusedWrites uint64

	ServicedByWriteQueue uint64
	MergedWrites         uint64

	Hits        uint64
	CleanMisses uint64
	DirtyMisses uint64
	StaleProbes uint64

	// Burst counts are indexed by tier, fast first.
	ReadBursts  [2]uint64
	WriteBursts [2]uint64

	Fills         uint64
	Victims       uint64
	BackingWrites uint64

	ParkedRoutes   uint64
	BusTurnarounds uint64
	ReadsPerTurn   []int
	WritesPerTurn  []int

	TotalReadLatency timing.VTimeInCycle
	FinalizedReads   uint64
}

// AvgReadLatency returns the mean cycles between accepting and finalizing a
// read.
func (s *Stats) AvgReadLatency() float64 {
	if s.FinalizedReads == 0 {
		return 0
	}

	return float64(s.TotalReadLatency) / float64(s.FinalizedReads)
}

// HitRate returns the fraction of probes that hit the fast tier.
func (s *Stats) HitRate() float64 {
	probes := s.Hits + s.CleanMisses + s.DirtyMisses
	if probes == 0 {
		return 0
	}

	return float64(s.Hits) / float64(probes)
}

type tier struct {
	media       Media
	policy      Policy
	nextBurstAt timing.VTimeInCycle
	issued      bool
	lastIsRead  bool
}

type pendingFill struct {
	tag   uint64
	count int
}

// Comp is a hybrid memory controller.
type Comp struct {
	*hooking.HookableBase

	name   string
	engine timing.EventScheduler
	log    *logrus.Entry

	storage *mem.Storage
	tags    *tagstore.Store
	cmdBus  *cmdbus.Tracker

	fast    tier
	backing tier

	fastRead     *queue.PacketQueue
	fastWrite    *queue.PacketQueue
	backingRead  *queue.PacketQueue
	backingWrite *queue.PacketQueue
	fill         *queue.PacketQueue
	completions  *queue.CompletionQueue

	transport     Transport
	drainListener DrainListener
	system        System

	writeAllocate      bool
	writeLowThreshold  int
	writeHighThreshold int
	minWritesPerSwitch int
	frontendLatency    timing.VTimeInCycle
	backendLatency     timing.VTimeInCycle
	tagCheckLatency    timing.VTimeInCycle

	busState       BusState
	busStateNext   BusState
	readsThisTime  int
	writesThisTime int
	lowLatched     bool
	nextReqTime    timing.VTimeInCycle
	idleSwitched   bool
	idleSwitchAt   timing.VTimeInCycle

	retryRdReq        bool
	retryWrReq        bool
	retryBackingRead  bool
	retryBackingWrite bool
	retryFill         bool

	parked       []*signal.Packet
	pendingFills map[uint64]pendingFill
	deliveries   int
	nextPktID    uint64

	drainState   DrainState
	inTimingMode bool

	nextReqSlot eventSlot
	respondSlot eventSlot

	stats Stats
}

// Name returns the name of the controller.
func (c *Comp) Name() string {
	return c.name
}

// Stats returns the statistics collected so far.
func (c *Comp) Stats() Stats {
	return c.stats
}

// BusState returns the current direction of the data bus.
func (c *Comp) BusState() BusState {
	return c.busState
}

// DrainState returns the drain progress.
func (c *Comp) DrainState() DrainState {
	return c.drainState
}

// Storage returns the storage that holds the data of the controller.
func (c *Comp) Storage() *mem.Storage {
	return c.storage
}

// Handle processes the events of the controller.
func (c *Comp) Handle(e any) error {
	switch e := e.(type) {
	case nextReqEvent:
		if c.nextReqSlot.fire(e.gen) {
			c.processNextReq()
		}
	case respondEvent:
		if c.respondSlot.fire(e.gen) {
			c.processRespond()
		}
	case deliverEvent:
		c.deliver(e)
	default:
		return fmt.Errorf("%s cannot handle event of type %T", c.name, e)
	}

	return nil
}

// ReserveSingle reserves one command slot on the command bus.
func (c *Comp) ReserveSingle(at timing.VTimeInCycle) timing.VTimeInCycle {
	return c.cmdBus.ReserveSingle(at)
}

// ReserveMulti reserves a two-command sequence on the command bus.
func (c *Comp) ReserveMulti(at, maxSplit timing.VTimeInCycle) timing.VTimeInCycle {
	return c.cmdBus.ReserveMulti(at, maxSplit)
}

// WakeUp restarts the scheduler after a media was busy.
func (c *Comp) WakeUp() {
	c.kickScheduler(c.engine.CurrentTime())
}

func (c *Comp) now() timing.VTimeInCycle {
	return c.engine.CurrentTime()
}

func (c *Comp) tierOf(t signal.Tier) *tier {
	if t == signal.TierFast {
		return &c.fast
	}

	return &c.backing
}

func (c *Comp) newPacket() *signal.Packet {
	c.nextPktID++

	return &signal.Packet{
		ID:        c.nextPktID,
		EntryTime: c.now(),
	}
}

func (c *Comp) writeVolume() int {
	return c.fastWrite.Len() + c.backingWrite.Len() + c.fill.Len()
}

func (c *Comp) readsWaiting() bool {
	return !c.fastRead.Empty() || !c.fastWrite.Empty() ||
		!c.backingRead.Empty()
}

func (c *Comp) queueSizes() string {
	return fmt.Sprintf(
		"fastRead %d/%d, fastWrite %d/%d, backingRead %d/%d, "+
			"backingWrite %d/%d, fill %d/%d, completions %d, parked %d",
		c.fastRead.Len(), c.fastRead.Cap(),
		c.fastWrite.Len(), c.fastWrite.Cap(),
		c.backingRead.Len(), c.backingRead.Cap(),
		c.backingWrite.Len(), c.backingWrite.Cap(),
		c.fill.Len(), c.fill.Cap(),
		c.completions.Len(), len(c.parked))
}

var _ timing.Handler = (*Comp)(nil)
var _ CommandBus = (*Comp)(nil)
var _ Waker = (*Comp)(nil)
