// Package signal defines the units of work that flow through the hybrid
// memory controller.
package signal

import (
	"fmt"

	"github.com/sarchlab/hybridmem/mem/hybrid/internal/tagstore"
	"github.com/sarchlab/hybridmem/mem/mem"
	"github.com/sarchlab/hybridmem/sim/timing"
)

// Tier identifies a memory tier.
type Tier int

// A list of all tiers.
const (
	TierFast Tier = iota
	TierBacking
)

func (t Tier) String() string {
	if t == TierFast {
		return "fast"
	}

	return "backing"
}

// Kind is the role a packet plays.
type Kind int

// A list of all packet kinds.
const (
	// KindDemand is a fast-tier probe on behalf of a request.
	KindDemand Kind = iota
	// KindBackingRead fetches a block from the backing tier.
	KindBackingRead
	// KindFill writes a block into the fast tier.
	KindFill
	// KindVictim writes an evicted dirty block back to the backing tier.
	KindVictim
	// KindBackingWrite writes request data directly to the backing tier.
	KindBackingWrite
)

func (k Kind) String() string {
	switch k {
	case KindDemand:
		return "demand"
	case KindBackingRead:
		return "backing_read"
	case KindFill:
		return "fill"
	case KindVictim:
		return "victim"
	case KindBackingWrite:
		return "backing_write"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// State is the lifecycle state of a packet.
type State int

// A list of all lifecycle states.
const (
	// StateProbing packets wait for, or are doing, their fast-tier tag check.
	StateProbing State = iota
	// StateAwaitingBackingRead fills wait for the data of their backing read.
	StateAwaitingBackingRead
	// StateAwaitingFill demand reads wait for the block to arrive from the
	// backing tier.
	StateAwaitingFill
	// StateReady packets have no unresolved dependency.
	StateReady
)

func (s State) String() string {
	switch s {
	case StateProbing:
		return "probing"
	case StateAwaitingBackingRead:
		return "awaiting_backing_read"
	case StateAwaitingFill:
		return "awaiting_fill"
	case StateReady:
		return "ready"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Packet is a burst-sized unit of work.
type Packet struct {
	ID    uint64
	Addr  uint64
	Size  uint64
	Tier  Tier
	Op    mem.Op
	Kind  Kind
	State State

	// Loc is the decoded position in the tier the packet accesses.
	Loc mem.Location

	Priority  int
	EntryTime timing.VTimeInCycle
	ReadyTime timing.VTimeInCycle

	// Trans is set when completing this packet services a burst of a
	// request.
	Trans *Transaction

	// Fill is the fill that waits for this backing read.
	Fill *Packet

	// Waiter is the demand read whose data this backing read brings.
	Waiter *Packet

	// WriteTriggered fills dirty their line when they complete.
	WriteTriggered bool

	// ProbedClass is the classification observed at admission.
	ProbedClass tagstore.Class

	// extents are the byte ranges a merged write holds, sorted and
	// disjoint. Nil means the packet holds [Addr, Addr+Size).
	extents []extent
}

type extent struct {
	start, end uint64
}

// IsRead returns true if the packet reads its tier.
func (p *Packet) IsRead() bool {
	return p.Kind == KindDemand || p.Kind == KindBackingRead
}

// Covers returns true if the packet holds every byte of [addr, addr+size).
// Bytes between two merged writes are not held.
func (p *Packet) Covers(addr, size uint64) bool {
	if p.extents == nil {
		return p.Addr <= addr && addr+size <= p.Addr+p.Size
	}

	for _, e := range p.extents {
		if e.start <= addr && addr+size <= e.end {
			return true
		}
	}

	return false
}

// Widen grows the byte range to also contain [addr, addr+size), as when a
// write merges into the packet. Only the merged bytes become covered.
func (p *Packet) Widen(addr, size uint64) {
	if p.extents == nil {
		p.extents = []extent{{p.Addr, p.Addr + p.Size}}
	}

	added := extent{addr, addr + size}
	merged := make([]extent, 0, len(p.extents)+1)

	for _, e := range p.extents {
		switch {
		case e.end < added.start:
			merged = append(merged, e)
		case added.end < e.start:
			merged = append(merged, added)
			added = e
		default:
			added = extent{min(e.start, added.start), max(e.end, added.end)}
		}
	}

	p.extents = append(merged, added)

	end := max(p.Addr+p.Size, addr+size)
	p.Addr = min(p.Addr, addr)
	p.Size = end - p.Addr
}

func (p *Packet) String() string {
	return fmt.Sprintf("pkt %d %s/%s %s [0x%x, +%d) %s",
		p.ID, p.Tier, p.Kind, p.Op, p.Addr, p.Size, p.State)
}
