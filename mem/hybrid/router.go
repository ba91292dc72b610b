package hybrid

import (
	"github.com/sarchlab/hybridmem/mem/hybrid/internal/queue"
	"github.com/sarchlab/hybridmem/mem/hybrid/internal/signal"
	"github.com/sarchlab/hybridmem/mem/hybrid/internal/tagstore"
	"github.com/sarchlab/hybridmem/mem/mem"
)

// routePlan is the set of packets that one classification outcome needs.
// Either all of them are queued or none is.
type routePlan struct {
	backingRead  *signal.Packet
	fill         *signal.Packet
	victim       *signal.Packet
	backingWrite *signal.Packet
}

func (p routePlan) numBackingWrites() int {
	n := 0
	if p.victim != nil {
		n++
	}

	if p.backingWrite != nil {
		n++
	}

	return n
}

func (c *Comp) enqueueProbe(pkt *signal.Packet) {
	if pkt.Op == mem.OpWrite {
		c.fastWrite.Push(pkt)
		return
	}

	c.fastRead.Push(pkt)
}

// route moves a probed demand packet to the queues that its classification
// requires. It returns false if the packet must wait and try again.
func (c *Comp) route(pkt *signal.Packet, class tagstore.Class) bool {
	if class == tagstore.ClassHit && !pkt.Trans.Req.IsWrite() {
		pkt.State = signal.StateReady
		c.traceProbeEnd(pkt)
		c.serviceBurst(pkt.Trans, c.frontendLatency+c.backendLatency)

		return true
	}

	plan := c.planRoute(pkt, class)

	if plan.fill != nil && c.lineBusy(plan.fill) {
		c.log.WithField("addr", pkt.Addr).Debug("line busy, deferring")
		return false
	}

	if !c.planFits(plan) {
		return false
	}

	c.commit(pkt, plan)

	return true
}

func (c *Comp) planRoute(pkt *signal.Packet, class tagstore.Class) routePlan {
	isWrite := pkt.Trans.Req.IsWrite()

	if class == tagstore.ClassHit {
		return routePlan{fill: c.newFill(pkt, true, signal.StateReady)}
	}

	if isWrite && !c.writeAllocate {
		return routePlan{backingWrite: c.newBackingWrite(pkt)}
	}

	fill := c.newFill(pkt, isWrite, signal.StateAwaitingBackingRead)
	plan := routePlan{
		fill:        fill,
		backingRead: c.newBackingRead(pkt, fill),
	}

	if class == tagstore.ClassDirtyMiss {
		plan.victim = c.newVictim(pkt)
	}

	return plan
}

func (c *Comp) planFits(plan routePlan) bool {
	fits := true

	if plan.backingRead != nil && !c.backingRead.CanPush(1) {
		c.retryBackingRead = true
		fits = false
	}

	if plan.fill != nil && !c.fill.CanPush(1) {
		c.retryFill = true
		fits = false
	}

	if n := plan.numBackingWrites(); n > 0 && !c.backingWrite.CanPush(n) {
		c.retryBackingWrite = true
		fits = false
	}

	return fits
}

func (c *Comp) commit(pkt *signal.Packet, plan routePlan) {
	if plan.fill != nil && plan.backingRead != nil {
		c.tags.Allocate(pkt.Addr)
	}

	c.pushAll(plan)

	if plan.backingRead != nil && plan.backingRead.Waiter != nil {
		pkt.State = signal.StateAwaitingFill
	} else {
		pkt.State = signal.StateReady
	}

	c.traceProbeEnd(pkt)
	c.kickScheduler(c.now() + c.tagCheckLatency)
}

func (c *Comp) pushAll(plan routePlan) {
	if plan.backingRead != nil {
		c.backingRead.Push(plan.backingRead)
	}

	if plan.fill != nil {
		c.fill.Push(plan.fill)
		c.holdLine(plan.fill)
	}

	if plan.victim != nil {
		c.backingWrite.Push(plan.victim)
	}

	if plan.backingWrite != nil {
		c.backingWrite.Push(plan.backingWrite)
	}
}

func (c *Comp) newFill(
	pkt *signal.Packet,
	writeTriggered bool,
	state signal.State,
) *signal.Packet {
	fill := c.newPacket()
	fill.Tier = signal.TierFast
	fill.Op = mem.OpWrite
	fill.Kind = signal.KindFill
	fill.State = state
	fill.Priority = pkt.Priority
	fill.WriteTriggered = writeTriggered

	if state == signal.StateReady {
		fill.Addr = pkt.Addr
		fill.Size = pkt.Size
	} else {
		fill.Addr = c.tags.LineAddr(pkt.Addr)
		fill.Size = c.tags.LineSize()
	}

	fill.Loc = c.fast.media.Decode(c.tags.CacheAddr(fill.Addr))

	return fill
}

func (c *Comp) newBackingRead(pkt, fill *signal.Packet) *signal.Packet {
	rd := c.newPacket()
	rd.Addr = c.tags.LineAddr(pkt.Addr)
	rd.Size = c.tags.LineSize()
	rd.Tier = signal.TierBacking
	rd.Op = mem.OpRead
	rd.Kind = signal.KindBackingRead
	rd.State = signal.StateReady
	rd.Priority = pkt.Priority
	rd.Loc = c.backing.media.Decode(rd.Addr)
	rd.Fill = fill

	if !pkt.Trans.Req.IsWrite() {
		rd.Waiter = pkt
	}

	return rd
}

func (c *Comp) newVictim(pkt *signal.Packet) *signal.Packet {
	evicted := c.tags.Entry(pkt.Addr)

	v := c.newPacket()
	v.Addr = evicted.BackingAddr
	v.Size = c.tags.LineSize()
	v.Tier = signal.TierBacking
	v.Op = mem.OpWrite
	v.Kind = signal.KindVictim
	v.State = signal.StateReady
	v.Priority = pkt.Priority
	v.Loc = c.backing.media.Decode(v.Addr)

	return v
}

func (c *Comp) newBackingWrite(pkt *signal.Packet) *signal.Packet {
	w := c.newPacket()
	w.Addr = pkt.Addr
	w.Size = pkt.Size
	w.Tier = signal.TierBacking
	w.Op = mem.OpWrite
	w.Kind = signal.KindBackingWrite
	w.State = signal.StateReady
	w.Priority = pkt.Priority
	w.Loc = c.backing.media.Decode(w.Addr)

	return w
}

// lineBusy returns true if the line of the fill is already the target of a
// fill that carries another tag.
func (c *Comp) lineBusy(fill *signal.Packet) bool {
	pending, ok := c.pendingFills[c.tags.Index(fill.Addr)]

	return ok && pending.tag != c.tags.Tag(fill.Addr)
}

func (c *Comp) holdLine(fill *signal.Packet) {
	index := c.tags.Index(fill.Addr)
	pending := c.pendingFills[index]
	pending.tag = c.tags.Tag(fill.Addr)
	pending.count++
	c.pendingFills[index] = pending
}

func (c *Comp) releaseLine(fill *signal.Packet) {
	index := c.tags.Index(fill.Addr)

	pending, ok := c.pendingFills[index]
	if !ok || pending.tag != c.tags.Tag(fill.Addr) {
		panic(&InvariantError{
			Addr:   fill.Addr,
			Queues: c.queueSizes(),
			Msg:    "completed fill was not pending",
		})
	}

	pending.count--
	if pending.count == 0 {
		delete(c.pendingFills, index)
		return
	}

	c.pendingFills[index] = pending
}

// park keeps a packet that could not be routed until queues free up.
func (c *Comp) park(pkt *signal.Packet) {
	c.stats.ParkedRoutes++
	c.parked = append(c.parked, pkt)
	c.traceProbeStep(pkt, "parked")
}

// retryParked routes the parked packets again, oldest first. Packets that
// are still blocked stay parked.
func (c *Comp) retryParked() {
	if len(c.parked) == 0 {
		return
	}

	c.retryBackingRead = false
	c.retryBackingWrite = false
	c.retryFill = false

	parked := c.parked
	c.parked = nil

	for i, pkt := range parked {
		if !c.route(pkt, c.tags.Classify(pkt.Addr)) {
			c.parked = append(c.parked, parked[i:]...)
			return
		}
	}
}

func (c *Comp) writeSideRetryPending() bool {
	return c.retryFill || c.retryBackingWrite || len(c.parked) > 0
}

func (c *Comp) queueFor(pkt *signal.Packet) *queue.PacketQueue {
	switch pkt.Kind {
	case signal.KindDemand:
		if pkt.Trans.Req.IsWrite() {
			return c.fastWrite
		}

		return c.fastRead
	case signal.KindBackingRead:
		return c.backingRead
	case signal.KindFill:
		return c.fill
	default:
		return c.backingWrite
	}
}
