package hybrid

import (
	"github.com/sarchlab/hybridmem/mem/hybrid/internal/queue"
	"github.com/sarchlab/hybridmem/mem/hybrid/internal/signal"
	"github.com/sarchlab/hybridmem/sim/timing"
	"github.com/sirupsen/logrus"
)

// processNextReq applies a pending bus turnaround and issues at most one
// burst in the direction of the bus.
func (c *Comp) processNextReq() {
	now := c.now()

	if c.busState != c.busStateNext {
		c.turnAround()
	}

	if c.fast.media.IsBusy(now) && c.backing.media.IsBusy(now) {
		c.log.Debug("both tiers busy, waiting for wake up")
		return
	}

	c.cmdBus.Prune(now)

	var (
		issued      *signal.Packet
		rankBlocked bool
	)

	if c.busState == BusStateRead {
		issued, rankBlocked = c.scheduleRead(now)
	} else {
		issued, rankBlocked = c.scheduleWrite(now)
	}

	switch {
	case issued != nil:
		c.scheduleNextReq(max(c.nextReqTime, now))
		c.afterIssue(issued)
	case c.busStateNext != c.busState:
		c.switchWithoutIssue(now)
	case rankBlocked:
		c.scheduleNextReq(now + 1)
	default:
		c.idle(now)
	}
}

func (c *Comp) turnAround() {
	if c.busState == BusStateRead {
		c.stats.ReadsPerTurn = append(c.stats.ReadsPerTurn, c.readsThisTime)
		c.readsThisTime = 0
	} else {
		c.stats.WritesPerTurn = append(c.stats.WritesPerTurn, c.writesThisTime)
		c.writesThisTime = 0
	}

	c.stats.BusTurnarounds++
	c.busState = c.busStateNext

	c.log.WithField("state", c.busState).Debug("bus turnaround")
}

// switchWithoutIssue runs the scheduler again for a turnaround that was
// decided without issuing a burst. Only one such turnaround happens per
// cycle.
func (c *Comp) switchWithoutIssue(now timing.VTimeInCycle) {
	if c.idleSwitched && c.idleSwitchAt == now {
		c.scheduleNextReq(now + 1)
		return
	}

	c.idleSwitched = true
	c.idleSwitchAt = now
	c.scheduleNextReq(now)
}

func (c *Comp) idle(now timing.VTimeInCycle) {
	if c.drainState != DrainStateDraining || !c.quiescent() {
		return
	}

	if !c.checkDrained() {
		c.scheduleNextReq(now + 1)
	}
}

func (c *Comp) scheduleRead(
	now timing.VTimeInCycle,
) (*signal.Packet, bool) {
	pkt, rankBlocked := c.chooseRead(now)

	if pkt == nil {
		if c.shouldStartWriting() {
			c.busStateNext = BusStateWrite
		}

		return nil, rankBlocked
	}

	c.issue(pkt, now)
	c.readsThisTime++

	volume := c.writeVolume()
	if volume > c.writeHighThreshold {
		c.lowLatched = false
	}

	if c.hasIssuableWrite() &&
		(volume > c.writeHighThreshold || c.writeSideRetryPending()) {
		c.busStateNext = BusStateWrite
	}

	return pkt, false
}

func (c *Comp) chooseRead(now timing.VTimeInCycle) (*signal.Packet, bool) {
	blocked := false

	candidates := []struct {
		q *queue.PacketQueue
		t *tier
	}{
		{c.backingRead, &c.backing},
		{c.fastRead, &c.fast},
		{c.fastWrite, &c.fast},
	}

	for _, cand := range candidates {
		pkt, rankBlocked := c.choose(cand.q, cand.t, true, now, isIssuable)
		if pkt != nil {
			return pkt, false
		}

		blocked = blocked || rankBlocked
	}

	return nil, blocked
}

func (c *Comp) shouldStartWriting() bool {
	if !c.hasIssuableWrite() {
		return false
	}

	if c.drainState == DrainStateDraining || c.writeSideRetryPending() {
		return true
	}

	volume := c.writeVolume()
	if volume > c.writeHighThreshold {
		c.lowLatched = false
	}

	return !c.lowLatched && volume > c.writeLowThreshold
}

func (c *Comp) scheduleWrite(
	now timing.VTimeInCycle,
) (*signal.Packet, bool) {
	pkt, rankBlocked := c.chooseWrite(now)

	if pkt == nil {
		c.handleNoWrite(rankBlocked)
		return nil, rankBlocked
	}

	c.issue(pkt, now)
	c.writesThisTime++

	draining := c.drainState == DrainStateDraining
	belowThreshold := c.writeVolume()+c.minWritesPerSwitch <
		c.writeLowThreshold

	switch {
	case belowThreshold && !draining:
		c.lowLatched = true
		c.busStateNext = BusStateRead
	case !c.hasWriteSideWork():
		c.busStateNext = BusStateRead
	case c.readsWaiting() && c.writesThisTime >= c.minWritesPerSwitch:
		c.busStateNext = BusStateRead
	}

	return pkt, false
}

func (c *Comp) handleNoWrite(rankBlocked bool) {
	switch {
	case !c.hasWriteSideWork():
		c.busStateNext = BusStateRead
	case c.fillBlockedOnQueuedRead():
		c.log.Debug("fills wait for queued backing reads, switching to read")
		c.busStateNext = BusStateRead
	case c.readsWaiting() && !rankBlocked:
		c.busStateNext = BusStateRead
	}
}

func (c *Comp) chooseWrite(now timing.VTimeInCycle) (*signal.Packet, bool) {
	fill, fillBlocked := c.choose(c.fill, &c.fast, false, now, isIssuable)
	if fill != nil {
		return fill, false
	}

	wr, wrBlocked := c.choose(
		c.backingWrite, &c.backing, false, now, isIssuable)
	if wr != nil {
		return wr, false
	}

	return nil, fillBlocked || wrBlocked
}

func (c *Comp) hasWriteSideWork() bool {
	return !c.fill.Empty() || !c.backingWrite.Empty()
}

func (c *Comp) hasIssuableWrite() bool {
	return !c.backingWrite.Empty() || c.fill.Find(isIssuable) != nil
}

// fillBlockedOnQueuedRead returns true if no fill can issue, some fill waits
// for a backing read that is still queued, and there is no backing write.
func (c *Comp) fillBlockedOnQueuedRead() bool {
	if !c.backingWrite.Empty() || c.fill.Find(isIssuable) != nil {
		return false
	}

	waiting := c.fill.Find(func(fill *signal.Packet) bool {
		return fill.State == signal.StateAwaitingBackingRead
	})
	if waiting == nil {
		return false
	}

	queuedRead := c.backingRead.Find(func(rd *signal.Packet) bool {
		return rd.Fill != nil &&
			rd.Fill.State == signal.StateAwaitingBackingRead
	})

	return queuedRead != nil
}

func isIssuable(pkt *signal.Packet) bool {
	return pkt.State == signal.StateReady || pkt.State == signal.StateProbing
}

// issue sends the burst to its media and queues it for completion.
func (c *Comp) issue(pkt *signal.Packet, now timing.VTimeInCycle) {
	q := c.queueFor(pkt)
	if !q.Remove(pkt) {
		panic(&InvariantError{
			Addr:   pkt.Addr,
			Queues: c.queueSizes(),
			Msg:    "issued packet is not in " + q.Name(),
		})
	}

	isRead := pkt.IsRead()
	t := c.tierOf(pkt.Tier)

	res := t.media.DoBurstAccess(BurstAccess{
		Addr:        c.mediaAddr(pkt),
		Size:        pkt.Size,
		IsRead:      isRead,
		Loc:         pkt.Loc,
		Now:         now,
		NextBurstAt: t.dataBusFreeAt(isRead),
		Bus:         c,
	})

	if res.ReadyTime < now {
		panic(&InvariantError{
			Addr:   pkt.Addr,
			Queues: c.queueSizes(),
			Msg:    "media reported a ready time in the past",
		})
	}

	t.nextBurstAt = res.NextBurstAt
	t.issued = true
	t.lastIsRead = isRead
	c.nextReqTime = t.nextReqAt()

	pkt.ReadyTime = res.ReadyTime
	c.countBurst(pkt)

	if pkt.Kind == signal.KindDemand {
		c.traceProbeStep(pkt, "issue")
	}

	c.completions.Push(pkt)
	c.scheduleRespond(c.completions.Peek().ReadyTime)

	c.log.WithFields(logrus.Fields{
		"pkt":   pkt.ID,
		"kind":  pkt.Kind,
		"addr":  pkt.Addr,
		"ready": pkt.ReadyTime,
	}).Debug("issue")
}

func (c *Comp) afterIssue(pkt *signal.Packet) {
	if pkt.Kind == signal.KindDemand {
		c.notifyRetry()
		return
	}

	c.retryParked()
}

func (c *Comp) mediaAddr(pkt *signal.Packet) uint64 {
	if pkt.Tier == signal.TierFast {
		return c.tags.CacheAddr(pkt.Addr)
	}

	return pkt.Addr
}

func (c *Comp) countBurst(pkt *signal.Packet) {
	if pkt.IsRead() {
		c.stats.ReadBursts[pkt.Tier]++
	} else {
		c.stats.WriteBursts[pkt.Tier]++
	}

	switch pkt.Kind {
	case signal.KindFill:
		c.stats.Fills++
	case signal.KindVictim:
		c.stats.Victims++
	case signal.KindBackingWrite:
		c.stats.BackingWrites++
	}
}

func (c *Comp) earliestNextReq() timing.VTimeInCycle {
	return min(c.fast.nextReqAt(), c.backing.nextReqAt())
}

func (t *tier) nextReqAt() timing.VTimeInCycle {
	offset := t.media.CommandOffset()
	if t.nextBurstAt < offset {
		return 0
	}

	return t.nextBurstAt - offset
}

// dataBusFreeAt returns the earliest data time of the next burst, including
// the turnaround gap when the direction changes.
func (t *tier) dataBusFreeAt(isRead bool) timing.VTimeInCycle {
	if !t.issued || t.lastIsRead == isRead {
		return t.nextBurstAt
	}

	if t.lastIsRead {
		return t.nextBurstAt + t.media.MinReadToWriteDataGap()
	}

	return t.nextBurstAt + t.media.MinWriteToReadDataGap()
}
