package hybrid

import (
	"github.com/sarchlab/hybridmem/mem/hybrid/internal/signal"
	"github.com/sarchlab/hybridmem/mem/hybrid/internal/tagstore"
	"github.com/sarchlab/hybridmem/mem/mem"
	"github.com/sarchlab/hybridmem/sim/timing"
	"github.com/sirupsen/logrus"
)

// processRespond completes the earliest issued packet.
func (c *Comp) processRespond() {
	now := c.now()

	pkt := c.completions.Peek()
	if pkt == nil {
		return
	}

	if pkt.ReadyTime > now {
		c.scheduleRespond(pkt.ReadyTime)
		return
	}

	pkt = c.completions.Pop()
	c.complete(pkt)

	if next := c.completions.Peek(); next != nil {
		c.scheduleRespond(max(next.ReadyTime, now))
	}

	c.notifyRetry()
	c.progressDrain()
}

func (c *Comp) complete(pkt *signal.Packet) {
	switch pkt.Kind {
	case signal.KindDemand:
		c.completeProbe(pkt)
	case signal.KindBackingRead:
		c.completeBackingRead(pkt)
	case signal.KindFill:
		c.completeFill(pkt)
	case signal.KindVictim, signal.KindBackingWrite:
		c.log.WithField("addr", pkt.Addr).Debug("backing write done")
	}
}

// completeProbe classifies the line again, since the tag store may have
// changed while the probe was queued, and routes the packet.
func (c *Comp) completeProbe(pkt *signal.Packet) {
	class := c.tags.Classify(pkt.Addr)

	if class != pkt.ProbedClass {
		c.stats.StaleProbes++
		c.log.WithFields(logrus.Fields{
			"addr":  pkt.Addr,
			"was":   pkt.ProbedClass,
			"class": class,
		}).Debug("probe result changed while queued")
	}

	switch class {
	case tagstore.ClassHit:
		c.stats.Hits++
	case tagstore.ClassDirtyMiss:
		c.stats.DirtyMisses++
	default:
		c.stats.CleanMisses++
	}

	c.traceProbeTag(pkt, class.String())

	if !c.route(pkt, class) {
		c.park(pkt)
	}
}

func (c *Comp) completeBackingRead(pkt *signal.Packet) {
	if pkt.Fill != nil {
		pkt.Fill.State = signal.StateReady
	}

	if pkt.Waiter != nil {
		pkt.Waiter.State = signal.StateReady
		c.serviceBurst(pkt.Waiter.Trans, c.frontendLatency+c.backendLatency)
	}

	c.kickScheduler(c.now())
}

func (c *Comp) completeFill(pkt *signal.Packet) {
	c.releaseLine(pkt)

	if pkt.WriteTriggered && !c.tags.MarkDirty(pkt.Addr) {
		c.log.WithField("addr", pkt.Addr).
			Debug("line replaced before its write fill completed")
	}

	c.retryParked()
}

// serviceBurst records a serviced burst and finalizes the request once all
// of its bursts are serviced.
func (c *Comp) serviceBurst(
	trans *signal.Transaction,
	latency timing.VTimeInCycle,
) {
	if trans.ServiceBurst() {
		c.finalize(trans, latency)
	}
}

// finalize schedules the response of a request after the static latency and
// the transport delays.
func (c *Comp) finalize(trans *signal.Transaction, latency timing.VTimeInCycle) {
	trans.Finalize()

	now := c.now()
	req := trans.Req

	if req.IsRead() {
		c.stats.FinalizedReads++
		c.stats.TotalReadLatency += now - trans.EntryTime
	}

	if !req.NeedsResponse {
		c.traceReqEnd(req)
		return
	}

	rsp := &mem.Response{
		RespondTo:   req.ID,
		RequestorID: req.RequestorID,
		Op:          req.Op,
		Address:     req.Address,
		Data:        trans.Data,
	}

	c.deliveries++
	c.engine.Schedule(timing.ScheduledEvent{
		Event:   deliverEvent{req: req, rsp: rsp},
		Time:    now + latency + req.HeaderDelay + req.PayloadDelay,
		Handler: c,
	})
}

func (c *Comp) deliver(e deliverEvent) {
	c.deliveries--

	if c.transport != nil {
		c.transport.Deliver(e.rsp)
	}

	c.traceReqEnd(e.req)
	c.progressDrain()
}

// notifyRetry tells the transport once a queue that refused a request has
// room again.
func (c *Comp) notifyRetry() {
	retry := false

	if c.retryRdReq && c.fastRead.CanPush(1) {
		c.retryRdReq = false
		retry = true
	}

	if c.retryWrReq && c.fastWrite.CanPush(1) {
		c.retryWrReq = false
		retry = true
	}

	if retry && c.transport != nil {
		c.transport.NotifyRetry()
	}
}
