package hybrid

import (
	"fmt"

	"github.com/sarchlab/hybridmem/mem/hybrid/internal/signal"
	"github.com/sarchlab/hybridmem/mem/mem"
)

// Submit offers a request to the controller. It returns false if the fast
// tier queue of the request cannot hold all of its bursts. A refused request
// can be submitted again after the transport receives NotifyRetry.
func (c *Comp) Submit(req *mem.Request) bool {
	c.requestMustBeRoutable(req)

	burstSize := c.tags.LineSize()
	offset := req.Address & (burstSize - 1)
	pktCount := int((offset + req.ByteSize + burstSize - 1) / burstSize)

	if req.IsWrite() {
		if !c.fastWrite.CanPush(pktCount) {
			c.retryWrReq = true
			c.stats.RefusedWrites++
			c.log.WithField("req", req.ID).Debug("write queue full")

			return false
		}
	} else if !c.fastRead.CanPush(pktCount) {
		c.retryRdReq = true
		c.stats.RefusedReads++
		c.log.WithField("req", req.ID).Debug("read queue full")

		return false
	}

	trans := signal.NewTransaction(req, c.now(), pktCount)
	c.traceReqStart(trans)

	if req.IsWrite() {
		c.stats.WriteReqs++
		c.mustAccessStorage(req)
	} else {
		c.stats.ReadReqs++
		trans.Data = c.mustAccessStorage(req)
	}

	c.splitIntoBursts(trans, burstSize)

	// Writes are acknowledged as soon as they are accepted.
	if req.IsWrite() {
		c.finalize(trans, c.frontendLatency)
	}

	return true
}

func (c *Comp) splitIntoBursts(trans *signal.Transaction, burstSize uint64) {
	req := trans.Req
	addr := req.Address
	end := req.Address + req.ByteSize
	newProbes := false

	for addr < end {
		burstAddr := addr &^ (burstSize - 1)
		size := min(burstAddr+burstSize, end) - addr

		if req.IsWrite() {
			newProbes = c.admitWrite(trans, addr, size) || newProbes
		} else {
			newProbes = c.admitRead(trans, addr, size) || newProbes
		}

		addr = burstAddr + burstSize
	}

	if newProbes {
		c.kickScheduler(c.now())
	}
}

// admitRead serves the burst from a queued write that covers it, or queues a
// probe. It returns true if a probe is queued.
func (c *Comp) admitRead(
	trans *signal.Transaction,
	addr, size uint64,
) bool {
	if c.snoopWrites(addr, size) {
		c.stats.ServicedByWriteQueue++
		c.traceReqTag(trans, "serviced_by_write_queue")
		c.serviceBurst(trans, c.frontendLatency)

		return false
	}

	c.enqueueProbe(c.newProbe(trans, addr, size))

	return true
}

// admitWrite merges the burst into a queued write of the same burst, or
// queues a probe. It returns true if a probe is queued.
func (c *Comp) admitWrite(
	trans *signal.Transaction,
	addr, size uint64,
) bool {
	burstAddr := c.tags.LineAddr(addr)
	merged := c.fastWrite.Find(func(p *signal.Packet) bool {
		return p.State == signal.StateProbing &&
			c.tags.LineAddr(p.Addr) == burstAddr
	})

	if merged != nil {
		merged.Widen(addr, size)
		c.stats.MergedWrites++
		c.traceReqTag(trans, "merged")

		return false
	}

	c.enqueueProbe(c.newProbe(trans, addr, size))

	return true
}

// snoopWrites returns true if a queued packet holds every byte of the
// burst. Fills still waiting for their backing read hold no data yet.
func (c *Comp) snoopWrites(addr, size uint64) bool {
	covers := func(p *signal.Packet) bool {
		return p.State != signal.StateAwaitingBackingRead &&
			p.Covers(addr, size)
	}

	return c.fastWrite.Find(covers) != nil ||
		c.fill.Find(covers) != nil ||
		c.backingWrite.Find(covers) != nil
}

func (c *Comp) newProbe(
	trans *signal.Transaction,
	addr, size uint64,
) *signal.Packet {
	pkt := c.newPacket()
	pkt.Addr = addr
	pkt.Size = size
	pkt.Tier = signal.TierFast
	pkt.Op = trans.Req.Op
	pkt.Kind = signal.KindDemand
	pkt.State = signal.StateProbing
	pkt.Loc = c.fast.media.Decode(c.tags.CacheAddr(addr))
	pkt.Priority = trans.Req.Priority
	pkt.Trans = trans
	pkt.ProbedClass = c.tags.Classify(addr)

	c.traceProbeStart(pkt)

	return pkt
}

func (c *Comp) mustAccessStorage(req *mem.Request) []byte {
	if req.IsWrite() {
		err := c.storage.Write(req.Address, req.Data)
		if err != nil {
			panic(err)
		}

		return nil
	}

	data, err := c.storage.Read(req.Address, req.ByteSize)
	if err != nil {
		panic(err)
	}

	return data
}

func (c *Comp) requestMustBeRoutable(req *mem.Request) {
	if req.ByteSize == 0 {
		panic(&InvariantError{
			Addr:   req.Address,
			Queues: c.queueSizes(),
			Msg:    fmt.Sprintf("request %s has no bytes", req.ID),
		})
	}

	limit := c.backing.media.Capacity()
	if req.Address >= limit || req.ByteSize > limit-req.Address {
		panic(fmt.Sprintf(
			"%s: request %s to [0x%x, +%d) is outside the backing range "+
				"[0, 0x%x)",
			c.name, req.ID, req.Address, req.ByteSize, limit))
	}
}
