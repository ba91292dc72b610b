package hybrid

import "github.com/sarchlab/hybridmem/sim/timing"

// Drain asks the controller to finish all its work. It returns
// DrainStateDrained if there is nothing left to do. Otherwise it returns
// DrainStateDraining and notifies the DrainListener once the work is done.
func (c *Comp) Drain() DrainState {
	now := c.now()

	if c.quiescent() && c.mediaDrained(now) {
		c.drainState = DrainStateDrained
		return c.drainState
	}

	c.log.WithField("queues", c.queueSizes()).Debug("draining")

	c.drainState = DrainStateDraining

	// Writes below the low watermark only issue when the scheduler runs.
	c.kickScheduler(now)

	c.fast.media.DrainRanks()
	c.backing.media.DrainRanks()

	return c.drainState
}

// Resume restarts the controller after a drain. The timing mode follows the
// System; media timers start when entering timing mode and stop when leaving
// it.
func (c *Comp) Resume() {
	timingMode := c.system == nil || c.system.IsTimingMode()

	switch {
	case !c.inTimingMode && timingMode:
		c.startup()
	case c.inTimingMode && !timingMode:
		c.fast.media.Suspend()
		c.backing.media.Suspend()
	}

	c.inTimingMode = timingMode
	c.drainState = DrainStateRunning
}

func (c *Comp) startup() {
	now := c.now()

	for _, t := range []*tier{&c.fast, &c.backing} {
		t.nextBurstAt = max(t.nextBurstAt, now+t.media.CommandOffset())
		t.media.Startup(now)
	}

	c.nextReqTime = c.earliestNextReq()
}

func (c *Comp) quiescent() bool {
	return c.fastRead.Empty() &&
		c.fastWrite.Empty() &&
		c.backingRead.Empty() &&
		c.backingWrite.Empty() &&
		c.fill.Empty() &&
		c.completions.Len() == 0 &&
		len(c.parked) == 0 &&
		c.deliveries == 0
}

func (c *Comp) mediaDrained(now timing.VTimeInCycle) bool {
	return c.fast.media.AllRanksDrained(now) &&
		c.backing.media.AllRanksDrained(now)
}

// checkDrained completes a pending drain if nothing is left to do.
func (c *Comp) checkDrained() bool {
	if !c.quiescent() || !c.mediaDrained(c.now()) {
		return false
	}

	c.drainState = DrainStateDrained
	c.log.Debug("drained")

	if c.drainListener != nil {
		c.drainListener.NotifyDrained()
	}

	return true
}

func (c *Comp) progressDrain() {
	if c.drainState != DrainStateDraining {
		return
	}

	if !c.checkDrained() {
		c.kickScheduler(c.now())
	}
}
