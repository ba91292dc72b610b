package hybrid

import (
	"github.com/sarchlab/hybridmem/mem/hybrid/internal/tagstore"
	"github.com/sarchlab/hybridmem/mem/mem"
	"github.com/sarchlab/hybridmem/sim/timing"
)

// TagEntry is the state of one line of the fast tier.
type TagEntry struct {
	Tag         uint64
	Valid       bool
	Dirty       bool
	BackingAddr uint64
}

// AccessFunctional reads or writes the data directly, bypassing the queues
// and the timing model.
func (c *Comp) AccessFunctional(req *mem.Request) *mem.Response {
	c.requestMustBeRoutable(req)

	return &mem.Response{
		RespondTo:   req.ID,
		RequestorID: req.RequestorID,
		Op:          req.Op,
		Address:     req.Address,
		Data:        c.mustAccessStorage(req),
	}
}

// AccessAtomic performs the access functionally and returns the nominal
// latency of the tiers that the access would touch.
func (c *Comp) AccessAtomic(
	req *mem.Request,
) (*mem.Response, timing.VTimeInCycle) {
	rsp := c.AccessFunctional(req)

	latency := c.fast.media.AccessLatency()
	if c.tags.Classify(req.Address) != tagstore.ClassHit {
		latency += c.backing.media.AccessLatency()
	}

	return rsp, latency
}

// Preload installs the line of addr into the fast tier, as when warming up
// the cache or restoring a checkpoint.
func (c *Comp) Preload(addr uint64, dirty bool) {
	c.tags.Preload(addr, dirty)
}

// TagSnapshot returns a copy of the tag store.
func (c *Comp) TagSnapshot() []TagEntry {
	entries := c.tags.Snapshot()
	out := make([]TagEntry, len(entries))

	for i, e := range entries {
		out[i] = TagEntry(e)
	}

	return out
}

// RestoreTags replaces the tag store with a snapshot.
func (c *Comp) RestoreTags(snapshot []TagEntry) error {
	entries := make([]tagstore.Line, len(snapshot))
	for i, e := range snapshot {
		entries[i] = tagstore.Line(e)
	}

	return c.tags.Restore(entries)
}

// CheckTags returns an error if a line is dirty but not valid.
func (c *Comp) CheckTags() error {
	return c.tags.Validate()
}
