package hybrid

import (
	"fmt"

	"github.com/sarchlab/hybridmem/mem/hybrid/internal/signal"
	"github.com/sarchlab/hybridmem/mem/mem"
	"github.com/sarchlab/hybridmem/sim/hooking"
)

// Task kinds reported to hooks.
const (
	TaskKindRequest = "req_in"
	TaskKindProbe   = "probe"
)

func (c *Comp) traceReqStart(trans *signal.Transaction) {
	if c.NumHooks() == 0 {
		return
	}

	c.InvokeHook(hooking.HookCtx{
		Domain: c,
		Pos:    hooking.HookPosTaskStart,
		Item: hooking.TaskStart{
			ID:       trans.Req.ID,
			ParentID: trans.Req.RequestorID,
			Kind:     TaskKindRequest,
			What:     trans.Req.Op.String(),
			Where:    c.name,
		},
	})
}

func (c *Comp) traceReqTag(trans *signal.Transaction, what string) {
	if c.NumHooks() == 0 {
		return
	}

	c.InvokeHook(hooking.HookCtx{
		Domain: c,
		Pos:    hooking.HookPosTaskTag,
		Item: hooking.TaskTag{
			TaskID: trans.Req.ID,
			What:   what,
		},
	})
}

func (c *Comp) traceReqEnd(req *mem.Request) {
	if c.NumHooks() == 0 {
		return
	}

	c.InvokeHook(hooking.HookCtx{
		Domain: c,
		Pos:    hooking.HookPosTaskEnd,
		Item:   hooking.TaskEnd{ID: req.ID},
	})
}

func probeTaskID(pkt *signal.Packet) string {
	return fmt.Sprintf("%s.%d", pkt.Trans.Req.ID, pkt.ID)
}

// traceProbeStart opens the task of a fast-tier probe. A write request ends
// at admission, so the probe of a write is a root task.
func (c *Comp) traceProbeStart(pkt *signal.Packet) {
	if c.NumHooks() == 0 {
		return
	}

	parentID := pkt.Trans.Req.ID
	if pkt.Trans.Req.IsWrite() {
		parentID = ""
	}

	c.InvokeHook(hooking.HookCtx{
		Domain: c,
		Pos:    hooking.HookPosTaskStart,
		Item: hooking.TaskStart{
			ID:       probeTaskID(pkt),
			ParentID: parentID,
			Kind:     TaskKindProbe,
			What:     pkt.Op.String(),
			Where:    c.name,
		},
	})
}

func (c *Comp) traceProbeTag(pkt *signal.Packet, what string) {
	if c.NumHooks() == 0 {
		return
	}

	c.InvokeHook(hooking.HookCtx{
		Domain: c,
		Pos:    hooking.HookPosTaskTag,
		Item: hooking.TaskTag{
			TaskID: probeTaskID(pkt),
			What:   what,
		},
	})
}

func (c *Comp) traceProbeStep(pkt *signal.Packet, what string) {
	if c.NumHooks() == 0 {
		return
	}

	c.InvokeHook(hooking.HookCtx{
		Domain: c,
		Pos:    hooking.HookPosTaskStep,
		Item: hooking.TaskStep{
			TaskID: probeTaskID(pkt),
			Kind:   TaskKindProbe,
			What:   what,
			Detail: pkt.String(),
		},
	})
}

func (c *Comp) traceProbeEnd(pkt *signal.Packet) {
	if c.NumHooks() == 0 {
		return
	}

	c.InvokeHook(hooking.HookCtx{
		Domain: c,
		Pos:    hooking.HookPosTaskEnd,
		Item:   hooking.TaskEnd{ID: probeTaskID(pkt)},
	})
}
