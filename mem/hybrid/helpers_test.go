package hybrid

import (
	"github.com/sarchlab/hybridmem/mem/hybrid/internal/signal"
	"github.com/sarchlab/hybridmem/mem/mem"
	"github.com/sarchlab/hybridmem/sim/hooking"
	"github.com/sarchlab/hybridmem/sim/timing"
	"go.uber.org/mock/gomock"
)

const testLineSize = 64

// expectIdealMedia lets the media accept every burst and finish it a fixed
// latency after its command.
func expectIdealMedia(
	m *MockMedia,
	capacity uint64,
	latency timing.VTimeInCycle,
) {
	m.EXPECT().BurstSize().Return(uint64(testLineSize)).AnyTimes()
	m.EXPECT().Capacity().Return(capacity).AnyTimes()
	m.EXPECT().Decode(gomock.Any()).
		DoAndReturn(func(addr uint64) mem.Location {
			return mem.Location{
				Bank: int(addr/testLineSize) % 4,
				Row:  addr / 4096,
			}
		}).
		AnyTimes()
	m.EXPECT().BurstReady(gomock.Any(), gomock.Any()).Return(true).AnyTimes()
	m.EXPECT().ColumnAllowedAt(gomock.Any(), gomock.Any()).
		DoAndReturn(func(
			_ mem.Location,
			now timing.VTimeInCycle,
		) (timing.VTimeInCycle, bool) {
			return now, true
		}).
		AnyTimes()
	m.EXPECT().DoBurstAccess(gomock.Any()).
		DoAndReturn(func(a BurstAccess) BurstResult {
			cmdAt := a.Bus.ReserveSingle(a.Now)
			dataAt := max(cmdAt+latency, a.NextBurstAt)

			return BurstResult{
				CmdAt:       cmdAt,
				NextBurstAt: dataAt + 4,
				ReadyTime:   dataAt + 4,
			}
		}).
		AnyTimes()
	m.EXPECT().IsBusy(gomock.Any()).Return(false).AnyTimes()
	m.EXPECT().AllRanksDrained(gomock.Any()).Return(true).AnyTimes()
	m.EXPECT().DrainRanks().AnyTimes()
	m.EXPECT().CommandOffset().Return(timing.VTimeInCycle(0)).AnyTimes()
	m.EXPECT().MinReadToWriteDataGap().Return(timing.VTimeInCycle(2)).AnyTimes()
	m.EXPECT().MinWriteToReadDataGap().Return(timing.VTimeInCycle(2)).AnyTimes()
	m.EXPECT().AccessLatency().Return(latency).AnyTimes()
}

func firstPacket(q interface {
	Find(func(*signal.Packet) bool) *signal.Packet
}) *signal.Packet {
	return q.Find(func(*signal.Packet) bool { return true })
}

// issueAndComplete issues the packet and completes it right away, as the
// scheduler and the response pipeline would.
func issueAndComplete(c *Comp, pkt *signal.Packet) {
	c.issue(pkt, c.now())
	c.afterIssue(pkt)

	popped := c.completions.Pop()
	c.complete(popped)
}

func read(addr, size uint64) *mem.Request {
	return mem.RequestBuilder{}.
		WithAddress(addr).
		WithByteSize(size).
		WithRequestor("agent").
		Build()
}

func write(addr uint64, data []byte) *mem.Request {
	return mem.RequestBuilder{}.
		WithAddress(addr).
		WithData(data).
		WithRequestor("agent").
		Build()
}

func bytesOf(n int, v byte) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = v
	}

	return data
}

// taskRecorder keeps the task records a component reports, in order.
type taskRecorder struct {
	starts []hooking.TaskStart
	ended  []string
}

func (r *taskRecorder) Func(ctx hooking.HookCtx) {
	switch ctx.Pos {
	case hooking.HookPosTaskStart:
		r.starts = append(r.starts, ctx.Item.(hooking.TaskStart))
	case hooking.HookPosTaskEnd:
		r.ended = append(r.ended, ctx.Item.(hooking.TaskEnd).ID)
	}
}

func (r *taskRecorder) startsOfKind(kind string) []hooking.TaskStart {
	var out []hooking.TaskStart

	for _, ts := range r.starts {
		if ts.Kind == kind {
			out = append(out, ts)
		}
	}

	return out
}

func (r *taskRecorder) hasEnded(id string) bool {
	for _, ended := range r.ended {
		if ended == id {
			return true
		}
	}

	return false
}
