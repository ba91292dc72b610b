package hybrid

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/hybridmem/mem/hybrid/internal/signal"
	"github.com/sarchlab/hybridmem/mem/mem"
	"github.com/sarchlab/hybridmem/sim/timing"
	"go.uber.org/mock/gomock"
)

var _ = Describe("Bus scheduler", func() {
	var (
		mockCtrl *gomock.Controller
		engine   *timing.SerialEngine
		comp     *Comp
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		engine = timing.NewSerialEngine()

		fastMedia := NewMockMedia(mockCtrl)
		expectIdealMedia(fastMedia, 4096, 10)

		backingMedia := NewMockMedia(mockCtrl)
		expectIdealMedia(backingMedia, 1*mem.MB, 30)

		transport := NewMockTransport(mockCtrl)
		transport.EXPECT().Deliver(gomock.Any()).AnyTimes()
		transport.EXPECT().NotifyRetry().AnyTimes()

		// 24 write side slots: low watermark 6, high watermark 12.
		comp = MakeBuilder().
			WithEngine(engine).
			WithFastMedia(fastMedia).
			WithBackingMedia(backingMedia).
			WithTransport(transport).
			WithCacheCapacity(8 * testLineSize).
			WithLineSize(testLineSize).
			WithFastWriteQueueSize(8).
			WithBackingWriteQueueSize(8).
			WithFillQueueSize(8).
			WithWriteWatermarks(25, 50).
			WithMinWritesPerSwitch(1).
			Build("Ctrl")
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	pushBackingWrites := func(n int) {
		for i := 0; i < n; i++ {
			w := comp.newPacket()
			w.Addr = 0x10000 + w.ID*testLineSize
			w.Size = testLineSize
			w.Tier = signal.TierBacking
			w.Op = mem.OpWrite
			w.Kind = signal.KindBackingWrite
			w.State = signal.StateReady
			w.Loc = comp.backing.media.Decode(w.Addr)

			comp.backingWrite.Push(w)
		}
	}

	It("should write until below the low watermark when reads are idle",
		func() {
			pushBackingWrites(8)
			comp.kickScheduler(0)

			Expect(engine.Run()).To(Succeed())

			Expect(comp.BusState()).To(Equal(BusStateRead))
			Expect(comp.backingWrite.Len()).To(Equal(4))
			Expect(comp.Stats().BusTurnarounds).To(Equal(uint64(2)))
			Expect(comp.Stats().WritesPerTurn).To(Equal([]int{4}))
		})

	It("should wait for the high watermark after dropping below the low one",
		func() {
			pushBackingWrites(8)
			comp.kickScheduler(0)
			Expect(engine.Run()).To(Succeed())

			pushBackingWrites(4)
			comp.kickScheduler(engine.CurrentTime())
			Expect(engine.Run()).To(Succeed())

			Expect(comp.backingWrite.Len()).To(Equal(8))
			Expect(comp.Stats().BusTurnarounds).To(Equal(uint64(2)))

			pushBackingWrites(5)
			comp.kickScheduler(engine.CurrentTime())
			Expect(engine.Run()).To(Succeed())

			Expect(comp.BusState()).To(Equal(BusStateRead))
			Expect(comp.writeVolume()).To(Equal(4))
			Expect(comp.Stats().BusTurnarounds).To(Equal(uint64(4)))
			Expect(comp.Stats().WritesPerTurn).To(Equal([]int{4, 9}))
		})

	It("should switch to writing right after a read above the high watermark",
		func() {
			pushBackingWrites(8)
			// Fill queue entries count towards the write volume too.
			for i := 0; i < 5; i++ {
				fill := comp.newPacket()
				fill.Kind = signal.KindFill
				fill.State = signal.StateAwaitingBackingRead
				comp.fill.Push(fill)
			}

			Expect(comp.Submit(read(0x40, 4))).To(BeTrue())

			comp.processNextReq()

			Expect(comp.Stats().ReadBursts[signal.TierFast]).To(Equal(uint64(1)))
			Expect(comp.BusState()).To(Equal(BusStateRead))
			Expect(comp.busStateNext).To(Equal(BusStateWrite))
		})

	It("should turn to reads when fills wait for a queued backing read", func() {
		fill := comp.newPacket()
		fill.Addr = 0x40
		fill.Size = testLineSize
		fill.Tier = signal.TierFast
		fill.Kind = signal.KindFill
		fill.State = signal.StateAwaitingBackingRead
		fill.Loc = comp.fast.media.Decode(fill.Addr)

		rd := comp.newPacket()
		rd.Addr = 0x40
		rd.Size = testLineSize
		rd.Tier = signal.TierBacking
		rd.Kind = signal.KindBackingRead
		rd.State = signal.StateReady
		rd.Loc = comp.backing.media.Decode(rd.Addr)
		rd.Fill = fill

		comp.fill.Push(fill)
		comp.backingRead.Push(rd)
		comp.busState = BusStateWrite
		comp.busStateNext = BusStateWrite

		comp.kickScheduler(0)
		Expect(engine.Run()).To(Succeed())

		Expect(comp.Stats().ReadBursts[signal.TierBacking]).To(Equal(uint64(1)))
		Expect(comp.backingRead.Empty()).To(BeTrue())
		Expect(fill.State).To(Equal(signal.StateReady))
	})

	It("should drain writes below the low watermark", func() {
		listener := NewMockDrainListener(mockCtrl)
		comp.drainListener = listener

		pushBackingWrites(2)

		Expect(comp.Drain()).To(Equal(DrainStateDraining))

		listener.EXPECT().NotifyDrained().Times(1)
		Expect(engine.Run()).To(Succeed())

		Expect(comp.backingWrite.Empty()).To(BeTrue())
		Expect(comp.DrainState()).To(Equal(DrainStateDrained))
	})

	It("should report queue levels and bus state", func() {
		pushBackingWrites(3)

		report := comp.Report()

		Expect(report.Name).To(Equal("Ctrl"))
		Expect(report.BusState).To(Equal("read"))
		Expect(report.DrainState).To(Equal("running"))
		Expect(report.Queues).To(ContainElement(QueueLevel{
			Name:  "Ctrl.BackingWriteQueue",
			Level: 3,
			Cap:   8,
		}))
	})
})
