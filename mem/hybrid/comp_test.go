package hybrid

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/hybridmem/mem/hybrid/internal/signal"
	"github.com/sarchlab/hybridmem/mem/hybrid/internal/tagstore"
	"github.com/sarchlab/hybridmem/mem/mem"
	"github.com/sarchlab/hybridmem/sim/timing"
	"go.uber.org/mock/gomock"
)

var _ = Describe("Comp", func() {
	var (
		mockCtrl     *gomock.Controller
		engine       *timing.SerialEngine
		fastMedia    *MockMedia
		backingMedia *MockMedia
		transport    *MockTransport
		builder      Builder
		comp         *Comp
		responses    []*mem.Response
	)

	// Line 3 of the 8-line cache, with tag 0 and tag 1.
	const (
		line3Tag0 = uint64(0x00C0)
		line3Tag1 = uint64(0x02C0)
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		engine = timing.NewSerialEngine()

		fastMedia = NewMockMedia(mockCtrl)
		expectIdealMedia(fastMedia, 4096, 10)

		backingMedia = NewMockMedia(mockCtrl)
		expectIdealMedia(backingMedia, 1*mem.MB, 30)

		responses = nil
		transport = NewMockTransport(mockCtrl)
		transport.EXPECT().Deliver(gomock.Any()).
			Do(func(rsp *mem.Response) {
				responses = append(responses, rsp)
			}).
			AnyTimes()

		builder = MakeBuilder().
			WithEngine(engine).
			WithFastMedia(fastMedia).
			WithBackingMedia(backingMedia).
			WithTransport(transport).
			WithCacheCapacity(8 * testLineSize).
			WithLineSize(testLineSize).
			WithFastWriteQueueSize(8).
			WithFastReadQueueSize(8).
			WithMinWritesPerSwitch(2)
		comp = builder.Build("Ctrl")
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	Context("admission", func() {
		It("should panic on a request without bytes", func() {
			req := read(0x40, 0)

			Expect(func() { comp.Submit(req) }).To(Panic())
		})

		It("should panic on an address outside the backing tier", func() {
			req := read(1*mem.MB-4, 8)

			Expect(func() { comp.Submit(req) }).To(Panic())
		})

		It("should split a request into bursts", func() {
			req := read(0x20, 128)

			Expect(comp.Submit(req)).To(BeTrue())

			Expect(comp.fastRead.Len()).To(Equal(3))
			pkt := firstPacket(comp.fastRead)
			Expect(pkt.Trans.Burst.Total).To(Equal(3))
			Expect(pkt.State).To(Equal(signal.StateProbing))
		})

		It("should serve a read covered by a queued write", func() {
			w := write(0x100, []byte{1, 2, 3, 4, 5, 6, 7, 8})
			r := read(0x102, 4)

			Expect(comp.Submit(w)).To(BeTrue())
			Expect(comp.Submit(r)).To(BeTrue())

			Expect(comp.fastRead.Empty()).To(BeTrue())
			Expect(comp.Stats().ServicedByWriteQueue).To(Equal(uint64(1)))

			engine.Run()

			Expect(responses).To(ContainElement(
				HaveField("RespondTo", r.ID)))
			for _, rsp := range responses {
				if rsp.RespondTo == r.ID {
					Expect(rsp.Data).To(Equal([]byte{3, 4, 5, 6}))
				}
			}
		})

		It("should merge writes to the same burst", func() {
			Expect(comp.Submit(write(0x100, []byte{1, 2}))).To(BeTrue())
			Expect(comp.Submit(write(0x108, []byte{3, 4}))).To(BeTrue())

			Expect(comp.fastWrite.Len()).To(Equal(1))
			Expect(comp.Stats().MergedWrites).To(Equal(uint64(1)))

			pkt := firstPacket(comp.fastWrite)
			Expect(pkt.Addr).To(Equal(uint64(0x100)))
			Expect(pkt.Size).To(Equal(uint64(10)))
		})

		It("should not serve a read of bytes between merged writes", func() {
			Expect(comp.Submit(write(0x100, []byte{1, 2}))).To(BeTrue())
			Expect(comp.Submit(write(0x108, []byte{3, 4}))).To(BeTrue())

			Expect(comp.Submit(read(0x104, 2))).To(BeTrue())

			Expect(comp.Stats().ServicedByWriteQueue).To(BeZero())
			Expect(comp.fastRead.Len()).To(Equal(1))

			Expect(comp.Submit(read(0x108, 2))).To(BeTrue())
			Expect(comp.Stats().ServicedByWriteQueue).To(Equal(uint64(1)))
		})

		It("should not serve a read from a fill without data", func() {
			Expect(comp.Submit(read(0x0, 4))).To(BeTrue())
			issueAndComplete(comp, firstPacket(comp.fastRead))

			Expect(comp.backingRead.Len()).To(Equal(1))
			fill := firstPacket(comp.fill)
			Expect(fill.State).To(Equal(signal.StateAwaitingBackingRead))

			Expect(comp.Submit(read(0x20, 4))).To(BeTrue())

			Expect(comp.Stats().ServicedByWriteQueue).To(BeZero())
			Expect(comp.fastRead.Len()).To(Equal(1))
		})

		It("should report the fast-tier task of a write as a root task",
			func() {
				recorder := &taskRecorder{}
				comp.AcceptHook(recorder)

				w := write(0x100, []byte{1, 2})
				Expect(comp.Submit(w)).To(BeTrue())

				tasks := recorder.startsOfKind(TaskKindProbe)
				Expect(tasks).To(HaveLen(1))
				Expect(tasks[0].ParentID).To(BeEmpty())

				engine.Run()

				Expect(recorder.hasEnded(w.ID)).To(BeTrue())
				Expect(recorder.hasEnded(tasks[0].ID)).To(BeTrue())
			})

		It("should nest the fast-tier task of a read under the request",
			func() {
				recorder := &taskRecorder{}
				comp.AcceptHook(recorder)

				r := read(0x100, 2)
				Expect(comp.Submit(r)).To(BeTrue())

				Expect(recorder.hasEnded(r.ID)).To(BeFalse())
				tasks := recorder.startsOfKind(TaskKindProbe)
				Expect(tasks).To(HaveLen(1))
				Expect(tasks[0].ParentID).To(Equal(r.ID))
			})

		It("should refuse a write that does not fit and ask for a retry", func() {
			comp = builder.WithFastWriteQueueSize(4).Build("Ctrl")

			for i := uint64(0); i < 3; i++ {
				Expect(comp.Submit(write(i*testLineSize, bytesOf(64, 1)))).
					To(BeTrue())
			}

			twoBursts := write(0x1000, bytesOf(128, 2))

			Expect(comp.Submit(twoBursts)).To(BeFalse())
			Expect(comp.retryWrReq).To(BeTrue())
			Expect(comp.fastWrite.Len()).To(Equal(3))

			transport.EXPECT().NotifyRetry().Times(1)

			pkt := firstPacket(comp.fastWrite)
			comp.issue(pkt, engine.CurrentTime())
			comp.afterIssue(pkt)

			Expect(comp.retryWrReq).To(BeFalse())
			Expect(comp.Submit(twoBursts)).To(BeTrue())
			Expect(comp.fastWrite.Len()).To(Equal(4))
		})

		It("should refuse a read when the read queue is full", func() {
			comp = builder.WithFastReadQueueSize(2).Build("Ctrl")

			Expect(comp.Submit(read(0x0, 128))).To(BeTrue())
			Expect(comp.Submit(read(0x400, 4))).To(BeFalse())
			Expect(comp.retryRdReq).To(BeTrue())
			Expect(comp.Stats().RefusedReads).To(Equal(uint64(1)))
		})
	})

	Context("routing", func() {
		It("should fetch and fill a cold line on a write", func() {
			addr := uint64(0x10C0)
			Expect(comp.Submit(write(addr, bytesOf(64, 7)))).To(BeTrue())

			pkt := firstPacket(comp.fastWrite)
			Expect(pkt.ProbedClass).To(Equal(tagstore.ClassInvalid))
			Expect(comp.tags.Index(addr)).To(Equal(uint64(3)))

			issueAndComplete(comp, pkt)

			Expect(comp.backingRead.Len()).To(Equal(1))
			Expect(comp.fill.Len()).To(Equal(1))
			Expect(comp.backingWrite.Len()).To(Equal(0))
			Expect(comp.Stats().CleanMisses).To(Equal(uint64(1)))

			fill := firstPacket(comp.fill)
			Expect(fill.State).To(Equal(signal.StateAwaitingBackingRead))
			Expect(fill.WriteTriggered).To(BeTrue())
			Expect(firstPacket(comp.backingRead).Op).To(Equal(mem.OpRead))

			entry := comp.tags.Entry(addr)
			Expect(entry.Valid).To(BeTrue())
			Expect(entry.Dirty).To(BeFalse())
			Expect(entry.BackingAddr).To(Equal(addr))
		})

		It("should write back the victim of a dirty miss", func() {
			comp.Preload(line3Tag0, true)

			Expect(comp.Submit(read(line3Tag1, 4))).To(BeTrue())
			issueAndComplete(comp, firstPacket(comp.fastRead))

			Expect(comp.Stats().DirtyMisses).To(Equal(uint64(1)))
			Expect(comp.backingRead.Len()).To(Equal(1))
			Expect(comp.fill.Len()).To(Equal(1))
			Expect(comp.backingWrite.Len()).To(Equal(1))

			victim := firstPacket(comp.backingWrite)
			Expect(victim.Kind).To(Equal(signal.KindVictim))
			Expect(victim.Addr).To(Equal(line3Tag0))
			Expect(victim.Op).To(Equal(mem.OpWrite))
			Expect(firstPacket(comp.backingRead).Op).To(Equal(mem.OpRead))
			Expect(firstPacket(comp.fill).Op).To(Equal(mem.OpWrite))

			entry := comp.tags.Entry(line3Tag1)
			Expect(entry.Tag).To(Equal(comp.tags.Tag(line3Tag1)))
			Expect(entry.Dirty).To(BeFalse())
		})

		It("should bypass the fast tier on a write miss without allocation",
			func() {
				comp = builder.WithWriteAllocate(false).Build("Ctrl")

				Expect(comp.Submit(write(0x40, []byte{1}))).To(BeTrue())
				issueAndComplete(comp, firstPacket(comp.fastWrite))

				Expect(comp.backingWrite.Len()).To(Equal(1))
				Expect(comp.backingRead.Len()).To(Equal(0))
				Expect(comp.fill.Len()).To(Equal(0))
				Expect(comp.tags.Entry(0x40).Valid).To(BeFalse())
			})

		It("should fill in place on a write hit and dirty the line", func() {
			comp.Preload(0x40, false)

			Expect(comp.Submit(write(0x44, []byte{1, 2}))).To(BeTrue())
			issueAndComplete(comp, firstPacket(comp.fastWrite))

			Expect(comp.Stats().Hits).To(Equal(uint64(1)))
			Expect(comp.backingRead.Len()).To(Equal(0))

			fill := firstPacket(comp.fill)
			Expect(fill.State).To(Equal(signal.StateReady))
			Expect(comp.tags.Entry(0x40).Dirty).To(BeFalse())

			issueAndComplete(comp, fill)

			Expect(comp.tags.Entry(0x40).Dirty).To(BeTrue())
			Expect(comp.CheckTags()).To(Succeed())
		})

		It("should serve a read hit from the fast tier", func() {
			comp.AccessFunctional(write(0x140, []byte{9, 8, 7, 6}))
			comp.Preload(0x140, false)

			r := read(0x140, 4)
			Expect(comp.Submit(r)).To(BeTrue())

			engine.Run()

			Expect(responses).To(HaveLen(1))
			Expect(responses[0].RespondTo).To(Equal(r.ID))
			Expect(responses[0].Data).To(Equal([]byte{9, 8, 7, 6}))
			Expect(comp.Stats().Hits).To(Equal(uint64(1)))
			Expect(comp.Stats().ReadBursts[signal.TierBacking]).
				To(Equal(uint64(0)))
		})

		It("should enqueue nothing when one queue of the set is full", func() {
			comp = builder.WithFillQueueSize(1).Build("Ctrl")

			Expect(comp.Submit(read(0x000, 4))).To(BeTrue())
			Expect(comp.Submit(read(0x040, 4))).To(BeTrue())

			issueAndComplete(comp, firstPacket(comp.fastRead))
			Expect(comp.fill.Len()).To(Equal(1))
			Expect(comp.backingRead.Len()).To(Equal(1))

			issueAndComplete(comp, firstPacket(comp.fastRead))

			Expect(comp.fill.Len()).To(Equal(1))
			Expect(comp.backingRead.Len()).To(Equal(1))
			Expect(comp.parked).To(HaveLen(1))
			Expect(comp.retryFill).To(BeTrue())
			Expect(comp.tags.Entry(0x040).Valid).To(BeFalse())

			issueAndComplete(comp, firstPacket(comp.backingRead))
			issueAndComplete(comp, firstPacket(comp.fill))

			Expect(comp.parked).To(BeEmpty())
			Expect(comp.retryFill).To(BeFalse())
			Expect(comp.fill.Len()).To(Equal(1))
			Expect(comp.tags.Entry(0x040).Valid).To(BeTrue())
		})

		It("should not fill a line with two tags at once", func() {
			Expect(comp.Submit(read(line3Tag0, 4))).To(BeTrue())
			Expect(comp.Submit(read(line3Tag1, 4))).To(BeTrue())

			issueAndComplete(comp, firstPacket(comp.fastRead))
			issueAndComplete(comp, firstPacket(comp.fastRead))

			Expect(comp.fill.Len()).To(Equal(1))
			Expect(comp.parked).To(HaveLen(1))

			issueAndComplete(comp, firstPacket(comp.backingRead))
			issueAndComplete(comp, firstPacket(comp.fill))

			Expect(comp.parked).To(BeEmpty())
			fill := firstPacket(comp.fill)
			Expect(comp.tags.Tag(fill.Addr)).To(Equal(comp.tags.Tag(line3Tag1)))
		})

		It("should detect a probe whose line changed while queued", func() {
			Expect(comp.Submit(read(line3Tag0, 4))).To(BeTrue())
			comp.Preload(line3Tag0, false)

			issueAndComplete(comp, firstPacket(comp.fastRead))

			Expect(comp.Stats().StaleProbes).To(Equal(uint64(1)))
			Expect(comp.Stats().Hits).To(Equal(uint64(1)))
		})
	})

	Context("end to end", func() {
		It("should finalize a split read exactly once", func() {
			comp.AccessFunctional(write(0x20, bytesOf(128, 5)))
			r := read(0x20, 128)

			Expect(comp.Submit(r)).To(BeTrue())
			engine.Run()

			Expect(responses).To(HaveLen(1))
			Expect(responses[0].Data).To(Equal(bytesOf(128, 5)))
			Expect(comp.Stats().FinalizedReads).To(Equal(uint64(1)))
		})

		It("should acknowledge writes and drain them", func() {
			listener := NewMockDrainListener(mockCtrl)
			comp = builder.WithDrainListener(listener).Build("Ctrl")

			w := write(0x1000, bytesOf(64, 3))
			Expect(comp.Submit(w)).To(BeTrue())

			Expect(comp.Drain()).To(Equal(DrainStateDraining))

			listener.EXPECT().NotifyDrained().Times(1)
			engine.Run()

			Expect(comp.DrainState()).To(Equal(DrainStateDrained))
			Expect(responses).To(HaveLen(1))
			Expect(responses[0].RespondTo).To(Equal(w.ID))
			Expect(comp.Stats().Fills).To(Equal(uint64(1)))
			Expect(comp.tags.Entry(0x1000).Dirty).To(BeTrue())

			data := comp.AccessFunctional(read(0x1000, 64)).Data
			Expect(data).To(Equal(bytesOf(64, 3)))
		})

		It("should be drained right away when idle", func() {
			Expect(comp.Drain()).To(Equal(DrainStateDrained))
		})

		It("should deliver responses after the transport delays", func() {
			comp.Preload(0x140, false)

			r := mem.RequestBuilder{}.
				WithAddress(0x140).
				WithByteSize(4).
				WithTransportDelay(5, 7).
				Build()
			Expect(comp.Submit(r)).To(BeTrue())

			var deliveredAt timing.VTimeInCycle
			transport = NewMockTransport(mockCtrl)
			transport.EXPECT().Deliver(gomock.Any()).Do(func(*mem.Response) {
				deliveredAt = engine.CurrentTime()
			})
			comp.transport = transport

			engine.Run()

			// One fast tier probe of 10+4 cycles, then the static latencies.
			Expect(deliveredAt).To(Equal(timing.VTimeInCycle(14 + 20 + 12)))
		})
	})

	Context("functional access", func() {
		It("should charge the backing tier only on a miss", func() {
			comp.Preload(line3Tag0, false)

			rsp, latency := comp.AccessAtomic(write(line3Tag0, []byte{1, 2}))
			Expect(rsp.Address).To(Equal(line3Tag0))
			Expect(latency).To(Equal(timing.VTimeInCycle(10)))

			_, latency = comp.AccessAtomic(read(line3Tag1, 4))
			Expect(latency).To(Equal(timing.VTimeInCycle(40)))

			rsp, _ = comp.AccessAtomic(read(line3Tag0, 2))
			Expect(rsp.Data).To(Equal([]byte{1, 2}))
		})

		It("should restore the tags of a snapshot", func() {
			comp.Preload(line3Tag1, true)
			snapshot := comp.TagSnapshot()

			Expect(snapshot).To(HaveLen(8))
			Expect(snapshot[3].Valid).To(BeTrue())
			Expect(snapshot[3].Dirty).To(BeTrue())

			restored := builder.Build("Restored")
			Expect(restored.RestoreTags(snapshot)).To(Succeed())
			Expect(restored.tags.Classify(line3Tag1)).
				To(Equal(tagstore.ClassHit))
			Expect(restored.tags.Classify(line3Tag0)).
				To(Equal(tagstore.ClassDirtyMiss))
			Expect(restored.CheckTags()).To(Succeed())

			Expect(restored.RestoreTags(snapshot[:4])).NotTo(Succeed())
		})

		It("should follow the timing mode of the system on resume", func() {
			timingMode := false
			system := NewMockSystem(mockCtrl)
			system.EXPECT().IsTimingMode().
				DoAndReturn(func() bool { return timingMode }).
				AnyTimes()

			comp = builder.WithSystem(system).Build("Ctrl")

			timingMode = true
			fastMedia.EXPECT().Startup(timing.VTimeInCycle(0))
			backingMedia.EXPECT().Startup(timing.VTimeInCycle(0))
			comp.Resume()

			timingMode = false
			fastMedia.EXPECT().Suspend()
			backingMedia.EXPECT().Suspend()
			comp.Resume()

			Expect(comp.DrainState()).To(Equal(DrainStateRunning))
		})
	})
})
