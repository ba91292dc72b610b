package memaccessagent

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/hybridmem/mem/hybrid"
	"github.com/sarchlab/hybridmem/mem/mem"
	"github.com/sarchlab/hybridmem/mem/simplemedia"
	"github.com/sarchlab/hybridmem/sim/timing"
)

// refusingSubmitter accepts every other request.
type refusingSubmitter struct {
	accepted []*mem.Request
	calls    int
}

func (s *refusingSubmitter) Submit(req *mem.Request) bool {
	s.calls++
	if s.calls%2 == 1 {
		return false
	}

	s.accepted = append(s.accepted, req)

	return true
}

type countingProgress struct {
	inProgress, finished uint64
}

func (p *countingProgress) IncrementInProgress(n uint64) {
	p.inProgress += n
}

func (p *countingProgress) MoveInProgressToFinished(n uint64) {
	p.inProgress -= n
	p.finished += n
}

var _ = Describe("MemAccessAgent", func() {
	var (
		engine *timing.SerialEngine
		low    *refusingSubmitter
		agent  *MemAccessAgent
	)

	BeforeEach(func() {
		engine = timing.NewSerialEngine()
		low = &refusingSubmitter{}
		agent = MakeBuilder().
			WithEngine(engine).
			WithLowModule(low).
			WithMaxAddress(4096).
			WithWriteLeft(3).
			WithReadLeft(0).
			Build("Agent")
	})

	It("should reject an access size that is not a multiple of 4", func() {
		Expect(func() {
			MakeBuilder().WithEngine(engine).WithAccessSize(6).Build("Bad")
		}).To(Panic())
	})

	It("should wait for a retry after a refusal", func() {
		agent.Start()
		Expect(engine.Run()).To(Succeed())

		Expect(low.calls).To(Equal(1))
		Expect(agent.WriteLeft).To(Equal(2))

		agent.NotifyRetry()
		Expect(engine.Run()).To(Succeed())

		Expect(low.accepted).To(HaveLen(1))
		Expect(agent.NumRetries()).To(Equal(1))
	})

	It("should remember written values and check reads against them", func() {
		req := mem.RequestBuilder{}.
			WithAddress(0x40).
			WithData([]byte{1, 0, 0, 0}).
			Build()
		agent.PendingWriteReq[req.ID] = req
		agent.addKnownValues(req.Address, req.Data)

		agent.Deliver(&mem.Response{RespondTo: req.ID})
		Expect(agent.PendingWriteReq).To(BeEmpty())

		read := mem.RequestBuilder{}.WithAddress(0x40).WithByteSize(4).Build()
		agent.PendingReadReq[read.ID] = read
		agent.Deliver(&mem.Response{
			RespondTo: read.ID,
			Data:      []byte{2, 0, 0, 0},
		})

		Expect(agent.NumMismatches()).To(Equal(1))
	})

	It("should panic on a response to an unknown request", func() {
		Expect(func() {
			agent.Deliver(&mem.Response{RespondTo: "nope"})
		}).To(Panic())
	})
})

var _ = Describe("Hybrid memory under random traffic", func() {
	var (
		engine   *timing.SerialEngine
		fast     *simplemedia.Media
		backing  *simplemedia.Media
		agent    *MemAccessAgent
		ctrl     *hybrid.Comp
		progress *countingProgress
	)

	build := func(ctrlBuilder hybrid.Builder, agentBuilder Builder) {
		engine = timing.NewSerialEngine()
		progress = &countingProgress{}

		fast = simplemedia.MakeFastBuilder().
			WithEngine(engine).
			WithCapacity(64 * mem.KB).
			Build("Fast")
		backing = simplemedia.MakeBackingBuilder().
			WithEngine(engine).
			WithCapacity(1 * mem.MB).
			Build("Backing")

		agent = agentBuilder.
			WithEngine(engine).
			WithMaxAddress(1 * mem.MB).
			WithProgressTracker(progress).
			Build("Agent")

		ctrl = ctrlBuilder.
			WithEngine(engine).
			WithFastMedia(fast).
			WithBackingMedia(backing).
			WithTransport(agent).
			WithCacheCapacity(4 * mem.KB).
			WithLineSize(64).
			Build("Ctrl")

		agent.LowModule = ctrl
		fast.SetWaker(ctrl)
		backing.SetWaker(ctrl)
	}

	runAndDrain := func() {
		agent.Start()
		Expect(engine.Run()).To(Succeed())

		if ctrl.Drain() == hybrid.DrainStateDraining {
			Expect(engine.Run()).To(Succeed())
		}

		Expect(ctrl.DrainState()).To(Equal(hybrid.DrainStateDrained))
	}

	It("should answer every request with the written data", func() {
		build(
			hybrid.MakeBuilder(),
			MakeBuilder().
				WithSeed(7).
				WithWriteLeft(1500).
				WithReadLeft(1500).
				WithAccessSize(64).
				WithNumPriorities(2),
		)

		runAndDrain()

		Expect(agent.Done()).To(BeTrue())
		Expect(agent.NumMismatches()).To(Equal(0))
		Expect(progress.finished).To(Equal(uint64(3000)))
		Expect(progress.inProgress).To(Equal(uint64(0)))
		Expect(ctrl.CheckTags()).To(Succeed())

		stats := ctrl.Stats()
		Expect(stats.ReadReqs + stats.WriteReqs).To(Equal(uint64(3000)))
		Expect(stats.Fills).NotTo(BeZero())
		Expect(stats.DirtyMisses).NotTo(BeZero())
		Expect(stats.Victims).NotTo(BeZero())
	})

	It("should recover from refusals with small queues", func() {
		build(
			hybrid.MakeBuilder().
				WithFastReadQueueSize(2).
				WithFastWriteQueueSize(2).
				WithBackingReadQueueSize(2).
				WithBackingWriteQueueSize(2).
				WithFillQueueSize(2).
				WithMinWritesPerSwitch(1).
				WithPolicy(hybrid.PolicyFCFS),
			MakeBuilder().
				WithSeed(3).
				WithWriteLeft(500).
				WithReadLeft(500).
				WithAccessSize(64),
		)

		runAndDrain()

		Expect(agent.Done()).To(BeTrue())
		Expect(agent.NumMismatches()).To(Equal(0))
		Expect(agent.NumRetries()).To(BeNumerically(">", 0))
		Expect(ctrl.CheckTags()).To(Succeed())
	})

	It("should not allocate on write misses without write allocation", func() {
		build(
			hybrid.MakeBuilder().WithWriteAllocate(false),
			MakeBuilder().
				WithSeed(11).
				WithWriteLeft(300).
				WithReadLeft(0).
				WithAccessSize(4),
		)

		runAndDrain()

		stats := ctrl.Stats()
		Expect(stats.Fills).To(BeZero())
		Expect(stats.BackingWrites).To(Equal(stats.WriteReqs - stats.MergedWrites))
	})
})
