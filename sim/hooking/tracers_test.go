package hooking

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"
	logrustest "github.com/sirupsen/logrus/hooks/test"
)

var _ = Describe("LatencyTracer", func() {
	var (
		timeTeller *stubTimeTeller
		tracer     *LatencyTracer
	)

	BeforeEach(func() {
		timeTeller = &stubTimeTeller{}
		tracer = NewLatencyTracer(timeTeller, func(t TaskStart) bool {
			return t.What == "read"
		})
	})

	It("should report zero before any task completes", func() {
		Expect(tracer.AverageTime()).To(Equal(0.0))
		Expect(tracer.TotalCount()).To(Equal(uint64(0)))
	})

	It("should average the accepted tasks only", func() {
		timeTeller.now = 1
		tracer.StartTask(TaskStart{ID: "1", What: "read"})
		tracer.StartTask(TaskStart{ID: "2", What: "write"})
		timeTeller.now = 3
		tracer.StartTask(TaskStart{ID: "3", What: "read"})
		tracer.EndTask(TaskEnd{ID: "1"})
		tracer.EndTask(TaskEnd{ID: "2"})
		timeTeller.now = 9
		tracer.EndTask(TaskEnd{ID: "3"})

		Expect(tracer.TotalCount()).To(Equal(uint64(2)))
		Expect(tracer.AverageTime()).To(Equal(4.0))
		Expect(tracer.MaxTime()).To(Equal(6.0))
	})
})

var _ = Describe("TagCountTracer", func() {
	It("should count tags of accepted tasks", func() {
		tracer := NewTagCountTracer(func(t TaskStart) bool {
			return t.Kind == "req_in"
		})

		tracer.Func(HookCtx{Pos: HookPosTaskStart,
			Item: TaskStart{ID: "1", Kind: "req_in"}})
		tracer.Func(HookCtx{Pos: HookPosTaskStart,
			Item: TaskStart{ID: "2", Kind: "other"}})
		tracer.Func(HookCtx{Pos: HookPosTaskTag,
			Item: TaskTag{TaskID: "1", What: "hit"}})
		tracer.Func(HookCtx{Pos: HookPosTaskTag,
			Item: TaskTag{TaskID: "1", What: "hit"}})
		tracer.Func(HookCtx{Pos: HookPosTaskTag,
			Item: TaskTag{TaskID: "2", What: "hit"}})
		tracer.Func(HookCtx{Pos: HookPosTaskTag,
			Item: TaskTag{TaskID: "1", What: "dirty_miss"}})

		Expect(tracer.GetTagNames()).To(Equal([]string{"hit", "dirty_miss"}))
		Expect(tracer.GetTagCount("hit")).To(Equal(uint64(2)))
		Expect(tracer.GetTagCount("dirty_miss")).To(Equal(uint64(1)))
	})
})

var _ = Describe("LogHook", func() {
	It("should log task records at debug level", func() {
		logger, hook := logrustest.NewNullLogger()
		logger.SetLevel(logrus.DebugLevel)

		h := NewLogHook(logger, &stubTimeTeller{now: 2})
		h.Func(HookCtx{Pos: HookPosTaskStart,
			Item: TaskStart{ID: "1", Kind: "req_in", What: "read"}})
		h.Func(HookCtx{Pos: HookPosTaskEnd, Item: TaskEnd{ID: "1"}})

		Expect(hook.Entries).To(HaveLen(2))
		Expect(hook.Entries[0].Message).To(Equal("task start"))
		Expect(hook.Entries[0].Data["task"]).To(Equal("1"))
		Expect(hook.LastEntry().Message).To(Equal("task end"))
	})
})

var _ = Describe("HookableBase", func() {
	It("should refuse the same hook twice", func() {
		base := NewHookableBase()
		h := NewTagCountTracer(nil)

		base.AcceptHook(h)

		Expect(base.NumHooks()).To(Equal(1))
		Expect(func() { base.AcceptHook(h) }).To(Panic())
	})
})
