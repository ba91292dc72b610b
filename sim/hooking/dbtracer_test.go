package hooking

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type stubTimeTeller struct {
	now float64
}

func (t *stubTimeTeller) Now() float64 {
	return t.now
}

type stubBackend struct {
	written []task
	flushed int
}

func (b *stubBackend) Write(t task) {
	b.written = append(b.written, t)
}

func (b *stubBackend) Flush() {
	b.flushed++
}

var _ = Describe("DBTracer", func() {
	var (
		timeTeller *stubTimeTeller
		backend    *stubBackend
		tracer     *DBTracer
	)

	BeforeEach(func() {
		timeTeller = &stubTimeTeller{}
		backend = &stubBackend{}
		tracer = NewDBTracer(timeTeller, backend)
	})

	start := func(id string) {
		tracer.Func(HookCtx{
			Pos: HookPosTaskStart,
			Item: TaskStart{
				ID: id, Kind: "req_in", What: "read", Where: "HybridCtrl",
			},
		})
	}

	It("should write a task with its steps and tags when it ends", func() {
		timeTeller.now = 1
		start("1")

		timeTeller.now = 2
		tracer.Func(HookCtx{
			Pos:  HookPosTaskStep,
			Item: TaskStep{TaskID: "1", What: "probe"},
		})
		tracer.Func(HookCtx{
			Pos:  HookPosTaskTag,
			Item: TaskTag{TaskID: "1", What: "hit"},
		})

		timeTeller.now = 3
		tracer.Func(HookCtx{Pos: HookPosTaskEnd, Item: TaskEnd{ID: "1"}})

		Expect(backend.written).To(HaveLen(1))
		t := backend.written[0]
		Expect(t.Where).To(Equal("HybridCtrl"))
		Expect(t.StartTime).To(Equal(1.0))
		Expect(t.EndTime).To(Equal(3.0))
		Expect(t.Steps).To(HaveLen(1))
		Expect(t.Steps[0].Time).To(Equal(2.0))
		Expect(t.Tags).To(HaveLen(1))
		Expect(tracer.NumOpenTasks()).To(Equal(0))
	})

	It("should panic if a task has no location", func() {
		Expect(func() {
			tracer.StartTask(TaskStart{ID: "1", Kind: "k", What: "w"})
		}).To(Panic())
	})

	It("should ignore steps of unknown tasks", func() {
		tracer.StepTask(TaskStep{TaskID: "unknown"})
		tracer.EndTask(TaskEnd{ID: "unknown"})

		Expect(backend.written).To(BeEmpty())
	})

	It("should drop tasks that end before the time range", func() {
		tracer.SetTimeRange(10, 20)

		timeTeller.now = 1
		start("1")
		timeTeller.now = 5
		tracer.EndTask(TaskEnd{ID: "1"})

		Expect(backend.written).To(BeEmpty())
	})

	It("should not record tasks that start after the time range", func() {
		tracer.SetTimeRange(0, 20)

		timeTeller.now = 30
		start("1")

		Expect(tracer.NumOpenTasks()).To(Equal(0))
	})

	It("should close all open tasks on terminate", func() {
		timeTeller.now = 1
		start("1")
		start("2")

		timeTeller.now = 9
		tracer.Terminate()

		Expect(backend.written).To(HaveLen(2))
		Expect(backend.written[0].EndTime).To(Equal(9.0))
		Expect(backend.flushed).To(Equal(1))
		Expect(tracer.NumOpenTasks()).To(Equal(0))
	})

	It("should record only the tasks the filter accepts", func() {
		tracer.SetFilter(func(ts TaskStart) bool { return ts.ID != "2" })

		start("1")
		start("2")
		tracer.TagTask(TaskTag{TaskID: "2", What: "hit"})
		tracer.EndTask(TaskEnd{ID: "1"})
		tracer.EndTask(TaskEnd{ID: "2"})

		Expect(backend.written).To(HaveLen(1))
		Expect(backend.written[0].ID).To(Equal("1"))
		Expect(tracer.NumWrittenTasks()).To(Equal(uint64(1)))
	})
})
