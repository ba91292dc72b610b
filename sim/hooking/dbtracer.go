package hooking

import (
	"fmt"
	"sort"

	"github.com/tebeka/atexit"
)

// TracerBackend stores finished tasks.
type TracerBackend interface {
	// Write hands over one finished task.
	Write(t task)

	// Flush persists whatever the backend still buffers.
	Flush()
}

// DBTracer assembles tasks from their start, step, tag, and end records and
// writes every finished task to a backend.
type DBTracer struct {
	timeTeller TimeTeller
	backend    TracerBackend
	filter     TaskFilter

	startTime, endTime float64

	open    map[string]*task
	written uint64
}

// NewDBTracer creates a DBTracer. Tasks still open when the process exits
// are closed at the exit time and flushed.
func NewDBTracer(timeTeller TimeTeller, backend TracerBackend) *DBTracer {
	t := &DBTracer{
		timeTeller: timeTeller,
		backend:    backend,
		open:       make(map[string]*task),
	}

	atexit.Register(t.Terminate)

	return t
}

// SetTimeRange limits recording to tasks that overlap [startTime, endTime].
// A zero bound is unlimited.
func (t *DBTracer) SetTimeRange(startTime, endTime float64) {
	t.startTime = startTime
	t.endTime = endTime
}

// SetFilter makes the tracer record only the tasks the filter accepts.
// Steps and tags of rejected tasks are dropped with them.
func (t *DBTracer) SetFilter(filter TaskFilter) {
	t.filter = filter
}

// Func dispatches task records by hook position.
func (t *DBTracer) Func(ctx HookCtx) {
	switch ctx.Pos {
	case HookPosTaskStart:
		t.StartTask(ctx.Item.(TaskStart))
	case HookPosTaskStep:
		t.StepTask(ctx.Item.(TaskStep))
	case HookPosTaskTag:
		t.TagTask(ctx.Item.(TaskTag))
	case HookPosTaskEnd:
		t.EndTask(ctx.Item.(TaskEnd))
	}
}

// StartTask opens a task. It panics if a field of the record is missing.
func (t *DBTracer) StartTask(ts TaskStart) {
	for field, value := range map[string]string{
		"ID": ts.ID, "Kind": ts.Kind, "What": ts.What, "Where": ts.Where,
	} {
		if value == "" {
			panic(fmt.Sprintf("task %q started without %s", ts.ID, field))
		}
	}

	now := t.timeTeller.Now()
	if t.endTime > 0 && now > t.endTime {
		return
	}

	if t.filter != nil && !t.filter(ts) {
		return
	}

	t.open[ts.ID] = &task{
		ID:        ts.ID,
		ParentID:  ts.ParentID,
		Kind:      ts.Kind,
		What:      ts.What,
		Where:     ts.Where,
		StartTime: now,
	}
}

// StepTask appends a step to an open task.
func (t *DBTracer) StepTask(ts TaskStep) {
	if rec, ok := t.open[ts.TaskID]; ok {
		rec.Steps = append(rec.Steps, step{
			ID:     ts.StepID,
			Time:   t.timeTeller.Now(),
			Kind:   ts.Kind,
			What:   ts.What,
			Detail: ts.Detail,
		})
	}
}

// TagTask attaches a tag to an open task.
func (t *DBTracer) TagTask(tt TaskTag) {
	if rec, ok := t.open[tt.TaskID]; ok {
		rec.Tags = append(rec.Tags, tag{What: tt.What, Detail: tt.Detail})
	}
}

// EndTask closes a task and writes it, unless it ended before the time
// range.
func (t *DBTracer) EndTask(te TaskEnd) {
	rec, ok := t.open[te.ID]
	if !ok {
		return
	}

	delete(t.open, te.ID)

	now := t.timeTeller.Now()
	if t.startTime > 0 && now < t.startTime {
		return
	}

	rec.EndTime = now
	t.write(rec)
}

func (t *DBTracer) write(rec *task) {
	t.backend.Write(*rec)
	t.written++
}

// NumOpenTasks returns the number of tasks that started but have not ended.
func (t *DBTracer) NumOpenTasks() int {
	return len(t.open)
}

// NumWrittenTasks returns the number of tasks handed to the backend.
func (t *DBTracer) NumWrittenTasks() uint64 {
	return t.written
}

// Terminate closes the open tasks at the current time, oldest first, and
// flushes the backend. It can be called more than once.
func (t *DBTracer) Terminate() {
	remaining := make([]*task, 0, len(t.open))
	for _, rec := range t.open {
		remaining = append(remaining, rec)
	}

	sort.Slice(remaining, func(i, j int) bool {
		if remaining[i].StartTime != remaining[j].StartTime {
			return remaining[i].StartTime < remaining[j].StartTime
		}

		return remaining[i].ID < remaining[j].ID
	})

	now := t.timeTeller.Now()
	for _, rec := range remaining {
		rec.EndTime = now
		t.write(rec)
	}

	t.open = make(map[string]*task)

	t.backend.Flush()
}
