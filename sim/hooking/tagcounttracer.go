package hooking

import (
	"sync"
)

// TagCountTracer counts how many times each tag is attached to tasks that
// pass its filter.
type TagCountTracer struct {
	filter TaskFilter
	lock   sync.Mutex

	acceptedTasks map[string]bool
	tagNames      []string
	tagCount      map[string]uint64
}

// NewTagCountTracer creates a new TagCountTracer. A nil filter accepts every
// task.
func NewTagCountTracer(filter TaskFilter) *TagCountTracer {
	t := &TagCountTracer{
		filter:        filter,
		acceptedTasks: make(map[string]bool),
		tagCount:      make(map[string]uint64),
	}

	return t
}

// Func tracks task starts and ends and counts tags.
func (t *TagCountTracer) Func(ctx HookCtx) {
	switch ctx.Pos {
	case HookPosTaskStart:
		t.StartTask(ctx.Item.(TaskStart))
	case HookPosTaskTag:
		t.TagTask(ctx.Item.(TaskTag))
	case HookPosTaskEnd:
		t.EndTask(ctx.Item.(TaskEnd))
	}
}

// StartTask remembers the task if it passes the filter.
func (t *TagCountTracer) StartTask(taskStart TaskStart) {
	if t.filter != nil && !t.filter(taskStart) {
		return
	}

	t.lock.Lock()
	t.acceptedTasks[taskStart.ID] = true
	t.lock.Unlock()
}

// EndTask forgets the task.
func (t *TagCountTracer) EndTask(taskEnd TaskEnd) {
	t.lock.Lock()
	delete(t.acceptedTasks, taskEnd.ID)
	t.lock.Unlock()
}

// GetTagNames returns all the tag names collected, in first-seen order.
func (t *TagCountTracer) GetTagNames() []string {
	t.lock.Lock()
	defer t.lock.Unlock()

	return append([]string(nil), t.tagNames...)
}

// GetTagCount returns the number of times a tag has been seen.
func (t *TagCountTracer) GetTagCount(tagName string) uint64 {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.tagCount[tagName]
}

// TagTask counts the tag if its task was accepted.
func (t *TagCountTracer) TagTask(taskTag TaskTag) {
	t.lock.Lock()
	defer t.lock.Unlock()

	if !t.acceptedTasks[taskTag.TaskID] {
		return
	}

	if _, ok := t.tagCount[taskTag.What]; !ok {
		t.tagNames = append(t.tagNames, taskTag.What)
	}

	t.tagCount[taskTag.What]++
}
