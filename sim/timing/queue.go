package timing

import (
	"container/heap"
)

// eventQueue orders events by time. Events of the same time come out in the
// order they were pushed.
type eventQueue struct {
	events  eventHeap
	nextSeq uint64
}

type queuedEvent struct {
	evt ScheduledEvent
	seq uint64
}

func newEventQueue() *eventQueue {
	q := &eventQueue{}
	q.events = make([]queuedEvent, 0)
	heap.Init(&q.events)

	return q
}

func (q *eventQueue) Push(evt ScheduledEvent) {
	heap.Push(&q.events, queuedEvent{evt: evt, seq: q.nextSeq})
	q.nextSeq++
}

func (q *eventQueue) Pop() ScheduledEvent {
	return heap.Pop(&q.events).(queuedEvent).evt
}

func (q *eventQueue) Peek() ScheduledEvent {
	return q.events[0].evt
}

func (q *eventQueue) Len() int {
	return q.events.Len()
}

type eventHeap []queuedEvent

func (h eventHeap) Len() int { return len(h) }

func (h eventHeap) Less(i, j int) bool {
	if h[i].evt.Time != h[j].evt.Time {
		return h[i].evt.Time < h[j].evt.Time
	}

	return h[i].seq < h[j].seq
}

func (h eventHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
}

func (h *eventHeap) Push(x any) {
	*h = append(*h, x.(queuedEvent))
}

func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	evt := old[n-1]
	*h = old[:n-1]

	return evt
}
