package queue

import (
	"container/heap"
	"fmt"

	"github.com/sarchlab/hybridmem/mem/hybrid/internal/signal"
	"github.com/sarchlab/hybridmem/sim/timing"
)

// CompletionQueue holds issued packets ordered by ready time. Packets with
// the same ready time leave in issue order. Pops never go back in time.
type CompletionQueue struct {
	entries completionHeap
	nextSeq uint64
	lastPop timing.VTimeInCycle
}

type completionEntry struct {
	pkt *signal.Packet
	seq uint64
}

// NewCompletionQueue creates an empty CompletionQueue.
func NewCompletionQueue() *CompletionQueue {
	q := &CompletionQueue{}
	heap.Init(&q.entries)

	return q
}

// Len returns the number of packets in the queue.
func (q *CompletionQueue) Len() int {
	return q.entries.Len()
}

// Push adds an issued packet.
func (q *CompletionQueue) Push(p *signal.Packet) {
	heap.Push(&q.entries, completionEntry{pkt: p, seq: q.nextSeq})
	q.nextSeq++
}

// Peek returns the packet with the earliest ready time, or nil.
func (q *CompletionQueue) Peek() *signal.Packet {
	if q.entries.Len() == 0 {
		return nil
	}

	return q.entries[0].pkt
}

// Pop removes and returns the packet with the earliest ready time. A pop
// earlier than the previous one is an invariant violation and panics.
func (q *CompletionQueue) Pop() *signal.Packet {
	if q.entries.Len() == 0 {
		return nil
	}

	p := heap.Pop(&q.entries).(completionEntry).pkt
	if p.ReadyTime < q.lastPop {
		panic(fmt.Sprintf(
			"completion out of order: %s ready @ %d after a pop @ %d",
			p, p.ReadyTime, q.lastPop))
	}

	q.lastPop = p.ReadyTime

	return p
}

type completionHeap []completionEntry

func (h completionHeap) Len() int { return len(h) }

func (h completionHeap) Less(i, j int) bool {
	if h[i].pkt.ReadyTime != h[j].pkt.ReadyTime {
		return h[i].pkt.ReadyTime < h[j].pkt.ReadyTime
	}

	return h[i].seq < h[j].seq
}

func (h completionHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
}

func (h *completionHeap) Push(x any) {
	*h = append(*h, x.(completionEntry))
}

func (h *completionHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]

	return e
}
