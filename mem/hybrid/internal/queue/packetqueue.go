// Package queue provides the bounded work queues and the completion queue of
// the hybrid memory controller.
package queue

import (
	"fmt"

	"github.com/sarchlab/hybridmem/mem/hybrid/internal/signal"
)

// PacketQueue is a bounded queue split into priority buckets. Packets of a
// bucket keep their arrival order. The size is always the number of packets
// held.
type PacketQueue struct {
	name     string
	capacity int
	buckets  [][]*signal.Packet
}

// NewPacketQueue creates a queue holding at most capacity packets over
// numPriorities buckets.
func NewPacketQueue(name string, capacity, numPriorities int) *PacketQueue {
	if capacity <= 0 {
		panic(fmt.Sprintf("queue %s must have a positive capacity", name))
	}

	if numPriorities <= 0 {
		numPriorities = 1
	}

	return &PacketQueue{
		name:     name,
		capacity: capacity,
		buckets:  make([][]*signal.Packet, numPriorities),
	}
}

// Name returns the name of the queue.
func (q *PacketQueue) Name() string {
	return q.name
}

// Cap returns the capacity of the queue.
func (q *PacketQueue) Cap() int {
	return q.capacity
}

// Len returns the number of packets in the queue.
func (q *PacketQueue) Len() int {
	n := 0
	for _, b := range q.buckets {
		n += len(b)
	}

	return n
}

// Empty returns true if the queue holds no packet.
func (q *PacketQueue) Empty() bool {
	return q.Len() == 0
}

// CanPush returns true if n more packets fit.
func (q *PacketQueue) CanPush(n int) bool {
	return q.Len()+n <= q.capacity
}

func (q *PacketQueue) bucketOf(priority int) int {
	return min(max(priority, 0), len(q.buckets)-1)
}

// Push appends the packet to the bucket of its priority. Pushing into a full
// queue panics; callers check CanPush first.
func (q *PacketQueue) Push(p *signal.Packet) {
	if !q.CanPush(1) {
		panic(fmt.Sprintf("queue %s overflow: %d/%d, pushing %s",
			q.name, q.Len(), q.capacity, p))
	}

	b := q.bucketOf(p.Priority)
	q.buckets[b] = append(q.buckets[b], p)
}

// Remove takes the packet out of the queue. It returns false if the packet is
// not in the queue.
func (q *PacketQueue) Remove(p *signal.Packet) bool {
	b := q.bucketOf(p.Priority)
	bucket := q.buckets[b]

	for i, candidate := range bucket {
		if candidate == p {
			q.buckets[b] = append(bucket[:i:i], bucket[i+1:]...)
			return true
		}
	}

	return false
}

// Buckets returns the packets grouped by bucket, highest priority first. The
// returned slices must not be modified.
func (q *PacketQueue) Buckets() [][]*signal.Packet {
	out := make([][]*signal.Packet, 0, len(q.buckets))
	for i := len(q.buckets) - 1; i >= 0; i-- {
		if len(q.buckets[i]) > 0 {
			out = append(out, q.buckets[i])
		}
	}

	return out
}

// Find returns the first packet, in service order, that satisfies pred.
func (q *PacketQueue) Find(pred func(p *signal.Packet) bool) *signal.Packet {
	for i := len(q.buckets) - 1; i >= 0; i-- {
		for _, p := range q.buckets[i] {
			if pred(p) {
				return p
			}
		}
	}

	return nil
}

// Contains returns true if the packet is in the queue.
func (q *PacketQueue) Contains(p *signal.Packet) bool {
	return q.Find(func(c *signal.Packet) bool { return c == p }) != nil
}
