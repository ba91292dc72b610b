package queue

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/hybridmem/mem/hybrid/internal/signal"
)

var _ = Describe("PacketQueue", func() {
	var q *PacketQueue

	BeforeEach(func() {
		q = NewPacketQueue("fill", 4, 2)
	})

	It("should derive its size from its contents", func() {
		a := &signal.Packet{ID: 1}
		b := &signal.Packet{ID: 2, Priority: 1}

		q.Push(a)
		q.Push(b)
		Expect(q.Len()).To(Equal(2))

		Expect(q.Remove(a)).To(BeTrue())
		Expect(q.Remove(a)).To(BeFalse())
		Expect(q.Len()).To(Equal(1))
		Expect(q.Contains(b)).To(BeTrue())
	})

	It("should enforce its capacity", func() {
		for i := 0; i < 3; i++ {
			q.Push(&signal.Packet{ID: uint64(i)})
		}

		Expect(q.CanPush(1)).To(BeTrue())
		Expect(q.CanPush(2)).To(BeFalse())

		q.Push(&signal.Packet{ID: 3})

		Expect(func() { q.Push(&signal.Packet{ID: 4}) }).To(Panic())
		Expect(q.Len()).To(Equal(4))
	})

	It("should list higher priorities first and keep arrival order", func() {
		low1 := &signal.Packet{ID: 1, Priority: 0}
		high := &signal.Packet{ID: 2, Priority: 1}
		low2 := &signal.Packet{ID: 3, Priority: 0}
		q.Push(low1)
		q.Push(high)
		q.Push(low2)

		buckets := q.Buckets()

		Expect(buckets).To(HaveLen(2))
		Expect(buckets[0]).To(Equal([]*signal.Packet{high}))
		Expect(buckets[1]).To(Equal([]*signal.Packet{low1, low2}))
	})

	It("should clamp priorities to the available buckets", func() {
		p := &signal.Packet{ID: 1, Priority: 9}
		q.Push(p)

		Expect(q.Buckets()[0]).To(ContainElement(p))
		Expect(q.Remove(p)).To(BeTrue())
	})

	It("should find in service order", func() {
		q.Push(&signal.Packet{ID: 1, Addr: 0x40})
		q.Push(&signal.Packet{ID: 2, Addr: 0x40, Priority: 1})

		found := q.Find(func(p *signal.Packet) bool { return p.Addr == 0x40 })

		Expect(found.ID).To(Equal(uint64(2)))
	})
})

var _ = Describe("CompletionQueue", func() {
	var q *CompletionQueue

	BeforeEach(func() {
		q = NewCompletionQueue()
	})

	It("should pop in ready time order", func() {
		q.Push(&signal.Packet{ID: 1, ReadyTime: 30})
		q.Push(&signal.Packet{ID: 2, ReadyTime: 10})
		q.Push(&signal.Packet{ID: 3, ReadyTime: 20})

		Expect(q.Peek().ID).To(Equal(uint64(2)))
		Expect(q.Pop().ID).To(Equal(uint64(2)))
		Expect(q.Pop().ID).To(Equal(uint64(3)))
		Expect(q.Pop().ID).To(Equal(uint64(1)))
		Expect(q.Pop()).To(BeNil())
	})

	It("should keep issue order for equal ready times", func() {
		for i := 0; i < 5; i++ {
			q.Push(&signal.Packet{ID: uint64(i), ReadyTime: 7})
		}

		for i := 0; i < 5; i++ {
			Expect(q.Pop().ID).To(Equal(uint64(i)))
		}
	})

	It("should panic when a pop goes back in time", func() {
		q.Push(&signal.Packet{ID: 1, ReadyTime: 10})
		q.Pop()
		q.Push(&signal.Packet{ID: 2, ReadyTime: 5})

		Expect(func() { q.Pop() }).To(Panic())
	})
})
