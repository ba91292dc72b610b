package cmdbus

import (
	"math/rand"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/hybridmem/sim/timing"
)

var _ = Describe("Tracker", func() {
	var t *Tracker

	BeforeEach(func() {
		t = New(10, 2)
	})

	It("should reject a budget below two commands", func() {
		Expect(func() { New(10, 1) }).To(Panic())
		Expect(func() { New(0, 4) }).To(Panic())
	})

	It("should align times to windows", func() {
		Expect(t.WindowOf(0)).To(Equal(timing.VTimeInCycle(0)))
		Expect(t.WindowOf(9)).To(Equal(timing.VTimeInCycle(0)))
		Expect(t.WindowOf(23)).To(Equal(timing.VTimeInCycle(20)))
	})

	It("should issue single commands at the requested time while there is room",
		func() {
			Expect(t.ReserveSingle(3)).To(Equal(timing.VTimeInCycle(3)))
			Expect(t.ReserveSingle(5)).To(Equal(timing.VTimeInCycle(5)))
			Expect(t.Count(0)).To(Equal(2))
		})

	It("should defer a single command to the next free window", func() {
		t.ReserveSingle(1)
		t.ReserveSingle(2)
		t.ReserveSingle(11)
		t.ReserveSingle(12)

		Expect(t.ReserveSingle(4)).To(Equal(timing.VTimeInCycle(20)))
		Expect(t.Count(20)).To(Equal(1))
	})

	It("should place both commands of a sequence in one window", func() {
		Expect(t.ReserveMulti(25, 5)).To(Equal(timing.VTimeInCycle(25)))
		Expect(t.Count(20)).To(Equal(2))
	})

	It("should move the first command back within the allowed split", func() {
		Expect(t.ReserveMulti(22, 8)).To(Equal(timing.VTimeInCycle(22)))
		Expect(t.Count(10)).To(Equal(1))
		Expect(t.Count(20)).To(Equal(1))
	})

	It("should push the second command out when its window is full", func() {
		t.ReserveSingle(20)
		t.ReserveSingle(21)

		cmdAt := t.ReserveMulti(25, 5)

		Expect(cmdAt).To(Equal(timing.VTimeInCycle(30)))
		Expect(t.Count(20)).To(Equal(2))
		Expect(t.Count(30)).To(Equal(2))
	})

	It("should prune windows that have ended", func() {
		t.ReserveSingle(1)
		t.ReserveSingle(15)

		t.Prune(10)

		Expect(t.Count(0)).To(Equal(0))
		Expect(t.Count(10)).To(Equal(1))
		Expect(t.NumWindows()).To(Equal(1))
	})

	It("should keep the window that contains now", func() {
		t.ReserveSingle(12)
		t.ReserveSingle(13)

		t.Prune(15)

		Expect(t.ReserveSingle(15)).To(Equal(timing.VTimeInCycle(20)))
	})

	It("should never exceed the window budget", func() {
		t = New(8, 3)
		r := rand.New(rand.NewSource(1))
		now := timing.VTimeInCycle(0)

		for i := 0; i < 2000; i++ {
			now += timing.VTimeInCycle(r.Intn(3))
			t.Prune(now)

			at := now + timing.VTimeInCycle(r.Intn(20))
			if r.Intn(2) == 0 {
				Expect(t.ReserveSingle(at)).To(BeNumerically(">=", at))
			} else {
				Expect(t.ReserveMulti(at, timing.VTimeInCycle(r.Intn(12)))).
					To(BeNumerically(">=", at))
			}

			for start := range t.reservedAtTick {
				Expect(t.Count(start)).To(BeNumerically("<=", 3))
			}
		}
	})
})
