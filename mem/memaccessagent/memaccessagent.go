// Package memaccessagent provides a traffic generator that tests memory
// controllers with random reads and writes and checks the data it reads back.
package memaccessagent

import (
	"encoding/binary"
	"fmt"
	"math/rand"

	"github.com/sarchlab/hybridmem/mem/mem"
	"github.com/sarchlab/hybridmem/sim/timing"
	"github.com/sirupsen/logrus"
)

// Submitter accepts memory requests. A refused request is submitted again
// after the submitter calls NotifyRetry.
type Submitter interface {
	Submit(req *mem.Request) bool
}

// ProgressTracker is told how many requests are in flight and finished.
type ProgressTracker interface {
	IncrementInProgress(amount uint64)
	MoveInProgressToFinished(amount uint64)
}

type tickEvent struct{}

// A MemAccessAgent generates a large number of read and write requests. It
// also serves as the transport of the controller it drives: responses and
// retry notifications come back through Deliver and NotifyRetry.
type MemAccessAgent struct {
	name     string
	engine   timing.EventScheduler
	log      *logrus.Entry
	rand     *rand.Rand
	progress ProgressTracker

	LowModule     Submitter
	MaxAddress    uint64
	AccessSize    uint64
	NumPriorities int

	WriteLeft       int
	ReadLeft        int
	KnownMemValue   map[uint64]uint32
	PendingReadReq  map[string]*mem.Request
	PendingWriteReq map[string]*mem.Request

	knownAddrs      []uint64
	tickScheduled   bool
	waitingForRetry bool
	refused         *mem.Request
	retries         int
	mismatches      int
}

// Name returns the name of the agent.
func (a *MemAccessAgent) Name() string {
	return a.name
}

// SetProgressTracker sets where the agent reports its progress.
func (a *MemAccessAgent) SetProgressTracker(p ProgressTracker) {
	a.progress = p
}

// Start schedules the first request.
func (a *MemAccessAgent) Start() {
	a.tickLater(a.engine.CurrentTime())
}

// Done returns true once every request is issued and answered.
func (a *MemAccessAgent) Done() bool {
	return a.ReadLeft == 0 && a.WriteLeft == 0 &&
		len(a.PendingReadReq) == 0 && len(a.PendingWriteReq) == 0
}

// NumMismatches returns how many reads returned data different from what was
// written.
func (a *MemAccessAgent) NumMismatches() int {
	return a.mismatches
}

// NumRetries returns how many times a refused request was submitted again.
func (a *MemAccessAgent) NumRetries() int {
	return a.retries
}

// Handle processes the tick events of the agent.
func (a *MemAccessAgent) Handle(e any) error {
	switch e.(type) {
	case tickEvent:
		a.tickScheduled = false
		if a.tick() {
			a.tickLater(a.engine.CurrentTime() + 1)
		}
	default:
		return fmt.Errorf("%s cannot handle event of type %T", a.name, e)
	}

	return nil
}

func (a *MemAccessAgent) tickLater(at timing.VTimeInCycle) {
	if a.tickScheduled {
		return
	}

	a.tickScheduled = true
	a.engine.Schedule(timing.ScheduledEvent{
		Event:   tickEvent{},
		Time:    at,
		Handler: a,
	})
}

// tick issues at most one request. It returns true if the agent should tick
// again.
func (a *MemAccessAgent) tick() bool {
	if a.waitingForRetry {
		return false
	}

	if a.refused != nil {
		req := a.refused
		a.refused = nil
		a.retries++

		return a.submit(req)
	}

	if a.ReadLeft == 0 && a.WriteLeft == 0 {
		return false
	}

	if a.shouldRead() {
		return a.doRead()
	}

	return a.doWrite()
}

func (a *MemAccessAgent) shouldRead() bool {
	if len(a.knownAddrs) == 0 {
		return false
	}

	if a.ReadLeft == 0 {
		return false
	}

	if a.WriteLeft == 0 {
		return true
	}

	return a.rand.Float64() > 0.5
}

func (a *MemAccessAgent) doRead() bool {
	address := a.randomReadAddress()
	if a.isAddressInPendingReq(address) {
		return true
	}

	req := mem.RequestBuilder{}.
		WithAddress(address).
		WithByteSize(a.AccessSize).
		WithRequestor(a.name).
		WithPriority(a.rand.Intn(a.NumPriorities)).
		Build()

	a.ReadLeft--
	a.PendingReadReq[req.ID] = req

	return a.submit(req)
}

func (a *MemAccessAgent) doWrite() bool {
	address := a.randomAddress()
	if a.isAddressInPendingReq(address) {
		return true
	}

	data := make([]byte, a.AccessSize)
	for i := uint64(0); i < a.AccessSize; i += 4 {
		binary.LittleEndian.PutUint32(data[i:], a.rand.Uint32())
	}

	req := mem.RequestBuilder{}.
		WithAddress(address).
		WithData(data).
		WithRequestor(a.name).
		WithPriority(a.rand.Intn(a.NumPriorities)).
		Build()

	a.WriteLeft--
	a.PendingWriteReq[req.ID] = req

	return a.submit(req)
}

// submit offers the request to the low module. A refused request is kept
// until the low module asks for a retry.
func (a *MemAccessAgent) submit(req *mem.Request) bool {
	if !a.LowModule.Submit(req) {
		a.refused = req
		a.waitingForRetry = true
		a.log.WithField("req", req.ID).Debug("refused, waiting for retry")

		return false
	}

	if a.progress != nil {
		a.progress.IncrementInProgress(1)
	}

	if req.IsWrite() {
		a.addKnownValues(req.Address, req.Data)
	}

	return true
}

func (a *MemAccessAgent) randomAddress() uint64 {
	numSlots := (a.MaxAddress-a.AccessSize)/4 + 1
	return a.rand.Uint64() % numSlots * 4
}

func (a *MemAccessAgent) randomReadAddress() uint64 {
	addr := a.knownAddrs[a.rand.Intn(len(a.knownAddrs))]
	return min(addr, a.MaxAddress-a.AccessSize)
}

func (a *MemAccessAgent) isAddressInPendingReq(addr uint64) bool {
	return overlapsAny(a.PendingWriteReq, addr, a.AccessSize) ||
		overlapsAny(a.PendingReadReq, addr, a.AccessSize)
}

func overlapsAny(reqs map[string]*mem.Request, addr, size uint64) bool {
	for _, req := range reqs {
		if req.Address < addr+size && addr < req.Address+req.ByteSize {
			return true
		}
	}

	return false
}

func (a *MemAccessAgent) addKnownValues(address uint64, data []byte) {
	for i := uint64(0); i < uint64(len(data)); i += 4 {
		addr := address + i
		if _, exist := a.KnownMemValue[addr]; !exist {
			a.knownAddrs = append(a.knownAddrs, addr)
		}

		a.KnownMemValue[addr] = binary.LittleEndian.Uint32(data[i:])
	}
}

// Deliver receives the response of a request.
func (a *MemAccessAgent) Deliver(rsp *mem.Response) {
	if req, ok := a.PendingWriteReq[rsp.RespondTo]; ok {
		delete(a.PendingWriteReq, rsp.RespondTo)
		a.finish()
		a.log.WithField("addr", req.Address).Debug("write complete")

		return
	}

	req, ok := a.PendingReadReq[rsp.RespondTo]
	if !ok {
		panic(fmt.Sprintf("%s: response to unknown request %s",
			a.name, rsp.RespondTo))
	}

	delete(a.PendingReadReq, rsp.RespondTo)
	a.checkReadResult(req, rsp)
	a.finish()
}

func (a *MemAccessAgent) finish() {
	if a.progress != nil {
		a.progress.MoveInProgressToFinished(1)
	}

	if a.refused == nil {
		a.tickLater(a.engine.CurrentTime())
	}
}

func (a *MemAccessAgent) checkReadResult(req *mem.Request, rsp *mem.Response) {
	if uint64(len(rsp.Data)) != req.ByteSize {
		a.mismatches++
		a.log.WithFields(logrus.Fields{
			"addr": req.Address,
			"want": req.ByteSize,
			"got":  len(rsp.Data),
		}).Error("read returned a wrong number of bytes")

		return
	}

	for i := uint64(0); i < req.ByteSize; i += 4 {
		expected, known := a.KnownMemValue[req.Address+i]
		if !known {
			continue
		}

		actual := binary.LittleEndian.Uint32(rsp.Data[i:])
		if actual != expected {
			a.mismatches++
			a.log.WithFields(logrus.Fields{
				"addr": req.Address + i,
				"want": expected,
				"got":  actual,
			}).Error("read mismatch")
		}
	}
}

// NotifyRetry resubmits the refused request.
func (a *MemAccessAgent) NotifyRetry() {
	if !a.waitingForRetry {
		return
	}

	a.waitingForRetry = false
	a.tickLater(a.engine.CurrentTime())
}
