// Package simplemedia provides a bank-level timing model of a memory device.
// It tracks open rows, per-bank command constraints, and periodic rank
// refresh, and serves as a tier of the hybrid memory controller.
package simplemedia

import (
	"fmt"

	"github.com/sarchlab/hybridmem/mem/hybrid"
	"github.com/sarchlab/hybridmem/mem/mem"
	"github.com/sarchlab/hybridmem/sim/timing"
)

type bank struct {
	rowOpen  bool
	openRow  uint64
	openedAt timing.VTimeInCycle

	actAllowedAt timing.VTimeInCycle
	colAllowedAt timing.VTimeInCycle
	preAllowedAt timing.VTimeInCycle
}

type rank struct {
	banks []bank
}

type wakeEvent struct{}

// Media is the timing model of one memory device.
type Media struct {
	name   string
	engine timing.EventScheduler
	waker  hybrid.Waker

	capacity  uint64
	burstSize uint64
	rowSize   uint64
	numBanks  int
	ranks     []rank

	tRCD, tCL, tCWL, tRP, tBURST timing.VTimeInCycle
	tRTP, tWR, tRTW, tWTR        timing.VTimeInCycle
	tREFI, tRFC                  timing.VTimeInCycle

	running     bool
	epoch       timing.VTimeInCycle
	lastDataEnd timing.VTimeInCycle
	wakePending bool

	numActivates uint64
	numRowHits   uint64
}

// Name returns the name of the media.
func (m *Media) Name() string {
	return m.name
}

// SetWaker sets who is woken up once a busy media can take bursts again.
func (m *Media) SetWaker(w hybrid.Waker) {
	m.waker = w
}

// NumActivates returns the number of rows opened so far.
func (m *Media) NumActivates() uint64 {
	return m.numActivates
}

// NumRowHits returns the number of bursts that found their row open.
func (m *Media) NumRowHits() uint64 {
	return m.numRowHits
}

// BurstSize returns the number of bytes in a burst.
func (m *Media) BurstSize() uint64 {
	return m.burstSize
}

// Capacity returns the number of bytes of the media.
func (m *Media) Capacity() uint64 {
	return m.capacity
}

// Decode maps an address to its rank, bank and row. Consecutive rows go to
// consecutive banks, then to consecutive ranks.
func (m *Media) Decode(addr uint64) mem.Location {
	if addr >= m.capacity {
		panic(fmt.Sprintf("%s: address 0x%x beyond capacity 0x%x",
			m.name, addr, m.capacity))
	}

	rowIndex := addr / m.rowSize
	numBanks := uint64(m.numBanks)
	numRanks := uint64(len(m.ranks))

	return mem.Location{
		Bank: int(rowIndex % numBanks),
		Rank: int(rowIndex / numBanks % numRanks),
		Row:  rowIndex / (numBanks * numRanks),
	}
}

func (m *Media) bankOf(loc mem.Location) *bank {
	return &m.ranks[loc.Rank].banks[loc.Bank]
}

// refreshPhase reports whether the rank has started refreshing at least once
// and how long ago its latest refresh started.
func (m *Media) refreshPhase(
	rankID int,
	now timing.VTimeInCycle,
) (started bool, phase timing.VTimeInCycle) {
	if m.tREFI == 0 || now < m.epoch {
		return false, 0
	}

	offset := m.tREFI / timing.VTimeInCycle(len(m.ranks)) *
		timing.VTimeInCycle(rankID)
	elapsed := now - m.epoch

	if elapsed < m.tREFI+offset {
		return false, 0
	}

	return true, (elapsed - offset) % m.tREFI
}

func (m *Media) refreshing(rankID int, now timing.VTimeInCycle) bool {
	started, phase := m.refreshPhase(rankID, now)
	return started && phase < m.tRFC
}

// closeRefreshedRow closes the row of a bank if its rank refreshed after the
// row was opened.
func (m *Media) closeRefreshedRow(loc mem.Location, now timing.VTimeInCycle) {
	b := m.bankOf(loc)
	if !b.rowOpen {
		return
	}

	started, phase := m.refreshPhase(loc.Rank, now)
	if started && b.openedAt < now-phase {
		b.rowOpen = false
	}
}

// BurstReady returns true if the rank of the location is not refreshing.
func (m *Media) BurstReady(loc mem.Location, now timing.VTimeInCycle) bool {
	return m.running && !m.refreshing(loc.Rank, now)
}

// ColumnAllowedAt returns the earliest time the column command of a burst to
// the location can issue and whether the row is already open.
func (m *Media) ColumnAllowedAt(
	loc mem.Location,
	now timing.VTimeInCycle,
) (timing.VTimeInCycle, bool) {
	m.closeRefreshedRow(loc, now)

	return m.columnAt(m.bankOf(loc), loc.Row, now)
}

func (m *Media) columnAt(
	b *bank,
	row uint64,
	now timing.VTimeInCycle,
) (timing.VTimeInCycle, bool) {
	if b.rowOpen && b.openRow == row {
		return max(b.colAllowedAt, now), true
	}

	actAt := max(b.actAllowedAt, now)
	if b.rowOpen {
		actAt = max(actAt, max(b.preAllowedAt, now)+m.tRP)
	}

	return actAt + m.tRCD, false
}

// DoBurstAccess issues the commands of a burst and returns its timing.
func (m *Media) DoBurstAccess(a hybrid.BurstAccess) hybrid.BurstResult {
	m.closeRefreshedRow(a.Loc, a.Now)

	b := m.bankOf(a.Loc)

	dataLatency := m.tCWL
	if a.IsRead {
		dataLatency = m.tCL
	}

	colAt, rowHit := m.columnAt(b, a.Loc.Row, a.Now)
	if a.NextBurstAt > dataLatency {
		colAt = max(colAt, a.NextBurstAt-dataLatency)
	}

	var cmdAt timing.VTimeInCycle

	if rowHit {
		m.numRowHits++
		cmdAt = a.Bus.ReserveSingle(colAt)
	} else {
		m.numActivates++
		cmdAt = a.Bus.ReserveMulti(colAt, m.tRCD)

		b.rowOpen = true
		b.openRow = a.Loc.Row
		b.openedAt = cmdAt - min(cmdAt, m.tRCD)
		b.actAllowedAt = cmdAt + m.tRP
	}

	dataAt := cmdAt + dataLatency
	end := dataAt + m.tBURST

	b.colAllowedAt = cmdAt + m.tBURST
	if a.IsRead {
		b.preAllowedAt = max(b.preAllowedAt, cmdAt+m.tRTP)
	} else {
		b.preAllowedAt = max(b.preAllowedAt, end+m.tWR)
	}

	m.lastDataEnd = max(m.lastDataEnd, end)

	return hybrid.BurstResult{
		CmdAt:       cmdAt,
		NextBurstAt: end,
		ReadyTime:   end,
	}
}

// IsBusy returns true if every rank is refreshing or the media is suspended.
// When refresh is the reason, the waker is woken up once the first rank
// finishes.
func (m *Media) IsBusy(now timing.VTimeInCycle) bool {
	if !m.running {
		return true
	}

	wakeAt := timing.MaxTime

	for i := range m.ranks {
		started, phase := m.refreshPhase(i, now)
		if !started || phase >= m.tRFC {
			return false
		}

		wakeAt = min(wakeAt, now+m.tRFC-phase)
	}

	m.scheduleWakeUp(wakeAt)

	return true
}

func (m *Media) scheduleWakeUp(at timing.VTimeInCycle) {
	if m.waker == nil || m.wakePending {
		return
	}

	m.wakePending = true
	m.engine.Schedule(timing.ScheduledEvent{
		Event:   wakeEvent{},
		Time:    at,
		Handler: m,
	})
}

// Handle processes the wake up events of the media.
func (m *Media) Handle(e any) error {
	switch e.(type) {
	case wakeEvent:
		m.wakePending = false
		if m.waker != nil {
			m.waker.WakeUp()
		}
	default:
		return fmt.Errorf("%s cannot handle event of type %T", m.name, e)
	}

	return nil
}

// AllRanksDrained returns true once the data of every issued burst has been
// transferred.
func (m *Media) AllRanksDrained(now timing.VTimeInCycle) bool {
	return now >= m.lastDataEnd
}

// DrainRanks closes all the open rows.
func (m *Media) DrainRanks() {
	for i := range m.ranks {
		for j := range m.ranks[i].banks {
			m.ranks[i].banks[j].rowOpen = false
		}
	}
}

// Startup restarts the media and its refresh timers at the given time.
func (m *Media) Startup(now timing.VTimeInCycle) {
	m.running = true
	m.epoch = now

	for i := range m.ranks {
		for j := range m.ranks[i].banks {
			b := &m.ranks[i].banks[j]
			b.rowOpen = false
			b.actAllowedAt = max(b.actAllowedAt, now)
			b.colAllowedAt = max(b.colAllowedAt, now)
			b.preAllowedAt = max(b.preAllowedAt, now)
		}
	}

	m.scheduleWakeUp(now)
}

// Suspend stops the media. It accepts no burst until Startup.
func (m *Media) Suspend() {
	m.running = false
}

// CommandOffset returns how long before its data the commands of a row miss
// issue.
func (m *Media) CommandOffset() timing.VTimeInCycle {
	return m.tRCD + m.tCL
}

// MinReadToWriteDataGap returns the data bus gap from a read to a write.
func (m *Media) MinReadToWriteDataGap() timing.VTimeInCycle {
	return m.tRTW
}

// MinWriteToReadDataGap returns the data bus gap from a write to a read.
func (m *Media) MinWriteToReadDataGap() timing.VTimeInCycle {
	return m.tWTR + m.tCWL
}

// AccessLatency returns the latency of a read that misses the open row.
func (m *Media) AccessLatency() timing.VTimeInCycle {
	return m.tRCD + m.tCL + m.tBURST
}

var _ hybrid.Media = (*Media)(nil)
var _ timing.Handler = (*Media)(nil)
