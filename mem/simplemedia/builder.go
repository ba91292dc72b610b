package simplemedia

import (
	"fmt"

	"github.com/sarchlab/hybridmem/mem/mem"
	"github.com/sarchlab/hybridmem/sim/timing"
)

// Builder can build media models.
type Builder struct {
	engine timing.EventScheduler

	capacity  uint64
	burstSize uint64
	rowSize   uint64
	numRanks  int
	numBanks  int

	tRCD   timing.VTimeInCycle
	tCL    timing.VTimeInCycle
	tCWL   timing.VTimeInCycle
	tRP    timing.VTimeInCycle
	tBURST timing.VTimeInCycle
	tRTP   timing.VTimeInCycle
	tWR    timing.VTimeInCycle
	tRTW   timing.VTimeInCycle
	tWTR   timing.VTimeInCycle
	tREFI  timing.VTimeInCycle
	tRFC   timing.VTimeInCycle
}

// MakeBuilder creates a builder with a DDR4-like default configuration.
func MakeBuilder() Builder {
	return Builder{
		capacity:  1 * mem.GB,
		burstSize: 64,
		rowSize:   1 * mem.KB,
		numRanks:  2,
		numBanks:  8,
		tRCD:      14,
		tCL:       14,
		tCWL:      10,
		tRP:       14,
		tBURST:    4,
		tRTP:      8,
		tWR:       15,
		tRTW:      2,
		tWTR:      8,
		tREFI:     7800,
		tRFC:      350,
	}
}

// MakeFastBuilder creates a builder for a small HBM-like cache tier.
func MakeFastBuilder() Builder {
	b := MakeBuilder()
	b.capacity = 128 * mem.MB
	b.rowSize = 2 * mem.KB
	b.numRanks = 1
	b.numBanks = 16
	b.tRCD = 12
	b.tCL = 12
	b.tCWL = 6
	b.tRP = 12
	b.tBURST = 2
	b.tREFI = 3900
	b.tRFC = 260

	return b
}

// MakeBackingBuilder creates a builder for a large NVM-like backing tier.
func MakeBackingBuilder() Builder {
	b := MakeBuilder()
	b.capacity = 4 * mem.GB
	b.burstSize = 256
	b.rowSize = 256
	b.numRanks = 1
	b.numBanks = 16
	b.tRCD = 60
	b.tCL = 30
	b.tCWL = 20
	b.tRP = 0
	b.tBURST = 8
	b.tWR = 150
	b.tWTR = 20
	b.tREFI = 0
	b.tRFC = 0

	return b
}

// WithEngine sets the engine that runs the wake up events of the media.
func (b Builder) WithEngine(engine timing.EventScheduler) Builder {
	b.engine = engine
	return b
}

// WithCapacity sets the number of bytes the media holds.
func (b Builder) WithCapacity(bytes uint64) Builder {
	b.capacity = bytes
	return b
}

// WithBurstSize sets the number of bytes of one burst.
func (b Builder) WithBurstSize(bytes uint64) Builder {
	b.burstSize = bytes
	return b
}

// WithRowSize sets the number of bytes in a row of a bank.
func (b Builder) WithRowSize(bytes uint64) Builder {
	b.rowSize = bytes
	return b
}

// WithNumRanks sets the number of ranks.
func (b Builder) WithNumRanks(n int) Builder {
	b.numRanks = n
	return b
}

// WithNumBanks sets the number of banks per rank.
func (b Builder) WithNumBanks(n int) Builder {
	b.numBanks = n
	return b
}

// WithTRCD sets the activate to column delay.
func (b Builder) WithTRCD(cycles timing.VTimeInCycle) Builder {
	b.tRCD = cycles
	return b
}

// WithTCL sets the read column to data delay.
func (b Builder) WithTCL(cycles timing.VTimeInCycle) Builder {
	b.tCL = cycles
	return b
}

// WithTCWL sets the write column to data delay.
func (b Builder) WithTCWL(cycles timing.VTimeInCycle) Builder {
	b.tCWL = cycles
	return b
}

// WithTRP sets the precharge time.
func (b Builder) WithTRP(cycles timing.VTimeInCycle) Builder {
	b.tRP = cycles
	return b
}

// WithTBURST sets the number of cycles the data of a burst occupies the bus.
func (b Builder) WithTBURST(cycles timing.VTimeInCycle) Builder {
	b.tBURST = cycles
	return b
}

// WithTRTP sets the read to precharge delay.
func (b Builder) WithTRTP(cycles timing.VTimeInCycle) Builder {
	b.tRTP = cycles
	return b
}

// WithTWR sets the write recovery time.
func (b Builder) WithTWR(cycles timing.VTimeInCycle) Builder {
	b.tWR = cycles
	return b
}

// WithTRTW sets the data bus gap when a read follows a write.
func (b Builder) WithTRTW(cycles timing.VTimeInCycle) Builder {
	b.tRTW = cycles
	return b
}

// WithTWTR sets the write to read turnaround time.
func (b Builder) WithTWTR(cycles timing.VTimeInCycle) Builder {
	b.tWTR = cycles
	return b
}

// WithRefresh sets the refresh interval and the refresh duration of a rank.
// A zero interval disables refresh.
func (b Builder) WithRefresh(tREFI, tRFC timing.VTimeInCycle) Builder {
	b.tREFI = tREFI
	b.tRFC = tRFC

	return b
}

// Build creates a media model with the given name.
func (b Builder) Build(name string) *Media {
	b.parametersMustBeValid(name)

	m := &Media{
		name:      name,
		engine:    b.engine,
		capacity:  b.capacity,
		burstSize: b.burstSize,
		rowSize:   b.rowSize,
		numBanks:  b.numBanks,
		tRCD:      b.tRCD,
		tCL:       b.tCL,
		tCWL:      b.tCWL,
		tRP:       b.tRP,
		tBURST:    b.tBURST,
		tRTP:      b.tRTP,
		tWR:       b.tWR,
		tRTW:      b.tRTW,
		tWTR:      b.tWTR,
		tREFI:     b.tREFI,
		tRFC:      b.tRFC,
		running:   true,
	}

	m.ranks = make([]rank, b.numRanks)
	for i := range m.ranks {
		m.ranks[i].banks = make([]bank, b.numBanks)
	}

	return m
}

func (b Builder) parametersMustBeValid(name string) {
	if b.engine == nil {
		panic(fmt.Sprintf("%s: engine must be set", name))
	}

	if b.burstSize == 0 || b.rowSize%b.burstSize != 0 {
		panic(fmt.Sprintf("%s: row size %d must be a multiple of the "+
			"burst size %d", name, b.rowSize, b.burstSize))
	}

	if b.numRanks <= 0 || b.numBanks <= 0 {
		panic(fmt.Sprintf("%s: at least one rank and one bank is required",
			name))
	}

	if b.capacity%(b.rowSize*uint64(b.numBanks*b.numRanks)) != 0 {
		panic(fmt.Sprintf("%s: capacity %d does not hold whole rows",
			name, b.capacity))
	}

	if b.tREFI != 0 && b.tRFC >= b.tREFI {
		panic(fmt.Sprintf("%s: refresh takes longer than its interval",
			name))
	}
}
