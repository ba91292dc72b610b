package memaccessagent

import (
	"fmt"
	"math/rand"

	"github.com/sarchlab/hybridmem/mem/mem"
	"github.com/sarchlab/hybridmem/sim/timing"
	"github.com/sirupsen/logrus"
)

// Builder can build MemAccessAgents.
type Builder struct {
	engine        timing.EventScheduler
	lowModule     Submitter
	progress      ProgressTracker
	logger        logrus.FieldLogger
	seed          int64
	maxAddress    uint64
	accessSize    uint64
	writeLeft     int
	readLeft      int
	numPriorities int
}

// MakeBuilder creates a builder with default parameters.
func MakeBuilder() Builder {
	return Builder{
		seed:          1,
		maxAddress:    1024 * 1024,
		accessSize:    4,
		writeLeft:     1000,
		readLeft:      1000,
		numPriorities: 1,
	}
}

// WithEngine sets the engine that runs the agent.
func (b Builder) WithEngine(engine timing.EventScheduler) Builder {
	b.engine = engine
	return b
}

// WithLowModule sets the memory controller that receives the requests.
func (b Builder) WithLowModule(m Submitter) Builder {
	b.lowModule = m
	return b
}

// WithProgressTracker sets where the agent reports its progress.
func (b Builder) WithProgressTracker(p ProgressTracker) Builder {
	b.progress = p
	return b
}

// WithLogger sets the logger of the agent.
func (b Builder) WithLogger(l logrus.FieldLogger) Builder {
	b.logger = l
	return b
}

// WithSeed sets the seed of the random address and data generator.
func (b Builder) WithSeed(seed int64) Builder {
	b.seed = seed
	return b
}

// WithMaxAddress sets the end of the address range the agent accesses.
func (b Builder) WithMaxAddress(addr uint64) Builder {
	b.maxAddress = addr
	return b
}

// WithAccessSize sets the number of bytes of each request. It must be a
// multiple of 4.
func (b Builder) WithAccessSize(bytes uint64) Builder {
	b.accessSize = bytes
	return b
}

// WithWriteLeft sets the number of writes to issue.
func (b Builder) WithWriteLeft(n int) Builder {
	b.writeLeft = n
	return b
}

// WithReadLeft sets the number of reads to issue.
func (b Builder) WithReadLeft(n int) Builder {
	b.readLeft = n
	return b
}

// WithNumPriorities sets the number of QoS priorities the requests are
// spread over.
func (b Builder) WithNumPriorities(n int) Builder {
	b.numPriorities = n
	return b
}

// Build creates a MemAccessAgent.
func (b Builder) Build(name string) *MemAccessAgent {
	if b.engine == nil {
		panic(fmt.Sprintf("%s: engine must be set", name))
	}

	if b.accessSize == 0 || b.accessSize%4 != 0 {
		panic(fmt.Sprintf("%s: access size %d is not a multiple of 4",
			name, b.accessSize))
	}

	if b.maxAddress < b.accessSize {
		panic(fmt.Sprintf("%s: max address 0x%x is below the access size",
			name, b.maxAddress))
	}

	logger := b.logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &MemAccessAgent{
		name:            name,
		engine:          b.engine,
		log:             logger.WithField("comp", name),
		rand:            rand.New(rand.NewSource(b.seed)),
		progress:        b.progress,
		LowModule:       b.lowModule,
		MaxAddress:      b.maxAddress,
		AccessSize:      b.accessSize,
		WriteLeft:       b.writeLeft,
		ReadLeft:        b.readLeft,
		NumPriorities:   max(b.numPriorities, 1),
		KnownMemValue:   make(map[uint64]uint32),
		PendingReadReq:  make(map[string]*mem.Request),
		PendingWriteReq: make(map[string]*mem.Request),
	}
}
