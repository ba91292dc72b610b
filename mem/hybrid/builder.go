package hybrid

import (
	"fmt"

	"github.com/sarchlab/hybridmem/mem/hybrid/internal/cmdbus"
	"github.com/sarchlab/hybridmem/mem/hybrid/internal/queue"
	"github.com/sarchlab/hybridmem/mem/hybrid/internal/tagstore"
	"github.com/sarchlab/hybridmem/mem/mem"
	"github.com/sarchlab/hybridmem/sim/hooking"
	"github.com/sarchlab/hybridmem/sim/timing"
	"github.com/sirupsen/logrus"
)

// Builder can build hybrid memory controllers.
type Builder struct {
	engine        timing.EventScheduler
	fastMedia     Media
	backingMedia  Media
	storage       *mem.Storage
	transport     Transport
	drainListener DrainListener
	system        System
	logger        logrus.FieldLogger
	hooks         []hooking.Hook

	fastReadQueueSize     int
	fastWriteQueueSize    int
	backingReadQueueSize  int
	backingWriteQueueSize int
	fillQueueSize         int
	numPriorities         int

	writeHighPercent   int
	writeLowPercent    int
	minWritesPerSwitch int

	fastPolicy    Policy
	backingPolicy Policy
	writeAllocate bool

	commandWindow        timing.VTimeInCycle
	maxCommandsPerWindow int

	frontendLatency timing.VTimeInCycle
	backendLatency  timing.VTimeInCycle
	tagCheckLatency timing.VTimeInCycle

	cacheCapacity uint64
	lineSize      uint64
}

// MakeBuilder creates a builder with default configuration.
func MakeBuilder() Builder {
	return Builder{
		fastReadQueueSize:     64,
		fastWriteQueueSize:    64,
		backingReadQueueSize:  64,
		backingWriteQueueSize: 64,
		fillQueueSize:         64,
		numPriorities:         1,
		writeHighPercent:      85,
		writeLowPercent:       50,
		minWritesPerSwitch:    16,
		fastPolicy:            PolicyFRFCFS,
		backingPolicy:         PolicyFRFCFS,
		writeAllocate:         true,
		commandWindow:         10,
		maxCommandsPerWindow:  4,
		frontendLatency:       10,
		backendLatency:        10,
		tagCheckLatency:       4,
		cacheCapacity:         16 * mem.MB,
		lineSize:              64,
	}
}

// WithEngine sets the engine that schedules the events of the controller.
func (b Builder) WithEngine(engine timing.EventScheduler) Builder {
	b.engine = engine
	return b
}

// WithFastMedia sets the timing model of the fast tier.
func (b Builder) WithFastMedia(m Media) Builder {
	b.fastMedia = m
	return b
}

// WithBackingMedia sets the timing model of the backing tier.
func (b Builder) WithBackingMedia(m Media) Builder {
	b.backingMedia = m
	return b
}

// WithStorage sets the storage that holds the data. By default, a storage as
// large as the backing tier is created.
func (b Builder) WithStorage(s *mem.Storage) Builder {
	b.storage = s
	return b
}

// WithTransport sets where responses and retry notifications go.
func (b Builder) WithTransport(t Transport) Builder {
	b.transport = t
	return b
}

// WithDrainListener sets who is notified when a drain completes.
func (b Builder) WithDrainListener(l DrainListener) Builder {
	b.drainListener = l
	return b
}

// WithSystem sets the system that tells if the simulation runs in timing
// mode. Without a system, the controller always runs in timing mode.
func (b Builder) WithSystem(s System) Builder {
	b.system = s
	return b
}

// WithLogger sets the logger of the controller.
func (b Builder) WithLogger(l logrus.FieldLogger) Builder {
	b.logger = l
	return b
}

// WithAdditionalHooks adds hooks to the controller.
func (b Builder) WithAdditionalHooks(hooks ...hooking.Hook) Builder {
	b.hooks = append(append([]hooking.Hook(nil), b.hooks...), hooks...)
	return b
}

// WithFastReadQueueSize sets the number of bursts waiting for a fast tier
// read probe.
func (b Builder) WithFastReadQueueSize(n int) Builder {
	b.fastReadQueueSize = n
	return b
}

// WithFastWriteQueueSize sets the number of bursts waiting for a fast tier
// write probe.
func (b Builder) WithFastWriteQueueSize(n int) Builder {
	b.fastWriteQueueSize = n
	return b
}

// WithBackingReadQueueSize sets the capacity of the backing tier read queue.
func (b Builder) WithBackingReadQueueSize(n int) Builder {
	b.backingReadQueueSize = n
	return b
}

// WithBackingWriteQueueSize sets the capacity of the backing tier write
// queue, which holds both victims and uncached writes.
func (b Builder) WithBackingWriteQueueSize(n int) Builder {
	b.backingWriteQueueSize = n
	return b
}

// WithFillQueueSize sets the capacity of the fast tier fill queue.
func (b Builder) WithFillQueueSize(n int) Builder {
	b.fillQueueSize = n
	return b
}

// WithNumPriorities sets the number of QoS priority buckets of each queue.
func (b Builder) WithNumPriorities(n int) Builder {
	b.numPriorities = n
	return b
}

// WithWriteWatermarks sets the low and high write watermarks, as percentages
// of the total capacity of the write side queues.
func (b Builder) WithWriteWatermarks(lowPercent, highPercent int) Builder {
	b.writeLowPercent = lowPercent
	b.writeHighPercent = highPercent

	return b
}

// WithMinWritesPerSwitch sets the number of writes issued before the bus
// turns around for waiting reads.
func (b Builder) WithMinWritesPerSwitch(n int) Builder {
	b.minWritesPerSwitch = n
	return b
}

// WithPolicy sets the arbitration policy of both tiers.
func (b Builder) WithPolicy(p Policy) Builder {
	b.fastPolicy = p
	b.backingPolicy = p

	return b
}

// WithTierPolicies sets the arbitration policy of each tier.
func (b Builder) WithTierPolicies(fast, backing Policy) Builder {
	b.fastPolicy = fast
	b.backingPolicy = backing

	return b
}

// WithWriteAllocate sets whether write misses bring their line into the fast
// tier.
func (b Builder) WithWriteAllocate(allocate bool) Builder {
	b.writeAllocate = allocate
	return b
}

// WithCommandWindow sets the width of a command window and the number of
// commands that fit in one window.
func (b Builder) WithCommandWindow(
	window timing.VTimeInCycle,
	maxCommands int,
) Builder {
	b.commandWindow = window
	b.maxCommandsPerWindow = maxCommands

	return b
}

// WithLatencies sets the static front-end, back-end, and tag check
// latencies.
func (b Builder) WithLatencies(
	frontend, backend, tagCheck timing.VTimeInCycle,
) Builder {
	b.frontendLatency = frontend
	b.backendLatency = backend
	b.tagCheckLatency = tagCheck

	return b
}

// WithCacheCapacity sets the number of bytes the fast tier caches.
func (b Builder) WithCacheCapacity(bytes uint64) Builder {
	b.cacheCapacity = bytes
	return b
}

// WithLineSize sets the size of a cache line. It must equal the burst size
// of the fast tier.
func (b Builder) WithLineSize(bytes uint64) Builder {
	b.lineSize = bytes
	return b
}

// Build creates a controller with the given name.
func (b Builder) Build(name string) *Comp {
	b.parametersMustBeValid(name)

	tags, err := tagstore.New(b.cacheCapacity, b.lineSize)
	if err != nil {
		panic(fmt.Sprintf("%s: %v", name, err))
	}

	logger := b.logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	c := &Comp{
		HookableBase:  hooking.NewHookableBase(),
		name:          name,
		engine:        b.engine,
		log:           logger.WithField("comp", name),
		storage:       b.storage,
		tags:          tags,
		cmdBus:        cmdbus.New(b.commandWindow, b.maxCommandsPerWindow),
		fast:          tier{media: b.fastMedia, policy: b.fastPolicy},
		backing:       tier{media: b.backingMedia, policy: b.backingPolicy},
		transport:     b.transport,
		drainListener: b.drainListener,
		system:        b.system,
		writeAllocate: b.writeAllocate,
		pendingFills:  make(map[uint64]pendingFill),

		minWritesPerSwitch: b.minWritesPerSwitch,
		frontendLatency:    b.frontendLatency,
		backendLatency:     b.backendLatency,
		tagCheckLatency:    b.tagCheckLatency,
	}

	if c.storage == nil {
		c.storage = mem.NewStorage(b.backingMedia.Capacity())
	}

	c.fastRead = queue.NewPacketQueue(
		name+".FastReadQueue", b.fastReadQueueSize, b.numPriorities)
	c.fastWrite = queue.NewPacketQueue(
		name+".FastWriteQueue", b.fastWriteQueueSize, b.numPriorities)
	c.backingRead = queue.NewPacketQueue(
		name+".BackingReadQueue", b.backingReadQueueSize, b.numPriorities)
	c.backingWrite = queue.NewPacketQueue(
		name+".BackingWriteQueue", b.backingWriteQueueSize, b.numPriorities)
	c.fill = queue.NewPacketQueue(
		name+".FillQueue", b.fillQueueSize, b.numPriorities)
	c.completions = queue.NewCompletionQueue()

	writeCapacity := b.fastWriteQueueSize + b.backingWriteQueueSize +
		b.fillQueueSize
	c.writeHighThreshold = writeCapacity * b.writeHighPercent / 100
	c.writeLowThreshold = writeCapacity * b.writeLowPercent / 100

	c.inTimingMode = b.system == nil || b.system.IsTimingMode()

	for _, hook := range b.hooks {
		c.AcceptHook(hook)
	}

	return c
}

func (b Builder) parametersMustBeValid(name string) {
	if name == "" {
		panic("controller name must be set")
	}

	if b.engine == nil {
		panic(fmt.Sprintf("%s: engine must be set", name))
	}

	if b.fastMedia == nil || b.backingMedia == nil {
		panic(fmt.Sprintf("%s: both tiers must have a media", name))
	}

	if b.writeLowPercent >= b.writeHighPercent {
		panic(fmt.Sprintf(
			"%s: write low watermark %d%% must be below the high "+
				"watermark %d%%",
			name, b.writeLowPercent, b.writeHighPercent))
	}

	if b.writeHighPercent > 100 || b.writeLowPercent < 0 {
		panic(fmt.Sprintf("%s: write watermarks must be within [0, 100]",
			name))
	}

	if b.lineSize != b.fastMedia.BurstSize() {
		panic(fmt.Sprintf(
			"%s: line size %d must equal the fast tier burst size %d",
			name, b.lineSize, b.fastMedia.BurstSize()))
	}

	if b.lineSize > b.backingMedia.BurstSize() {
		panic(fmt.Sprintf(
			"%s: line size %d exceeds the backing tier burst size %d",
			name, b.lineSize, b.backingMedia.BurstSize()))
	}

	if b.cacheCapacity > b.fastMedia.Capacity() {
		panic(fmt.Sprintf(
			"%s: cache capacity %d exceeds the fast tier capacity %d",
			name, b.cacheCapacity, b.fastMedia.Capacity()))
	}

	if b.storage != nil && b.storage.Capacity() < b.backingMedia.Capacity() {
		panic(fmt.Sprintf("%s: storage is smaller than the backing tier",
			name))
	}

	if b.minWritesPerSwitch < 1 {
		panic(fmt.Sprintf("%s: at least one write per switch is required",
			name))
	}
}
