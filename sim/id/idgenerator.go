// Package id generates identifiers for requests, packets and traced tasks.
package id

import (
	"log"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/rs/xid"
)

// IDGenerator can generate IDs.
type IDGenerator interface {
	Generate() string
}

var (
	generatorLock sync.Mutex
	generator     IDGenerator
)

// UseSequentialIDGenerator makes Generate return "1", "2", ... so that runs
// are reproducible. It must be called before the first ID is generated.
func UseSequentialIDGenerator() {
	install(NewSequentialIDGenerator())
}

// UseParallelIDGenerator makes Generate return globally unique xid strings.
// IDs are no longer deterministic across runs.
func UseParallelIDGenerator() {
	install(NewParallelIDGenerator())
}

func install(g IDGenerator) {
	generatorLock.Lock()
	defer generatorLock.Unlock()

	if generator != nil {
		log.Panic("cannot change id generator type after using it")
	}

	generator = g
}

// Generate returns a new ID from the process-wide generator. The sequential
// generator is used if none was selected.
func Generate() string {
	generatorLock.Lock()
	if generator == nil {
		generator = NewSequentialIDGenerator()
	}
	g := generator
	generatorLock.Unlock()

	return g.Generate()
}

// NewSequentialIDGenerator returns a generator that counts up from 1.
func NewSequentialIDGenerator() IDGenerator {
	return &sequentialIDGenerator{}
}

// NewParallelIDGenerator returns a generator backed by xid.
func NewParallelIDGenerator() IDGenerator {
	return parallelIDGenerator{}
}

type sequentialIDGenerator struct {
	nextID uint64
}

func (g *sequentialIDGenerator) Generate() string {
	idNumber := atomic.AddUint64(&g.nextID, 1)

	return strconv.FormatUint(idNumber, 10)
}

type parallelIDGenerator struct{}

func (g parallelIDGenerator) Generate() string {
	return xid.New().String()
}
