// Package mem defines the requests and responses exchanged with memory
// controllers, and the functional storage that holds simulated data.
package mem

import (
	"fmt"

	"github.com/sarchlab/hybridmem/sim/id"
	"github.com/sarchlab/hybridmem/sim/timing"
)

// Op is the operation a request performs.
type Op int

// A list of all supported memory operations.
const (
	OpRead Op = iota
	OpWrite
)

func (o Op) String() string {
	switch o {
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	default:
		return fmt.Sprintf("Op(%d)", int(o))
	}
}

// A Request asks a memory controller to read or write a byte range.
type Request struct {
	ID          string
	Address     uint64
	ByteSize    uint64
	Op          Op
	Data        []byte
	RequestorID string

	// Priority selects the QoS bucket. Larger values are served first.
	Priority int

	NeedsResponse bool

	// HeaderDelay and PayloadDelay are transport latencies that the
	// controller adds to the response time.
	HeaderDelay  timing.VTimeInCycle
	PayloadDelay timing.VTimeInCycle
}

// IsRead returns true if the request reads memory.
func (r *Request) IsRead() bool {
	return r.Op == OpRead
}

// IsWrite returns true if the request writes memory.
func (r *Request) IsWrite() bool {
	return r.Op == OpWrite
}

func (r *Request) String() string {
	return fmt.Sprintf("%s %s [0x%x, +%d)", r.Op, r.ID, r.Address, r.ByteSize)
}

// A Response reports the completion of a Request.
type Response struct {
	RespondTo   string
	RequestorID string
	Op          Op
	Address     uint64
	Data        []byte
}

// RequestBuilder can build requests.
type RequestBuilder struct {
	address      uint64
	byteSize     uint64
	data         []byte
	requestor    string
	priority     int
	noResponse   bool
	headerDelay  timing.VTimeInCycle
	payloadDelay timing.VTimeInCycle
}

// WithAddress sets the address of the request.
func (b RequestBuilder) WithAddress(address uint64) RequestBuilder {
	b.address = address
	return b
}

// WithByteSize sets the number of bytes a read request fetches.
func (b RequestBuilder) WithByteSize(byteSize uint64) RequestBuilder {
	b.byteSize = byteSize
	return b
}

// WithData turns the request into a write of the given data.
func (b RequestBuilder) WithData(data []byte) RequestBuilder {
	b.data = data
	return b
}

// WithRequestor sets the ID of the requestor.
func (b RequestBuilder) WithRequestor(requestor string) RequestBuilder {
	b.requestor = requestor
	return b
}

// WithPriority sets the QoS priority of the request.
func (b RequestBuilder) WithPriority(priority int) RequestBuilder {
	b.priority = priority
	return b
}

// WithoutResponse marks the request as not expecting a response.
func (b RequestBuilder) WithoutResponse() RequestBuilder {
	b.noResponse = true
	return b
}

// WithTransportDelay sets the header and payload delays of the transport.
func (b RequestBuilder) WithTransportDelay(
	header, payload timing.VTimeInCycle,
) RequestBuilder {
	b.headerDelay = header
	b.payloadDelay = payload

	return b
}

// Build creates the request. A request with data is a write whose size is the
// length of the data.
func (b RequestBuilder) Build() *Request {
	r := &Request{
		ID:            id.Generate(),
		Address:       b.address,
		ByteSize:      b.byteSize,
		Op:            OpRead,
		RequestorID:   b.requestor,
		Priority:      b.priority,
		NeedsResponse: !b.noResponse,
		HeaderDelay:   b.headerDelay,
		PayloadDelay:  b.payloadDelay,
	}

	if b.data != nil {
		r.Op = OpWrite
		r.Data = b.data
		r.ByteSize = uint64(len(b.data))
	}

	return r
}

// Location is the position of a burst inside a memory device.
type Location struct {
	Rank int
	Bank int
	Row  uint64
}
