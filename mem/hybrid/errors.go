package hybrid

import "fmt"

// InvariantError describes a broken internal invariant. The controller
// panics with it; it always indicates a bug.
type InvariantError struct {
	Addr   uint64
	Queues string
	Msg    string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("invariant violated at 0x%x: %s (%s)",
		e.Addr, e.Msg, e.Queues)
}
