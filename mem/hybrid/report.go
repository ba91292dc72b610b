package hybrid

import (
	"github.com/sarchlab/hybridmem/mem/hybrid/internal/queue"
	"github.com/sarchlab/hybridmem/sim/timing"
)

// QueueLevel is the occupancy of one controller queue.
type QueueLevel struct {
	Name  string `json:"name"`
	Level int    `json:"level"`
	Cap   int    `json:"cap"`
}

// StateReport is a point-in-time view of the controller. It shares nothing
// with the controller and can be read after the simulation moves on.
type StateReport struct {
	Name        string              `json:"name"`
	Now         timing.VTimeInCycle `json:"now"`
	BusState    string              `json:"bus_state"`
	DrainState  string              `json:"drain_state"`
	LowLatched  bool                `json:"low_latched"`
	Parked      int                 `json:"parked"`
	Deliveries  int                 `json:"deliveries"`
	Completions int                 `json:"completions"`
	Queues      []QueueLevel        `json:"queues"`
	Stats       Stats               `json:"stats"`
}

// Report captures the current state of the controller.
func (c *Comp) Report() StateReport {
	stats := c.stats
	stats.ReadsPerTurn = append([]int(nil), c.stats.ReadsPerTurn...)
	stats.WritesPerTurn = append([]int(nil), c.stats.WritesPerTurn...)

	return StateReport{
		Name:        c.name,
		Now:         c.now(),
		BusState:    c.busState.String(),
		DrainState:  c.drainState.String(),
		LowLatched:  c.lowLatched,
		Parked:      len(c.parked),
		Deliveries:  c.deliveries,
		Completions: c.completions.Len(),
		Queues:      c.QueueLevels(),
		Stats:       stats,
	}
}

// QueueLevels returns the occupancy of the five work queues.
func (c *Comp) QueueLevels() []QueueLevel {
	return []QueueLevel{
		levelOf(c.fastRead),
		levelOf(c.fastWrite),
		levelOf(c.backingRead),
		levelOf(c.backingWrite),
		levelOf(c.fill),
	}
}

func levelOf(q *queue.PacketQueue) QueueLevel {
	return QueueLevel{Name: q.Name(), Level: q.Len(), Cap: q.Cap()}
}
