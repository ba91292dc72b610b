package hybrid

import (
	"github.com/sarchlab/hybridmem/mem/hybrid/internal/queue"
	"github.com/sarchlab/hybridmem/mem/hybrid/internal/signal"
	"github.com/sarchlab/hybridmem/sim/timing"
)

// choose picks the next packet of a queue, highest priority bucket first. The
// second return value is true if an eligible packet waits only for its rank.
func (c *Comp) choose(
	q *queue.PacketQueue,
	t *tier,
	isRead bool,
	now timing.VTimeInCycle,
	eligible func(*signal.Packet) bool,
) (*signal.Packet, bool) {
	rankBlocked := false

	for _, bucket := range q.Buckets() {
		var (
			pkt     *signal.Packet
			blocked bool
		)

		switch t.policy {
		case PolicyFRFCFS:
			pkt, blocked = chooseFRFCFS(bucket, t, isRead, now, eligible)
		default:
			pkt, blocked = chooseFCFS(bucket, t, now, eligible)
		}

		if pkt != nil {
			return pkt, false
		}

		rankBlocked = rankBlocked || blocked
	}

	return nil, rankBlocked
}

func chooseFCFS(
	bucket []*signal.Packet,
	t *tier,
	now timing.VTimeInCycle,
	eligible func(*signal.Packet) bool,
) (*signal.Packet, bool) {
	blocked := false

	for _, pkt := range bucket {
		if !eligible(pkt) {
			continue
		}

		if t.media.BurstReady(pkt.Loc, now) {
			return pkt, false
		}

		blocked = true
	}

	return nil, blocked
}

// chooseFRFCFS takes the oldest row hit that can issue without leaving the
// data bus idle. Otherwise it takes the packet that can issue its column
// command first.
func chooseFRFCFS(
	bucket []*signal.Packet,
	t *tier,
	isRead bool,
	now timing.VTimeInCycle,
	eligible func(*signal.Packet) bool,
) (*signal.Packet, bool) {
	var (
		earliest   *signal.Packet
		earliestAt = timing.MaxTime
		blocked    bool
	)

	dataAt := max(t.dataBusFreeAt(isRead), now)

	for _, pkt := range bucket {
		if !eligible(pkt) {
			continue
		}

		if !t.media.BurstReady(pkt.Loc, now) {
			blocked = true
			continue
		}

		colAt, rowHit := t.media.ColumnAllowedAt(pkt.Loc, now)
		if rowHit && colAt <= dataAt {
			return pkt, false
		}

		if earliest == nil || colAt < earliestAt {
			earliest = pkt
			earliestAt = colAt
		}
	}

	if earliest != nil {
		return earliest, false
	}

	return nil, blocked
}
