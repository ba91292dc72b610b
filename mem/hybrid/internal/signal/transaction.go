package signal

import (
	"fmt"

	"github.com/sarchlab/hybridmem/mem/mem"
	"github.com/sarchlab/hybridmem/sim/timing"
)

// BurstHelper counts the serviced bursts of a request split into several
// bursts.
type BurstHelper struct {
	Total    int
	Serviced int
}

// Service records one more serviced burst and reports whether all bursts are
// done.
func (b *BurstHelper) Service() bool {
	if b.Serviced >= b.Total {
		panic(fmt.Sprintf("burst helper serviced %d of %d bursts",
			b.Serviced+1, b.Total))
	}

	b.Serviced++

	return b.Serviced == b.Total
}

// Transaction tracks an accepted request until it is finalized.
type Transaction struct {
	Req       *mem.Request
	EntryTime timing.VTimeInCycle

	// Burst is nil for requests that fit in one burst.
	Burst *BurstHelper

	// Data holds the bytes a read returns, captured when it is accepted.
	Data []byte

	finalized bool
}

// NewTransaction creates a transaction for a request split into numBursts
// bursts.
func NewTransaction(
	req *mem.Request,
	now timing.VTimeInCycle,
	numBursts int,
) *Transaction {
	t := &Transaction{
		Req:       req,
		EntryTime: now,
	}

	if numBursts > 1 {
		t.Burst = &BurstHelper{Total: numBursts}
	}

	return t
}

// ServiceBurst records one serviced burst and reports whether the request is
// ready to be finalized.
func (t *Transaction) ServiceBurst() bool {
	if t.Burst == nil {
		return true
	}

	return t.Burst.Service()
}

// Finalize marks the transaction as finished. Finalizing twice panics.
func (t *Transaction) Finalize() {
	if t.finalized {
		panic(fmt.Sprintf("request %s finalized twice", t.Req.ID))
	}

	t.finalized = true
}

// IsFinalized returns true once the transaction is finalized.
func (t *Transaction) IsFinalized() bool {
	return t.finalized
}
