package orchestrator

import (
	"time"

	"github.com/shopspring/decimal"
)

// Snapshot is a read-only view of the attempt, shaped for the storefront.
type Snapshot struct {
	State           State
	Failure         *Failure
	CheckoutID      string
	ProviderOrderID string
	Total           decimal.Decimal
	IdempotencyKey  string
	Resumed         bool
	// CountdownRemaining is non-zero while the success countdown runs.
	CountdownRemaining time.Duration
	Navigated          bool
}

// Snapshot returns the current view of the attempt.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

func (o *Orchestrator) snapshotLocked() Snapshot {
	snap := Snapshot{
		State:           o.state,
		CheckoutID:      o.checkoutID,
		ProviderOrderID: o.providerOrderID,
		Total:           o.total,
		IdempotencyKey:  o.idemKey,
		Resumed:         o.resumed,
		Navigated:       o.navigated,
	}
	if o.failure != nil {
		f := *o.failure
		snap.Failure = &f
	}
	if !o.countdownDeadline.IsZero() {
		if remaining := o.countdownDeadline.Sub(o.clock()); remaining > 0 {
			snap.CountdownRemaining = remaining
		}
	}
	return snap
}
