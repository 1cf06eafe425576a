package throttle

import (
	"fmt"
	"sync/atomic"
)

// Layout of the packed state word.
//
// The low periodBits hold the number of the period the record last
// granted bytes in, reduced modulo 2^periodBits. The remaining high bits
// hold the bytes still available in that period. Packing both fields
// into one word lets a reader observe a consistent (period, remaining)
// pair with a single atomic load, and lets a writer update both with a
// single compare-and-swap.
//
// Period numbers are compared for equality only, never ordered. A state
// word from two periods ago looks exactly like one from last period:
// stale. That is fine, because renewal always grants the full
// allocation regardless of how many periods have elapsed - there is no
// banking of unused budget and no penalty for idle periods.
const (
	periodBits = 20
	periodMask = (uint64(1) << periodBits) - 1
	budgetBits = 64 - periodBits
)

// Record holds the throttling state for one UID.
//
// The allocation is immutable after construction. All mutation goes
// through the packed state word, so a Record is safe for any number of
// concurrent Acquire calls.
type Record struct {
	uid  uint32
	full uint64

	// Packed (period, remaining) state. Accessed only atomically.
	cur atomic.Uint64
}

// UID returns the identity this record belongs to.
func (r *Record) UID() uint32 { return r.uid }

// Allocation returns the bytes granted to this record each period.
func (r *Record) Allocation() uint64 { return r.full }

func pack(period, remaining uint64) uint64 {
	return (period & periodMask) | (remaining << periodBits)
}

func unpack(state uint64) (period, remaining uint64) {
	return state & periodMask, state >> periodBits
}

// Acquire reserves amount bytes from r, blocking the calling goroutine
// until the reservation can be granted.
//
// If the current period has enough budget left, the reservation is
// claimed with a single compare-and-swap and Acquire returns
// immediately. Otherwise Acquire sleeps until the next period boundary,
// when the allocation renews in full, and tries again. A CAS that loses
// a race against a concurrent Acquire on the same record is retried
// right away without sleeping.
//
// Acquire returns ErrOversizeRequest (wrapped with detail) when amount
// exceeds the record's full per-period allocation; such a request could
// never be satisfied. It grants nothing in that case.
//
// There is no cancellation: once a caller has entered the period wait,
// only process exit interrupts it. Grant order between concurrent
// callers is whatever the CAS race produces; no fairness is guaranteed.
func (t *Table) Acquire(r *Record, amount uint64) error {
	if amount > r.full {
		return fmt.Errorf("%w: uid %d asked for %d bytes but is allocated %d per period",
			ErrOversizeRequest, r.uid, amount, r.full)
	}

	prev := r.cur.Load()
	for {
		elapsed := t.now()
		period := uint64(elapsed/t.period) & periodMask

		prevPeriod, remaining := unpack(prev)
		avail := remaining
		if prevPeriod != period {
			// The period rolled over since this record was last
			// touched, so the allocation has renewed.
			avail = r.full
		}

		if avail < amount {
			// Not enough budget left in this period. Sleep through the
			// rest of it and re-examine the state afterwards.
			boundary := (elapsed/t.period + 1) * t.period
			t.sleep(boundary - elapsed)
			prev = r.cur.Load()
			continue
		}

		next := pack(period, avail-amount)
		if r.cur.CompareAndSwap(prev, next) {
			return nil
		}
		// Another goroutine updated the word first. Reload and retry
		// without sleeping.
		prev = r.cur.Load()
	}
}
