package throttle

import (
	"errors"
	"fmt"
	"time"
)

// UnknownUID is the reserved identity used as the fallback for every UID
// that has no explicit configuration entry. A Table cannot be built
// without an allocation for it.
const UnknownUID uint32 = 0xffffffff

// DefaultPeriod is the length of one throttling period unless overridden
// with WithPeriod.
const DefaultPeriod = 5 * time.Second

// MaxAllocation is the largest per-period allocation that fits in the
// budget field of the packed state word.
const MaxAllocation = (uint64(1) << budgetBits) - 1

var (
	// ErrMissingFallback is returned by NewTable when the identity list
	// has no entry for UnknownUID.
	ErrMissingFallback = errors.New("throttle: no allocation configured for unknown UIDs")

	// ErrOversizeRequest is returned by Acquire when a single request
	// exceeds the record's full per-period allocation and therefore
	// could never be satisfied, no matter how long the caller waited.
	ErrOversizeRequest = errors.New("throttle: request exceeds per-period allocation")
)

// IdentityConfig configures the guaranteed allocation for one UID.
type IdentityConfig struct {
	// UID is the numeric identity the allocation applies to. Use
	// UnknownUID for the mandatory fallback entry.
	UID uint32

	// BytesPerPeriod is the number of bytes the UID may read or write
	// during each throttling period. Must be positive and no larger
	// than MaxAllocation.
	BytesPerPeriod uint64
}

// Table maps UIDs to their quota records.
//
// A Table is built once at startup and never modified afterwards, so
// Lookup needs no synchronization. The only mutable state anywhere in
// the table is the packed counter inside each Record, which is updated
// exclusively through atomic compare-and-swap by Acquire.
type Table struct {
	records map[uint32]*Record
	unknown *Record
	period  time.Duration

	// now returns time elapsed since the table was built, measured on
	// the process monotonic clock. sleep blocks the calling goroutine.
	// Both are replaceable in tests.
	now   func() time.Duration
	sleep func(time.Duration)
}

// Option customizes table construction.
type Option func(*Table)

// WithPeriod overrides the throttling period length. Periods shorter
// than the default trade accounting granularity for lower worst-case
// latency on a throttled request.
func WithPeriod(period time.Duration) Option {
	return func(t *Table) {
		t.period = period
	}
}

// NewTable builds the quota table from the configured identity list.
//
// The list must contain an entry for UnknownUID: it is the allocation
// served to every UID the table does not know about, and the daemon
// refuses to start without one. Each allocation must be positive and
// representable in the packed word's budget field.
//
// The returned table is immutable; it is safe for any number of
// concurrent callers from the moment NewTable returns.
func NewTable(identities []IdentityConfig, opts ...Option) (*Table, error) {
	t := &Table{
		records: make(map[uint32]*Record, len(identities)),
		period:  DefaultPeriod,
		sleep:   time.Sleep,
	}
	base := time.Now()
	t.now = func() time.Duration { return time.Since(base) }

	for _, opt := range opts {
		opt(t)
	}
	if t.period <= 0 {
		return nil, fmt.Errorf("throttle: period must be positive, got %v", t.period)
	}

	for _, id := range identities {
		if id.BytesPerPeriod == 0 {
			return nil, fmt.Errorf("throttle: uid %d has a zero allocation", id.UID)
		}
		if id.BytesPerPeriod > MaxAllocation {
			return nil, fmt.Errorf("throttle: uid %d allocation %d exceeds maximum %d",
				id.UID, id.BytesPerPeriod, MaxAllocation)
		}
		if _, ok := t.records[id.UID]; ok {
			return nil, fmt.Errorf("throttle: duplicate configuration for uid %d", id.UID)
		}
		r := &Record{uid: id.UID, full: id.BytesPerPeriod}
		// Seed the state with a full budget. Whatever period the first
		// acquire lands in, it either matches this seed (full budget
		// available) or differs from it (stale, renews to full) - the
		// zero word would instead read as "period zero, nothing left".
		r.cur.Store(pack(0, id.BytesPerPeriod))
		t.records[id.UID] = r
	}

	unknown, ok := t.records[UnknownUID]
	if !ok {
		return nil, ErrMissingFallback
	}
	t.unknown = unknown
	return t, nil
}

// Lookup returns the quota record for uid, or the shared fallback record
// when the uid has no explicit entry. It never fails and never blocks.
func (t *Table) Lookup(uid uint32) *Record {
	if r, ok := t.records[uid]; ok {
		return r
	}
	return t.unknown
}

// Period returns the configured throttling period length.
func (t *Table) Period() time.Duration {
	return t.period
}
