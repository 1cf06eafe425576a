package throttle

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeClock drives a Table deterministically: now() reads a counter and
// sleep() advances it, so throttled acquires "wait" without real time
// passing.
type fakeClock struct {
	nanos atomic.Int64
}

func (c *fakeClock) now() time.Duration {
	return time.Duration(c.nanos.Load())
}

func (c *fakeClock) sleep(d time.Duration) {
	c.nanos.Add(int64(d))
}

func (c *fakeClock) advance(d time.Duration) {
	c.nanos.Add(int64(d))
}

// newTestTable builds a table on a fake clock. The fallback entry is
// appended automatically unless the identity list already has one.
func newTestTable(t *testing.T, identities []IdentityConfig, opts ...Option) (*Table, *fakeClock) {
	t.Helper()

	hasFallback := false
	for _, id := range identities {
		if id.UID == UnknownUID {
			hasFallback = true
		}
	}
	if !hasFallback {
		identities = append(identities, IdentityConfig{UID: UnknownUID, BytesPerPeriod: 5242880})
	}

	table, err := NewTable(identities, opts...)
	require.NoError(t, err)

	clock := &fakeClock{}
	table.now = clock.now
	table.sleep = clock.sleep
	return table, clock
}

func TestNewTable(t *testing.T) {
	tests := []struct {
		name       string
		identities []IdentityConfig
		wantErr    string
	}{
		{
			name: "valid with fallback",
			identities: []IdentityConfig{
				{UID: 1014, BytesPerPeriod: 262144000},
				{UID: UnknownUID, BytesPerPeriod: 5242880},
			},
		},
		{
			name: "fallback only",
			identities: []IdentityConfig{
				{UID: UnknownUID, BytesPerPeriod: 5242880},
			},
		},
		{
			name: "missing fallback",
			identities: []IdentityConfig{
				{UID: 1014, BytesPerPeriod: 262144000},
			},
			wantErr: "no allocation configured for unknown UIDs",
		},
		{
			name: "zero allocation",
			identities: []IdentityConfig{
				{UID: 1014, BytesPerPeriod: 0},
				{UID: UnknownUID, BytesPerPeriod: 5242880},
			},
			wantErr: "zero allocation",
		},
		{
			name: "allocation exceeds budget field",
			identities: []IdentityConfig{
				{UID: 1014, BytesPerPeriod: MaxAllocation + 1},
				{UID: UnknownUID, BytesPerPeriod: 5242880},
			},
			wantErr: "exceeds maximum",
		},
		{
			name: "duplicate uid",
			identities: []IdentityConfig{
				{UID: 1014, BytesPerPeriod: 100},
				{UID: 1014, BytesPerPeriod: 200},
				{UID: UnknownUID, BytesPerPeriod: 5242880},
			},
			wantErr: "duplicate configuration",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table, err := NewTable(tt.identities)
			if tt.wantErr != "" {
				require.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, table)
		})
	}
}

func TestNewTable_MissingFallbackSentinel(t *testing.T) {
	_, err := NewTable([]IdentityConfig{{UID: 1, BytesPerPeriod: 100}})
	require.ErrorIs(t, err, ErrMissingFallback)
}

func TestLookup(t *testing.T) {
	table, _ := newTestTable(t, []IdentityConfig{
		{UID: 1014, BytesPerPeriod: 1000},
		{UID: UnknownUID, BytesPerPeriod: 500},
	})

	require.Equal(t, uint32(1014), table.Lookup(1014).UID())
	require.Equal(t, uint64(1000), table.Lookup(1014).Allocation())

	// Unconfigured UIDs all resolve to the same fallback record, not
	// copies of it.
	a := table.Lookup(2000)
	b := table.Lookup(3000)
	require.Equal(t, UnknownUID, a.UID())
	require.Same(t, a, b)
}

func TestAcquire_CeilingWithinPeriod(t *testing.T) {
	table, clock := newTestTable(t, []IdentityConfig{
		{UID: 1014, BytesPerPeriod: 100},
	})
	rec := table.Lookup(1014)

	// 60 + 40 exactly exhausts the period without waiting.
	require.NoError(t, table.Acquire(rec, 60))
	require.NoError(t, table.Acquire(rec, 40))
	require.Zero(t, clock.now(), "no sleep expected while budget remains")

	// One more byte cannot be granted this period: Acquire must sleep
	// to the next boundary before succeeding.
	require.NoError(t, table.Acquire(rec, 1))
	require.GreaterOrEqual(t, clock.now(), table.Period())
}

func TestAcquire_Renewal(t *testing.T) {
	table, clock := newTestTable(t, []IdentityConfig{
		{UID: 1014, BytesPerPeriod: 100},
	})
	rec := table.Lookup(1014)

	require.NoError(t, table.Acquire(rec, 100))

	// After the boundary passes, the next acquire sees the full
	// allocation again without sleeping.
	clock.advance(table.Period())
	before := clock.now()
	require.NoError(t, table.Acquire(rec, 100))
	require.Equal(t, before, clock.now())
}

func TestAcquire_NoBanking(t *testing.T) {
	table, clock := newTestTable(t, []IdentityConfig{
		{UID: 1014, BytesPerPeriod: 100},
	})
	rec := table.Lookup(1014)

	// Idle for three full periods. The allocation does not accumulate:
	// a full period's worth is available, a byte more is not.
	clock.advance(3 * table.Period())
	require.NoError(t, table.Acquire(rec, 100))

	before := clock.now()
	require.NoError(t, table.Acquire(rec, 1))
	require.Greater(t, clock.now(), before, "acquire beyond one allocation must wait")
}

func TestAcquire_FallbackShared(t *testing.T) {
	table, clock := newTestTable(t, []IdentityConfig{
		{UID: UnknownUID, BytesPerPeriod: 100},
	})

	// Two unconfigured identities drain the same shared pool: their
	// combined grants in one period are bounded by the fallback
	// allocation.
	require.NoError(t, table.Acquire(table.Lookup(5000), 70))
	require.NoError(t, table.Acquire(table.Lookup(6000), 30))
	require.Zero(t, clock.now())

	require.NoError(t, table.Acquire(table.Lookup(7000), 1))
	require.GreaterOrEqual(t, clock.now(), table.Period())
}

func TestAcquire_OversizeRequest(t *testing.T) {
	table, clock := newTestTable(t, []IdentityConfig{
		{UID: 1014, BytesPerPeriod: 100},
	})
	rec := table.Lookup(1014)

	err := table.Acquire(rec, 101)
	require.ErrorIs(t, err, ErrOversizeRequest)
	require.Zero(t, clock.now(), "oversize request must not wait")

	// Nothing was granted: the full allocation is still available.
	require.NoError(t, table.Acquire(rec, 100))
}

// TestAcquire_ScenarioLargeRequests mirrors an identity provisioned for
// 20 MiB/s over 5 second periods: a 50 MB request is served from the
// fresh allocation immediately, and a following 60 MB request has to
// wait for the rollover.
func TestAcquire_ScenarioLargeRequests(t *testing.T) {
	table, clock := newTestTable(t, []IdentityConfig{
		{UID: 1014, BytesPerPeriod: 104857600},
	})
	rec := table.Lookup(1014)

	require.NoError(t, table.Acquire(rec, 50000000))
	require.Zero(t, clock.now())

	require.NoError(t, table.Acquire(rec, 60000000))
	require.Equal(t, table.Period(), clock.now())
}

// TestAcquire_ExactExhaustionRace runs two goroutines whose requests
// together exactly exhaust one period. Both must be granted within the
// period - one CAS winner, one fast retry, no double grant and no
// dropped grant.
func TestAcquire_ExactExhaustionRace(t *testing.T) {
	table, _ := newTestTable(t, []IdentityConfig{
		{UID: 1014, BytesPerPeriod: 100},
	})
	table.sleep = func(time.Duration) {
		t.Error("no acquire in this test may reach the period wait")
	}
	rec := table.Lookup(1014)

	var wg sync.WaitGroup
	for _, amount := range []uint64{60, 40} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := table.Acquire(rec, amount); err != nil {
				t.Errorf("Acquire(%d) failed: %v", amount, err)
			}
		}()
	}
	wg.Wait()

	_, remaining := unpack(rec.cur.Load())
	require.Zero(t, remaining, "period must be exactly exhausted")
}

// TestAcquire_ConcurrentAccounting hammers one record from many
// goroutines and checks that the total granted matches the allocation
// exactly.
func TestAcquire_ConcurrentAccounting(t *testing.T) {
	const (
		goroutines = 8
		perWorker  = 1000
	)
	table, _ := newTestTable(t, []IdentityConfig{
		{UID: 1014, BytesPerPeriod: goroutines * perWorker},
	})
	table.sleep = func(time.Duration) {
		t.Error("budget is sized so no acquire should wait")
	}
	rec := table.Lookup(1014)

	var wg sync.WaitGroup
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perWorker {
				if err := table.Acquire(rec, 1); err != nil {
					t.Errorf("Acquire failed: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	_, remaining := unpack(rec.cur.Load())
	require.Zero(t, remaining)
}

func TestPackUnpack(t *testing.T) {
	period, remaining := unpack(pack(7, MaxAllocation))
	require.Equal(t, uint64(7), period)
	require.Equal(t, MaxAllocation, remaining)

	// Period numbers wrap at the field width; only the low bits are
	// kept.
	period, _ = unpack(pack(uint64(1)<<periodBits|3, 0))
	require.Equal(t, uint64(3), period)
}

func TestWithPeriod(t *testing.T) {
	table, err := NewTable([]IdentityConfig{
		{UID: UnknownUID, BytesPerPeriod: 100},
	}, WithPeriod(100*time.Millisecond))
	require.NoError(t, err)
	require.Equal(t, 100*time.Millisecond, table.Period())

	_, err = NewTable([]IdentityConfig{
		{UID: UnknownUID, BytesPerPeriod: 100},
	}, WithPeriod(-time.Second))
	require.ErrorContains(t, err, "period must be positive")
}
