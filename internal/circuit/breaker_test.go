package circuit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b := New("broker", 3, time.Minute)

	for i := 0; i < 2; i++ {
		b.RecordFailure()
		assert.True(t, b.Allow(), "breaker should stay closed below threshold")
	}

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.Allow())
}

func TestBreakerHalfOpenAfterCooldown(t *testing.T) {
	b := New("broker", 1, time.Minute)

	now := time.Now()
	b.setClock(func() time.Time { return now })

	b.RecordFailure()
	require.False(t, b.Allow())

	// Advance past the cool-down; the next call is a half-open probe.
	now = now.Add(61 * time.Second)
	assert.True(t, b.Allow())

	// A failed probe reopens immediately.
	b.RecordFailure()
	assert.False(t, b.Allow())

	// A successful probe closes the breaker.
	now = now.Add(61 * time.Second)
	require.True(t, b.Allow())
	b.RecordSuccess()
	assert.Equal(t, StateClosed, b.State())
	assert.True(t, b.Allow())
}

func TestBreakerSuccessResetsFailures(t *testing.T) {
	b := New("broker", 3, time.Minute)

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()

	assert.Equal(t, StateClosed, b.State(), "non-consecutive failures must not trip the breaker")
}

func TestBreakerSnapshotRoundTrip(t *testing.T) {
	b := New("execution", 2, time.Minute)
	b.RecordFailure()
	b.RecordFailure()

	snap := b.Snapshot()
	require.Equal(t, string(StateOpen), snap.State)
	require.Equal(t, 2, snap.Failures)

	restored := New("execution", 2, time.Minute)
	restored.Restore(snap)

	assert.Equal(t, snap, restored.Snapshot())
	assert.False(t, restored.Allow())
}

func TestBreakerReset(t *testing.T) {
	b := New("execution", 1, time.Hour)
	b.RecordFailure()
	require.False(t, b.Allow())

	b.Reset()
	assert.True(t, b.Allow())
	assert.Equal(t, StateClosed, b.State())
}
