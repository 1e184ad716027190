package validation

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breakoutlab/tradecore/internal/domain"
)

func TestVerdictCacheTTLExpiry(t *testing.T) {
	c := NewVerdictCache(5*time.Minute, 10)

	now := time.Now()
	c.setClock(func() time.Time { return now })

	c.Put("fp", domain.ValidationVerdict{Approved: true, Confidence: 0.9})

	got, ok := c.Get("fp")
	require.True(t, ok)
	assert.True(t, got.Approved)

	now = now.Add(5*time.Minute + time.Second)
	_, ok = c.Get("fp")
	assert.False(t, ok, "entry past TTL must not be served")
	assert.Equal(t, 0, c.Len(), "expired entry is removed on access")
}

func TestVerdictCacheEvictsOldest(t *testing.T) {
	c := NewVerdictCache(time.Hour, 3)

	for i := 0; i < 3; i++ {
		c.Put(fmt.Sprintf("fp-%d", i), domain.ValidationVerdict{Confidence: float64(i)})
	}

	// Touch fp-0 so fp-1 becomes the least recently used.
	_, ok := c.Get("fp-0")
	require.True(t, ok)

	c.Put("fp-3", domain.ValidationVerdict{Confidence: 3})

	_, ok = c.Get("fp-1")
	assert.False(t, ok, "least recently used entry should be evicted")
	_, ok = c.Get("fp-0")
	assert.True(t, ok)
	assert.Equal(t, 3, c.Len())
}

func TestVerdictCacheOverwriteRestartsTTL(t *testing.T) {
	c := NewVerdictCache(time.Minute, 10)

	now := time.Now()
	c.setClock(func() time.Time { return now })

	c.Put("fp", domain.ValidationVerdict{Confidence: 0.5})
	now = now.Add(50 * time.Second)
	c.Put("fp", domain.ValidationVerdict{Confidence: 0.8})
	now = now.Add(30 * time.Second)

	got, ok := c.Get("fp")
	require.True(t, ok, "TTL restarts on overwrite")
	assert.Equal(t, 0.8, got.Confidence)
}
