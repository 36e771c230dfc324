package dedup

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_BeginCompleteBlocksRepeat(t *testing.T) {
	c := New(10)

	require.True(t, c.Begin("sig1"))
	assert.True(t, c.InFlight("sig1"))
	assert.False(t, c.Begin("sig1"), "in-flight signature must be rejected")

	c.Complete("sig1")
	assert.False(t, c.InFlight("sig1"))
	assert.True(t, c.Contains("sig1"))
	assert.False(t, c.Begin("sig1"), "classified signature must be rejected")
}

func TestCache_AbandonMakesRetryable(t *testing.T) {
	c := New(10)

	require.True(t, c.Begin("sig1"))
	c.Abandon("sig1")

	assert.False(t, c.Contains("sig1"))
	assert.False(t, c.InFlight("sig1"))
	assert.True(t, c.Begin("sig1"), "abandoned signature must be retryable")
}

func TestCache_AbandonRemovesCompletedEntry(t *testing.T) {
	c := New(10)
	c.Add("sig1")
	c.Abandon("sig1")
	assert.False(t, c.Contains("sig1"))
	assert.Equal(t, 0, c.Len())
}

func TestCache_FIFOEviction(t *testing.T) {
	c := New(3)
	for i := 1; i <= 5; i++ {
		c.Add(fmt.Sprintf("sig%d", i))
		assert.LessOrEqual(t, c.Len(), 3)
	}

	assert.Equal(t, 3, c.Len())
	assert.False(t, c.Contains("sig1"))
	assert.False(t, c.Contains("sig2"))
	assert.True(t, c.Contains("sig3"))
	assert.True(t, c.Contains("sig5"))
	assert.Equal(t, uint64(2), c.Evicted())
}

func TestCache_AddIsIdempotent(t *testing.T) {
	c := New(2)
	c.Add("a")
	c.Add("a")
	c.Add("b")
	assert.Equal(t, 2, c.Len())
	assert.True(t, c.Contains("a"))
}

func TestCache_DefaultCapacity(t *testing.T) {
	assert.Equal(t, DefaultCapacity, New(0).Capacity())
}

func TestCache_ConcurrentBeginSingleWinner(t *testing.T) {
	c := New(100)

	var winners atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.Begin("hot") {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load())
}

func TestCache_NeverExceedsCapacityUnderConcurrency(t *testing.T) {
	c := New(50)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				sig := fmt.Sprintf("g%d-%d", g, i)
				if c.Begin(sig) {
					c.Complete(sig)
				}
			}
		}(g)
	}
	wg.Wait()

	assert.Equal(t, 50, c.Len())
}
