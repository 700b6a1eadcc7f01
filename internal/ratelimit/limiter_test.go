package ratelimit

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func fixedClock(l *Limiter, start time.Time) *time.Time {
	now := start
	l.now = func() time.Time { return now }
	return &now
}

func TestLimiter_BurstThenRefill(t *testing.T) {
	l := New(6, 2, 10) // one token every 10s
	now := fixedClock(l, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))

	assert.True(t, l.Allow("10.0.0.1"))
	assert.True(t, l.Allow("10.0.0.1"))
	assert.False(t, l.Allow("10.0.0.1"), "burst exhausted")

	*now = now.Add(10 * time.Second)
	assert.True(t, l.Allow("10.0.0.1"))
	assert.False(t, l.Allow("10.0.0.1"))
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	l := New(1, 1, 10)
	fixedClock(l, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))

	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))
	assert.True(t, l.Allow("b"))
}

func TestLimiter_EvictsLeastRecentlyUsed(t *testing.T) {
	l := New(1, 1, 2)
	fixedClock(l, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))

	assert.True(t, l.Allow("a"))
	assert.True(t, l.Allow("b"))
	// touch a so b becomes the oldest
	assert.False(t, l.Allow("a"))

	assert.True(t, l.Allow("c"))
	assert.Equal(t, 2, l.Len())

	// a survived with its bucket drained
	assert.False(t, l.Allow("a"))
	// b was evicted, so it starts with a fresh bucket; this evicts c
	assert.True(t, l.Allow("b"))
	assert.Equal(t, 2, l.Len())
}

func TestLimiter_Bounded(t *testing.T) {
	l := New(60, 1, 100)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				l.Allow(fmt.Sprintf("%d-%d", i, j))
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 100, l.Len())
}
