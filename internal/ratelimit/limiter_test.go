package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAllowDeniesOverLimit(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	l := NewWithClock(func() time.Time { return now })

	for i := 0; i < 3; i++ {
		res := l.Allow("k", 3, time.Minute)
		assert.True(t, res.Allowed, "request %d should pass", i+1)
		assert.Equal(t, 2-i, res.Remaining)
	}

	res := l.Allow("k", 3, time.Minute)
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
	assert.Equal(t, now.Add(time.Minute), res.ResetAt)
}

func TestAllowResetsAfterWindow(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	l := NewWithClock(func() time.Time { return now })

	for i := 0; i < 4; i++ {
		l.Allow("k", 3, time.Minute)
	}

	now = now.Add(time.Minute + time.Second)
	res := l.Allow("k", 3, time.Minute)
	assert.True(t, res.Allowed)
	assert.Equal(t, 2, res.Remaining)
	assert.Equal(t, now.Add(time.Minute), res.ResetAt)
}

func TestKeysAreIndependent(t *testing.T) {
	l := New()
	l.Allow("a", 1, time.Minute)
	assert.False(t, l.Allow("a", 1, time.Minute).Allowed)
	assert.True(t, l.Allow("b", 1, time.Minute).Allowed)
}

func TestSweepReclaimsExpired(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	l := NewWithClock(func() time.Time { return now })

	l.Allow("old", 5, time.Minute)
	now = now.Add(2 * time.Minute)
	l.Allow("fresh", 5, time.Minute)

	l.Sweep()

	l.mu.Lock()
	_, hasOld := l.windows["old"]
	_, hasFresh := l.windows["fresh"]
	l.mu.Unlock()
	assert.False(t, hasOld)
	assert.True(t, hasFresh)
}

func TestAllowConcurrent(t *testing.T) {
	l := New()
	const workers = 32

	var wg sync.WaitGroup
	allowed := make(chan bool, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			allowed <- l.Allow("shared", 10, time.Minute).Allowed
		}()
	}
	wg.Wait()
	close(allowed)

	count := 0
	for ok := range allowed {
		if ok {
			count++
		}
	}
	assert.Equal(t, 10, count)
}
