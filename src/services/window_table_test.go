package services

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hyperio-mc/agent-talk/src/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindowTable_UpdateCreatesAndMutates(t *testing.T) {
	table := NewWindowTable(4)

	table.Update("a", func(e *models.RateWindowEntry) bool {
		assert.Equal(t, int64(0), e.Count)
		assert.True(t, e.WindowStart.IsZero())
		assert.Equal(t, "a", e.ScopeKey)
		e.Count = 3
		return false
	})

	e, ok := table.Get("a")
	require.True(t, ok)
	assert.Equal(t, int64(3), e.Count)
	assert.Equal(t, 1, table.Len())

	_, ok = table.Get("b")
	assert.False(t, ok)
	assert.Equal(t, 1, table.Len(), "Get must not create entries")
}

func TestWindowTable_UpdateCanRemove(t *testing.T) {
	table := NewWindowTable(4)
	table.Update("a", func(e *models.RateWindowEntry) bool { e.Count = 1; return false })
	table.Update("a", func(e *models.RateWindowEntry) bool { return true })

	_, ok := table.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, table.Len())
}

func TestWindowTable_Delete(t *testing.T) {
	table := NewWindowTable(0)
	table.Update("a", func(e *models.RateWindowEntry) bool { e.Count = 1; return false })
	table.Delete("a")
	table.Delete("missing")

	assert.Equal(t, 0, table.Len())
}

func TestWindowTable_ConcurrentIncrementsAreNotLost(t *testing.T) {
	table := NewWindowTable(8)
	const goroutines, perGoroutine = 50, 200

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				table.Update("hot", func(e *models.RateWindowEntry) bool {
					e.Count++
					return false
				})
			}
		}()
	}
	wg.Wait()

	e, ok := table.Get("hot")
	require.True(t, ok)
	assert.Equal(t, int64(goroutines*perGoroutine), e.Count)
}

func TestWindowTable_SweepRemovesOnlyExpired(t *testing.T) {
	table := NewWindowTable(8)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 100; i++ {
		start := now
		if i%2 == 0 {
			start = now.Add(-time.Hour)
		}
		table.Update(fmt.Sprintf("k%d", i), func(e *models.RateWindowEntry) bool {
			e.WindowStart = start
			e.Count = 1
			return false
		})
	}

	removed := table.Sweep(func(e *models.RateWindowEntry) bool {
		return e.Expired(now, 15*time.Minute)
	})

	assert.Equal(t, 50, removed)
	assert.Equal(t, 50, table.Len())
	_, ok := table.Get("k1")
	assert.True(t, ok)
	_, ok = table.Get("k0")
	assert.False(t, ok)
}

func TestWindowTable_SweepDuringUpdatesKeepsCounts(t *testing.T) {
	table := NewWindowTable(2)
	stop := make(chan struct{})
	var sweeps sync.WaitGroup
	sweeps.Add(1)
	go func() {
		defer sweeps.Done()
		for {
			select {
			case <-stop:
				return
			default:
				// Only zero-count entries are eligible, so live counters survive.
				table.Sweep(func(e *models.RateWindowEntry) bool { return e.Count == 0 })
			}
		}
	}()

	var wg sync.WaitGroup
	for g := 0; g < 20; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				table.Update("shared", func(e *models.RateWindowEntry) bool {
					e.Count++
					return false
				})
			}
		}()
	}
	wg.Wait()
	close(stop)
	sweeps.Wait()

	e, ok := table.Get("shared")
	require.True(t, ok)
	assert.Equal(t, int64(10000), e.Count)
}
