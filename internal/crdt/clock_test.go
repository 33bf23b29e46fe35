package crdt

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLamportClock(t *testing.T) {
	clock := NewLamportClock("instance-1")

	require.NotNil(t, clock)
	assert.Equal(t, int64(0), clock.Now())
	assert.Equal(t, "instance-1", clock.NodeID())
}

func TestNewLamportClock_EmptyNodeIDGetsUUID(t *testing.T) {
	clock := NewLamportClock("")
	assert.NotEmpty(t, clock.NodeID())
}

func TestLamportClock_Tick(t *testing.T) {
	clock := NewLamportClock("n")

	assert.Equal(t, int64(1), clock.Tick())
	assert.Equal(t, int64(2), clock.Tick())
	assert.Equal(t, int64(2), clock.Now())
}

func TestLamportClock_Observe(t *testing.T) {
	clock := NewLamportClock("n")
	clock.Tick() // counter = 1

	// Удаленный timestamp больше локального: counter = max(1, 10) + 1
	assert.Equal(t, int64(11), clock.Observe(10))

	// Удаленный timestamp меньше локального: counter = max(11, 3) + 1
	assert.Equal(t, int64(12), clock.Observe(3))
}

func TestLamportClock_RestoreNeverRewinds(t *testing.T) {
	clock := NewLamportClock("n")
	clock.Restore(100)
	assert.Equal(t, int64(100), clock.Now())

	clock.Restore(50)
	assert.Equal(t, int64(100), clock.Now(), "restore must not rewind the counter")
}

func TestLamportClock_ConcurrentTick(t *testing.T) {
	clock := NewLamportClock("n")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				clock.Tick()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1000), clock.Now())
}
