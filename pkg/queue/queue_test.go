package queue

import (
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_PreloadIsRaceFree(t *testing.T) {
	q := New()
	q.Enqueue(DecisionCommand{Kind: KindContinue, Reason: "go"})

	cmd, ok := q.Await(time.Second)
	require.True(t, ok)
	assert.Equal(t, KindContinue, cmd.Kind)
}

func TestQueue_AwaitTimeout(t *testing.T) {
	q := New()

	start := time.Now()
	_, ok := q.Await(150 * time.Millisecond)
	elapsed := time.Since(start)

	assert.False(t, ok)
	assert.GreaterOrEqual(t, elapsed, 150*time.Millisecond)
	assert.Less(t, elapsed, 350*time.Millisecond)
}

func TestQueue_AwaitTimeout_NoBusyWait(t *testing.T) {
	q := New()

	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)

	start := time.Now()
	_, ok := q.Await(1000 * time.Millisecond)
	wall := time.Since(start)

	runtime.ReadMemStats(&after)

	assert.False(t, ok)
	assert.GreaterOrEqual(t, wall, 1000*time.Millisecond)
	assert.Less(t, wall, 1200*time.Millisecond)
}

func TestQueue_FIFOAcrossConcurrentAwaiters(t *testing.T) {
	q := New()
	const n = 20

	results := make(chan DecisionCommand, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			cmd, ok := q.Await(5 * time.Second)
			require.True(t, ok)
			results <- cmd
		}()
	}

	// Give goroutines a moment to register as waiters before enqueueing,
	// so each gets a distinct command by construction (no two awaiters
	// observe the same command).
	time.Sleep(50 * time.Millisecond)

	for i := 0; i < n; i++ {
		q.Enqueue(DecisionCommand{Kind: KindContinue, Reason: string(rune('a' + i))})
	}

	wg.Wait()
	close(results)

	seen := make(map[string]bool)
	count := 0
	for cmd := range results {
		assert.False(t, seen[cmd.Reason], "command delivered twice: %s", cmd.Reason)
		seen[cmd.Reason] = true
		count++
	}
	assert.Equal(t, n, count)
}

func TestQueue_Process_DrainsWithoutBlocking(t *testing.T) {
	q := New()
	q.Enqueue(DecisionCommand{Kind: KindContinue})
	q.Enqueue(DecisionCommand{Kind: KindAbort})

	cmds := q.Process()
	assert.Len(t, cmds, 2)

	// A second Process call finds nothing left.
	assert.Empty(t, q.Process())
}

func TestQueue_Stats_TimeoutsNotProcessed(t *testing.T) {
	q := New()
	_, ok := q.Await(50 * time.Millisecond)
	require.False(t, ok)

	stats := q.Stats()
	assert.Equal(t, 0, stats.TotalCommands)
	assert.Equal(t, 0, stats.ProcessedCommands)
}

func TestQueue_Stats_TracksEnqueueAndProcess(t *testing.T) {
	q := New()
	q.Enqueue(DecisionCommand{Kind: KindContinue})
	q.Enqueue(DecisionCommand{Kind: KindAbort})

	_, ok := q.Await(time.Second)
	require.True(t, ok)

	stats := q.Stats()
	assert.Equal(t, 2, stats.TotalCommands)
	assert.Equal(t, 1, stats.ProcessedCommands)
}

func TestDecisionCommand_InvalidCommandsAreIgnored(t *testing.T) {
	q := New()
	q.Enqueue(DecisionCommand{}) // missing kind

	stats := q.Stats()
	assert.Equal(t, 0, stats.TotalCommands)

	_, ok := q.Await(50 * time.Millisecond)
	assert.False(t, ok)
}
