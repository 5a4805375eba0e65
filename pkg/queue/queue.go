// Package queue implements the FIFO command queue described in spec.md
// §4.1: out-of-band decision commands flow in via Enqueue, and the
// Executor's decision loops take them with Await, which must never
// busy-wait. The queue has no capacity limit.
//
// Grounded on the channel-per-waiter rendezvous in
// v2/task/awaiter.go (WaitForInput/ProvideInput), generalized from "one
// channel per task id" to a single shared FIFO so that concurrent Await
// callers each receive a distinct command in enqueue order (spec.md §8
// property 3).
package queue

import (
	"container/list"
	"sync"
	"time"
)

// Stats reports cumulative queue activity. It is returned by value so
// callers cannot mutate the Queue's internal counters.
type Stats struct {
	TotalCommands     int
	ProcessedCommands int
}

// Queue is a FIFO of DecisionCommand, safe for concurrent use by many
// enqueuers and many awaiters. It is unbounded: Enqueue keeps every valid
// command, however many are already queued.
type Queue struct {
	mu      sync.Mutex
	items   *list.List          // queued DecisionCommand, FIFO
	waiters *list.List          // waiting chan DecisionCommand, FIFO, oldest first
	stats   Stats
}

// New creates an empty command queue.
func New() *Queue {
	return &Queue{
		items:   list.New(),
		waiters: list.New(),
	}
}

// Enqueue appends cmd to the tail of the queue. It never blocks.
//
// Invalid commands (those failing DecisionCommand.Validate) are silently
// dropped, per spec.md §7 ("Command-invalid is silently ignored") — bad
// external input must never crash or wedge the engine.
func (q *Queue) Enqueue(cmd DecisionCommand) {
	if err := cmd.Validate(); err != nil {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.stats.TotalCommands++

	if front := q.waiters.Front(); front != nil {
		q.waiters.Remove(front)
		ch := front.Value.(chan DecisionCommand)
		ch <- cmd // buffered size 1; never blocks
		q.stats.ProcessedCommands++
		return
	}

	q.items.PushBack(cmd)
}

// Await returns the head command as soon as one is available, or reports
// ok=false once timeout elapses without consuming anything. A preloaded
// command (enqueued before Await was called) is returned immediately with
// no wait at all — the race-free-preload property from spec.md §4.1.
//
// Await relies entirely on channel receive/select, never on polled
// sleeping, so a 1000ms timeout on an empty queue consumes a single timer
// wakeup and negligible CPU time (spec.md §8 property 4).
func (q *Queue) Await(timeout time.Duration) (DecisionCommand, bool) {
	q.mu.Lock()
	if front := q.items.Front(); front != nil {
		q.items.Remove(front)
		q.stats.ProcessedCommands++
		cmd := front.Value.(DecisionCommand)
		q.mu.Unlock()
		return cmd, true
	}

	ch := make(chan DecisionCommand, 1)
	elem := q.waiters.PushBack(ch)
	q.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case cmd := <-ch:
		return cmd, true
	case <-timer.C:
		q.mu.Lock()
		// Remove our waiter slot if it is still pending. If it was
		// already removed by a concurrent Enqueue, that Enqueue is in
		// the middle of (or has finished) sending on ch — drain it so
		// the command is not lost.
		stillWaiting := removeWaiter(q.waiters, elem)
		q.mu.Unlock()

		if !stillWaiting {
			cmd := <-ch
			return cmd, true
		}
		return DecisionCommand{}, false
	}
}

// removeWaiter removes elem from waiters if still present, reporting
// whether it removed it (true) or the element was already gone (false).
func removeWaiter(waiters *list.List, elem *list.Element) bool {
	for e := waiters.Front(); e != nil; e = e.Next() {
		if e == elem {
			waiters.Remove(e)
			return true
		}
	}
	return false
}

// Process drains all currently queued commands without blocking. Commands
// that were already claimed by a pending Await are not included.
func (q *Queue) Process() []DecisionCommand {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.items.Len() == 0 {
		return nil
	}

	out := make([]DecisionCommand, 0, q.items.Len())
	for e := q.items.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(DecisionCommand))
	}
	q.items.Init()
	q.stats.ProcessedCommands += len(out)
	return out
}

// Stats returns a snapshot of cumulative queue activity.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats
}
