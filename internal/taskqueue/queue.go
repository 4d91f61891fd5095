// Package taskqueue implements the execution substrate's advanced task
// queue (spec.md §4.C): a priority-and-delay-ordered backlog with
// structural-digest dedup and a blocking Dequeue that wakes on a timer
// derived from the current head's ready-at, instead of polling (spec.md §9
// "Polling removal").
package taskqueue

import (
	"context"
	"time"

	"github.com/octopusdb/octopus/internal/pqueue"
	"github.com/octopusdb/octopus/internal/reentrant"
	"github.com/octopusdb/octopus/pkg/types"
)

// Task is the record the queue stores: a command plus the submission-level
// metadata (priority, ready-at) that orders it (spec.md §3).
type Task struct {
	Command  types.Command
	Priority int64
	ReadyAt  time.Time
}

func (t Task) digest() string { return t.Command.Digest() }

// Queue is a thread-safe, dedup-aware, delay-and-priority task backlog.
// All mutating operations run under the queue's own reentrant mutex
// (component A), with a fresh owner token per call — no public method
// recurses into another while holding the lock, so this is an ordinary
// critical section; the reentrant type is kept so a future caller that
// *does* need to call back in (e.g. a wake callback invoked under lock)
// can do so without deadlocking.
type Queue struct {
	mu     *reentrant.Mutex
	heap   *pqueue.Heap[Task]
	dedup  map[string]struct{}
	notify chan struct{}
}

// New returns an empty task queue.
func New() *Queue {
	return &Queue{
		mu:     reentrant.New(),
		heap:   pqueue.New[Task](),
		dedup:  make(map[string]struct{}),
		notify: make(chan struct{}),
	}
}

// Enqueue computes the task's ready-at from delay and inserts it, keyed by
// the command's structural digest for dedup (I1). A structurally identical
// task already present is dropped silently and Enqueue returns false.
// Enqueue wakes a suspended Dequeue when the new task becomes the head with
// a ready-at at or before now, or reduces the earliest known ready-at.
func (q *Queue) Enqueue(cmd types.Command, priority int64, delay time.Duration) bool {
	readyAt := time.Now().Add(delay)
	task := Task{Command: cmd, Priority: priority, ReadyAt: readyAt}
	digest := task.digest()

	owner := new(struct{})
	q.mu.Lock(owner)
	defer q.mu.Unlock(owner)

	if _, exists := q.dedup[digest]; exists {
		return false
	}

	// Ready-at is keyed at millisecond resolution, so tasks enqueued within
	// the same millisecond are ordered by priority.
	prevKey, hadPrev := q.heap.PeekKey()
	key := pqueue.Key{Major: readyAt.UnixMilli(), Minor: priority}
	q.heap.Push(task, key)
	q.dedup[digest] = struct{}{}

	if !hadPrev || key.Less(prevKey) {
		q.wakeLocked()
	}
	return true
}

// wakeLocked must be called while holding mu. It wakes every goroutine
// currently suspended in Dequeue; each re-evaluates the head under the
// lock, so only the one for which a task is actually ready claims it and
// the rest re-suspend — net effect matches "wake one" (spec.md §4.C).
func (q *Queue) wakeLocked() {
	close(q.notify)
	q.notify = make(chan struct{})
}

// attempt pops the head if it is ready, otherwise reports the channel and
// duration the caller should wait on before trying again.
func (q *Queue) attempt() (task Task, ok bool, waitCh chan struct{}, waitDur time.Duration, hasTimer bool) {
	owner := new(struct{})
	q.mu.Lock(owner)
	defer q.mu.Unlock(owner)

	key, has := q.heap.PeekKey()
	if !has {
		return Task{}, false, q.notify, 0, false
	}

	now := time.Now().UnixMilli()
	if key.Major <= now {
		t, _ := q.heap.Pop()
		delete(q.dedup, t.digest())
		return t, true, nil, 0, false
	}

	return Task{}, false, q.notify, time.Duration(key.Major-now) * time.Millisecond, true
}

// TryDequeue returns the earliest ready task without blocking, or
// (Task{}, false) if the head (if any) is not yet ready.
func (q *Queue) TryDequeue() (Task, bool) {
	t, ok, _, _, _ := q.attempt()
	return t, ok
}

// Dequeue blocks until the earliest task becomes ready or ctx is done. If a
// new, earlier task is enqueued while waiting, Dequeue wakes and
// re-evaluates immediately rather than waiting out its original timer.
func (q *Queue) Dequeue(ctx context.Context) (Task, error) {
	for {
		t, ok, waitCh, waitDur, hasTimer := q.attempt()
		if ok {
			return t, nil
		}

		if hasTimer {
			timer := time.NewTimer(waitDur)
			select {
			case <-waitCh:
				timer.Stop()
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return Task{}, ctx.Err()
			}
		} else {
			select {
			case <-waitCh:
			case <-ctx.Done():
				return Task{}, ctx.Err()
			}
		}
	}
}

// Size reports the number of tasks currently held, ready or not.
func (q *Queue) Size() int {
	owner := new(struct{})
	q.mu.Lock(owner)
	defer q.mu.Unlock(owner)
	return q.heap.Len()
}

// Remove drops a pending task matching cmd's digest if still present,
// returning whether it removed anything. Used for dispatch cancellation
// (spec.md §5): a caller may cancel a Future before the task is claimed.
func (q *Queue) Remove(cmd types.Command) bool {
	digest := cmd.Digest()

	owner := new(struct{})
	q.mu.Lock(owner)
	defer q.mu.Unlock(owner)

	if _, exists := q.dedup[digest]; !exists {
		return false
	}

	// No direct by-key removal on pqueue.Heap; drain-and-rebuild is simple
	// and correct for the bounded backlog sizes this substrate targets.
	var kept []Task
	for {
		t, ok := q.heap.Pop()
		if !ok {
			break
		}
		if t.digest() == digest {
			continue
		}
		kept = append(kept, t)
	}
	for _, t := range kept {
		key := pqueue.Key{Major: t.ReadyAt.UnixMilli(), Minor: t.Priority}
		q.heap.Push(t, key)
	}
	delete(q.dedup, digest)
	return true
}
