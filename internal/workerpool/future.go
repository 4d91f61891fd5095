package workerpool

import (
	"sync"

	"github.com/octopusdb/octopus/pkg/types"
)

// Outcome is a settled Future's result: either Value or Err is meaningful,
// matching the result shapes execctx.Context.Execute returns.
type Outcome struct {
	Value any
	Err   error
}

// Future represents a dispatched command's eventual result (spec.md §4.F:
// dispatch returns a Future<Result>). It settles exactly once, either by
// the worker that executes the task or by Cancel if the task is still
// waiting in the backlog.
type Future struct {
	mu       sync.Mutex
	done     chan struct{}
	outcome  Outcome
	settled  bool
	cancelFn func() bool
}

func newFuture(cancelFn func() bool) *Future {
	return &Future{done: make(chan struct{}), cancelFn: cancelFn}
}

// Wait blocks until the future settles and returns its outcome.
func (f *Future) Wait() Outcome {
	<-f.done
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.outcome
}

// Done returns a channel closed once the future settles, for callers that
// want to select alongside other events.
func (f *Future) Done() <-chan struct{} { return f.done }

// resolve settles the future with outcome, if not already settled.
func (f *Future) resolve(outcome Outcome) {
	f.mu.Lock()
	if f.settled {
		f.mu.Unlock()
		return
	}
	f.settled = true
	f.outcome = outcome
	f.mu.Unlock()
	close(f.done)
}

// Cancel attempts to remove the still-queued task backing this future and
// settle it with Cancelled. Returns false if the task was already claimed
// by a worker (too late to cancel) or the future already settled.
func (f *Future) Cancel() bool {
	f.mu.Lock()
	if f.settled {
		f.mu.Unlock()
		return false
	}
	f.mu.Unlock()

	if f.cancelFn == nil || !f.cancelFn() {
		return false
	}
	f.resolve(Outcome{Err: types.ErrCancelled})
	return true
}
