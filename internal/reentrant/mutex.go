// Package reentrant implements the execution substrate's reentrant mutex
// (spec.md §4.A): a mutual-exclusion primitive that lets its current owner
// re-acquire without blocking, while other contenders queue up FIFO.
package reentrant

import (
	"sync"

	"github.com/octopusdb/octopus/pkg/types"
)

// waiter is a single FIFO queue entry: the owner token it will hold once
// woken, and the channel the releasing goroutine closes to hand off.
type waiter struct {
	owner any
	ch    chan struct{}
}

// Mutex is a reentrant lock keyed by an opaque, comparable owner token.
// Callers that want reentrancy must pass the same token on every Lock/Unlock
// call for a given logical owner (an execution context id, a transaction,
// ...); distinct tokens contend for the lock like any mutex.
type Mutex struct {
	mu      sync.Mutex
	held    bool
	owner   any
	count   int
	waiters []*waiter
}

// New returns an unheld reentrant mutex.
func New() *Mutex {
	return &Mutex{}
}

// Lock acquires the mutex for owner. If owner already holds it, Lock returns
// immediately and increments the hold count (I6). Otherwise the caller
// blocks until it becomes the holder, queued in FIFO order behind any other
// waiting owners.
func (m *Mutex) Lock(owner any) {
	m.mu.Lock()
	if !m.held {
		m.held = true
		m.owner = owner
		m.count = 1
		m.mu.Unlock()
		return
	}
	if m.owner == owner {
		m.count++
		m.mu.Unlock()
		return
	}

	w := &waiter{owner: owner, ch: make(chan struct{})}
	m.waiters = append(m.waiters, w)
	m.mu.Unlock()

	<-w.ch // ownership is transferred to us by the releasing Unlock call
}

// TryLock attempts to acquire the mutex for owner without blocking. It
// succeeds immediately if the mutex is free or already held by owner.
func (m *Mutex) TryLock(owner any) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.held {
		m.held = true
		m.owner = owner
		m.count = 1
		return true
	}
	if m.owner == owner {
		m.count++
		return true
	}
	return false
}

// Unlock releases exactly one acquisition held by owner. If the hold count
// reaches zero and another owner is waiting, that owner becomes the new
// holder with count 1 (no spurious handoff: the mutex never passes through
// a free state with a non-empty wait queue). Unlock by a non-owner returns
// ErrNotOwner and leaves the mutex unchanged.
func (m *Mutex) Unlock(owner any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.held || m.owner != owner {
		return types.ErrNotOwner
	}

	m.count--
	if m.count > 0 {
		return nil
	}

	if len(m.waiters) > 0 {
		next := m.waiters[0]
		m.waiters = m.waiters[1:]
		m.owner = next.owner
		m.count = 1
		close(next.ch)
		return nil
	}

	m.held = false
	m.owner = nil
	return nil
}

// HolderCount reports the current owner's hold count, or 0 if free. Intended
// for tests and diagnostics, not for synchronization decisions.
func (m *Mutex) HolderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count
}
