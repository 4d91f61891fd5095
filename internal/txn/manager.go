// Package txn implements the transaction manager and transaction
// (spec.md §4.G): batched, serial grouping of operations under a single
// owner, backed by the execution substrate's reentrant mutex. Grounded on
// the Begin/Commit/Done lifecycle shape of
// other_examples/dborchard-tiny-txn__type.go's Scheduler/Transaction
// interfaces, reworked around spec.md's single shared serialization lock
// rather than a channel-driven executor goroutine.
package txn

import (
	"fmt"
	"sync"

	"github.com/octopusdb/octopus/internal/reentrant"
	"github.com/octopusdb/octopus/pkg/types"
)

// Op is one operation queued inside a transaction. Its result is
// discarded by Commit except for the error, which aborts the batch.
type Op func() (any, error)

// Transaction is a per-owner ordered batch of operations. A Transaction
// holds the manager's shared reentrant mutex from the moment Start returns
// until Commit or Rollback releases it — spec.md §8 scenario 6: a second
// Start blocks until the first transaction ends.
type Transaction struct {
	id  uint64
	mgr *Manager

	mu        sync.Mutex
	ops       []Op
	committed bool
}

// ID reports this transaction's manager-assigned identity.
func (t *Transaction) ID() uint64 { return t.id }

// Add appends op to the transaction's batch. Rejected with
// AlreadyCommitted if the transaction has already committed.
func (t *Transaction) Add(op Op) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.committed {
		return types.ErrAlreadyCommitted
	}
	t.ops = append(t.ops, op)
	return nil
}

// Commit runs this transaction through its manager. A transaction that has
// already committed is rejected with AlreadyCommitted.
func (t *Transaction) Commit() error {
	if t.isCommitted() {
		return types.ErrAlreadyCommitted
	}
	return t.mgr.Commit(t.id)
}

// Rollback runs this transaction through its manager. A transaction that
// has already committed is rejected with AlreadyCommitted.
func (t *Transaction) Rollback() error {
	if t.isCommitted() {
		return types.ErrAlreadyCommitted
	}
	return t.mgr.Rollback(t.id)
}

func (t *Transaction) isCommitted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.committed
}

// Manager allocates, tracks, and serializes transactions. All
// transactions share mu: exactly one may be open (between Start and
// Commit/Rollback) at a time system-wide.
type Manager struct {
	mu *reentrant.Mutex

	regMu    sync.Mutex
	registry map[uint64]*Transaction
	nextID   uint64
}

// New returns a transaction manager with no open transactions.
func New() *Manager {
	return &Manager{
		mu:       reentrant.New(),
		registry: make(map[uint64]*Transaction),
	}
}

// Start allocates a new transaction with a monotonically increasing id and
// immediately acquires the manager's shared mutex on its behalf, blocking
// until any transaction already open has committed or rolled back.
func (m *Manager) Start() *Transaction {
	m.regMu.Lock()
	id := m.nextID
	m.nextID++
	m.regMu.Unlock()

	tx := &Transaction{id: id, mgr: m}
	m.mu.Lock(tx)

	m.regMu.Lock()
	m.registry[id] = tx
	m.regMu.Unlock()

	return tx
}

func (m *Manager) lookup(id uint64) (*Transaction, error) {
	m.regMu.Lock()
	defer m.regMu.Unlock()
	tx, ok := m.registry[id]
	if !ok {
		return nil, fmt.Errorf("txn: no open transaction with id %d", id)
	}
	return tx, nil
}

func (m *Manager) deregister(id uint64) {
	m.regMu.Lock()
	delete(m.registry, id)
	m.regMu.Unlock()
}

// Commit marks tx committed, runs its operations sequentially (each
// awaited before the next), and releases the manager's mutex whether or
// not they succeed. If an operation fails, Commit clears the remaining
// batch and re-raises the underlying error; it does not invoke the public
// Rollback path, which is reserved for pre-commit aborts.
func (m *Manager) Commit(id uint64) error {
	tx, err := m.lookup(id)
	if err != nil {
		return err
	}

	tx.mu.Lock()
	if tx.committed {
		tx.mu.Unlock()
		return types.ErrAlreadyCommitted
	}
	tx.committed = true
	ops := tx.ops
	tx.ops = nil
	tx.mu.Unlock()

	var runErr error
	for _, op := range ops {
		if _, err := op(); err != nil {
			runErr = err
			break
		}
	}

	m.deregister(id)
	m.mu.Unlock(tx)
	return runErr
}

// Rollback clears tx's batch (no compensation for any already-run
// operation, since none has run pre-commit) and releases the manager's
// mutex. Illegal after commit.
func (m *Manager) Rollback(id uint64) error {
	tx, err := m.lookup(id)
	if err != nil {
		return err
	}

	tx.mu.Lock()
	if tx.committed {
		tx.mu.Unlock()
		return types.ErrAlreadyCommitted
	}
	tx.ops = nil
	tx.mu.Unlock()

	m.deregister(id)
	m.mu.Unlock(tx)
	return nil
}
