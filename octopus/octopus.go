// Package octopus is the command façade (spec.md §4.H): a process-wide
// singleton that maps its command methods onto worker pool dispatch and
// emits operation notifications once each dispatch settles.
package octopus

import (
	"net/http"
	"sync"

	"github.com/octopusdb/octopus/internal/metrics"
	"github.com/octopusdb/octopus/internal/txn"
	"github.com/octopusdb/octopus/internal/workerpool"
	"github.com/octopusdb/octopus/pkg/types"
)

// Listener observes a settled operation: the command kind, its key, and
// its result value (nil for commands with no meaningful return).
type Listener func(kind types.Kind, key string, value any)

// Octopus is the singleton command surface over the execution substrate.
type Octopus struct {
	pool    *workerpool.Pool
	txns    *txn.Manager
	metrics *metrics.Collector

	mu        sync.Mutex
	listeners map[string][]Listener
}

var (
	instanceMu sync.Mutex
	instance   *Octopus
)

// Instance returns the process-wide Octopus, constructing it on first call
// with maxWorkers execution contexts (0 defaults to workerpool.DefaultMaxWorkers).
// Every later call ignores maxWorkers and returns the existing instance
// (spec.md §4.H: "subsequent getInstance calls ignore the argument").
func Instance(maxWorkers uint32) *Octopus {
	instanceMu.Lock()
	defer instanceMu.Unlock()
	if instance != nil {
		return instance
	}
	collector := metrics.New()
	instance = &Octopus{
		pool:      workerpool.New(maxWorkers, collector),
		txns:      txn.New(),
		metrics:   collector,
		listeners: make(map[string][]Listener),
	}
	return instance
}

// resetForTest drops the singleton so a fresh one can be built. Confined to
// this package's own tests, which run against the real pool rather than a
// mock — there is no seam to fake the substrate through.
func resetForTest() {
	instanceMu.Lock()
	defer instanceMu.Unlock()
	if instance != nil {
		instance.pool.Shutdown()
	}
	instance = nil
}

// On registers listener for event. Only "operation" is emitted. Listeners
// must be registered before the operations they should observe run —
// emission is synchronous from the dispatching caller's perspective, not
// buffered or replayed.
func (o *Octopus) On(event string, listener Listener) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.listeners[event] = append(o.listeners[event], listener)
}

func (o *Octopus) emit(kind types.Kind, key string, value any) {
	o.mu.Lock()
	ls := append([]Listener(nil), o.listeners["operation"]...)
	o.mu.Unlock()
	for _, l := range ls {
		l(kind, key, value)
	}
}

// dispatch runs cmd through the pool, waits for it to settle, and — only on
// success — emits the operation event (spec.md §4.H: "AFTER the dispatch
// future resolves successfully").
func (o *Octopus) dispatch(cmd types.Command) (any, error) {
	future, err := o.pool.Dispatch(cmd, 0, 0)
	if err != nil {
		return nil, err
	}
	outcome := future.Wait()
	if outcome.Err != nil {
		return nil, outcome.Err
	}
	o.emit(cmd.Kind, cmd.Key, outcome.Value)
	return outcome.Value, nil
}

// Set stores value as a string under key.
func (o *Octopus) Set(key, value string) (any, error) {
	return o.dispatch(types.Command{Kind: types.KindSet, Key: key, Value: value, HasValue: true})
}

// Get returns key's value, or nil if absent.
func (o *Octopus) Get(key string) (any, error) {
	return o.dispatch(types.Command{Kind: types.KindGet, Key: key})
}

// Del removes key, returning 1 if it existed, 0 otherwise.
func (o *Octopus) Del(key string) (any, error) {
	return o.dispatch(types.Command{Kind: types.KindDel, Key: key})
}

// Exists reports whether key is present (1) or not (0).
func (o *Octopus) Exists(key string) (any, error) {
	return o.dispatch(types.Command{Kind: types.KindExists, Key: key})
}

// Incr increments key's integer value by 1, initializing absent keys at 0.
func (o *Octopus) Incr(key string) (any, error) {
	return o.dispatch(types.Command{Kind: types.KindIncr, Key: key})
}

// Decr decrements key's integer value by 1, initializing absent keys at 0.
func (o *Octopus) Decr(key string) (any, error) {
	return o.dispatch(types.Command{Kind: types.KindDecr, Key: key})
}

// Expire sets key to expire after ttlSeconds, returning 1 if key exists.
func (o *Octopus) Expire(key string, ttlSeconds int64) (any, error) {
	return o.dispatch(types.Command{Kind: types.KindExpire, Key: key, TTLSeconds: ttlSeconds})
}

// TTL returns the seconds remaining before key expires, or -1 if key has
// no active deadline.
func (o *Octopus) TTL(key string) (any, error) {
	return o.dispatch(types.Command{Kind: types.KindTTL, Key: key})
}

// Persist cancels any pending deadline on key.
func (o *Octopus) Persist(key string) (any, error) {
	return o.dispatch(types.Command{Kind: types.KindPersist, Key: key})
}

// LPush prepends value to the list at key, returning the new length.
func (o *Octopus) LPush(key, value string) (any, error) {
	return o.dispatch(types.Command{Kind: types.KindLPush, Key: key, Value: value, HasValue: true})
}

// RPush appends value to the list at key, returning the new length.
func (o *Octopus) RPush(key, value string) (any, error) {
	return o.dispatch(types.Command{Kind: types.KindRPush, Key: key, Value: value, HasValue: true})
}

// LPop removes and returns the head of the list at key, or nil if empty or absent.
func (o *Octopus) LPop(key string) (any, error) {
	return o.dispatch(types.Command{Kind: types.KindLPop, Key: key})
}

// RPop removes and returns the tail of the list at key, or nil if empty or absent.
func (o *Octopus) RPop(key string) (any, error) {
	return o.dispatch(types.Command{Kind: types.KindRPop, Key: key})
}

// SAdd adds value to the set at key, returning the set's new cardinality.
func (o *Octopus) SAdd(key, value string) (any, error) {
	return o.dispatch(types.Command{Kind: types.KindSAdd, Key: key, Value: value, HasValue: true})
}

// SRem removes value from the set at key, returning 1 if it was present.
func (o *Octopus) SRem(key, value string) (any, error) {
	return o.dispatch(types.Command{Kind: types.KindSRem, Key: key, Value: value, HasValue: true})
}

// SMembers returns all members of the set at key as a slice of strings.
func (o *Octopus) SMembers(key string) (any, error) {
	return o.dispatch(types.Command{Kind: types.KindSMembers, Key: key})
}

// StartTransaction begins a new transaction (spec.md §4.G /
// TransactionManager.start()). A concurrent call from another goroutine
// blocks until this transaction commits or rolls back.
func (o *Octopus) StartTransaction() *txn.Transaction {
	return o.txns.Start()
}

// CommitTransaction commits the transaction with the given id.
func (o *Octopus) CommitTransaction(id uint64) error {
	err := o.txns.Commit(id)
	if err == nil {
		o.metrics.RecordTransactionCommit()
	} else {
		o.metrics.RecordTransactionRollback()
	}
	return err
}

// RollbackTransaction rolls back the transaction with the given id.
func (o *Octopus) RollbackTransaction(id uint64) error {
	err := o.txns.Rollback(id)
	if err == nil {
		o.metrics.RecordTransactionRollback()
	}
	return err
}

// Metrics exposes the Prometheus handler for this instance's collector.
func (o *Octopus) Metrics() http.Handler {
	return o.metrics.Handler()
}

// WorkerCount reports the number of execution contexts currently managed.
func (o *Octopus) WorkerCount() int {
	return o.pool.WorkerCount()
}

// Shutdown stops the underlying worker pool. Commands still waiting in its
// task queue are not run; their futures settle with ShuttingDown.
func (o *Octopus) Shutdown() {
	o.pool.Shutdown()
}
