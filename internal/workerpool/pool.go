// Package workerpool implements the execution substrate's worker pool
// (spec.md §4.F): lifecycle of execution contexts, OCC-guarded dispatch,
// backlog coordination through the advanced task queue, and crash/exit
// recovery. Adapted from the channel-plus-WaitGroup shape of
// internal/worker/worker_pool.go and internal/worker/worker.go, with the
// dispatch decision itself (direct-to-idle-context vs. enqueue, OCC-guarded
// state transitions, explicit lowest-id selection) built new against
// spec.md's contract — the teacher's own pool hands work to whichever
// goroutine is free off a single shared channel and never needs to pick.
package workerpool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/octopusdb/octopus/internal/execctx"
	"github.com/octopusdb/octopus/internal/metrics"
	"github.com/octopusdb/octopus/internal/occ"
	"github.com/octopusdb/octopus/internal/reentrant"
	"github.com/octopusdb/octopus/internal/taskqueue"
	"github.com/octopusdb/octopus/pkg/types"
)

const maxDispatchRetries = 3

// DefaultMaxWorkers is used when New is called with maxWorkers == 0
// (spec.md §4.F: "default 8").
const DefaultMaxWorkers = 8

type job struct {
	cmd    types.Command
	future *Future
}

type workerHandle struct {
	id    uint32
	ctx   *execctx.Context
	jobCh chan job
	stopCh chan struct{}
}

// Pool owns a bounded set of execution contexts and dispatches commands to
// them, falling back to the advanced task queue when none are free.
type Pool struct {
	mu *reentrant.Mutex

	maxWorkers uint32
	nextID     uint32
	workers    map[uint32]*workerHandle
	available  map[uint32]struct{}
	occHandler *occ.Handler

	queue   *taskqueue.Queue
	pending map[string]*Future // digest -> future, for tasks waiting in queue

	shuttingDown bool
	freed        chan struct{}

	drainCtx    context.Context
	drainCancel context.CancelFunc
	wg          sync.WaitGroup

	metrics *metrics.Collector
}

// New builds a Pool with maxWorkers execution contexts already running
// (spec.md P2: workerCount() equals the configured value right after
// initialization). A nil collector disables metrics recording.
func New(maxWorkers uint32, collector *metrics.Collector) *Pool {
	if maxWorkers == 0 {
		maxWorkers = DefaultMaxWorkers
	}
	drainCtx, drainCancel := context.WithCancel(context.Background())

	p := &Pool{
		mu:          reentrant.New(),
		maxWorkers:  maxWorkers,
		workers:     make(map[uint32]*workerHandle),
		available:   make(map[uint32]struct{}),
		occHandler:  occ.New(),
		queue:       taskqueue.New(),
		pending:     make(map[string]*Future),
		freed:       make(chan struct{}),
		drainCtx:    drainCtx,
		drainCancel: drainCancel,
		metrics:     collector,
	}

	owner := new(struct{})
	p.mu.Lock(owner)
	for i := uint32(0); i < maxWorkers; i++ {
		p.spawnWorkerLocked()
	}
	p.reportMetricsLocked()
	p.mu.Unlock(owner)

	p.wg.Add(1)
	go p.drainLoop()

	return p
}

func (p *Pool) spawnWorkerLocked() {
	id := p.nextID
	p.nextID++
	w := &workerHandle{
		id:     id,
		ctx:    execctx.New(id),
		jobCh:  make(chan job),
		stopCh: make(chan struct{}),
	}
	p.workers[id] = w
	p.available[id] = struct{}{}
	p.occHandler.Register(id, types.StateIdle)

	p.wg.Add(1)
	go w.run(p)
}

func (p *Pool) lowestAvailableLocked(excluded map[uint32]struct{}) (uint32, bool) {
	var best uint32
	found := false
	for id := range p.available {
		if excluded != nil {
			if _, skip := excluded[id]; skip {
				continue
			}
		}
		if !found || id < best {
			best, found = id, true
		}
	}
	return best, found
}

func (p *Pool) reportMetricsLocked() {
	if p.metrics == nil {
		return
	}
	idle := len(p.available)
	busy := len(p.workers) - idle
	p.metrics.SetWorkerCounts(busy, idle)
	p.metrics.SetTaskQueueDepth(p.queue.Size())
}

// WorkerCount reports the number of execution contexts currently managed
// (running or about to be replaced), matching spec.md I4.
func (p *Pool) WorkerCount() int {
	owner := new(struct{})
	p.mu.Lock(owner)
	defer p.mu.Unlock(owner)
	return len(p.workers)
}

// QueueDepth reports the number of tasks currently waiting in the advanced
// task queue (not yet claimed by any execution context).
func (p *Pool) QueueDepth() int {
	return p.queue.Size()
}

// Dispatch ships cmd to an idle execution context immediately if one is
// available, otherwise enqueues it on the advanced task queue and returns a
// Future that settles once a context eventually claims and executes it
// (spec.md §4.F dispatch algorithm).
func (p *Pool) Dispatch(cmd types.Command, priority int64, delay time.Duration) (*Future, error) {
	owner := new(struct{})
	p.mu.Lock(owner)

	if p.shuttingDown {
		p.mu.Unlock(owner)
		return nil, types.ErrShuttingDown
	}

	excluded := make(map[uint32]struct{})
	for attempt := 0; attempt < maxDispatchRetries; attempt++ {
		id, ok := p.lowestAvailableLocked(excluded)
		if !ok {
			break
		}
		snap, _ := p.occHandler.Snapshot(id)
		_, err := p.occHandler.Perform(id, snap.Version, transitionToBusy)
		if err == nil {
			delete(p.available, id)
			w := p.workers[id]
			p.reportMetricsLocked()
			p.mu.Unlock(owner)

			future := newFuture(nil) // already claimed: not cancellable (spec.md §5)
			w.jobCh <- job{cmd: cmd, future: future}
			return future, nil
		}
		excluded[id] = struct{}{}
		if p.metrics != nil {
			p.metrics.RecordOCCConflict()
			p.metrics.RecordDispatchRetry()
		}
	}

	future := p.enqueueLocked(cmd, priority, delay)
	p.reportMetricsLocked()
	p.mu.Unlock(owner)
	return future, nil
}

// enqueueLocked must be called while holding mu. It implements the dedup
// contract: a structurally identical task already waiting shares the
// existing future rather than being silently dropped with no caller ever
// notified (spec.md I1, enqueue's idempotent-drop behavior, applied at the
// pool level since the pool — not the bare queue — owns futures).
func (p *Pool) enqueueLocked(cmd types.Command, priority int64, delay time.Duration) *Future {
	digest := cmd.Digest()
	if existing, ok := p.pending[digest]; ok {
		return existing
	}

	future := newFuture(func() bool {
		owner := new(struct{})
		p.mu.Lock(owner)
		defer p.mu.Unlock(owner)
		if !p.queue.Remove(cmd) {
			return false
		}
		delete(p.pending, digest)
		return true
	})
	p.queue.Enqueue(cmd, priority, delay)
	p.pending[digest] = future
	return future
}

// drainLoop claims ready tasks off the queue and assigns them to whichever
// execution context frees up next, waking on the freed-worker signal
// instead of polling (mirrors taskqueue's own timer-driven wake).
func (p *Pool) drainLoop() {
	defer p.wg.Done()

	for {
		task, err := p.queue.Dequeue(p.drainCtx)
		if err != nil {
			return
		}
		digest := task.Command.Digest()

		for {
			owner := new(struct{})
			p.mu.Lock(owner)

			if p.shuttingDown {
				future := p.pending[digest]
				delete(p.pending, digest)
				p.mu.Unlock(owner)
				if future != nil {
					future.resolve(Outcome{Err: types.ErrShuttingDown})
				}
				break
			}

			id, ok := p.lowestAvailableLocked(nil)
			if !ok {
				freed := p.freed
				p.mu.Unlock(owner)
				select {
				case <-freed:
					continue
				case <-p.drainCtx.Done():
					return
				}
			}

			snap, _ := p.occHandler.Snapshot(id)
			_, err := p.occHandler.Perform(id, snap.Version, transitionToBusy)
			if err != nil {
				p.mu.Unlock(owner)
				if p.metrics != nil {
					p.metrics.RecordOCCConflict()
					p.metrics.RecordDispatchRetry()
				}
				continue
			}

			delete(p.available, id)
			future := p.pending[digest]
			delete(p.pending, digest)
			w := p.workers[id]
			p.reportMetricsLocked()
			p.mu.Unlock(owner)

			if future == nil {
				future = newFuture(nil)
			}
			w.jobCh <- job{cmd: task.Command, future: future}
			break
		}
	}
}

// onWorkerIdle transitions id back to Idle via OCC and marks it available,
// then wakes anything waiting on a freed worker (the drain loop, or a
// future Dispatch retry).
func (p *Pool) onWorkerIdle(id uint32) {
	owner := new(struct{})
	p.mu.Lock(owner)
	snap, ok := p.occHandler.Snapshot(id)
	for ok {
		_, err := p.occHandler.Perform(id, snap.Version, transitionToIdle)
		if err == nil {
			break
		}
		snap, ok = p.occHandler.Snapshot(id)
	}
	if ok {
		p.available[id] = struct{}{}
	}
	p.reportMetricsLocked()
	freed := p.freed
	p.freed = make(chan struct{})
	p.mu.Unlock(owner)
	close(freed)
}

// onWorkerCrashed removes id's metadata, rejects any Future bound to it
// with WorkerCrashed, and replaces the context unless the pool is shutting
// down or already at capacity (spec.md §4.F abnormal exit handling, I4).
func (p *Pool) onWorkerCrashed(id uint32, future *Future, exitCode int) {
	owner := new(struct{})
	p.mu.Lock(owner)
	delete(p.workers, id)
	delete(p.available, id)
	p.occHandler.Deregister(id)
	shouldReplace := !p.shuttingDown && uint32(len(p.workers)) < p.maxWorkers
	if shouldReplace {
		p.spawnWorkerLocked()
	}
	p.reportMetricsLocked()
	freed := p.freed
	p.freed = make(chan struct{})
	p.mu.Unlock(owner)

	if future != nil {
		future.resolve(Outcome{Err: types.NewWorkerCrashedError(id, exitCode)})
	}
	close(freed)
}

// Shutdown stops accepting new work, drains the task queue (rejecting
// whatever is still waiting with ShuttingDown), signals every execution
// context to stop, and waits for all goroutines to exit.
func (p *Pool) Shutdown() {
	owner := new(struct{})
	p.mu.Lock(owner)
	if p.shuttingDown {
		p.mu.Unlock(owner)
		return
	}
	p.shuttingDown = true
	handles := make([]*workerHandle, 0, len(p.workers))
	for _, w := range p.workers {
		handles = append(handles, w)
	}
	pendingFutures := make([]*Future, 0, len(p.pending))
	for _, f := range p.pending {
		pendingFutures = append(pendingFutures, f)
	}
	p.pending = make(map[string]*Future)
	p.mu.Unlock(owner)

	p.drainCancel()
	for _, f := range pendingFutures {
		f.resolve(Outcome{Err: types.ErrShuttingDown})
	}
	for _, w := range handles {
		close(w.stopCh)
	}
	p.wg.Wait()
}

func transitionToBusy(m *types.WorkerMeta) (any, error) {
	m.State = types.StateBusy
	return nil, nil
}

func transitionToIdle(m *types.WorkerMeta) (any, error) {
	m.State = types.StateIdle
	return nil, nil
}

func (w *workerHandle) run(p *Pool) {
	defer p.wg.Done()
	for {
		var timerC <-chan time.Time
		var timer *time.Timer
		if dl, ok := w.ctx.NextDeadline(); ok {
			d := time.Until(dl)
			if d < 0 {
				d = 0
			}
			timer = time.NewTimer(d)
			timerC = timer.C
		}

		select {
		case j, ok := <-w.jobCh:
			if timer != nil {
				timer.Stop()
			}
			if !ok {
				return
			}
			result, err, crashed := safeExecute(w.ctx, j.cmd)
			if crashed {
				p.onWorkerCrashed(w.id, j.future, 1)
				return
			}
			if p.metrics != nil {
				p.metrics.RecordCommand(j.cmd.Kind, err)
			}
			// Mark the context idle before settling the future, so a caller
			// that dispatches its next command on return finds this context
			// available again (lowest-id selection).
			p.onWorkerIdle(w.id)
			j.future.resolve(Outcome{Value: result, Err: err})

		case <-timerC:
			expired := w.ctx.Sweep(time.Now())
			if p.metrics != nil {
				for range expired {
					p.metrics.RecordTTLEviction()
				}
			}

		case <-w.stopCh:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}

// safeExecute guards against a panicking command handler: Go's in-memory
// operations shouldn't panic under correct use, but treating one as an
// abnormal exit (rather than crashing the whole pool) matches spec.md
// §4.F's "context abnormal exit" recovery path.
func safeExecute(ctx *execctx.Context, cmd types.Command) (result any, err error, crashed bool) {
	defer func() {
		if r := recover(); r != nil {
			crashed = true
			err = fmt.Errorf("execctx: panic: %v", r)
		}
	}()
	result, err = ctx.Execute(cmd)
	return
}
