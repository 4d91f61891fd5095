package workerpool

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/octopusdb/octopus/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setCmd(key, value string) types.Command {
	return types.Command{Kind: types.KindSet, Key: key, Value: value}
}

// TestDefaultWorkerCount is P2.
func TestDefaultWorkerCount(t *testing.T) {
	p := New(0, nil)
	defer p.Shutdown()
	assert.Equal(t, DefaultMaxWorkers, p.WorkerCount())
}

func TestConfiguredWorkerCount(t *testing.T) {
	p := New(3, nil)
	defer p.Shutdown()
	assert.Equal(t, 3, p.WorkerCount())
}

func TestDispatchDirectWhenIdle(t *testing.T) {
	p := New(2, nil)
	defer p.Shutdown()

	future, err := p.Dispatch(setCmd("k", "v"), 0, 0)
	require.NoError(t, err)

	outcome := future.Wait()
	require.NoError(t, outcome.Err)
	assert.Equal(t, "OK", outcome.Value)
}

func TestDispatchGetAfterSet(t *testing.T) {
	p := New(1, nil)
	defer p.Shutdown()

	f1, _ := p.Dispatch(setCmd("k", "v"), 0, 0)
	require.NoError(t, f1.Wait().Err)

	f2, _ := p.Dispatch(types.Command{Kind: types.KindGet, Key: "k"}, 0, 0)
	outcome := f2.Wait()
	require.NoError(t, outcome.Err)
	assert.Equal(t, "v", outcome.Value)
}

// TestScenario5BacklogDrains is spec.md §8 scenario 5: 16 distinct commands
// against an 8-worker pool — 8 execute immediately, 8 queue and drain as
// contexts free up.
func TestScenario5BacklogDrains(t *testing.T) {
	p := New(8, nil)
	defer p.Shutdown()

	const n = 16
	futures := make([]*Future, n)
	for i := 0; i < n; i++ {
		f, err := p.Dispatch(setCmd(fmt.Sprintf("k%d", i), fmt.Sprintf("v%d", i)), 0, 0)
		require.NoError(t, err)
		futures[i] = f
	}

	for i, f := range futures {
		select {
		case <-f.Done():
			outcome := f.Wait()
			require.NoError(t, outcome.Err, "command %d", i)
			assert.Equal(t, "OK", outcome.Value)
		case <-time.After(2 * time.Second):
			t.Fatalf("command %d never settled", i)
		}
	}
}

// TestConcurrentDispatchExactlyOneWinnerPerWorker exercises OCC under
// contention (P6 applied at the pool level): many concurrent dispatches
// against a single-worker pool must all eventually settle with "OK", none
// silently dropped.
func TestConcurrentDispatchExactlyOneWinnerPerWorker(t *testing.T) {
	p := New(1, nil)
	defer p.Shutdown()

	const n = 30
	var wg sync.WaitGroup
	results := make([]Outcome, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			f, err := p.Dispatch(setCmd(fmt.Sprintf("key%d", i), "v"), 0, 0)
			require.NoError(t, err)
			results[i] = f.Wait()
		}(i)
	}
	wg.Wait()

	for i, r := range results {
		assert.NoError(t, r.Err, "dispatch %d", i)
		assert.Equal(t, "OK", r.Value)
	}
}

func TestQueuedDispatchEventuallySettles(t *testing.T) {
	p := New(1, nil)
	defer p.Shutdown()

	blocker, err := p.Dispatch(types.Command{Kind: types.KindExpire, Key: "x", TTLSeconds: 0}, 0, 0)
	require.NoError(t, err)
	blocker.Wait()

	f, err := p.Dispatch(setCmd("queued", "v"), 0, 50*time.Millisecond)
	require.NoError(t, err)

	select {
	case <-f.Done():
		require.NoError(t, f.Wait().Err)
	case <-time.After(2 * time.Second):
		t.Fatal("delayed dispatch never settled")
	}
}

// TestCancelQueuedFuture puts a task directly into the queue path (via the
// pool's own enqueue, bypassing the idle-worker race that Dispatch's
// immediate path would otherwise win) and cancels it before any worker
// claims it.
func TestCancelQueuedFuture(t *testing.T) {
	p := New(1, nil)
	defer p.Shutdown()

	owner := new(struct{})
	p.mu.Lock(owner)
	future := p.enqueueLocked(setCmd("later", "v"), 0, time.Hour)
	p.mu.Unlock(owner)

	cancelled := future.Cancel()
	assert.True(t, cancelled)
	outcome := future.Wait()
	assert.ErrorIs(t, outcome.Err, types.ErrCancelled)
}

func TestDispatchAfterShutdownFails(t *testing.T) {
	p := New(1, nil)
	p.Shutdown()

	_, err := p.Dispatch(setCmd("k", "v"), 0, 0)
	assert.ErrorIs(t, err, types.ErrShuttingDown)
}

// TestWorkerReplacementAfterCrash is P10: an abnormal context exit triggers
// crash recovery, and the pool returns to maxWorkers afterward. onWorkerCrashed
// is exercised directly since nothing in the in-memory command set panics
// under correct use — the path it guards is a defensive one.
func TestWorkerReplacementAfterCrash(t *testing.T) {
	p := New(2, nil)
	defer p.Shutdown()

	require.Equal(t, 2, p.WorkerCount())

	owner := new(struct{})
	p.mu.Lock(owner)
	var crashedID uint32
	for id := range p.workers {
		crashedID = id
		break
	}
	crashed := p.workers[crashedID]
	p.mu.Unlock(owner)

	// A real crash ends the worker's goroutine before onWorkerCrashed runs;
	// end it here too, or the deferred Shutdown waits on it forever.
	close(crashed.stopCh)

	future := newFuture(nil)
	p.onWorkerCrashed(crashedID, future, 1)

	outcome := future.Wait()
	var crashErr *types.WorkerCrashedError
	assert.ErrorAs(t, outcome.Err, &crashErr)

	require.Eventually(t, func() bool {
		return p.WorkerCount() == 2
	}, time.Second, 10*time.Millisecond)
}
