package occ

import (
	"errors"
	"sync"
	"testing"

	"github.com/octopusdb/octopus/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPerformNotFound(t *testing.T) {
	h := New()
	_, err := h.Perform(1, 0, func(m *types.WorkerMeta) (any, error) { return nil, nil })
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestPerformConflictOnStaleVersion(t *testing.T) {
	h := New()
	h.Register(1, types.StateIdle)
	_, err := h.Perform(1, 5, func(m *types.WorkerMeta) (any, error) { return nil, nil })
	assert.ErrorIs(t, err, types.ErrConflict)
}

func TestPerformSuccessBumpsVersion(t *testing.T) {
	h := New()
	h.Register(1, types.StateIdle)

	result, err := h.Perform(1, 0, func(m *types.WorkerMeta) (any, error) {
		m.State = types.StateBusy
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)

	snap, ok := h.Snapshot(1)
	require.True(t, ok)
	assert.Equal(t, types.StateBusy, snap.State)
	assert.Equal(t, uint64(1), snap.Version)
}

func TestPerformOperationFailedLeavesVersionUnchanged(t *testing.T) {
	h := New()
	h.Register(1, types.StateIdle)
	cause := errors.New("boom")

	_, err := h.Perform(1, 0, func(m *types.WorkerMeta) (any, error) { return nil, cause })
	var of *types.OperationFailedError
	require.ErrorAs(t, err, &of)
	assert.ErrorIs(t, err, cause)

	snap, _ := h.Snapshot(1)
	assert.Equal(t, uint64(0), snap.Version)
}

// TestConcurrentPerformExactlyOneSuccess is P6: concurrent Perform calls
// sharing the same expected_version yield exactly one success, the rest
// Conflict.
func TestConcurrentPerformExactlyOneSuccess(t *testing.T) {
	h := New()
	h.Register(1, types.StateIdle)

	const n = 50
	var wg sync.WaitGroup
	var successes, conflicts int
	var mu sync.Mutex

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.Perform(1, 0, func(m *types.WorkerMeta) (any, error) {
				m.State = types.StateBusy
				return nil, nil
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
			} else if errors.Is(err, types.ErrConflict) {
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, n-1, conflicts)
}

func TestSnapshotAllOrderedByID(t *testing.T) {
	h := New()
	h.Register(3, types.StateIdle)
	h.Register(1, types.StateIdle)
	h.Register(2, types.StateIdle)

	all := h.SnapshotAll()
	require.Len(t, all, 3)
	assert.Equal(t, []uint32{1, 2, 3}, []uint32{all[0].ID, all[1].ID, all[2].ID})
}

func TestDeregisterRemovesMetadata(t *testing.T) {
	h := New()
	h.Register(1, types.StateIdle)
	h.Deregister(1)
	_, ok := h.Snapshot(1)
	assert.False(t, ok)
}
