// Package occ implements the execution substrate's optimistic concurrency
// control layer (spec.md §4.D): version-checked read-modify-write on worker
// metadata. The check, the caller's op and the version bump all run under
// the handler's single mutex.
package occ

import (
	"sync"

	"github.com/octopusdb/octopus/pkg/types"
)

// Op mutates a metadata record in place and returns an arbitrary result. A
// non-nil error aborts the attempt before the version is bumped.
type Op func(meta *types.WorkerMeta) (any, error)

// Handler guards a set of WorkerMeta records keyed by id. Steps 1-4 of
// Perform run under a single mutex per spec.md §4.D ("a global mutex is
// acceptable"); the retrieved pack has no finer-grained pattern for this
// exact shape worth adopting instead.
type Handler struct {
	mu    sync.Mutex
	metas map[uint32]*types.WorkerMeta
}

// New returns an OCC handler with no registered metadata.
func New() *Handler {
	return &Handler{metas: make(map[uint32]*types.WorkerMeta)}
}

// Register installs the initial metadata record for id, at version 0. It is
// a plain map write, not subject to the OCC protocol itself.
func (h *Handler) Register(id uint32, state types.WorkerState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.metas[id] = &types.WorkerMeta{ID: id, State: state, Version: 0}
}

// Deregister removes id's metadata entirely, e.g. after a crash where the
// context is not being replaced under the same id.
func (h *Handler) Deregister(id uint32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.metas, id)
}

// Snapshot returns a copy of id's current metadata, for callers that need
// to read state/version without performing a mutation (e.g. picking a
// dispatch candidate). ok is false if id is unknown.
func (h *Handler) Snapshot(id uint32) (types.WorkerMeta, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.metas[id]
	if !ok {
		return types.WorkerMeta{}, false
	}
	return *m, true
}

// SnapshotAll returns a copy of every registered record, ordered by id
// ascending — callers that need deterministic worker selection (spec.md
// §4.F step 2: "lowest id for testability") rely on this ordering.
func (h *Handler) SnapshotAll() []types.WorkerMeta {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]types.WorkerMeta, 0, len(h.metas))
	for _, m := range h.metas {
		out = append(out, *m)
	}
	sortMetasByID(out)
	return out
}

func sortMetasByID(metas []types.WorkerMeta) {
	for i := 1; i < len(metas); i++ {
		for j := i; j > 0 && metas[j].ID < metas[j-1].ID; j-- {
			metas[j], metas[j-1] = metas[j-1], metas[j]
		}
	}
}

// Perform runs the four-step OCC protocol (spec.md §4.D) for id:
//  1. look up metadata, NotFound if absent;
//  2. compare versions, Conflict if they differ;
//  3. invoke op; OperationFailed(cause) if op errors, no version change;
//  4. bump the version and return op's result.
//
// The whole protocol runs under the handler's single mutex, so Perform
// calls for different ids serialize too; that's acceptable per spec.md
// §4.D and keeps the implementation simple over striping by id.
func (h *Handler) Perform(id uint32, expectedVersion uint64, op Op) (any, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	m, ok := h.metas[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	if m.Version != expectedVersion {
		return nil, types.ErrConflict
	}

	result, err := op(m)
	if err != nil {
		return nil, types.NewOperationFailedError(err)
	}

	m.Version++
	return result, nil
}
