package octopus

import (
	"sync"
	"testing"
	"time"

	"github.com/octopusdb/octopus/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freshInstance(t *testing.T, maxWorkers uint32) *Octopus {
	resetForTest()
	t.Cleanup(resetForTest)
	return Instance(maxWorkers)
}

// TestInstanceIsSingleton is P1: repeated calls return the same handle and
// ignore the argument on subsequent calls.
func TestInstanceIsSingleton(t *testing.T) {
	o1 := freshInstance(t, 2)
	o2 := Instance(99)
	assert.Same(t, o1, o2)
	assert.Equal(t, 2, o1.WorkerCount())
}

func TestSetGetDel(t *testing.T) {
	o := freshInstance(t, 2)

	v, err := o.Set("a", "hello")
	require.NoError(t, err)
	assert.Equal(t, "OK", v)

	v, err = o.Get("a")
	require.NoError(t, err)
	assert.Equal(t, "hello", v)

	v, err = o.Del("a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	v, err = o.Get("a")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestIncrDecr(t *testing.T) {
	o := freshInstance(t, 2)

	v, err := o.Incr("counter")
	require.NoError(t, err)
	assert.Equal(t, "1", v)

	v, err = o.Decr("counter")
	require.NoError(t, err)
	assert.Equal(t, "0", v)
}

func TestListAndSetOps(t *testing.T) {
	o := freshInstance(t, 2)

	_, err := o.RPush("list", "a")
	require.NoError(t, err)
	_, err = o.RPush("list", "b")
	require.NoError(t, err)

	v, err := o.LPop("list")
	require.NoError(t, err)
	assert.Equal(t, "a", v)

	_, err = o.SAdd("set", "x")
	require.NoError(t, err)
	_, err = o.SAdd("set", "y")
	require.NoError(t, err)

	members, err := o.SMembers("set")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"x", "y"}, members)
}

func TestExpireAndTTL(t *testing.T) {
	o := freshInstance(t, 2)

	_, err := o.Set("k", "v")
	require.NoError(t, err)

	v, err := o.Expire("k", 60)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	v, err = o.TTL("k")
	require.NoError(t, err)
	assert.Greater(t, v.(int64), int64(0))

	_, err = o.Persist("k")
	require.NoError(t, err)

	v, err = o.TTL("k")
	require.NoError(t, err)
	assert.Equal(t, int64(-1), v)
}

// TestOperationEventFiresAfterSuccess checks the operation event carries
// the command's kind, key, and result, and that it is observable
// synchronously from the caller (the listener has already run by the time
// the dispatching call returns).
func TestOperationEventFiresAfterSuccess(t *testing.T) {
	o := freshInstance(t, 2)

	var mu sync.Mutex
	var gotKind types.Kind
	var gotKey string
	var gotValue any
	o.On("operation", func(kind types.Kind, key string, value any) {
		mu.Lock()
		defer mu.Unlock()
		gotKind, gotKey, gotValue = kind, key, value
	})

	_, err := o.Set("evt", "v1")
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, types.KindSet, gotKind)
	assert.Equal(t, "evt", gotKey)
	assert.Equal(t, "OK", gotValue)
}

func TestOperationEventDoesNotFireOnFailure(t *testing.T) {
	o := freshInstance(t, 2)

	_, err := o.RPush("notalist", "v")
	require.NoError(t, err)

	fired := false
	o.On("operation", func(kind types.Kind, key string, value any) {
		fired = true
	})

	_, err = o.Incr("notalist")
	assert.ErrorIs(t, err, types.ErrWrongType)
	assert.False(t, fired)
}

func TestGetOnListIsWrongType(t *testing.T) {
	o := freshInstance(t, 2)

	_, err := o.RPush("notalist", "v")
	require.NoError(t, err)

	_, err = o.Get("notalist")
	assert.ErrorIs(t, err, types.ErrWrongType)
}

func TestTransactionCommitRunsQueuedOps(t *testing.T) {
	o := freshInstance(t, 2)

	tx := o.StartTransaction()
	require.NoError(t, tx.Add(func() (any, error) { return o.Set("tx-a", "1") }))
	require.NoError(t, tx.Add(func() (any, error) { return o.Set("tx-b", "2") }))

	require.NoError(t, o.CommitTransaction(tx.ID()))

	v, err := o.Get("tx-a")
	require.NoError(t, err)
	assert.Equal(t, "1", v)
	v, err = o.Get("tx-b")
	require.NoError(t, err)
	assert.Equal(t, "2", v)
}

// TestScenario6TransactionsAreSerial mirrors spec.md §8 scenario 6 through
// the façade: a second StartTransaction blocks until the first ends.
func TestScenario6TransactionsAreSerial(t *testing.T) {
	o := freshInstance(t, 2)

	tx1 := o.StartTransaction()

	done := make(chan struct{})
	go func() {
		o.StartTransaction()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("second StartTransaction returned before the first ended")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, o.CommitTransaction(tx1.ID()))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second StartTransaction never unblocked")
	}
}
