// Package execctx implements the execution substrate's execution context
// (spec.md §4.E): an isolated key-value store and TTL map, executing
// exactly one command at a time on its owned state.
package execctx

import (
	"fmt"
	"strconv"
	"time"

	"github.com/octopusdb/octopus/pkg/types"
)

// Context owns a private store and ttl map. It performs no synchronization
// of its own and arms no goroutine-backed timers: the worker pool
// guarantees exactly one goroutine (the owning worker) ever touches a
// given context (I2), and that same goroutine drives eager expiry by
// selecting on NextDeadline()'s timer alongside its task channel — see
// internal/workerpool. This keeps every map access single-threaded.
type Context struct {
	id    uint32
	store map[string]types.Value
	ttl   map[string]time.Time
}

// New returns an empty execution context identified by id.
func New(id uint32) *Context {
	return &Context{
		id:    id,
		store: make(map[string]types.Value),
		ttl:   make(map[string]time.Time),
	}
}

// ID reports this context's identity.
func (c *Context) ID() uint32 { return c.id }

// Execute runs cmd to completion against this context's state and returns
// its result. The concrete type of result depends on cmd.Kind: string for
// set/get/incr/decr/lpop/rpop, int64 for del/exists/expire/ttl/persist/
// push/sadd/srem, []string for smembers, or nil for a get/lpop/rpop miss.
func (c *Context) Execute(cmd types.Command) (any, error) {
	c.expireIfDue(cmd.Key)

	switch cmd.Kind {
	case types.KindSet:
		c.store[cmd.Key] = types.NewStringValue(cmd.Value)
		c.cancelTTL(cmd.Key)
		return "OK", nil

	case types.KindGet:
		v, ok := c.store[cmd.Key]
		if !ok {
			return nil, nil
		}
		return valueToResult(v)

	case types.KindDel:
		_, existed := c.store[cmd.Key]
		delete(c.store, cmd.Key)
		c.cancelTTL(cmd.Key)
		if existed {
			return int64(1), nil
		}
		return int64(0), nil

	case types.KindExists:
		_, ok := c.store[cmd.Key]
		if ok {
			return int64(1), nil
		}
		return int64(0), nil

	case types.KindIncr:
		return c.incrDecr(cmd.Key, 1)

	case types.KindDecr:
		return c.incrDecr(cmd.Key, -1)

	case types.KindExpire:
		if _, ok := c.store[cmd.Key]; !ok {
			return int64(0), nil
		}
		c.setTTL(cmd.Key, time.Duration(cmd.TTLSeconds)*time.Second)
		return int64(1), nil

	case types.KindTTL:
		deadline, ok := c.ttl[cmd.Key]
		if !ok {
			return int64(-1), nil
		}
		remaining := deadline.Sub(time.Now())
		secs := int64((remaining + time.Second - time.Nanosecond) / time.Second)
		if secs < 0 {
			secs = -1
		}
		return secs, nil

	case types.KindPersist:
		if _, ok := c.ttl[cmd.Key]; !ok {
			return int64(0), nil
		}
		c.cancelTTL(cmd.Key)
		return int64(1), nil

	case types.KindLPush, types.KindRPush:
		return c.push(cmd.Key, cmd.Value, cmd.Kind == types.KindLPush)

	case types.KindLPop, types.KindRPop:
		return c.pop(cmd.Key, cmd.Kind == types.KindLPop)

	case types.KindSAdd:
		return c.sadd(cmd.Key, cmd.Value)

	case types.KindSRem:
		return c.srem(cmd.Key, cmd.Value)

	case types.KindSMembers:
		return c.smembers(cmd.Key)

	default:
		return nil, fmt.Errorf("execctx: unknown command kind %v", cmd.Kind)
	}
}

func valueToResult(v types.Value) (any, error) {
	switch v.Kind {
	case types.ValueString:
		return v.Str, nil
	case types.ValueInteger:
		return fmt.Sprintf("%d", v.Int), nil
	default:
		return nil, types.ErrWrongType
	}
}

func (c *Context) incrDecr(key string, delta int64) (any, error) {
	v, ok := c.store[key]
	if !ok {
		v = types.NewIntegerValue(0)
	} else if v.Kind != types.ValueInteger {
		n, err := parseInt(v)
		if err != nil {
			return nil, err
		}
		v = types.NewIntegerValue(n)
	}
	v.Int += delta
	c.store[key] = v
	return fmt.Sprintf("%d", v.Int), nil
}

func parseInt(v types.Value) (int64, error) {
	if v.Kind != types.ValueString {
		return 0, types.ErrWrongType
	}
	n, err := strconv.ParseInt(v.Str, 10, 64)
	if err != nil {
		return 0, types.ErrNotInteger
	}
	return n, nil
}

func (c *Context) push(key, value string, left bool) (any, error) {
	v, ok := c.store[key]
	if !ok {
		v = types.NewListValue()
	} else if v.Kind != types.ValueList {
		return nil, types.ErrWrongType
	}
	if left {
		v.List = append([]string{value}, v.List...)
	} else {
		v.List = append(v.List, value)
	}
	c.store[key] = v
	return int64(len(v.List)), nil
}

func (c *Context) pop(key string, left bool) (any, error) {
	v, ok := c.store[key]
	if !ok {
		return nil, nil
	}
	if v.Kind != types.ValueList {
		return nil, types.ErrWrongType
	}
	if len(v.List) == 0 {
		return nil, nil
	}
	var elem string
	if left {
		elem, v.List = v.List[0], v.List[1:]
	} else {
		elem, v.List = v.List[len(v.List)-1], v.List[:len(v.List)-1]
	}
	c.store[key] = v
	return elem, nil
}

func (c *Context) sadd(key, value string) (any, error) {
	v, ok := c.store[key]
	if !ok {
		v = types.NewSetValue()
	} else if v.Kind != types.ValueSet {
		return nil, types.ErrWrongType
	}
	v.Set[value] = struct{}{}
	c.store[key] = v
	return int64(len(v.Set)), nil
}

func (c *Context) srem(key, value string) (any, error) {
	v, ok := c.store[key]
	if !ok {
		return int64(0), nil
	}
	if v.Kind != types.ValueSet {
		return nil, types.ErrWrongType
	}
	if _, present := v.Set[value]; !present {
		return int64(0), nil
	}
	delete(v.Set, value)
	c.store[key] = v
	return int64(1), nil
}

func (c *Context) smembers(key string) (any, error) {
	v, ok := c.store[key]
	if !ok {
		return []string{}, nil
	}
	if v.Kind != types.ValueSet {
		return nil, types.ErrWrongType
	}
	out := make([]string, 0, len(v.Set))
	for m := range v.Set {
		out = append(out, m)
	}
	return out, nil
}

// expireIfDue implements lazy expiry: any access path through Execute
// checks the deadline first and removes the entry if it has passed,
// regardless of whether the eager timer has fired yet.
func (c *Context) expireIfDue(key string) {
	deadline, ok := c.ttl[key]
	if !ok {
		return
	}
	if time.Now().Before(deadline) {
		return
	}
	delete(c.store, key)
	delete(c.ttl, key)
}

func (c *Context) cancelTTL(key string) {
	delete(c.ttl, key)
}

// setTTL records the absolute deadline for key (spec.md §3 TTL record,
// I5). Arming a timer against that deadline is the owning worker's job —
// see NextDeadline and Sweep.
func (c *Context) setTTL(key string, d time.Duration) {
	c.ttl[key] = time.Now().Add(d)
}

// NextDeadline reports the soonest pending TTL deadline, if any. The
// owning worker goroutine selects on a timer armed for this deadline so it
// can call Sweep exactly when eager expiry is due, without polling.
func (c *Context) NextDeadline() (time.Time, bool) {
	var soonest time.Time
	first := true
	for _, d := range c.ttl {
		if first || d.Before(soonest) {
			soonest, first = d, false
		}
	}
	return soonest, !first
}

// Sweep removes every key whose deadline is at or before now and returns
// their names. Called by the owning worker when its eager-expiry timer
// fires; safe to call early or late, since it only ever removes keys
// genuinely past their deadline (I5).
func (c *Context) Sweep(now time.Time) []string {
	var expired []string
	for k, d := range c.ttl {
		if !d.After(now) {
			expired = append(expired, k)
		}
	}
	for _, k := range expired {
		delete(c.store, k)
		delete(c.ttl, k)
	}
	return expired
}
