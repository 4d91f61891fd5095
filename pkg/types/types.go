// Package types defines the core domain model shared across OctopusDB's
// execution substrate: commands, values, worker metadata, and the digest
// used for task queue deduplication.
package types

import "fmt"

// Kind identifies the operation a Command carries out.
type Kind int

const (
	KindSet Kind = iota
	KindGet
	KindDel
	KindExists
	KindIncr
	KindDecr
	KindExpire
	KindTTL
	KindPersist
	KindLPush
	KindRPush
	KindLPop
	KindRPop
	KindSAdd
	KindSRem
	KindSMembers
)

func (k Kind) String() string {
	switch k {
	case KindSet:
		return "SET"
	case KindGet:
		return "GET"
	case KindDel:
		return "DEL"
	case KindExists:
		return "EXISTS"
	case KindIncr:
		return "INCR"
	case KindDecr:
		return "DECR"
	case KindExpire:
		return "EXPIRE"
	case KindTTL:
		return "TTL"
	case KindPersist:
		return "PERSIST"
	case KindLPush:
		return "LPUSH"
	case KindRPush:
		return "RPUSH"
	case KindLPop:
		return "LPOP"
	case KindRPop:
		return "RPOP"
	case KindSAdd:
		return "SADD"
	case KindSRem:
		return "SREM"
	case KindSMembers:
		return "SMEMBERS"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Command is the tagged-variant unit of work submitted to the store.
// Value/HasValue/TTLSeconds are meaningful only for the kinds that use them.
type Command struct {
	Kind       Kind
	Key        string
	Value      string
	HasValue   bool
	TTLSeconds int64
}

// Digest returns the stable structural encoding the task queue uses for
// dedup (spec.md I1): two commands with equal digests are the same task.
// Each variable-length field is length-prefixed so that no byte sequence a
// Key or Value could contain (including the "|" separator itself) can shift
// a later field and collide two structurally different commands.
func (c Command) Digest() string {
	return fmt.Sprintf("%d|%d:%s|%d:%s|%t|%d", c.Kind, len(c.Key), c.Key, len(c.Value), c.Value, c.HasValue, c.TTLSeconds)
}

// ValueKind tags the variant stored for a key.
type ValueKind int

const (
	ValueString ValueKind = iota
	ValueInteger
	ValueList
	ValueSet
)

func (v ValueKind) String() string {
	switch v {
	case ValueString:
		return "string"
	case ValueInteger:
		return "integer"
	case ValueList:
		return "list"
	case ValueSet:
		return "set"
	default:
		return "unknown"
	}
}

// Value is the tagged variant held for a key in an execution context's
// store. Only the field matching Kind is meaningful.
type Value struct {
	Kind ValueKind
	Str  string
	Int  int64
	List []string
	Set  map[string]struct{}
}

// NewStringValue builds a string-kind Value.
func NewStringValue(s string) Value { return Value{Kind: ValueString, Str: s} }

// NewIntegerValue builds an integer-kind Value (counter semantics).
func NewIntegerValue(i int64) Value { return Value{Kind: ValueInteger, Int: i} }

// NewListValue builds an empty list-kind Value.
func NewListValue() Value { return Value{Kind: ValueList, List: []string{}} }

// NewSetValue builds an empty set-kind Value.
func NewSetValue() Value { return Value{Kind: ValueSet, Set: make(map[string]struct{})} }

// WorkerState is the lifecycle state of an execution context as tracked by
// the worker pool's metadata registry (spec.md §3, Worker metadata).
type WorkerState int

const (
	StateIdle WorkerState = iota
	StateBusy
	StateTerminated
)

func (s WorkerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBusy:
		return "busy"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// WorkerMeta is the OCC-guarded metadata record for one execution context.
type WorkerMeta struct {
	ID      uint32
	State   WorkerState
	Version uint64
}
