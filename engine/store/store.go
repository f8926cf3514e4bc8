// Package store declares the host-supplied capability contracts the
// engine depends on (Store, Auth, Clock, Deferrer) and ships a
// reference Postgres-backed Store (package postgres), a Redis-backed
// per-workflow lock for multi-process hosts (package lock), and an
// in-memory fake for unit tests (package memstore). engine/runtime,
// engine/audit, and engine/auth depend only on the interfaces in this
// file; they never import postgres/lock/memstore directly.
package store

import (
	"context"
	"time"

	"github.com/flowforge/flowforge/engine/core"
)

// Row is a single persisted record as returned by QueryByIndex/Unique.
// The engine treats rows as opaque maps and marshals/unmarshals its
// own typed views over them.
type Row map[string]any

// Range bounds a QueryByIndex scan. A zero value scans the whole index.
type Range struct {
	From, To any // inclusive bounds on the indexed value; nil = unbounded
	Limit    int // 0 = unbounded
}

// Iterator yields rows from QueryByIndex in index order.
type Iterator interface {
	Next(ctx context.Context) (Row, bool, error)
	Close() error
}

// Store is the host's transactional key-value + index persistence
// engine. Every call executes inside the single transaction the host
// opened for the current public engine operation; the engine never
// spans a Store call across two host transactions.
type Store interface {
	Insert(ctx context.Context, table string, row Row) (core.ID, error)
	Patch(ctx context.Context, table string, id core.ID, partial Row) error
	Delete(ctx context.Context, table string, id core.ID) error
	QueryByIndex(ctx context.Context, table, index string, r Range) (Iterator, error)
	Unique(ctx context.Context, table, index string, key any) (Row, bool, error)
}

// Auth resolves the actor performing the current operation.
type Auth interface {
	GetCurrentUser(ctx context.Context) (core.ID, error)
}

// Clock returns a monotonic-within-a-transaction timestamp in
// milliseconds since the epoch, used for every StartedAtMs/EndedAtMs
// field the engine writes.
type Clock interface {
	Now(ctx context.Context) int64
}

// Deferrer schedules re-entry into the engine after delay. Nothing in
// the engine calls it: engine/composite propagates a child workflow's
// completion to its parent task as a direct synchronous call. Callers
// must treat a deferred follow-up as equivalent to an immediate
// re-entry on the same workflow.
type Deferrer interface {
	ScheduleFollowUp(ctx context.Context, key string, delay time.Duration) error
}
