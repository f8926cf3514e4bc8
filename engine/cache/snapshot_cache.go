// Package cache is a local, read-through cache for audit workflow
// snapshots, backed by BadgerDB. It exists purely to make
// engine/audit.Reconstruct fast for recently-queried timestamps; the
// host store remains the system of record for
// AuditWorkflowSnapshot rows, and deleting this cache entirely must
// never change what Reconstruct returns.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/flowforge/flowforge/engine/model"
	"github.com/flowforge/flowforge/pkg/logger"
)

const defaultGCInterval = 5 * time.Minute

// SnapshotCache caches AuditWorkflowSnapshot rows keyed by
// (traceId, timestamp), so a repeated GetWorkflowStateAtTime for a
// nearby T does not re-walk the host store. All operations are safe
// for concurrent use.
type SnapshotCache struct {
	db *badger.DB

	stopCh chan struct{}
	wg     sync.WaitGroup
	mu     sync.RWMutex

	metrics *Metrics
}

// New opens (or creates) the Badger database rooted at dataDir.
func New(ctx context.Context, dataDir string) (*SnapshotCache, error) {
	log := logger.FromContext(ctx)
	if dataDir == "" {
		return nil, fmt.Errorf("cache: data directory is required")
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("cache: create data dir: %w", err)
	}
	opts := badger.DefaultOptions(dataDir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("cache: open badger: %w", err)
	}
	log.Info("opened snapshot cache", "data_dir", dataDir)
	return &SnapshotCache{db: db, stopCh: make(chan struct{}), metrics: &Metrics{}}, nil
}

func snapshotKey(traceId model.TraceId, timestampMs int64) []byte {
	return []byte(fmt.Sprintf("snap:%s:%020d", traceId, timestampMs))
}

// Put stores snap, keyed so Latest can find the most recent entry
// with TimestampMs <= T via a reverse prefix seek.
func (c *SnapshotCache) Put(_ context.Context, snap model.AuditWorkflowSnapshot) error {
	if c == nil || c.db == nil {
		return fmt.Errorf("cache: not initialized")
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("cache: marshal snapshot: %w", err)
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	err = c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(snapshotKey(snap.TraceId, snap.TimestampMs), data)
	})
	if err != nil {
		c.metrics.recordWrite(false)
		return fmt.Errorf("cache: put snapshot: %w", err)
	}
	c.metrics.recordWrite(true)
	return nil
}

// Latest returns the cached snapshot for traceId with the greatest
// TimestampMs <= atMs, if any.
func (c *SnapshotCache) Latest(_ context.Context, traceId model.TraceId, atMs int64) (model.AuditWorkflowSnapshot, bool, error) {
	var out model.AuditWorkflowSnapshot
	if c == nil || c.db == nil {
		return out, false, nil
	}
	prefix := []byte(fmt.Sprintf("snap:%s:", traceId))
	found := false
	c.mu.RLock()
	defer c.mu.RUnlock()
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix
		// snapshotKey zero-pads the timestamp so lexicographic order
		// matches numeric order; seeking with Reverse=true then finds
		// the largest key <= seekKey.
		seekKey := snapshotKey(traceId, atMs)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(seekKey); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			return item.Value(func(val []byte) error {
				if err := json.Unmarshal(val, &out); err != nil {
					return err
				}
				found = true
				return nil
			})
		}
		return nil
	})
	if err != nil {
		c.metrics.recordRead(false)
		return out, false, fmt.Errorf("cache: latest snapshot: %w", err)
	}
	c.metrics.recordRead(found)
	return out, found, nil
}

// Invalidate drops every cached snapshot for traceId, used when a
// trace's terminal state changes in a way that would make stale
// snapshots misleading (never required for correctness, only hygiene).
func (c *SnapshotCache) Invalidate(_ context.Context, traceId model.TraceId) error {
	prefix := []byte(fmt.Sprintf("snap:%s:", traceId))
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.db.Update(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		var keys [][]byte
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// StartPeriodicGC launches a goroutine running Badger's value-log
// garbage collection at interval (0 = defaultGCInterval) until Stop.
func (c *SnapshotCache) StartPeriodicGC(ctx context.Context, interval time.Duration) {
	if c == nil {
		return
	}
	if interval <= 0 {
		interval = defaultGCInterval
	}
	log := logger.FromContext(ctx)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := c.db.RunValueLogGC(0.5); err != nil && !strings.Contains(err.Error(), "Rejected") {
					log.Warn("snapshot cache gc failed", "error", err)
				}
			case <-c.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the GC goroutine (idempotently) and closes the database.
func (c *SnapshotCache) Stop() {
	if c == nil {
		return
	}
	select {
	case <-c.stopCh:
	default:
		close(c.stopCh)
	}
	c.wg.Wait()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db != nil {
		_ = c.db.Close()
	}
}

// Metrics tracks cache hit/miss and write-success counts behind its
// own mutex, exposed only via a copied snapshot.
type Metrics struct {
	mu          sync.Mutex
	hits        int64
	misses      int64
	writes      int64
	writeErrors int64
}

func (m *Metrics) recordRead(hit bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if hit {
		m.hits++
	} else {
		m.misses++
	}
}

func (m *Metrics) recordWrite(ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ok {
		m.writes++
	} else {
		m.writeErrors++
	}
}

// MetricsView is a point-in-time copy of Metrics.
type MetricsView struct {
	Hits, Misses, Writes, WriteErrors int64
}

func (c *SnapshotCache) GetMetrics() MetricsView {
	if c == nil || c.metrics == nil {
		return MetricsView{}
	}
	c.metrics.mu.Lock()
	defer c.metrics.mu.Unlock()
	return MetricsView{Hits: c.metrics.hits, Misses: c.metrics.misses, Writes: c.metrics.writes, WriteErrors: c.metrics.writeErrors}
}
