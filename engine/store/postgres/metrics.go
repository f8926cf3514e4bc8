package postgres

import (
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

// poolMetrics tracks pool statistics behind its own mutex, copied out
// on read so callers never see a torn snapshot while a query updates it.
type poolMetrics struct {
	mu          sync.Mutex
	acquired    int64
	idle        int64
	constructed int64
	registered  bool
}

func newPoolMetrics() *poolMetrics {
	return &poolMetrics{}
}

func (m *poolMetrics) attach(pool *pgxpool.Pool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pool == nil {
		return
	}
	stat := pool.Stat()
	m.acquired = stat.AcquiredConns()
	m.idle = stat.IdleConns()
	m.constructed = stat.NewConnsCount()
	m.registered = true
}

func (m *poolMetrics) unregister() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registered = false
}

type poolMetricsSnapshot struct {
	Acquired    int64
	Idle        int64
	Constructed int64
}

func (m *poolMetrics) copy() poolMetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return poolMetricsSnapshot{Acquired: m.acquired, Idle: m.idle, Constructed: m.constructed}
}
