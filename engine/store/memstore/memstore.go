// Package memstore is an in-memory store.Store fake for engine unit
// tests. It is not a performance-minded implementation: QueryByIndex
// performs a linear scan. Tests that need Postgres semantics belong in
// a build-tagged integration suite against store/postgres instead.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/flowforge/flowforge/engine/core"
	"github.com/flowforge/flowforge/engine/store"
)

type Store struct {
	mu     sync.Mutex
	tables map[string]map[core.ID]store.Row
}

// New returns an empty in-memory Store.
func New() *Store {
	return &Store{tables: make(map[string]map[core.ID]store.Row)}
}

func (s *Store) table(name string) map[core.ID]store.Row {
	t, ok := s.tables[name]
	if !ok {
		t = make(map[core.ID]store.Row)
		s.tables[name] = t
	}
	return t
}

func (s *Store) Insert(_ context.Context, table string, row store.Row) (core.ID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := core.MustNewID()
	cp := make(store.Row, len(row)+1)
	for k, v := range row {
		cp[k] = v
	}
	cp["id"] = id.String()
	s.table(table)[id] = cp
	return id, nil
}

func (s *Store) Patch(_ context.Context, table string, id core.ID, partial store.Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.table(table)[id]
	if !ok {
		return fmt.Errorf("memstore: patch %s/%s: not found", table, id)
	}
	for k, v := range partial {
		row[k] = v
	}
	return nil
}

func (s *Store) Delete(_ context.Context, table string, id core.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.table(table), id)
	return nil
}

type sliceIterator struct {
	rows []store.Row
	pos  int
}

func (it *sliceIterator) Next(_ context.Context) (store.Row, bool, error) {
	if it.pos >= len(it.rows) {
		return nil, false, nil
	}
	row := it.rows[it.pos]
	it.pos++
	return row, true, nil
}

func (it *sliceIterator) Close() error { return nil }

func (s *Store) QueryByIndex(_ context.Context, table, index string, r store.Range) (store.Iterator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rows []store.Row
	for _, row := range s.table(table) {
		v, ok := row[index]
		if !ok {
			continue
		}
		if r.From != nil && compare(v, r.From) < 0 {
			continue
		}
		if r.To != nil && compare(v, r.To) > 0 {
			continue
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool {
		return compare(rows[i][index], rows[j][index]) < 0
	})
	if r.Limit > 0 && len(rows) > r.Limit {
		rows = rows[:r.Limit]
	}
	return &sliceIterator{rows: rows}, nil
}

func (s *Store) Unique(_ context.Context, table, index string, key any) (store.Row, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.table(table) {
		if v, ok := row[index]; ok && compare(v, key) == 0 {
			return row, true, nil
		}
	}
	return nil, false, nil
}

// compare orders two index values well enough for test fixtures:
// int64/int/float64 numerically, everything else by string form.
func compare(a, b any) int {
	af, aok := asFloat(a)
	bf, bok := asFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	as, bs := fmt.Sprint(a), fmt.Sprint(b)
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	default:
		return 0
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
