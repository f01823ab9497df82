// Package tables implements the per-session import/export reference tables
// of spec.md §4.2: refcounted entries keyed by a non-zero integer ID, with
// deterministic descending-ID disposal on session teardown.
package tables

import (
	"fmt"
	"sort"
	"sync"
)

// Disposition is the lifecycle state of a table entry, per spec.md §3.
type Disposition int

const (
	Live Disposition = iota
	Resolved
	Broken
)

func (d Disposition) String() string {
	switch d {
	case Live:
		return "LIVE"
	case Resolved:
		return "RESOLVED"
	case Broken:
		return "BROKEN"
	default:
		return "UNKNOWN"
	}
}

// Entry is one reference-table row: a numeric ID, a refcount starting at 1
// on introduction, a disposition, and an opaque handle (an application
// object for exports, or a pending-result sentinel).
type Entry struct {
	ID       int
	Refcount int
	Disp     Disposition
	Handle   any
}

// Disposer is invoked exactly once when an entry's refcount reaches zero or
// the table is closed. It may itself call Release on other IDs in the same
// table (permitted by spec.md §4.2) but must not be able to resurrect an ID
// already past destruction — the Table enforces that by deleting the entry
// before invoking the disposer.
type Disposer func(id int, handle any)

// Table is one side (import or export) of a session's reference tables.
// All mutations are serialized by mu, matching the per-session single-mutex
// discipline spec.md §5 calls sufficient and correct.
type Table struct {
	mu       sync.Mutex
	entries  map[int]*Entry
	disposer Disposer
}

// New creates an empty table. disposer may be nil if entries never need
// cleanup (e.g. an import table with no local resource attached).
func New(disposer Disposer) *Table {
	if disposer == nil {
		disposer = func(int, any) {}
	}
	return &Table{entries: make(map[int]*Entry), disposer: disposer}
}

// Introduce creates an entry with refcount 1 on first appearance of id. If
// id already exists with the same handle, its refcount is incremented
// instead (spec.md §4.2). A collision with a different handle is a
// protocol error, since the same ID must always denote the same object
// within a session.
func (t *Table) Introduce(id int, handle any) (*Entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, exists := t.entries[id]; exists {
		if e.Disp == Broken {
			return nil, fmt.Errorf("tables: id %d already broken", id)
		}
		if e.Handle != handle {
			return nil, fmt.Errorf("tables: id %d already introduced with a different handle", id)
		}
		e.Refcount++
		return e, nil
	}
	e := &Entry{ID: id, Refcount: 1, Disp: Live, Handle: handle}
	t.entries[id] = e
	return e, nil
}

// Acquire increments id's refcount by n (n >= 1), matching one wire
// occurrence of a Cap reference per spec.md invariant 2.
func (t *Table) Acquire(id int, n int) error {
	if n < 1 {
		return fmt.Errorf("tables: acquire count must be >= 1, got %d", n)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok {
		return fmt.Errorf("tables: acquire of unknown id %d", id)
	}
	e.Refcount += n
	return nil
}

// Release decrements id's refcount by n. When it reaches zero, the entry is
// removed and the disposer invoked with the id already absent from the
// table, so a disposer-triggered release of another id can never resurrect
// this one. Returns whether the entry was disposed by this call.
func (t *Table) Release(id int, n int) (disposed bool, err error) {
	if n < 1 {
		return false, fmt.Errorf("tables: release count must be >= 1, got %d", n)
	}
	t.mu.Lock()
	e, ok := t.entries[id]
	if !ok {
		t.mu.Unlock()
		return false, fmt.Errorf("tables: release of unknown id %d", id)
	}
	e.Refcount -= n
	if e.Refcount < 0 {
		t.mu.Unlock()
		return false, fmt.Errorf("tables: refcount for id %d went negative", id)
	}
	if e.Refcount > 0 {
		t.mu.Unlock()
		return false, nil
	}
	delete(t.entries, id)
	t.mu.Unlock()
	t.disposer(id, e.Handle)
	return true, nil
}

// Lookup returns the handle for id, or ok=false if there is no live entry.
func (t *Table) Lookup(id int) (any, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok || e.Disp == Broken {
		return nil, false
	}
	return e.Handle, true
}

// MarkResolved transitions id from Live to Resolved — used once a
// pending-result export's call completes and its handle becomes a concrete
// value rather than a pending sentinel.
func (t *Table) MarkResolved(id int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[id]; ok && e.Disp == Live {
		e.Disp = Resolved
	}
}

// Close tears down every remaining entry in descending-ID order (spec.md
// §4.2, §8 S6), marking each Broken and invoking its disposer, and returns
// the IDs disposed in that order. A disposer that releases other IDs during
// teardown is tolerated: those entries were already visited by the
// same Close call's initial ID snapshot or have already been removed from
// the map, so they simply become no-ops against an already-empty table.
func (t *Table) Close() []int {
	t.mu.Lock()
	ids := make([]int, 0, len(t.entries))
	for id := range t.entries {
		ids = append(ids, id)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(ids)))
	handles := make([]any, len(ids))
	for i, id := range ids {
		e := t.entries[id]
		e.Disp = Broken
		handles[i] = e.Handle
		delete(t.entries, id)
	}
	t.mu.Unlock()

	for i, id := range ids {
		t.disposer(id, handles[i])
	}
	return ids
}

// Len reports the number of live entries, mostly useful for tests asserting
// refcount-conservation (spec.md §8 Testable Property 1).
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
