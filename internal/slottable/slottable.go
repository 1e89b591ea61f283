// Package slottable implements the fixed-capacity id table used at every tier
// of the registry: connections inside a manager and result sets inside a
// connection.
//
// A Table is a pair of parallel arrays, ids and items, where a cell is free
// when its id is Free. Ids are chosen by the caller; the table only records
// them. An id→index map keeps Lookup O(1); NewEntry stays a first-fit scan so
// a freed cell is the next one handed out.
package slottable

import (
	"errors"
	"fmt"
)

// Free marks an unoccupied cell in the id array.
const Free = -1

// ErrCapacity is returned by New for a non-positive capacity.
var ErrCapacity = errors.New("slottable: capacity must be positive")

// Table maps small non-negative ids to items in a fixed number of cells.
type Table[T any] struct {
	ids   []int
	items []*T
	index map[int]int // id -> cell index
}

// New allocates a table with capacity cells, all free.
func New[T any](capacity int) (*Table[T], error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w (got %d)", ErrCapacity, capacity)
	}
	t := &Table[T]{
		ids:   make([]int, capacity),
		items: make([]*T, capacity),
		index: make(map[int]int, capacity),
	}
	for i := range t.ids {
		t.ids[i] = Free
	}
	return t, nil
}

// Cap returns the number of cells.
func (t *Table[T]) Cap() int { return len(t.ids) }

// Len returns the number of occupied cells.
func (t *Table[T]) Len() int { return len(t.index) }

// NewEntry returns the smallest free index, or false when every cell is taken.
// The cell is not claimed; call Claim once the item is fully built.
func (t *Table[T]) NewEntry() (int, bool) {
	for i, id := range t.ids {
		if id == Free {
			return i, true
		}
	}
	return Free, false
}

// Claim stores id and item at index. The caller owns the choice of index
// (normally the result of NewEntry) and the uniqueness of id.
func (t *Table[T]) Claim(index, id int, item *T) {
	t.ids[index] = id
	t.items[index] = item
	t.index[id] = index
}

// Lookup returns the index holding id.
func (t *Table[T]) Lookup(id int) (int, bool) {
	if id == Free {
		return Free, false
	}
	i, ok := t.index[id]
	return i, ok
}

// At returns the item stored at index, nil for a free cell.
func (t *Table[T]) At(index int) *T {
	return t.items[index]
}

// IDAt returns the id stored at index, Free for a free cell.
func (t *Table[T]) IDAt(index int) int {
	return t.ids[index]
}

// Get resolves id to its item. A found id whose cell holds nil reports false.
func (t *Table[T]) Get(id int) (*T, bool) {
	i, ok := t.Lookup(id)
	if !ok || t.items[i] == nil {
		return nil, false
	}
	return t.items[i], true
}

// FreeEntry resets the cell at index. There is no occupancy check: callers
// only free indices they resolved themselves.
func (t *Table[T]) FreeEntry(index int) {
	if id := t.ids[index]; id != Free {
		delete(t.index, id)
	}
	t.ids[index] = Free
	t.items[index] = nil
}

// ListEntries copies the occupied ids, in table order, into buf and returns
// how many were written. buf must hold at least Len() ids.
func (t *Table[T]) ListEntries(buf []int) int {
	n := 0
	for _, id := range t.ids {
		if id == Free {
			continue
		}
		buf[n] = id
		n++
	}
	return n
}

// IDs returns a fresh slice of the occupied ids in table order.
func (t *Table[T]) IDs() []int {
	buf := make([]int, t.Len())
	return buf[:t.ListEntries(buf)]
}

// Each calls fn for every occupied cell in table order until fn returns false.
func (t *Table[T]) Each(fn func(index, id int, item *T) bool) {
	for i, id := range t.ids {
		if id == Free {
			continue
		}
		if !fn(i, id, t.items[i]) {
			return
		}
	}
}
