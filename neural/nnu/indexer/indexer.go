// Package indexer assigns stable integer indices to items in the order they
// are first seen.
package indexer

// Indexer is a bijection between items and consecutive integers starting at
// an offset. Indices are assigned in first-seen order, so two indexers fed
// the same sequence always agree.
type Indexer[T comparable] struct {
	offset  int
	indices map[T]int
	items   []T
}

// New returns an empty Indexer whose first assigned index is offset.
func New[T comparable](offset int) *Indexer[T] {
	return &Indexer[T]{
		offset:  offset,
		indices: make(map[T]int),
	}
}

// Build creates an Indexer starting at offset and adds every item in order.
func Build[T comparable](offset int, items ...T) *Indexer[T] {
	ix := New[T](offset)
	for _, item := range items {
		ix.Add(item)
	}
	return ix
}

// Add returns the index of item, assigning the next free index when the item
// has not been seen before.
func (ix *Indexer[T]) Add(item T) int {
	if idx, ok := ix.indices[item]; ok {
		return idx
	}
	idx := ix.offset + len(ix.items)
	ix.indices[item] = idx
	ix.items = append(ix.items, item)
	return idx
}

// Index looks up the index of item.
func (ix *Indexer[T]) Index(item T) (int, bool) {
	idx, ok := ix.indices[item]
	return idx, ok
}

// Item looks up the item with the given index.
func (ix *Indexer[T]) Item(idx int) (T, bool) {
	var zero T
	pos := idx - ix.offset
	if pos < 0 || pos >= len(ix.items) {
		return zero, false
	}
	return ix.items[pos], true
}

// Len returns the number of indexed items.
func (ix *Indexer[T]) Len() int {
	return len(ix.items)
}

// Offset returns the index assigned to the first item.
func (ix *Indexer[T]) Offset() int {
	return ix.offset
}

// Items returns the inverse mapping: Items()[i] has index Offset()+i.
func (ix *Indexer[T]) Items() []T {
	out := make([]T, len(ix.items))
	copy(out, ix.items)
	return out
}

// Mapping returns a copy of the item -> index map.
func (ix *Indexer[T]) Mapping() map[T]int {
	out := make(map[T]int, len(ix.indices))
	for k, v := range ix.indices {
		out[k] = v
	}
	return out
}
