package highrisk

import (
	"github.com/veritrace/veritrace/internal/crypto"
)

// Index is the mutable set of currently high-risk item identifiers. It is
// backed by a dense array plus an identifier-to-position map so that both
// insertion and removal are O(1) regardless of size or removal order.
// Positions are stored 1-based; 0 means absent. Removal moves the last
// element into the vacated slot, so insertion order is not preserved and
// callers must treat the index as a set.
type Index struct {
	items    []crypto.Hash
	position map[crypto.Hash]int
}

func NewIndex() *Index {
	return &Index{
		position: make(map[crypto.Hash]int),
	}
}

// Contains reports whether the item is currently flagged.
func (ix *Index) Contains(id crypto.Hash) bool {
	return ix.position[id] != 0
}

// Len returns the number of flagged items.
func (ix *Index) Len() int {
	return len(ix.items)
}

// SetFlag toggles an item's membership. It is idempotent: setting a flag
// to its current value is a no-op.
func (ix *Index) SetFlag(id crypto.Hash, flagged bool) {
	if flagged == ix.Contains(id) {
		return
	}
	if flagged {
		ix.items = append(ix.items, id)
		ix.position[id] = len(ix.items)
		return
	}

	pos := ix.position[id] - 1
	last := len(ix.items) - 1
	if pos != last {
		moved := ix.items[last]
		ix.items[pos] = moved
		ix.position[moved] = pos + 1
	}
	ix.items = ix.items[:last]
	delete(ix.position, id)
}

// List returns up to limit identifiers starting at the offset cursor, and
// the cursor for the next page (0 when the listing is exhausted). Removals
// between calls may reorder entries; callers must tolerate ids shifting.
func (ix *Index) List(cursor, limit uint32) ([]crypto.Hash, uint32) {
	if limit == 0 || int(cursor) >= len(ix.items) {
		return nil, 0
	}
	end := int(cursor) + int(limit)
	if end > len(ix.items) {
		end = len(ix.items)
	}
	page := make([]crypto.Hash, end-int(cursor))
	copy(page, ix.items[cursor:end])

	next := uint32(end)
	if end == len(ix.items) {
		next = 0
	}
	return page, next
}

// Snapshot returns a copy of the backing array, used for persistence.
func (ix *Index) Snapshot() []crypto.Hash {
	out := make([]crypto.Hash, len(ix.items))
	copy(out, ix.items)
	return out
}

// Restore replaces the index content with the given identifiers.
func (ix *Index) Restore(ids []crypto.Hash) {
	ix.items = make([]crypto.Hash, 0, len(ids))
	ix.position = make(map[crypto.Hash]int, len(ids))
	for _, id := range ids {
		ix.SetFlag(id, true)
	}
}
