// Package hints implements the read-only hint table.
//
// The table maps an atomic-block identifier to a boolean recording whether
// any past execution of that block ever wrote. A transaction that begins on a
// block with no write history takes a cheaper read-only path that skips
// read-set maintenance; the first write under that assumption flips the hint
// and aborts, and the retry runs the full read-write path.
//
// Staleness is benign. A begin may sample the hint just before a concurrent
// flip lands; the worst case is one extra spurious abort, after which the
// flipped hint is observed. Hints persist for the process lifetime and are
// never cleared.
package hints

import "sync"

// Table is the process-wide hint store. The zero value is ready to use.
//
// Backed by sync.Map: reads vastly outnumber writes (each block flips at most
// once), which is exactly the access pattern sync.Map is built for.
type Table struct {
	wrote sync.Map // map[int]struct{} - presence means the block has written
}

// New creates an empty hint table.
func New() *Table {
	return &Table{}
}

// ReadWrite reports whether the block has ever executed a write.
// Unknown blocks report false.
//
//go:nosplit
func (t *Table) ReadWrite(blockID int) bool {
	_, ok := t.wrote.Load(blockID)
	return ok
}

// MarkReadWrite records that the block has written. Idempotent and safe for
// concurrent use with ReadWrite.
func (t *Table) MarkReadWrite(blockID int) {
	t.wrote.Store(blockID, struct{}{})
}
