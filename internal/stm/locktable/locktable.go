// Package locktable implements the versioned lock table: a fixed-size array
// of 64-bit atomic lock words that arbitrates exclusive access to memory
// locations and publishes the most recent committed version per location hash.
//
// A memory location is identified by (base pointer, field offset). The pair is
// hashed to a slot; distinct locations may share a slot, in which case they
// share the slot's version and its ownership. Collisions within one
// transaction are resolved by the write set's per-slot chains, not here.
//
// # Contention policy
//
// Every operation either succeeds or fails immediately with ErrLockedByOther.
// There is no blocking, no backoff, no queueing; the caller aborts its
// transaction and the user layer retries.
//
// # Memory ordering
//
// Lock-word loads and the CAS/store pairs below go through sync/atomic, whose
// operations are sequentially consistent. The protocol only requires
// acquire loads and release stores here, so the stdlib semantics are strictly
// stronger than needed.
package locktable

import (
	"errors"
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/kolkov/lsastm/internal/stm/lockword"
)

// ErrLockedByOther reports that a slot is owned by a foreign context.
// It is a non-fatal abort signal: the observing transaction unwinds and
// retries.
var ErrLockedByOther = errors.New("stm: slot locked by another context")

// DefaultSize is the lock-table size used when configuration does not pick
// one. 2^20 slots × 8 bytes = 8MB.
const DefaultSize = 1 << 20

// Table is the shared lock table. All slots start as free-with-version 0, so
// a fresh process can read every location immediately.
//
// Slots live for the lifetime of the table; only their values mutate.
type Table struct {
	words []atomic.Int64
	mask  uint64
}

// New creates a table with the given number of slots. The size must be a
// positive power of two; the hash reduces to a slot index via bitmask.
func New(size int) *Table {
	if size <= 0 || size&(size-1) != 0 {
		panic(fmt.Sprintf("locktable: size must be a positive power of two, got %d", size))
	}

	return &Table{
		words: make([]atomic.Int64, size),
		mask:  uint64(size - 1),
	}
}

// Size returns the number of slots.
func (t *Table) Size() int {
	return len(t.words)
}

// Slot hashes a location to its slot index. The hash is deterministic and
// stable for the lifetime of the object (Go's collector does not move heap
// objects), uniformly distributing via a multiplicative mixing constant.
//
//go:nosplit
func (t *Table) Slot(base unsafe.Pointer, offset int64) uint64 {
	// Golden-ratio multiplicative hash; mixing the offset in before the
	// multiply keeps fields of the same object from clustering.
	const goldenRatio = 0x9E3779B97F4A7C15

	h := (uint64(uintptr(base)) + uint64(offset)) * goldenRatio

	// Fold the well-mixed top bits down before masking.
	return (h >> 32) & t.mask
}

// Load atomically reads a slot's word without any ownership interpretation.
// Validation and the read-path recheck use this directly.
//
//go:nosplit
func (t *Table) Load(slot uint64) lockword.Word {
	return lockword.Word(t.words[slot].Load())
}

// CheckLock atomically loads the slot's word and classifies it against the
// caller. Returns the word unchanged when the slot is free or owned by self;
// fails with ErrLockedByOther when a foreign context owns it. Never blocks.
//
// Passing lockword.NoOwner as self makes every owned slot read as foreign
// (read-locked mode).
//
//go:nosplit
func (t *Table) CheckLock(slot uint64, self int64) (lockword.Word, error) {
	w := lockword.Word(t.words[slot].Load())
	if lockword.Owned(w) && lockword.Owner(w) != self {
		return 0, ErrLockedByOther
	}

	return w, nil
}

// Lock transitions a free slot to owned-by-self with a single compare-and-
// swap, returning the previous free-with-version word. If the slot is already
// owned by self it returns the owned word unchanged. Any other outcome —
// foreign owner, or a CAS lost to a concurrent transition — fails with
// ErrLockedByOther. There are no retries beyond the one CAS.
func (t *Table) Lock(slot uint64, self int64) (lockword.Word, error) {
	w := lockword.Word(t.words[slot].Load())
	if lockword.Owned(w) {
		if lockword.Owner(w) == self {
			return w, nil
		}

		return 0, ErrLockedByOther
	}

	if !t.words[slot].CompareAndSwap(int64(w), int64(lockword.Own(self))) {
		return 0, ErrLockedByOther
	}

	return w, nil
}

// SetAndRelease atomically stores w into the slot. The caller must currently
// own the slot; w is either the new commit version or the saved previous
// word on rollback. The store is the release that makes the slot's values
// visible to subsequent acquire loads.
//
//go:nosplit
func (t *Table) SetAndRelease(slot uint64, w lockword.Word) {
	t.words[slot].Store(int64(w))
}
