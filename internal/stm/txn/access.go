package txn

import (
	"math"
	"unsafe"

	"github.com/kolkov/lsastm/internal/stm/lockword"
)

// TypeTag selects the width and kind of a transactional memory access. The
// tag travels with each write access so commit can write the pending value
// back through a correctly-typed store.
type TypeTag uint8

// Access kinds, one per supported primitive width plus references.
const (
	TagInt64 TypeTag = iota
	TagInt32
	TagUint64
	TagUint32
	TagFloat64
	TagFloat32
	TagBool
	TagPointer
)

// rawValue carries a pending or loaded value in type-erased form. Numeric and
// boolean values live in bits; references live in ptr so they stay visible to
// the garbage collector.
type rawValue struct {
	bits uint64
	ptr  unsafe.Pointer
}

// ReadAccess records one validated read: the location, its slot, and the
// free-with-version lock word observed by the timestamp sandwich. The read
// set is an insertion-ordered sequence of these; duplicates are permitted and
// not eliminated.
type ReadAccess struct {
	Base     unsafe.Pointer
	Offset   int64
	Slot     uint64
	Observed lockword.Word
}

// WriteAccess records one pending write. Writes to distinct locations that
// hash to the same slot share that slot's single ownership and live on a
// singly-linked chain rooted at the write-set entry; every access on a chain
// carries the same Prev, the lock word present when the transaction first
// acquired the slot, which rollback restores.
type WriteAccess struct {
	Base   unsafe.Pointer
	Offset int64
	Slot   uint64
	Tag    TypeTag
	Prev   lockword.Word
	Next   *WriteAccess

	pending rawValue
}

// matches reports whether the access is for exactly the given location.
func (w *WriteAccess) matches(base unsafe.Pointer, offset int64) bool {
	return w.Base == base && w.Offset == offset
}

// fieldAddr resolves a (base, offset) location to the field's address.
//
//go:nosplit
func fieldAddr(base unsafe.Pointer, offset int64) unsafe.Pointer {
	return unsafe.Add(base, offset)
}

// loadRaw reads the program-visible value of a field in type-erased form.
// The caller establishes consistency around this load (timestamp sandwich or
// slot ownership); the load itself is a plain memory access.
func loadRaw(p unsafe.Pointer, tag TypeTag) rawValue {
	switch tag {
	case TagInt64:
		return rawValue{bits: uint64(*(*int64)(p))}
	case TagInt32:
		return rawValue{bits: uint64(uint32(*(*int32)(p)))}
	case TagUint64:
		return rawValue{bits: *(*uint64)(p)}
	case TagUint32:
		return rawValue{bits: uint64(*(*uint32)(p))}
	case TagFloat64:
		return rawValue{bits: math.Float64bits(*(*float64)(p))}
	case TagFloat32:
		return rawValue{bits: uint64(math.Float32bits(*(*float32)(p)))}
	case TagBool:
		if *(*bool)(p) {
			return rawValue{bits: 1}
		}

		return rawValue{}
	case TagPointer:
		return rawValue{ptr: *(*unsafe.Pointer)(p)}
	default:
		panic("txn: unknown type tag")
	}
}

// storeRaw writes a pending value back through the width its tag names.
// Called only by commit's publish phase, while the slot is still owned.
func storeRaw(p unsafe.Pointer, tag TypeTag, v rawValue) {
	switch tag {
	case TagInt64:
		*(*int64)(p) = int64(v.bits)
	case TagInt32:
		*(*int32)(p) = int32(uint32(v.bits))
	case TagUint64:
		*(*uint64)(p) = v.bits
	case TagUint32:
		*(*uint32)(p) = uint32(v.bits)
	case TagFloat64:
		*(*float64)(p) = math.Float64frombits(v.bits)
	case TagFloat32:
		*(*float32)(p) = math.Float32frombits(uint32(v.bits))
	case TagBool:
		*(*bool)(p) = v.bits != 0
	case TagPointer:
		*(*unsafe.Pointer)(p) = v.ptr
	default:
		panic("txn: unknown type tag")
	}
}
