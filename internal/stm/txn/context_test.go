package txn

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kolkov/lsastm/internal/stm/clock"
	"github.com/kolkov/lsastm/internal/stm/hints"
	"github.com/kolkov/lsastm/internal/stm/locktable"
	"github.com/kolkov/lsastm/internal/stm/lockword"
)

// harness assembles the shared state one runtime would own, so each test
// constructs an isolated engine.
type harness struct {
	table *locktable.Table
	clk   *clock.Clock
	ht    *hints.Table
	stats *Stats
	opts  Options
	next  int64
}

func newHarness(tableSize int, opts Options) *harness {
	return &harness{
		table: locktable.New(tableSize),
		clk:   clock.New(),
		ht:    hints.New(),
		stats: NewStats(),
		opts:  opts,
	}
}

func (h *harness) context() *Context {
	id := h.next
	h.next++

	return NewContext(id, h.table, h.clk, h.ht, h.opts, h.stats)
}

func TestFreshLocationsReadableAtTimeZero(t *testing.T) {
	h := newHarness(1<<10, Options{})
	c := h.context()

	var x int64 = 42
	base := unsafe.Pointer(&x)

	c.Start(1)
	assert.EqualValues(t, 0, c.StartTime())

	v, err := c.ReadInt64(base, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 42, v)

	require.Len(t, c.readSet, 1)
	assert.Equal(t, lockword.Unlocked, c.readSet[0].Observed)

	assert.True(t, c.Commit())
}

func TestReadAfterWriteReturnsPending(t *testing.T) {
	h := newHarness(1<<10, Options{})
	c := h.context()

	var x int64
	base := unsafe.Pointer(&x)

	c.Start(1)
	require.NoError(t, c.WriteInt64(base, 0, 5))

	v, err := c.ReadInt64(base, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 5, v)

	// The pending value is invisible until commit.
	assert.EqualValues(t, 0, x)

	require.True(t, c.Commit())
	assert.EqualValues(t, 5, x)
}

func TestWriteCoalescing(t *testing.T) {
	h := newHarness(1<<10, Options{})
	c := h.context()

	var x int64
	base := unsafe.Pointer(&x)

	c.Start(1)
	require.NoError(t, c.WriteInt64(base, 0, 1))
	require.NoError(t, c.WriteInt64(base, 0, 2))

	// Rewriting the same location overwrites in place, no chain growth.
	slot := h.table.Slot(base, 0)
	head := c.writeSet[slot]
	require.NotNil(t, head)
	assert.Nil(t, head.Next)

	require.True(t, c.Commit())
	assert.EqualValues(t, 2, x)
}

func TestReadOnlyCommitLeavesClockUntouched(t *testing.T) {
	h := newHarness(1<<10, Options{})
	c := h.context()

	var x int64 = 9
	base := unsafe.Pointer(&x)

	c.Start(1)

	_, err := c.ReadInt64(base, 0)
	require.NoError(t, err)

	require.True(t, c.Commit())
	assert.EqualValues(t, 0, h.clk.Current())
}

func TestSingleThreadedCounter(t *testing.T) {
	h := newHarness(1<<10, Options{})
	c := h.context()

	var counter int64
	base := unsafe.Pointer(&counter)

	for i := 0; i < 1000; i++ {
		c.Start(1)

		v, err := c.ReadInt64(base, 0)
		require.NoError(t, err)

		require.NoError(t, c.WriteInt64(base, 0, v+1))
		require.True(t, c.Commit())
	}

	assert.EqualValues(t, 1000, counter)
	assert.EqualValues(t, 1000, h.clk.Current(), "every writing commit advances the clock once")
}

func TestDuplicateReadsAreKept(t *testing.T) {
	h := newHarness(1<<10, Options{})
	c := h.context()

	var x int64
	base := unsafe.Pointer(&x)

	c.Start(1)

	_, err := c.ReadInt64(base, 0)
	require.NoError(t, err)
	_, err = c.ReadInt64(base, 0)
	require.NoError(t, err)

	assert.Len(t, c.readSet, 2)
}

func TestCollidingWritesShareChain(t *testing.T) {
	// One slot total: every location collides.
	h := newHarness(1, Options{})
	c := h.context()

	var a, b int64
	baseA, baseB := unsafe.Pointer(&a), unsafe.Pointer(&b)

	c.Start(1)
	require.NoError(t, c.WriteInt64(baseA, 0, 7))
	require.NoError(t, c.WriteInt64(baseB, 0, 8))

	head := c.writeSet[0]
	require.NotNil(t, head)
	require.NotNil(t, head.Next, "colliding locations chain on one slot")
	assert.Equal(t, head.Prev, head.Next.Prev, "chain shares the saved previous word")

	va, err := c.ReadInt64(baseA, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 7, va)

	vb, err := c.ReadInt64(baseB, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 8, vb)

	require.True(t, c.Commit())
	assert.EqualValues(t, 7, a)
	assert.EqualValues(t, 8, b)
	assert.Equal(t, lockword.Word(1), h.table.Load(0), "single release carries the commit version")
}

func TestReadOfUnwrittenLocationOnOwnedSlot(t *testing.T) {
	h := newHarness(1, Options{})
	c := h.context()

	var a, b int64 = 0, 33
	baseA, baseB := unsafe.Pointer(&a), unsafe.Pointer(&b)

	c.Start(1)
	require.NoError(t, c.WriteInt64(baseA, 0, 7))

	// b shares a's slot through collision but was never written by us: the
	// read returns the program-visible value and records nothing — slot
	// ownership until commit validates it implicitly.
	v, err := c.ReadInt64(baseB, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 33, v)
	assert.Empty(t, c.readSet)

	require.True(t, c.Commit())
	assert.EqualValues(t, 33, b, "unwritten collision neighbor keeps its value")
}

func TestRollbackRestoresLockTable(t *testing.T) {
	h := newHarness(1<<10, Options{})
	c := h.context()

	var a, b int64
	baseA, baseB := unsafe.Pointer(&a), unsafe.Pointer(&b)

	slotA := h.table.Slot(baseA, 0)
	slotB := h.table.Slot(baseB, 0)

	c.Start(1)
	require.NoError(t, c.WriteInt64(baseA, 0, 1))
	require.NoError(t, c.WriteInt64(baseB, 0, 2))

	c.Rollback()

	assert.Equal(t, lockword.Unlocked, h.table.Load(slotA))
	assert.Equal(t, lockword.Unlocked, h.table.Load(slotB))
	assert.EqualValues(t, 0, a)
	assert.EqualValues(t, 0, b)
	assert.EqualValues(t, 0, h.clk.Current())

	// A second rollback finds nothing to restore.
	c.Rollback()
	assert.Equal(t, lockword.Unlocked, h.table.Load(slotA))
}

func TestReadLockedModeAbortsOnOwnSlot(t *testing.T) {
	h := newHarness(1<<8, Options{ReadLocked: true})
	c := h.context()

	var x int64
	base := unsafe.Pointer(&x)

	c.Start(1)
	require.NoError(t, c.WriteInt64(base, 0, 1))

	_, err := c.ReadInt64(base, 0)
	assert.ErrorIs(t, err, ErrLockedByOther)

	c.Rollback()
}

func TestSelfOwnershipReadWithoutReadLockedMode(t *testing.T) {
	h := newHarness(1<<8, Options{})
	c := h.context()

	var x int64
	base := unsafe.Pointer(&x)

	c.Start(1)
	require.NoError(t, c.WriteInt64(base, 0, 1))

	v, err := c.ReadInt64(base, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, v)

	c.Rollback()
}

type payload struct {
	i64 int64
	i32 int32
	u32 uint32
	u64 uint64
	f64 float64
	f32 float32
	b   bool
	ref unsafe.Pointer
}

func TestTypedAccessRoundTrips(t *testing.T) {
	h := newHarness(1<<10, Options{})
	c := h.context()

	var p payload

	var target int64 = 1
	base := unsafe.Pointer(&p)

	offI64 := int64(unsafe.Offsetof(p.i64))
	offI32 := int64(unsafe.Offsetof(p.i32))
	offU32 := int64(unsafe.Offsetof(p.u32))
	offU64 := int64(unsafe.Offsetof(p.u64))
	offF64 := int64(unsafe.Offsetof(p.f64))
	offF32 := int64(unsafe.Offsetof(p.f32))
	offB := int64(unsafe.Offsetof(p.b))
	offRef := int64(unsafe.Offsetof(p.ref))

	c.Start(1)
	require.NoError(t, c.WriteInt64(base, offI64, -64))
	require.NoError(t, c.WriteInt32(base, offI32, -32))
	require.NoError(t, c.WriteUint32(base, offU32, 32))
	require.NoError(t, c.WriteUint64(base, offU64, 64))
	require.NoError(t, c.WriteFloat64(base, offF64, 6.25))
	require.NoError(t, c.WriteFloat32(base, offF32, -0.5))
	require.NoError(t, c.WriteBool(base, offB, true))
	require.NoError(t, c.WritePointer(base, offRef, unsafe.Pointer(&target)))

	// Pending values are visible to the transaction's own reads.
	i64, err := c.ReadInt64(base, offI64)
	require.NoError(t, err)
	assert.EqualValues(t, -64, i64)

	f32, err := c.ReadFloat32(base, offF32)
	require.NoError(t, err)
	assert.EqualValues(t, float32(-0.5), f32)

	bv, err := c.ReadBool(base, offB)
	require.NoError(t, err)
	assert.True(t, bv)

	ref, err := c.ReadPointer(base, offRef)
	require.NoError(t, err)
	assert.Equal(t, unsafe.Pointer(&target), ref)

	require.True(t, c.Commit())

	assert.EqualValues(t, -64, p.i64)
	assert.EqualValues(t, -32, p.i32)
	assert.EqualValues(t, 32, p.u32)
	assert.EqualValues(t, 64, p.u64)
	assert.EqualValues(t, 6.25, p.f64)
	assert.EqualValues(t, float32(-0.5), p.f32)
	assert.True(t, p.b)
	assert.Equal(t, unsafe.Pointer(&target), p.ref)
}

func TestStatsCounters(t *testing.T) {
	h := newHarness(1<<8, Options{})
	c := h.context()

	var x int64
	base := unsafe.Pointer(&x)

	c.Start(1)
	_, err := c.ReadInt64(base, 0)
	require.NoError(t, err)
	require.True(t, c.Commit())

	c.Start(1)
	require.NoError(t, c.WriteInt64(base, 0, 1))
	require.True(t, c.Commit())

	snap := h.stats.Snapshot()
	assert.EqualValues(t, 2, snap.Begins)
	assert.EqualValues(t, 1, snap.Commits)
	assert.EqualValues(t, 1, snap.ReadOnlyCommits)
	assert.EqualValues(t, 0, snap.Aborts())

	assert.Contains(t, h.stats.Summary(), "2 begun")
}
