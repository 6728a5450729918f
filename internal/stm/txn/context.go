package txn

import (
	"unsafe"

	"github.com/kolkov/lsastm/internal/stm/clock"
	"github.com/kolkov/lsastm/internal/stm/hints"
	"github.com/kolkov/lsastm/internal/stm/locktable"
	"github.com/kolkov/lsastm/internal/stm/lockword"
)

// Options configures per-context behavior. Both knobs are process-wide in
// practice (every context of a runtime gets the same values) and read once at
// startup.
type Options struct {
	// ReadOnlyHints enables the read-only hint subsystem: blocks with no
	// write history run a cheaper path that skips read-set maintenance
	// until a write proves the hint wrong.
	ReadOnlyHints bool

	// ReadLocked makes reads treat any owned slot as contention, including
	// slots owned by this context. Writes still detect self-ownership,
	// otherwise a transaction would conflict with itself on re-entry.
	ReadLocked bool
}

// Context is the per-thread transaction state machine: begin, typed reads,
// typed writes, validate, extend, commit, rollback.
//
// A context runs at most one transaction at a time and is not safe for
// concurrent use; each OS thread (or goroutine pinned to the workload) owns
// its context. The lock table, clock, and hint table behind it are shared.
//
// The snapshot window [start, end] brackets the clock values for which the
// transaction's reads are known consistent. Reads beyond the window trigger
// extension; extension revalidates the read set and raises end.
type Context struct {
	id    int64
	table *locktable.Table
	clock *clock.Clock
	hints *hints.Table
	opts  Options
	stats *Stats

	blockID       int
	readWriteHint bool
	start         int64
	end           int64

	readSet  []ReadAccess
	writeSet map[uint64]*WriteAccess

	// Scratch carried from BeforeReadAccess to the paired read. Holds the
	// slot index and the lock word observed before the field load.
	readSlot uint64
	readLock lockword.Word
}

// NewContext creates a context bound to the given shared state. The id must
// be unique among live contexts of the same table; it is the ownership token
// stored in lock words.
func NewContext(id int64, table *locktable.Table, clk *clock.Clock, ht *hints.Table, opts Options, stats *Stats) *Context {
	return &Context{
		id:    id,
		table: table,
		clock: clk,
		hints: ht,
		opts:  opts,
		stats: stats,
	}
}

// ID returns the context's ownership id.
func (c *Context) ID() int64 {
	return c.id
}

// Start begins a new transaction attempt for the given atomic block. It
// clears the read and write sets and anchors the snapshot window at the
// current clock value.
//
// With hints enabled, the block's hint decides whether this attempt maintains
// a read set at all: a block that has never written runs read-only until a
// write flips the hint.
func (c *Context) Start(blockID int) {
	c.blockID = blockID
	c.readSet = c.readSet[:0]

	if len(c.writeSet) > 0 {
		clear(c.writeSet)
	}

	c.start = c.clock.Current()
	c.end = c.start

	c.readWriteHint = true
	if c.opts.ReadOnlyHints {
		c.readWriteHint = c.hints.ReadWrite(blockID)
	}

	c.stats.begins.Add(1)
}

// StartTime returns the snapshot window's lower bound for the current attempt.
func (c *Context) StartTime() int64 {
	return c.start
}

// EndTime returns the snapshot window's validated upper bound.
func (c *Context) EndTime() int64 {
	return c.end
}

// BeforeReadAccess hashes the location and samples its lock word ahead of the
// field load. The observed word is stashed for the paired typed read. Fails
// with ErrLockedByOther when a foreign context owns the slot (or any context,
// in read-locked mode).
func (c *Context) BeforeReadAccess(base unsafe.Pointer, offset int64) error {
	self := c.id
	if c.opts.ReadLocked {
		self = lockword.NoOwner
	}

	slot := c.table.Slot(base, offset)

	w, err := c.table.CheckLock(slot, self)
	if err != nil {
		c.stats.lockedByOther.Add(1)
		return err
	}

	c.readSlot = slot
	c.readLock = w

	return nil
}

// addRead completes the read begun by BeforeReadAccess and returns the
// consistent value of the field.
//
// A slot already owned by this transaction short-circuits: a matching pending
// write returns its value; otherwise the field's program-visible value is
// returned without recording a read entry — ownership of the slot until
// commit validates that read implicitly, since only this context's own
// commit or rollback can change the word.
//
// The free path is the timestamp sandwich: observe the lock word, load the
// field, re-check the word. A matching re-check proves the load saw the value
// committed at that version with no writer holding the slot in between.
// Versions beyond the snapshot window trigger extension.
func (c *Context) addRead(base unsafe.Pointer, offset int64, tag TypeTag) (rawValue, error) {
	slot, w := c.readSlot, c.readLock
	addr := fieldAddr(base, offset)

	if lockword.Owned(w) {
		// CheckLock filtered foreign owners, so this slot is ours.
		for wa := c.writeSet[slot]; wa != nil; wa = wa.Next {
			if wa.matches(base, offset) {
				return wa.pending, nil
			}
		}

		return loadRaw(addr, tag), nil
	}

	for {
		if lockword.Version(w) > c.end {
			if !c.Extend() {
				c.stats.extendFailed.Add(1)
				return rawValue{}, ErrExtendFailed
			}

			continue
		}

		v := loadRaw(addr, tag)

		recheck := c.table.Load(slot)
		if recheck != w {
			if lockword.Owned(recheck) {
				c.stats.lockedByOther.Add(1)
				return rawValue{}, ErrLockedByOther
			}

			w = recheck

			continue
		}

		if c.readWriteHint {
			c.readSet = append(c.readSet, ReadAccess{Base: base, Offset: offset, Slot: slot, Observed: w})
		}

		return v, nil
	}
}

// addWrite logs a pending write to the location, acquiring the slot if this
// transaction does not own it yet.
//
// The first write of a hinted read-only attempt flips the block's hint and
// aborts; the retry sees the flipped hint and runs the full path.
//
// Re-entry on an owned slot walks the chain: a matching location has its
// pending value overwritten, a new location joins the chain tail sharing the
// head's saved previous word. A freshly acquired slot whose version is beyond
// the snapshot window is a hazard only if this transaction already read the
// location; in that case the slot is restored and the write aborts. Otherwise
// the stale window is left for commit-time validation to demand extension.
func (c *Context) addWrite(base unsafe.Pointer, offset int64, tag TypeTag, v rawValue) error {
	if !c.readWriteHint {
		c.hints.MarkReadWrite(c.blockID)
		c.stats.readOnlyHint.Add(1)

		return ErrReadOnlyHint
	}

	slot := c.table.Slot(base, offset)

	prev, err := c.table.Lock(slot, c.id)
	if err != nil {
		c.stats.lockedByOther.Add(1)
		return err
	}

	if lockword.Owned(prev) {
		wa := c.writeSet[slot]
		for {
			if wa.matches(base, offset) {
				wa.Tag = tag
				wa.pending = v

				return nil
			}

			if wa.Next == nil {
				break
			}

			wa = wa.Next
		}

		wa.Next = &WriteAccess{
			Base:    base,
			Offset:  offset,
			Slot:    slot,
			Tag:     tag,
			Prev:    c.writeSet[slot].Prev,
			pending: v,
		}

		return nil
	}

	if lockword.Version(prev) > c.end && c.inReadSet(base, offset) {
		c.table.SetAndRelease(slot, prev)
		c.stats.writeAfterRead.Add(1)

		return ErrWriteAfterRead
	}

	if c.writeSet == nil {
		c.writeSet = make(map[uint64]*WriteAccess, 8)
	}

	c.writeSet[slot] = &WriteAccess{
		Base:    base,
		Offset:  offset,
		Slot:    slot,
		Tag:     tag,
		Prev:    prev,
		pending: v,
	}

	return nil
}

// inReadSet scans the read set for an entry on exactly this location.
func (c *Context) inReadSet(base unsafe.Pointer, offset int64) bool {
	for i := range c.readSet {
		if c.readSet[i].Base == base && c.readSet[i].Offset == offset {
			return true
		}
	}

	return false
}

// Validate re-checks every read against the lock table. A read stays valid if
// its slot still holds the observed word, or if this transaction has since
// acquired the slot itself (a later write locked it; ownership covers it).
// A foreign owner or a changed version invalidates the snapshot.
func (c *Context) Validate() bool {
	for i := range c.readSet {
		r := &c.readSet[i]

		w := c.table.Load(r.Slot)
		if w == r.Observed {
			continue
		}

		if lockword.OwnedBy(w, c.id) {
			continue
		}

		return false
	}

	return true
}

// Extend tries to raise the snapshot window's upper bound to the current
// clock value. The new bound holds only if every read remains valid at it.
func (c *Context) Extend() bool {
	now := c.clock.Current()
	if !c.Validate() {
		return false
	}

	c.end = now
	c.stats.extensions.Add(1)

	return true
}

// Commit attempts to make the transaction's writes visible atomically.
//
// A read-only transaction commits immediately: its reads were each validated
// against the snapshot window as they happened, and the clock is untouched.
//
// A writing transaction draws its commit version from the clock. Drawing
// start+1 proves no other writer committed inside the window, so validation
// is skipped; otherwise the read set is revalidated and a failure rolls the
// transaction back. The publish phase writes every pending value on a chain
// before releasing that chain's slot to the commit version — once per slot —
// so no transaction can observe a partially published chain.
func (c *Context) Commit() bool {
	if len(c.writeSet) == 0 {
		c.stats.readOnlyCommits.Add(1)
		c.discard()

		return true
	}

	newClock := c.clock.IncrementAndGet()

	if newClock != c.start+1 && !c.Validate() {
		c.stats.validationFailed.Add(1)
		c.Rollback()

		return false
	}

	for slot, head := range c.writeSet {
		for wa := head; wa != nil; wa = wa.Next {
			storeRaw(fieldAddr(wa.Base, wa.Offset), wa.Tag, wa.pending)
		}

		c.table.SetAndRelease(slot, lockword.Word(newClock))
	}

	c.stats.commits.Add(1)
	c.discard()

	return true
}

// Rollback releases every slot the transaction owns back to the word present
// before acquisition and discards the logs. After rollback the lock table is
// indistinguishable from a state in which the transaction never ran.
//
// Safe to call more than once per attempt; a second call finds nothing to
// restore.
func (c *Context) Rollback() {
	for slot, head := range c.writeSet {
		c.table.SetAndRelease(slot, head.Prev)
	}

	c.discard()
}

// discard drops the attempt's access descriptors.
func (c *Context) discard() {
	c.readSet = c.readSet[:0]

	if len(c.writeSet) > 0 {
		clear(c.writeSet)
	}
}
