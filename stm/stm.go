// Package stm provides the public API for the word-based STM runtime.
//
// See doc.go for detailed documentation and examples.
package stm

import (
	"os"
	"sync/atomic"
	"unsafe"

	"github.com/kolkov/lsastm/internal/stm/clock"
	"github.com/kolkov/lsastm/internal/stm/config"
	"github.com/kolkov/lsastm/internal/stm/hints"
	"github.com/kolkov/lsastm/internal/stm/locktable"
	"github.com/kolkov/lsastm/internal/stm/txn"
)

// Abort signals surfaced by mid-transaction operations. User code inside an
// atomic block normally just returns the error it received; the retry loop in
// Run recognizes these and retries. Everything else propagates to the caller.
var (
	ErrLockedByOther  = txn.ErrLockedByOther
	ErrExtendFailed   = txn.ErrExtendFailed
	ErrWriteAfterRead = txn.ErrWriteAfterRead
	ErrReadOnlyHint   = txn.ErrReadOnlyHint
)

// IsAbort reports whether err is a transaction abort signal.
func IsAbort(err error) bool {
	return txn.IsAbort(err)
}

// Options configures a runtime. The zero value is not usable; start from
// DefaultOptions or LoadOptions.
type Options struct {
	// ReadOnlyHints enables the per-block read-only hint optimization.
	ReadOnlyHints bool

	// ReadLocked makes reads abort on any locked slot, including slots this
	// transaction owns.
	ReadLocked bool

	// TableSize is the lock-table slot count; must be a power of two.
	TableSize int
}

// DefaultOptions returns the built-in defaults: both modes off, 2^20 slots.
func DefaultOptions() Options {
	return fromConfig(config.Default())
}

// LoadOptions discovers options from the working directory's .stmgo.json
// file and the STMGO environment variable, on top of the defaults.
func LoadOptions() (Options, error) {
	wd, err := os.Getwd()
	if err != nil {
		return Options{}, err
	}

	cfg, err := config.Load(wd, os.Environ())
	if err != nil {
		return Options{}, err
	}

	return fromConfig(cfg), nil
}

func fromConfig(cfg config.Config) Options {
	return Options{
		ReadOnlyHints: cfg.ReadOnlyHints,
		ReadLocked:    cfg.ReadLocked,
		TableSize:     cfg.TableSize,
	}
}

// Runtime owns the shared state of one STM instance: the versioned lock
// table, the global clock, and the read-only hint table. Runtimes are
// explicitly constructed — there is no package-level instance — so tests and
// embedders can run isolated engines side by side.
type Runtime struct {
	table  *locktable.Table
	clock  *clock.Clock
	hints  *hints.Table
	opts   txn.Options
	stats  *txn.Stats
	nextID atomic.Int64
}

// New creates a runtime with the given options.
func New(opts Options) (*Runtime, error) {
	cfg := config.Config{
		ReadOnlyHints: opts.ReadOnlyHints,
		ReadLocked:    opts.ReadLocked,
		TableSize:     opts.TableSize,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Runtime{
		table: locktable.New(opts.TableSize),
		clock: clock.New(),
		hints: hints.New(),
		opts:  txn.Options{ReadOnlyHints: opts.ReadOnlyHints, ReadLocked: opts.ReadLocked},
		stats: txn.NewStats(),
	}, nil
}

// NewContext allocates a transaction context bound to this runtime. A context
// serves one thread; create one per worker goroutine and reuse it across
// transactions.
func (rt *Runtime) NewContext() *Context {
	id := rt.nextID.Add(1) - 1

	return &Context{inner: txn.NewContext(id, rt.table, rt.clock, rt.hints, rt.opts, rt.stats)}
}

// Clock returns the global clock's current value. Exposed for diagnostics
// and tests; user code has no reason to consult it.
func (rt *Runtime) Clock() int64 {
	return rt.clock.Current()
}

// Stats is a point-in-time copy of a runtime's commit/abort counters.
type Stats struct {
	Begins          uint64
	Commits         uint64
	ReadOnlyCommits uint64
	Extensions      uint64

	LockedByOther    uint64
	ExtendFailed     uint64
	WriteAfterRead   uint64
	ReadOnlyHint     uint64
	ValidationFailed uint64
}

// Aborts returns the total abort count across all kinds.
func (s Stats) Aborts() uint64 {
	return s.LockedByOther + s.ExtendFailed + s.WriteAfterRead + s.ReadOnlyHint + s.ValidationFailed
}

// Stats returns a snapshot of the runtime's commit/abort counters.
func (rt *Runtime) Stats() Stats {
	snap := rt.stats.Snapshot()

	return Stats{
		Begins:          snap.Begins,
		Commits:         snap.Commits,
		ReadOnlyCommits: snap.ReadOnlyCommits,
		Extensions:      snap.Extensions,

		LockedByOther:    snap.LockedByOther,
		ExtendFailed:     snap.ExtendFailed,
		WriteAfterRead:   snap.WriteAfterRead,
		ReadOnlyHint:     snap.ReadOnlyHint,
		ValidationFailed: snap.ValidationFailed,
	}
}

// StatsSummary formats the runtime counters as a short report.
func (rt *Runtime) StatsSummary() string {
	return rt.stats.Summary()
}

// Atomic runs fn as a transaction on a fresh context, retrying until it
// commits. Convenience wrapper over Run for callers without a long-lived
// context.
func (rt *Runtime) Atomic(blockID int, fn func(*Context) error) error {
	return Run(rt.NewContext(), blockID, fn)
}

// Run executes fn as a transaction on ctx, retrying aborted attempts until
// one commits. This is the only place abort signals are caught: fn should
// return any error it receives from the context unmodified.
//
// A non-abort error from fn cancels the transaction — its effects are rolled
// back and the error is returned to the caller.
func Run(ctx *Context, blockID int, fn func(*Context) error) error {
	for {
		ctx.inner.Start(blockID)

		if err := fn(ctx); err != nil {
			ctx.inner.Rollback()

			if txn.IsAbort(err) {
				continue
			}

			return err
		}

		if ctx.inner.Commit() {
			return nil
		}
		// Commit already rolled the attempt back; go again.
	}
}

// Context is a per-thread transaction handle. All methods delegate to the
// internal state machine; see the txn package for protocol details.
//
// Not safe for concurrent use.
type Context struct {
	inner *txn.Context
}

// Start begins a transaction attempt for the given atomic block. Callers
// using Run never invoke it directly.
func (c *Context) Start(blockID int) {
	c.inner.Start(blockID)
}

// BeforeReadAccess samples the location's lock ahead of a field load and fails
// with an abort signal when another context owns it. The typed reads below
// are self-contained: each takes its own fresh sample, so none of them
// consumes the one taken here.
func (c *Context) BeforeReadAccess(base unsafe.Pointer, offset int64) error {
	return c.inner.BeforeReadAccess(base, offset)
}

// ReadInt64 transactionally reads an int64 field.
func (c *Context) ReadInt64(base unsafe.Pointer, offset int64) (int64, error) {
	return c.inner.ReadInt64(base, offset)
}

// ReadInt32 transactionally reads an int32 field.
func (c *Context) ReadInt32(base unsafe.Pointer, offset int64) (int32, error) {
	return c.inner.ReadInt32(base, offset)
}

// ReadUint64 transactionally reads a uint64 field.
func (c *Context) ReadUint64(base unsafe.Pointer, offset int64) (uint64, error) {
	return c.inner.ReadUint64(base, offset)
}

// ReadUint32 transactionally reads a uint32 field.
func (c *Context) ReadUint32(base unsafe.Pointer, offset int64) (uint32, error) {
	return c.inner.ReadUint32(base, offset)
}

// ReadFloat64 transactionally reads a float64 field.
func (c *Context) ReadFloat64(base unsafe.Pointer, offset int64) (float64, error) {
	return c.inner.ReadFloat64(base, offset)
}

// ReadFloat32 transactionally reads a float32 field.
func (c *Context) ReadFloat32(base unsafe.Pointer, offset int64) (float32, error) {
	return c.inner.ReadFloat32(base, offset)
}

// ReadBool transactionally reads a bool field.
func (c *Context) ReadBool(base unsafe.Pointer, offset int64) (bool, error) {
	return c.inner.ReadBool(base, offset)
}

// ReadPointer transactionally reads a reference field.
func (c *Context) ReadPointer(base unsafe.Pointer, offset int64) (unsafe.Pointer, error) {
	return c.inner.ReadPointer(base, offset)
}

// WriteInt64 transactionally writes an int64 field.
func (c *Context) WriteInt64(base unsafe.Pointer, offset int64, v int64) error {
	return c.inner.WriteInt64(base, offset, v)
}

// WriteInt32 transactionally writes an int32 field.
func (c *Context) WriteInt32(base unsafe.Pointer, offset int64, v int32) error {
	return c.inner.WriteInt32(base, offset, v)
}

// WriteUint64 transactionally writes a uint64 field.
func (c *Context) WriteUint64(base unsafe.Pointer, offset int64, v uint64) error {
	return c.inner.WriteUint64(base, offset, v)
}

// WriteUint32 transactionally writes a uint32 field.
func (c *Context) WriteUint32(base unsafe.Pointer, offset int64, v uint32) error {
	return c.inner.WriteUint32(base, offset, v)
}

// WriteFloat64 transactionally writes a float64 field.
func (c *Context) WriteFloat64(base unsafe.Pointer, offset int64, v float64) error {
	return c.inner.WriteFloat64(base, offset, v)
}

// WriteFloat32 transactionally writes a float32 field.
func (c *Context) WriteFloat32(base unsafe.Pointer, offset int64, v float32) error {
	return c.inner.WriteFloat32(base, offset, v)
}

// WriteBool transactionally writes a bool field.
func (c *Context) WriteBool(base unsafe.Pointer, offset int64, v bool) error {
	return c.inner.WriteBool(base, offset, v)
}

// WritePointer transactionally writes a reference field.
func (c *Context) WritePointer(base unsafe.Pointer, offset int64, v unsafe.Pointer) error {
	return c.inner.WritePointer(base, offset, v)
}

// Commit attempts to commit the current attempt, reporting success. On
// failure the attempt has been rolled back. Callers using Run never invoke
// it directly.
func (c *Context) Commit() bool {
	return c.inner.Commit()
}

// Rollback abandons the current attempt, releasing any owned slots. Callers
// using Run never invoke it directly.
func (c *Context) Rollback() {
	c.inner.Rollback()
}
