package txn

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// Stats accumulates runtime counters across all contexts of one runtime.
// All fields are atomic so contexts update them without coordination; the
// hot paths pay one uncontended atomic add per event.
//
// The abort counters exist for instrumentation only — every abort kind is
// identical to the caller (the attempt unwinds and retries).
type Stats struct {
	begins          atomic.Uint64
	commits         atomic.Uint64
	readOnlyCommits atomic.Uint64
	extensions      atomic.Uint64

	lockedByOther    atomic.Uint64
	extendFailed     atomic.Uint64
	writeAfterRead   atomic.Uint64
	readOnlyHint     atomic.Uint64
	validationFailed atomic.Uint64
}

// NewStats creates a zeroed counter set.
func NewStats() *Stats {
	return &Stats{}
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
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
func (s Snapshot) Aborts() uint64 {
	return s.LockedByOther + s.ExtendFailed + s.WriteAfterRead + s.ReadOnlyHint + s.ValidationFailed
}

// Snapshot copies the current counter values. Counters advance concurrently,
// so the copy is consistent per counter, not across counters.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		Begins:          s.begins.Load(),
		Commits:         s.commits.Load(),
		ReadOnlyCommits: s.readOnlyCommits.Load(),
		Extensions:      s.extensions.Load(),

		LockedByOther:    s.lockedByOther.Load(),
		ExtendFailed:     s.extendFailed.Load(),
		WriteAfterRead:   s.writeAfterRead.Load(),
		ReadOnlyHint:     s.readOnlyHint.Load(),
		ValidationFailed: s.validationFailed.Load(),
	}
}

// Summary formats the counters as a short multi-line report.
func (s *Stats) Summary() string {
	snap := s.Snapshot()

	var b strings.Builder

	fmt.Fprintf(&b, "stm: %d begun, %d committed (%d read-only), %d aborted\n",
		snap.Begins, snap.Commits+snap.ReadOnlyCommits, snap.ReadOnlyCommits, snap.Aborts())
	fmt.Fprintf(&b, "stm: extensions: %d\n", snap.Extensions)
	fmt.Fprintf(&b, "stm: aborts: locked=%d extend=%d write-after-read=%d read-only-hint=%d validation=%d",
		snap.LockedByOther, snap.ExtendFailed, snap.WriteAfterRead, snap.ReadOnlyHint, snap.ValidationFailed)

	return b.String()
}
