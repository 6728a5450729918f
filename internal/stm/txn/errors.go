package txn

import (
	"errors"

	"github.com/kolkov/lsastm/internal/stm/locktable"
)

// Abort signals. All are non-fatal: the transaction's effects are annihilated
// and the user layer retries. The distinction between kinds is internal, for
// stats and hint adjustment; callers outside the retry loop only see that the
// attempt unwound.
var (
	// ErrLockedByOther re-exports the lock table's contention signal so the
	// retry loop classifies every abort through one package.
	ErrLockedByOther = locktable.ErrLockedByOther

	// ErrExtendFailed reports that a read observed a version beyond the
	// snapshot window and revalidation could not raise the window.
	ErrExtendFailed = errors.New("stm: snapshot extension failed")

	// ErrWriteAfterRead reports a write to a location already in the read
	// set after a third party committed a newer version of it.
	ErrWriteAfterRead = errors.New("stm: location changed after it was read")

	// ErrReadOnlyHint reports the first write of a transaction that started
	// on the cheap read-only path. The hint has already been flipped; the
	// retry runs the full read-write path.
	ErrReadOnlyHint = errors.New("stm: write attempted on read-only path")
)

// IsAbort reports whether err is one of the transaction abort signals, as
// opposed to an error originating in user code. The retry loop keeps
// retrying on aborts and propagates everything else.
func IsAbort(err error) bool {
	return errors.Is(err, ErrLockedByOther) ||
		errors.Is(err, ErrExtendFailed) ||
		errors.Is(err, ErrWriteAfterRead) ||
		errors.Is(err, ErrReadOnlyHint)
}
