// Package txn implements the per-thread transaction context of the STM
// runtime: the state machine that logs reads and writes and decides commit or
// abort, following the Lazy Snapshot Algorithm over 64-bit version locks.
//
// # Protocol
//
// A transaction attempt moves through Start, any number of typed reads and
// writes, and Commit; an abort at any point unwinds through Rollback and the
// user layer retries the block.
//
// Start anchors a snapshot window [start, end] at the current global clock.
// Every read must be consistent with the clock at end. A read that observes a
// version beyond end tries to extend the window: revalidate the whole read
// set at the current clock and, if it holds, adopt that clock value as the
// new end. Extension is what lets long transactions survive concurrent
// unrelated commits.
//
// Reads use the timestamp sandwich: observe the location's lock word, load
// the field, re-check the word. An unchanged word proves the load returned
// the value committed at that version with no writer in between. Writes
// acquire the location's lock-table slot with a single CAS and log the
// pending value; locations hashing to an owned slot chain onto the existing
// write access.
//
// Commit of a writing transaction draws a fresh version from the global
// clock, revalidates the read set unless the drawn version proves the window
// was quiet, then publishes each chain and releases its slot to the new
// version. The clock increment is the linearization point; per-slot release
// ordering guarantees no partially published chain is ever observable.
//
// # Concurrency
//
// A Context belongs to one thread; all cross-thread coordination happens
// through the shared lock table and clock. Readers never block — any
// conflict, including an observed foreign lock, is an immediate abort. The
// field loads and stores themselves are plain (unsynchronized) word accesses
// whose consistency is established by the surrounding lock-word protocol;
// Go's race detector cannot see that protocol and will report these accesses,
// so instrumented workloads run without -race.
package txn
