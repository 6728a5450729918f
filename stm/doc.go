// Package stm implements a word-based software transactional memory runtime
// following the Lazy Snapshot Algorithm with 64-bit version locks.
//
// Concurrent threads execute blocks of memory reads and writes as speculative
// transactions that either atomically commit or abort with no observable
// effect. Concurrency control is optimistic: reads validate against a global
// logical clock, writes take per-slot version locks at access time, and any
// conflict aborts the attempt immediately for the retry loop to run again.
//
// # Usage
//
// Construct a Runtime, give each worker goroutine a Context, and wrap the
// work in Run (or the convenience Atomic):
//
//	rt, err := stm.New(stm.DefaultOptions())
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	var counter int64
//	base := unsafe.Pointer(&counter)
//
//	ctx := rt.NewContext()
//	err = stm.Run(ctx, 1, func(c *stm.Context) error {
//		v, err := c.ReadInt64(base, 0)
//		if err != nil {
//			return err
//		}
//		return c.WriteInt64(base, 0, v+1)
//	})
//
// The function passed to Run may execute several times; it must be free of
// side effects other than transactional accesses. Errors received from the
// context are returned unmodified so the retry loop can classify them.
//
// Memory locations are named by (base pointer, field offset), the form an
// instrumentation layer naturally produces. The typed accessors cover Go's
// fixed-width primitives plus references.
//
// # Caveats
//
// The engine reads and writes user memory with plain word accesses whose
// consistency comes from the lock-word protocol, not from Go-level
// synchronization. The standard race detector cannot see that protocol, so
// instrumented workloads are run without -race.
package stm
