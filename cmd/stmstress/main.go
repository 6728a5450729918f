// Command stmstress drives the STM runtime with a concurrent transfer
// workload and checks that the transactional invariant held.
//
// Each worker repeatedly moves value between random cells of a shared array
// inside transactions; read-only audit transactions sum the array. The total
// is conserved if and only if every commit was atomic. On completion the
// tool prints the runtime's commit/abort summary and fails loudly if the
// conserved sum drifted.
//
// Usage:
//
//	stmstress --workers 8 --ops 100000 --cells 64
package main

import (
	"fmt"
	"math/rand"
	"os"
	"sync"
	"unsafe"

	flag "github.com/spf13/pflag"

	"github.com/kolkov/lsastm/stm"
)

const (
	blockTransfer = 1
	blockAudit    = 2
)

const initialBalance = 1000

func main() {
	workers := flag.Int("workers", 8, "concurrent worker goroutines")
	ops := flag.Int("ops", 100000, "transactions per worker")
	cells := flag.Int("cells", 64, "shared array size")
	auditEvery := flag.Int("audit-every", 100, "run a read-only audit every N transfers")
	tableSize := flag.Int("table-size", 0, "lock table slots (0 = configured default)")
	hintsOn := flag.Bool("hints", false, "enable the read-only hint optimization")
	readLocked := flag.Bool("read-locked", false, "abort reads on any locked slot")
	flag.Parse()

	opts, err := stm.LoadOptions()
	if err != nil {
		fmt.Fprintln(os.Stderr, "stmstress:", err)
		os.Exit(1)
	}

	if *tableSize > 0 {
		opts.TableSize = *tableSize
	}

	if *hintsOn {
		opts.ReadOnlyHints = true
	}

	if *readLocked {
		opts.ReadLocked = true
	}

	rt, err := stm.New(opts)
	if err != nil {
		fmt.Fprintln(os.Stderr, "stmstress:", err)
		os.Exit(1)
	}

	balances := make([]int64, *cells)
	for i := range balances {
		balances[i] = initialBalance
	}

	cell := func(i int) unsafe.Pointer { return unsafe.Pointer(&balances[i]) }

	var wg sync.WaitGroup
	for w := 0; w < *workers; w++ {
		wg.Add(1)

		go func(seed int64) {
			defer wg.Done()

			rng := rand.New(rand.NewSource(seed))
			ctx := rt.NewContext()

			for i := 0; i < *ops; i++ {
				if *auditEvery > 0 && i%(*auditEvery) == 0 {
					if err := audit(ctx, cell, *cells, nil); err != nil {
						fmt.Fprintln(os.Stderr, "stmstress: audit:", err)
						os.Exit(1)
					}

					continue
				}

				from, to := rng.Intn(*cells), rng.Intn(*cells)
				if from == to {
					continue
				}

				amount := int64(rng.Intn(10) + 1)

				err := stm.Run(ctx, blockTransfer, func(c *stm.Context) error {
					fromV, err := c.ReadInt64(cell(from), 0)
					if err != nil {
						return err
					}

					toV, err := c.ReadInt64(cell(to), 0)
					if err != nil {
						return err
					}

					if fromV < amount {
						return nil // insufficient funds, commit as read-only
					}

					if err := c.WriteInt64(cell(from), 0, fromV-amount); err != nil {
						return err
					}

					return c.WriteInt64(cell(to), 0, toV+amount)
				})
				if err != nil {
					fmt.Fprintln(os.Stderr, "stmstress: transfer:", err)
					os.Exit(1)
				}
			}
		}(int64(w) + 1)
	}

	wg.Wait()

	var total int64

	finalCtx := rt.NewContext()
	if err := audit(finalCtx, cell, *cells, &total); err != nil {
		fmt.Fprintln(os.Stderr, "stmstress: final audit:", err)
		os.Exit(1)
	}

	fmt.Println(rt.StatsSummary())

	want := int64(*cells) * initialBalance
	if total != want {
		fmt.Fprintf(os.Stderr, "stmstress: FAIL: total %d, want %d\n", total, want)
		os.Exit(1)
	}

	fmt.Printf("stmstress: OK: %d workers x %d ops, total conserved at %d, clock %d\n",
		*workers, *ops, total, rt.Clock())
}

// audit sums the array in one read-only transaction and checks conservation.
// When sum is non-nil the total is stored there instead of being checked.
func audit(ctx *stm.Context, cell func(int) unsafe.Pointer, cells int, sum *int64) error {
	var total int64

	err := stm.Run(ctx, blockAudit, func(c *stm.Context) error {
		total = 0

		for i := 0; i < cells; i++ {
			v, err := c.ReadInt64(cell(i), 0)
			if err != nil {
				return err
			}

			total += v
		}

		return nil
	})
	if err != nil {
		return err
	}

	if sum != nil {
		*sum = total
		return nil
	}

	if total != int64(cells)*initialBalance {
		return fmt.Errorf("total %d, want %d", total, int64(cells)*initialBalance)
	}

	return nil
}
