package clock

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStartsAtZero(t *testing.T) {
	assert.EqualValues(t, 0, New().Current())
}

func TestIncrementAndGet(t *testing.T) {
	c := New()

	assert.EqualValues(t, 1, c.IncrementAndGet())
	assert.EqualValues(t, 2, c.IncrementAndGet())
	assert.EqualValues(t, 2, c.Current())
}

func TestConcurrentIncrements(t *testing.T) {
	c := New()

	const goroutines = 8
	const perGoroutine = 10000

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for i := 0; i < perGoroutine; i++ {
				c.IncrementAndGet()
			}
		}()
	}

	wg.Wait()

	assert.EqualValues(t, goroutines*perGoroutine, c.Current())
}
