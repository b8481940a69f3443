package storage

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyLocks(t *testing.T) {
	t.Parallel()

	t.Run("SerializesSameKey", func(t *testing.T) {
		t.Parallel()
		locks := newKeyLocks()
		counter := 0

		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				unlock := locks.Lock("f:a.py")
				counter++
				unlock()
			}()
		}
		wg.Wait()

		assert.Equal(t, 50, counter)
		assert.Equal(t, 0, locks.size())
	})

	t.Run("DifferentKeysIndependent", func(t *testing.T) {
		t.Parallel()
		locks := newKeyLocks()

		unlockA := locks.Lock("a")
		unlockB := locks.Lock("b")
		assert.Equal(t, 2, locks.size())

		unlockA()
		unlockB()
		assert.Equal(t, 0, locks.size())
	})
}
