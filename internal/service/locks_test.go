package service

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAccountLocksSerializePerAccount(t *testing.T) {
	locks := newAccountLocks()

	var (
		wg      sync.WaitGroup
		counter int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("sva_1")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
	assert.Zero(t, locks.size(), "released entries are dropped")
}

func TestAccountLocksIndependentAccounts(t *testing.T) {
	locks := newAccountLocks()

	unlockA := locks.Lock("sva_a")
	unlockB := locks.Lock("sva_b")
	assert.Equal(t, 2, locks.size())

	unlockA()
	unlockB()
	assert.Zero(t, locks.size())
}
