package position_test

import (
	"sync"
	"testing"

	"github.com/duelbackend/arena/internal/position"
)

func TestCloser_TryAcquireExclusive(t *testing.T) {
	c := position.NewCloser()

	if !c.TryAcquire("pos-1") {
		t.Fatal("first acquire should succeed")
	}
	if c.TryAcquire("pos-1") {
		t.Fatal("second acquire of the same id should fail while held")
	}

	c.Release("pos-1")
	if !c.TryAcquire("pos-1") {
		t.Fatal("acquire should succeed again after release")
	}
}

func TestCloser_IndependentKeys(t *testing.T) {
	c := position.NewCloser()

	if !c.TryAcquire("pos-1") {
		t.Fatal("acquire pos-1 should succeed")
	}
	if !c.TryAcquire("pos-2") {
		t.Fatal("acquire of a different id should succeed independently")
	}
}

func TestCloser_ConcurrentAcquireOnlyOneWins(t *testing.T) {
	c := position.NewCloser()
	const attempts = 50

	var wg sync.WaitGroup
	wins := make(chan bool, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			wins <- c.TryAcquire("shared")
		}()
	}
	wg.Wait()
	close(wins)

	winCount := 0
	for w := range wins {
		if w {
			winCount++
		}
	}
	if winCount != 1 {
		t.Errorf("expected exactly 1 winner out of %d concurrent acquires, got %d", attempts, winCount)
	}
}
