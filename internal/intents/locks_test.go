package intents

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestLockTableSerializesSameIntent(t *testing.T) {
	table := newLockTable()
	id := uuid.New()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		active  int
		maxSeen int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := table.Lock(id)
			defer unlock()
			mu.Lock()
			active++
			if active > maxSeen {
				maxSeen = active
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Fatalf("expected one holder at a time, saw %d", maxSeen)
	}
	if size := table.size(); size != 0 {
		t.Fatalf("expected table to drain, got %d entries", size)
	}
}

func TestLockTableIndependentIntents(t *testing.T) {
	table := newLockTable()
	unlockA := table.Lock(uuid.New())
	done := make(chan struct{})
	go func() {
		unlock := table.Lock(uuid.New())
		unlock()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("lock on a different intent should not block")
	}
	unlockA()
	if size := table.size(); size != 0 {
		t.Fatalf("expected empty table, got %d", size)
	}
}
