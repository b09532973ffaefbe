package keyedlock

import (
	"sync"
	"testing"
)

func TestLockSerializesSameKey(t *testing.T) {
	var (
		m       Map
		wg      sync.WaitGroup
		counter int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := m.Lock("job-1")
			defer unlock()
			current := counter
			counter = current + 1
		}()
	}
	wg.Wait()
	if counter != 50 {
		t.Fatalf("expected 50 increments, got %d", counter)
	}
	if m.Len() != 0 {
		t.Fatalf("expected entries to be released, got %d", m.Len())
	}
}

func TestLockIndependentKeys(t *testing.T) {
	var m Map
	unlockA := m.Lock("a")
	unlockB := m.Lock("b")
	if m.Len() != 2 {
		t.Fatalf("expected two held keys, got %d", m.Len())
	}
	unlockA()
	unlockA()
	unlockB()
	if m.Len() != 0 {
		t.Fatalf("expected no held keys, got %d", m.Len())
	}
}
