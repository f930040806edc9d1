package store

import (
	"sync"
	"testing"
	"time"
)

func TestLockRegistry_SharedMutex(t *testing.T) {
	r := newLockRegistry()
	a := r.get(lockKey("acme", "docs"))
	b := r.get(lockKey("acme", "docs"))
	if a != b {
		t.Error("same key must return the same mutex")
	}
	if r.get(lockKey("acme", "other")) == a {
		t.Error("different keys must not share a mutex")
	}
}

func TestLockRegistry_ConcurrentCreation(t *testing.T) {
	r := newLockRegistry()
	const n = 50
	results := make([]*sync.Mutex, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = r.get("t_acme:c_docs")
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		if results[i] != results[0] {
			t.Fatal("racing creations produced distinct mutexes")
		}
	}
}

func TestAcquireAll_ReleasesEverything(t *testing.T) {
	r := newLockRegistry()
	keys := []string{"t_b:c_1", "t_a:c_1", "t_a:c_2", "t_a:c_1"} // duplicate on purpose

	release := r.acquireAll(keys)
	release()

	// Every lock must be free again.
	for _, key := range []string{"t_a:c_1", "t_a:c_2", "t_b:c_1"} {
		mu := r.get(key)
		if !mu.TryLock() {
			t.Errorf("lock %s still held after release", key)
		} else {
			mu.Unlock()
		}
	}
}

func TestAcquireAll_BlocksConcurrentMutator(t *testing.T) {
	r := newLockRegistry()
	release := r.acquireAll([]string{"t_a:c_1"})

	acquired := make(chan struct{})
	go func() {
		mu := r.get("t_a:c_1")
		mu.Lock()
		mu.Unlock()
		close(acquired)
	}()

	time.Sleep(20 * time.Millisecond)
	select {
	case <-acquired:
		t.Fatal("collection lock was not held during acquireAll")
	default:
	}
	release()
	<-acquired
}
