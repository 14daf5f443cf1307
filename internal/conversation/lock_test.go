package conversation

import (
	"sync"
	"testing"
)

func TestKeyedLockSerializes(t *testing.T) {
	l := newKeyedLock()

	const goroutines = 50
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.acquire("a/s1")
			counter++
			l.release("a/s1")
		}()
	}
	wg.Wait()

	if counter != goroutines {
		t.Errorf("counter = %d, want %d", counter, goroutines)
	}
}

func TestKeyedLockIndependentKeys(t *testing.T) {
	l := newKeyedLock()

	l.acquire("a/s1")
	done := make(chan struct{})
	go func() {
		// A different key must not block behind s1.
		l.acquire("a/s2")
		l.release("a/s2")
		close(done)
	}()
	<-done
	l.release("a/s1")
}

func TestKeyedLockEvictsIdleEntries(t *testing.T) {
	l := newKeyedLock()

	for _, key := range []string{"a/s1", "a/s2", "b/s1"} {
		l.acquire(key)
		l.release(key)
	}

	if got := l.size(); got != 0 {
		t.Errorf("entries after release = %d, want 0", got)
	}
}

func TestKeyedLockKeepsEntryWhileWaiting(t *testing.T) {
	l := newKeyedLock()

	l.acquire("a/s1")

	started := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		close(started)
		l.acquire("a/s1")
		l.release("a/s1")
		close(finished)
	}()
	<-started

	// The waiter holds a reference; the entry must survive our release.
	l.release("a/s1")
	<-finished

	if got := l.size(); got != 0 {
		t.Errorf("entries after all releases = %d, want 0", got)
	}
}
