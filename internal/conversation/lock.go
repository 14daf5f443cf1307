package conversation

import "sync"

// keyedLock serializes work per key, here per (agent, session) pair. Entries
// are reference counted and evicted as soon as the last holder releases, so
// the table stays bounded by the number of in-flight sessions rather than
// every session ever seen.
type keyedLock struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedLock() *keyedLock {
	return &keyedLock{entries: make(map[string]*lockEntry)}
}

// acquire blocks until the caller holds the key's lock.
func (l *keyedLock) acquire(key string) {
	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		e = &lockEntry{}
		l.entries[key] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
}

// release unlocks the key and drops the entry when no one else is waiting.
func (l *keyedLock) release(key string) {
	l.mu.Lock()
	e := l.entries[key]
	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
	l.mu.Unlock()

	e.mu.Unlock()
}

// size reports the number of live entries. Test hook.
func (l *keyedLock) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
