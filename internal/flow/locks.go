package flow

import "sync"

// sessionLocks serializes message processing per session id so concurrent
// webhook deliveries for the same conversation cannot interleave state
// transitions. Entries are reference-counted and removed when idle.
type sessionLocks struct {
	mu    sync.Mutex
	entry map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{entry: make(map[string]*lockEntry)}
}

// lock acquires the per-session lock and returns its release function.
func (l *sessionLocks) lock(sessionID string) func() {
	l.mu.Lock()
	e, ok := l.entry[sessionID]
	if !ok {
		e = &lockEntry{}
		l.entry[sessionID] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.entry, sessionID)
		}
		l.mu.Unlock()
	}
}
