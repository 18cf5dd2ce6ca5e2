package cloudenv

import "sync"

// readyStatus tracks whether an env finished construction successfully.
// It is set exactly once, during NewEnv, and read many times afterward by
// every operation's readiness check — the "shared resources" note in
// spec.md §5 calling this out as one of the only three pieces of mutable
// state in the whole env.
type readyStatus struct {
	mu  sync.RWMutex
	set bool
	err error
}

// markReady records the outcome of construction. Calling it more than once
// is a programmer error; only NewEnv may call it.
func (s *readyStatus) markReady(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.set {
		panic("cloudenv: readyStatus marked more than once")
	}
	s.set = true
	s.err = err
}

// Status reports nil if construction succeeded, or the original
// construction error otherwise. Every CloudEnv operation calls this first.
func (s *readyStatus) Status() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}
