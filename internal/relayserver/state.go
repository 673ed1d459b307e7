package relayserver

import "sync"

// state holds the hot-reloadable parts of the runtime: today only the
// upstream credential, refreshed by SIGHUP or the key-file watcher.
// Everything else in Config is immutable for the process lifetime.
type state struct {
	mu          sync.RWMutex
	upstreamKey string
	startedAt   int64
}

func (s *state) UpstreamKey() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.upstreamKey
}

func (s *state) SetUpstreamKey(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upstreamKey = key
}

func (s *state) StartedAtUnix() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.startedAt
}

func (s *state) SetStartedAtUnix(ts int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startedAt = ts
}
