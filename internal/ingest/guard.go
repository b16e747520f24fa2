package ingest

import "sync"

// runGuard enforces one in-flight run per (user, source). Acquisition
// never blocks; a duplicate request is rejected, not queued.
type runGuard struct {
	mu       sync.Mutex
	inflight map[string]struct{}
}

func newRunGuard() *runGuard {
	return &runGuard{inflight: make(map[string]struct{})}
}

func (g *runGuard) acquire(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.inflight[key]; busy {
		return false
	}
	g.inflight[key] = struct{}{}
	return true
}

func (g *runGuard) release(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.inflight, key)
}
