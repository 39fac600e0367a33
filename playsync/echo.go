package playsync

import (
	"sync"
	"time"
)

// EchoGuard is the suppression window preventing a programmatic
// correction from being reinterpreted as fresh user intent. The
// reconciler holds it before mutating the player; any detector sharing
// the guard stays silent while it is up. It behaves as a short-lived
// lock scoped to one reconciliation cycle, not a toggle.
type EchoGuard struct {
	mu    sync.Mutex
	until time.Time
}

// Hold opens (or extends) the suppression window for d.
func (g *EchoGuard) Hold(d time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	deadline := time.Now().Add(d)
	if deadline.After(g.until) {
		g.until = deadline
	}
}

// Active reports whether the suppression window is open.
func (g *EchoGuard) Active() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return time.Now().Before(g.until)
}
