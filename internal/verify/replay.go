package verify

import (
	"context"
	"sync"
	"time"

	"gamebridge/internal/store"

	"github.com/sirupsen/logrus"
)

// pruneAfter bounds how long a signature stays in the fast in-memory
// set. The persistent record is never pruned; only the cache is.
const pruneAfter = 24 * time.Hour

// ReplayGuard is a two-tier duplicate-use detector for chain
// transaction signatures: an in-memory set for fast-path rejection
// backed by the persistent unique-indexed ChainTransferRecord as the
// source of truth. The set is process-local; correctness depends on
// single-instance deployment.
type ReplayGuard struct {
	mu    sync.Mutex
	seen  map[string]time.Time
	store store.Store
}

func NewReplayGuard(st store.Store) *ReplayGuard {
	return &ReplayGuard{
		seen:  make(map[string]time.Time),
		store: st,
	}
}

// Seen reports whether signature was already consumed. A persistent
// lookup failure is logged and treated as unseen: availability over
// strict consistency for this secondary check; the in-memory set plus
// the final unique-constraint insert remain the real backstop.
func (g *ReplayGuard) Seen(ctx context.Context, signature string) bool {
	g.mu.Lock()
	_, hit := g.seen[signature]
	g.mu.Unlock()
	if hit {
		return true
	}

	found, err := g.store.TransferSeen(ctx, signature)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"signature": signature,
			"error":     err.Error(),
		}).Warn("Replay guard persistent lookup failed; proceeding")
		return false
	}
	if found {
		g.Mark(signature)
	}
	return found
}

// Mark records signature in the fast-path set.
func (g *ReplayGuard) Mark(signature string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seen[signature] = time.Now()
	if len(g.seen) > 10000 {
		g.pruneLocked()
	}
}

func (g *ReplayGuard) pruneLocked() {
	cutoff := time.Now().Add(-pruneAfter)
	for sig, at := range g.seen {
		if at.Before(cutoff) {
			delete(g.seen, sig)
		}
	}
}
