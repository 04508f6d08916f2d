package thread

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/agentkit/runtime/pkg/models"
)

// PruneExpiredCheckpoints drops every checkpoint older than maxAge across
// all threads, never touching a thread's single most recent checkpoint.
// Returns the number of checkpoints removed.
func (m *Manager) PruneExpiredCheckpoints(maxAge time.Duration) int {
	if maxAge <= 0 {
		return 0
	}
	cutoff := time.Now().Add(-maxAge)

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for _, t := range m.threads {
		if len(t.checkpoints) <= 1 {
			continue
		}
		mostRecent := t.checkpoints[len(t.checkpoints)-1]
		kept := make([]*models.Checkpoint, 0, len(t.checkpoints))
		for _, c := range t.checkpoints[:len(t.checkpoints)-1] {
			if c.CreatedAt.Before(cutoff) {
				removed++
				continue
			}
			kept = append(kept, c)
		}
		t.checkpoints = append(kept, mostRecent)
	}
	return removed
}

// GC runs PruneExpiredCheckpoints on a cron schedule, grounded on the
// teacher's internal/cron package's schedule-parsing idiom but driving
// robfig/cron's own runner loop instead of a hand-rolled ticker, since the
// GC's schedule is a fixed cron expression rather than a user-configurable
// one.
type GC struct {
	cron    *cron.Cron
	manager *Manager
	maxAge  time.Duration
}

// NewGC builds a checkpoint GC that prunes checkpoints older than maxAge
// according to spec (a standard 5-field cron expression, e.g. "0 * * * *"
// for hourly). It does not start running until Start is called.
func NewGC(manager *Manager, spec string, maxAge time.Duration) (*GC, error) {
	gc := &GC{
		cron:    cron.New(),
		manager: manager,
		maxAge:  maxAge,
	}
	if _, err := gc.cron.AddFunc(spec, gc.sweep); err != nil {
		return nil, err
	}
	return gc, nil
}

func (g *GC) sweep() {
	g.manager.PruneExpiredCheckpoints(g.maxAge)
}

// Start begins the background sweep loop.
func (g *GC) Start() {
	g.cron.Start()
}

// Stop halts the sweep loop, waiting for any in-flight sweep to finish.
func (g *GC) Stop(ctx context.Context) {
	stopCtx := g.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}
}
