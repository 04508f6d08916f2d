package thread

import (
	"context"
	"testing"
	"time"

	"github.com/agentkit/runtime/pkg/models"
)

func TestPruneExpiredCheckpoints(t *testing.T) {
	m := New(0)
	session := &models.Session{ID: "s1", SessionType: models.SessionTypeRoot}
	m.CreateThread(session)

	old, _ := m.CreateCheckpoint("s1", "old", models.UsageSnapshot{})
	old.CreatedAt = time.Now().Add(-time.Hour)
	recent, err := m.CreateCheckpoint("s1", "recent", models.UsageSnapshot{})
	if err != nil {
		t.Fatalf("CreateCheckpoint: %v", err)
	}

	removed := m.PruneExpiredCheckpoints(10 * time.Minute)
	if removed != 1 {
		t.Fatalf("expected 1 checkpoint removed, got %d", removed)
	}

	remaining, err := m.Checkpoints("s1")
	if err != nil {
		t.Fatalf("Checkpoints: %v", err)
	}
	if len(remaining) != 1 || remaining[0].ID != recent.ID {
		t.Fatalf("expected only the recent checkpoint to survive, got %+v", remaining)
	}
}

func TestPruneExpiredCheckpoints_NeverDropsSoleCheckpoint(t *testing.T) {
	m := New(0)
	session := &models.Session{ID: "s1", SessionType: models.SessionTypeRoot}
	m.CreateThread(session)

	ckpt, _ := m.CreateCheckpoint("s1", "only", models.UsageSnapshot{})
	ckpt.CreatedAt = time.Now().Add(-24 * time.Hour)

	removed := m.PruneExpiredCheckpoints(time.Minute)
	if removed != 0 {
		t.Fatalf("expected 0 removed when only one checkpoint exists, got %d", removed)
	}
}

func TestNewGC_InvalidSpec(t *testing.T) {
	m := New(0)
	if _, err := NewGC(m, "not a cron spec", time.Hour); err == nil {
		t.Fatal("expected error for invalid cron spec")
	}
}

func TestGC_StartStopSweeps(t *testing.T) {
	m := New(0)
	session := &models.Session{ID: "s1", SessionType: models.SessionTypeRoot}
	m.CreateThread(session)
	old, _ := m.CreateCheckpoint("s1", "old", models.UsageSnapshot{})
	old.CreatedAt = time.Now().Add(-time.Hour)
	m.CreateCheckpoint("s1", "recent", models.UsageSnapshot{})

	gc, err := NewGC(m, "@every 10ms", time.Minute)
	if err != nil {
		t.Fatalf("NewGC: %v", err)
	}
	gc.Start()
	time.Sleep(50 * time.Millisecond)
	gc.Stop(context.Background())

	remaining, _ := m.Checkpoints("s1")
	if len(remaining) != 1 {
		t.Fatalf("expected sweep to prune down to 1 checkpoint, got %d", len(remaining))
	}
}
