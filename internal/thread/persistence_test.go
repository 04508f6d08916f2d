package thread

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/agentkit/runtime/pkg/models"
)

func openTestCheckpointStore(t *testing.T) CheckpointStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "checkpoints.db")
	store, err := NewSQLiteCheckpointStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteCheckpointStore(%q): %v", dbPath, err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteCheckpointStore_SaveAndLoad(t *testing.T) {
	store := openTestCheckpointStore(t)
	ctx := context.Background()

	ckpt := &models.Checkpoint{
		ID:        "ckpt-1",
		SessionID: "sess-1",
		Label:     "before-refactor",
		CreatedAt: time.Now().Truncate(time.Second),
		Messages:  []*models.Message{{Role: models.RoleUser, Content: "hello"}},
		Usage:     models.UsageSnapshot{InputTokens: 10, OutputTokens: 5},
	}
	if err := store.SaveCheckpoint(ctx, ckpt); err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}

	loaded, err := store.LoadCheckpoints(ctx, "sess-1")
	if err != nil {
		t.Fatalf("LoadCheckpoints: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("expected 1 checkpoint, got %d", len(loaded))
	}
	if loaded[0].ID != ckpt.ID || loaded[0].Label != ckpt.Label {
		t.Fatalf("loaded checkpoint mismatch: %+v", loaded[0])
	}
	if len(loaded[0].Messages) != 1 || loaded[0].Messages[0].Content != "hello" {
		t.Fatalf("expected roundtripped message content, got %+v", loaded[0].Messages)
	}
}

func TestSQLiteCheckpointStore_LoadUnknownSessionIsEmpty(t *testing.T) {
	store := openTestCheckpointStore(t)
	loaded, err := store.LoadCheckpoints(context.Background(), "no-such-session")
	if err != nil {
		t.Fatalf("LoadCheckpoints: %v", err)
	}
	if len(loaded) != 0 {
		t.Fatalf("expected no checkpoints, got %d", len(loaded))
	}
}

func TestManager_CreateCheckpoint_PersistsWhenConfigured(t *testing.T) {
	store := openTestCheckpointStore(t)
	m := New(10)
	m.SetPersistence(store)

	session := &models.Session{ID: "sess-1"}
	m.CreateThread(session)

	if _, err := m.CreateCheckpoint("sess-1", "first", models.UsageSnapshot{}); err != nil {
		t.Fatalf("CreateCheckpoint: %v", err)
	}

	loaded, err := store.LoadCheckpoints(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("LoadCheckpoints: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("expected checkpoint to be persisted, got %d", len(loaded))
	}
}
