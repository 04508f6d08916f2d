package thread

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/agentkit/runtime/pkg/models"
)

// CheckpointStore is the persistence contract's write side (spec.md §6): a
// durable home for checkpoints beyond the Manager's bounded in-memory
// retention. Reads go through Manager.Checkpoints; a CheckpointStore only
// needs to accept writes and reload them at process start.
//
// Grounded on internal/sessions/store.go's Store interface shape, narrowed
// to the single checkpoint-persistence concern this package owns (session
// CRUD and message history stay the Thread/contextstore.Store's job).
type CheckpointStore interface {
	SaveCheckpoint(ctx context.Context, ckpt *models.Checkpoint) error
	LoadCheckpoints(ctx context.Context, sessionID string) ([]*models.Checkpoint, error)
	Close() error
}

// sqlCheckpointStore backs CheckpointStore with a database/sql connection,
// shared between the Postgres and SQLite constructors below since both
// drivers speak standard database/sql and the schema is identical aside
// from placeholder syntax.
//
// Grounded on internal/sessions/cockroach.go's prepared-statement idiom
// (Open, configure pool, ping, prepare once, reuse).
type sqlCheckpointStore struct {
	db         *sql.DB
	stmtInsert *sql.Stmt
	stmtSelect *sql.Stmt
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	label TEXT,
	created_at TIMESTAMP NOT NULL,
	payload TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_checkpoints_session ON checkpoints(session_id);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	label TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	payload JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_checkpoints_session ON checkpoints(session_id);
`

// NewSQLiteCheckpointStore opens (creating if necessary) a SQLite-backed
// CheckpointStore at path, the pure-Go backend for single-node deployments
// that don't want a Postgres dependency.
func NewSQLiteCheckpointStore(path string) (CheckpointStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("thread: opening sqlite checkpoint store: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("thread: creating sqlite schema: %w", err)
	}
	return newSQLCheckpointStore(db, sqlPlaceholders{insert: []string{"?", "?", "?", "?", "?"}, selectByID: "?"})
}

// NewPostgresCheckpointStore opens a Postgres/CockroachDB-backed
// CheckpointStore via dsn, the clustered backend for multi-node
// deployments, grounded on internal/sessions/cockroach.go's DSN-open idiom.
func NewPostgresCheckpointStore(dsn string) (CheckpointStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("thread: opening postgres checkpoint store: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("thread: pinging postgres checkpoint store: %w", err)
	}
	if _, err := db.Exec(postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("thread: creating postgres schema: %w", err)
	}
	return newSQLCheckpointStore(db, sqlPlaceholders{insert: []string{"$1", "$2", "$3", "$4", "$5"}, selectByID: "$1"})
}

// sqlPlaceholders holds the driver-specific bind-parameter syntax: SQLite
// (and MySQL) use positional "?", Postgres/CockroachDB use numbered "$n".
type sqlPlaceholders struct {
	insert     []string // 5 placeholders: id, session_id, label, created_at, payload
	selectByID string   // 1 placeholder: session_id
}

func newSQLCheckpointStore(db *sql.DB, ph sqlPlaceholders) (CheckpointStore, error) {
	insert, err := db.Prepare(fmt.Sprintf(
		`INSERT INTO checkpoints (id, session_id, label, created_at, payload) VALUES (%s, %s, %s, %s, %s)`,
		ph.insert[0], ph.insert[1], ph.insert[2], ph.insert[3], ph.insert[4]))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("thread: preparing checkpoint insert: %w", err)
	}

	selectStmt, err := db.Prepare(fmt.Sprintf(
		`SELECT id, session_id, label, created_at, payload FROM checkpoints WHERE session_id = %s ORDER BY created_at ASC`,
		ph.selectByID))
	if err != nil {
		insert.Close()
		db.Close()
		return nil, fmt.Errorf("thread: preparing checkpoint select: %w", err)
	}

	return &sqlCheckpointStore{db: db, stmtInsert: insert, stmtSelect: selectStmt}, nil
}

func (s *sqlCheckpointStore) SaveCheckpoint(ctx context.Context, ckpt *models.Checkpoint) error {
	payload, err := json.Marshal(ckpt)
	if err != nil {
		return fmt.Errorf("thread: marshaling checkpoint %s: %w", ckpt.ID, err)
	}
	_, err = s.stmtInsert.ExecContext(ctx, ckpt.ID, ckpt.SessionID, ckpt.Label, ckpt.CreatedAt, string(payload))
	return err
}

func (s *sqlCheckpointStore) LoadCheckpoints(ctx context.Context, sessionID string) ([]*models.Checkpoint, error) {
	rows, err := s.stmtSelect.QueryContext(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Checkpoint
	for rows.Next() {
		var id, sid, label, payload string
		var createdAt time.Time
		if err := rows.Scan(&id, &sid, &label, &createdAt, &payload); err != nil {
			return nil, err
		}
		var ckpt models.Checkpoint
		if err := json.Unmarshal([]byte(payload), &ckpt); err != nil {
			return nil, fmt.Errorf("thread: unmarshaling checkpoint %s: %w", id, err)
		}
		out = append(out, &ckpt)
	}
	return out, rows.Err()
}

func (s *sqlCheckpointStore) Close() error {
	return s.db.Close()
}
