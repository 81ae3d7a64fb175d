// SQLite-backed alternative to FileStore, for deployments that want queue
// snapshots queryable and migration-versioned instead of living as loose
// timestamped JSON files. config's queue.persistenceBackend field names it
// (file | sqlite), but nothing reads that field: forgehand-worker always
// uses FileStore. Uses modernc.org/sqlite, the pure-Go cgo-free
// driver, and pressly/goose/v3 to apply migrations/.
package queue

import (
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var sqliteMigrations embed.FS

// SQLiteStore persists queue snapshots as rows in a single table, one row
// per Save call, ordered by created_at.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the SQLite database at path and applies
// any pending migrations.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("queue: open sqlite %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("queue: ping sqlite %s: %w", path, err)
	}

	goose.SetBaseFS(sqliteMigrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return nil, fmt.Errorf("queue: set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return nil, fmt.Errorf("queue: apply migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Save inserts a new snapshot row.
func (s *SQLiteStore) Save(tasks []*Task) error {
	body, err := json.Marshal(tasks)
	if err != nil {
		return fmt.Errorf("queue: marshal snapshot: %w", err)
	}
	_, err = s.db.Exec(`INSERT INTO queue_snapshots (created_at, body) VALUES (unixepoch(), ?)`, string(body))
	if err != nil {
		return fmt.Errorf("queue: insert snapshot: %w", err)
	}
	return nil
}

// LoadLatestAndRemove loads the most recently inserted snapshot row and
// deletes it, mirroring FileStore.LoadLatestAndRemove's contract.
func (s *SQLiteStore) LoadLatestAndRemove() ([]*Task, error) {
	row := s.db.QueryRow(`SELECT id, body FROM queue_snapshots ORDER BY created_at DESC, id DESC LIMIT 1`)

	var id int64
	var body string
	if err := row.Scan(&id, &body); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("queue: scan latest snapshot: %w", err)
	}

	var tasks []*Task
	if err := json.Unmarshal([]byte(body), &tasks); err != nil {
		return nil, fmt.Errorf("queue: decode snapshot %d: %w", id, err)
	}

	if _, err := s.db.Exec(`DELETE FROM queue_snapshots WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("queue: remove snapshot %d: %w", id, err)
	}

	return tasks, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
