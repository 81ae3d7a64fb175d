// Postgres-backed Store, an alternative to FileStore for deployments that
// already run Postgres for other state and want the dead-letter queue
// queryable with SQL rather than replayed from a JSON-lines file. Wires
// github.com/lib/pq the way app/server/db uses it for the rest of the
// server's persistence.
package deadletter

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"
)

// PostgresStore persists Items in a single table, keyed by id, with the
// full Item serialized as JSONB for the record's body and a handful of
// promoted columns for indexed filtering.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens dsn and ensures the backing table exists.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("deadletter: open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("deadletter: ping postgres: %w", err)
	}

	const ddl = `
CREATE TABLE IF NOT EXISTS forgehand_dead_letters (
	id              TEXT PRIMARY KEY,
	task_id         TEXT NOT NULL,
	repository      TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL,
	reprocessable   BOOLEAN NOT NULL DEFAULT false,
	body            JSONB NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS forgehand_dead_letters_status_idx ON forgehand_dead_letters (status);
CREATE INDEX IF NOT EXISTS forgehand_dead_letters_repo_idx ON forgehand_dead_letters (repository);
`
	if _, err := db.Exec(ddl); err != nil {
		return nil, fmt.Errorf("deadletter: migrate postgres: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Append(item *Item) error {
	return s.upsert(item)
}

func (s *PostgresStore) Update(item *Item) error {
	return s.upsert(item)
}

func (s *PostgresStore) upsert(item *Item) error {
	body, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("deadletter: marshal item %s: %w", item.ID, err)
	}

	const stmt = `
INSERT INTO forgehand_dead_letters (id, task_id, repository, status, reprocessable, body, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO UPDATE SET
	task_id = EXCLUDED.task_id,
	repository = EXCLUDED.repository,
	status = EXCLUDED.status,
	reprocessable = EXCLUDED.reprocessable,
	body = EXCLUDED.body,
	updated_at = EXCLUDED.updated_at
`
	_, err = s.db.Exec(stmt, item.ID, item.TaskID, item.Repository, string(item.Status), item.Reprocessable, body, item.UpdatedAt)
	if err != nil {
		return fmt.Errorf("deadletter: upsert item %s: %w", item.ID, err)
	}
	return nil
}

// LoadAll returns every persisted item.
func (s *PostgresStore) LoadAll() ([]*Item, error) {
	rows, err := s.db.Query(`SELECT body FROM forgehand_dead_letters`)
	if err != nil {
		return nil, fmt.Errorf("deadletter: query postgres: %w", err)
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("deadletter: scan row: %w", err)
		}
		var item Item
		if err := json.Unmarshal(body, &item); err != nil {
			return nil, fmt.Errorf("deadletter: decode row: %w", err)
		}
		items = append(items, &item)
	}
	return items, rows.Err()
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
