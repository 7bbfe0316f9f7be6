package usage

import (
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store is the persistent usage ledger. Records are appended as
// calls complete and read back only at reporting time.
type Store struct {
	db *sql.DB
}

// OpenStore opens (or creates) the sqlite ledger at path
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS usage_records (
		id                INTEGER PRIMARY KEY AUTOINCREMENT,
		model             TEXT NOT NULL,
		task_label        TEXT NOT NULL DEFAULT '',
		prompt_tokens     INTEGER NOT NULL DEFAULT 0,
		completion_tokens INTEGER NOT NULL DEFAULT 0,
		recorded_at       DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_usage_model ON usage_records(model);
	CREATE INDEX IF NOT EXISTS idx_usage_recorded_at ON usage_records(recorded_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Append persists one usage record
func (s *Store) Append(rec Record) error {
	_, err := s.db.Exec(
		`INSERT INTO usage_records (model, task_label, prompt_tokens, completion_tokens, recorded_at)
		 VALUES (?, ?, ?, ?, ?)`,
		rec.Model, rec.TaskLabel, rec.PromptTokens, rec.CompletionTokens, rec.Timestamp,
	)
	return err
}

// Records loads every record appended since a cutoff time
func (s *Store) Records(since time.Time) ([]Record, error) {
	rows, err := s.db.Query(
		`SELECT model, task_label, prompt_tokens, completion_tokens, recorded_at
		 FROM usage_records WHERE recorded_at >= ? ORDER BY recorded_at`,
		since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.Model, &rec.TaskLabel, &rec.PromptTokens, &rec.CompletionTokens, &rec.Timestamp); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}
