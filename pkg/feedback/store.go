package feedback

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"approver/pkg/proto"
)

const schema = `
CREATE TABLE IF NOT EXISTS reward_samples (
	request_identity TEXT PRIMARY KEY,
	ai_verdict       TEXT NOT NULL,
	human_verdict    TEXT NOT NULL,
	agreement        INTEGER NOT NULL,
	recorded_at      TEXT NOT NULL
);
`

// Store is the SQLite history of emitted reward samples. The primary key on
// the request identity is what makes recording idempotent: a task yields at
// most one sample no matter how many reconciles observe it.
type Store struct {
	db *sql.DB
}

// OpenStore opens (and if needed creates) the history database.
func OpenStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf(
		"file:%s?_foreign_keys=ON&_journal_mode=WAL&_busy_timeout=5000", dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open feedback database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping feedback database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize feedback schema: %w", err)
	}

	// SQLite supports a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &Store{db: db}, nil
}

// Recorded reports whether a sample already exists for the identity.
func (s *Store) Recorded(identity string) (bool, error) {
	var one int
	err := s.db.QueryRow(
		"SELECT 1 FROM reward_samples WHERE request_identity = ?", identity).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query reward sample for %s: %w", identity, err)
	}
	return true, nil
}

// Insert stores a sample. Inserting a second sample for the same identity
// fails on the primary key, preserving the first record.
func (s *Store) Insert(sample proto.RewardSample) error {
	agreement := 0
	if sample.Agreement {
		agreement = 1
	}
	_, err := s.db.Exec(
		`INSERT INTO reward_samples
		 (request_identity, ai_verdict, human_verdict, agreement, recorded_at)
		 VALUES (?, ?, ?, ?, ?)`,
		sample.Identity, string(sample.AIVerdict), string(sample.HumanVerdict),
		agreement, sample.Timestamp.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert reward sample for %s: %w", sample.Identity, err)
	}
	return nil
}

// Samples returns all recorded samples, newest first.
func (s *Store) Samples() ([]proto.RewardSample, error) {
	rows, err := s.db.Query(
		`SELECT request_identity, ai_verdict, human_verdict, agreement, recorded_at
		 FROM reward_samples ORDER BY recorded_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list reward samples: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var samples []proto.RewardSample
	for rows.Next() {
		var (
			sample    proto.RewardSample
			agreement int
			recorded  string
		)
		if err := rows.Scan(&sample.Identity, &sample.AIVerdict, &sample.HumanVerdict, &agreement, &recorded); err != nil {
			return nil, fmt.Errorf("failed to scan reward sample: %w", err)
		}
		sample.Agreement = agreement == 1
		sample.Timestamp, _ = time.Parse(time.RFC3339, recorded)
		samples = append(samples, sample)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate reward samples: %w", err)
	}
	return samples, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
