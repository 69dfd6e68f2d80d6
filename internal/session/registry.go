package session

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/relabs-tech/bci_runtime/internal/state"

	_ "modernc.org/sqlite" // SQLite driver.
)

// Registry persists the saved-sessions list so trained calibrations survive
// a restart. One row per finalized, successfully trained session.
type Registry struct {
	db *sql.DB
}

// OpenRegistry opens or creates the SQLite database and applies migrations.
func OpenRegistry(path string) (*Registry, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	r := &Registry{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

// Close closes the underlying database.
func (r *Registry) Close() error {
	return r.db.Close()
}

func (r *Registry) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS saved_sessions (
			id TEXT PRIMARY KEY,
			label TEXT NOT NULL,
			subject TEXT NOT NULL,
			session TEXT NOT NULL,
			created_at TEXT NOT NULL,
			model_dir TEXT NOT NULL,
			freq_left_e INTEGER NOT NULL,
			freq_right_e INTEGER NOT NULL,
			freq_left_hz INTEGER NOT NULL,
			freq_right_hz INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_saved_sessions_subject ON saved_sessions(subject);`,
	}
	for _, stmt := range stmts {
		if _, err := r.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Insert stores one saved session; replaces a previous entry with the same
// id (re-calibration of the same subject+session).
func (r *Registry) Insert(ctx context.Context, s state.SavedSession) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO saved_sessions
		 (id, label, subject, session, created_at, model_dir, freq_left_e, freq_right_e, freq_left_hz, freq_right_hz)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.Label, s.Subject, s.Session, s.CreatedAt, s.ModelDir,
		int(s.FreqLeftE), int(s.FreqRightE), s.FreqLeftHz, s.FreqRightHz,
	)
	if err != nil {
		return fmt.Errorf("insert saved session: %w", err)
	}
	return nil
}

// List returns every saved session, oldest first.
func (r *Registry) List(ctx context.Context) ([]state.SavedSession, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, label, subject, session, created_at, model_dir, freq_left_e, freq_right_e, freq_left_hz, freq_right_hz
		 FROM saved_sessions ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list saved sessions: %w", err)
	}
	defer rows.Close()

	var out []state.SavedSession
	for rows.Next() {
		var s state.SavedSession
		var fl, fr int
		if err := rows.Scan(&s.ID, &s.Label, &s.Subject, &s.Session, &s.CreatedAt, &s.ModelDir,
			&fl, &fr, &s.FreqLeftHz, &s.FreqRightHz); err != nil {
			return nil, err
		}
		s.FreqLeftE = state.TestFreq(fl)
		s.FreqRightE = state.TestFreq(fr)
		out = append(out, s)
	}
	return out, rows.Err()
}

// DeleteBySubject removes every entry for a subject (overwrite-calibration
// confirmed by the user).
func (r *Registry) DeleteBySubject(ctx context.Context, subject string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM saved_sessions WHERE subject = ?`, subject)
	return err
}
