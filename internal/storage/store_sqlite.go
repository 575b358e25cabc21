package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver

	"bunny-chatter/internal/logging"
	"bunny-chatter/internal/session"
)

const busyTimeoutMS = 5000

type migration struct {
	Version int
	Name    string
	SQL     string
}

var migrations = []migration{
	{
		Version: 1,
		Name:    "create sessions and turns",
		SQL: `
			CREATE TABLE sessions (
				user_key    TEXT PRIMARY KEY,
				nickname    TEXT NOT NULL,
				account_tag TEXT NOT NULL DEFAULT '',
				updated_at  TEXT NOT NULL
			);

			CREATE TABLE turns (
				user_key TEXT NOT NULL REFERENCES sessions(user_key) ON DELETE CASCADE,
				seq      INTEGER NOT NULL,
				role     TEXT NOT NULL,
				content  TEXT NOT NULL,
				PRIMARY KEY (user_key, seq)
			);
		`,
	},
}

// SQLiteStore keeps sessions in an embedded SQLite database. Save replaces
// the full contents in a single transaction, matching FileStore semantics.
type SQLiteStore struct {
	db  *sql.DB
	log *logging.Logger
}

var _ session.Store = (*SQLiteStore)(nil)

// OpenSQLiteStore opens (or creates) the database at path and runs
// migrations. The connection pool is limited to one connection since SQLite
// serialises writers anyway.
func OpenSQLiteStore(path string, log *logging.Logger) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("sqlite: create directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		fmt.Sprintf("PRAGMA busy_timeout=%d", busyTimeoutMS),
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db, log: log.Sub("store")}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}
	s.log.Info().Str("path", path).Msg("database opened")
	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Load(ctx context.Context) (map[string]session.Record, error) {
	out := make(map[string]session.Record)

	rows, err := s.db.QueryContext(ctx, `SELECT user_key, nickname, account_tag FROM sessions`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: load sessions: %w", err)
	}
	for rows.Next() {
		rec := session.Record{History: []session.Turn{}}
		if err := rows.Scan(&rec.UserKey, &rec.Nickname, &rec.AccountTag); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("sqlite: scan session: %w", err)
		}
		out[rec.UserKey] = rec
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("sqlite: session rows: %w", err)
	}
	_ = rows.Close()

	rows, err = s.db.QueryContext(ctx, `SELECT user_key, role, content FROM turns ORDER BY user_key, seq`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: load turns: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var key, role, content string
		if err := rows.Scan(&key, &role, &content); err != nil {
			return nil, fmt.Errorf("sqlite: scan turn: %w", err)
		}
		rec, ok := out[key]
		if !ok {
			continue
		}
		rec.History = append(rec.History, session.Turn{Role: session.Role(role), Content: content})
		out[key] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: turn rows: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) Save(ctx context.Context, records map[string]session.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin save: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM turns`); err != nil {
		return fmt.Errorf("sqlite: clear turns: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions`); err != nil {
		return fmt.Errorf("sqlite: clear sessions: %w", err)
	}

	insSession, err := tx.PrepareContext(ctx,
		`INSERT INTO sessions (user_key, nickname, account_tag, updated_at) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("sqlite: prepare session insert: %w", err)
	}
	defer func() { _ = insSession.Close() }()
	insTurn, err := tx.PrepareContext(ctx,
		`INSERT INTO turns (user_key, seq, role, content) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("sqlite: prepare turn insert: %w", err)
	}
	defer func() { _ = insTurn.Close() }()

	now := time.Now().UTC().Format(time.RFC3339)
	for key, rec := range records {
		if _, err := insSession.ExecContext(ctx, key, rec.Nickname, rec.AccountTag, now); err != nil {
			return fmt.Errorf("sqlite: insert session %s: %w", key, err)
		}
		for i, turn := range rec.History {
			if _, err := insTurn.ExecContext(ctx, key, i, string(turn.Role), turn.Content); err != nil {
				return fmt.Errorf("sqlite: insert turn %s/%d: %w", key, i, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit save: %w", err)
	}
	return nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL DEFAULT (datetime('now'))
		)
	`); err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}

	for _, m := range migrations {
		var count int
		if err := s.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM schema_migrations WHERE version = ?", m.Version,
		).Scan(&count); err != nil {
			return fmt.Errorf("checking migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		s.log.Info().Int("version", m.Version).Str("name", m.Name).Msg("applying migration")
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Name, err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (?)", m.Version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}
	return nil
}
