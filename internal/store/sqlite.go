package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/avetisov/honeyshell/internal/domain"
	"github.com/avetisov/honeyshell/internal/shared"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL mode for concurrent session finalizers and API readers.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		source_ip TEXT NOT NULL,
		source_port INTEGER NOT NULL,
		started_at INTEGER NOT NULL,
		ended_at INTEGER,
		username TEXT,
		auth_attempts INTEGER NOT NULL DEFAULT 0,
		auth_success INTEGER NOT NULL DEFAULT 0,
		command_count INTEGER NOT NULL DEFAULT 0,
		download_count INTEGER NOT NULL DEFAULT 0,
		log_json TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions(started_at);
	CREATE INDEX IF NOT EXISTS idx_sessions_source ON sessions(source_ip);

	CREATE TABLE IF NOT EXISTS credentials (
		session_id TEXT NOT NULL,
		attempted_at INTEGER NOT NULL,
		username TEXT NOT NULL,
		password TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_credentials_pair ON credentials(username, password);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveSession persists a finalized session log and its credential rows.
func (s *SQLiteStore) SaveSession(ctx context.Context, log *domain.SessionLog) error {
	err := s.saveSession(ctx, log)
	if shared.IsSQLiteConflictError(err) {
		// One retry on a transient lock; the caller drops the log after that.
		time.Sleep(100 * time.Millisecond)
		err = s.saveSession(ctx, log)
	}
	return err
}

func (s *SQLiteStore) saveSession(ctx context.Context, log *domain.SessionLog) error {
	blob, err := json.Marshal(log)
	if err != nil {
		return fmt.Errorf("marshal session log: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var endedAt interface{}
	if log.EndedAt != nil {
		endedAt = log.EndedAt.Unix()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (session_id, source_ip, source_port, started_at, ended_at,
			username, auth_attempts, auth_success, command_count, download_count, log_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			ended_at = excluded.ended_at,
			username = excluded.username,
			auth_attempts = excluded.auth_attempts,
			auth_success = excluded.auth_success,
			command_count = excluded.command_count,
			download_count = excluded.download_count,
			log_json = excluded.log_json`,
		log.SessionID, log.SourceIP, log.SourcePort, log.StartedAt.Unix(), endedAt,
		log.Username, log.AuthAttempts, log.AuthSuccess,
		len(log.Commands), len(log.Downloads), string(blob),
	)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM credentials WHERE session_id = ?`, log.SessionID); err != nil {
		return fmt.Errorf("clear credentials: %w", err)
	}
	for _, a := range log.Auths {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO credentials (session_id, attempted_at, username, password) VALUES (?, ?, ?, ?)`,
			log.SessionID, a.Timestamp.Unix(), a.Username, a.Password); err != nil {
			return fmt.Errorf("insert credential: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit session: %w", err)
	}
	return nil
}

// GetSession retrieves a full session log by ID.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.SessionLog, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT log_json FROM sessions WHERE session_id = ?`, sessionID)

	var blob string
	err := row.Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	var log domain.SessionLog
	if err := json.Unmarshal([]byte(blob), &log); err != nil {
		return nil, fmt.Errorf("unmarshal session log: %w", err)
	}
	return &log, nil
}

// ListSessions returns session summaries, newest first.
func (s *SQLiteStore) ListSessions(ctx context.Context, limit, offset int) ([]*domain.SessionLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, source_ip, source_port, started_at, ended_at,
		       username, auth_attempts, auth_success
		FROM sessions
		ORDER BY started_at DESC, session_id
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*domain.SessionLog
	for rows.Next() {
		var log domain.SessionLog
		var username sql.NullString
		var startedAt int64
		var endedAt sql.NullInt64

		if err := rows.Scan(&log.SessionID, &log.SourceIP, &log.SourcePort,
			&startedAt, &endedAt, &username, &log.AuthAttempts, &log.AuthSuccess); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}

		log.StartedAt = time.Unix(startedAt, 0).UTC()
		if endedAt.Valid {
			end := time.Unix(endedAt.Int64, 0).UTC()
			log.EndedAt = &end
		}
		log.Username = username.String
		sessions = append(sessions, &log)
	}
	return sessions, rows.Err()
}

// CountSessions returns the total number of stored sessions.
func (s *SQLiteStore) CountSessions(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sessions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return n, nil
}

// TopCredentials returns the most frequently submitted credential pairs.
func (s *SQLiteStore) TopCredentials(ctx context.Context, limit int) ([]CredentialCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, COUNT(*) AS n
		FROM credentials
		GROUP BY username, password
		ORDER BY n DESC, username, password
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query credentials: %w", err)
	}
	defer rows.Close()

	var creds []CredentialCount
	for rows.Next() {
		var c CredentialCount
		if err := rows.Scan(&c.Username, &c.Password, &c.Count); err != nil {
			return nil, fmt.Errorf("scan credential row: %w", err)
		}
		creds = append(creds, c)
	}
	return creds, rows.Err()
}
