// ABOUTME: SQLite implementation of TurnStore using modernc.org/sqlite
// ABOUTME: Creates the schema on open and keeps timestamps sortable as text

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// timeLayout is fixed-width so text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements TurnStore using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) the ledger at path, creating parent
// directories as needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// one connection keeps :memory: databases alive and serializes writers
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS turns (
			turn_id      TEXT PRIMARY KEY,
			thread_id    TEXT NOT NULL DEFAULT '',
			run_id       TEXT NOT NULL DEFAULT '',
			request_id   TEXT,
			text         TEXT NOT NULL,
			auth_mode    TEXT NOT NULL,
			status       TEXT NOT NULL,
			posted       INTEGER NOT NULL DEFAULT 0,
			error_kind   TEXT NOT NULL DEFAULT '',
			error_detail TEXT NOT NULL DEFAULT '',
			attempts     INTEGER NOT NULL DEFAULT 0,
			created_at   TEXT NOT NULL,
			updated_at   TEXT NOT NULL,

			CHECK (status IN ('pending', 'posted', 'running', 'completed', 'failed'))
		);

		CREATE INDEX IF NOT EXISTS idx_turns_thread_created
			ON turns(thread_id, created_at);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_turns_request
			ON turns(request_id) WHERE request_id IS NOT NULL;
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// CreateTurn inserts a turn. A reused turn id or request id yields ErrDuplicateTurn.
func (s *SQLiteStore) CreateTurn(ctx context.Context, turn *Turn) error {
	query := `
		INSERT INTO turns (turn_id, thread_id, run_id, request_id, text, auth_mode, status,
			posted, error_kind, error_detail, attempts, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		turn.ID,
		turn.ThreadID,
		turn.RunID,
		nullString(turn.RequestID),
		turn.Text,
		turn.AuthMode,
		string(turn.Status),
		turn.Posted,
		turn.ErrorKind,
		turn.ErrorDetail,
		turn.Attempts,
		formatTime(turn.CreatedAt),
		formatTime(turn.UpdatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateTurn
		}
		return fmt.Errorf("inserting turn: %w", err)
	}

	s.logger.Debug("created turn", "id", turn.ID, "thread_id", turn.ThreadID)
	return nil
}

// UpdateTurn overwrites the mutable fields of an existing turn.
func (s *SQLiteStore) UpdateTurn(ctx context.Context, turn *Turn) error {
	query := `
		UPDATE turns
		SET thread_id = ?, run_id = ?, status = ?, posted = ?, error_kind = ?,
			error_detail = ?, attempts = ?, updated_at = ?
		WHERE turn_id = ?
	`
	result, err := s.db.ExecContext(ctx, query,
		turn.ThreadID,
		turn.RunID,
		string(turn.Status),
		turn.Posted,
		turn.ErrorKind,
		turn.ErrorDetail,
		turn.Attempts,
		formatTime(turn.UpdatedAt),
		turn.ID,
	)
	if err != nil {
		return fmt.Errorf("updating turn: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// ClaimRetry moves a failed turn back to pending. Returns ErrNotFound for an
// unknown turn and ErrTurnNotRetryable when the turn is not failed.
func (s *SQLiteStore) ClaimRetry(ctx context.Context, id string, at time.Time) (*Turn, error) {
	query := `
		UPDATE turns
		SET status = ?, error_kind = '', error_detail = '', attempts = attempts + 1, updated_at = ?
		WHERE turn_id = ? AND status = ?
	`
	result, err := s.db.ExecContext(ctx, query, string(TurnPending), formatTime(at), id, string(TurnFailed))
	if err != nil {
		return nil, fmt.Errorf("claiming turn retry: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		if _, err := s.GetTurn(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrTurnNotRetryable
	}
	return s.GetTurn(ctx, id)
}

const turnColumns = `turn_id, thread_id, run_id, request_id, text, auth_mode, status,
	posted, error_kind, error_detail, attempts, created_at, updated_at`

// GetTurn retrieves a turn by id. Returns ErrNotFound if it doesn't exist.
func (s *SQLiteStore) GetTurn(ctx context.Context, id string) (*Turn, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+turnColumns+` FROM turns WHERE turn_id = ?`, id)
	turn, err := scanTurn(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return turn, nil
}

// ListTurns returns a thread's turns oldest first.
func (s *SQLiteStore) ListTurns(ctx context.Context, threadID string, limit int) ([]*Turn, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+turnColumns+` FROM turns WHERE thread_id = ? ORDER BY created_at ASC, rowid ASC LIMIT ?`,
		threadID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying turns: %w", err)
	}
	defer rows.Close()

	var turns []*Turn
	for rows.Next() {
		turn, err := scanTurn(rows)
		if err != nil {
			return nil, err
		}
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating turns: %w", err)
	}
	return turns, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTurn(row scanner) (*Turn, error) {
	var (
		turn                 Turn
		requestID            sql.NullString
		status               string
		createdAt, updatedAt string
	)
	err := row.Scan(
		&turn.ID,
		&turn.ThreadID,
		&turn.RunID,
		&requestID,
		&turn.Text,
		&turn.AuthMode,
		&status,
		&turn.Posted,
		&turn.ErrorKind,
		&turn.ErrorDetail,
		&turn.Attempts,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning turn: %w", err)
	}

	turn.RequestID = requestID.String
	turn.Status = TurnStatus(status)
	if turn.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if turn.UpdatedAt, err = time.Parse(timeLayout, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &turn, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(timeLayout)
}

// nullString maps "" to NULL so optional unique columns do not collide.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "constraint failed")
}
