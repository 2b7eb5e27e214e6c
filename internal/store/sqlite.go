package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/surveysync/internal/domain"
	"github.com/ashureev/surveysync/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db    *sql.DB
	retry shared.RetryPolicy
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
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

	store := &SQLiteStore{db: db, retry: shared.DefaultRetryPolicy}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		brand_color TEXT NOT NULL,
		highlight_border_color TEXT,
		placement TEXT NOT NULL DEFAULT 'bottomRight',
		click_outside_close INTEGER NOT NULL DEFAULT 1,
		dark_overlay INTEGER NOT NULL DEFAULT 0,
		show_signature INTEGER NOT NULL DEFAULT 1,
		recontact_days INTEGER NOT NULL DEFAULT 7,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS environments (
		id TEXT PRIMARY KEY,
		product_id TEXT NOT NULL,
		type TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS people (
		id TEXT PRIMARY KEY,
		environment_id TEXT NOT NULL,
		user_id TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		UNIQUE (environment_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS attribute_classes (
		id TEXT PRIMARY KEY,
		environment_id TEXT NOT NULL,
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		archived INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		UNIQUE (environment_id, name)
	);

	CREATE TABLE IF NOT EXISTS attributes (
		person_id TEXT NOT NULL,
		attribute_class_id TEXT NOT NULL,
		value TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (person_id, attribute_class_id)
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		person_id TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at);

	CREATE TABLE IF NOT EXISTS action_classes (
		id TEXT PRIMARY KEY,
		environment_id TEXT NOT NULL,
		name TEXT NOT NULL,
		description TEXT,
		type TEXT NOT NULL,
		no_code_config TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		UNIQUE (environment_id, name)
	);

	CREATE TABLE IF NOT EXISTS actions (
		id TEXT PRIMARY KEY,
		action_class_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		properties TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS surveys (
		id TEXT PRIMARY KEY,
		environment_id TEXT NOT NULL,
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		status TEXT NOT NULL,
		display_option TEXT NOT NULL,
		recontact_days INTEGER,
		auto_close INTEGER,
		delay INTEGER NOT NULL DEFAULT 0,
		questions TEXT NOT NULL,
		thank_you_card TEXT,
		product_overwrites TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_surveys_environment ON surveys(environment_id);

	CREATE TABLE IF NOT EXISTS survey_triggers (
		survey_id TEXT NOT NULL,
		action_class_id TEXT NOT NULL,
		PRIMARY KEY (survey_id, action_class_id)
	);

	CREATE TABLE IF NOT EXISTS survey_attribute_filters (
		id TEXT PRIMARY KEY,
		survey_id TEXT NOT NULL,
		attribute_class_id TEXT NOT NULL,
		condition TEXT NOT NULL,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS displays (
		id TEXT PRIMARY KEY,
		survey_id TEXT NOT NULL,
		person_id TEXT,
		response_id TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS responses (
		id TEXT PRIMARY KEY,
		survey_id TEXT NOT NULL,
		person_id TEXT,
		display_id TEXT,
		data TEXT NOT NULL,
		finished INTEGER NOT NULL DEFAULT 0,
		meta TEXT,
		person_attributes TEXT,
		single_use_id TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		UNIQUE (survey_id, single_use_id)
	);
	CREATE INDEX IF NOT EXISTS idx_responses_survey ON responses(survey_id, created_at);

	CREATE TABLE IF NOT EXISTS api_keys (
		id TEXT PRIMARY KEY,
		environment_id TEXT NOT NULL,
		label TEXT NOT NULL,
		hashed_key TEXT NOT NULL UNIQUE,
		created_at INTEGER NOT NULL
	);
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
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// exec runs a write statement, retrying SQLite busy errors.
func (s *SQLiteStore) exec(ctx context.Context, op, query string, args ...any) (sql.Result, error) {
	var result sql.Result
	err := shared.RetryOnConflict(ctx, s.retry, op, func() error {
		var execErr error
		result, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	})
	if err != nil {
		return nil, dbError(op, err)
	}
	return result, nil
}

// withTx runs fn inside a transaction, retrying the whole transaction on
// SQLite busy errors.
func (s *SQLiteStore) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	err := shared.RetryOnConflict(ctx, s.retry, op, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		var notFound *domain.ResourceNotFoundError
		var invalid *domain.ValidationError
		if errors.As(err, &notFound) || errors.As(err, &invalid) {
			return err
		}
		return dbError(op, err)
	}
	return nil
}

func dbError(op string, err error) error {
	var dbErr *domain.DatabaseError
	if errors.As(err, &dbErr) {
		return err
	}
	return &domain.DatabaseError{Op: op, Err: err}
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func marshalJSON(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(data) == "null" {
		return nil, nil
	}
	return string(data), nil
}

func rawJSON(v sql.NullString) json.RawMessage {
	if !v.Valid || v.String == "" {
		return nil
	}
	return json.RawMessage(v.String)
}

func rawJSONArg(v json.RawMessage) any {
	if len(v) == 0 {
		return nil
	}
	return string(v)
}
