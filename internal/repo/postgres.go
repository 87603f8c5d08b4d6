package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const uniqueViolation = "23505"

const schema = `
CREATE TABLE IF NOT EXISTS sms_messages (
	id                TEXT PRIMARY KEY,
	gateway_id        TEXT UNIQUE,
	direction         TEXT NOT NULL,
	from_id           TEXT NOT NULL,
	to_id             TEXT NOT NULL,
	body              TEXT NOT NULL,
	status            TEXT NOT NULL,
	device_id         TEXT NOT NULL DEFAULT '',
	reply_to          TEXT REFERENCES sms_messages(id),
	replies           JSONB NOT NULL DEFAULT '[]'::jsonb,
	delivery_attempts JSONB NOT NULL DEFAULT '[]'::jsonb,
	delivery_note     TEXT NOT NULL DEFAULT '',
	provider_payload  BYTEA,
	dispatched_at     TIMESTAMPTZ,
	sent_at           TIMESTAMPTZ,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS sms_messages_status_created_idx ON sms_messages (status, created_at);
CREATE INDEX IF NOT EXISTS sms_messages_from_idx ON sms_messages (from_id);
CREATE INDEX IF NOT EXISTS sms_messages_to_idx ON sms_messages (to_id);

CREATE TABLE IF NOT EXISTS sms_sessions (
	phone      TEXT PRIMARY KEY,
	session_id TEXT NOT NULL UNIQUE,
	state      TEXT NOT NULL,
	service    TEXT,
	metadata   JSONB NOT NULL DEFAULT '{}'::jsonb,
	version    BIGINT NOT NULL DEFAULT 1,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

type PostgresStore struct {
	db       *sql.DB
	messages *PostgresMessageRepo
	sessions *PostgresSessionRepo
}

// OpenPostgres opens a pgx-backed *sql.DB and verifies connectivity.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{
		db:       db,
		messages: NewPostgresMessageRepo(db),
		sessions: NewPostgresSessionRepo(db),
	}
}

func (s *PostgresStore) Messages() MessageRepository { return s.messages }
func (s *PostgresStore) Sessions() SessionRepository { return s.sessions }

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// EnsureSchema creates the tables if they are missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) MergeGuest(ctx context.Context, guest, phone string) (*MergeResult, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := scanSession(tx.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM sms_sessions WHERE phone = $1 FOR UPDATE
	`, guest)); err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE sms_messages
		SET from_id = CASE WHEN from_id = $1 THEN $2 ELSE from_id END,
		    to_id   = CASE WHEN to_id = $1 THEN $2 ELSE to_id END,
		    updated_at = now()
		WHERE from_id = $1 OR to_id = $1
	`, guest, phone)
	if err != nil {
		return nil, fmt.Errorf("reassign messages: %w", err)
	}
	moved, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}

	existing, err := scanSession(tx.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM sms_sessions WHERE phone = $1 FOR UPDATE
	`, phone))
	switch {
	case err == nil:
		if _, err := tx.ExecContext(ctx, `DELETE FROM sms_sessions WHERE phone = $1`, guest); err != nil {
			return nil, fmt.Errorf("delete guest session: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, err
		}
		return &MergeResult{Session: existing, MergedIntoExisting: true, Reassigned: moved}, nil
	case !errors.Is(err, ErrNotFound):
		return nil, err
	}

	renamed, err := scanSession(tx.QueryRowContext(ctx, `
		UPDATE sms_sessions
		SET phone = $2, state = 'new', version = version + 1, updated_at = now()
		WHERE phone = $1
		RETURNING `+sessionColumns, guest, phone))
	if err != nil {
		return nil, fmt.Errorf("rekey guest session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &MergeResult{Session: renamed, Reassigned: moved}, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
