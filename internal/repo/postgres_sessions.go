package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/LeventeLantos/sms-assistant/internal/model"
)

const sessionColumns = `phone, session_id, state, service, metadata, version, created_at, updated_at`

type PostgresSessionRepo struct {
	db *sql.DB
}

func NewPostgresSessionRepo(db *sql.DB) *PostgresSessionRepo {
	return &PostgresSessionRepo{db: db}
}

func (r *PostgresSessionRepo) Get(ctx context.Context, phone string) (*model.Session, error) {
	return scanSession(r.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM sms_sessions WHERE phone = $1
	`, phone))
}

func (r *PostgresSessionRepo) GetOrCreate(ctx context.Context, phone string) (*model.Session, bool, error) {
	now := time.Now().UTC()
	s, err := scanSession(r.db.QueryRowContext(ctx, `
		INSERT INTO sms_sessions (phone, session_id, state, metadata, version, created_at, updated_at)
		VALUES ($1, $2, $3, '{}'::jsonb, 1, $4, $4)
		ON CONFLICT (phone) DO NOTHING
		RETURNING `+sessionColumns,
		phone, uuid.NewString(), string(model.StateNew), now))
	if err == nil {
		return s, true, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	s, err = r.Get(ctx, phone)
	if err != nil {
		return nil, false, err
	}
	return s, false, nil
}

func (r *PostgresSessionRepo) Save(ctx context.Context, s *model.Session) error {
	meta := s.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	var (
		version   int64
		updatedAt time.Time
	)
	err = r.db.QueryRowContext(ctx, `
		UPDATE sms_sessions
		SET state = $2, service = $3, metadata = $4::jsonb,
		    version = version + 1, updated_at = now()
		WHERE phone = $1 AND version = $5
		RETURNING version, updated_at
	`, s.Phone, string(s.State), s.Service, string(b), s.Version).Scan(&version, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		if _, getErr := r.Get(ctx, s.Phone); errors.Is(getErr, ErrNotFound) {
			return ErrNotFound
		}
		return ErrStaleSession
	}
	if err != nil {
		return err
	}

	s.Version = version
	s.UpdatedAt = updatedAt
	return nil
}

func (r *PostgresSessionRepo) Delete(ctx context.Context, phone string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sms_sessions WHERE phone = $1`, phone)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanSession(row rowScanner) (*model.Session, error) {
	var (
		s       model.Session
		state   string
		service sql.NullString
		meta    []byte
	)
	err := row.Scan(&s.Phone, &s.SessionID, &state, &service, &meta, &s.Version, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	s.State = model.SessionState(state)
	if service.Valid {
		v := service.String
		s.Service = &v
	}
	s.Metadata = map[string]any{}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &s.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata of %s: %w", s.Phone, err)
		}
	}
	return &s, nil
}
