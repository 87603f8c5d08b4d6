package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/LeventeLantos/sms-assistant/internal/model"
)

const messageColumns = `id, gateway_id, direction, from_id, to_id, body, status, device_id,
	reply_to, replies, delivery_attempts, delivery_note, provider_payload,
	dispatched_at, sent_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

type PostgresMessageRepo struct {
	db *sql.DB
}

func NewPostgresMessageRepo(db *sql.DB) *PostgresMessageRepo {
	return &PostgresMessageRepo{db: db}
}

func (r *PostgresMessageRepo) Create(ctx context.Context, m *model.Message) error {
	prepareMessage(m, time.Now().UTC())

	replies, err := json.Marshal(nonNilStrings(m.Replies))
	if err != nil {
		return err
	}
	attempts, err := json.Marshal(m.Attempts)
	if err != nil {
		return err
	}
	var payload []byte
	if len(m.ProviderPayload) > 0 {
		payload = []byte(m.ProviderPayload)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO sms_messages (`+messageColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::jsonb, $11::jsonb, $12, $13, $14, $15, $16, $17)
	`,
		m.ID, m.GatewayID, string(m.Direction), m.From, m.To, m.Body, string(m.Status), m.DeviceID,
		m.ReplyTo, string(replies), string(attempts), m.DeliveryNote, payload,
		m.DispatchedAt, m.SentAt, m.CreatedAt, m.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (r *PostgresMessageRepo) Get(ctx context.Context, id string) (*model.Message, error) {
	return scanMessage(r.db.QueryRowContext(ctx, `
		SELECT `+messageColumns+` FROM sms_messages WHERE id = $1
	`, id))
}

func (r *PostgresMessageRepo) FindByGatewayID(ctx context.Context, gatewayID string) (*model.Message, error) {
	return scanMessage(r.db.QueryRowContext(ctx, `
		SELECT `+messageColumns+` FROM sms_messages WHERE gateway_id = $1
	`, gatewayID))
}

func (r *PostgresMessageRepo) AppendReply(ctx context.Context, inboundID, replyID string) error {
	return r.exec(ctx, `
		UPDATE sms_messages
		SET replies = replies || to_jsonb($2::text), updated_at = now()
		WHERE id = $1
	`, inboundID, replyID)
}

func (r *PostgresMessageRepo) AppendAttempt(ctx context.Context, id string, a model.DeliveryAttempt) error {
	b, err := json.Marshal([]model.DeliveryAttempt{a})
	if err != nil {
		return err
	}
	return r.exec(ctx, `
		UPDATE sms_messages
		SET delivery_attempts = delivery_attempts || $2::jsonb, updated_at = now()
		WHERE id = $1
	`, id, string(b))
}

func (r *PostgresMessageRepo) SetDeliveryNote(ctx context.Context, id, note string) error {
	return r.exec(ctx, `
		UPDATE sms_messages SET delivery_note = $2, updated_at = now() WHERE id = $1
	`, id, note)
}

func (r *PostgresMessageRepo) MarkSent(ctx context.Context, id, gatewayID string) error {
	err := r.exec(ctx, `
		UPDATE sms_messages
		SET status = 'sent',
		    sent_at = now(),
		    gateway_id = COALESCE(NULLIF($2, ''), gateway_id),
		    updated_at = now()
		WHERE id = $1
	`, id, gatewayID)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (r *PostgresMessageRepo) MarkFailed(ctx context.Context, id, reason string) error {
	return r.exec(ctx, `
		UPDATE sms_messages
		SET status = 'failed',
		    delivery_note = CASE WHEN $2 = '' THEN delivery_note ELSE $2 END,
		    updated_at = now()
		WHERE id = $1
	`, id, reason)
}

func (r *PostgresMessageRepo) ClaimPending(ctx context.Context, limit int, maxAge, staleAfter time.Duration) ([]model.Message, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be > 0")
	}

	now := time.Now().UTC()
	oldest := time.Time{}
	if maxAge > 0 {
		oldest = now.Add(-maxAge)
	}
	staleBefore := now.Add(-staleAfter)

	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM sms_messages
		WHERE direction = 'sent'
		  AND status = 'pending'
		  AND to_id ~ '^[0-9]{10,15}$'
		  AND created_at >= $2
		  AND (dispatched_at IS NULL OR dispatched_at < $3)
		ORDER BY created_at ASC
		FOR UPDATE SKIP LOCKED
		LIMIT $1
	`, limit, oldest, staleBefore)
	if err != nil {
		return nil, err
	}
	msgs, err := collectMessages(rows)
	if err != nil {
		return nil, err
	}

	for i := range msgs {
		if _, err := tx.ExecContext(ctx, `
			UPDATE sms_messages SET dispatched_at = $2, updated_at = $2 WHERE id = $1
		`, msgs[i].ID, now); err != nil {
			return nil, err
		}
		at := now
		msgs[i].DispatchedAt = &at
		msgs[i].UpdatedAt = now
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (r *PostgresMessageRepo) ListByStatus(ctx context.Context, status model.Status, limit, offset int) ([]model.Message, error) {
	limit = normalizeLimit(limit, 50, 500)
	if offset < 0 {
		offset = 0
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM sms_messages
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, string(status), limit, offset)
	if err != nil {
		return nil, err
	}
	return collectMessages(rows)
}

func (r *PostgresMessageRepo) ListConversation(ctx context.Context, phone string, limit int) ([]model.Message, error) {
	limit = normalizeLimit(limit, 100, 1000)

	rows, err := r.db.QueryContext(ctx, `
		SELECT * FROM (
			SELECT `+messageColumns+`
			FROM sms_messages
			WHERE from_id = $1 OR to_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		) latest
		ORDER BY created_at ASC
	`, phone, limit)
	if err != nil {
		return nil, err
	}
	return collectMessages(rows)
}

func (r *PostgresMessageRepo) exec(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
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

func collectMessages(rows *sql.Rows) ([]model.Message, error) {
	defer rows.Close()

	out := []model.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func scanMessage(row rowScanner) (*model.Message, error) {
	var (
		m            model.Message
		direction    string
		status       string
		gatewayID    sql.NullString
		replyTo      sql.NullString
		replies      []byte
		attempts     []byte
		payload      []byte
		dispatchedAt sql.NullTime
		sentAt       sql.NullTime
	)
	err := row.Scan(
		&m.ID, &gatewayID, &direction, &m.From, &m.To, &m.Body, &status, &m.DeviceID,
		&replyTo, &replies, &attempts, &m.DeliveryNote, &payload,
		&dispatchedAt, &sentAt, &m.CreatedAt, &m.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	m.Direction = model.Direction(direction)
	m.Status = model.Status(status)
	if gatewayID.Valid {
		s := gatewayID.String
		m.GatewayID = &s
	}
	if replyTo.Valid {
		s := replyTo.String
		m.ReplyTo = &s
	}
	if dispatchedAt.Valid {
		t := dispatchedAt.Time
		m.DispatchedAt = &t
	}
	if sentAt.Valid {
		t := sentAt.Time
		m.SentAt = &t
	}
	if len(replies) > 0 {
		if err := json.Unmarshal(replies, &m.Replies); err != nil {
			return nil, fmt.Errorf("decode replies of %s: %w", m.ID, err)
		}
	}
	m.Attempts = []model.DeliveryAttempt{}
	if len(attempts) > 0 {
		if err := json.Unmarshal(attempts, &m.Attempts); err != nil {
			return nil, fmt.Errorf("decode attempts of %s: %w", m.ID, err)
		}
	}
	if len(payload) > 0 {
		m.ProviderPayload = payload
	}
	return &m, nil
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
