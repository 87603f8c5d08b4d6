package repo

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/LeventeLantos/sms-assistant/internal/model"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrDuplicate    = errors.New("gateway id already stored")
	ErrStaleSession = errors.New("session modified concurrently")
)

// numericTarget matches a `to` value the sweeper may dispatch to.
var numericTarget = regexp.MustCompile(`^[0-9]{10,15}$`)

type MessageRepository interface {
	// Create assigns an id when m.ID is empty and stamps timestamps.
	// It returns ErrDuplicate when m.GatewayID is already stored.
	Create(ctx context.Context, m *model.Message) error
	Get(ctx context.Context, id string) (*model.Message, error)
	FindByGatewayID(ctx context.Context, gatewayID string) (*model.Message, error)

	AppendReply(ctx context.Context, inboundID, replyID string) error
	AppendAttempt(ctx context.Context, id string, a model.DeliveryAttempt) error
	SetDeliveryNote(ctx context.Context, id, note string) error

	MarkSent(ctx context.Context, id, gatewayID string) error
	MarkFailed(ctx context.Context, id, reason string) error

	// ClaimPending returns outbound pending messages addressed to a numeric
	// target that were never dispatched, or dispatched longer than
	// staleAfter ago, and stamps them as dispatched now.
	ClaimPending(ctx context.Context, limit int, maxAge, staleAfter time.Duration) ([]model.Message, error)

	// ListByStatus lists newest first. An empty status lists everything.
	ListByStatus(ctx context.Context, status model.Status, limit, offset int) ([]model.Message, error)
	// ListConversation returns the latest messages from or to phone in
	// chronological order.
	ListConversation(ctx context.Context, phone string, limit int) ([]model.Message, error)
}

type SessionRepository interface {
	Get(ctx context.Context, phone string) (*model.Session, error)
	GetOrCreate(ctx context.Context, phone string) (s *model.Session, created bool, err error)
	// Save writes s if its Version still matches the stored one and bumps
	// s.Version on success.
	Save(ctx context.Context, s *model.Session) error
	Delete(ctx context.Context, phone string) error
}

type MergeResult struct {
	Session *model.Session
	// MergedIntoExisting is true when a session already existed for the
	// real phone and the guest session was deleted.
	MergedIntoExisting bool
	Reassigned         int64
}

// Store groups both repositories with the one cross-record operation.
type Store interface {
	Messages() MessageRepository
	Sessions() SessionRepository

	// MergeGuest moves every message referencing guest over to phone, then
	// either deletes the guest session (phone already has one) or re-keys it
	// to phone with state reset to new.
	MergeGuest(ctx context.Context, guest, phone string) (*MergeResult, error)
	Ping(ctx context.Context) error
}

func prepareMessage(m *model.Message, now time.Time) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	if m.Attempts == nil {
		m.Attempts = []model.DeliveryAttempt{}
	}
}

func newSession(phone string, now time.Time) *model.Session {
	return &model.Session{
		Phone:     phone,
		SessionID: uuid.NewString(),
		State:     model.StateNew,
		Metadata:  map[string]any{},
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func normalizeLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}
