package repo

import (
	"context"
	"sync"
	"time"

	"github.com/LeventeLantos/sms-assistant/internal/model"
)

// MemoryStore keeps everything in process. A single mutex guards messages
// and sessions so MergeGuest is one critical section.
type MemoryStore struct {
	mu        sync.Mutex
	messages  map[string]*model.Message
	order     []string
	byGateway map[string]string
	sessions  map[string]*model.Session

	now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages:  make(map[string]*model.Message),
		byGateway: make(map[string]string),
		sessions:  make(map[string]*model.Session),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Messages() MessageRepository { return memoryMessages{s} }
func (s *MemoryStore) Sessions() SessionRepository { return memorySessions{s} }
func (s *MemoryStore) Ping(context.Context) error  { return nil }

func (s *MemoryStore) MergeGuest(ctx context.Context, guest, phone string) (*MergeResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	gs, ok := s.sessions[guest]
	if !ok {
		return nil, ErrNotFound
	}
	now := s.now()

	var moved int64
	for _, id := range s.order {
		m := s.messages[id]
		touched := false
		if m.From == guest {
			m.From = phone
			touched = true
		}
		if m.To == guest {
			m.To = phone
			touched = true
		}
		if touched {
			m.UpdatedAt = now
			moved++
		}
	}

	if existing, ok := s.sessions[phone]; ok {
		delete(s.sessions, guest)
		return &MergeResult{Session: existing.Clone(), MergedIntoExisting: true, Reassigned: moved}, nil
	}

	delete(s.sessions, guest)
	gs.Phone = phone
	gs.State = model.StateNew
	gs.Version++
	gs.UpdatedAt = now
	s.sessions[phone] = gs
	return &MergeResult{Session: gs.Clone(), Reassigned: moved}, nil
}

type memoryMessages struct{ s *MemoryStore }

func (r memoryMessages) Create(ctx context.Context, m *model.Message) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.GatewayID != nil {
		if _, ok := s.byGateway[*m.GatewayID]; ok {
			return ErrDuplicate
		}
	}
	prepareMessage(m, s.now())
	if _, ok := s.messages[m.ID]; ok {
		return ErrDuplicate
	}

	s.messages[m.ID] = m.Clone()
	s.order = append(s.order, m.ID)
	if m.GatewayID != nil {
		s.byGateway[*m.GatewayID] = m.ID
	}
	return nil
}

func (r memoryMessages) Get(ctx context.Context, id string) (*model.Message, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	return m.Clone(), nil
}

func (r memoryMessages) FindByGatewayID(ctx context.Context, gatewayID string) (*model.Message, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byGateway[gatewayID]
	if !ok {
		return nil, ErrNotFound
	}
	return s.messages[id].Clone(), nil
}

func (r memoryMessages) update(id string, fn func(m *model.Message)) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[id]
	if !ok {
		return ErrNotFound
	}
	fn(m)
	m.UpdatedAt = s.now()
	return nil
}

func (r memoryMessages) AppendReply(ctx context.Context, inboundID, replyID string) error {
	return r.update(inboundID, func(m *model.Message) {
		m.Replies = append(m.Replies, replyID)
	})
}

func (r memoryMessages) AppendAttempt(ctx context.Context, id string, a model.DeliveryAttempt) error {
	return r.update(id, func(m *model.Message) {
		m.Attempts = append(m.Attempts, a)
	})
}

func (r memoryMessages) SetDeliveryNote(ctx context.Context, id, note string) error {
	return r.update(id, func(m *model.Message) {
		m.DeliveryNote = note
	})
}

func (r memoryMessages) MarkSent(ctx context.Context, id, gatewayID string) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[id]
	if !ok {
		return ErrNotFound
	}
	if gatewayID != "" {
		if owner, taken := s.byGateway[gatewayID]; taken && owner != id {
			return ErrDuplicate
		}
		if m.GatewayID != nil {
			delete(s.byGateway, *m.GatewayID)
		}
		g := gatewayID
		m.GatewayID = &g
		s.byGateway[g] = id
	}
	now := s.now()
	m.Status = model.StatusSent
	m.SentAt = &now
	m.UpdatedAt = now
	return nil
}

func (r memoryMessages) MarkFailed(ctx context.Context, id, reason string) error {
	return r.update(id, func(m *model.Message) {
		m.Status = model.StatusFailed
		if reason != "" {
			m.DeliveryNote = reason
		}
	})
}

func (r memoryMessages) ClaimPending(ctx context.Context, limit int, maxAge, staleAfter time.Duration) ([]model.Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var out []model.Message
	for _, id := range s.order {
		if len(out) == limit {
			break
		}
		m := s.messages[id]
		if m.Direction != model.Sent || m.Status != model.StatusPending {
			continue
		}
		if !numericTarget.MatchString(m.To) {
			continue
		}
		if maxAge > 0 && m.CreatedAt.Before(now.Add(-maxAge)) {
			continue
		}
		if m.DispatchedAt != nil && m.DispatchedAt.After(now.Add(-staleAfter)) {
			continue
		}
		at := now
		m.DispatchedAt = &at
		m.UpdatedAt = now
		out = append(out, *m.Clone())
	}
	return out, nil
}

func (r memoryMessages) ListByStatus(ctx context.Context, status model.Status, limit, offset int) ([]model.Message, error) {
	limit = normalizeLimit(limit, 50, 500)
	if offset < 0 {
		offset = 0
	}
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []model.Message{}
	skipped := 0
	for i := len(s.order) - 1; i >= 0 && len(out) < limit; i-- {
		m := s.messages[s.order[i]]
		if status != "" && m.Status != status {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		out = append(out, *m.Clone())
	}
	return out, nil
}

func (r memoryMessages) ListConversation(ctx context.Context, phone string, limit int) ([]model.Message, error) {
	limit = normalizeLimit(limit, 100, 1000)
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []model.Message{}
	for i := len(s.order) - 1; i >= 0 && len(out) < limit; i-- {
		m := s.messages[s.order[i]]
		if m.From == phone || m.To == phone {
			out = append(out, *m.Clone())
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

type memorySessions struct{ s *MemoryStore }

func (r memorySessions) Get(ctx context.Context, phone string) (*model.Session, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[phone]
	if !ok {
		return nil, ErrNotFound
	}
	return sess.Clone(), nil
}

func (r memorySessions) GetOrCreate(ctx context.Context, phone string) (*model.Session, bool, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[phone]; ok {
		return sess.Clone(), false, nil
	}
	sess := newSession(phone, s.now())
	s.sessions[phone] = sess
	return sess.Clone(), true, nil
}

func (r memorySessions) Save(ctx context.Context, sess *model.Session) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.sessions[sess.Phone]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != sess.Version {
		return ErrStaleSession
	}
	next := sess.Clone()
	next.Version++
	next.UpdatedAt = s.now()
	next.CreatedAt = cur.CreatedAt
	s.sessions[sess.Phone] = next

	sess.Version = next.Version
	sess.UpdatedAt = next.UpdatedAt
	return nil
}

func (r memorySessions) Delete(ctx context.Context, phone string) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[phone]; !ok {
		return ErrNotFound
	}
	delete(s.sessions, phone)
	return nil
}
