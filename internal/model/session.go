package model

import "time"

type SessionState string

const (
	StateNew                      SessionState = "new"
	StateAwaitingPhone            SessionState = "awaiting_phone"
	StateAwaitingService          SessionState = "awaiting_service"
	StateAwaitingOtherDescription SessionState = "awaiting_other_description"
	StateLinkSent                 SessionState = "link_sent"
	StateSubmitted                SessionState = "submitted"
	StateCancelled                SessionState = "cancelled"
)

// States lists every session state in flow order.
var States = []SessionState{
	StateNew,
	StateAwaitingPhone,
	StateAwaitingService,
	StateAwaitingOtherDescription,
	StateLinkSent,
	StateSubmitted,
	StateCancelled,
}

// Session is the conversation record for one phone identity. Version is
// bumped on every successful save and used for conditional writes.
type Session struct {
	Phone     string         `json:"phone"`
	SessionID string         `json:"sessionId"`
	State     SessionState   `json:"state"`
	Service   *string        `json:"service"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Version   int64          `json:"version"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

func (s *Session) ServiceLabel() string {
	if s.Service == nil {
		return ""
	}
	return *s.Service
}

func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.Service != nil {
		v := *s.Service
		c.Service = &v
	}
	if s.Metadata != nil {
		c.Metadata = make(map[string]any, len(s.Metadata))
		for k, v := range s.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}
