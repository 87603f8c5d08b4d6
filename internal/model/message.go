package model

import (
	"encoding/json"
	"time"
)

type Direction string

const (
	Received Direction = "received"
	Sent     Direction = "sent"
)

type Status string

const (
	StatusReceived Status = "received"
	StatusPending  Status = "pending"
	StatusSent     Status = "sent"
	StatusFailed   Status = "failed"
)

// Message is one SMS transmission. Outbound messages point at the inbound
// message they answer through ReplyTo; inbound messages collect the ids of
// their replies in Replies.
type Message struct {
	ID              string            `json:"id"`
	GatewayID       *string           `json:"gatewayId,omitempty"`
	Direction       Direction         `json:"direction"`
	From            string            `json:"from"`
	To              string            `json:"to"`
	Body            string            `json:"body"`
	Status          Status            `json:"status"`
	DeviceID        string            `json:"deviceId,omitempty"`
	ReplyTo         *string           `json:"replyTo,omitempty"`
	Replies         []string          `json:"replies,omitempty"`
	Attempts        []DeliveryAttempt `json:"deliveryAttempts"`
	DeliveryNote    string            `json:"deliveryNote,omitempty"`
	ProviderPayload json.RawMessage   `json:"providerPayload,omitempty"`
	DispatchedAt    *time.Time        `json:"dispatchedAt,omitempty"`
	SentAt          *time.Time        `json:"sentAt,omitempty"`
	CreatedAt       time.Time         `json:"createdAt"`
	UpdatedAt       time.Time         `json:"updatedAt"`
}

// DeliveryAttempt records one gateway call. Attempts are append-only.
type DeliveryAttempt struct {
	Round      int             `json:"round"`
	Method     string          `json:"method"`
	URL        string          `json:"url"`
	Success    bool            `json:"success"`
	StatusCode int             `json:"statusCode,omitempty"`
	Error      string          `json:"error,omitempty"`
	Response   json.RawMessage `json:"response,omitempty"`
	At         time.Time       `json:"at"`
}

func (m *Message) IsOutbound() bool {
	return m.Direction == Sent
}

func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	if m.GatewayID != nil {
		v := *m.GatewayID
		c.GatewayID = &v
	}
	if m.ReplyTo != nil {
		v := *m.ReplyTo
		c.ReplyTo = &v
	}
	if m.DispatchedAt != nil {
		v := *m.DispatchedAt
		c.DispatchedAt = &v
	}
	if m.SentAt != nil {
		v := *m.SentAt
		c.SentAt = &v
	}
	c.Replies = append([]string(nil), m.Replies...)
	c.Attempts = append([]DeliveryAttempt(nil), m.Attempts...)
	c.ProviderPayload = append(json.RawMessage(nil), m.ProviderPayload...)
	return &c
}
