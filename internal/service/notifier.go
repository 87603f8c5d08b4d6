package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/LeventeLantos/sms-assistant/internal/delivery"
	"github.com/LeventeLantos/sms-assistant/internal/dialog"
	"github.com/LeventeLantos/sms-assistant/internal/identity"
	"github.com/LeventeLantos/sms-assistant/internal/model"
	"github.com/LeventeLantos/sms-assistant/internal/repo"
)

var ErrInvalidNotification = errors.New("missing required fields: bookingId, status, phone")
var ErrInvalidTestSend = errors.New("missing phone or message")

const noteInvalidBookingPhone = "invalid phone for booking-notification"

type NotificationRequest struct {
	BookingID    string `json:"bookingId"`
	Status       string `json:"status"`
	Phone        string `json:"phone"`
	ProviderName string `json:"providerName"`
}

type notificationPayload struct {
	BookingID string `json:"bookingId"`
	Status    string `json:"status"`
}

// Syncer delivers one job and waits for the outcome.
type Syncer interface {
	Deliver(ctx context.Context, job delivery.Job) (delivery.Outcome, error)
}

// Notifier sends outbound messages that are not replies to an inbound one.
type Notifier struct {
	msgs     repo.MessageRepository
	engine   *dialog.Engine
	dispatch Enqueuer
	sync     Syncer
	opts     Options
	log      *slog.Logger
}

func NewNotifier(msgs repo.MessageRepository, engine *dialog.Engine, dispatch Enqueuer, opts Options, log *slog.Logger) *Notifier {
	if log == nil {
		log = slog.Default()
	}
	return &Notifier{msgs: msgs, engine: engine, dispatch: dispatch, opts: opts, log: log}
}

// WithSyncer enables SendNow.
func (n *Notifier) WithSyncer(s Syncer) *Notifier {
	n.sync = s
	return n
}

// Notify stores a booking status message and queues it. A message for an
// unusable phone is stored as failed and its id still returned.
func (n *Notifier) Notify(ctx context.Context, req NotificationRequest) (string, error) {
	req.BookingID = strings.TrimSpace(req.BookingID)
	req.Status = strings.TrimSpace(req.Status)
	req.Phone = strings.TrimSpace(req.Phone)
	if req.BookingID == "" || req.Status == "" || req.Phone == "" {
		return "", ErrInvalidNotification
	}

	target := identity.NormalizeDigits(req.Phone)
	body := n.engine.Notification(req.Status, req.ProviderName)
	payload, _ := json.Marshal(notificationPayload{BookingID: req.BookingID, Status: req.Status})

	out := &model.Message{
		Direction:       model.Sent,
		From:            n.opts.sender(),
		To:              target,
		Body:            body,
		Status:          model.StatusPending,
		DeviceID:        n.opts.DefaultDevices,
		ProviderPayload: payload,
	}
	valid := identity.IsValidPhone(target)
	if valid {
		now := time.Now().UTC()
		out.DispatchedAt = &now
	}
	if err := n.msgs.Create(ctx, out); err != nil {
		return "", fmt.Errorf("store notification: %w", err)
	}

	log := n.log.With("message_id", out.ID, "booking_id", req.BookingID, "status", req.Status)
	if !valid {
		log.Warn("booking notification has no usable phone", "phone", req.Phone)
		if err := n.msgs.MarkFailed(ctx, out.ID, noteInvalidBookingPhone); err != nil {
			return "", fmt.Errorf("mark notification failed: %w", err)
		}
		return out.ID, nil
	}

	if n.dispatch != nil {
		job := delivery.Job{MessageID: out.ID, Target: target, Text: body, Devices: out.DeviceID}
		if err := n.dispatch.Enqueue(job); err != nil {
			log.Warn("enqueue notification failed", "error", err)
			_ = n.msgs.SetDeliveryNote(ctx, out.ID, noteQueueFull)
		}
	}
	log.Info("booking notification queued")
	return out.ID, nil
}

// SendNow stores an outbound message and delivers it synchronously. It backs
// the operator gateway check.
func (n *Notifier) SendNow(ctx context.Context, phone, text, devices string) (*model.Message, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" || strings.TrimSpace(text) == "" {
		return nil, ErrInvalidTestSend
	}
	if n.sync == nil {
		return nil, errors.New("synchronous sender not configured")
	}
	if devices == "" {
		devices = n.opts.DefaultDevices
	}

	now := time.Now().UTC()
	out := &model.Message{
		Direction:    model.Sent,
		From:         n.opts.sender(),
		To:           identity.NormalizeDigits(phone),
		Body:         text,
		Status:       model.StatusPending,
		DeviceID:     devices,
		DispatchedAt: &now,
	}
	if err := n.msgs.Create(ctx, out); err != nil {
		return nil, fmt.Errorf("store test message: %w", err)
	}

	outcome, err := n.sync.Deliver(ctx, delivery.Job{MessageID: out.ID, Target: out.To, Text: text, Devices: devices})
	if err != nil {
		return nil, fmt.Errorf("deliver test message: %w", err)
	}
	n.log.Info("gateway test finished", "message_id", out.ID, "status", outcome.Status, "attempts", outcome.Attempts)

	return n.msgs.Get(ctx, out.ID)
}
