// Package delivery sends outbound messages through the SMS gateway and
// records every call on the message.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/LeventeLantos/sms-assistant/internal/cache"
	"github.com/LeventeLantos/sms-assistant/internal/client"
	"github.com/LeventeLantos/sms-assistant/internal/identity"
	"github.com/LeventeLantos/sms-assistant/internal/model"
	"github.com/LeventeLantos/sms-assistant/internal/repo"
)

const methodMock = "MOCK"

type Gateway interface {
	Configured() bool
	SendGET(ctx context.Context, p client.SendParams) (client.SendResult, error)
	SendPOST(ctx context.Context, p client.SendParams) (client.SendResult, error)
}

type Job struct {
	MessageID string
	Target    string
	Text      string
	Devices   string
}

type Options struct {
	MaxRetries     int
	BaseDelay      time.Duration
	ContentMax     int
	AllowMockSend  bool
	DefaultDevices string
}

type Outcome struct {
	Status    model.Status
	GatewayID string
	Attempts  int
}

type Sender struct {
	gw    Gateway
	msgs  repo.MessageRepository
	cache cache.MessageCache
	opts  Options
	log   *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

func NewSender(gw Gateway, msgs repo.MessageRepository, opts Options, log *slog.Logger) *Sender {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if log == nil {
		log = slog.Default()
	}
	return &Sender{
		gw:    gw,
		msgs:  msgs,
		opts:  opts,
		log:   log,
		sleep: sleepCtx,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// WithCache records successful sends in c.
func (s *Sender) WithCache(c cache.MessageCache) *Sender {
	s.cache = c
	return s
}

// Deliver runs the full retry policy for one message. The returned error is
// only non-nil when the outcome could not be recorded or ctx ended early;
// gateway failures are reported through Outcome.
func (s *Sender) Deliver(ctx context.Context, job Job) (Outcome, error) {
	log := s.log.With("message_id", job.MessageID, "to", job.Target)

	if !identity.IsValidPhone(job.Target) {
		log.Warn("delivery skipped: invalid destination")
		return s.fail(ctx, job, 0, fmt.Sprintf("invalid destination phone %q", job.Target))
	}
	if s.opts.ContentMax > 0 && utf8.RuneCountInString(job.Text) > s.opts.ContentMax {
		log.Warn("delivery skipped: content too long")
		return s.fail(ctx, job, 0, fmt.Sprintf("content exceeds %d chars", s.opts.ContentMax))
	}

	if s.gw == nil || !s.gw.Configured() {
		if !s.opts.AllowMockSend {
			log.Error("delivery failed: gateway not configured")
			return s.fail(ctx, job, 0, "gateway not configured")
		}
		return s.mock(ctx, job, log)
	}

	params := client.SendParams{Number: job.Target, Message: job.Text, Devices: job.Devices}
	if params.Devices == "" {
		params.Devices = s.opts.DefaultDevices
	}

	calls := []struct {
		method string
		send   func(context.Context, client.SendParams) (client.SendResult, error)
	}{
		{http.MethodGet, s.gw.SendGET},
		{http.MethodPost, s.gw.SendPOST},
	}
	attempts := 0
	for round := 1; round <= s.opts.MaxRetries; round++ {
		if round > 1 {
			if err := s.sleep(ctx, time.Duration(round-1)*s.opts.BaseDelay); err != nil {
				log.Warn("delivery interrupted", "round", round, "error", err)
				_ = s.msgs.SetDeliveryNote(context.WithoutCancel(ctx), job.MessageID, "delivery interrupted; left pending")
				return Outcome{Status: model.StatusPending, Attempts: attempts}, err
			}
		}

		for _, call := range calls {
			res, err := call.send(ctx, params)
			attempts++
			if res.Method == "" {
				res.Method = call.method
			}

			a := model.DeliveryAttempt{
				Round:      round,
				Method:     res.Method,
				URL:        res.URL,
				Success:    err == nil && res.Success,
				StatusCode: res.StatusCode,
				Response:   res.Body,
				At:         s.now(),
			}
			if err != nil {
				a.Error = err.Error()
			} else if !res.Success {
				a.Error = "gateway reported success=false"
			}
			if aerr := s.msgs.AppendAttempt(ctx, job.MessageID, a); aerr != nil {
				log.Error("append attempt failed", "round", round, "method", a.Method, "error", aerr)
			}

			log.Info("delivery attempt",
				"round", round,
				"method", a.Method,
				"success", a.Success,
				"status_code", a.StatusCode,
			)

			if a.Success {
				return s.succeed(ctx, job, res.MessageID, attempts, log)
			}
		}
	}

	log.Warn("delivery exhausted", "rounds", s.opts.MaxRetries, "attempts", attempts)
	return s.fail(ctx, job, attempts, fmt.Sprintf("gateway did not accept message after %d rounds", s.opts.MaxRetries))
}

func (s *Sender) mock(ctx context.Context, job Job, log *slog.Logger) (Outcome, error) {
	a := model.DeliveryAttempt{
		Round:    1,
		Method:   methodMock,
		Success:  true,
		Response: []byte(`{"success":true,"mock":true}`),
		At:       s.now(),
	}
	if err := s.msgs.AppendAttempt(ctx, job.MessageID, a); err != nil {
		return Outcome{}, fmt.Errorf("append mock attempt: %w", err)
	}
	log.Info("mock send: gateway not configured")
	return s.succeed(ctx, job, "", 1, log)
}

func (s *Sender) succeed(ctx context.Context, job Job, gatewayID string, attempts int, log *slog.Logger) (Outcome, error) {
	err := s.msgs.MarkSent(ctx, job.MessageID, gatewayID)
	if errors.Is(err, repo.ErrDuplicate) {
		log.Warn("gateway id already stored; keeping local id", "gateway_id", gatewayID)
		gatewayID = ""
		err = s.msgs.MarkSent(ctx, job.MessageID, "")
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("mark sent: %w", err)
	}

	if s.cache != nil {
		if cerr := s.cache.StoreSent(ctx, job.MessageID, gatewayID, s.now()); cerr != nil {
			log.Warn("sent cache write failed", "error", cerr)
		}
	}
	log.Info("message sent", "gateway_id", gatewayID, "attempts", attempts)
	return Outcome{Status: model.StatusSent, GatewayID: gatewayID, Attempts: attempts}, nil
}

func (s *Sender) fail(ctx context.Context, job Job, attempts int, reason string) (Outcome, error) {
	if err := s.msgs.MarkFailed(ctx, job.MessageID, reason); err != nil {
		return Outcome{}, fmt.Errorf("mark failed: %w", err)
	}
	return Outcome{Status: model.StatusFailed, Attempts: attempts}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
