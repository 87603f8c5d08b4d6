package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/LeventeLantos/sms-assistant/internal/cache"
	"github.com/LeventeLantos/sms-assistant/internal/delivery"
	"github.com/LeventeLantos/sms-assistant/internal/dialog"
	"github.com/LeventeLantos/sms-assistant/internal/identity"
	"github.com/LeventeLantos/sms-assistant/internal/inbound"
	"github.com/LeventeLantos/sms-assistant/internal/model"
	"github.com/LeventeLantos/sms-assistant/internal/repo"
)

const (
	inboundIDPrefix = "recv_"

	noteNoTarget  = "no numeric destination available; awaiting user phone"
	noteQueueFull = "delivery queue unavailable; left for the pending sweeper"
)

// Enqueuer accepts delivery jobs without waiting for them to run.
type Enqueuer interface {
	Enqueue(job delivery.Job) error
}

type Options struct {
	// SystemNumber is recorded as the recipient of inbound messages and
	// SenderNumber as the sender of outbound ones.
	SystemNumber   string
	SenderNumber   string
	DefaultDevices string
	ContentMax     int
	LockTimeout    time.Duration
}

func (o Options) sender() string {
	if o.SenderNumber != "" {
		return o.SenderNumber
	}
	return o.SystemNumber
}

type Assistant struct {
	store    repo.Store
	engine   *dialog.Engine
	resolver *identity.Resolver
	locker   cache.Locker
	dispatch Enqueuer
	opts     Options
	log      *slog.Logger
}

func NewAssistant(
	store repo.Store,
	engine *dialog.Engine,
	resolver *identity.Resolver,
	locker cache.Locker,
	dispatch Enqueuer,
	opts Options,
	log *slog.Logger,
) *Assistant {
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = 10 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	if locker == nil {
		locker = cache.NewLocalLocker()
	}
	return &Assistant{
		store:    store,
		engine:   engine,
		resolver: resolver,
		locker:   locker,
		dispatch: dispatch,
		opts:     opts,
		log:      log,
	}
}

type SessionSnapshot struct {
	Phone     string             `json:"phone"`
	SessionID string             `json:"sessionId"`
	State     model.SessionState `json:"state"`
	Service   *string            `json:"service"`
}

type Result struct {
	Success    bool             `json:"success"`
	Message    string           `json:"message,omitempty"`
	Error      string           `json:"error,omitempty"`
	Duplicate  bool             `json:"duplicate,omitempty"`
	IncomingID string           `json:"incomingId,omitempty"`
	OutgoingID string           `json:"outgoingId,omitempty"`
	From       string           `json:"from,omitempty"`
	To         string           `json:"to,omitempty"`
	Text       string           `json:"text,omitempty"`
	Reply      string           `json:"reply,omitempty"`
	Session    *SessionSnapshot `json:"session,omitempty"`
	Payload    json.RawMessage  `json:"msgData,omitempty"`
}

type BatchSummary struct {
	Success        bool     `json:"success"`
	Message        string   `json:"message"`
	Results        []Result `json:"results"`
	TotalProcessed int      `json:"totalProcessed"`
	Successful     int      `json:"successful"`
	Failed         int      `json:"failed"`
}

// HandleBatch processes messages in order. A failure is recorded against
// its own message and never stops the rest.
func (a *Assistant) HandleBatch(ctx context.Context, msgs []inbound.Message) BatchSummary {
	sum := BatchSummary{
		Success: true,
		Message: fmt.Sprintf("Processed %d message(s)", len(msgs)),
		Results: make([]Result, 0, len(msgs)),
	}

	for _, in := range msgs {
		res, err := a.handleSafe(ctx, in)
		if err != nil {
			a.log.Error("inbound message failed", "phone_candidate", in.PhoneCandidate, "error", err)
			res = Result{Success: false, Error: err.Error(), Payload: in.Raw}
		}
		if res.Success {
			sum.Successful++
		} else {
			sum.Failed++
		}
		sum.Results = append(sum.Results, res)
	}
	sum.TotalProcessed = len(sum.Results)
	return sum
}

func (a *Assistant) handleSafe(ctx context.Context, in inbound.Message) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return a.HandleMessage(ctx, in)
}

// HandleMessage runs one inbound message end to end: store it, resolve the
// identity, advance the conversation and queue the reply.
func (a *Assistant) HandleMessage(ctx context.Context, in inbound.Message) (Result, error) {
	if in.Problem != "" {
		return Result{Success: false, Error: in.Problem, Payload: in.Raw}, nil
	}

	text := a.clip(strings.TrimSpace(in.Text))
	who := identity.Identify(in.PhoneCandidate)
	log := a.log.With("phone", who.Key)

	incoming := &model.Message{
		Direction:       model.Received,
		From:            who.Key,
		To:              a.opts.SystemNumber,
		Body:            text,
		Status:          model.StatusReceived,
		DeviceID:        in.DeviceID,
		ProviderPayload: in.Raw,
	}
	if in.GatewayID != "" {
		gid := inboundIDPrefix + in.GatewayID
		incoming.GatewayID = &gid
	}

	msgs := a.store.Messages()
	resumed := false
	if err := msgs.Create(ctx, incoming); err != nil {
		if !errors.Is(err, repo.ErrDuplicate) {
			return Result{}, fmt.Errorf("store inbound: %w", err)
		}
		prev, err := msgs.FindByGatewayID(ctx, *incoming.GatewayID)
		if err != nil {
			return Result{}, fmt.Errorf("load duplicate %s: %w", *incoming.GatewayID, err)
		}
		if len(prev.Replies) > 0 {
			return a.duplicate(prev), nil
		}
		// A previous attempt stored the message but never answered it.
		incoming, text, resumed = prev, prev.Body, true
		who = identity.Identify(prev.From)
		log = a.log.With("phone", who.Key)
	}
	log = log.With("message_id", incoming.ID)
	log.Info("inbound message stored", "guest", who.Guest, "resumed", resumed)

	lockCtx, cancel := context.WithTimeout(ctx, a.opts.LockTimeout)
	defer cancel()
	unlock, err := a.locker.Lock(lockCtx, who.Key)
	if err != nil {
		return Result{}, fmt.Errorf("lock %s: %w", who.Key, err)
	}
	defer unlock()

	if resumed {
		cur, err := msgs.Get(ctx, incoming.ID)
		if err != nil {
			return Result{}, fmt.Errorf("reload inbound: %w", err)
		}
		if len(cur.Replies) > 0 {
			return a.duplicate(cur), nil
		}
	}

	sess, _, err := a.store.Sessions().GetOrCreate(ctx, who.Key)
	if err != nil {
		return Result{}, fmt.Errorf("load session: %w", err)
	}

	target := sendTarget(in.PhoneCandidate, sess.Phone)
	dirty := false
	var reply, outcome string

	switch {
	case identity.IsGuest(sess.Phone) && sess.State != model.StateAwaitingPhone:
		sess.State = model.StateAwaitingPhone
		dirty = true
		reply = a.engine.PhonePrompt()
		outcome = "SMS received and processed (awaiting phone)"

	case identity.IsGuest(sess.Phone):
		p, perr := a.resolver.Promote(ctx, sess.Phone, text)
		switch {
		case perr == nil:
			sess = p.Session
			incoming.From = p.Phone
			target = p.Phone
			reply = a.engine.PhoneConfirmed(p.Phone, p.MergedIntoExisting)
			outcome = "Phone received and processed"
		case errors.Is(perr, identity.ErrNoPhone):
			reply = a.engine.PhoneRetry()
			outcome = "Awaiting valid phone number"
		default:
			log.Warn("promotion failed; keeping guest identity", "error", perr)
			reply = a.engine.PhoneRetry()
			outcome = "Awaiting valid phone number"
		}

	default:
		d := a.engine.Step(dialog.Input{
			State:     sess.State,
			Service:   sess.Service,
			Text:      text,
			Phone:     sess.Phone,
			SessionID: sess.SessionID,
		})
		if d.State != sess.State || !sameService(d.Service, sess.Service) {
			dirty = true
		}
		log.Info("dialog step", "from_state", sess.State, "to_state", d.State, "intent", d.Intent)
		sess.State = d.State
		sess.Service = d.Service
		reply = d.Reply
		outcome = "SMS received and processed by agent"
	}

	out, err := a.queueReply(ctx, log, incoming, reply, target, sess.Phone, in.DeviceID)
	if err != nil {
		return Result{}, err
	}

	if dirty {
		if err := a.store.Sessions().Save(ctx, sess); err != nil {
			return Result{}, fmt.Errorf("save session: %w", err)
		}
	}

	return Result{
		Success:    true,
		Message:    outcome,
		IncomingID: incoming.ID,
		OutgoingID: out.ID,
		From:       incoming.From,
		To:         incoming.To,
		Text:       text,
		Reply:      reply,
		Session:    snapshot(sess),
	}, nil
}

func (a *Assistant) queueReply(
	ctx context.Context,
	log *slog.Logger,
	incoming *model.Message,
	reply, target, sessionKey, deviceID string,
) (*model.Message, error) {
	msgs := a.store.Messages()
	if deviceID == "" {
		deviceID = a.opts.DefaultDevices
	}

	to := target
	if to == "" {
		to = sessionKey
	}
	replyTo := incoming.ID
	out := &model.Message{
		Direction: model.Sent,
		From:      a.opts.sender(),
		To:        to,
		Body:      reply,
		Status:    model.StatusPending,
		DeviceID:  deviceID,
		ReplyTo:   &replyTo,
	}
	if target != "" {
		now := time.Now().UTC()
		out.DispatchedAt = &now
	}
	if err := msgs.Create(ctx, out); err != nil {
		return nil, fmt.Errorf("store reply: %w", err)
	}
	if err := msgs.AppendReply(ctx, incoming.ID, out.ID); err != nil {
		log.Warn("link reply failed", "reply_id", out.ID, "error", err)
	}

	if target == "" {
		if err := msgs.SetDeliveryNote(ctx, out.ID, noteNoTarget); err != nil {
			log.Warn("delivery note failed", "reply_id", out.ID, "error", err)
		}
		out.DeliveryNote = noteNoTarget
		return out, nil
	}

	job := delivery.Job{MessageID: out.ID, Target: target, Text: reply, Devices: deviceID}
	if a.dispatch == nil {
		return out, nil
	}
	if err := a.dispatch.Enqueue(job); err != nil {
		log.Warn("enqueue delivery failed", "reply_id", out.ID, "error", err)
		_ = msgs.SetDeliveryNote(ctx, out.ID, noteQueueFull)
	}
	return out, nil
}

func (a *Assistant) duplicate(prev *model.Message) Result {
	a.log.Info("duplicate inbound ignored", "gateway_id", *prev.GatewayID, "message_id", prev.ID)

	res := Result{
		Success:    true,
		Duplicate:  true,
		Message:    "Duplicate message ignored",
		IncomingID: prev.ID,
		From:       prev.From,
		To:         prev.To,
		Text:       prev.Body,
		OutgoingID: prev.Replies[len(prev.Replies)-1],
	}
	return res
}

func (a *Assistant) clip(text string) string {
	if a.opts.ContentMax <= 0 || utf8.RuneCountInString(text) <= a.opts.ContentMax {
		return text
	}
	return string([]rune(text)[:a.opts.ContentMax])
}

// sendTarget prefers the raw inbound number, then the session key, and never
// returns a guest id.
func sendTarget(candidate, sessionKey string) string {
	if d := identity.NormalizeDigits(candidate); identity.IsValidPhone(d) && !identity.IsGuest(candidate) {
		return d
	}
	if identity.IsValidPhone(sessionKey) {
		return sessionKey
	}
	return ""
}

func sameService(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func snapshot(s *model.Session) *SessionSnapshot {
	return &SessionSnapshot{
		Phone:     s.Phone,
		SessionID: s.SessionID,
		State:     s.State,
		Service:   s.Service,
	}
}
