// Package dialog holds the booking conversation state machine. It is pure:
// the same state, service and text always produce the same decision.
package dialog

import (
	"strings"

	"github.com/LeventeLantos/sms-assistant/internal/model"
)

type Config struct {
	Name           string
	EmergencyLine  string
	BookingBaseURL string
}

type Engine struct {
	cfg Config
}

func New(cfg Config) *Engine {
	if cfg.Name == "" {
		cfg.Name = "PlumbPro"
	}
	if cfg.EmergencyLine == "" {
		cfg.EmergencyLine = "(555) PLUMBER"
	}
	return &Engine{cfg: cfg}
}

type Input struct {
	State     model.SessionState
	Service   *string
	Text      string
	Phone     string
	SessionID string
}

type Decision struct {
	State   model.SessionState
	Service *string
	Reply   string
	Intent  Intent
}

func (e *Engine) BookingLink(phone, sessionID string) string {
	return BookingLink(e.cfg.BookingBaseURL, phone, sessionID)
}

// PhonePrompt asks a guest for their number.
func (e *Engine) PhonePrompt() string { return e.phonePrompt() }

// PhoneRetry re-prompts after a message without a usable number.
func (e *Engine) PhoneRetry() string { return e.phoneRetry() }

// PhoneConfirmed acknowledges a promotion. merged selects the wording for a
// chat joined onto an existing conversation.
func (e *Engine) PhoneConfirmed(phone string, merged bool) string {
	if merged {
		return e.phoneLinked(phone)
	}
	return e.phoneSaved(phone)
}

// Step computes the next state and reply for one inbound text.
func (e *Engine) Step(in Input) Decision {
	text := strings.TrimSpace(in.Text)
	d := Decision{State: in.State, Service: in.Service, Intent: IntentNone}
	link := func() string { return e.BookingLink(in.Phone, in.SessionID) }

	switch {
	case HasIntent(text, IntentCancel):
		d.Intent = IntentCancel
		d.State = model.StateCancelled
		d.Reply = e.cancelled()

	case HasIntent(text, IntentEmergency):
		d.Intent = IntentEmergency
		d.State = model.StateNew
		d.Reply = e.emergency()

	case HasIntent(text, IntentPricing):
		d.Intent = IntentPricing
		d.State = model.StateLinkSent
		d.Reply = e.pricing(link())

	case (in.State == model.StateNew || in.State == "") && HasIntent(text, IntentHelp):
		d.Intent = IntentHelp
		d.State = model.StateAwaitingService
		d.Service = nil
		d.Reply = e.menu()

	case in.State == model.StateAwaitingService:
		label, ok := ClassifyService(text)
		switch {
		case !ok:
			d.Reply = e.menuRetry()
		case label == ServiceOther:
			d.State = model.StateAwaitingOtherDescription
			d.Reply = e.describeOther()
		default:
			d.State = model.StateLinkSent
			d.Service = &label
			d.Reply = e.serviceSelected(label, link())
		}

	case in.State == model.StateAwaitingOtherDescription:
		if text == "" {
			d.Reply = e.describeOther()
			break
		}
		svc := otherPrefix + text
		d.State = model.StateLinkSent
		d.Service = &svc
		d.Reply = e.otherNoted(text, link())

	case in.State == model.StateLinkSent:
		switch {
		case HasIntent(text, IntentNotYet):
			d.Intent = IntentNotYet
			d.Reply = e.notYet(link())
		case HasIntent(text, IntentDone):
			d.Intent = IntentDone
			d.State = model.StateSubmitted
			d.Reply = e.submittedAck()
		case HasIntent(text, IntentResend):
			d.Intent = IntentResend
			d.Reply = e.resend(link())
		default:
			d.Reply = e.linkReminder(link())
		}

	case in.State == model.StateSubmitted:
		if HasIntent(text, IntentStatus) {
			d.Intent = IntentStatus
			d.Reply = e.underReview()
		} else {
			d.Reply = e.submittedStatus()
		}

	default:
		if label, ok := ClassifyService(text); ok && label != ServiceOther {
			d.State = model.StateLinkSent
			d.Service = &label
			d.Reply = e.directSelected(label, link())
		} else {
			d.Reply = e.greeting()
		}
	}

	return d
}
