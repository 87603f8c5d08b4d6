// Package identity turns phone-like payload fields into session keys and
// promotes guest identities once a real number is known.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/LeventeLantos/sms-assistant/internal/cache"
	"github.com/LeventeLantos/sms-assistant/internal/model"
	"github.com/LeventeLantos/sms-assistant/internal/repo"
)

const (
	GuestPrefix = "guest_"
	minDigits   = 10
	maxDigits   = 15
)

var (
	ErrNoPhone = errors.New("no valid phone number in text")

	guestPattern = regexp.MustCompile(`^guest_[0-9a-z]{8}$`)
	// A run of digits optionally broken up by common separators.
	phoneRun = regexp.MustCompile(`\+?\d[\d\s().-]*\d`)
)

func NormalizeDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// IsValidPhone reports whether d is 10 to 15 ASCII digits.
func IsValidPhone(d string) bool {
	if len(d) < minDigits || len(d) > maxDigits {
		return false
	}
	for i := 0; i < len(d); i++ {
		if d[i] < '0' || d[i] > '9' {
			return false
		}
	}
	return true
}

func IsGuest(key string) bool {
	return guestPattern.MatchString(key)
}

func NewGuestID() string {
	return GuestPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// ExtractPhone finds a phone number embedded in free text. Separated digit
// groups are tried first, then every digit in the text joined together.
func ExtractPhone(text string) (string, bool) {
	for _, run := range phoneRun.FindAllString(text, -1) {
		if d := NormalizeDigits(run); IsValidPhone(d) {
			return d, true
		}
	}
	if d := NormalizeDigits(text); IsValidPhone(d) {
		return d, true
	}
	return "", false
}

// Identity is the session key chosen for one inbound message.
type Identity struct {
	Key   string
	Guest bool
	// Minted is true when Key was generated for this message.
	Minted bool
}

// Identify maps a raw phone candidate to a session key. Guest ids echoed
// back by the gateway are kept so the conversation continues.
func Identify(candidate string) Identity {
	c := strings.TrimSpace(candidate)
	if IsGuest(strings.ToLower(c)) {
		return Identity{Key: strings.ToLower(c), Guest: true}
	}
	if d := NormalizeDigits(c); IsValidPhone(d) {
		return Identity{Key: d}
	}
	return Identity{Key: NewGuestID(), Guest: true, Minted: true}
}

type Promotion struct {
	Phone              string
	Session            *model.Session
	MergedIntoExisting bool
	Reassigned         int64
}

type Resolver struct {
	store  repo.Store
	locker cache.Locker
	log    *slog.Logger
}

func NewResolver(store repo.Store, locker cache.Locker, log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{store: store, locker: locker, log: log}
}

// Promote re-keys the guest conversation to the phone found in text. The
// caller must already hold the guest's lock; the real phone is locked here.
func (r *Resolver) Promote(ctx context.Context, guest, text string) (*Promotion, error) {
	phone, ok := ExtractPhone(text)
	if !ok {
		return nil, ErrNoPhone
	}

	if r.locker != nil {
		unlock, err := r.locker.Lock(ctx, phone)
		if err != nil {
			return nil, fmt.Errorf("lock %s: %w", phone, err)
		}
		defer unlock()
	}

	res, err := r.store.MergeGuest(ctx, guest, phone)
	if err != nil {
		r.log.Error("guest merge failed", "guest", guest, "phone", phone, "error", err)
		return nil, fmt.Errorf("merge %s into %s: %w", guest, phone, err)
	}

	r.log.Info("guest promoted",
		"guest", guest,
		"phone", phone,
		"merged_into_existing", res.MergedIntoExisting,
		"reassigned", res.Reassigned,
	)
	return &Promotion{
		Phone:              phone,
		Session:            res.Session,
		MergedIntoExisting: res.MergedIntoExisting,
		Reassigned:         res.Reassigned,
	}, nil
}
