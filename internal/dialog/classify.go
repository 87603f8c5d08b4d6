package dialog

import (
	"slices"
	"strings"
)

type Intent string

const (
	IntentCancel    Intent = "cancel"
	IntentEmergency Intent = "emergency"
	IntentPricing   Intent = "pricing"
	IntentHelp      Intent = "help"
	IntentDone      Intent = "done"
	IntentNotYet    Intent = "not_yet"
	IntentResend    Intent = "resend"
	IntentStatus    Intent = "status"
	IntentNone      Intent = "none"
)

// Keyword families. A keyword matches where it starts a word, so "rate"
// matches "rates" but not "separated". Keywords in wholeWords must also end
// at a word boundary.
var (
	cancelWords    = []string{"cancel", "stop"}
	emergencyWords = []string{"emergency", "urgent", "help now", "immediately"}
	pricingWords   = []string{"price", "pricing", "cost", "how much", "rate", "charge"}
	helpWords      = []string{"help", "need", "book", "plumber", "plumbing", "i need", "i want", "service", "repair", "fix"}
	doneWords      = []string{"done", "submitted", "completed", "filled", "finished", "sent"}
	notYetWords    = []string{"not yet", "not done", "not", "havent", "haven't", "didnt", "didn't", "no", "still working"}
	resendWords    = []string{"link", "form", "booking", "again", "resend"}
	statusWords    = []string{"status", "update", "when", "accepted", "progress", "news"}
)

var wholeWords = map[string]bool{"no": true, "not": true, "fix": true, "form": true}

// cancelFillers may accompany a cancel word without turning the message
// into something else ("please cancel", "stop it", "cancel my booking").
var cancelFillers = map[string]bool{
	"please": true, "pls": true, "it": true, "now": true, "request": true,
	"my": true, "the": true, "this": true, "booking": true, "order": true,
	"appointment": true, "all": true, "thanks": true, "thank": true, "you": true,
}

// intentOrder is the order ClassifyIntent reports matches in. Not-yet
// precedes done so that "not done" is a negation.
var intentOrder = []Intent{
	IntentCancel, IntentEmergency, IntentPricing, IntentHelp,
	IntentNotYet, IntentDone, IntentResend, IntentStatus,
}

func normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

func isWordChar(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= '0' && b <= '9' || b == '\''
}

func containsWord(lower, w string) bool {
	for from := 0; from <= len(lower)-len(w); {
		i := strings.Index(lower[from:], w)
		if i < 0 {
			return false
		}
		i += from
		end := i + len(w)
		startOK := i == 0 || !isWordChar(lower[i-1])
		endOK := !wholeWords[w] || end == len(lower) || !isWordChar(lower[end])
		if startOK && endOK {
			return true
		}
		from = i + 1
	}
	return false
}

func containsAny(lower string, words []string) bool {
	for _, w := range words {
		if containsWord(lower, w) {
			return true
		}
	}
	return false
}

// isCancel accepts "cancel"/"stop" on their own or with polite fillers
// only. "stop the leak" describes a problem and is not a cancel.
func isCancel(lower string) bool {
	fields := strings.FieldsFunc(lower, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '\'')
	})
	if len(fields) == 0 || len(fields) > 4 {
		return false
	}
	found := false
	for _, f := range fields {
		switch {
		case slices.Contains(cancelWords, f):
			found = true
		case cancelFillers[f]:
		default:
			return false
		}
	}
	return found
}

// HasIntent reports whether text carries the given intent.
func HasIntent(text string, in Intent) bool {
	lower := normalize(text)
	switch in {
	case IntentCancel:
		return isCancel(lower)
	case IntentEmergency:
		return containsAny(lower, emergencyWords)
	case IntentPricing:
		return containsAny(lower, pricingWords)
	case IntentHelp:
		return containsAny(lower, helpWords)
	case IntentDone:
		return containsAny(lower, doneWords)
	case IntentNotYet:
		return containsAny(lower, notYetWords)
	case IntentResend:
		return containsAny(lower, resendWords)
	case IntentStatus:
		return containsAny(lower, statusWords)
	}
	return false
}

// ClassifyIntent returns the first intent text carries, or IntentNone.
func ClassifyIntent(text string) Intent {
	for _, in := range intentOrder {
		if HasIntent(text, in) {
			return in
		}
	}
	return IntentNone
}

const (
	ServicePlumbing   = "Plumbing"
	ServiceDrain      = "Drain cleaning"
	ServiceHeater     = "Water heater"
	ServicePipe       = "Pipe repair / replacement"
	ServiceBathroom   = "Bathroom fitting / installation"
	ServiceElectrical = "Electrical (minor)"
	ServiceOther      = "Other"

	otherPrefix = "Other: "
)

// Services lists the canonical labels in menu order.
var Services = []string{
	ServicePlumbing,
	ServiceDrain,
	ServiceHeater,
	ServicePipe,
	ServiceBathroom,
	ServiceElectrical,
	ServiceOther,
}

type serviceRule struct {
	label string
	match func(lower string) bool
}

var serviceRules = []serviceRule{
	{ServicePlumbing, func(t string) bool { return strings.Contains(t, "plumb") }},
	{ServiceDrain, func(t string) bool { return strings.Contains(t, "drain") }},
	{ServiceHeater, func(t string) bool { return containsAny(t, []string{"geyser", "water heater"}) }},
	{ServicePipe, func(t string) bool {
		return strings.Contains(t, "pipe") && containsAny(t, []string{"repair", "replace"})
	}},
	{ServiceBathroom, func(t string) bool { return containsAny(t, []string{"bath", "fitting", "installation"}) }},
	{ServiceElectrical, func(t string) bool { return containsAny(t, []string{"electr", "socket", "switch"}) }},
	{ServiceOther, func(t string) bool { return strings.Contains(t, "other") }},
}

// ClassifyService maps free text onto a canonical service label.
func ClassifyService(text string) (string, bool) {
	lower := normalize(text)
	if lower == "" {
		return "", false
	}
	for _, r := range serviceRules {
		if r.match(lower) {
			return r.label, true
		}
	}
	return "", false
}
