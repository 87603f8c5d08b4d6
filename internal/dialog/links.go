package dialog

import (
	"net/url"
	"strings"
)

const sourceSMS = "sms"

// BookingLink builds the personalised booking form URL.
func BookingLink(base, phone, sessionID string) string {
	return strings.TrimRight(base, "/") + "/book-service?phone=" + url.QueryEscape(phone) +
		"&session=" + url.QueryEscape(sessionID) + "&ref=" + sourceSMS
}

func TrackingLink(base string) string {
	return strings.TrimRight(base, "/") + "/login"
}
