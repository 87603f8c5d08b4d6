package api

import (
	"net/http/httptest"
	"testing"
)

func TestRateLimiter_PerIP(t *testing.T) {
	l := NewRateLimiter(1)

	if !l.Allow("10.0.0.1") {
		t.Fatalf("expected first request allowed")
	}
	if l.Allow("10.0.0.1") {
		t.Fatalf("expected second request from same ip limited")
	}
	if !l.Allow("10.0.0.2") {
		t.Fatalf("expected other ip to have its own bucket")
	}
}

func TestRateLimiter_DisabledAllowsAll(t *testing.T) {
	l := NewRateLimiter(0)
	for i := 0; i < 5; i++ {
		if !l.Allow("10.0.0.1") {
			t.Fatalf("expected disabled limiter to allow")
		}
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "192.0.2.10:5555"
	if got := clientIP(req); got != "192.0.2.10" {
		t.Fatalf("expected remote host, got %q", got)
	}

	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	if got := clientIP(req); got != "203.0.113.7" {
		t.Fatalf("expected forwarded ip, got %q", got)
	}
}
