package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

type captured struct {
	Method      string
	Path        string
	ContentType string
	Query       map[string]string
	Form        map[string]string
}

func newGateway(t *testing.T, status int, body string, got *captured) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got != nil {
			got.Method = r.Method
			got.Path = r.URL.Path
			got.ContentType = r.Header.Get("Content-Type")
			got.Query = map[string]string{}
			for k := range r.URL.Query() {
				got.Query[k] = r.URL.Query().Get(k)
			}
			if r.Method == http.MethodPost {
				_ = r.ParseForm()
				got.Form = map[string]string{}
				for k := range r.PostForm {
					got.Form[k] = r.PostForm.Get(k)
				}
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

var params = SendParams{Number: "9123456789", Message: "hello there", Devices: "3"}

func TestGatewayClient_SendGET_Success(t *testing.T) {
	t.Parallel()

	var got captured
	srv := newGateway(t, http.StatusOK, `{"success":true,"data":{"messages":[{"ID":981}]}}`, &got)
	c := NewGatewayClient(srv.URL, "secret-key", time.Second)

	res, err := c.SendGET(context.Background(), params)
	if err != nil {
		t.Fatalf("SendGET() error: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success")
	}
	if res.MessageID != "981" {
		t.Fatalf("expected message id %q, got %q", "981", res.MessageID)
	}
	if got.Method != http.MethodGet || got.Path != "/services/send-message.php" {
		t.Fatalf("unexpected request: %s %s", got.Method, got.Path)
	}

	want := map[string]string{
		"key": "secret-key", "number": "9123456789", "message": "hello there",
		"devices": "3", "type": "sms", "prioritize": "1",
	}
	for k, v := range want {
		if got.Query[k] != v {
			t.Fatalf("query %s: expected %q, got %q", k, v, got.Query[k])
		}
	}

	if strings.Contains(res.URL, "secret-key") {
		t.Fatalf("expected redacted url, got %q", res.URL)
	}
	if !strings.Contains(res.URL, "key=REDACTED") {
		t.Fatalf("expected key=REDACTED in url, got %q", res.URL)
	}
}

func TestGatewayClient_SendPOST_FormEncoded(t *testing.T) {
	t.Parallel()

	var got captured
	srv := newGateway(t, http.StatusOK, `{"messageId":"abc-1"}`, &got)
	c := NewGatewayClient(srv.URL, "secret-key", time.Second)

	res, err := c.SendPOST(context.Background(), params)
	if err != nil {
		t.Fatalf("SendPOST() error: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected absent success flag to count as success")
	}
	if res.MessageID != "abc-1" {
		t.Fatalf("expected message id abc-1, got %q", res.MessageID)
	}
	if got.Method != http.MethodPost {
		t.Fatalf("expected POST, got %s", got.Method)
	}
	if !strings.HasPrefix(got.ContentType, "application/x-www-form-urlencoded") {
		t.Fatalf("expected form content type, got %q", got.ContentType)
	}
	if got.Form["message"] != "hello there" || got.Form["key"] != "secret-key" || got.Form["prioritize"] != "1" {
		t.Fatalf("unexpected form: %v", got.Form)
	}
}

func TestGatewayClient_SuccessFalse(t *testing.T) {
	t.Parallel()

	srv := newGateway(t, http.StatusOK, `{"success":false,"error":{"message":"no credits"}}`, nil)
	c := NewGatewayClient(srv.URL, "k", time.Second)

	res, err := c.SendGET(context.Background(), params)
	if err != nil {
		t.Fatalf("SendGET() error: %v", err)
	}
	if res.Success {
		t.Fatalf("expected success=false")
	}
	if !strings.Contains(string(res.Body), "no credits") {
		t.Fatalf("expected body to be kept, got %s", res.Body)
	}
}

func TestGatewayClient_Non2xxReturnsErrorWithStatus(t *testing.T) {
	t.Parallel()

	srv := newGateway(t, http.StatusBadGateway, `upstream down`, nil)
	c := NewGatewayClient(srv.URL, "k", time.Second)

	res, err := c.SendPOST(context.Background(), params)
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
	if res.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected status 502 recorded, got %d", res.StatusCode)
	}
	if !strings.Contains(err.Error(), "502") {
		t.Fatalf("expected error to mention status, got %v", err)
	}
	if string(res.Body) != `"upstream down"` {
		t.Fatalf("expected non-JSON body stored as JSON string, got %s", res.Body)
	}
}

func TestGatewayClient_Timeout(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	c := NewGatewayClient(srv.URL, "k", 20*time.Millisecond)
	if _, err := c.SendGET(context.Background(), params); err == nil {
		t.Fatalf("expected timeout error, got nil")
	}
}

func TestGatewayClient_Configured(t *testing.T) {
	t.Parallel()

	if NewGatewayClient("https://gw.example.com", "", time.Second).Configured() {
		t.Fatalf("expected unconfigured without key")
	}
	if NewGatewayClient("", "k", time.Second).Configured() {
		t.Fatalf("expected unconfigured without base url")
	}
	if !NewGatewayClient("https://gw.example.com/", "k", time.Second).Configured() {
		t.Fatalf("expected configured")
	}
	var nilClient *GatewayClient
	if nilClient.Configured() {
		t.Fatalf("expected nil client to be unconfigured")
	}
}
