package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/LeventeLantos/sms-assistant/internal/inbound"
	"github.com/LeventeLantos/sms-assistant/internal/model"
	"github.com/LeventeLantos/sms-assistant/internal/repo"
	"github.com/LeventeLantos/sms-assistant/internal/scheduler"
	"github.com/LeventeLantos/sms-assistant/internal/service"
)

type fakeAssistant struct {
	got    []inbound.Message
	ctxErr error
}

func (f *fakeAssistant) HandleBatch(ctx context.Context, msgs []inbound.Message) service.BatchSummary {
	f.got = msgs
	f.ctxErr = ctx.Err()
	sum := service.BatchSummary{Success: true, Message: "Processed", TotalProcessed: len(msgs)}
	for _, m := range msgs {
		sum.Results = append(sum.Results, service.Result{Success: m.Problem == "", Reply: "echo: " + m.Text})
	}
	return sum
}

type fakeNotifier struct {
	gotReq   service.NotificationRequest
	notifyID string
	err      error

	sent *model.Message
}

func (f *fakeNotifier) Notify(ctx context.Context, req service.NotificationRequest) (string, error) {
	f.gotReq = req
	return f.notifyID, f.err
}

func (f *fakeNotifier) SendNow(ctx context.Context, phone, text, devices string) (*model.Message, error) {
	if phone == "" || text == "" {
		return nil, service.ErrInvalidTestSend
	}
	if f.err != nil {
		return nil, f.err
	}
	f.sent = &model.Message{ID: "m-1", To: phone, Body: text, DeviceID: devices, Status: model.StatusSent}
	return f.sent, nil
}

type testServer struct {
	assistant *fakeAssistant
	notifier  *fakeNotifier
	store     *repo.MemoryStore
	sweeper   *scheduler.Scheduler
	sweeps    *atomic.Int64
	mux       http.Handler
}

func newTestServer(t *testing.T, limiter *RateLimiter) *testServer {
	t.Helper()

	var sweeps atomic.Int64
	s, err := scheduler.New("sweeper", time.Hour, func(context.Context) error {
		sweeps.Add(1)
		return nil
	}, quietLogger())
	if err != nil {
		t.Fatalf("failed to create scheduler: %v", err)
	}
	t.Cleanup(func() { s.Stop() })

	ts := &testServer{
		assistant: &fakeAssistant{},
		notifier:  &fakeNotifier{notifyID: "sms-1"},
		store:     repo.NewMemoryStore(),
		sweeper:   s,
		sweeps:    &sweeps,
	}
	h := NewHandler(ts.assistant, ts.notifier, ts.store, s, quietLogger())
	ts.mux = Router(h, limiter)
	return ts
}

func (ts *testServer) do(method, target, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	rr := httptest.NewRecorder()
	ts.mux.ServeHTTP(rr, req)
	return rr
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var m map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &m); err != nil {
		t.Fatalf("failed to decode json: %v body=%q", err, rr.Body.String())
	}
	return m
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, nil)

	rr := ts.do(http.MethodGet, "/v1/health", "")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%q", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Fatalf("expected Content-Type application/json, got %q", ct)
	}

	body := decodeJSON(t, rr)
	if v, ok := body["ok"].(bool); !ok || !v {
		t.Fatalf("expected {ok:true}, got %v", body)
	}
}

func TestWebhook_SingleAndBatch(t *testing.T) {
	ts := newTestServer(t, nil)

	rr := ts.do(http.MethodPost, "/v1/sms/webhook", `{"message":"hi","number":"9123456789","ID":7}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%q", rr.Code, rr.Body.String())
	}
	if len(ts.assistant.got) != 1 || ts.assistant.got[0].GatewayID != "7" {
		t.Fatalf("unexpected parsed messages: %+v", ts.assistant.got)
	}

	rr = ts.do(http.MethodPost, "/v1/sms/webhook", `[{"message":"a","from":"1"},{"text":"b","phone":"2"}]`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%q", rr.Code, rr.Body.String())
	}
	body := decodeJSON(t, rr)
	if n, _ := body["totalProcessed"].(float64); n != 2 {
		t.Fatalf("expected totalProcessed=2, got %v", body)
	}
}

func TestWebhook_ClientDisconnectDoesNotCancelBatch(t *testing.T) {
	ts := newTestServer(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/v1/sms/webhook", strings.NewReader(`{"message":"hi","number":"9123456789"}`)).WithContext(ctx)
	rr := httptest.NewRecorder()
	ts.mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%q", rr.Code, rr.Body.String())
	}
	if ts.assistant.ctxErr != nil {
		t.Fatalf("expected batch context to outlive the request, got %v", ts.assistant.ctxErr)
	}
}

func TestWebhook_MalformedPayload(t *testing.T) {
	ts := newTestServer(t, nil)

	for _, payload := range []string{`not json`, `"hello"`, `{"number":"9123456789"}`} {
		rr := ts.do(http.MethodPost, "/v1/sms/webhook", payload)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("payload %s: expected 400, got %d", payload, rr.Code)
		}
		body := decodeJSON(t, rr)
		if ok, _ := body["success"].(bool); ok {
			t.Fatalf("payload %s: expected success=false", payload)
		}
	}
}

func TestWebhook_Options(t *testing.T) {
	ts := newTestServer(t, nil)

	rr := ts.do(http.MethodOptions, "/v1/sms/webhook", "")
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if got := rr.Header().Get("Allow"); got != "OPTIONS,POST" {
		t.Fatalf("unexpected Allow header %q", got)
	}
}

func TestWebhook_RateLimited(t *testing.T) {
	ts := newTestServer(t, NewRateLimiter(2))

	for i := 0; i < 2; i++ {
		if rr := ts.do(http.MethodPost, "/v1/sms/webhook", `{"message":"x"}`); rr.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rr.Code)
		}
	}
	rr := ts.do(http.MethodPost, "/v1/sms/webhook", `{"message":"x"}`)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
}

func TestBookingNotification(t *testing.T) {
	ts := newTestServer(t, nil)

	rr := ts.do(http.MethodPost, "/v1/sms/booking-notification",
		`{"bookingId":"b1","status":"accepted","phone":"9123456789","providerName":"Acme"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%q", rr.Code, rr.Body.String())
	}
	body := decodeJSON(t, rr)
	if body["smsId"] != "sms-1" || body["message"] != "Notification queued" {
		t.Fatalf("unexpected body: %v", body)
	}
	if ts.notifier.gotReq.ProviderName != "Acme" {
		t.Fatalf("unexpected request: %+v", ts.notifier.gotReq)
	}
}

func TestBookingNotification_Errors(t *testing.T) {
	ts := newTestServer(t, nil)

	if rr := ts.do(http.MethodPost, "/v1/sms/booking-notification", `{`); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad json, got %d", rr.Code)
	}

	ts.notifier.err = service.ErrInvalidNotification
	rr := ts.do(http.MethodPost, "/v1/sms/booking-notification", `{"bookingId":"b1"}`)
	if rr.Code != http.StatusBadRequest || !strings.Contains(rr.Body.String(), "Missing required fields") {
		t.Fatalf("expected 400 missing fields, got %d %q", rr.Code, rr.Body.String())
	}

	ts.notifier.err = errors.New("db down")
	rr = ts.do(http.MethodPost, "/v1/sms/booking-notification", `{"bookingId":"b1","status":"x","phone":"1"}`)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
}

func TestGatewayTest(t *testing.T) {
	ts := newTestServer(t, nil)

	rr := ts.do(http.MethodPost, "/v1/sms/gateway-test", `{"phone":"9123456789","message":"ping"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%q", rr.Code, rr.Body.String())
	}
	body := decodeJSON(t, rr)
	result, ok := body["result"].(map[string]any)
	if !ok || result["status"] != "sent" {
		t.Fatalf("unexpected body: %v", body)
	}

	rr = ts.do(http.MethodPost, "/v1/sms/gateway-test", `{"phone":"9123456789"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestMessageEndpoints(t *testing.T) {
	ts := newTestServer(t, nil)
	ctx := context.Background()

	in := &model.Message{Direction: model.Received, From: "9123456789", To: "15550000000", Body: "hi", Status: model.StatusReceived}
	if err := ts.store.Messages().Create(ctx, in); err != nil {
		t.Fatalf("seed: %v", err)
	}
	out := &model.Message{Direction: model.Sent, From: "15550000000", To: "9123456789", Body: "hello", Status: model.StatusPending}
	if err := ts.store.Messages().Create(ctx, out); err != nil {
		t.Fatalf("seed: %v", err)
	}

	rr := ts.do(http.MethodGet, "/v1/messages/"+out.ID, "")
	if rr.Code != http.StatusOK || decodeJSON(t, rr)["id"] != out.ID {
		t.Fatalf("unexpected get response %d %q", rr.Code, rr.Body.String())
	}

	if rr := ts.do(http.MethodGet, "/v1/messages/nope", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}

	rr = ts.do(http.MethodGet, "/v1/messages?status=pending", "")
	items, _ := decodeJSON(t, rr)["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("expected 1 pending item, got %d", len(items))
	}

	if rr := ts.do(http.MethodGet, "/v1/messages?status=bogus", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", rr.Code)
	}

	rr = ts.do(http.MethodGet, "/v1/conversations/+91%20234%20567%2089", "")
	body := decodeJSON(t, rr)
	items, _ = body["items"].([]any)
	if body["phone"] != "9123456789" || len(items) != 2 {
		t.Fatalf("unexpected conversation: %v", body)
	}
}

func TestSessionEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)

	if rr := ts.do(http.MethodGet, "/v1/sessions/9123456789", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if _, _, err := ts.store.Sessions().GetOrCreate(context.Background(), "9123456789"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	rr := ts.do(http.MethodGet, "/v1/sessions/9123456789", "")
	if rr.Code != http.StatusOK || decodeJSON(t, rr)["state"] != "new" {
		t.Fatalf("unexpected session response %d %q", rr.Code, rr.Body.String())
	}
}

func TestSweeperEndpoints(t *testing.T) {
	ts := newTestServer(t, nil)

	rr := ts.do(http.MethodGet, "/v1/sweeper/status", "")
	if running, ok := decodeJSON(t, rr)["running"].(bool); !ok || running {
		t.Fatalf("expected running=false, got %q", rr.Body.String())
	}

	rr = ts.do(http.MethodPost, "/v1/sweeper/start", "")
	if running, ok := decodeJSON(t, rr)["running"].(bool); !ok || !running {
		t.Fatalf("expected running=true after start, got %q", rr.Body.String())
	}

	rr = ts.do(http.MethodPost, "/v1/sweeper/stop", "")
	if running, ok := decodeJSON(t, rr)["running"].(bool); !ok || running {
		t.Fatalf("expected running=false after stop, got %q", rr.Body.String())
	}

	before := ts.sweeps.Load()
	rr = ts.do(http.MethodPost, "/v1/sweeper/run", "")
	if rr.Code != http.StatusOK || ts.sweeps.Load() != before+1 {
		t.Fatalf("expected one manual sweep, got %d sweeps, code %d", ts.sweeps.Load()-before, rr.Code)
	}
}

func TestRecoverReturns500(t *testing.T) {
	h := Recover(quietLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	if body := decodeJSON(t, rr); body["message"] != "Internal server error" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestRouterRoot(t *testing.T) {
	ts := newTestServer(t, nil)

	rr := ts.do(http.MethodGet, "/", "")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%q", rr.Code, rr.Body.String())
	}
	if got := strings.TrimSpace(rr.Body.String()); got != "sms-assistant" {
		t.Fatalf("expected body %q, got %q", "sms-assistant", got)
	}
}
