package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/LeventeLantos/sms-assistant/internal/identity"
	"github.com/LeventeLantos/sms-assistant/internal/inbound"
	"github.com/LeventeLantos/sms-assistant/internal/model"
	"github.com/LeventeLantos/sms-assistant/internal/repo"
	"github.com/LeventeLantos/sms-assistant/internal/scheduler"
	"github.com/LeventeLantos/sms-assistant/internal/service"
)

const maxBodyBytes = 1 << 20

type Assistant interface {
	HandleBatch(ctx context.Context, msgs []inbound.Message) service.BatchSummary
}

type Notifier interface {
	Notify(ctx context.Context, req service.NotificationRequest) (string, error)
	SendNow(ctx context.Context, phone, text, devices string) (*model.Message, error)
}

type Handler struct {
	assistant Assistant
	notifier  Notifier
	store     repo.Store
	sweeper   *scheduler.Scheduler
	log       *slog.Logger
}

func NewHandler(a Assistant, n Notifier, store repo.Store, sweeper *scheduler.Scheduler, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{assistant: a, notifier: n, store: store, sweeper: sweeper, log: log}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Unable to read request body")
		return
	}

	msgs, err := inbound.Parse(body)
	if err != nil {
		h.log.Warn("webhook payload rejected", "error", err)
		writeError(w, http.StatusBadRequest, "Invalid webhook payload format")
		return
	}

	// A gateway that hangs up mid-batch must not abort the remaining messages.
	writeJSON(w, http.StatusOK, h.assistant.HandleBatch(context.WithoutCancel(r.Context()), msgs))
}

func (h *Handler) WebhookOptions(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Allow", "OPTIONS,POST")
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) BookingNotification(w http.ResponseWriter, r *http.Request) {
	var req service.NotificationRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	id, err := h.notifier.Notify(r.Context(), req)
	if errors.Is(err, service.ErrInvalidNotification) {
		writeError(w, http.StatusBadRequest, "Missing required fields: bookingId, status, phone")
		return
	}
	if err != nil {
		h.log.Error("booking notification failed", "booking_id", req.BookingID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to queue notification")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Notification queued",
		"smsId":   id,
	})
}

type gatewayTestRequest struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
	Devices string `json:"devices"`
}

func (h *Handler) GatewayTest(w http.ResponseWriter, r *http.Request) {
	var req gatewayTestRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	m, err := h.notifier.SendNow(r.Context(), req.Phone, req.Message, req.Devices)
	if errors.Is(err, service.ErrInvalidTestSend) {
		writeError(w, http.StatusBadRequest, "Missing phone or message")
		return
	}
	if err != nil {
		h.log.Error("gateway test failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "result": m})
}

func (h *Handler) GetMessage(w http.ResponseWriter, r *http.Request) {
	m, err := h.store.Messages().Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, repo.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Message not found")
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status := model.Status(q.Get("status"))
	if status != "" && !knownStatus(status) {
		writeError(w, http.StatusBadRequest, "Unknown status "+strconv.Quote(string(status)))
		return
	}
	limit := parseInt(q.Get("limit"), 50)
	offset := parseInt(q.Get("offset"), 0)

	items, err := h.store.Messages().ListByStatus(r.Context(), status, limit, offset)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) Conversation(w http.ResponseWriter, r *http.Request) {
	key := phoneKey(r.PathValue("phone"))
	limit := parseInt(r.URL.Query().Get("limit"), 50)

	items, err := h.store.Messages().ListConversation(r.Context(), key, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"phone": key, "items": items})
}

func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.store.Sessions().Get(r.Context(), phoneKey(r.PathValue("phone")))
	if errors.Is(err, repo.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *Handler) SweeperStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sweeper.Status())
}

func (h *Handler) SweeperStart(w http.ResponseWriter, r *http.Request) {
	h.sweeper.Start()
	writeJSON(w, http.StatusOK, map[string]any{"running": h.sweeper.IsRunning()})
}

func (h *Handler) SweeperStop(w http.ResponseWriter, r *http.Request) {
	h.sweeper.Stop()
	writeJSON(w, http.StatusOK, map[string]any{"running": h.sweeper.IsRunning()})
}

func (h *Handler) SweeperRun(w http.ResponseWriter, r *http.Request) {
	if err := h.sweeper.RunOnce(r.Context()); err != nil {
		writeJSON(w, http.StatusInternalServerError, h.sweeper.Status())
		return
	}
	writeJSON(w, http.StatusOK, h.sweeper.Status())
}

// phoneKey maps a path segment to a session key. Guest ids pass through.
func phoneKey(raw string) string {
	raw = strings.TrimSpace(raw)
	if identity.IsGuest(strings.ToLower(raw)) {
		return strings.ToLower(raw)
	}
	return identity.NormalizeDigits(raw)
}

func knownStatus(s model.Status) bool {
	switch s {
	case model.StatusReceived, model.StatusPending, model.StatusSent, model.StatusFailed:
		return true
	}
	return false
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	return dec.Decode(v)
}

func parseInt(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "message": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
