package api

import "net/http"

func Router(h *Handler, limiter *RateLimiter) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", h.Health)

	mux.Handle("POST /v1/sms/webhook", limiter.Middleware(http.HandlerFunc(h.Webhook)))
	mux.HandleFunc("OPTIONS /v1/sms/webhook", h.WebhookOptions)
	mux.HandleFunc("POST /v1/sms/booking-notification", h.BookingNotification)
	mux.HandleFunc("POST /v1/sms/gateway-test", h.GatewayTest)

	mux.HandleFunc("GET /v1/messages", h.ListMessages)
	mux.HandleFunc("GET /v1/messages/{id}", h.GetMessage)
	mux.HandleFunc("GET /v1/conversations/{phone}", h.Conversation)
	mux.HandleFunc("GET /v1/sessions/{phone}", h.GetSession)

	mux.HandleFunc("GET /v1/sweeper/status", h.SweeperStatus)
	mux.HandleFunc("POST /v1/sweeper/start", h.SweeperStart)
	mux.HandleFunc("POST /v1/sweeper/stop", h.SweeperStop)
	mux.HandleFunc("POST /v1/sweeper/run", h.SweeperRun)

	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("sms-assistant"))
	})

	return Recover(h.log)(mux)
}
