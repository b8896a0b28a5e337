package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/coverdesk/coverdesk/internal/config"
	"github.com/coverdesk/coverdesk/internal/observability"
	"github.com/coverdesk/coverdesk/internal/querycache"
)

// Handler exposes the chat endpoint and the cached dashboard views over
// HTTP.
type Handler struct {
	producer *Producer
	views    *querycache.Store
	cfg      config.AssistantConfig
	logger   *observability.Logger
}

// NewHandler creates the HTTP handler for the assistant. views may be
// nil when the dashboard endpoints are not needed.
func NewHandler(producer *Producer, views *querycache.Store, cfg config.AssistantConfig, logger *observability.Logger) *Handler {
	return &Handler{
		producer: producer,
		views:    views,
		cfg:      cfg,
		logger:   logger,
	}
}

// Routes builds the assistant router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Post("/api/assistant/chat", h.handleChat)
	if h.views != nil {
		r.Get("/api/views/{partition}", h.handleView)
	}
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return r
}

// handleView serves one cached dashboard partition, fetching on miss.
func (h *Handler) handleView(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "partition")
	value, err := h.views.Get(r.Context(), name)
	if err != nil {
		if errors.Is(err, querycache.ErrUnknownPartition) {
			writeJSONError(w, http.StatusNotFound, "unknown view")
			return
		}
		h.logger.Error(r.Context(), "view fetch failed", "partition", name, "error", err)
		writeJSONError(w, http.StatusInternalServerError, "view unavailable")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(value)
}

// handleChat admits one chat turn and streams the response. Denied turns
// get a 429 with Retry-After before the stream opens; once streaming has
// started all failures are reported as in-band error events.
func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	ctx := observability.AddRequestID(r.Context(), middleware.GetReqID(r.Context()))

	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxRequestBody)
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		writeJSONError(w, http.StatusBadRequest, "message is required")
		return
	}

	req.CallerID = callerIdentity(r)
	ctx = observability.AddCallerID(ctx, req.CallerID)

	decision, _ := h.producer.Admit(ctx, req.CallerID)
	if !decision.Allowed {
		seconds := int(math.Ceil(decision.RetryAfter.Seconds()))
		if seconds < 1 {
			seconds = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
		writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	ew, err := NewEventWriter(w)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	turnCtx, cancel := context.WithTimeout(ctx, h.cfg.HardTimeout)
	defer cancel()

	stopKeepAlive := h.startKeepAlive(turnCtx, ew)
	defer stopKeepAlive()

	result, err := h.producer.RunTurn(turnCtx, req, ew.WriteEvent)
	if err != nil {
		h.logger.Error(ctx, "turn failed", "error", err)
	}
	if result != nil {
		h.logger.Debug(ctx, "turn streamed",
			"conversation_id", result.ConversationID,
			"tool_calls", result.ToolCalls,
		)
	}

	if err := ew.WriteDone(); err != nil {
		h.logger.Debug(ctx, "client disconnected before done sentinel", "error", err)
	}
}

// startKeepAlive writes comment frames while the turn is idle so proxies
// do not reap the connection. Returns a stop function.
func (h *Handler) startKeepAlive(ctx context.Context, ew *EventWriter) func() {
	if h.cfg.KeepAliveInterval <= 0 {
		return func() {}
	}

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(h.cfg.KeepAliveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				if err := ew.WriteKeepAlive(); err != nil {
					return
				}
			}
		}
	}()
	return func() { close(done) }
}

// callerIdentity resolves the caller for rate limiting: the identity
// header when present, otherwise the client IP.
func callerIdentity(r *http.Request) string {
	if id := r.Header.Get("X-Caller-ID"); id != "" {
		return id
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error": message,
		"id":    uuid.NewString(),
	})
}
