package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vnmchuo/banana-gateway/internal/auth"
	"github.com/vnmchuo/banana-gateway/internal/billing"
	"github.com/vnmchuo/banana-gateway/internal/provider"
	"github.com/vnmchuo/banana-gateway/internal/schedule"
	"github.com/vnmchuo/banana-gateway/pkg/ratelimit"
)

// estimated token cost of calls without a max_tokens hint
const defaultTokenEstimate = 1000

// Recorder receives per-request measurements. metrics.Metrics implements it.
type Recorder interface {
	ObserveRequest(operation string, code int, d time.Duration)
	AddCredits(providerID, model string, amount float64)
}

type Handler struct {
	router    *Router
	billing   billing.Store
	meter     *billing.Meter
	prices    billing.PriceTable
	schedules schedule.Store
	planner   *schedule.Generator
	limiter   *ratelimit.Limiter
	tracer    trace.Tracer
	recorder  Recorder
	logger    *slog.Logger
}

type HandlerOption func(*Handler)

// WithSchedules enables loading stored tasks and persisting generated
// schedules.
func WithSchedules(store schedule.Store) HandlerOption {
	return func(h *Handler) { h.schedules = store }
}

func WithRecorder(rec Recorder) HandlerOption {
	return func(h *Handler) { h.recorder = rec }
}

func WithPrices(prices billing.PriceTable) HandlerOption {
	return func(h *Handler) { h.prices = prices }
}

func WithHandlerLogger(l *slog.Logger) HandlerOption {
	return func(h *Handler) { h.logger = l }
}

func NewHandler(router *Router, billingStore billing.Store, limiter *ratelimit.Limiter, tracer trace.Tracer, opts ...HandlerOption) *Handler {
	h := &Handler{
		router:  router,
		billing: billingStore,
		limiter: limiter,
		tracer:  tracer,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With("component", "api")
	h.meter = billing.NewMeter(billingStore, h.prices, h.logger)
	h.planner = schedule.NewGenerator(router, h.logger)
	return h
}

// Mount registers the authenticated API routes.
func (h *Handler) Mount(r chi.Router) {
	r.Post("/v1/chat/completions", h.instrument("chat", h.HandleChat))
	r.Post("/v1/images/generations", h.instrument("image", h.HandleImage))
	r.Post("/v1/schedule", h.instrument("schedule", h.HandleSchedule))
	r.Get("/v1/schedules", h.instrument("schedules", h.HandleListSchedules))
	r.Get("/v1/providers", h.instrument("providers", h.HandleProviders))
	r.Get("/v1/credits", h.instrument("credits", h.HandleCredits))
	r.Get("/v1/usage", h.instrument("usage", h.HandleUsage))
}

func (h *Handler) instrument(op string, next http.HandlerFunc) http.HandlerFunc {
	if h.recorder == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next(ww, r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		h.recorder.ObserveRequest(op, status, time.Since(start))
	}
}

type chatRequest struct {
	provider.ChatRequest
	Provider provider.ID `json:"provider,omitempty"`
}

type imageRequest struct {
	provider.ImageRequest
	Provider provider.ID `json:"provider,omitempty"`
}

type scheduleRequest struct {
	Hours float64         `json:"hours"`
	Tasks []schedule.Task `json:"tasks,omitempty"`
}

func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	userID, requestID, ok := h.identify(w, r)
	if !ok {
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Model == "" || len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "model and messages are required")
		return
	}

	ctx, span := h.startSpan(r.Context(), "proxy.chat", userID, requestID, req.Model)
	defer span.End()

	if !h.allow(ctx, w, userID, req.EffectiveMaxTokens()) {
		return
	}
	account, ok := h.account(ctx, w, userID)
	if !ok {
		return
	}

	start := time.Now()
	var resp *provider.ChatResponse
	var err error
	if req.Provider != "" {
		resp, err = h.router.ChatCompletionWith(ctx, req.Provider, &req.ChatRequest)
	} else {
		resp, err = h.router.ChatCompletion(ctx, &req.ChatRequest)
	}
	if err != nil {
		h.writeRouteError(w, err)
		return
	}
	latency := time.Since(start)

	charged, ok := h.charge(ctx, w, account, string(resp.Provider), resp.Model)
	if !ok {
		return
	}
	h.logUsage(ctx, &billing.UsageLog{
		UserID:       userID,
		RequestID:    requestID,
		Operation:    "chat",
		Provider:     string(resp.Provider),
		Model:        resp.Model,
		InputTokens:  resp.PromptTokens,
		OutputTokens: resp.CompletionTokens,
		Credits:      charged,
		LatencyMs:    latency.Milliseconds(),
	})

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":       uuid.New().String(),
		"object":   "chat.completion",
		"created":  time.Now().Unix(),
		"model":    resp.Model,
		"provider": resp.Provider,
		"choices": []interface{}{
			map[string]interface{}{
				"index": 0,
				"message": map[string]string{
					"role":    string(provider.RoleAssistant),
					"content": resp.Text,
				},
				"finish_reason": "stop",
			},
		},
		"usage": map[string]int{
			"prompt_tokens":     resp.PromptTokens,
			"completion_tokens": resp.CompletionTokens,
			"total_tokens":      resp.PromptTokens + resp.CompletionTokens,
		},
		"credits_charged": charged,
	})
}

func (h *Handler) HandleImage(w http.ResponseWriter, r *http.Request) {
	userID, requestID, ok := h.identify(w, r)
	if !ok {
		return
	}

	var req imageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Model == "" || strings.TrimSpace(req.Prompt) == "" {
		writeError(w, http.StatusBadRequest, "model and prompt are required")
		return
	}
	if !provider.ValidAspectRatio(req.AspectRatio) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported aspect_ratio %q", req.AspectRatio))
		return
	}
	if !provider.ValidOutputSize(req.OutputSize) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported output_size %q", req.OutputSize))
		return
	}

	ctx, span := h.startSpan(r.Context(), "proxy.image", userID, requestID, req.Model)
	defer span.End()

	if !h.allow(ctx, w, userID, defaultTokenEstimate) {
		return
	}
	account, ok := h.account(ctx, w, userID)
	if !ok {
		return
	}

	start := time.Now()
	var resp *provider.ImageResponse
	var err error
	if req.Provider != "" {
		resp, err = h.router.ImageGenerationWith(ctx, req.Provider, &req.ImageRequest)
	} else {
		resp, err = h.router.ImageGeneration(ctx, &req.ImageRequest)
	}
	if err != nil {
		h.writeRouteError(w, err)
		return
	}
	latency := time.Since(start)

	// priced by whoever actually served the image, so only known now
	charged, ok := h.charge(ctx, w, account, string(resp.Provider), resp.Model)
	if !ok {
		return
	}
	h.logUsage(ctx, &billing.UsageLog{
		UserID:       userID,
		RequestID:    requestID,
		Operation:    "image",
		Provider:     string(resp.Provider),
		Model:        resp.Model,
		InputTokens:  resp.PromptTokens,
		OutputTokens: resp.CompletionTokens,
		Credits:      charged,
		LatencyMs:    latency.Milliseconds(),
	})

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":           uuid.New().String(),
		"image_base64": resp.ImageBase64,
		"model":        resp.Model,
		"provider":     resp.Provider,
		"usage": map[string]int{
			"prompt_tokens":     resp.PromptTokens,
			"completion_tokens": resp.CompletionTokens,
			"total_tokens":      resp.PromptTokens + resp.CompletionTokens,
		},
		"credits_charged": charged,
	})
}

func (h *Handler) HandleSchedule(w http.ResponseWriter, r *http.Request) {
	userID, requestID, ok := h.identify(w, r)
	if !ok {
		return
	}

	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Hours <= 0 {
		writeError(w, http.StatusBadRequest, "hours must be positive")
		return
	}

	ctx, span := h.startSpan(r.Context(), "proxy.schedule", userID, requestID, schedule.Model)
	defer span.End()

	if !h.allow(ctx, w, userID, provider.DefaultMaxTokens) {
		return
	}
	account, ok := h.account(ctx, w, userID)
	if !ok {
		return
	}
	// the price is fixed, so refuse before spending an upstream call
	if !account.IsSubscribed() && account.Credits.LessThan(billing.ScheduleCost) {
		writeError(w, http.StatusPaymentRequired, "no subscription and out of credits")
		return
	}

	tasks := req.Tasks
	if tasks == nil && h.schedules != nil {
		stored, err := h.schedules.ListTasks(ctx, userID)
		if err != nil {
			h.logger.Error("failed to load tasks", "user_id", userID, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to load tasks")
			return
		}
		tasks = schedule.ToTasks(stored)
	}

	start := time.Now()
	generated := h.planner.Generate(ctx, tasks, req.Hours)
	if generated == nil {
		writeError(w, http.StatusInternalServerError, "encountered a problem in communication with AI provider")
		return
	}
	latency := time.Since(start)

	charged, err := h.meter.Charge(ctx, account, billing.ScheduleCost)
	if err != nil {
		h.writeChargeError(w, err)
		return
	}
	h.recordCredits(string(generated.Provider), generated.Model, charged)

	if h.schedules != nil {
		if _, err := h.schedules.SaveSchedule(ctx, userID, generated.Schedule); err != nil {
			h.logger.Error("failed to save schedule", "user_id", userID, "request_id", requestID, "error", err)
		}
	}
	h.logUsage(ctx, &billing.UsageLog{
		UserID:       userID,
		RequestID:    requestID,
		Operation:    "schedule",
		Provider:     string(generated.Provider),
		Model:        generated.Model,
		InputTokens:  generated.PromptTokens,
		OutputTokens: generated.CompletionTokens,
		Credits:      charged,
		LatencyMs:    latency.Milliseconds(),
	})

	writeJSON(w, http.StatusOK, generated.Schedule)
}

func (h *Handler) HandleListSchedules(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := h.identify(w, r)
	if !ok {
		return
	}
	if h.schedules == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"schedules": []interface{}{}})
		return
	}

	saved, err := h.schedules.ListSchedules(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to list schedules", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list schedules")
		return
	}
	if saved == nil {
		saved = []*schedule.Saved{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"schedules": saved})
}

func (h *Handler) HandleProviders(w http.ResponseWriter, r *http.Request) {
	enabled := h.router.Registry().ListEnabled()
	writeJSON(w, http.StatusOK, map[string]interface{}{"providers": enabled})
}

func (h *Handler) HandleCredits(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := h.identify(w, r)
	if !ok {
		return
	}
	account, ok := h.account(r.Context(), w, userID)
	if !ok {
		return
	}
	body := map[string]interface{}{
		"user_id":             account.UserID,
		"credits":             account.Credits,
		"subscription_status": account.SubscriptionStatus,
		"subscribed":          account.IsSubscribed(),
	}
	if status, err := h.limiter.Status(r.Context(), userID, auth.GetRateLimit(r.Context())); err != nil {
		h.logger.Warn("rate limit status unavailable", "user_id", userID, "error", err)
	} else {
		body["rate_limited"] = !status.Allowed
	}
	writeJSON(w, http.StatusOK, body)
}

func (h *Handler) HandleUsage(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := h.identify(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	now := time.Now()
	from := now.AddDate(0, 0, -30) // Default: last 30 days
	to := now

	if s := r.URL.Query().Get("from"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid 'from' date format (use RFC3339)")
			return
		}
		from = t
	}
	if s := r.URL.Query().Get("to"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid 'to' date format (use RFC3339)")
			return
		}
		to = t
	}

	logs, err := h.billing.GetUsageByUser(ctx, userID, from, to)
	if err != nil {
		h.logger.Error("failed to load usage", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load usage")
		return
	}
	total, err := h.billing.GetTotalCreditsByUser(ctx, userID, from, to)
	if err != nil {
		h.logger.Error("failed to total usage credits", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load usage")
		return
	}
	if logs == nil {
		logs = []*billing.UsageLog{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id":        userID,
		"total_requests": len(logs),
		"total_credits":  total,
		"logs":           logs,
		"from":           from,
		"to":             to,
	})
}

func (h *Handler) identify(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	userID := auth.GetUserID(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return "", "", false
	}
	requestID := auth.GetRequestID(r.Context())
	if requestID == "" {
		requestID = uuid.New().String()
	}
	return userID, requestID, true
}

func (h *Handler) startSpan(ctx context.Context, name, userID, requestID, model string) (context.Context, trace.Span) {
	ctx, span := h.tracer.Start(ctx, name)
	span.SetAttributes(
		attribute.String("user_id", userID),
		attribute.String("request_id", requestID),
		attribute.String("model", model),
	)
	return ctx, span
}

func (h *Handler) allow(ctx context.Context, w http.ResponseWriter, userID string, tokens int) bool {
	allowed, err := h.limiter.AllowWithLimit(ctx, userID, tokens, auth.GetRateLimit(ctx))
	if err != nil {
		h.logger.Warn("rate limiter unavailable", "user_id", userID, "error", err)
	}
	if err != nil || !allowed {
		w.Header().Set("Retry-After", "60")
		writeJSON(w, http.StatusTooManyRequests, map[string]string{
			"error":       "rate limit exceeded",
			"retry_after": "60s",
		})
		return false
	}
	return true
}

// account loads the caller's balance. Users without an account row get an
// empty one, so free models still work.
func (h *Handler) account(ctx context.Context, w http.ResponseWriter, userID string) (*billing.Account, bool) {
	account, err := h.billing.GetAccount(ctx, userID)
	if errors.Is(err, billing.ErrAccountNotFound) {
		return &billing.Account{UserID: userID, Credits: decimal.Zero}, true
	}
	if err != nil {
		h.logger.Error("failed to load account", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load account")
		return nil, false
	}
	return account, true
}

func (h *Handler) charge(ctx context.Context, w http.ResponseWriter, account *billing.Account, providerID, model string) (decimal.Decimal, bool) {
	charged, err := h.meter.ChargeCall(ctx, account, providerID, model)
	if err != nil {
		h.writeChargeError(w, err)
		return decimal.Zero, false
	}
	h.recordCredits(providerID, model, charged)
	return charged, true
}

func (h *Handler) recordCredits(providerID, model string, charged decimal.Decimal) {
	if h.recorder != nil {
		h.recorder.AddCredits(providerID, model, charged.InexactFloat64())
	}
}

func (h *Handler) writeChargeError(w http.ResponseWriter, err error) {
	if errors.Is(err, billing.ErrInsufficientCredits) {
		writeError(w, http.StatusPaymentRequired, err.Error())
		return
	}
	h.logger.Error("credit deduction failed", "error", err)
	writeError(w, http.StatusInternalServerError, "failed to deduct credits")
}

func (h *Handler) writeRouteError(w http.ResponseWriter, err error) {
	writeError(w, StatusForError(err), RouteErrorMessage(err))
}

// RouteErrorMessage is the client-facing text for an orchestrator error.
// Upstream bodies and transport details stay in the server logs.
func RouteErrorMessage(err error) string {
	if errors.Is(err, provider.ErrNoProviderConfigured) {
		return provider.ErrNoProviderConfigured.Error()
	}
	if errors.Is(err, provider.ErrProviderUnavailable) {
		return err.Error()
	}
	if errors.Is(err, billing.ErrInsufficientCredits) {
		return billing.ErrInsufficientCredits.Error()
	}

	var perr *provider.Error
	if !errors.As(err, &perr) {
		return provider.ErrAllProvidersFailed.Error()
	}
	switch {
	case perr.StatusCode != 0:
		return fmt.Sprintf("%s: upstream returned status %d", perr.Provider, perr.StatusCode)
	case errors.Is(err, provider.ErrNoImageData):
		return fmt.Sprintf("%s: %s", perr.Provider, provider.ErrNoImageData)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Sprintf("%s: upstream request timed out", perr.Provider)
	default:
		return fmt.Sprintf("%s: upstream request failed", perr.Provider)
	}
}

// StatusForError maps orchestrator errors to HTTP status codes.
func StatusForError(err error) int {
	switch {
	case errors.Is(err, provider.ErrNoProviderConfigured),
		errors.Is(err, provider.ErrProviderUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, billing.ErrInsufficientCredits):
		return http.StatusPaymentRequired
	default:
		return http.StatusBadGateway
	}
}

// logUsage writes the usage row off the request path.
func (h *Handler) logUsage(ctx context.Context, entry *billing.UsageLog) {
	ctx = context.WithoutCancel(ctx)
	go func() {
		if err := h.billing.LogUsage(ctx, entry); err != nil {
			h.logger.Error("failed to log usage", "request_id", entry.RequestID, "error", err)
		}
	}()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
