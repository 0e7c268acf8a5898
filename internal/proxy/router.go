package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/vnmchuo/banana-gateway/internal/provider"
)

// Hooks observe attempt outcomes. Attempt indexes are zero-based positions
// in the candidate list.
type Hooks struct {
	OnAttemptFailed    func(providerID provider.ID, attempt int, err error)
	OnAttemptSucceeded func(providerID provider.ID, attempt int)
	// OnFallback fires only when a failed attempt is followed by another
	// candidate, never for the last one or for an explicit provider.
	OnFallback func(from, to provider.ID, attempt int)
}

// Router runs a request against the enabled providers in priority order and
// returns the first success. Attempts are strictly sequential.
type Router struct {
	registry *provider.Registry
	factory  provider.Factory
	hooks    []Hooks
	breakers map[provider.ID]*gobreaker.CircuitBreaker
	tracer   trace.Tracer
	logger   *slog.Logger
}

type Option func(*Router)

func WithHooks(h Hooks) Option {
	return func(r *Router) { r.hooks = append(r.hooks, h) }
}

func WithTracer(t trace.Tracer) Option {
	return func(r *Router) { r.tracer = t }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// WithCircuitBreaker wraps every attempt in a per-provider breaker. An open
// breaker fails the attempt immediately, so fallback moves on without an
// upstream call; candidate order is unchanged.
func WithCircuitBreaker() Option {
	return func(r *Router) { r.breakers = make(map[provider.ID]*gobreaker.CircuitBreaker) }
}

func NewRouter(registry *provider.Registry, factory provider.Factory, opts ...Option) (*Router, error) {
	if registry == nil {
		return nil, fmt.Errorf("registry cannot be nil")
	}
	if factory == nil {
		return nil, fmt.Errorf("adapter factory cannot be nil")
	}

	r := &Router{
		registry: registry,
		factory:  factory,
		tracer:   noop.NewTracerProvider().Tracer("proxy"),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "provider-router")

	if r.breakers != nil {
		for _, d := range registry.Descriptors() {
			settings := gobreaker.Settings{
				Name:        string(d.ID),
				MaxRequests: 3,
				Interval:    5 * time.Second,
				Timeout:     30 * time.Second,
				ReadyToTrip: func(counts gobreaker.Counts) bool {
					return counts.ConsecutiveFailures >= 3
				},
			}
			r.breakers[d.ID] = gobreaker.NewCircuitBreaker(settings)
		}
	}
	return r, nil
}

func (r *Router) Registry() *provider.Registry {
	return r.registry
}

// MaxDuration is the longest a fallback chain can run: every enabled
// provider reaching its own timeout in turn.
func (r *Router) MaxDuration() time.Duration {
	var total time.Duration
	for _, d := range r.registry.ListEnabled() {
		total += d.Timeout()
	}
	return total
}

func (r *Router) ChatCompletion(ctx context.Context, req *provider.ChatRequest) (*provider.ChatResponse, error) {
	return fallback(ctx, r, "chat", chatCall(req))
}

func (r *Router) ImageGeneration(ctx context.Context, req *provider.ImageRequest) (*provider.ImageResponse, error) {
	return fallback(ctx, r, "image", imageCall(req))
}

// ChatCompletionWith skips fallback and calls exactly one provider.
func (r *Router) ChatCompletionWith(ctx context.Context, id provider.ID, req *provider.ChatRequest) (*provider.ChatResponse, error) {
	return direct(ctx, r, id, "chat", chatCall(req))
}

func (r *Router) ImageGenerationWith(ctx context.Context, id provider.ID, req *provider.ImageRequest) (*provider.ImageResponse, error) {
	return direct(ctx, r, id, "image", imageCall(req))
}

type call[T any] func(ctx context.Context, a provider.Adapter) (T, error)

func chatCall(req *provider.ChatRequest) call[*provider.ChatResponse] {
	return func(ctx context.Context, a provider.Adapter) (*provider.ChatResponse, error) {
		return a.ChatCompletion(ctx, req)
	}
}

func imageCall(req *provider.ImageRequest) call[*provider.ImageResponse] {
	return func(ctx context.Context, a provider.Adapter) (*provider.ImageResponse, error) {
		return a.ImageGeneration(ctx, req)
	}
}

func fallback[T any](ctx context.Context, r *Router, op string, fn call[T]) (T, error) {
	var zero T

	candidates := r.registry.ListEnabled()
	if len(candidates) == 0 {
		return zero, provider.ErrNoProviderConfigured
	}

	var lastErr error
	for i, desc := range candidates {
		credential, ok := r.registry.Credential(desc)
		if !ok {
			r.logger.Warn("provider has no credential, skipping", "provider", desc.ID, "attempt", i)
			continue
		}

		res, err := attempt(ctx, r, op, i, desc, credential, fn)
		if err == nil {
			r.notifySucceeded(desc.ID, i)
			return res, nil
		}

		lastErr = err
		r.logger.Warn("provider attempt failed",
			"provider", desc.ID,
			"operation", op,
			"attempt", i,
			"remaining", len(candidates)-i-1,
			"error", err,
		)
		r.notifyFailed(desc.ID, i, err)

		if ctx.Err() != nil {
			break
		}
		if i+1 < len(candidates) {
			r.notifyFallback(desc.ID, candidates[i+1].ID, i)
		}
	}

	if lastErr == nil {
		return zero, provider.ErrAllProvidersFailed
	}
	return zero, lastErr
}

func direct[T any](ctx context.Context, r *Router, id provider.ID, op string, fn call[T]) (T, error) {
	var zero T

	desc, ok := r.registry.ByID(id)
	if !ok {
		return zero, fmt.Errorf("%w: unknown provider %s", provider.ErrProviderUnavailable, id)
	}
	if !desc.Enabled {
		return zero, fmt.Errorf("%w: provider %s is disabled", provider.ErrProviderUnavailable, id)
	}
	credential, ok := r.registry.Credential(desc)
	if !ok {
		return zero, fmt.Errorf("%w: provider %s has no credential", provider.ErrProviderUnavailable, id)
	}

	res, err := attempt(ctx, r, op, 0, desc, credential, fn)
	if err != nil {
		r.logger.Warn("provider attempt failed", "provider", id, "operation", op, "error", err)
		r.notifyFailed(id, 0, err)
		return zero, err
	}
	r.notifySucceeded(id, 0)
	return res, nil
}

func attempt[T any](ctx context.Context, r *Router, op string, index int, desc provider.Descriptor, credential string, fn call[T]) (T, error) {
	var zero T

	ctx, span := r.tracer.Start(ctx, "provider."+op)
	defer span.End()
	span.SetAttributes(
		attribute.String("provider", string(desc.ID)),
		attribute.String("provider.kind", string(desc.Kind)),
		attribute.Int("attempt", index),
	)

	adapter, err := r.factory(desc, credential)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return zero, provider.NewError(desc.ID, "failed to build adapter", err)
	}

	cb := r.breakers[desc.ID]
	if cb == nil {
		res, err := fn(ctx, adapter)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return res, err
	}

	out, err := cb.Execute(func() (interface{}, error) {
		return fn(ctx, adapter)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = provider.NewError(desc.ID, "circuit breaker rejected attempt", err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return zero, err
	}
	return out.(T), nil
}

func (r *Router) notifyFailed(id provider.ID, attempt int, err error) {
	for _, h := range r.hooks {
		if h.OnAttemptFailed != nil {
			h.OnAttemptFailed(id, attempt, err)
		}
	}
}

func (r *Router) notifySucceeded(id provider.ID, attempt int) {
	for _, h := range r.hooks {
		if h.OnAttemptSucceeded != nil {
			h.OnAttemptSucceeded(id, attempt)
		}
	}
}

func (r *Router) notifyFallback(from, to provider.ID, attempt int) {
	for _, h := range r.hooks {
		if h.OnFallback != nil {
			h.OnFallback(from, to, attempt)
		}
	}
}
