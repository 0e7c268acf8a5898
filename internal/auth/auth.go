package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrKeyNotFound = errors.New("api key not found")

const cacheTTL = 5 * time.Minute

type APIKey struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	KeyHash   string    `json:"key_hash"`
	RateLimit int64     `json:"rate_limit"` // max tokens per minute, 0 uses the gateway default
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// MarshalBinary implements encoding.BinaryMarshaler for Redis
func (a *APIKey) MarshalBinary() ([]byte, error) {
	return json.Marshal(a)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler for Redis
func (a *APIKey) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, a)
}

type Store interface {
	GetByKey(ctx context.Context, key string) (*APIKey, error)
	Create(ctx context.Context, apiKey *APIKey) error
	Revoke(ctx context.Context, keyID string) error
}

type Middleware func(next http.Handler) http.Handler

type contextKey string

const (
	userIDKey    contextKey = "user_id"
	apiKeyIDKey  contextKey = "api_key_id"
	rateLimitKey contextKey = "rate_limit"
	requestIDKey contextKey = "request_id"
	keyHashKey   contextKey = "key_hash"
)

func HashKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}

// NewMiddleware resolves the Bearer key to a user. cache may be nil, in which
// case every request goes to the store.
func NewMiddleware(store Store, cache *redis.Client, logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "auth")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			requestID := uuid.New().String()
			ctx = WithRequestID(ctx, requestID)
			w.Header().Set("X-Request-ID", requestID)

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
				writeUnauthorized(w, "missing or invalid Authorization header")
				return
			}
			key := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
			if key == "" {
				writeUnauthorized(w, "missing or invalid Authorization header")
				return
			}

			hash := HashKey(key)
			ctx = context.WithValue(ctx, keyHashKey, hash)
			cacheKey := cacheKeyFor(hash)

			if cache != nil {
				var cached APIKey
				err := cache.Get(ctx, cacheKey).Scan(&cached)
				if err == nil {
					next.ServeHTTP(w, r.WithContext(withKey(ctx, &cached)))
					return
				} else if !errors.Is(err, redis.Nil) {
					logger.Warn("redis lookup failed", "error", err)
				}
			}

			apiKey, err := store.GetByKey(ctx, key)
			if err != nil {
				if errors.Is(err, ErrKeyNotFound) {
					writeUnauthorized(w, "invalid API key")
					return
				}
				logger.Error("api key lookup failed", "error", err)
				writeJSONError(w, http.StatusInternalServerError, "internal server error")
				return
			}

			if cache != nil {
				if err := cache.Set(ctx, cacheKey, apiKey, cacheTTL).Err(); err != nil {
					logger.Warn("redis write failed", "error", err)
				}
			}

			next.ServeHTTP(w, r.WithContext(withKey(ctx, apiKey)))
		})
	}
}

func cacheKeyFor(hash string) string {
	return fmt.Sprintf("auth:%s", hash)
}

// NewRevokeHandler deactivates the key the request authenticated with and
// drops it from the cache so it stops working immediately.
func NewRevokeHandler(store Store, cache *redis.Client, logger *slog.Logger) http.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "auth")

	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		keyID := GetAPIKeyID(ctx)
		if keyID == "" {
			writeUnauthorized(w, "no API key on request")
			return
		}

		if err := store.Revoke(ctx, keyID); err != nil {
			if errors.Is(err, ErrKeyNotFound) {
				writeJSONError(w, http.StatusNotFound, "api key not found")
				return
			}
			logger.Error("api key revoke failed", "key_id", keyID, "error", err)
			writeJSONError(w, http.StatusInternalServerError, "internal server error")
			return
		}

		if hash, ok := ctx.Value(keyHashKey).(string); ok && cache != nil {
			if err := cache.Del(ctx, cacheKeyFor(hash)).Err(); err != nil {
				logger.Warn("redis delete failed", "error", err)
			}
		}
		logger.Info("api key revoked", "key_id", keyID, "user_id", GetUserID(ctx))
		w.WriteHeader(http.StatusNoContent)
	}
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	writeJSONError(w, http.StatusUnauthorized, "unauthorized: "+msg)
}

func withKey(ctx context.Context, k *APIKey) context.Context {
	ctx = WithUserID(ctx, k.UserID)
	ctx = WithAPIKeyID(ctx, k.ID)
	return context.WithValue(ctx, rateLimitKey, k.RateLimit)
}

func GetUserID(ctx context.Context) string {
	if id, ok := ctx.Value(userIDKey).(string); ok {
		return id
	}
	return ""
}

func GetAPIKeyID(ctx context.Context) string {
	if id, ok := ctx.Value(apiKeyIDKey).(string); ok {
		return id
	}
	return ""
}

// GetRateLimit returns the per-key tokens-per-minute override, 0 if none.
func GetRateLimit(ctx context.Context) int64 {
	if n, ok := ctx.Value(rateLimitKey).(int64); ok {
		return n
	}
	return 0
}

func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

func WithAPIKeyID(ctx context.Context, apiKeyID string) context.Context {
	return context.WithValue(ctx, apiKeyIDKey, apiKeyID)
}
