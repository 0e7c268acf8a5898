package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	extratelimit "github.com/vnmchuo/ratelimiter"
)

// Limiter meters estimated tokens per user per minute on top of
// github.com/vnmchuo/ratelimiter.
type Limiter struct {
	store extratelimit.Limiter
	// keys with their own tokens-per-minute budget, created on first use
	newStore  func(tpm int64) extratelimit.Limiter
	mu        sync.Mutex
	overrides map[int64]extratelimit.Limiter
}

func NewLimiter(rdb *redis.Client, defaultTPM int64) *Limiter {
	return &Limiter{
		store:     newStore(rdb, defaultTPM),
		newStore:  func(tpm int64) extratelimit.Limiter { return newStore(rdb, tpm) },
		overrides: make(map[int64]extratelimit.Limiter),
	}
}

func newStore(rdb *redis.Client, tpm int64) extratelimit.Limiter {
	return extratelimit.NewRedisStore(rdb,
		extratelimit.WithLimit(int(tpm)),
		extratelimit.WithWindow(time.Minute),
	)
}

func NewTestLimiter(store extratelimit.Limiter) *Limiter {
	return &Limiter{store: store}
}

func key(userID string) string {
	return fmt.Sprintf("ratelimit:user:%s", userID)
}

// Allow consumes tokens from the user's default budget.
func (l *Limiter) Allow(ctx context.Context, userID string, tokens int) (bool, error) {
	return l.allow(ctx, l.store, userID, tokens)
}

// AllowWithLimit is Allow against a per-key budget; tpm <= 0 means the
// default budget.
func (l *Limiter) AllowWithLimit(ctx context.Context, userID string, tokens int, tpm int64) (bool, error) {
	return l.allow(ctx, l.storeFor(tpm), userID, tokens)
}

func (l *Limiter) allow(ctx context.Context, store extratelimit.Limiter, userID string, tokens int) (bool, error) {
	res, err := store.AllowN(ctx, key(userID), tokens)
	if err != nil {
		return false, err
	}
	return res.Allowed, nil
}

func (l *Limiter) storeFor(tpm int64) extratelimit.Limiter {
	if tpm <= 0 || l.newStore == nil {
		return l.store
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if s, ok := l.overrides[tpm]; ok {
		return s
	}
	s := l.newStore(tpm)
	l.overrides[tpm] = s
	return s
}

// Status reports the user's window against the same budget AllowWithLimit
// would use for tpm.
func (l *Limiter) Status(ctx context.Context, userID string, tpm int64) (*extratelimit.Result, error) {
	return l.storeFor(tpm).Status(ctx, key(userID))
}
