package ratelimit

import (
	"context"
	"errors"
	"testing"

	extratelimit "github.com/vnmchuo/ratelimiter"
)

type recordingStore struct {
	allowed bool
	err     error
	keys    []string
	tokens  []int
}

func (m *recordingStore) AllowN(ctx context.Context, key string, n int) (*extratelimit.Result, error) {
	m.keys = append(m.keys, key)
	m.tokens = append(m.tokens, n)
	return &extratelimit.Result{Allowed: m.allowed}, m.err
}

func (m *recordingStore) Allow(ctx context.Context, key string) (*extratelimit.Result, error) {
	return m.AllowN(ctx, key, 1)
}

func (m *recordingStore) Status(ctx context.Context, key string) (*extratelimit.Result, error) {
	m.keys = append(m.keys, key)
	return &extratelimit.Result{Allowed: m.allowed}, m.err
}

func TestAllow_KeysByUser(t *testing.T) {
	store := &recordingStore{allowed: true}
	l := NewTestLimiter(store)

	ok, err := l.Allow(context.Background(), "user-1", 4096)
	if err != nil || !ok {
		t.Fatalf("expected allowed, got %v %v", ok, err)
	}
	if store.keys[0] != "ratelimit:user:user-1" {
		t.Errorf("unexpected key %q", store.keys[0])
	}
	if store.tokens[0] != 4096 {
		t.Errorf("expected 4096 tokens, got %d", store.tokens[0])
	}
}

func TestAllow_Denied(t *testing.T) {
	l := NewTestLimiter(&recordingStore{allowed: false})

	ok, err := l.Allow(context.Background(), "user-1", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected request to be denied")
	}
}

func TestAllow_StoreError(t *testing.T) {
	l := NewTestLimiter(&recordingStore{allowed: true, err: errors.New("redis down")})

	ok, err := l.Allow(context.Background(), "user-1", 1)
	if err == nil {
		t.Fatal("expected error")
	}
	if ok {
		t.Error("expected not allowed on error")
	}
}

func TestAllowWithLimit_FallsBackToDefaultWithoutRedis(t *testing.T) {
	store := &recordingStore{allowed: true}
	l := NewTestLimiter(store)

	if _, err := l.AllowWithLimit(context.Background(), "user-2", 10, 500); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.keys) != 1 || store.keys[0] != "ratelimit:user:user-2" {
		t.Errorf("expected default store to be used, got %v", store.keys)
	}
}

func TestStatus_UsesPerKeyBudget(t *testing.T) {
	def := &recordingStore{allowed: true}
	override := &recordingStore{allowed: false}
	var created []int64
	l := &Limiter{
		store: def,
		newStore: func(tpm int64) extratelimit.Limiter {
			created = append(created, tpm)
			return override
		},
		overrides: make(map[int64]extratelimit.Limiter),
	}

	res, err := l.Status(context.Background(), "user-3", 500)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Allowed {
		t.Error("expected status from the per-key budget")
	}
	if len(def.keys) != 0 || len(override.keys) != 1 || override.keys[0] != "ratelimit:user:user-3" {
		t.Errorf("unexpected store usage: default=%v override=%v", def.keys, override.keys)
	}

	if _, err := l.AllowWithLimit(context.Background(), "user-3", 1, 500); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(created) != 1 {
		t.Errorf("expected one override store shared by Status and AllowWithLimit, got %v", created)
	}

	res, err = l.Status(context.Background(), "user-3", 0)
	if err != nil || !res.Allowed {
		t.Errorf("expected default budget for tpm 0, got %v %v", res, err)
	}
}
