package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnmchuo/banana-gateway/internal/provider"
)

func TestHooks(t *testing.T) {
	m := New(prometheus.NewRegistry())
	hooks := m.Hooks()

	hooks.OnAttemptFailed(provider.NanoAPI, 0, errors.New("boom"))
	hooks.OnAttemptSucceeded(provider.OpenRouter, 1)
	hooks.OnAttemptSucceeded(provider.NanoAPI, 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProviderAttempts.WithLabelValues("nano_api", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProviderAttempts.WithLabelValues("nano_api", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProviderAttempts.WithLabelValues("openrouter", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Fallbacks.WithLabelValues("openrouter")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Fallbacks.WithLabelValues("nano_api")))
}

func TestObserveRequestAndCredits(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveRequest("image", http.StatusOK, 2*time.Second)
	m.ObserveRequest("image", http.StatusPaymentRequired, time.Second)
	m.AddCredits("nano_api", "gemini-3-pro-image-preview", 0.35)
	m.AddCredits("openrouter", "free-model", 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("image", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("image", "402")))
	assert.InDelta(t, 0.35, testutil.ToFloat64(m.CreditsCharged.WithLabelValues("nano_api", "gemini-3-pro-image-preview")), 1e-9)
	assert.Equal(t, 1, testutil.CollectAndCount(m.CreditsCharged))
}

func TestHandler(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.ObserveRequest("chat", http.StatusOK, time.Millisecond)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `gateway_requests_total{code="200",operation="chat"} 1`)
}
