package fx

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastProviderConfig(endpoint string) ProviderConfig {
	cfg := DefaultProviderConfig(endpoint)
	cfg.RatePerSec = 1000
	cfg.Burst = 1000
	cfg.OpenFor = 50 * time.Millisecond
	return cfg
}

func TestFetchRates_InvertsQuotedRates(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "USD", r.URL.Query().Get("base"))
		w.Write([]byte(`{"base":"USD","date":"2026-08-31","rates":{"EUR":0.9174,"GBP":0.7874}}`))
	}))
	defer ts.Close()

	p := NewRateProvider(fastProviderConfig(ts.URL))
	rates, err := p.FetchRates(context.Background(), "USD")
	require.NoError(t, err)

	assert.Equal(t, 1.0, rates["USD"])
	assert.InDelta(t, 1.09, rates["EUR"], 0.001, "quoted 0.9174 EUR per USD inverts to ~1.09 USD per EUR")
	assert.InDelta(t, 1.27, rates["GBP"], 0.001)
}

func TestFetchRates_BreakerOpensAfterFailures(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	p := NewRateProvider(fastProviderConfig(ts.URL))
	for i := 0; i < 3; i++ {
		_, err := p.FetchRates(context.Background(), "USD")
		require.Error(t, err)
	}

	before := atomic.LoadInt32(&calls)
	_, err := p.FetchRates(context.Background(), "USD")
	require.Error(t, err)
	assert.Equal(t, before, atomic.LoadInt32(&calls), "open breaker must not hit the endpoint")
}

func TestRefreshConfig_KeepsStaticTableOnFailure(t *testing.T) {
	p := NewRateProvider(fastProviderConfig("http://127.0.0.1:0"))
	cfg := DefaultConfig()

	got, err := p.RefreshConfig(context.Background(), cfg)
	require.Error(t, err)
	assert.Equal(t, cfg, got, "failed refresh leaves the static config untouched")
}

func TestRefreshConfig_MergesLiveRates(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"base":"USD","rates":{"EUR":0.5}}`))
	}))
	defer ts.Close()

	p := NewRateProvider(fastProviderConfig(ts.URL))
	got, err := p.RefreshConfig(context.Background(), DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, 2.0, got.Rates["EUR"], "live rate overrides the static table")
	assert.Equal(t, DefaultRates["GBP"], got.Rates["GBP"], "currencies absent from the feed keep static rates")
	assert.NotEmpty(t, got.AsOf)
}
