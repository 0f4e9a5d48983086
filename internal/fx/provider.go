package fx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// RateProvider fetches live FX rates from an HTTP endpoint, guarded by a
// circuit breaker and a request rate limiter. When the provider is down or
// the breaker is open, callers fall back to their static rate table.
type RateProvider struct {
	endpoint string
	client   *http.Client
	breaker  *gobreaker.CircuitBreaker
	limiter  *rate.Limiter
}

// ProviderConfig tunes the live rate provider.
type ProviderConfig struct {
	Endpoint    string        `yaml:"endpoint"`
	Timeout     time.Duration `yaml:"timeout"`
	RatePerSec  float64       `yaml:"rate_per_sec"`
	Burst       int           `yaml:"burst"`
	MaxFailures uint32        `yaml:"max_failures"`
	OpenFor     time.Duration `yaml:"open_for"`
}

// DefaultProviderConfig returns conservative defaults: one request per
// second, breaker opens after 3 consecutive failures for 30 seconds.
func DefaultProviderConfig(endpoint string) ProviderConfig {
	return ProviderConfig{
		Endpoint:    endpoint,
		Timeout:     5 * time.Second,
		RatePerSec:  1,
		Burst:       2,
		MaxFailures: 3,
		OpenFor:     30 * time.Second,
	}
}

// NewRateProvider builds a provider from config.
func NewRateProvider(cfg ProviderConfig) *RateProvider {
	settings := gobreaker.Settings{
		Name:    "fx-rates",
		Timeout: cfg.OpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("FX provider breaker state change")
		},
	}
	return &RateProvider{
		endpoint: cfg.Endpoint,
		client:   &http.Client{Timeout: cfg.Timeout},
		breaker:  gobreaker.NewCircuitBreaker(settings),
		limiter:  rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst),
	}
}

type ratesResponse struct {
	Base  string             `json:"base"`
	Date  string             `json:"date"`
	Rates map[string]float64 `json:"rates"`
}

// FetchRates retrieves the current rate table expressed against the given
// base currency. The response maps CCY -> value of 1 CCY in base.
func (p *RateProvider) FetchRates(ctx context.Context, base string) (map[string]float64, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	result, err := p.breaker.Execute(func() (interface{}, error) {
		url := fmt.Sprintf("%s?base=%s", p.endpoint, NormalizeCode(base))
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		resp, err := p.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("fx provider returned status %d", resp.StatusCode)
		}
		var body ratesResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return nil, fmt.Errorf("fx provider returned malformed body: %w", err)
		}
		if len(body.Rates) == 0 {
			return nil, fmt.Errorf("fx provider returned no rates")
		}
		return body.Rates, nil
	})
	if err != nil {
		return nil, err
	}

	// provider quotes 1 base = r units of CCY; invert to our convention
	quoted := result.(map[string]float64)
	rates := make(map[string]float64, len(quoted)+1)
	rates[NormalizeCode(base)] = 1.0
	for ccy, r := range quoted {
		if r > 0 {
			rates[NormalizeCode(ccy)] = 1.0 / r
		}
	}
	return rates, nil
}

// RefreshConfig fetches live rates and merges them into cfg. On any failure
// the config is returned unchanged and the error reported, so callers keep
// their static table.
func (p *RateProvider) RefreshConfig(ctx context.Context, cfg *Config) (*Config, error) {
	rates, err := p.FetchRates(ctx, cfg.BaseCurrency)
	if err != nil {
		return cfg, err
	}
	out := &Config{
		BaseCurrency:   cfg.BaseCurrency,
		OutputCurrency: cfg.OutputCurrency,
		Rates:          make(map[string]float64, len(cfg.Rates)),
		AsOf:           time.Now().UTC().Format("2006-01-02"),
	}
	for k, v := range cfg.Rates {
		out.Rates[k] = v
	}
	for k, v := range rates {
		out.Rates[k] = v
	}
	return out, nil
}
