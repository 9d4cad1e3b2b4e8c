// Package velocity fetches market-velocity priors from an external
// estimates service. The provider is rate limited and circuit broken: the
// scenario builder treats a missing prior as a soft fallback, so outages
// degrade to default sell-through assumptions instead of failing runs.
package velocity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/acme/product-pipeline/internal/domain/scenario"
)

// Provider supplies the freshest prior for a fingerprint, nil when the
// source has no estimate.
type Provider interface {
	Fetch(ctx context.Context, fingerprint string) (*scenario.VelocityPrior, error)
}

// Config holds provider connection configuration
type Config struct {
	BaseURL        string        `yaml:"base_url" env:"VELOCITY_BASE_URL"`
	APIKey         string        `yaml:"api_key" env:"VELOCITY_API_KEY"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	RatePerSecond  float64       `yaml:"rate_per_second"`
	Burst          int           `yaml:"burst"`
	Enabled        bool          `yaml:"enabled" env:"VELOCITY_ENABLED"`
}

// DefaultConfig returns conservative provider defaults
func DefaultConfig() Config {
	return Config{
		RequestTimeout: 10 * time.Second,
		RatePerSecond:  2,
		Burst:          4,
		Enabled:        false,
	}
}

// HTTPProvider implements Provider against the estimates HTTP API
type HTTPProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

// NewHTTPProvider creates a provider with rate limiting and a circuit breaker
func NewHTTPProvider(cfg Config) *HTTPProvider {
	settings := gobreaker.Settings{
		Name:        "velocity-estimates",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.ConsecutiveFailures >= 3 {
				return true
			}
			if counts.Requests >= 10 {
				errorRate := float64(counts.TotalFailures) / float64(counts.Requests) * 100
				return errorRate >= 30.0
			}
			return false
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("velocity provider circuit state changed")
		},
	}

	return &HTTPProvider{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: cfg.RequestTimeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

type priorResponse struct {
	Source         string   `json:"source"`
	VelocityPerDay float64  `json:"velocityPerDay"`
	UnitsSoldTotal *int     `json:"unitsSoldTotal"`
	MaxDay         *int     `json:"maxDay"`
	TTLSeconds     *float64 `json:"ttlSeconds"`
}

// Fetch retrieves the prior for a fingerprint. A 404 is a clean miss, not
// an error: the breaker only counts transport and server failures.
func (p *HTTPProvider) Fetch(ctx context.Context, fingerprint string) (*scenario.VelocityPrior, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	result, err := p.breaker.Execute(func() (interface{}, error) {
		return p.fetch(ctx, fingerprint)
	})
	if err != nil {
		return nil, err
	}

	prior, _ := result.(*scenario.VelocityPrior)
	return prior, nil
}

func (p *HTTPProvider) fetch(ctx context.Context, fingerprint string) (*scenario.VelocityPrior, error) {
	endpoint := fmt.Sprintf("%s/v1/priors/%s", p.baseURL, url.PathEscape(fingerprint))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("velocity request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("velocity request status %d", resp.StatusCode)
	}

	var body priorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode prior: %w", err)
	}

	now := time.Now().UTC()
	prior := &scenario.VelocityPrior{
		Source:         body.Source,
		VelocityPerDay: body.VelocityPerDay,
		UnitsSoldTotal: body.UnitsSoldTotal,
		MaxDay:         body.MaxDay,
		CreatedAt:      &now,
	}
	if body.TTLSeconds != nil {
		expires := now.Add(time.Duration(*body.TTLSeconds * float64(time.Second)))
		prior.ExpiresAt = &expires
	}

	return prior, nil
}
