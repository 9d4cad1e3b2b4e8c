package velocity

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProvider(baseURL string) *HTTPProvider {
	cfg := DefaultConfig()
	cfg.BaseURL = baseURL
	cfg.RatePerSecond = 1000
	cfg.Burst = 1000
	cfg.Enabled = true
	return NewHTTPProvider(cfg)
}

func TestFetchParsesPrior(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/priors/fp-a", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"source":"marketplace_scan","velocityPerDay":8.5,"unitsSoldTotal":510,"maxDay":60,"ttlSeconds":3600}`)
	}))
	defer srv.Close()

	prior, err := newTestProvider(srv.URL).Fetch(context.Background(), "fp-a")
	require.NoError(t, err)
	require.NotNil(t, prior)
	assert.Equal(t, "marketplace_scan", prior.Source)
	assert.Equal(t, 8.5, prior.VelocityPerDay)
	require.NotNil(t, prior.UnitsSoldTotal)
	assert.Equal(t, 510, *prior.UnitsSoldTotal)
	require.NotNil(t, prior.ExpiresAt)
}

func TestFetchMissIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	prior, err := newTestProvider(srv.URL).Fetch(context.Background(), "fp-unknown")
	require.NoError(t, err)
	assert.Nil(t, prior)
}

func TestFetchServerErrorTripsBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := newTestProvider(srv.URL)

	for i := 0; i < 3; i++ {
		_, err := p.Fetch(context.Background(), "fp-a")
		require.Error(t, err)
	}

	// breaker is open after three consecutive failures
	_, err := p.Fetch(context.Background(), "fp-a")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circuit breaker is open")
}

func TestFetchSendsAPIKey(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	p := newTestProvider(srv.URL)
	p.apiKey = "secret"

	_, err := p.Fetch(context.Background(), "fp-a")
	require.NoError(t, err)
	assert.Equal(t, "Bearer secret", gotAuth)
}
