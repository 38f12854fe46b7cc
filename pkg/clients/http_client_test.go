package clients

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/canonical/kafkacl/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testConfig() *HTTPConfig {
	cfg := DefaultHTTPConfig()
	cfg.EnableHTTP2 = false
	cfg.RateLimit = 0
	return cfg
}

func TestHTTPClientDo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Equal(t, "kafkacl/1.0", r.Header.Get("User-Agent"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c, err := NewHTTPClient(testConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer c.Close()

	req, err := c.NewRequest(context.Background(), http.MethodGet, srv.URL, nil, nil)
	require.NoError(t, err)

	resp, err := c.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	stats := c.GetStats()
	assert.Equal(t, int64(1), stats.TotalRequests)
	assert.Equal(t, "closed", stats.CircuitState)
	require.NotNil(t, stats.Circuit)
	assert.Zero(t, stats.Circuit.ConsecutiveFailures)
	assert.Nil(t, stats.RateLimiter)
}

func TestHTTPClientTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := NewHTTPClient(testConfig(), nil)
	require.NoError(t, err)

	req, err := c.NewRequest(context.Background(), http.MethodGet, url, nil, nil)
	require.NoError(t, err)

	_, err = c.Do(req)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConnection))
	assert.True(t, errors.IsAPI(err))
}

func TestHTTPClientDeadline(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c, err := NewHTTPClient(testConfig(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req, err := c.NewRequest(ctx, http.MethodGet, srv.URL, nil, nil)
	require.NoError(t, err)

	_, err = c.Do(req)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTimeout))
}

func TestHTTPClientCircuitOpens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.FailureThreshold = 2
	cfg.OpenTimeout = time.Minute
	c, err := NewHTTPClient(cfg, nil)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		req, _ := c.NewRequest(context.Background(), http.MethodGet, srv.URL, nil, nil)
		resp, err := c.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
	}

	req, _ := c.NewRequest(context.Background(), http.MethodGet, srv.URL, nil, nil)
	_, err = c.Do(req)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConnection))
}

func TestHTTPClientBadCAFile(t *testing.T) {
	cfg := testConfig()
	cfg.CAFile = "/nonexistent/ca.pem"

	_, err := NewHTTPClient(cfg, nil)
	require.Error(t, err)
	assert.True(t, errors.IsConfig(err))
}
