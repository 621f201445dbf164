package connectivity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// upMonitor reports the interface as always up so tests exercise the HTTP
// probe instead of the local interface state
type upMonitor struct{}

func (upMonitor) Status() NetworkStatus {
	return NetworkStatus{Connected: true, InternetReachable: true}
}

// downMonitor reports no usable interface
type downMonitor struct{}

func (downMonitor) Status() NetworkStatus {
	return NetworkStatus{Connected: false, InternetReachable: false}
}

func healthServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	r.Get("/api/health", handler)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func newTestProber(baseURL string, monitor NetworkMonitor) *Prober {
	p := NewProber(baseURL, 2*time.Second, monitor)
	p.SetSleep(func(time.Duration) {})
	return p
}

func TestProber_Check(t *testing.T) {
	ctx := context.Background()

	t.Run("healthy backend", func(t *testing.T) {
		srv := healthServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"status":"ok"}`))
		})

		p := newTestProber(srv.URL, upMonitor{})
		assert.True(t, p.Check(ctx))
	})

	t.Run("2xx with degraded status payload is not healthy", func(t *testing.T) {
		srv := healthServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"status":"degraded"}`))
		})

		p := newTestProber(srv.URL, upMonitor{})
		assert.False(t, p.Check(ctx))
	})

	t.Run("server error is not healthy", func(t *testing.T) {
		srv := healthServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		})

		p := newTestProber(srv.URL, upMonitor{})
		assert.False(t, p.Check(ctx))
	})

	t.Run("malformed health body is not healthy", func(t *testing.T) {
		srv := healthServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`not json`))
		})

		p := newTestProber(srv.URL, upMonitor{})
		assert.False(t, p.Check(ctx))
	})

	t.Run("unreachable host", func(t *testing.T) {
		p := newTestProber("http://127.0.0.1:1", upMonitor{})
		assert.False(t, p.Check(ctx))
	})

	t.Run("interface down skips the network call", func(t *testing.T) {
		var calls atomic.Int32
		srv := healthServer(t, func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.Write([]byte(`{"status":"ok"}`))
		})

		p := newTestProber(srv.URL, downMonitor{})
		assert.False(t, p.Check(ctx))
		assert.Zero(t, calls.Load())
	})
}

func TestProber_CheckWithRetry(t *testing.T) {
	ctx := context.Background()

	t.Run("first attempt success rates good", func(t *testing.T) {
		srv := healthServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"status":"ok"}`))
		})

		p := newTestProber(srv.URL, upMonitor{})
		ok, quality := p.CheckWithRetry(ctx, 3, time.Second)
		assert.True(t, ok)
		assert.Equal(t, "good", string(quality))
	})

	t.Run("success after failures rates poor", func(t *testing.T) {
		var calls atomic.Int32
		srv := healthServer(t, func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.Write([]byte(`{"status":"ok"}`))
		})

		p := newTestProber(srv.URL, upMonitor{})
		ok, quality := p.CheckWithRetry(ctx, 3, time.Second)
		assert.True(t, ok)
		assert.Equal(t, "poor", string(quality))
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("exhaustion rates none", func(t *testing.T) {
		var calls atomic.Int32
		srv := healthServer(t, func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusServiceUnavailable)
		})

		p := newTestProber(srv.URL, upMonitor{})
		ok, quality := p.CheckWithRetry(ctx, 3, time.Second)
		assert.False(t, ok)
		assert.Equal(t, "none", string(quality))
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("delays between attempts but not before the first", func(t *testing.T) {
		srv := healthServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})

		var delays []time.Duration
		p := NewProber(srv.URL, 2*time.Second, upMonitor{})
		p.SetSleep(func(d time.Duration) { delays = append(delays, d) })

		ok, _ := p.CheckWithRetry(ctx, 3, 2*time.Second)
		require.False(t, ok)
		assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, delays)
	})
}
