package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type statusBody struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func passing(context.Context) error { return nil }

func failing(msg string) CheckFunc {
	return func(context.Context) error { return errors.New(msg) }
}

func runTimes(p *probe, n int) {
	for range n {
		p.run(context.Background())
	}
}

func call(t *testing.T, endpoint http.HandlerFunc) (int, statusBody) {
	t.Helper()
	w := httptest.NewRecorder()
	endpoint(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body statusBody
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return w.Code, body
}

func TestLiveEndpoint(t *testing.T) {
	tests := []struct {
		name       string
		failures   int
		wantStatus int
		wantChecks map[string]string
	}{
		{name: "never run", failures: 0, wantStatus: http.StatusOK},
		{name: "below threshold", failures: failureThreshold - 1, wantStatus: http.StatusOK},
		{
			name:       "at threshold",
			failures:   failureThreshold,
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]string{"postgres": "connection refused"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New()
			h.AddLivenessCheck("goroutines", time.Second, passing)
			h.AddLivenessCheck("postgres", time.Second, failing("connection refused"))
			runTimes(h.liveness[1], tt.failures)

			code, body := call(t, h.LiveEndpoint)

			assert.Equal(t, tt.wantStatus, code)
			assert.Equal(t, tt.wantChecks, body.Checks)
			if tt.wantChecks == nil {
				assert.Equal(t, "ok", body.Status)
			} else {
				assert.Equal(t, "unhealthy", body.Status)
			}
		})
	}
}

func TestReadyEndpoint(t *testing.T) {
	t.Run("not marked ready", func(t *testing.T) {
		h := New()
		h.AddReadinessCheck("postgres", time.Second, passing)

		code, body := call(t, h.ReadyEndpoint)

		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.Contains(t, body.Checks, "_readiness")
		assert.False(t, h.IsReady())
	})

	t.Run("ready then draining", func(t *testing.T) {
		h := New()
		h.AddReadinessCheck("postgres", time.Second, passing)
		h.SetReady(true)

		code, _ := call(t, h.ReadyEndpoint)
		assert.Equal(t, http.StatusOK, code)
		assert.True(t, h.IsReady())

		h.SetReady(false)
		code, _ = call(t, h.ReadyEndpoint)
		assert.Equal(t, http.StatusServiceUnavailable, code)
	})

	t.Run("one dependency down", func(t *testing.T) {
		h := New()
		h.AddReadinessCheck("postgres", time.Second, failing("too many connections"))
		h.AddReadinessCheck("gateway", time.Second, passing)
		h.SetReady(true)
		runTimes(h.readiness[0], failureThreshold)

		code, body := call(t, h.ReadyEndpoint)

		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.Equal(t, map[string]string{"postgres": "too many connections"}, body.Checks)
		assert.False(t, h.IsReady())
	})
}

func TestProbe_Recovers(t *testing.T) {
	down := true
	p := newProbe("postgres", time.Second, func(context.Context) error {
		if down {
			return errors.New("down")
		}
		return nil
	})

	assert.Empty(t, p.failure())
	runTimes(p, failureThreshold)
	assert.Equal(t, "down", p.failure())

	down = false
	runTimes(p, successThreshold)
	assert.Empty(t, p.failure())
}

func TestProbe_Timeout(t *testing.T) {
	p := newProbe("slow", 10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	runTimes(p, failureThreshold)
	assert.Equal(t, context.DeadlineExceeded.Error(), p.failure())
}

func TestStartStop(t *testing.T) {
	h := New()
	h.AddLivenessCheck("live", time.Second, failing("err"))
	h.AddReadinessCheck("ready", time.Second, passing)
	h.SetReady(true)

	h.Start(context.Background(), 5*time.Millisecond)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				h.IsReady()
				h.LiveEndpoint(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/livez", nil))
				h.ReadyEndpoint(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/readyz", nil))
			}
		}()
	}
	wg.Wait()

	assert.Eventually(t, func() bool {
		w := httptest.NewRecorder()
		h.LiveEndpoint(w, httptest.NewRequest(http.MethodGet, "/livez", nil))
		return w.Code == http.StatusServiceUnavailable
	}, time.Second, 10*time.Millisecond)

	h.Stop()
	h.Stop()
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestPingCheck(t *testing.T) {
	assert.NoError(t, PingCheck(pinger{})(context.Background()))

	err := PingCheck(pinger{err: errors.New("refused")})(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refused")
}

func TestGoroutineCountCheck(t *testing.T) {
	assert.NoError(t, GoroutineCountCheck(100000)(context.Background()))

	err := GoroutineCountCheck(0)(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds threshold")
}

func TestGCMaxPauseCheck(t *testing.T) {
	assert.NoError(t, GCMaxPauseCheck(time.Hour)(context.Background()))
}
