package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quiverdata/govcontracts/internal/logger"
	"github.com/quiverdata/govcontracts/internal/ratelimit"
)

type countingGate struct {
	n   int64
	err error
}

func (g *countingGate) Acquire(context.Context) error {
	atomic.AddInt64(&g.n, 1)
	return g.err
}

func (g *countingGate) count() int { return int(atomic.LoadInt64(&g.n)) }

type fakeRecorder struct {
	mu       sync.Mutex
	statuses []int
	reauths  int
}

func (r *fakeRecorder) Request(status int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, status)
}

func (r *fakeRecorder) Reauth() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reauths++
}

func newTestClient(t *testing.T, baseURL string, gate ratelimit.Acquirer, maxRetries int) *Client {
	t.Helper()
	c, err := NewClient(Options{
		BaseURL:    baseURL,
		Token:      "secret",
		MaxRetries: maxRetries,
		RetryWait:  time.Millisecond,
		Timeout:    5 * time.Second,
		Gate:       gate,
		Logger:     logger.NewLogfLogger(t),
	})
	require.NoError(t, err)
	return c
}

const testPath = "live/govcontractsall?date=20240102&page=1"

func TestClient_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Token secret", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Equal(t, "/beta/live/govcontractsall", r.URL.Path)
		assert.Equal(t, "20240102", r.URL.Query().Get("date"))
		assert.Equal(t, "1", r.URL.Query().Get("page"))
		_, _ = w.Write([]byte(`[{"Ticker":"AAPL"}]`))
	}))
	defer server.Close()

	gate := &countingGate{}
	c := newTestClient(t, server.URL+"/beta/", gate, 5)

	body, err := c.Get(context.Background(), testPath)
	require.NoError(t, err)
	assert.Equal(t, `[{"Ticker":"AAPL"}]`, body)
	assert.Equal(t, 1, gate.count())
}

func TestClient_NotFoundIsEmpty(t *testing.T) {
	var hits int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt64(&hits, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	gate := &countingGate{}
	c := newTestClient(t, server.URL+"/beta/", gate, 5)

	body, err := c.Get(context.Background(), testPath)
	require.NoError(t, err)
	assert.Empty(t, body)
	assert.Equal(t, int64(1), atomic.LoadInt64(&hits))
	assert.Equal(t, 1, gate.count())
}

func TestClient_FailTwiceThenSucceed(t *testing.T) {
	var hits int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt64(&hits, 1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("[]"))
	}))
	defer server.Close()

	gate := &countingGate{}
	c := newTestClient(t, server.URL+"/beta/", gate, 5)

	body, err := c.Get(context.Background(), testPath)
	require.NoError(t, err)
	assert.Equal(t, "[]", body)
	assert.Equal(t, int64(3), atomic.LoadInt64(&hits))
	assert.Equal(t, 3, gate.count())
}

func TestClient_AlwaysFails(t *testing.T) {
	var hits int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt64(&hits, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	gate := &countingGate{}
	c := newTestClient(t, server.URL+"/beta/", gate, 5)

	_, err := c.Get(context.Background(), testPath)
	require.Error(t, err)

	var rerr *RetryError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, 5, rerr.Attempts)
	assert.Equal(t, 5, rerr.Max)
	assert.Contains(t, rerr.URL, "govcontractsall")
	assert.Contains(t, err.Error(), "(retry 5/5)")
	assert.Contains(t, err.Error(), "502")

	assert.Equal(t, int64(5), atomic.LoadInt64(&hits))
	assert.Equal(t, 5, gate.count())
}

func TestClient_TransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	gate := &countingGate{}
	c := newTestClient(t, url+"/beta/", gate, 2)

	_, err := c.Get(context.Background(), testPath)
	var rerr *RetryError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, 2, rerr.Attempts)
	assert.Equal(t, 2, gate.count())
}

func TestClient_UnauthorizedReissuedOnce(t *testing.T) {
	var hits int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt64(&hits, 1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	gate := &countingGate{}
	rec := &fakeRecorder{}
	c, err := NewClient(Options{
		BaseURL:   server.URL + "/beta/",
		Token:     "secret",
		RetryWait: time.Millisecond,
		Gate:      gate,
		Recorder:  rec,
	})
	require.NoError(t, err)

	body, err := c.Get(context.Background(), testPath)
	require.NoError(t, err)
	assert.Equal(t, "ok", body)
	assert.Equal(t, int64(2), atomic.LoadInt64(&hits))
	// The reissue is part of the same attempt.
	assert.Equal(t, 1, gate.count())
	assert.Equal(t, 1, rec.reauths)
	assert.Equal(t, []int{401, 200}, rec.statuses)
}

func TestClient_RepeatedUnauthorizedIsBounded(t *testing.T) {
	var hits int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt64(&hits, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	gate := &countingGate{}
	c := newTestClient(t, server.URL+"/beta/", gate, 3)

	_, err := c.Get(context.Background(), testPath)
	var rerr *RetryError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, 3, rerr.Attempts)
	assert.Equal(t, 3, gate.count())
	// Each attempt plus its single reissue.
	assert.Equal(t, int64(6), atomic.LoadInt64(&hits))
}

func TestClient_UnauthorizedFollowsRedirectTarget(t *testing.T) {
	var movedHits int64
	mux := http.NewServeMux()
	mux.HandleFunc("/beta/live/govcontractsall", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/moved/govcontractsall?"+r.URL.RawQuery, http.StatusFound)
	})
	mux.HandleFunc("/moved/govcontractsall", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Token secret", r.Header.Get("Authorization"))
		if atomic.AddInt64(&movedHits, 1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte("moved:" + r.URL.Query().Get("page")))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	c := newTestClient(t, server.URL+"/beta/", &countingGate{}, 5)

	body, err := c.Get(context.Background(), testPath)
	require.NoError(t, err)
	assert.Equal(t, "moved:1", body)
	assert.Equal(t, int64(2), atomic.LoadInt64(&movedHits))
}

func TestClient_ContextCanceled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := newTestClient(t, server.URL+"/beta/", &countingGate{}, 5)
	_, err := c.Get(ctx, testPath)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	var rerr *RetryError
	assert.False(t, errors.As(err, &rerr))
}

func TestClient_GateClosed(t *testing.T) {
	var hits int64
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		atomic.AddInt64(&hits, 1)
	}))
	defer server.Close()

	gate := &countingGate{err: ratelimit.ErrClosed}
	c := newTestClient(t, server.URL+"/beta/", gate, 5)

	_, err := c.Get(context.Background(), testPath)
	assert.ErrorIs(t, err, ratelimit.ErrClosed)
	assert.Equal(t, 1, gate.count())
	assert.Equal(t, int64(0), atomic.LoadInt64(&hits))
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(Options{})
	assert.ErrorContains(t, err, "rate gate")

	_, err = NewClient(Options{BaseURL: "not a url", Gate: &countingGate{}})
	assert.ErrorContains(t, err, "invalid base URL")
}
