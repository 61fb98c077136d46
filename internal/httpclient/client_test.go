package httpclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"cfgkeeper/internal/retry"
	"cfgkeeper/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type capturedRequest struct {
	Method string
	URI    string
	Auth   string
	Body   string
}

type fakeSleeper struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *fakeSleeper) Sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waits = append(s.waits, d)
	return nil
}

func newTestClient(t *testing.T, baseURL string, sleeper retry.Sleeper, cfg *retry.Config) *Client {
	t.Helper()
	header := http.Header{}
	header.Set("Authorization", "Api-Token secret")
	return New(Options{
		BaseURL:   baseURL + "/",
		Header:    header,
		VerifySSL: true,
		Timeout:   5 * time.Second,
		Policy:    retry.NewPolicy(cfg, sleeper),
	}, zaptest.NewLogger(t))
}

func TestRequestRetriesRateLimitedRequestIdentically(t *testing.T) {
	var mu sync.Mutex
	var seen []capturedRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		seen = append(seen, capturedRequest{
			Method: r.Method,
			URI:    r.RequestURI,
			Auth:   r.Header.Get("Authorization"),
			Body:   string(body),
		})
		n := len(seen)
		mu.Unlock()

		if n == 1 {
			w.Header().Set("X-RateLimit-Reset", "2000000")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	sleeper := &fakeSleeper{}
	c := newTestClient(t, server.URL, sleeper, nil)

	params := url.Values{"scopes": []string{"h1"}}
	resp, err := c.Request(context.Background(), http.MethodPost, "/api/v2/things", map[string]string{"a": "b"}, params)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.Len(t, seen, 2)
	assert.Equal(t, seen[0], seen[1], "retried request must match the original")
	assert.Equal(t, "/api/v2/things?scopes=h1", seen[0].URI)
	assert.Equal(t, "Api-Token secret", seen[0].Auth)
	assert.Equal(t, `{"a":"b"}`, seen[0].Body)

	require.Len(t, sleeper.waits, 1)
	assert.Equal(t, 2*time.Second, sleeper.waits[0])
	assert.Equal(t, int64(1), c.Policy().Retries())
}

func TestRequestPassesThroughOtherStatuses(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":400}}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, &fakeSleeper{}, nil)

	resp, err := c.Request(context.Background(), http.MethodGet, "/x", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.False(t, resp.OK())

	var decoded map[string]map[string]int
	require.NoError(t, resp.Decode(&decoded))
	assert.Equal(t, 400, decoded["error"]["code"])
}

func TestRequestGivesUpWhenRetriesCapped(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	cfg := retry.DefaultPlatformConfig()
	cfg.MaxRetries = 2
	c := newTestClient(t, server.URL, &fakeSleeper{}, cfg)

	_, err := c.Request(context.Background(), http.MethodGet, "/x", nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrRateLimited)
	assert.Equal(t, 3, calls)
}

func TestRequestStopsWhenWaitCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	cancelled := retry.SleeperFunc(func(ctx context.Context, d time.Duration) error {
		return context.Canceled
	})
	c := newTestClient(t, server.URL, cancelled, nil)

	_, err := c.Request(context.Background(), http.MethodGet, "/x", nil, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFetchMapsStatuses(t *testing.T) {
	status := http.StatusNotFound
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"message":"nope"}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, &fakeSleeper{}, nil)

	_, err := c.Fetch(context.Background(), http.MethodGet, "/contents/a.json", nil, nil)
	assert.ErrorIs(t, err, types.ErrNotFound)

	status = http.StatusConflict
	_, err = c.Fetch(context.Background(), http.MethodPut, "/contents/a.json", nil, nil)
	assert.ErrorIs(t, err, types.ErrConflict)

	status = http.StatusInternalServerError
	_, err = c.Fetch(context.Background(), http.MethodGet, "/contents/a.json", nil, nil)
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusInternalServerError, statusErr.StatusCode)
	assert.False(t, errors.Is(err, types.ErrNotFound))

	status = http.StatusCreated
	resp, err := c.Fetch(context.Background(), http.MethodPut, "/contents/a.json", nil, nil)
	require.NoError(t, err)
	assert.True(t, resp.OK())
}

func TestBasicAuthAndAbsoluteURL(t *testing.T) {
	var user, pass string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, _ = r.BasicAuth()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := New(Options{
		BaseURL:   "https://unused.example.com",
		Username:  "bot",
		Password:  "token",
		VerifySSL: false,
	}, zaptest.NewLogger(t))

	_, err := c.Request(context.Background(), http.MethodGet, server.URL+"/abs", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "bot", user)
	assert.Equal(t, "token", pass)
	assert.Equal(t, "https://unused.example.com", c.BaseURL())
}
