package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"bridge-aggregator/goutils/ratelimiter"
	"bridge-aggregator/goutils/settings"
)

func testSettings(maxRetries int) *settings.SettingsObj {
	return &settings.SettingsObj{
		InstanceId: "test-instance",
		Provider: &settings.Provider{
			TimeoutSecs:    2,
			RequestsPerSec: 1000,
			MaxTokens:      1000,
		},
		Retry: &settings.Retry{
			MaxRetries:   maxRetries,
			BaseDelayMs:  1,
			MaxBackoffMs: 50,
		},
		HttpClient: &settings.HTTPClient{
			MaxIdleConns:        1,
			MaxConnsPerHost:     1,
			MaxIdleConnsPerHost: 1,
			IdleConnTimeout:     60,
		},
	}
}

func testClient(t *testing.T, maxRetries int) *Client {
	t.Helper()

	limiter, err := ratelimiter.NewTokenBucket(1000, 1000)
	assert.NoError(t, err)

	return NewClient(testSettings(maxRetries), limiter)
}

func TestClient_FetchJSON(t *testing.T) {
	client := testClient(t, 2)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Accept"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer server.Close()

	out := make(map[string]string)

	err := client.FetchJSON(context.Background(), http.MethodGet, server.URL, nil, &out)
	assert.NoError(t, err)
	assert.Equal(t, "ok", out["status"])
}

func TestClient_RetriesTransientFailures(t *testing.T) {
	client := testClient(t, 3)

	var attempts int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)

			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"recovered"}`))
	}))
	defer server.Close()

	out := make(map[string]string)

	err := client.FetchJSON(context.Background(), http.MethodGet, server.URL, nil, &out)
	assert.NoError(t, err)
	assert.Equal(t, "recovered", out["status"])
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestClient_ExhaustsRetryBudget(t *testing.T) {
	client := testClient(t, 2)

	var attempts int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	err := client.FetchJSON(context.Background(), http.MethodGet, server.URL, nil, &map[string]string{})
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts), "expected maxRetries+1 attempts")
}

func TestClient_DoesNotRetryPermanentErrors(t *testing.T) {
	client := testClient(t, 3)

	var attempts int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	err := client.FetchJSON(context.Background(), http.MethodGet, server.URL, nil, &map[string]string{})

	permanent := new(PermanentError)
	assert.ErrorAs(t, err, &permanent)
	assert.Equal(t, http.StatusNotFound, permanent.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts), "4xx other than 429 must not consume retry budget")
}

func TestClient_RejectsNonJSONResponses(t *testing.T) {
	client := testClient(t, 0)

	t.Run("wrong content type", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html")
			w.Write([]byte("<html></html>"))
		}))
		defer server.Close()

		err := client.FetchJSON(context.Background(), http.MethodGet, server.URL, nil, &map[string]string{})
		assert.ErrorIs(t, err, ErrNonJSONResponse)
	})

	t.Run("malformed payload", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"broken`))
		}))
		defer server.Close()

		err := client.FetchJSON(context.Background(), http.MethodGet, server.URL, nil, &map[string]string{})
		assert.ErrorIs(t, err, ErrNonJSONResponse)
	})
}

func TestBackoffPolicy(t *testing.T) {
	min := 100 * time.Millisecond
	max := 30 * time.Second

	t.Run("grows exponentially with jitter", func(t *testing.T) {
		for attempt := 0; attempt < 4; attempt++ {
			delay := backoffPolicy(min, max, attempt, nil)

			base := min << uint(attempt)
			ceiling := base + base/10

			assert.GreaterOrEqual(t, delay, base, "attempt %d", attempt)
			assert.LessOrEqual(t, delay, ceiling, "attempt %d", attempt)
		}
	})

	t.Run("caps the exponent", func(t *testing.T) {
		delay := backoffPolicy(time.Millisecond, time.Hour, 50, nil)

		capped := time.Millisecond << maxBackoffExponent
		assert.LessOrEqual(t, delay, capped+capped/10)
	})

	t.Run("caps at max", func(t *testing.T) {
		delay := backoffPolicy(time.Second, 30*time.Second, 10, nil)
		assert.LessOrEqual(t, delay, 30*time.Second)
	})

	t.Run("honors retry-after on 429", func(t *testing.T) {
		resp := &http.Response{
			StatusCode: http.StatusTooManyRequests,
			Header:     http.Header{"Retry-After": []string{"7"}},
		}

		delay := backoffPolicy(min, max, 0, resp)
		assert.Equal(t, 7*time.Second, delay)
	})

	t.Run("retry-after capped at max", func(t *testing.T) {
		resp := &http.Response{
			StatusCode: http.StatusTooManyRequests,
			Header:     http.Header{"Retry-After": []string{"3600"}},
		}

		delay := backoffPolicy(min, max, 0, resp)
		assert.Equal(t, max, delay)
	})

	t.Run("ignores malformed retry-after", func(t *testing.T) {
		resp := &http.Response{
			StatusCode: http.StatusTooManyRequests,
			Header:     http.Header{"Retry-After": []string{"later"}},
		}

		delay := backoffPolicy(min, max, 0, resp)
		assert.GreaterOrEqual(t, delay, min)
		assert.Less(t, delay, time.Second)
	})
}
