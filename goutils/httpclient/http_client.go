package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	log "github.com/sirupsen/logrus"

	"bridge-aggregator/goutils/ratelimiter"
	"bridge-aggregator/goutils/settings"
)

const (
	// exponent is capped so the computed delay cannot overflow
	maxBackoffExponent = 10

	jitterFraction = 0.1
)

var (
	ErrRetriesExhausted = errors.New("retries exhausted")
	ErrNonJSONResponse  = errors.New("response is not json")
)

// PermanentError marks upstream failures that must not be retried:
// 4xx responses other than 429.
type PermanentError struct {
	StatusCode int
	URL        string
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent upstream error: status %d from %s", e.StatusCode, e.URL)
}

// Client issues JSON HTTP calls through a shared token bucket and retries
// transient failures (429, 5xx, network errors) with exponential backoff and
// jitter. Provider Retry-After hints on 429 override the computed delay.
type Client struct {
	retryable *retryablehttp.Client
	limiter   *ratelimiter.TokenBucket
}

// NewClient builds the resilient client from settings. Every attempt of every
// logical request, retries included, is scheduled through the limiter so
// retry storms never burst past the provider's rate ceiling.
func NewClient(settingsObj *settings.SettingsObj, limiter *ratelimiter.TokenBucket) *Client {
	transport := &http.Transport{
		MaxIdleConns:        settingsObj.HttpClient.MaxIdleConns,
		MaxConnsPerHost:     settingsObj.HttpClient.MaxConnsPerHost,
		MaxIdleConnsPerHost: settingsObj.HttpClient.MaxIdleConnsPerHost,
		IdleConnTimeout:     time.Duration(settingsObj.HttpClient.IdleConnTimeout) * time.Second,
	}

	rawHTTPClient := &http.Client{
		Transport: transport,
		Timeout:   time.Duration(settingsObj.Provider.TimeoutSecs) * time.Second,
	}

	baseDelay := time.Duration(settingsObj.Retry.BaseDelayMs) * time.Millisecond
	maxBackoff := time.Duration(settingsObj.Retry.MaxBackoffMs) * time.Millisecond

	retryableHTTPClient := retryablehttp.NewClient()
	retryableHTTPClient.HTTPClient = rawHTTPClient
	retryableHTTPClient.RetryMax = settingsObj.Retry.MaxRetries
	retryableHTTPClient.RetryWaitMin = baseDelay
	retryableHTTPClient.RetryWaitMax = maxBackoff
	retryableHTTPClient.Logger = nil
	retryableHTTPClient.CheckRetry = checkRetry
	retryableHTTPClient.Backoff = backoffPolicy

	// the limiter wait happens before each attempt, outside the per-attempt
	// timeout window
	retryableHTTPClient.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, attempt int) {
		if attempt > 0 {
			log.WithField("url", req.URL.String()).WithField("attempt", attempt).Debug("retrying provider request")
		}

		if err := limiter.Acquire(req.Context()); err != nil {
			log.WithError(err).Debug("rate limiter wait aborted")
		}
	}

	return &Client{
		retryable: retryableHTTPClient,
		limiter:   limiter,
	}
}

// FetchJSON performs an HTTP call and decodes the JSON response into out.
// body may be nil for GET requests.
func (c *Client) FetchJSON(ctx context.Context, method, url string, body interface{}, out interface{}) error {
	var payload io.Reader

	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}

		payload = bytes.NewBuffer(encoded)
	}

	req, err := retryablehttp.NewRequest(method, url, payload)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req = req.WithContext(ctx)
	req.Header.Set("Accept", "application/json")

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.retryable.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRetriesExhausted, err)
	}

	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.WithError(err).Error("failed to close response body")
		}
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// retryable statuses landing here mean the retry budget ran out
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return fmt.Errorf("%w: status %d from %s", ErrRetriesExhausted, resp.StatusCode, url)
		}

		return &PermanentError{StatusCode: resp.StatusCode, URL: url}
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(contentType, "application/json") {
		return fmt.Errorf("%w: content type %q from %s", ErrNonJSONResponse, contentType, url)
	}

	if err = json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%w: malformed payload from %s: %v", ErrNonJSONResponse, url, err)
	}

	return nil
}

// checkRetry retries network errors, 429 and 5xx. Everything else is final.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	if err != nil {
		return true, nil
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return true, nil
	}

	return false, nil
}

// backoffPolicy computes min * 2^attempt (exponent capped) plus up to 10%
// jitter, capped at max. A Retry-After hint on 429 wins over the computation.
func backoffPolicy(min, max time.Duration, attemptNum int, resp *http.Response) time.Duration {
	if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
		if hinted, ok := parseRetryAfter(resp.Header.Get("Retry-After")); ok {
			if hinted > max {
				return max
			}

			return hinted
		}
	}

	exponent := attemptNum
	if exponent > maxBackoffExponent {
		exponent = maxBackoffExponent
	}

	delay := float64(min) * math.Pow(2, float64(exponent))
	delay += rand.Float64() * jitterFraction * delay

	if delay > float64(max) {
		return max
	}

	return time.Duration(delay)
}

func parseRetryAfter(header string) (time.Duration, bool) {
	if header == "" {
		return 0, false
	}

	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return 0, false
	}

	return time.Duration(seconds) * time.Second, true
}
