package ratelimiter

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

var ErrInvalidRate = errors.New("rate limiter requires positive capacity and refill rate")

// TokenBucket throttles outbound provider calls. Tokens are replenished lazily
// on each acquisition based on elapsed wall-clock time, capped at the bucket
// capacity. A caller that finds the bucket empty waits one refill interval and
// the bucket is then treated as freshly drained, so contention never produces
// a burst once the wait is over.
type TokenBucket struct {
	mu         sync.Mutex
	maxTokens  float64
	refillRate float64
	tokens     float64
	lastRefill time.Time
}

func NewTokenBucket(maxTokens int, tokensPerSecond float64) (*TokenBucket, error) {
	if maxTokens <= 0 || tokensPerSecond <= 0 {
		return nil, ErrInvalidRate
	}

	return &TokenBucket{
		maxTokens:  float64(maxTokens),
		refillRate: tokensPerSecond,
		tokens:     float64(maxTokens),
		lastRefill: time.Now(),
	}, nil
}

// Acquire blocks until a token is consumed or the context is cancelled.
func (b *TokenBucket) Acquire(ctx context.Context) error {
	b.mu.Lock()
	b.refill(time.Now())

	if b.tokens >= 1 {
		b.tokens--
		b.mu.Unlock()

		return nil
	}

	b.mu.Unlock()

	wait := time.Duration(float64(time.Second) / b.refillRate)

	log.WithField("wait", wait).Debug("rate limiter drained, waiting for refill")

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}

	// the wait is not credited back: the bucket restarts drained
	b.mu.Lock()
	b.tokens = 0
	b.lastRefill = time.Now()
	b.mu.Unlock()

	return nil
}

// Available reports the token count after a lazy refill, for stats logging.
func (b *TokenBucket) Available() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill(time.Now())

	return b.tokens
}

func (b *TokenBucket) refill(now time.Time) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}

	b.tokens += elapsed * b.refillRate
	if b.tokens > b.maxTokens {
		b.tokens = b.maxTokens
	}

	b.lastRefill = now
}
