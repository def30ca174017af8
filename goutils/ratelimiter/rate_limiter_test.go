package ratelimiter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewTokenBucket(t *testing.T) {
	t.Run("rejects non-positive capacity", func(t *testing.T) {
		_, err := NewTokenBucket(0, 1)
		assert.ErrorIs(t, err, ErrInvalidRate)
	})

	t.Run("rejects non-positive rate", func(t *testing.T) {
		_, err := NewTokenBucket(1, 0)
		assert.ErrorIs(t, err, ErrInvalidRate)
	})
}

func TestTokenBucket_AcquireConsumesTokens(t *testing.T) {
	bucket, err := NewTokenBucket(3, 1)
	assert.NoError(t, err)

	start := time.Now()

	for i := 0; i < 3; i++ {
		assert.NoError(t, bucket.Acquire(context.Background()))
	}

	assert.Less(t, time.Since(start), 100*time.Millisecond, "acquiring within capacity must not block")
	assert.Less(t, bucket.Available(), 1.0)
}

func TestTokenBucket_WaitsWhenDrained(t *testing.T) {
	bucket, err := NewTokenBucket(1, 10) // refill interval 100ms
	assert.NoError(t, err)

	assert.NoError(t, bucket.Acquire(context.Background()))

	start := time.Now()
	assert.NoError(t, bucket.Acquire(context.Background()))
	waited := time.Since(start)

	assert.GreaterOrEqual(t, waited, 90*time.Millisecond, "drained bucket must wait one refill interval")
}

func TestTokenBucket_NoBurstAfterWait(t *testing.T) {
	bucket, err := NewTokenBucket(5, 10)
	assert.NoError(t, err)

	for i := 0; i < 5; i++ {
		assert.NoError(t, bucket.Acquire(context.Background()))
	}

	// this acquisition waits and the bucket restarts drained
	assert.NoError(t, bucket.Acquire(context.Background()))

	assert.Less(t, bucket.Available(), 1.0, "the wait must not be credited back as tokens")
}

func TestTokenBucket_RefillCappedAtCapacity(t *testing.T) {
	bucket, err := NewTokenBucket(2, 1000)
	assert.NoError(t, err)

	time.Sleep(50 * time.Millisecond)

	assert.LessOrEqual(t, bucket.Available(), 2.0)
}

func TestTokenBucket_AcquireHonorsContext(t *testing.T) {
	bucket, err := NewTokenBucket(1, 0.1) // refill interval 10s
	assert.NoError(t, err)

	assert.NoError(t, bucket.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	err = bucket.Acquire(ctx)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}
