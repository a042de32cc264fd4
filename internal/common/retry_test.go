package common

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry() RetryOptions {
	opts := ConflictRetryOptions()
	opts.InitialDelay = time.Millisecond
	opts.MaxDelay = time.Millisecond
	return opts
}

func TestWithRetry(t *testing.T) {
	t.Run("retries conflicts until success", func(t *testing.T) {
		attempts := 0
		err := WithRetry(context.Background(), func() error {
			attempts++
			if attempts < 3 {
				return ErrConflict
			}
			return nil
		}, fastRetry())
		require.NoError(t, err)
		assert.Equal(t, 3, attempts)
	})

	t.Run("stops on errors that are not conflicts", func(t *testing.T) {
		attempts := 0
		boom := errors.New("boom")
		err := WithRetry(context.Background(), func() error {
			attempts++
			return boom
		}, fastRetry())
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 1, attempts)
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		attempts := 0
		err := WithRetry(context.Background(), func() error {
			attempts++
			return ErrConflict
		}, fastRetry())
		assert.ErrorIs(t, err, ErrMaxRetries)
		assert.ErrorIs(t, err, ErrConflict)
		assert.Equal(t, 5, attempts)
	})

	t.Run("non-retryable wrapper wins", func(t *testing.T) {
		attempts := 0
		err := WithRetry(context.Background(), func() error {
			attempts++
			return &RetryableError{Err: ErrConflict, Retryable: false}
		}, fastRetry())
		assert.Error(t, err)
		assert.Equal(t, 1, attempts)
	})

	t.Run("honors cancellation between attempts", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		err := WithRetry(ctx, func() error {
			cancel()
			return ErrConflict
		}, RetryOptions{MaxAttempts: 3, InitialDelay: time.Hour, Retryable: IsRetryable})
		assert.ErrorIs(t, err, context.Canceled)
	})
}
