package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/library-reservation/internal/repository"
)

func TestRetrySucceedsAfterConflicts(t *testing.T) {
	attempts := 0
	err := RetryWithExponentialBackoff(context.Background(), func(context.Context) error {
		attempts++
		if attempts < 3 {
			return fmt.Errorf("%w: Deadlock found", repository.ErrTxConflict)
		}
		return nil
	}, WithBaseDelay(time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryFailsFastOnPermanentErrors(t *testing.T) {
	attempts := 0
	boom := errors.New("boom")
	err := RetryWithExponentialBackoff(context.Background(), func(context.Context) error {
		attempts++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, attempts)
}

func TestRetryStopsAtMaxAttempts(t *testing.T) {
	attempts := 0
	err := RetryWithExponentialBackoff(context.Background(), func(context.Context) error {
		attempts++
		return repository.ErrTxConflict
	}, WithBaseDelay(0), WithJitterFactor(0))
	assert.ErrorIs(t, err, repository.ErrTxConflict)
	assert.Equal(t, defaultMaxAttempts, attempts)
}

func TestRetryHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := RetryWithExponentialBackoff(ctx, func(context.Context) error {
		attempts++
		cancel()
		return repository.ErrTxConflict
	}, WithBaseDelay(time.Hour))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func TestRetryOptionValidation(t *testing.T) {
	noop := func(context.Context) error { return nil }
	assert.ErrorIs(t, RetryWithExponentialBackoff(context.Background(), noop, WithMaxAttempts(0)), ErrInvalidMaxAttempts)
	assert.ErrorIs(t, RetryWithExponentialBackoff(context.Background(), noop, WithBaseDelay(-time.Second)), ErrNegativeBaseDelay)
	assert.ErrorIs(t, RetryWithExponentialBackoff(context.Background(), noop, WithJitterFactor(1.5)), ErrInvalidJitterFactor)
}

func TestTranslate(t *testing.T) {
	assert.NoError(t, translate(nil, "book"))
	assert.ErrorIs(t, translate(repository.ErrNotFound, "book"), ErrNotFound)
	assert.EqualError(t, translate(repository.ErrNotFound, "book"), "not found: book not found")
	assert.ErrorIs(t, translate(repository.ErrDuplicate, "genre"), ErrConflict)
	assert.ErrorIs(t, translate(repository.ErrConflict, "genre"), ErrConflict)
	assert.ErrorIs(t, translate(repository.ErrTxConflict, "reservation"), ErrConflict)

	already := fmt.Errorf("%w: cannot confirm", ErrInvalidState)
	assert.Same(t, already, translate(already, "reservation"))

	other := errors.New("disk full")
	assert.Same(t, other, translate(other, "book"))
}
