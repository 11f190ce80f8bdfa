package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tenderzen/smart-import/internal/models"
)

func TestRetryingLLM_RetriesUntilSuccess(t *testing.T) {
	next := &scriptedLLM{
		responses: []string{"", "", `{"ok": true}`},
		errs:      []error{errors.New("503 unavailable"), errors.New("timeout")},
	}
	llm := NewRetryingLLM(next, nil, RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond}, nil)

	gen, err := llm.GenerateJSON(context.Background(), GenerationRequest{Tier: models.TierStandard})

	require.NoError(t, err)
	assert.Equal(t, `{"ok": true}`, gen.Text)
	assert.Equal(t, 3, next.calls)
	assert.Equal(t, "test-pro", llm.Model(models.TierPro))
}

func TestRetryingLLM_GivesUpAfterMaxAttempts(t *testing.T) {
	last := errors.New("still broken")
	next := &scriptedLLM{errs: []error{errors.New("broken"), last}}
	llm := NewRetryingLLM(next, nil, RetryConfig{MaxAttempts: 2}, nil)

	_, err := llm.GenerateJSON(context.Background(), GenerationRequest{})

	require.ErrorIs(t, err, last)
	assert.Contains(t, err.Error(), "failed after 2 attempts")
	assert.Equal(t, 2, next.calls)
}

func TestRetryingLLM_StopsOnCancelledContext(t *testing.T) {
	next := &scriptedLLM{errs: []error{errors.New("a"), errors.New("b"), errors.New("c")}}
	llm := NewRetryingLLM(next, nil, RetryConfig{MaxAttempts: 3, InitialDelay: time.Hour}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := llm.GenerateJSON(ctx, GenerationRequest{})

	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 1, next.calls)
}

func TestRetryingLLM_QuotaErrorPausesLimiter(t *testing.T) {
	limiter := NewRateLimiter(RateLimitConfig{})
	next := &scriptedLLM{errs: []error{fmt.Errorf("429: %w", ErrQuotaExceeded)}}
	llm := NewRetryingLLM(next, limiter, RetryConfig{MaxAttempts: 1}, nil)

	_, err := llm.GenerateJSON(context.Background(), GenerationRequest{})
	require.ErrorIs(t, err, ErrQuotaExceeded)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, limiter.Wait(ctx), context.DeadlineExceeded)
}

func TestRateLimiter_UnlimitedByDefault(t *testing.T) {
	limiter := NewRateLimiter(RateLimitConfig{})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	for i := 0; i < 100; i++ {
		require.NoError(t, limiter.Wait(ctx))
	}
}
