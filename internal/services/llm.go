package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"tenderzen/smart-import/internal/models"
)

// GenerationRequest is one JSON-mode completion.
type GenerationRequest struct {
	Tier        models.ModelTier
	System      string
	Prompt      string
	Temperature float32
	MaxTokens   int32
}

// Generation is the raw model output plus usage.
type Generation struct {
	Text       string
	Model      string
	TokensUsed int
}

// LLMService generates JSON documents with the model mapped to a tier.
type LLMService interface {
	GenerateJSON(ctx context.Context, req GenerationRequest) (*Generation, error)
	Model(tier models.ModelTier) string
}

// RetryConfig controls retries around an LLMService.
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
}

// ErrQuotaExceeded is returned by providers when the upstream rejects the call for rate reasons.
var ErrQuotaExceeded = errors.New("llm quota exceeded")

type retryingLLM struct {
	next    LLMService
	limiter *RateLimiter
	retry   RetryConfig
	logger  *zap.Logger
}

// NewRetryingLLM throttles calls through limiter and retries failures with exponential backoff.
func NewRetryingLLM(next LLMService, limiter *RateLimiter, retry RetryConfig, logger *zap.Logger) LLMService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = 1
	}
	if limiter == nil {
		limiter = NewRateLimiter(RateLimitConfig{})
	}
	return &retryingLLM{next: next, limiter: limiter, retry: retry, logger: logger}
}

func (r *retryingLLM) Model(tier models.ModelTier) string {
	return r.next.Model(tier)
}

func (r *retryingLLM) GenerateJSON(ctx context.Context, req GenerationRequest) (*Generation, error) {
	var lastErr error
	delay := r.retry.InitialDelay

	for attempt := 1; attempt <= r.retry.MaxAttempts; attempt++ {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}

		gen, err := r.next.GenerateJSON(ctx, req)
		if err == nil {
			return gen, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, fmt.Errorf("context cancelled: %w", ctx.Err())
		}
		if errors.Is(err, ErrQuotaExceeded) {
			r.limiter.Backoff(time.Minute)
		}
		if attempt == r.retry.MaxAttempts {
			break
		}

		r.logger.Warn("⚠️ LLM attempt failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, fmt.Errorf("context cancelled: %w", ctx.Err())
			case <-timer.C:
			}
			delay *= 2
		}
	}

	return nil, fmt.Errorf("failed after %d attempts: %w", r.retry.MaxAttempts, lastErr)
}
