package embeddings

import (
	"context"
	"fmt"
	"strings"
	"time"

	"lerian-sync-engine/internal/retry"
)

// RetryableEmbeddingService wraps an EmbeddingService with retry logic.
type RetryableEmbeddingService struct {
	service EmbeddingService
	retrier *retry.Retrier
}

// NewRetryableEmbeddingService creates a new retryable embedding service.
func NewRetryableEmbeddingService(service EmbeddingService, config *retry.Config) EmbeddingService {
	if config == nil {
		config = defaultEmbeddingRetryConfig()
	}
	return &RetryableEmbeddingService{
		service: service,
		retrier: retry.New(config),
	}
}

// embeddingRetryConfig builds a retry.Config for a single embedding-service
// call shape (single chunk, batch, or health probe), all sharing the same
// retryable-error classifier.
func embeddingRetryConfig(attempts int, initial, max time.Duration, multiplier, randomize float64) *retry.Config {
	return &retry.Config{
		MaxAttempts:     attempts,
		InitialDelay:    initial,
		MaxDelay:        max,
		Multiplier:      multiplier,
		RandomizeFactor: randomize,
		RetryIf:         isRetryableEmbeddingError,
	}
}

func defaultEmbeddingRetryConfig() *retry.Config {
	return embeddingRetryConfig(3, 500*time.Millisecond, 10*time.Second, 2.0, 0.2)
}

// isRetryableEmbeddingError determines if an embedding error should be retried.
func isRetryableEmbeddingError(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())

	retryablePatterns := []string{
		"connection refused",
		"connection reset",
		"timeout",
		"temporary failure",
		"i/o timeout",
		"eof",
		"429",
		"500",
		"502",
		"503",
		"504",
		"rate limit",
		"quota exceeded",
		"overloaded",
		"temporarily unavailable",
		"server_error",
	}

	nonRetryablePatterns := []string{
		"invalid api key",
		"unauthorized",
		"forbidden",
		"insufficient_quota",
		"invalid_request_error",
		"model not found",
		"context length exceeded",
	}

	for _, pattern := range nonRetryablePatterns {
		if strings.Contains(errStr, pattern) {
			return false
		}
	}

	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	type temporary interface {
		Temporary() bool
	}
	if te, ok := err.(temporary); ok {
		return te.Temporary()
	}

	return false
}

func (r *RetryableEmbeddingService) Generate(ctx context.Context, text string) ([]float64, error) {
	var embedding []float64
	result := r.retrier.Do(ctx, func(ctx context.Context) error {
		var err error
		embedding, err = r.service.Generate(ctx, text)
		return err
	})
	if result.Err != nil {
		return nil, fmt.Errorf("generate embedding after %d attempts: %w", result.Attempts, result.Err)
	}
	return embedding, nil
}

func (r *RetryableEmbeddingService) GenerateBatch(ctx context.Context, texts []string) ([][]float64, error) {
	batchRetrier := retry.New(embeddingRetryConfig(3, time.Second, 30*time.Second, 2.0, 0.3))

	var out [][]float64
	result := batchRetrier.Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = r.service.GenerateBatch(ctx, texts)
		return err
	})
	if result.Err != nil {
		return nil, fmt.Errorf("generate batch embeddings after %d attempts: %w", result.Attempts, result.Err)
	}
	return out, nil
}

func (r *RetryableEmbeddingService) GetDimensions() int {
	return r.service.GetDimensions()
}

func (r *RetryableEmbeddingService) HealthCheck(ctx context.Context) error {
	healthRetrier := retry.New(embeddingRetryConfig(5, 200*time.Millisecond, 2*time.Second, 1.5, 0.1))
	result := healthRetrier.Do(ctx, func(ctx context.Context) error {
		return r.service.HealthCheck(ctx)
	})
	if result.Err != nil {
		return fmt.Errorf("health check failed after %d attempts: %w", result.Attempts, result.Err)
	}
	return nil
}

// RateLimitAwareRetryConfig creates a retry config that only retries rate-limit errors.
func RateLimitAwareRetryConfig() *retry.Config {
	return &retry.Config{
		MaxAttempts:     5,
		InitialDelay:    1 * time.Second,
		MaxDelay:        60 * time.Second,
		Multiplier:      2.0,
		RandomizeFactor: 0.5,
		RetryIf: func(err error) bool {
			if err == nil {
				return false
			}
			errStr := strings.ToLower(err.Error())
			return strings.Contains(errStr, "429") ||
				strings.Contains(errStr, "rate limit") ||
				strings.Contains(errStr, "quota exceeded")
		},
	}
}
