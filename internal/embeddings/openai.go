package embeddings

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// OpenAIConfig configures the HTTP-based OpenAI embeddings backend.
type OpenAIConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	TimeoutSeconds int
	Dimensions     int
	CacheSize      int
	CacheTTL       time.Duration
	RateLimitRPM   int
}

// openAIService implements EmbeddingService against the OpenAI embeddings
// endpoint, fronted by the LRU cache and a token-bucket rate limiter.
type openAIService struct {
	client     *resty.Client
	model      string
	dimensions int
	cache      *EmbeddingCache
	limiter    *RateLimiter
}

// NewOpenAIService builds an EmbeddingService backed by OpenAI's HTTP API.
func NewOpenAIService(cfg OpenAIConfig) EmbeddingService {
	if cfg.Model == "" {
		cfg.Model = "text-embedding-ada-002"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.TimeoutSeconds == 0 {
		cfg.TimeoutSeconds = 60
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = 1536
	}

	client := resty.New()
	client.SetBaseURL(cfg.BaseURL)
	client.SetTimeout(time.Duration(cfg.TimeoutSeconds) * time.Second)
	client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	client.SetHeader("Content-Type", "application/json")

	rpm := cfg.RateLimitRPM
	if rpm == 0 {
		rpm = 60
	}

	svc := &openAIService{
		client:     client,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		cache:      NewEmbeddingCache(cfg.CacheSize, cfg.CacheTTL),
		limiter:    NewRateLimiter(rpm, time.Minute),
	}
	return NewRetryableEmbeddingService(svc, nil)
}

func (s *openAIService) Generate(ctx context.Context, text string) ([]float64, error) {
	out, err := s.GenerateBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (s *openAIService) GenerateBatch(ctx context.Context, texts []string) ([][]float64, error) {
	results := make([][]float64, len(texts))
	var uncached []string
	var uncachedIdx []int

	for i, t := range texts {
		if v, ok := s.cache.Get(t); ok {
			results[i] = v
			continue
		}
		uncached = append(uncached, t)
		uncachedIdx = append(uncachedIdx, i)
	}

	if len(uncached) == 0 {
		return results, nil
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	body := map[string]interface{}{"model": s.model, "input": uncached}
	resp, err := s.client.R().SetContext(ctx).SetBody(body).Post("/embeddings")
	if err != nil {
		return nil, fmt.Errorf("openai embeddings request: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("openai embeddings status %d: %s", resp.StatusCode(), resp.Body())
	}

	var parsed struct {
		Data []struct {
			Embedding []float64 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
		return nil, fmt.Errorf("parse embeddings response: %w", err)
	}

	for _, d := range parsed.Data {
		origIdx := uncachedIdx[d.Index]
		results[origIdx] = d.Embedding
		s.cache.Set(texts[origIdx], d.Embedding)
	}

	return results, nil
}

func (s *openAIService) GetDimensions() int { return s.dimensions }

func (s *openAIService) HealthCheck(ctx context.Context) error {
	_, err := s.Generate(ctx, "healthcheck")
	return err
}
