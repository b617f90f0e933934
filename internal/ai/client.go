package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Client provides the two external model capabilities the core depends on:
// mapping text to a fixed-dimension vector and free-form completion. The same
// client instance is used at index time and query time so embeddings always
// come from one provider.
type Client interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Complete(ctx context.Context, system, prompt string, maxTokens int) (string, error)
	Dim() int
}

// Provider is enumeration of supported AI providers
type Provider string

const (
	ProviderOpenAI   Provider = "openai"
	ProviderGroq     Provider = "groq"
	ProviderVertexAI Provider = "vertexai"
	ProviderStub     Provider = "stub"
)

// ClientConfig holds configuration for AI clients
type ClientConfig struct {
	APIKey     string
	EmbedModel string
	ChatModel  string
	Dim        int
	ProjectID  string
	Provider   Provider
	Location   string
}

// NewClient creates a new AI client based on configuration
func NewClient(config *ClientConfig) (Client, error) {
	if config == nil {
		return nil, errors.New("client config is required")
	}

	ctx := context.Background()
	switch config.Provider {
	case ProviderOpenAI:
		return NewOpenAIClient(config), nil
	case ProviderGroq:
		return NewGroqClient(config), nil
	case ProviderVertexAI:
		return NewVertexAIClient(ctx, config)
	case ProviderStub:
		return NewStubClient(config.Dim), nil
	default:
		return nil, errors.New("unsupported provider: " + string(config.Provider))
	}
}

// ErrorKind classifies a provider failure for retry decisions.
type ErrorKind string

const (
	ErrRateLimit ErrorKind = "rate_limit"
	ErrTimeout   ErrorKind = "timeout"
	ErrMalformed ErrorKind = "malformed"
	ErrOther     ErrorKind = "other"
)

// ProviderError wraps an embedding or completion failure. Rate-limit and
// timeout failures are retryable; malformed responses are not.
type ProviderError struct {
	Provider Provider
	Kind     ErrorKind
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s provider: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Retryable reports whether a second attempt could plausibly succeed.
func (e *ProviderError) Retryable() bool {
	return e.Kind == ErrRateLimit || e.Kind == ErrTimeout
}

// IsRetryable reports whether err is a provider failure worth retrying.
func IsRetryable(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Retryable()
}

// StubClient is a stub implementation of the Client interface for testing
type StubClient struct {
	dim int
}

// NewStubClient creates a new StubClient
func NewStubClient(dim int) *StubClient {
	if dim == 0 {
		dim = 8
	}
	return &StubClient{dim: dim}
}

// Embed returns a deterministic vector derived from the text so that stub
// retrieval still ranks identical queries identically.
func (s *StubClient) Embed(ctx context.Context, text string) ([]float32, error) {
	v := make([]float32, s.dim)
	for i, r := range text {
		v[i%s.dim] += float32(r%31) / 31
	}
	return v, nil
}

// Complete produces a canned answer that echoes the first prompt line.
func (s *StubClient) Complete(ctx context.Context, system, prompt string, maxTokens int) (string, error) {
	line := prompt
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	return "stub: " + strings.TrimSpace(line), nil
}

// Dim returns the embedding dimension
func (s *StubClient) Dim() int {
	return s.dim
}
