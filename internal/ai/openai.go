package ai

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const openAIBaseURL = "https://api.openai.com/v1"

type OpenAIClient struct {
	config  *ClientConfig
	http    *http.Client
	baseURL string
	name    Provider
}

func NewOpenAIClient(config *ClientConfig) *OpenAIClient {
	// Set default models if not provided
	if config.EmbedModel == "" {
		config.EmbedModel = "text-embedding-3-small"
	}
	if config.ChatModel == "" {
		config.ChatModel = "gpt-4o-mini"
	}
	if config.Dim == 0 {
		// Set default dimensions based on the embedding model
		switch config.EmbedModel {
		case "text-embedding-3-small":
			config.Dim = 1536
		case "text-embedding-3-large":
			config.Dim = 3072
		case "text-embedding-ada-002":
			config.Dim = 1536
		default:
			config.Dim = 1536
		}
	}

	// Create HTTP client with optional TLS skip verification
	transport := &http.Transport{}

	// Check for environment variable to skip TLS verification (for corporate proxies, etc.)
	if skipTLS, _ := strconv.ParseBool(os.Getenv("REPOAGENT_SKIP_TLS_VERIFY")); skipTLS {
		transport.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: true,
		}
	}

	httpClient := &http.Client{
		Timeout:   30 * time.Second,
		Transport: transport,
	}

	return &OpenAIClient{
		config:  config,
		http:    httpClient,
		baseURL: openAIBaseURL,
		name:    ProviderOpenAI,
	}
}

// Embed implements the embedding functionality
func (c *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if c.config.APIKey == "" {
		return nil, &ProviderError{Provider: c.name, Kind: ErrOther, Err: errors.New("PROVIDER_API_KEY unset")}
	}

	payload := map[string]string{
		"input": text,
		"model": c.config.EmbedModel,
	}

	b, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/embeddings", bytes.NewReader(b))
	if err != nil {
		return nil, &ProviderError{Provider: c.name, Kind: ErrOther, Err: err}
	}

	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, c.wrapTransportErr(err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close response body")
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, c.wrapStatusErr(resp)
	}

	var out struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &ProviderError{Provider: c.name, Kind: ErrMalformed, Err: err}
	}
	if len(out.Data) == 0 {
		return nil, &ProviderError{Provider: c.name, Kind: ErrMalformed, Err: errors.New("no embedding")}
	}
	return out.Data[0].Embedding, nil
}

// Complete sends one chat completion request and returns the text content.
func (c *OpenAIClient) Complete(ctx context.Context, system, prompt string, maxTokens int) (string, error) {
	if c.config.APIKey == "" {
		return "", &ProviderError{Provider: c.name, Kind: ErrOther, Err: errors.New("PROVIDER_API_KEY unset")}
	}
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	payload := map[string]any{
		"model": c.config.ChatModel,
		"messages": []map[string]string{
			{"role": "system", "content": system},
			{"role": "user", "content": prompt},
		},
		"temperature": 0.2,
		"max_tokens":  maxTokens,
	}

	var buf bytes.Buffer
	_ = json.NewEncoder(&buf).Encode(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", &buf)
	if err != nil {
		return "", &ProviderError{Provider: c.name, Kind: ErrOther, Err: err}
	}

	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", c.wrapTransportErr(err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close response body")
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", c.wrapStatusErr(resp)
	}

	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &ProviderError{Provider: c.name, Kind: ErrMalformed, Err: err}
	}
	if len(out.Choices) == 0 {
		return "", &ProviderError{Provider: c.name, Kind: ErrMalformed, Err: errors.New("no choices")}
	}

	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}

func (c *OpenAIClient) Dim() int {
	return c.config.Dim
}

// setHeaders sets common headers for OpenAI-style requests
func (c *OpenAIClient) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	if strings.HasPrefix(c.config.APIKey, "sk-proj-") && c.config.ProjectID != "" {
		req.Header.Set("OpenAI-Project", c.config.ProjectID)
	}
}

func (c *OpenAIClient) wrapTransportErr(err error) *ProviderError {
	kind := ErrOther
	if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
		kind = ErrTimeout
	}
	return &ProviderError{Provider: c.name, Kind: kind, Err: err}
}

func (c *OpenAIClient) wrapStatusErr(resp *http.Response) *ProviderError {
	var e struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&e)
	err := errors.New(resp.Status)
	if e.Error.Message != "" {
		err = errors.New(e.Error.Message)
	}
	kind := ErrOther
	if resp.StatusCode == http.StatusTooManyRequests {
		kind = ErrRateLimit
	}
	return &ProviderError{Provider: c.name, Kind: kind, Err: err}
}
