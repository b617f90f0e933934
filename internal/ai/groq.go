package ai

import (
	"net/http"
	"time"
)

const groqBaseURL = "https://api.groq.com/openai/v1"

// GroqClient talks to Groq's OpenAI-compatible API surface, so it reuses the
// OpenAI client wholesale with a different base URL and defaults.
type GroqClient struct {
	*OpenAIClient
}

func NewGroqClient(config *ClientConfig) *GroqClient {
	if config.ChatModel == "" {
		config.ChatModel = "llama3-8b-8192"
	}
	if config.EmbedModel == "" {
		config.EmbedModel = "nomic-embed-text-v1.5"
	}
	if config.Dim == 0 {
		config.Dim = 768
	}

	inner := &OpenAIClient{
		config:  config,
		http:    &http.Client{Timeout: 30 * time.Second},
		baseURL: groqBaseURL,
		name:    ProviderGroq,
	}
	return &GroqClient{OpenAIClient: inner}
}
