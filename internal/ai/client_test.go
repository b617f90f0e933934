package ai

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func init() {
	// Suppress logs during testing
	zerolog.SetGlobalLevel(zerolog.Disabled)
}

func TestNewClient_Dispatch(t *testing.T) {
	tests := []struct {
		name     string
		config   *ClientConfig
		wantErr  bool
		wantType string
	}{
		{"nil config", nil, true, ""},
		{"stub", &ClientConfig{Provider: ProviderStub, Dim: 8}, false, "stub"},
		{"openai", &ClientConfig{Provider: ProviderOpenAI, APIKey: "k"}, false, "openai"},
		{"groq", &ClientConfig{Provider: ProviderGroq, APIKey: "k"}, false, "groq"},
		{"unsupported", &ClientConfig{Provider: Provider("cohere")}, true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClient(tt.config)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			switch tt.wantType {
			case "stub":
				if _, ok := client.(*StubClient); !ok {
					t.Errorf("got %T, want *StubClient", client)
				}
			case "openai":
				if _, ok := client.(*OpenAIClient); !ok {
					t.Errorf("got %T, want *OpenAIClient", client)
				}
			case "groq":
				if _, ok := client.(*GroqClient); !ok {
					t.Errorf("got %T, want *GroqClient", client)
				}
			}
		})
	}
}

func TestStubClient_EmbedDeterministic(t *testing.T) {
	client := NewStubClient(8)

	a, err := client.Embed(context.Background(), "same text")
	if err != nil {
		t.Fatal(err)
	}
	b, err := client.Embed(context.Background(), "same text")
	if err != nil {
		t.Fatal(err)
	}
	if len(a) != 8 {
		t.Fatalf("dim = %d, want 8", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("embedding not deterministic at %d: %v vs %v", i, a[i], b[i])
		}
	}

	c, err := client.Embed(context.Background(), "different text")
	if err != nil {
		t.Fatal(err)
	}
	same := true
	for i := range a {
		if a[i] != c[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("different texts produced identical embeddings")
	}
}

func TestStubClient_DefaultDim(t *testing.T) {
	if got := NewStubClient(0).Dim(); got != 8 {
		t.Errorf("default dim = %d, want 8", got)
	}
}

func TestGroqClient_Defaults(t *testing.T) {
	client := NewGroqClient(&ClientConfig{Provider: ProviderGroq, APIKey: "k"})
	if client.baseURL != groqBaseURL {
		t.Errorf("baseURL = %s", client.baseURL)
	}
	if client.config.ChatModel != "llama3-8b-8192" {
		t.Errorf("chat model = %s", client.config.ChatModel)
	}
	if client.Dim() != 768 {
		t.Errorf("dim = %d, want 768", client.Dim())
	}
}

func TestGroqClient_ConfigOverridesDefaults(t *testing.T) {
	client := NewGroqClient(&ClientConfig{
		Provider:   ProviderGroq,
		APIKey:     "k",
		ChatModel:  "mixtral-8x7b-32768",
		EmbedModel: "custom-embed",
		Dim:        1024,
	})
	if client.config.ChatModel != "mixtral-8x7b-32768" {
		t.Errorf("chat model = %s", client.config.ChatModel)
	}
	if client.Dim() != 1024 {
		t.Errorf("dim = %d, want 1024", client.Dim())
	}
}

func TestProviderError_Retryable(t *testing.T) {
	tests := []struct {
		kind ErrorKind
		want bool
	}{
		{ErrRateLimit, true},
		{ErrTimeout, true},
		{ErrMalformed, false},
		{ErrOther, false},
	}
	for _, tt := range tests {
		e := &ProviderError{Provider: ProviderOpenAI, Kind: tt.kind, Err: errors.New("x")}
		if e.Retryable() != tt.want {
			t.Errorf("%s retryable = %v, want %v", tt.kind, e.Retryable(), tt.want)
		}
		if IsRetryable(e) != tt.want {
			t.Errorf("IsRetryable(%s) = %v, want %v", tt.kind, IsRetryable(e), tt.want)
		}
	}
}

func TestIsRetryable_PlainError(t *testing.T) {
	if IsRetryable(errors.New("plain")) {
		t.Error("plain errors are never retryable")
	}
	if IsRetryable(nil) {
		t.Error("nil is never retryable")
	}
}

func TestProviderError_Unwrap(t *testing.T) {
	inner := errors.New("root cause")
	e := &ProviderError{Provider: ProviderGroq, Kind: ErrOther, Err: inner}
	if !errors.Is(e, inner) {
		t.Error("ProviderError must unwrap to its cause")
	}
}
