package qna

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/seanblong/repoagent/internal/ai"
	"github.com/seanblong/repoagent/internal/chunk"
	"github.com/seanblong/repoagent/internal/fetch"
	"github.com/seanblong/repoagent/internal/index"
	"github.com/seanblong/repoagent/internal/retrieve"
	"github.com/seanblong/repoagent/internal/store"
	"github.com/seanblong/repoagent/pkg/models"
)

func init() {
	// Suppress logs during testing
	zerolog.SetGlobalLevel(zerolog.Disabled)
}

// scriptedClient returns pre-seeded completion responses or errors in order.
type scriptedClient struct {
	*ai.StubClient
	mu        sync.Mutex
	responses []completionResult
	calls     int
	prompts   []string
}

type completionResult struct {
	text string
	err  error
}

func (c *scriptedClient) Complete(ctx context.Context, system, prompt string, maxTokens int) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prompts = append(c.prompts, prompt)
	if c.calls >= len(c.responses) {
		c.calls++
		return "", errors.New("no scripted response left")
	}
	r := c.responses[c.calls]
	c.calls++
	return r.text, r.err
}

// staticStore serves a fixed result set regardless of the query vector.
type staticStore struct {
	results []models.RetrievalResult
}

func (s *staticStore) Migrate(ctx context.Context, dim int) error { return nil }
func (s *staticStore) UpsertChunk(ctx context.Context, c models.Chunk, vec []float32) error {
	return nil
}
func (s *staticStore) Query(ctx context.Context, repository string, vec []float32, k int) ([]models.RetrievalResult, error) {
	if k > len(s.results) {
		k = len(s.results)
	}
	return s.results[:k], nil
}
func (s *staticStore) DeleteChunks(ctx context.Context, repository string, ids []string) error {
	return nil
}
func (s *staticStore) DropRepository(ctx context.Context, repository string) error { return nil }
func (s *staticStore) ListChunkRefs(ctx context.Context, repository string) ([]store.ChunkRef, error) {
	return nil, nil
}
func (s *staticStore) HasChunks(ctx context.Context, repository string) (bool, error) {
	return true, nil
}
func (s *staticStore) GetRepositories(ctx context.Context) ([]string, error) { return nil, nil }

func resultSet(contents ...string) []models.RetrievalResult {
	out := make([]models.RetrievalResult, 0, len(contents))
	for i, content := range contents {
		out = append(out, models.RetrievalResult{
			Chunk: models.Chunk{
				ID:        "id",
				Path:      "main.go",
				Content:   content,
				LineStart: 1,
				LineEnd:   10,
			},
			Score: 1 - float64(i)*0.1,
		})
	}
	return out
}

func newTestComposer(client ai.Client, st store.IndexStore, budget int) *Composer {
	pipeline := index.New(st, client, fetch.New("", 0), chunk.NewSplitter(20, 5))
	retriever := retrieve.NewService(client, st, pipeline, 20)
	return NewComposer(client, retriever, budget)
}

func TestAnswer_ReturnsTextAndChunks(t *testing.T) {
	client := &scriptedClient{
		StubClient: ai.NewStubClient(4),
		responses:  []completionResult{{text: "the handler lives in main.go"}},
	}
	st := &staticStore{results: resultSet("func main() {}", "package main")}
	composer := newTestComposer(client, st, 0)

	ans, err := composer.Answer(context.Background(), "/tmp/repo", "where is the handler?", 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ans.Answer != "the handler lives in main.go" {
		t.Errorf("answer = %q", ans.Answer)
	}
	if len(ans.TopChunks) != 2 {
		t.Errorf("got %d chunks, want 2", len(ans.TopChunks))
	}
	if len(client.prompts) != 1 {
		t.Fatalf("got %d completions, want 1", len(client.prompts))
	}
	if !strings.Contains(client.prompts[0], "where is the handler?") {
		t.Error("prompt does not carry the question")
	}
	if !strings.Contains(client.prompts[0], "CHUNK 1 (main.go lines 1-10):") {
		t.Error("prompt does not carry chunk provenance headers")
	}
}

func TestAnswer_RetriesOnceOnRetryableFailure(t *testing.T) {
	rateLimited := &ai.ProviderError{Provider: ai.ProviderOpenAI, Kind: ai.ErrRateLimit, Err: errors.New("429")}
	client := &scriptedClient{
		StubClient: ai.NewStubClient(4),
		responses: []completionResult{
			{err: rateLimited},
			{text: "second attempt answer"},
		},
	}
	st := &staticStore{results: resultSet("content")}
	composer := newTestComposer(client, st, 0)

	ans, err := composer.Answer(context.Background(), "/tmp/repo", "q", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ans.Answer != "second attempt answer" {
		t.Errorf("answer = %q", ans.Answer)
	}
	if client.calls != 2 {
		t.Errorf("completion called %d times, want 2", client.calls)
	}
}

func TestAnswer_NonRetryableFailureIsNotRetried(t *testing.T) {
	malformed := &ai.ProviderError{Provider: ai.ProviderOpenAI, Kind: ai.ErrMalformed, Err: errors.New("bad json")}
	client := &scriptedClient{
		StubClient: ai.NewStubClient(4),
		responses: []completionResult{
			{err: malformed},
			{text: "must never be reached"},
		},
	}
	st := &staticStore{results: resultSet("content")}
	composer := newTestComposer(client, st, 0)

	ans, err := composer.Answer(context.Background(), "/tmp/repo", "q", 1)
	if err == nil {
		t.Fatal("expected error")
	}
	if client.calls != 1 {
		t.Errorf("completion called %d times, want 1", client.calls)
	}
	if !strings.HasPrefix(ans.Answer, "ERROR: answer generation failed:") {
		t.Errorf("answer = %q, want marked error answer", ans.Answer)
	}
	if len(ans.TopChunks) != 1 {
		t.Error("retrieved chunks must still be returned on provider failure")
	}
}

func TestAnswer_BudgetTruncatesLowestScoredChunk(t *testing.T) {
	big := strings.Repeat("x", 200)
	client := &scriptedClient{
		StubClient: ai.NewStubClient(4),
		responses:  []completionResult{{text: "ok"}},
	}
	st := &staticStore{results: resultSet(big, big, big)}
	// Budget fits the first chunk whole, cuts into the second, drops the third.
	composer := newTestComposer(client, st, 350)

	ans, err := composer.Answer(context.Background(), "/tmp/repo", "q", 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ans.TopChunks) != 2 {
		t.Fatalf("got %d chunks, want 2 (third dropped)", len(ans.TopChunks))
	}
	if ans.TopChunks[0].Chunk.Truncated {
		t.Error("first chunk fits whole and must not be flagged")
	}
	if !ans.TopChunks[1].Chunk.Truncated {
		t.Error("second chunk was cut and must be flagged truncated")
	}
	if len(client.prompts[0]) > 350+len(buildPrompt("q", "")) {
		t.Errorf("prompt context exceeds the character budget: %d", len(client.prompts[0]))
	}
}

func TestAnswer_RetrievalErrorShortCircuits(t *testing.T) {
	client := &scriptedClient{StubClient: ai.NewStubClient(4)}
	// Empty memory-less store makes HasChunks false; invalid path fails fetch.
	st := &failingStore{}
	composer := newTestComposer(client, st, 0)

	_, err := composer.Answer(context.Background(), "/tmp/repo", "q", 1)
	if err == nil {
		t.Fatal("expected retrieval error to propagate")
	}
	if client.calls != 0 {
		t.Error("completion must not run when retrieval fails")
	}
}

// failingStore errors on every read.
type failingStore struct{ staticStore }

func (s *failingStore) HasChunks(ctx context.Context, repository string) (bool, error) {
	return false, errors.New("database unavailable")
}
