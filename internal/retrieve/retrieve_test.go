package retrieve

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/seanblong/repoagent/internal/ai"
	"github.com/seanblong/repoagent/internal/chunk"
	"github.com/seanblong/repoagent/internal/fetch"
	"github.com/seanblong/repoagent/internal/index"
	"github.com/seanblong/repoagent/internal/store"
	"github.com/seanblong/repoagent/pkg/models"
)

func init() {
	// Suppress logs during testing
	zerolog.SetGlobalLevel(zerolog.Disabled)
}

// memStore implements store.IndexStore in memory for retrieval tests.
type memStore struct {
	mu     sync.Mutex
	chunks map[string]models.Chunk
	order  []string
}

func newMemStore() *memStore {
	return &memStore{chunks: map[string]models.Chunk{}}
}

func (m *memStore) Migrate(ctx context.Context, dim int) error { return nil }

func (m *memStore) UpsertChunk(ctx context.Context, c models.Chunk, vec []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.chunks[c.ID]; !ok {
		m.order = append(m.order, c.ID)
	}
	m.chunks[c.ID] = c
	return nil
}

func (m *memStore) Query(ctx context.Context, repository string, vec []float32, k int) ([]models.RetrievalResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.RetrievalResult
	for _, id := range m.order {
		c, ok := m.chunks[id]
		if !ok || c.Repository != repository {
			continue
		}
		out = append(out, models.RetrievalResult{Chunk: c, Score: 1})
		if len(out) == k {
			break
		}
	}
	return out, nil
}

func (m *memStore) DeleteChunks(ctx context.Context, repository string, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.chunks, id)
	}
	return nil
}

func (m *memStore) DropRepository(ctx context.Context, repository string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, c := range m.chunks {
		if c.Repository == repository {
			delete(m.chunks, id)
		}
	}
	return nil
}

func (m *memStore) ListChunkRefs(ctx context.Context, repository string) ([]store.ChunkRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var refs []store.ChunkRef
	for id, c := range m.chunks {
		if c.Repository == repository {
			refs = append(refs, store.ChunkRef{ID: id, Path: c.Path, ContentHash: c.ContentHash})
		}
	}
	return refs, nil
}

func (m *memStore) HasChunks(ctx context.Context, repository string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.chunks {
		if c.Repository == repository {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) GetRepositories(ctx context.Context) ([]string, error) {
	return nil, nil
}

// countingClient records how often Embed is called, for cache assertions.
type countingClient struct {
	*ai.StubClient
	mu     sync.Mutex
	embeds int
}

func (c *countingClient) Embed(ctx context.Context, text string) ([]float32, error) {
	c.mu.Lock()
	c.embeds++
	c.mu.Unlock()
	return c.StubClient.Embed(ctx, text)
}

func seedStore(t *testing.T, st *memStore, repository string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		c := models.Chunk{
			ID:         fmt.Sprintf("chunk-%d", i),
			Repository: repository,
			Path:       "main.go",
			Content:    fmt.Sprintf("line %d", i),
			LineStart:  i + 1,
			LineEnd:    i + 1,
		}
		if err := st.UpsertChunk(context.Background(), c, nil); err != nil {
			t.Fatal(err)
		}
	}
}

func newTestService(st store.IndexStore, client ai.Client, maxTopK int) *Service {
	pipeline := index.New(st, client, fetch.New("", 0), chunk.NewSplitter(20, 5))
	return NewService(client, st, pipeline, maxTopK)
}

func TestRetrieve_TopKClamping(t *testing.T) {
	repo := "/tmp/clamp-repo"
	st := newMemStore()
	seedStore(t, st, fetch.RepositoryID(repo), 30)
	svc := newTestService(st, ai.NewStubClient(4), 10)

	tests := []struct {
		name string
		topK int
		want int
	}{
		{"zero falls back to default", 0, 5},
		{"negative falls back to default", -3, 5},
		{"within bounds", 7, 7},
		{"above maximum is clamped", 50, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := svc.Retrieve(context.Background(), repo, "query", tt.topK)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(results) != tt.want {
				t.Errorf("got %d results, want %d", len(results), tt.want)
			}
		})
	}
}

func TestRetrieve_IndexesOnDemand(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("hello world\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	st := newMemStore()
	svc := newTestService(st, ai.NewStubClient(4), 10)

	results, err := svc.Retrieve(context.Background(), root, "hello", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected on-demand indexing to produce results")
	}
	if has, _ := st.HasChunks(context.Background(), fetch.RepositoryID(root)); !has {
		t.Error("on-demand indexing did not populate the store")
	}
}

func TestRetrieve_EmptyRepositoryReportsNotIndexed(t *testing.T) {
	root := t.TempDir() // no files, nothing to index

	st := newMemStore()
	svc := newTestService(st, ai.NewStubClient(4), 10)

	_, err := svc.Retrieve(context.Background(), root, "anything", 5)
	var nie *NotIndexedError
	if !errors.As(err, &nie) {
		t.Fatalf("expected NotIndexedError, got %v", err)
	}
	if nie.Repository != fetch.RepositoryID(root) {
		t.Errorf("error names repository %q, want %q", nie.Repository, fetch.RepositoryID(root))
	}
}

func TestRetrieve_FetchFailurePropagates(t *testing.T) {
	st := newMemStore()
	svc := newTestService(st, ai.NewStubClient(4), 10)

	_, err := svc.Retrieve(context.Background(), "/no/such/path", "query", 5)
	var fe *fetch.FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FetchError, got %v", err)
	}
}

func TestRetrieve_OrderingIsStable(t *testing.T) {
	repo := "/tmp/stable-repo"
	st := newMemStore()
	seedStore(t, st, fetch.RepositoryID(repo), 10)
	svc := newTestService(st, ai.NewStubClient(4), 20)

	first, err := svc.Retrieve(context.Background(), repo, "the same query", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := svc.Retrieve(context.Background(), repo, "the same query", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(first) != len(second) {
		t.Fatalf("result counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Chunk.ID != second[i].Chunk.ID {
			t.Errorf("position %d: %s vs %s, ordering must not vary between calls",
				i, first[i].Chunk.ID, second[i].Chunk.ID)
		}
	}
}

func TestRetrieve_QueryEmbeddingCached(t *testing.T) {
	repo := "/tmp/cache-repo"
	st := newMemStore()
	seedStore(t, st, fetch.RepositoryID(repo), 3)

	client := &countingClient{StubClient: ai.NewStubClient(4)}
	svc := newTestService(st, client, 10)

	for i := 0; i < 3; i++ {
		if _, err := svc.Retrieve(context.Background(), repo, "same question", 2); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if client.embeds != 1 {
		t.Errorf("embed called %d times, want 1 (cached after first)", client.embeds)
	}

	if _, err := svc.Retrieve(context.Background(), repo, "different question", 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.embeds != 2 {
		t.Errorf("embed called %d times after new query, want 2", client.embeds)
	}
}
