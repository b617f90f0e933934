package retrieve

import (
	"context"
	"fmt"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"
	"github.com/seanblong/repoagent/internal/ai"
	"github.com/seanblong/repoagent/internal/fetch"
	"github.com/seanblong/repoagent/internal/index"
	"github.com/seanblong/repoagent/internal/store"
	"github.com/seanblong/repoagent/pkg/models"
)

// NotIndexedError reports a retrieval against a repository with no
// collection. The service resolves it internally by indexing on demand; it
// only escapes when on-demand indexing itself produced nothing.
type NotIndexedError struct {
	Repository string
}

func (e *NotIndexedError) Error() string {
	return fmt.Sprintf("repository %s is not indexed", e.Repository)
}

// Service answers similarity queries over indexed repositories. It shares one
// ai.Client with the pipeline so query vectors always come from the same
// provider the chunks were embedded with.
type Service struct {
	Client   ai.Client
	Store    store.IndexStore
	Pipeline *index.Pipeline
	MaxTopK  int

	embedCache *gocache.Cache // query text -> []float32
}

func NewService(client ai.Client, st store.IndexStore, pipeline *index.Pipeline, maxTopK int) *Service {
	if maxTopK <= 0 {
		maxTopK = 20
	}
	return &Service{
		Client:     client,
		Store:      st,
		Pipeline:   pipeline,
		MaxTopK:    maxTopK,
		embedCache: gocache.New(5*time.Minute, 10*time.Minute),
	}
}

// Retrieve embeds the query and returns the top-k most similar chunks with
// scores and provenance. A repository without a collection is indexed first;
// the call blocks until that finishes.
func (s *Service) Retrieve(ctx context.Context, urlOrPath, query string, topK int) ([]models.RetrievalResult, error) {
	query = strings.TrimSpace(query)
	repository := fetch.RepositoryID(urlOrPath)

	if topK <= 0 {
		topK = 5
	}
	if topK > s.MaxTopK {
		topK = s.MaxTopK
	}

	has, err := s.Store.HasChunks(ctx, repository)
	if err != nil {
		return nil, err
	}
	if !has {
		log.Info().Str("repository", repository).Msg("collection absent, indexing on demand")
		if _, err := s.Pipeline.Index(ctx, urlOrPath); err != nil {
			return nil, err
		}
		has, err = s.Store.HasChunks(ctx, repository)
		if err != nil {
			return nil, err
		}
		if !has {
			return nil, &NotIndexedError{Repository: repository}
		}
	}

	vec, err := s.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	return s.Store.Query(ctx, repository, vec, topK)
}

func (s *Service) embedQuery(ctx context.Context, query string) ([]float32, error) {
	if v, ok := s.embedCache.Get(query); ok {
		return v.([]float32), nil
	}
	vec, err := s.Client.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	s.embedCache.Set(query, vec, gocache.DefaultExpiration)
	return vec, nil
}
