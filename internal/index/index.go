package index

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog/log"
	"github.com/seanblong/repoagent/internal/ai"
	"github.com/seanblong/repoagent/internal/chunk"
	"github.com/seanblong/repoagent/internal/fetch"
	"github.com/seanblong/repoagent/internal/store"
	"github.com/seanblong/repoagent/pkg/models"
)

// Pipeline drives one repository from source to index: fetch, enumerate,
// chunk, embed, upsert, reconcile. Runs for different repositories may
// proceed in parallel; runs for the same repository serialize on a
// per-repository lock held from fetch through reconciliation, so clones,
// upserts, and reconciliation deletes never interleave.
type Pipeline struct {
	Store    store.IndexStore
	Client   ai.Client
	Fetcher  *fetch.Fetcher
	Splitter chunk.Splitter

	locks sync.Map // repository id -> *sync.Mutex
}

func New(st store.IndexStore, client ai.Client, fetcher *fetch.Fetcher, splitter chunk.Splitter) *Pipeline {
	return &Pipeline{
		Store:    st,
		Client:   client,
		Fetcher:  fetcher,
		Splitter: splitter,
	}
}

// workItem is one chunk that still needs an embedding.
type workItem struct {
	chunk models.Chunk
}

// fileWork is everything derived from one enumerated file.
type fileWork struct {
	desired map[string]models.Chunk // chunk id -> chunk
}

// Index brings the repository's collection in line with its current source.
// Unchanged files are skipped entirely, stale entries are deleted, and a
// chunk whose embedding keeps failing is recorded as skipped rather than
// failing the run.
func (p *Pipeline) Index(ctx context.Context, urlOrPath string) (models.IndexStats, error) {
	// The lock must cover the fetch too: a clone creates the destination
	// directory before it finishes, and a concurrent run must not mistake the
	// half-written tree for a cached copy.
	repository := fetch.RepositoryID(urlOrPath)
	mu := p.repoLock(repository)
	mu.Lock()
	defer mu.Unlock()

	wc, err := p.Fetcher.Fetch(ctx, urlOrPath)
	if err != nil {
		return models.IndexStats{}, err
	}

	stats := models.IndexStats{Repository: wc.Repository}

	existing, err := p.Store.ListChunkRefs(ctx, wc.Repository)
	if err != nil {
		return stats, err
	}
	existingIDs := make(map[string]struct{}, len(existing))
	for _, ref := range existing {
		existingIDs[ref.ID] = struct{}{}
	}

	files, err := p.Fetcher.ListFiles(wc.Root)
	if err != nil {
		return stats, err
	}
	stats.FilesScanned = len(files)

	desired := make(map[string]struct{})
	var pending []models.Chunk
	for _, f := range files {
		work, err := p.chunkFile(wc.Repository, f)
		if err != nil {
			log.Warn().Err(err).Str("path", f.RelPath).Msg("skipping unreadable file")
			continue
		}
		for id, c := range work.desired {
			desired[id] = struct{}{}
			if _, ok := existingIDs[id]; ok {
				// Same id means same path, span, and content hash: nothing to
				// re-embed.
				continue
			}
			pending = append(pending, c)
		}
	}

	added, skipped := p.embedAndUpsert(ctx, pending)
	stats.ChunksAdded = added
	stats.ChunksSkipped = skipped

	// Reconciliation: anything live in the collection that no current chunk
	// produces is stale (deleted file or rewritten content).
	var stale []string
	for _, ref := range existing {
		if _, ok := desired[ref.ID]; !ok {
			stale = append(stale, ref.ID)
		}
	}
	if len(stale) > 0 {
		if err := p.Store.DeleteChunks(ctx, wc.Repository, stale); err != nil {
			return stats, err
		}
		stats.ChunksRemoved = len(stale)
	}

	log.Info().Str("repository", wc.Repository).
		Int("files", stats.FilesScanned).
		Int("added", stats.ChunksAdded).
		Int("removed", stats.ChunksRemoved).
		Int("skipped", stats.ChunksSkipped).
		Msg("index run complete")
	return stats, nil
}

func (p *Pipeline) chunkFile(repository string, f fetch.File) (fileWork, error) {
	content, err := p.Fetcher.ReadFile(f.Path)
	if err != nil {
		return fileWork{}, err
	}
	work := fileWork{desired: make(map[string]models.Chunk)}
	for _, ch := range p.Splitter.Split(content) {
		id := chunk.ID(repository, f.RelPath, ch.LineStart, ch.LineEnd, ch.ContentHash)
		work.desired[id] = models.Chunk{
			ID:          id,
			Repository:  repository,
			Path:        f.RelPath,
			Language:    f.Language,
			Content:     ch.Content,
			ContentHash: ch.ContentHash,
			LineStart:   ch.LineStart,
			LineEnd:     ch.LineEnd,
		}
	}
	return work, nil
}

// embedAndUpsert fans pending chunks out to a small worker pool. Each chunk is
// embedded with bounded backoff and written in a single upsert, so a canceled
// run never leaves a half-written entry.
func (p *Pipeline) embedAndUpsert(ctx context.Context, pending []models.Chunk) (added, skipped int) {
	if len(pending) == 0 {
		return 0, 0
	}

	numWorkers := runtime.NumCPU()
	if numWorkers > 8 {
		numWorkers = 8 // cap to avoid overwhelming the provider
	}
	if numWorkers > len(pending) {
		numWorkers = len(pending)
	}

	workChan := make(chan workItem, numWorkers*2)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range workChan {
				if err := p.processChunk(ctx, item.chunk); err != nil {
					log.Warn().Err(err).
						Str("path", item.chunk.Path).
						Int("line_start", item.chunk.LineStart).
						Msg("chunk skipped after retries")
					mu.Lock()
					skipped++
					mu.Unlock()
					continue
				}
				mu.Lock()
				added++
				mu.Unlock()
			}
		}()
	}

	for _, c := range pending {
		select {
		case workChan <- workItem{chunk: c}:
		case <-ctx.Done():
			close(workChan)
			wg.Wait()
			return added, skipped
		}
	}
	close(workChan)
	wg.Wait()
	return added, skipped
}

func (p *Pipeline) processChunk(ctx context.Context, c models.Chunk) error {
	var vec []float32
	err := retry.Do(
		func() error {
			var err error
			vec, err = p.Client.Embed(ctx, c.Content)
			return err
		},
		retry.Attempts(3),
		retry.Delay(200*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)
	if err != nil {
		return err
	}
	return p.Store.UpsertChunk(ctx, c, vec)
}

func (p *Pipeline) repoLock(repository string) *sync.Mutex {
	v, _ := p.locks.LoadOrStore(repository, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// Reset drops the repository's collection. Safe to call when nothing was
// ever indexed.
func (p *Pipeline) Reset(ctx context.Context, urlOrPath string) error {
	repository := fetch.RepositoryID(urlOrPath)
	mu := p.repoLock(repository)
	mu.Lock()
	defer mu.Unlock()
	return p.Store.DropRepository(ctx, repository)
}
