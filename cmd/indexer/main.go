package main

import (
	"context"
	"log"
	"os"

	"github.com/seanblong/repoagent/internal/ai"
	"github.com/seanblong/repoagent/internal/chunk"
	"github.com/seanblong/repoagent/internal/config"
	"github.com/seanblong/repoagent/internal/fetch"
	"github.com/seanblong/repoagent/internal/index"
	"github.com/seanblong/repoagent/internal/store"
	"github.com/spf13/pflag"
)

func main() {
	fs := pflag.NewFlagSet("repoagent-indexer", pflag.ExitOnError)
	repoURL := fs.String("repo", "", "Repository URL or local path to index")
	reset := fs.Bool("reset", false, "Drop the repository's collection instead of indexing")

	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	if *repoURL == "" {
		log.Println("--repo is required")
		fs.Usage()
		os.Exit(2)
	}

	var clientConfig *ai.ClientConfig
	switch cfg.Provider {
	case "openai":
		clientConfig = &ai.ClientConfig{APIKey: cfg.APIKey, EmbedModel: cfg.EmbedModel, ChatModel: cfg.ChatModel, Dim: cfg.Dim, ProjectID: cfg.ProjectID, Provider: ai.ProviderOpenAI}
	case "groq":
		clientConfig = &ai.ClientConfig{APIKey: cfg.APIKey, EmbedModel: cfg.EmbedModel, ChatModel: cfg.ChatModel, Dim: cfg.Dim, Provider: ai.ProviderGroq}
	case "vertexai", "google":
		clientConfig = &ai.ClientConfig{APIKey: cfg.APIKey, EmbedModel: cfg.EmbedModel, ChatModel: cfg.ChatModel, Dim: cfg.Dim, ProjectID: cfg.ProjectID, Location: cfg.Location, Provider: ai.ProviderVertexAI}
	case "stub":
		clientConfig = &ai.ClientConfig{Dim: cfg.Dim, Provider: ai.ProviderStub}
	default:
		log.Fatalf("unsupported provider: %s", cfg.Provider)
	}

	ctx := context.Background()

	st, err := store.New(ctx, cfg.Database)
	if err != nil {
		log.Fatal(err)
	}
	defer st.Close()

	client, err := ai.NewClient(clientConfig)
	if err != nil {
		log.Fatal(err)
	}

	if client.Dim() == 0 {
		log.Fatal("embedding dimension must be set")
	}
	if err := st.Migrate(ctx, client.Dim()); err != nil {
		log.Fatal(err)
	}

	fetcher := fetch.New(cfg.ReposDir, cfg.MaxFileBytes)
	pipeline := index.New(st, client, fetcher, chunk.NewSplitter(cfg.ChunkLines, cfg.ChunkOverlap))

	if *reset {
		if err := pipeline.Reset(ctx, *repoURL); err != nil {
			log.Fatal(err)
		}
		log.Printf("collection for %s dropped", fetch.RepositoryID(*repoURL))
		return
	}

	stats, err := pipeline.Index(ctx, *repoURL)
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("indexed %s: %d files, %d added, %d removed, %d skipped",
		stats.Repository, stats.FilesScanned, stats.ChunksAdded, stats.ChunksRemoved, stats.ChunksSkipped)
}
