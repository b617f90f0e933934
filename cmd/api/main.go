package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/seanblong/repoagent/internal/ai"
	"github.com/seanblong/repoagent/internal/chunk"
	"github.com/seanblong/repoagent/internal/config"
	"github.com/seanblong/repoagent/internal/fetch"
	"github.com/seanblong/repoagent/internal/index"
	"github.com/seanblong/repoagent/internal/qna"
	"github.com/seanblong/repoagent/internal/retrieve"
	"github.com/seanblong/repoagent/internal/review"
	"github.com/seanblong/repoagent/internal/store"
	"github.com/spf13/pflag"
)

type qnaRequest struct {
	RepoURL string `json:"repo_url"`
	Query   string `json:"query"`
	TopK    int    `json:"top_k"`
}

type reviewRequest struct {
	RepoURL string `json:"repo_url"`
	Staged  bool   `json:"staged"`
	AutoFix bool   `json:"auto_fix"`
}

type resetRequest struct {
	RepoURL string `json:"repo_url"`
}

func main() {
	fs := pflag.NewFlagSet("repoagent-api", pflag.ExitOnError)

	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level '%s': %v", cfg.LogLevel, err)
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	logger.Info().Str("provider", cfg.Provider).Str("log_level", cfg.LogLevel).Msg("starting repoagent api")

	clientConfig, err := clientConfigFor(cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}

	ctx := context.Background()
	st, err := store.New(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer st.Close()

	client, err := ai.NewClient(clientConfig)
	if err != nil {
		log.Fatalf("Failed to create AI client: %v", err)
	}

	dim := client.Dim()
	logger.Info().Int("embedding_dim", dim).Str("embed_model", clientConfig.EmbedModel).Msg("AI client initialized")
	if err := st.Migrate(ctx, dim); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	fetcher := fetch.New(cfg.ReposDir, cfg.MaxFileBytes)
	splitter := chunk.NewSplitter(cfg.ChunkLines, cfg.ChunkOverlap)
	pipeline := index.New(st, client, fetcher, splitter)
	retriever := retrieve.NewService(client, st, pipeline, cfg.MaxTopK)
	composer := qna.NewComposer(client, retriever, cfg.PromptBudget)
	reviewer := review.NewOrchestrator(client, fetcher,
		review.DefaultChecks(cfg.Review.MaxLineLength, cfg.Review.MaxFileLines))

	callTimeout := time.Duration(cfg.ProviderTimeout) * time.Second

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })

	mux.HandleFunc("/repositories", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		repos, err := st.GetRepositories(ctx)
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		writeJSON(w, repos)
	})

	mux.HandleFunc("/qna", func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		var req qnaRequest
		if !decodeBody(w, r, &req) || !requireRepo(w, req.RepoURL) {
			return
		}
		if strings.TrimSpace(req.Query) == "" {
			http.Error(w, "query is required", http.StatusBadRequest)
			return
		}
		if req.TopK == 0 {
			req.TopK = cfg.TopK
		}

		// Indexing on a cold repository can dominate this request.
		ctx, cancel := context.WithTimeout(r.Context(), 10*callTimeout)
		defer cancel()

		ans, err := composer.Answer(ctx, req.RepoURL, req.Query, req.TopK)
		if err != nil {
			var fe *fetch.FetchError
			if errors.As(err, &fe) {
				http.Error(w, fe.Error(), http.StatusBadGateway)
				return
			}
			// Provider failure: the answer carries the error text and any
			// chunks retrieved before it, still worth returning.
			if len(ans.TopChunks) == 0 && ans.Answer == "" {
				http.Error(w, err.Error(), 500)
				return
			}
		}
		writeJSON(w, ans)
		hlog.FromRequest(r).Info().Str("path", "/qna").Str("q", req.Query).Int("k", req.TopK).Dur("dur", time.Since(start)).Msg("served")
	})

	mux.HandleFunc("/review", func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		var req reviewRequest
		if !decodeBody(w, r, &req) || !requireRepo(w, req.RepoURL) {
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 10*callTimeout)
		defer cancel()

		report, err := reviewer.Review(ctx, req.RepoURL, req.Staged, req.AutoFix)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		writeJSON(w, report)
		hlog.FromRequest(r).Info().Str("path", "/review").Bool("staged", req.Staged).Bool("auto_fix", req.AutoFix).Dur("dur", time.Since(start)).Msg("served")
	})

	mux.HandleFunc("/reset", func(w http.ResponseWriter, r *http.Request) {
		var req resetRequest
		if !decodeBody(w, r, &req) || !requireRepo(w, req.RepoURL) {
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()

		if err := pipeline.Reset(ctx, req.RepoURL); err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		writeJSON(w, map[string]string{"status": "reset " + fetch.RepositoryID(req.RepoURL) + " done"})
	})

	handler := hlog.NewHandler(logger)(
		hlog.AccessHandler(func(r *http.Request, status, size int, dur time.Duration) {
			logger.Info().Str("method", r.Method).Str("path", r.URL.Path).Int("status", status).Int("size", size).Dur("dur", dur).Msg("http")
		})(mux),
	)

	address := fmt.Sprintf(":%d", cfg.Port)
	s := &http.Server{Addr: address, Handler: handler}
	logger.Info().Str("addr", s.Addr).Msg("api server listening")
	log.Fatal(s.ListenAndServe())
}

func clientConfigFor(cfg config.Specification) (*ai.ClientConfig, error) {
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		return &ai.ClientConfig{
			APIKey:     cfg.APIKey,
			EmbedModel: cfg.EmbedModel,
			ChatModel:  cfg.ChatModel,
			Dim:        cfg.Dim,
			ProjectID:  cfg.ProjectID,
			Provider:   ai.ProviderOpenAI,
		}, nil
	case "groq":
		return &ai.ClientConfig{
			APIKey:     cfg.APIKey,
			EmbedModel: cfg.EmbedModel,
			ChatModel:  cfg.ChatModel,
			Dim:        cfg.Dim,
			Provider:   ai.ProviderGroq,
		}, nil
	case "vertexai", "google":
		return &ai.ClientConfig{
			APIKey:     cfg.APIKey,
			EmbedModel: cfg.EmbedModel,
			ChatModel:  cfg.ChatModel,
			Dim:        cfg.Dim,
			ProjectID:  cfg.ProjectID,
			Location:   cfg.Location,
			Provider:   ai.ProviderVertexAI,
		}, nil
	case "stub":
		return &ai.ClientConfig{
			Dim:      cfg.Dim,
			Provider: ai.ProviderStub,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, into any) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func requireRepo(w http.ResponseWriter, repoURL string) bool {
	if strings.TrimSpace(repoURL) == "" {
		http.Error(w, "repo_url is required", http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "failed to encode response", 500)
	}
}
