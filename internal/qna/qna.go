package qna

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/seanblong/repoagent/internal/ai"
	"github.com/seanblong/repoagent/internal/retrieve"
	"github.com/seanblong/repoagent/pkg/models"
)

const systemPrompt = "You are an expert software assistant. Answer only from the given context."

// Composer assembles a bounded prompt from retrieved chunks and asks the
// model once per call; no conversation state is kept.
type Composer struct {
	Client       ai.Client
	Retriever    *retrieve.Service
	PromptBudget int // max characters of chunk context in the prompt
	MaxTokens    int
}

func NewComposer(client ai.Client, retriever *retrieve.Service, promptBudget int) *Composer {
	if promptBudget <= 0 {
		promptBudget = 12000
	}
	return &Composer{
		Client:       client,
		Retriever:    retriever,
		PromptBudget: promptBudget,
		MaxTokens:    1024,
	}
}

// Answer retrieves context for the query and generates an answer. When the
// provider fails after one bounded retry, the retrieved chunks are still
// returned alongside a marked error answer so the caller keeps partial value.
func (c *Composer) Answer(ctx context.Context, urlOrPath, query string, topK int) (models.Answer, error) {
	results, err := c.Retriever.Retrieve(ctx, urlOrPath, query, topK)
	if err != nil {
		return models.Answer{}, err
	}

	contextText, results := c.buildContext(results)
	prompt := buildPrompt(query, contextText)

	text, err := c.complete(ctx, prompt)
	if err != nil {
		log.Error().Err(err).Str("query", query).Msg("completion failed")
		return models.Answer{
			Answer:    "ERROR: answer generation failed: " + err.Error(),
			TopChunks: results,
		}, err
	}

	return models.Answer{Answer: text, TopChunks: results}, nil
}

// complete calls the provider, retrying exactly once on a retryable failure.
func (c *Composer) complete(ctx context.Context, prompt string) (string, error) {
	text, err := c.Client.Complete(ctx, systemPrompt, prompt, c.MaxTokens)
	if err != nil && ai.IsRetryable(err) {
		log.Warn().Err(err).Msg("retrying completion once")
		text, err = c.Client.Complete(ctx, systemPrompt, prompt, c.MaxTokens)
	}
	return text, err
}

// buildContext concatenates chunk text under the character budget. Chunks
// arrive highest-score first; the first chunk that does not fit whole is cut
// at the budget and flagged, everything after it is dropped.
func (c *Composer) buildContext(results []models.RetrievalResult) (string, []models.RetrievalResult) {
	var b strings.Builder
	kept := make([]models.RetrievalResult, 0, len(results))

	for i, r := range results {
		header := fmt.Sprintf("CHUNK %d (%s lines %d-%d):\n", i+1, r.Chunk.Path, r.Chunk.LineStart, r.Chunk.LineEnd)
		remaining := c.PromptBudget - b.Len() - len(header)
		if remaining <= 0 {
			break
		}
		text := r.Chunk.Content
		if len(text) > remaining {
			text = text[:remaining]
			r.Chunk.Truncated = true
			kept = append(kept, r)
			b.WriteString(header)
			b.WriteString(text)
			break
		}
		kept = append(kept, r)
		b.WriteString(header)
		b.WriteString(text)
		b.WriteString("\n\n---\n\n")
	}

	return b.String(), kept
}

func buildPrompt(query, contextText string) string {
	return fmt.Sprintf(`I will provide you with content from a repository, and you need to answer a question about it.

Question: %s

Here is the content:
%s

Based strictly on the content above, answer clearly.
If you cannot find the answer, say:
"I cannot find the relevant information in the repository content."

Answer:`, query, contextText)
}
