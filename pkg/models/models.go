package models

import "time"

// Chunk is a bounded, provenance-tagged slice of source text. It is the unit
// of embedding and retrieval; once written to the store it is never mutated.
type Chunk struct {
	ID          string    `json:"id"`
	Repository  string    `json:"repository"`
	Path        string    `json:"path"`
	Language    string    `json:"language"`
	Content     string    `json:"content"`
	ContentHash string    `json:"content_hash"`
	LineStart   int       `json:"line_start"`
	LineEnd     int       `json:"line_end"`
	Truncated   bool      `json:"truncated,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// RetrievalResult pairs a chunk with its similarity score for one query.
type RetrievalResult struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}

// IndexStats reports what one indexing run did.
type IndexStats struct {
	Repository    string `json:"repository"`
	FilesScanned  int    `json:"files_scanned"`
	ChunksAdded   int    `json:"chunks_added"`
	ChunksRemoved int    `json:"chunks_removed"`
	ChunksSkipped int    `json:"chunks_skipped"`
}

// Answer is the QnA response: the generated text plus the chunks that backed it.
type Answer struct {
	Answer    string            `json:"answer"`
	TopChunks []RetrievalResult `json:"top_chunks"`
}
