package chunk

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
)

// Chunk is one window of a file, split on line boundaries.
type Chunk struct {
	Content            string
	ContentHash        string
	LineStart, LineEnd int // 1-based, inclusive
}

// Splitter cuts file content into fixed line windows with overlap between
// consecutive windows. Windows never split a line.
type Splitter struct {
	Window  int // lines per chunk
	Overlap int // lines shared with the previous chunk
}

func NewSplitter(window, overlap int) Splitter {
	if window <= 0 {
		window = 60
	}
	if overlap < 0 || overlap >= window {
		overlap = 0
	}
	return Splitter{Window: window, Overlap: overlap}
}

// Split produces the chunks for one file. The result is deterministic: the
// same content always yields the same windows, hashes, and therefore ids.
func (s Splitter) Split(content string) []Chunk {
	content = strings.TrimRight(content, "\n")
	if content == "" {
		return nil
	}
	lines := strings.Split(content, "\n")
	stride := s.Window - s.Overlap

	var chunks []Chunk
	for start := 0; start < len(lines); start += stride {
		end := start + s.Window
		if end > len(lines) {
			end = len(lines)
		}
		text := strings.Join(lines[start:end], "\n")
		chunks = append(chunks, Chunk{
			Content:     text,
			ContentHash: HashContent(text),
			LineStart:   start + 1,
			LineEnd:     end,
		})
		if end == len(lines) {
			break
		}
	}
	return chunks
}

// HashContent returns the SHA-1 hash of the given content as a hex string.
func HashContent(s string) string {
	h := sha1.Sum([]byte(s))
	return hex.EncodeToString(h[:])
}

// ID derives the stable chunk id. Re-chunking unchanged content reproduces
// the same id, which is what makes upserts idempotent.
func ID(repository, path string, lineStart, lineEnd int, contentHash string) string {
	h := sha1.Sum([]byte(fmt.Sprintf("%s|%s|%d:%d|%s", repository, path, lineStart, lineEnd, contentHash)))
	return hex.EncodeToString(h[:])
}
