package ingest

import (
	"fmt"
	"strings"
)

// Chunker defaults for plain text, overridable via preprocess config.
const (
	DefaultTxtChunkSize    = 1000
	DefaultTxtChunkOverlap = 200
)

// chunkTxt decodes UTF-8 with lossy fallback and slices on rune count with
// the configured size and overlap. Step is at least one rune so malformed
// size/overlap pairs still terminate.
func chunkTxt(content []byte, size, overlap int) []Chunk {
	if size <= 0 {
		size = DefaultTxtChunkSize
	}
	if overlap < 0 {
		overlap = DefaultTxtChunkOverlap
	}
	step := size - overlap
	if step < 1 {
		step = 1
	}

	text := strings.ToValidUTF8(string(content), "")
	runes := []rune(text)

	var chunks []Chunk
	for i, n := 0, 0; i < len(runes); i, n = i+step, n+1 {
		end := i + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, Chunk{
			LocalID: fmt.Sprintf("chunk_%d", n),
			Text:    string(runes[i:end]),
			Extra:   map[string]interface{}{"chunk": n},
		})
	}
	return chunks
}
