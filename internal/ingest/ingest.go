package ingest

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Chunk is one unit of indexing produced by a chunker: a local id scoped to
// the document, the text body, and chunker-specific extra metadata.
type Chunk struct {
	LocalID string
	Text    string
	Extra   map[string]interface{}
}

// CSVOptions control the CSV chunker. HasHeader is auto, yes or no.
type CSVOptions struct {
	HasHeader   string
	MetaCols    string
	IncludeCols string
}

// ErrInvalidCSVOptions marks client mistakes in the CSV column specs.
var ErrInvalidCSVOptions = errors.New("invalid csv options")

// ErrUnsupportedType marks file extensions no chunker accepts.
var ErrUnsupportedType = errors.New("unsupported file type")

// Preprocess dispatches a file to its chunker by extension:
// PDF one chunk per page, TXT character-count chunks, CSV one chunk per
// row. The txt chunk size and overlap come from preprocess config.
func Preprocess(filename string, content []byte, txtSize, txtOverlap int, csvOpts *CSVOptions) ([]Chunk, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	switch {
	case ext == "pdf":
		return chunkPDF(content)
	case ext == "txt":
		return chunkTxt(content, txtSize, txtOverlap), nil
	case ext == "csv":
		opts := csvOpts
		if opts == nil {
			opts = &CSVOptions{}
		}
		return chunkCSV(content, opts)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, extOrUnknown(ext))
}

func extOrUnknown(ext string) string {
	if ext == "" {
		return "unknown"
	}
	return ext
}

var nonDocidRunes = regexp.MustCompile(`[^A-Z0-9_]`)
var underscoreRuns = regexp.MustCompile(`_+`)

// DefaultDocid derives a document id from a filename: uppercase, spaces,
// dots and any rune outside [A-Z0-9_] become underscores, runs collapse,
// edges trim. An empty result falls back to a random PVDOC id.
func DefaultDocid(filename string) string {
	base := strings.ToUpper(filename)
	base = strings.NewReplacer(" ", "_", ".", "_").Replace(base)
	base = nonDocidRunes.ReplaceAllString(base, "_")
	base = underscoreRuns.ReplaceAllString(base, "_")
	base = strings.Trim(base, "_")
	if base != "" {
		return base
	}
	return "PVDOC_" + uuid.NewString()
}
