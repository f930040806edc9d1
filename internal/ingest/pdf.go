package ingest

import (
	"bytes"
	"fmt"

	"github.com/ledongthuc/pdf"
)

// chunkPDF yields one chunk per page. Pages with no extractable text
// produce empty chunks, which the ingestion service skips during record
// assembly because the text is empty. Page extras are 0-based to line up with the local id.
func chunkPDF(content []byte) ([]Chunk, error) {
	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("ingest: read pdf: %w", err)
	}

	var chunks []Chunk
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		text := ""
		if !page.V.IsNull() {
			if extracted, err := page.GetPlainText(nil); err == nil {
				text = extracted
			}
		}
		n := i - 1
		chunks = append(chunks, Chunk{
			LocalID: fmt.Sprintf("page_%d", n),
			Text:    text,
			Extra:   map[string]interface{}{"page": n},
		})
	}
	return chunks, nil
}
