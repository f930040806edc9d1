package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"
)

// sniffWindow bounds how much of the file the dialect and header sniffers
// inspect.
const sniffWindow = 4096

// chunkCSV emits one chunk per row: the indexed text is newline-separated
// "col: value" lines over the include columns; meta columns land only in
// the chunk metadata together with the 1-based row number and the header
// flag.
func chunkCSV(content []byte, opts *CSVOptions) ([]Chunk, error) {
	text := decodeCSV(content)

	metaNames, metaIdxs, err := parseColSpec(opts.MetaCols)
	if err != nil {
		return nil, err
	}
	incNames, incIdxs, err := parseColSpec(opts.IncludeCols)
	if err != nil {
		return nil, err
	}

	reader := csv.NewReader(strings.NewReader(text))
	reader.Comma = sniffDelimiter(text)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	first, err := reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ingest: parse csv: %w", err)
	}

	hasHeader := false
	switch strings.ToLower(opts.HasHeader) {
	case "yes":
		hasHeader = true
	case "no":
		hasHeader = false
	default: // auto
		hasHeader = sniffHeader(text, reader.Comma)
	}

	var cols []string
	var pending [][]string
	if hasHeader {
		cols = make([]string, len(first))
		for i, h := range first {
			cols[i] = strings.TrimSpace(h)
		}
	} else {
		cols = make([]string, len(first))
		for i := range first {
			cols[i] = fmt.Sprintf("col_%d", i)
		}
		pending = append(pending, first)
	}

	if (len(metaNames) > 0 || len(incNames) > 0) && !hasHeader {
		return nil, fmt.Errorf("%w: CSV has no header but column names were provided; use 1-based indices or supply a header", ErrInvalidCSVOptions)
	}

	nameToIdx := make(map[string]int, len(cols))
	for i, c := range cols {
		nameToIdx[c] = i
	}

	resolve := func(names []string, idxs []int) ([]string, error) {
		var out []string
		for _, nm := range names {
			if _, ok := nameToIdx[nm]; !ok {
				return nil, fmt.Errorf("%w: CSV column %q not found in header", ErrInvalidCSVOptions, nm)
			}
			out = append(out, nm)
		}
		for _, i := range idxs {
			if i < 0 || i >= len(cols) {
				return nil, fmt.Errorf("%w: CSV column index %d out of range (1..%d)", ErrInvalidCSVOptions, i+1, len(cols))
			}
			out = append(out, cols[i])
		}
		seen := map[string]bool{}
		dedup := out[:0]
		for _, k := range out {
			if !seen[k] {
				seen[k] = true
				dedup = append(dedup, k)
			}
		}
		return dedup, nil
	}

	metaKeys, err := resolve(metaNames, metaIdxs)
	if err != nil {
		return nil, err
	}
	var includeKeys []string
	if len(incNames) > 0 || len(incIdxs) > 0 {
		includeKeys, err = resolve(incNames, incIdxs)
		if err != nil {
			return nil, err
		}
	} else {
		metaSet := map[string]bool{}
		for _, k := range metaKeys {
			metaSet[k] = true
		}
		for _, c := range cols {
			if !metaSet[c] {
				includeKeys = append(includeKeys, c)
			}
		}
	}

	var chunks []Chunk
	rowno := 0
	emit := func(row []string) {
		rowno++
		// pad/truncate to the column count
		if len(row) < len(cols) {
			padded := make([]string, len(cols))
			copy(padded, row)
			row = padded
		} else if len(row) > len(cols) {
			row = row[:len(cols)]
		}
		asMap := make(map[string]string, len(cols))
		for i, c := range cols {
			asMap[c] = row[i]
		}

		var lines []string
		for _, k := range includeKeys {
			lines = append(lines, k+": "+asMap[k])
		}
		extra := map[string]interface{}{
			"row":        rowno,
			"has_header": hasHeader,
		}
		for _, k := range metaKeys {
			extra[k] = asMap[k]
		}
		chunks = append(chunks, Chunk{
			LocalID: fmt.Sprintf("row_%d", rowno-1),
			Text:    strings.Join(lines, "\n"),
			Extra:   extra,
		})
	}

	for _, row := range pending {
		emit(row)
	}
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ingest: parse csv row: %w", err)
		}
		emit(row)
	}
	return chunks, nil
}

// decodeCSV tries UTF-8 first and falls back to Latin-1, where every byte
// maps to the code point of the same value.
func decodeCSV(content []byte) string {
	if utf8.Valid(content) {
		return string(content)
	}
	runes := make([]rune, len(content))
	for i, b := range content {
		runes[i] = rune(b)
	}
	return string(runes)
}

// parseColSpec splits a comma-separated column spec into header names and
// 0-based indices. Numeric tokens are 1-based on the wire.
func parseColSpec(spec string) ([]string, []int, error) {
	var names []string
	var idxs []int
	for _, tok := range strings.Split(spec, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		if n, err := strconv.Atoi(tok); err == nil {
			if n <= 0 {
				return nil, nil, fmt.Errorf("%w: CSV column indices are 1-based", ErrInvalidCSVOptions)
			}
			idxs = append(idxs, n-1)
			continue
		}
		names = append(names, tok)
	}
	return names, idxs, nil
}

var delimiterCandidates = []rune{',', ';', '\t', '|'}

// sniffDelimiter picks the candidate delimiter most frequent in the sniff
// window, defaulting to comma.
func sniffDelimiter(text string) rune {
	window := text
	if len(window) > sniffWindow {
		window = window[:sniffWindow]
	}
	best, bestCount := ',', 0
	for _, cand := range delimiterCandidates {
		if n := strings.Count(window, string(cand)); n > bestCount {
			best, bestCount = cand, n
		}
	}
	return best
}

// sniffHeader guesses whether the first row is a header: no first-row cell
// may look numeric, and at least one column must show a type difference
// against the data rows.
func sniffHeader(text string, comma rune) bool {
	window := text
	if len(window) > sniffWindow {
		window = window[:sniffWindow]
		if i := strings.LastIndexByte(window, '\n'); i > 0 {
			window = window[:i]
		}
	}
	r := csv.NewReader(strings.NewReader(window))
	r.Comma = comma
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	rows, err := r.ReadAll()
	if err != nil || len(rows) < 2 {
		return false
	}
	first := rows[0]
	for _, cell := range first {
		if isNumericCell(cell) {
			return false
		}
	}
	for col := range first {
		for _, row := range rows[1:] {
			if col < len(row) && isNumericCell(row[col]) {
				return true
			}
		}
	}
	return false
}

func isNumericCell(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}
