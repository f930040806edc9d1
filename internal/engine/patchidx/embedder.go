package patchidx

import (
	"hash/fnv"
	"math"
	"regexp"
	"strings"
	"unicode"
)

// Embedder generates deterministic hash-based embeddings. No network, no
// model download: token features are hashed into a fixed-size vector and
// blended with character trigram features, then L2-normalized. Semantic
// quality is reduced compared to a learned model, but similarity over
// shared vocabulary is preserved and results are stable across runs.
type Embedder struct {
	dims int
}

const (
	tokenWeight = 0.7
	ngramWeight = 0.3
	ngramSize   = 3

	// DefaultDimensions is used when the config leaves dimensions unset.
	DefaultDimensions = 256
)

var tokenPattern = regexp.MustCompile(`[a-zA-Z0-9]+`)

// stopWords are filtered before hashing; they carry no discriminative
// signal and would otherwise dominate short chunks.
var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "by": true, "for": true, "from": true, "in": true, "is": true,
	"it": true, "of": true, "on": true, "or": true, "that": true, "the": true,
	"to": true, "was": true, "were": true, "with": true,
}

// NewEmbedder creates an Embedder with the given dimensionality.
func NewEmbedder(dims int) *Embedder {
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return &Embedder{dims: dims}
}

// Dimensions returns the vector size.
func (e *Embedder) Dimensions() int { return e.dims }

// Embed converts text into a normalized feature vector. Empty or
// whitespace-only input yields the zero vector.
func (e *Embedder) Embed(text string) []float32 {
	vec := make([]float32, e.dims)
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return vec
	}

	for _, tok := range tokenize(trimmed) {
		vec[hashToIndex(tok, e.dims)] += tokenWeight
	}
	for _, ng := range extractNgrams(normalizeForNgrams(trimmed), ngramSize) {
		vec[hashToIndex(ng, e.dims)] += ngramWeight
	}

	normalize(vec)
	return vec
}

// tokenize lowercases and splits on non-alphanumeric boundaries, filtering
// stop words.
func tokenize(text string) []string {
	words := tokenPattern.FindAllString(text, -1)
	tokens := make([]string, 0, len(words))
	for _, w := range words {
		lower := strings.ToLower(w)
		if lower == "" || stopWords[lower] {
			continue
		}
		tokens = append(tokens, lower)
	}
	return tokens
}

// normalizeForNgrams keeps letters and digits, lowercased, collapsing
// everything else to single spaces.
func normalizeForNgrams(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	lastSpace := false
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
			lastSpace = false
		} else if !lastSpace {
			b.WriteByte(' ')
			lastSpace = true
		}
	}
	return b.String()
}

func extractNgrams(text string, n int) []string {
	runes := []rune(text)
	if len(runes) < n {
		return nil
	}
	grams := make([]string, 0, len(runes)-n+1)
	for i := 0; i+n <= len(runes); i++ {
		g := string(runes[i : i+n])
		if strings.Contains(g, " ") {
			continue
		}
		grams = append(grams, g)
	}
	return grams
}

func hashToIndex(s string, dims int) int {
	h := fnv.New32a()
	h.Write([]byte(s))
	return int(h.Sum32() % uint32(dims))
}

func normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
}
