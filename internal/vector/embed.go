package vector

import (
	"hash/fnv"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
	"gonum.org/v1/gonum/floats"
)

// TextEmbedder turns product text into a fixed-size vector. The hashing
// implementation below is deterministic; a model-backed embedder can be
// swapped in behind the same interface.
type TextEmbedder interface {
	EmbedText(text string) []float64
	Dimension() int
}

// FeatureHasher embeds text by hashing normalized tokens into dimension
// buckets with a sign bit, then L2-normalizing. Identical input always yields
// the identical vector, so upserts stay idempotent across processes.
type FeatureHasher struct {
	dim   int
	lower cases.Caser
}

func NewFeatureHasher(dimension int) *FeatureHasher {
	if dimension <= 0 {
		dimension = 512
	}
	return &FeatureHasher{
		dim:   dimension,
		lower: cases.Lower(language.Und),
	}
}

func (h *FeatureHasher) Dimension() int { return h.dim }

func (h *FeatureHasher) EmbedText(text string) []float64 {
	vec := make([]float64, h.dim)

	for _, token := range h.tokenize(text) {
		hash := fnv.New64a()
		hash.Write([]byte(token))
		sum := hash.Sum64()

		bucket := int(sum % uint64(h.dim))
		if sum&(1<<63) != 0 {
			vec[bucket] -= 1
		} else {
			vec[bucket] += 1
		}
	}

	if n := floats.Norm(vec, 2); n > 0 {
		floats.Scale(1/n, vec)
	}
	return vec
}

// tokenize lowercases and NFC-normalizes the input, then splits on anything
// that is not a letter or digit.
func (h *FeatureHasher) tokenize(text string) []string {
	normalized := norm.NFC.String(h.lower.String(text))
	return strings.FieldsFunc(normalized, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
