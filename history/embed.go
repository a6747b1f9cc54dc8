package history

import (
	"hash/fnv"
	"math"
	"strings"
)

// DefaultDimensions is the embedding size used when none is configured.
const DefaultDimensions = 128

// Embedder maps a command to a fixed-size vector by hashing its character
// trigrams and whitespace-separated words into buckets. Similar commands
// share trigrams, so cosine distance between vectors tracks textual overlap.
type Embedder struct {
	dims int
}

// NewEmbedder creates an embedder producing vectors of dims elements.
func NewEmbedder(dims int) *Embedder {
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return &Embedder{dims: dims}
}

// Dimensions returns the vector size.
func (e *Embedder) Dimensions() int { return e.dims }

// Embed returns the L2-normalized vector for text, or false when text has
// no content to embed.
func (e *Embedder) Embed(text string) ([]float32, bool) {
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return nil, false
	}
	vec := make([]float32, e.dims)

	padded := " " + text + " "
	runes := []rune(padded)
	for i := 0; i+3 <= len(runes); i++ {
		vec[e.bucket(string(runes[i:i+3]))] += 1
	}
	// Whole words weigh more than trigrams so the command name dominates.
	for _, w := range strings.Fields(text) {
		vec[e.bucket("w:"+w)] += 2
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return nil, false
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec, true
}

func (e *Embedder) bucket(s string) int {
	h := fnv.New32a()
	h.Write([]byte(s))
	return int(h.Sum32() % uint32(e.dims))
}
