package knowledge

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

const DefaultDimensions = 1024

// Embedder maps text to a fixed-length unit vector.
type Embedder interface {
	Dimensions() int
	Embed(text string) []float32
}

// HashingEmbedder is a feature-hashing bag of words over unigrams and
// bigrams. Vectors are L2-normalized so a dot product is cosine similarity.
type HashingEmbedder struct {
	Dims int
}

var _ Embedder = HashingEmbedder{}

// Words that appear in nearly every descriptor or request and carry no
// signal for ranking.
var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "the": true, "to": true, "of": true,
	"for": true, "in": true, "on": true, "with": true, "me": true, "my": true,
	"i": true, "it": true, "is": true, "that": true, "this": true, "please": true,
	"mcp": true, "server": true, "tool": true, "deploy": true, "run": true, "up": true,
	"set": true, "start": true, "want": true, "need": true, "can": true, "you": true,
}

func (e HashingEmbedder) Dimensions() int {
	if e.Dims <= 0 {
		return DefaultDimensions
	}
	return e.Dims
}

func (e HashingEmbedder) Embed(text string) []float32 {
	vec := make([]float32, e.Dimensions())
	tokens := Tokenize(text)
	for i, tok := range tokens {
		e.add(vec, tok, 1)
		if i > 0 {
			e.add(vec, tokens[i-1]+" "+tok, 0.5)
		}
	}
	normalize(vec)
	return vec
}

func (e HashingEmbedder) add(vec []float32, feature string, weight float32) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()
	idx := int(sum % uint64(len(vec)))
	// The top bit picks the sign so colliding features tend to cancel.
	if sum>>63 == 1 {
		weight = -weight
	}
	vec[idx] += weight
}

// Tokenize lowercases text and splits it on anything that is not a letter or
// digit, dropping stop words.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if stopWords[f] {
			continue
		}
		out = append(out, f)
	}
	return out
}

func normalize(vec []float32) {
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
}

// Cosine returns the dot product of two unit vectors. Vectors of different
// length score zero.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(buf []byte) ([]float32, error) {
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("embedding blob has %d bytes, not a multiple of 4", len(buf))
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return vec, nil
}
