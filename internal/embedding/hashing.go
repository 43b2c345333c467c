package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"regexp"
	"strings"
	"unicode"

	"github.com/clipperhouse/uax29/v2/words"
	"golang.org/x/text/unicode/norm"
)

// DefaultHashingDimensions is the vector width of the hashing embedder.
const DefaultHashingDimensions = 512

// segmentLabel matches the "[TITLE] " style prefixes of canonical text.
var segmentLabel = regexp.MustCompile(`(?m)^\[[A-Z_]+\] ?`)

// Hashing is a deterministic, offline embedder. Each word (UAX#29
// segmentation over NFKC-lowercased text) is hashed into a signed bucket and
// the resulting vector is L2-normalised, so texts sharing words are close.
type Hashing struct {
	dim int
}

// NewHashing creates a hashing embedder. dim <= 0 selects the default.
func NewHashing(dim int) *Hashing {
	if dim <= 0 {
		dim = DefaultHashingDimensions
	}
	return &Hashing{dim: dim}
}

// Dimensions returns the output vector width.
func (h *Hashing) Dimensions() int {
	return h.dim
}

// EmbedBatch implements Provider.
func (h *Hashing) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = h.embed(t)
	}
	return out, nil
}

// EmbedOne implements Provider.
func (h *Hashing) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return h.embed(text), nil
}

func (h *Hashing) embed(text string) []float32 {
	vec := make([]float32, h.dim)
	for _, tok := range Tokenize(segmentLabel.ReplaceAllString(text, "")) {
		f := fnv.New64a()
		_, _ = f.Write([]byte(tok))
		sum := f.Sum64()
		idx := int(sum % uint64(h.dim))
		if sum>>63 == 1 {
			vec[idx]--
		} else {
			vec[idx]++
		}
	}
	NormalizeL2(vec)
	return vec
}

// Tokenize lowercases text under NFKC and splits it into UAX#29 words,
// dropping whitespace and punctuation segments.
func Tokenize(text string) []string {
	seg := words.FromString(strings.ToLower(norm.NFKC.String(text)))
	var out []string
	for seg.Next() {
		tok := seg.Value()
		if strings.IndexFunc(tok, isWordRune) >= 0 {
			out = append(out, tok)
		}
	}
	return out
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// NormalizeL2 scales vector to unit length in place. Zero vectors are left
// untouched.
func NormalizeL2(vector []float32) {
	var sumSquares float64
	for _, v := range vector {
		sumSquares += float64(v) * float64(v)
	}
	if sumSquares == 0 {
		return
	}
	magnitude := math.Sqrt(sumSquares)
	for i := range vector {
		vector[i] = float32(float64(vector[i]) / magnitude)
	}
}
