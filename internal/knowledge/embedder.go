package knowledge

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
)

// LocalEmbedder is a deterministic, dependency-free ai.Embedder using feature
// hashing over normalized word tokens. It gives identical inputs identical
// vectors, which is all the relevance contract requires; deployments wanting
// semantic quality swap in a provider-backed embedder with the same
// dimension.
type LocalEmbedder struct{}

// NewLocalEmbedder creates the default embedder.
func NewLocalEmbedder() *LocalEmbedder {
	return &LocalEmbedder{}
}

// Name implements ai.Embedder.
func (*LocalEmbedder) Name() string {
	return "relaydesk/local-feature-hash"
}

// Register implements ai.Embedder. The local embedder needs no registry
// wiring.
func (*LocalEmbedder) Register(api.Registry) {}

// Embed implements ai.Embedder.
func (e *LocalEmbedder) Embed(_ context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("nil embed request")
	}

	embeddings := make([]*ai.Embedding, 0, len(req.Input))
	for _, doc := range req.Input {
		var text strings.Builder
		for _, part := range doc.Content {
			if part != nil {
				text.WriteString(part.Text)
				text.WriteByte(' ')
			}
		}
		embeddings = append(embeddings, &ai.Embedding{
			Embedding: hashEmbed(text.String()),
		})
	}

	return &ai.EmbedResponse{Embeddings: embeddings}, nil
}

// hashEmbed maps text to a normalized bag-of-words vector. Each token hashes
// to one dimension; a second hash bit picks the sign so unrelated tokens
// cancel rather than pile up.
func hashEmbed(text string) []float32 {
	vec := make([]float32, VectorDimension)

	for _, token := range tokenize(text) {
		h := fnv.New64a()
		h.Write([]byte(token))
		sum := h.Sum64()

		idx := sum % VectorDimension
		if sum&(1<<63) != 0 {
			vec[idx]--
		} else {
			vec[idx]++
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}

	return vec
}

// tokenize lowercases, splits on anything that is not a letter or digit,
// drops function words, and folds common suffixes so "Refunds" and "refund"
// land in the same dimension.
func tokenize(text string) []string {
	raw := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	tokens := make([]string, 0, len(raw))
	for _, t := range raw {
		if stopwords[t] {
			continue
		}
		tokens = append(tokens, foldToken(t))
	}
	return tokens
}

// foldToken strips plural and inflection suffixes. A handful of rules, not a
// real stemmer; wrong on irregulars, consistent for a given input.
func foldToken(t string) string {
	switch {
	case len(t) > 4 && strings.HasSuffix(t, "ies"):
		return t[:len(t)-3] + "y"
	case len(t) > 5 && strings.HasSuffix(t, "ing"):
		return t[:len(t)-3]
	case len(t) > 4 && strings.HasSuffix(t, "ed"):
		return t[:len(t)-2]
	case len(t) > 4 && (strings.HasSuffix(t, "ses") || strings.HasSuffix(t, "xes") ||
		strings.HasSuffix(t, "zes") || strings.HasSuffix(t, "ches") || strings.HasSuffix(t, "shes")):
		return t[:len(t)-2]
	case len(t) > 3 && strings.HasSuffix(t, "s") && !strings.HasSuffix(t, "ss"):
		return t[:len(t)-1]
	default:
		return t
	}
}

// stopwords are dropped before hashing. Function words dominate short customer
// messages and would dilute every similarity toward zero.
var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "and": true, "or": true, "but": true,
	"if": true, "then": true, "is": true, "are": true, "was": true,
	"were": true, "be": true, "been": true, "being": true, "do": true,
	"does": true, "did": true, "have": true, "has": true, "had": true,
	"i": true, "you": true, "he": true, "she": true, "it": true, "we": true,
	"they": true, "me": true, "him": true, "her": true, "us": true,
	"them": true, "my": true, "your": true, "its": true, "our": true,
	"their": true, "this": true, "that": true, "these": true, "those": true,
	"what": true, "which": true, "who": true, "whom": true, "how": true,
	"when": true, "where": true, "why": true, "to": true, "of": true,
	"in": true, "on": true, "at": true, "by": true, "for": true, "with": true,
	"from": true, "as": true, "about": true, "into": true, "over": true,
	"under": true, "within": true, "without": true, "can": true,
	"could": true, "will": true, "would": true, "should": true, "shall": true,
	"may": true, "might": true, "must": true, "not": true, "no": true,
	"so": true, "too": true, "very": true, "there": true, "here": true,
}
