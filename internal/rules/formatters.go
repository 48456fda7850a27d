package rules

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/agentic-research/eaglemeta/api"
	"github.com/agentic-research/eaglemeta/internal/hashing"
)

// Hasher looks up the short hash of a model file by kind and name.
// *hashing.Hasher satisfies it.
type Hasher interface {
	Hash(kind hashing.Kind, name string) (string, bool)
}

var embeddingRe = regexp.MustCompile(`(?i)embedding:([^\s,()\[\]{}<>|:]+)`)

// EmbeddingNamesIn returns every embedding referenced in prompt text with the
// embedding:<name> syntax, in order of appearance.
func EmbeddingNamesIn(text string) []string {
	var out []string
	for _, m := range embeddingRe.FindAllStringSubmatch(text, -1) {
		name := strings.TrimRight(m[1], ".")
		if name != "" {
			out = append(out, name)
		}
	}
	return out
}

func hashFormatter(name string, kind hashing.Kind, h Hasher) *Formatter {
	return &Formatter{
		Name: name,
		Hash: true,
		Apply: func(v any, _ api.Inputs) any {
			s, ok := v.(string)
			if !ok || h == nil {
				return nil
			}
			sum, ok := h.Hash(kind, s)
			if !ok {
				return nil
			}
			return sum
		},
	}
}

// EmbeddingNames extracts embedding names from a prompt. It yields a list so
// that each embedding produces its own capture entry.
var EmbeddingNames = &Formatter{
	Name: "embedding_names",
	Apply: func(v any, _ api.Inputs) any {
		s, ok := v.(string)
		if !ok {
			return nil
		}
		names := EmbeddingNamesIn(s)
		out := make([]any, len(names))
		for i, n := range names {
			out[i] = n
		}
		return out
	},
}

func embeddingHashes(h Hasher) *Formatter {
	return &Formatter{
		Name: "embedding_hashes",
		Hash: true,
		Apply: func(v any, _ api.Inputs) any {
			s, ok := v.(string)
			if !ok {
				return nil
			}
			names := EmbeddingNamesIn(s)
			out := make([]any, len(names))
			for i, n := range names {
				// Unhashable embeddings stay as nil placeholders so that
				// names and hashes still pair up by position.
				if h == nil {
					continue
				}
				if sum, ok := h.Hash(hashing.Embeddings, n); ok {
					out[i] = sum
				}
			}
			return out
		},
	}
}

// ClipSkip converts CLIPSetLastLayer's negative layer index into the
// positive clip skip value used by A1111.
var ClipSkip = &Formatter{
	Name: "clip_skip",
	Apply: func(v any, _ api.Inputs) any {
		n, ok := toInt(v)
		if !ok {
			return nil
		}
		if n < 0 {
			n = -n
		}
		return n
	},
}

// Formatters returns the named formatters, hash formatters bound to h.
// h may be nil, in which case hash formatters produce nil.
func Formatters(h Hasher) []*Formatter {
	return []*Formatter{
		hashFormatter("model_hash", hashing.Checkpoints, h),
		hashFormatter("vae_hash", hashing.VAE, h),
		hashFormatter("lora_hash", hashing.Loras, h),
		hashFormatter("unet_hash", hashing.UNet, h),
		embeddingHashes(h),
		EmbeddingNames,
		ClipSkip,
	}
}

func toInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n == float64(int64(n)) {
			return int64(n), true
		}
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		if f, err := n.Float64(); err == nil && f == float64(int64(f)) {
			return int64(f), true
		}
	case string:
		if i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64); err == nil {
			return i, true
		}
	}
	return 0, false
}
