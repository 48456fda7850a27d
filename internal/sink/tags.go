package sink

import (
	"regexp"
	"strings"

	"github.com/agentic-research/eaglemeta/internal/assemble"
)

// Tag pattern names with special meaning.
const (
	TagPatternNone   = "None"
	TagPatternCustom = "Custom"
)

// TagPatterns lists the selectable patterns, default first. Any pattern
// that is not None or Custom is itself a comma-separated item list.
var TagPatterns = []string{
	TagPatternNone,
	"Positive prompt",
	"Positive prompt, Negative prompt",
	"Memo",
	"Memo, Positive prompt",
	"Memo, Positive prompt, Negative prompt",
	"Model, Sampler, Steps, CFG scale, Seed, Size",
	TagPatternCustom,
}

// recordTagKeys are the record keys that render as "key: value" tags, with
// "-" standing in for a missing value.
var recordTagKeys = map[string]bool{
	"Steps": true, "Sampler": true, "CFG scale": true, "Seed": true, "Clip skip": true,
	"Size": true, "Model": true, "Model hash": true, "VAE": true, "VAE hash": true,
	"Batch index": true, "Batch size": true,
}

var (
	weightRe = regexp.MustCompile(`:\d+\.\d+`)
	parensRe = regexp.MustCompile(`[()]`)
)

// Tags derives Eagle tags from a pattern. Items are "Memo" (comma-separated
// memo words), "Positive prompt" and "Negative prompt" (prompt terms, the
// latter prefixed "n:"), record keys, extra metadata keys, or literal tags.
func Tags(pattern, custom, memo string, extra ExtraMetadata, r *assemble.Record) []string {
	if pattern == TagPatternNone {
		return nil
	}
	if pattern == TagPatternCustom {
		pattern = custom
	}

	var out []string
	for _, item := range strings.Split(pattern, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		switch {
		case item == "Memo":
			out = append(out, splitTerms(memo, "")...)
		case item == assemble.KeyPositivePrompt:
			out = append(out, promptTags(r.GetString(item), "")...)
		case item == assemble.KeyNegativePrompt:
			out = append(out, promptTags(r.GetString(item), "n:")...)
		case recordTagKeys[item]:
			v := "-"
			if _, ok := r.Get(item); ok {
				v = r.GetString(item)
			}
			out = append(out, item+": "+v)
		default:
			if v, ok := extra.Get(item); ok && v != "" {
				out = append(out, item+": "+v)
			} else {
				out = append(out, item)
			}
		}
	}
	return out
}

// promptTags splits a prompt into terms, dropping ":1.2" style weights and
// parentheses.
func promptTags(prompt, prefix string) []string {
	if strings.TrimSpace(prompt) == "" || prompt == "undefined" {
		return nil
	}
	return splitTerms(weightRe.ReplaceAllString(prompt, ""), prefix)
}

func splitTerms(s, prefix string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var out []string
	for _, term := range strings.Split(s, ",") {
		term = strings.TrimSpace(parensRe.ReplaceAllString(term, ""))
		if term != "" {
			out = append(out, prefix+term)
		}
	}
	return out
}
