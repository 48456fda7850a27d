// Package sink saves images with embedded generation metadata and forwards
// them to Eagle.
package sink

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"

	"github.com/agentic-research/eaglemeta/internal/assemble"
)

// KeyValue is one user-supplied metadata pair.
type KeyValue struct {
	Key   string
	Value string
}

// ExtraMetadata is an ordered list of user metadata pairs.
type ExtraMetadata []KeyValue

// Get returns the value for key.
func (m ExtraMetadata) Get(key string) (string, bool) {
	for _, kv := range m {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return "", false
}

// Set replaces the value of key in place, or appends the pair when key is
// new.
func (m ExtraMetadata) Set(key, value string) ExtraMetadata {
	for i, kv := range m {
		if kv.Key == key {
			m[i].Value = value
			return m
		}
	}
	return append(m, KeyValue{key, value})
}

// ParseExtraMetadata coerces a loosely typed value into ExtraMetadata.
// Anything that is not an object yields an empty result. Object keys are
// kept in sorted order when the source is a Go map. Empty keys and values
// that are null, false, zero or empty are dropped.
func ParseExtraMetadata(v any) ExtraMetadata {
	switch x := v.(type) {
	case ExtraMetadata:
		return x
	case map[string]string:
		m := make(map[string]any, len(x))
		for k, s := range x {
			m[k] = s
		}
		return ParseExtraMetadata(m)
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(ExtraMetadata, 0, len(keys))
		for _, k := range keys {
			if k == "" || isFalsy(x[k]) {
				continue
			}
			out = append(out, KeyValue{k, assemble.FormatValue(x[k])})
		}
		return out
	case json.RawMessage:
		return parseExtraJSON(x)
	case []byte:
		return parseExtraJSON(x)
	case string:
		return parseExtraJSON([]byte(x))
	}
	return ExtraMetadata{}
}

// parseExtraJSON decodes an object keeping its key order.
func parseExtraJSON(data []byte) ExtraMetadata {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil || tok != json.Delim('{') {
		return ExtraMetadata{}
	}
	out := ExtraMetadata{}
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return ExtraMetadata{}
		}
		key, _ := kt.(string)
		var v any
		if err := dec.Decode(&v); err != nil {
			return ExtraMetadata{}
		}
		if key == "" || isFalsy(v) {
			continue
		}
		out = append(out, KeyValue{key, assemble.FormatValue(v)})
	}
	return out
}

func isFalsy(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case bool:
		return !x
	case string:
		return x == ""
	case json.Number:
		f, err := x.Float64()
		return err == nil && f == 0
	case int:
		return x == 0
	case int64:
		return x == 0
	case float64:
		return x == 0
	case []any:
		return len(x) == 0
	case map[string]any:
		return len(x) == 0
	}
	return false
}

// Prompts is a manual prompt source. A single value applies to every image;
// several values apply per image, with images past the end getting "".
type Prompts []string

func (p Prompts) manual() bool {
	switch len(p) {
	case 0:
		return false
	case 1:
		return strings.TrimSpace(p[0]) != ""
	}
	return true
}

func (p Prompts) forIndex(i int) (string, bool) {
	switch len(p) {
	case 0:
		return "", false
	case 1:
		s := strings.TrimSpace(p[0])
		return s, s != ""
	}
	if i >= 0 && i < len(p) {
		return strings.TrimSpace(p[i]), true
	}
	return "", true
}

// UseWorkflowPrompts reports whether prompts should be captured from the
// graph. They are skipped only when both prompts are supplied manually.
func UseWorkflowPrompts(positive, negative Prompts) bool {
	return !(positive.manual() && negative.manual())
}

// Overlay is the per-image adjustment applied to the run's record.
type Overlay struct {
	Extra      ExtraMetadata
	Positive   Prompts
	Negative   Prompts
	BatchIndex int
	BatchSize  int
}

// Apply returns a copy of base with the overlay applied. Extra metadata
// with an empty key or value is ignored and commas in values become "/"
// so they cannot break the parameters line.
func (o Overlay) Apply(base *assemble.Record) *assemble.Record {
	r := base.Clone()
	for _, kv := range o.Extra {
		if kv.Key == "" || kv.Value == "" {
			continue
		}
		r.Set(kv.Key, strings.ReplaceAll(kv.Value, ",", "/"))
	}
	if o.BatchSize >= 2 {
		r.Set("Batch index", o.BatchIndex)
		r.Set("Batch size", o.BatchSize)
	}
	if v, ok := o.Positive.forIndex(o.BatchIndex); ok {
		r.Set(assemble.KeyPositivePrompt, v)
	}
	if v, ok := o.Negative.forIndex(o.BatchIndex); ok {
		r.Set(assemble.KeyNegativePrompt, v)
	}
	return r
}
