package assemble

import "strings"

// Serialize renders the record in the A1111 "parameters" layout: the
// positive prompt, a "Negative prompt: " line, then every other key as
// "key: value" joined with ", " on one line. Values are trimmed and inner
// newlines become spaces.
func Serialize(r *Record) string {
	var b strings.Builder
	b.WriteString(r.GetString(KeyPositivePrompt))
	b.WriteString("\nNegative prompt: ")
	b.WriteString(r.GetString(KeyNegativePrompt))
	b.WriteByte('\n')

	first := true
	for _, k := range r.keys {
		if k == KeyPositivePrompt || k == KeyNegativePrompt {
			continue
		}
		if !first {
			b.WriteString(", ")
		}
		first = false
		v := strings.ReplaceAll(strings.TrimSpace(FormatValue(r.values[k])), "\n", " ")
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(v)
	}
	return b.String()
}
