package sink

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/agentic-research/eaglemeta/internal/assemble"
)

var placeholderRe = regexp.MustCompile(`%[^%]+%`)

// dateTokens are replaced in this order inside %date:...% formats.
var dateTokens = []struct {
	token string
	value func(time.Time) int
}{
	{"yyyy", func(t time.Time) int { return t.Year() }},
	{"MM", func(t time.Time) int { return int(t.Month()) }},
	{"dd", func(t time.Time) int { return t.Day() }},
	{"hh", func(t time.Time) int { return t.Hour() }},
	{"mm", func(t time.Time) int { return t.Minute() }},
	{"ss", func(t time.Time) int { return t.Second() }},
	{"SSSSSS", func(t time.Time) int { return t.Nanosecond() / 1000 }},
}

const defaultDateFormat = "yyyyMMddhhmmss"

// FormatFilename expands %seed%, %width%, %height%, %pprompt[:n]%,
// %nprompt[:n]%, %model[:n]% and %date[:format]% in a filename template.
// Unknown placeholders are left in place.
func FormatFilename(tmpl string, r *assemble.Record, now time.Time) string {
	width, height := "", ""
	if size := r.GetString(assemble.KeySize); size != "" {
		width, height, _ = strings.Cut(size, "x")
	}

	out := tmpl
	for _, seg := range placeholderRe.FindAllString(tmpl, -1) {
		parts := strings.Split(strings.Trim(seg, "%"), ":")
		var repl string
		switch parts[0] {
		case "seed":
			repl = r.GetString(assemble.KeySeed)
		case "width":
			repl = width
		case "height":
			repl = height
		case "pprompt":
			repl = truncPrompt(r.GetString(assemble.KeyPositivePrompt), parts)
		case "nprompt":
			repl = truncPrompt(r.GetString(assemble.KeyNegativePrompt), parts)
		case "model":
			m := path.Base(strings.ReplaceAll(r.GetString(assemble.KeyModel), `\`, "/"))
			if m == "." {
				m = ""
			}
			repl = truncate(strings.TrimSuffix(m, path.Ext(m)), parts)
		case "date":
			format := defaultDateFormat
			if len(parts) >= 2 {
				format = parts[1]
			}
			repl = formatDate(format, now)
		default:
			continue
		}
		out = strings.ReplaceAll(out, seg, repl)
	}
	return out
}

func truncPrompt(p string, parts []string) string {
	return strings.TrimSpace(truncate(strings.ReplaceAll(p, "\n", " "), parts))
}

// truncate keeps the first n runes when parts carries a length.
func truncate(s string, parts []string) string {
	if len(parts) < 2 {
		return s
	}
	n, err := strconv.Atoi(parts[1])
	if err != nil || n < 0 {
		return s
	}
	rs := []rune(s)
	if n < len(rs) {
		return string(rs[:n])
	}
	return s
}

func formatDate(format string, t time.Time) string {
	for _, d := range dateTokens {
		format = strings.ReplaceAll(format, d.token, fmt.Sprintf("%0*d", len(d.token), d.value(t)))
	}
	return format
}

// SavePath resolves a filename prefix (which may contain subfolders) under
// outputDir and returns the next free counter for it. Prefixes that escape
// outputDir are rejected.
func SavePath(outputDir, prefix string) (dir, base, subfolder string, counter int, err error) {
	prefix = filepath.FromSlash(prefix)
	subfolder = filepath.Dir(prefix)
	base = filepath.Base(prefix)

	root, err := filepath.Abs(outputDir)
	if err != nil {
		return "", "", "", 0, fmt.Errorf("resolve output dir: %w", err)
	}
	dir = filepath.Join(root, subfolder)
	if rel, err := filepath.Rel(root, dir); err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", "", "", 0, fmt.Errorf("filename prefix %q escapes output dir", prefix)
	}
	if subfolder == "." {
		subfolder = ""
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", "", 0, fmt.Errorf("create output dir: %w", err)
	}

	counter = 1
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", "", "", 0, fmt.Errorf("read output dir: %w", err)
	}
	re := regexp.MustCompile(`^` + regexp.QuoteMeta(base) + `_(\d+)_`)
	for _, e := range entries {
		m := re.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		if n, err := strconv.Atoi(m[1]); err == nil && n >= counter {
			counter = n + 1
		}
	}
	return dir, base, filepath.ToSlash(subfolder), counter, nil
}
