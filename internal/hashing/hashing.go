// Package hashing locates model files on disk and computes the short
// SHA-256 ("AutoV2") identifiers used by asset catalogs such as Civitai.
package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// Kind is a model folder category.
type Kind string

const (
	Checkpoints Kind = "checkpoints"
	Loras       Kind = "loras"
	VAE         Kind = "vae"
	Embeddings  Kind = "embeddings"
	UNet        Kind = "unet"
)

// ShortHashLen is the number of hex characters kept from the digest.
const ShortHashLen = 10

var embeddingExts = []string{".safetensors", ".pt", ".bin", ".pth"}

// Locator resolves model names to files under one or more model roots laid
// out like a ComfyUI models directory (<root>/<kind>/<name>).
type Locator struct {
	Roots []string
	// Extra maps a kind to additional directories searched after Roots.
	Extra map[Kind][]string
}

// Find returns the path of the named model, if it exists. Names are
// relative to a model directory; absolute names and names that climb out of
// every directory are not found.
func (l *Locator) Find(kind Kind, name string) (string, bool) {
	name = strings.TrimSpace(name)
	if name == "" || filepath.IsAbs(name) || filepath.IsAbs(filepath.FromSlash(name)) {
		return "", false
	}
	candidates := []string{name}
	if kind == Embeddings && filepath.Ext(name) == "" {
		for _, ext := range embeddingExts {
			candidates = append(candidates, name+ext)
		}
	}

	var dirs []string
	for _, root := range l.Roots {
		dirs = append(dirs, filepath.Join(root, string(kind)))
	}
	dirs = append(dirs, l.Extra[kind]...)

	for _, dir := range dirs {
		for _, c := range candidates {
			p := filepath.Join(dir, filepath.FromSlash(c))
			if !within(dir, p) {
				continue
			}
			if info, err := os.Stat(p); err == nil && !info.IsDir() {
				return p, true
			}
		}
	}
	return "", false
}

// within reports whether p lies inside dir once both are cleaned.
func within(dir, p string) bool {
	rel, err := filepath.Rel(dir, p)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

type cached struct {
	size    int64
	modTime time.Time
	hash    string
}

// Hasher computes short hashes for model files, memoizing by path. An entry
// is recomputed when the file's size or modification time changes.
type Hasher struct {
	Locator *Locator
	Logger  *zap.Logger
	cache   *lru.Cache[string, cached]
}

// NewHasher creates a hasher backed by an LRU of the given size.
func NewHasher(loc *Locator, size int, logger *zap.Logger) (*Hasher, error) {
	if size <= 0 {
		size = 256
	}
	c, err := lru.New[string, cached](size)
	if err != nil {
		return nil, fmt.Errorf("create hash cache: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if loc == nil {
		loc = &Locator{}
	}
	return &Hasher{Locator: loc, Logger: logger, cache: c}, nil
}

// Hash returns the short hash of the named model. Missing or unreadable
// files report false and are logged, never returned as errors.
func (h *Hasher) Hash(kind Kind, name string) (string, bool) {
	path, ok := h.Locator.Find(kind, name)
	if !ok {
		h.Logger.Debug("model file not found", zap.String("kind", string(kind)), zap.String("name", name))
		return "", false
	}
	sum, err := h.HashFile(path)
	if err != nil {
		h.Logger.Warn("hash model file", zap.String("path", path), zap.Error(err))
		return "", false
	}
	return sum, true
}

// HashFile hashes a file by path, consulting the cache first.
func (h *Hasher) HashFile(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if c, ok := h.cache.Get(path); ok && c.size == info.Size() && c.modTime.Equal(info.ModTime()) {
		return c.hash, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	d := sha256.New()
	if _, err := io.Copy(d, f); err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	sum := hex.EncodeToString(d.Sum(nil))[:ShortHashLen]
	h.cache.Add(path, cached{size: info.Size(), modTime: info.ModTime(), hash: sum})
	return sum, nil
}
