package assemble

import (
	"fmt"
	"path"
	"strings"

	"github.com/agentic-research/eaglemeta/api"
)

// Record keys.
const (
	KeyPositivePrompt = "Positive prompt"
	KeyNegativePrompt = "Negative prompt"
	KeySteps          = "Steps"
	KeySampler        = "Sampler"
	KeyCFG            = "CFG scale"
	KeySeed           = "Seed"
	KeyClipSkip       = "Clip skip"
	KeySize           = "Size"
	KeyModel          = "Model"
	KeyModelHash      = "Model hash"
	KeyVAE            = "VAE"
	KeyVAEHash        = "VAE hash"
	KeyHashes         = "Hashes"
)

// Options control record assembly.
type Options struct {
	// CivitaiSampler renders the sampler with civitai display names.
	CivitaiSampler bool
	// CalcHashes emits hash keys and the Hashes block.
	CalcHashes bool
}

// BuildRecord assembles the metadata record in its fixed key order.
//
// Prompts, sampler settings, size, model, LoRAs and embeddings come from
// the values upstream of the sampler. VAE comes from the values upstream
// of the sink, since decoding happens after sampling.
func BuildRecord(beforeSink, beforeSampler Filtered, opts Options) *Record {
	r := NewRecord()
	set := func(f Filtered, field api.Field, key string) {
		if v, ok := f.Closest(field); ok {
			r.Set(key, v)
		}
	}

	set(beforeSampler, api.PositivePrompt, KeyPositivePrompt)
	set(beforeSampler, api.NegativePrompt, KeyNegativePrompt)
	set(beforeSampler, api.Steps, KeySteps)
	if s := samplerName(beforeSampler, opts.CivitaiSampler); s != "" {
		r.Set(KeySampler, s)
	}
	set(beforeSampler, api.CFG, KeyCFG)
	set(beforeSampler, api.Seed, KeySeed)
	set(beforeSampler, api.ClipSkip, KeyClipSkip)

	w, wok := beforeSampler.Closest(api.ImageWidth)
	h, hok := beforeSampler.Closest(api.ImageHeight)
	if wok && hok {
		r.Set(KeySize, FormatValue(w)+"x"+FormatValue(h))
	}

	set(beforeSampler, api.ModelName, KeyModel)
	if opts.CalcHashes {
		set(beforeSampler, api.ModelHash, KeyModelHash)
	}
	set(beforeSink, api.VAEName, KeyVAE)
	if opts.CalcHashes {
		set(beforeSink, api.VAEHash, KeyVAEHash)
	}

	loras(r, beforeSampler, opts.CalcHashes)
	embeddings(r, beforeSampler, opts.CalcHashes)

	if opts.CalcHashes {
		if pairs := resourceHashes(beforeSink, beforeSampler); len(pairs) > 0 {
			r.Set(KeyHashes, pyJSONObject(pairs))
		}
	}
	return r
}

func samplerName(f Filtered, civitai bool) string {
	s, ok := f.Closest(api.SamplerName)
	if !ok {
		return ""
	}
	sampler := FormatValue(s)
	scheduler := ""
	if v, ok := f.Closest(api.Scheduler); ok {
		scheduler = FormatValue(v)
	}
	if civitai {
		return CivitaiSampler(sampler, scheduler)
	}
	return withScheduler(sampler, scheduler)
}

// zipLen is the length of the shortest list, the number of complete groups.
func zipLen(lists ...[]Item) int {
	if len(lists) == 0 {
		return 0
	}
	n := len(lists[0])
	for _, l := range lists[1:] {
		n = min(n, len(l))
	}
	return n
}

func loras(r *Record, f Filtered, withHash bool) {
	names := f[api.LoraModelName]
	hashes := f[api.LoraModelHash]
	strengthModel := f[api.LoraStrengthModel]
	strengthClip := f[api.LoraStrengthClip]

	n := zipLen(names, strengthModel, strengthClip)
	if withHash {
		n = zipLen(names, hashes, strengthModel, strengthClip)
	}
	for i := 0; i < n; i++ {
		prefix := fmt.Sprintf("Lora_%d", i)
		r.Set(prefix+" Model name", baseName(FormatValue(names[i].Value)))
		if withHash {
			r.Set(prefix+" Model hash", hashes[i].Value)
		}
		r.Set(prefix+" Strength model", strengthModel[i].Value)
		r.Set(prefix+" Strength clip", strengthClip[i].Value)
	}
}

func embeddings(r *Record, f Filtered, withHash bool) {
	names := f[api.EmbeddingName]
	hashes := f[api.EmbeddingHash]

	n := len(names)
	if withHash {
		n = zipLen(names, hashes)
	}
	for i := 0; i < n; i++ {
		prefix := fmt.Sprintf("Embedding_%d", i)
		r.Set(prefix+" name", baseName(FormatValue(names[i].Value)))
		if withHash {
			r.Set(prefix+" hash", hashes[i].Value)
		}
	}
}

// resourceHashes builds the civitai resource map. Model and VAE take the
// closest hash; every LoRA and embedding pair gets its own entry.
func resourceHashes(beforeSink, beforeSampler Filtered) []pair {
	var pairs []pair
	seen := map[string]int{}
	add := func(key string, v any) {
		if v == nil {
			return
		}
		if i, ok := seen[key]; ok {
			pairs[i].value = FormatValue(v)
			return
		}
		seen[key] = len(pairs)
		pairs = append(pairs, pair{key, FormatValue(v)})
	}

	if v, ok := beforeSampler.Closest(api.ModelHash); ok {
		add("model", v)
	}
	if v, ok := beforeSink.Closest(api.VAEHash); ok {
		add("vae", v)
	}

	names, hashes := beforeSampler[api.LoraModelName], beforeSampler[api.LoraModelHash]
	for i := 0; i < zipLen(names, hashes); i++ {
		add("lora:"+stem(FormatValue(names[i].Value)), hashes[i].Value)
	}
	names, hashes = beforeSampler[api.EmbeddingName], beforeSampler[api.EmbeddingHash]
	for i := 0; i < zipLen(names, hashes); i++ {
		add("embed:"+stem(FormatValue(names[i].Value)), hashes[i].Value)
	}
	return pairs
}

// baseName strips directories from a model name. ComfyUI on Windows reports
// subfolders with backslashes.
func baseName(name string) string {
	return path.Base(strings.ReplaceAll(name, `\`, "/"))
}

func stem(name string) string {
	b := baseName(name)
	return strings.TrimSuffix(b, path.Ext(b))
}
