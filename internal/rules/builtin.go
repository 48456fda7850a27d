package rules

import (
	"fmt"

	"github.com/agentic-research/eaglemeta/api"
)

// Builtin returns the catalog of core ComfyUI nodes plus the bundled
// extension packs. Hash formatters are bound to h, which may be nil.
func Builtin(h Hasher) *Catalog {
	c := NewCatalog()
	for _, f := range Formatters(h) {
		c.RegisterFormatter(f)
	}

	registerLoaders(c)
	registerEncoders(c)
	registerSamplers(c)
	registerLatents(c)
	registerPromptControl(c)
	registerRgthree(c)
	return c
}

func (c *Catalog) format(name string) *Formatter {
	f, ok := c.formatters[name]
	if !ok {
		panic(fmt.Sprintf("rules: formatter %q not registered", name))
	}
	return f
}

func registerLoaders(c *Catalog) {
	checkpoint := []Entry{
		On(api.ModelName, Input("ckpt_name")),
		On(api.ModelHash, Input("ckpt_name").WithFormat(c.format("model_hash"))),
	}
	for _, t := range []string{
		"CheckpointLoaderSimple",
		"CheckpointLoader",
		"CheckpointLoader|pysssss",
		"unCLIPCheckpointLoader",
		"ImageOnlyCheckpointLoader",
	} {
		c.Register(t, checkpoint...)
	}

	c.Register("UNETLoader",
		On(api.ModelName, Input("unet_name")),
		On(api.ModelHash, Input("unet_name").WithFormat(c.format("unet_hash"))),
	)
	c.Register("VAELoader",
		On(api.VAEName, Input("vae_name")),
		On(api.VAEHash, Input("vae_name").WithFormat(c.format("vae_hash"))),
	)

	c.Register("LoraLoader",
		On(api.LoraModelName, Input("lora_name")),
		On(api.LoraModelHash, Input("lora_name").WithFormat(c.format("lora_hash"))),
		On(api.LoraStrengthModel, Input("strength_model")),
		On(api.LoraStrengthClip, Input("strength_clip")),
	)
	c.Register("LoraLoaderModelOnly",
		On(api.LoraModelName, Input("lora_name")),
		On(api.LoraModelHash, Input("lora_name").WithFormat(c.format("lora_hash"))),
		On(api.LoraStrengthModel, Input("strength_model")),
		On(api.LoraStrengthClip, Const(0)),
	)

	c.Register("CLIPSetLastLayer",
		On(api.ClipSkip, Input("stop_at_clip_layer").WithFormat(c.format("clip_skip"))),
	)
}

func textEncoderEntries(c *Catalog, field string) []Entry {
	return []Entry{
		On(api.PositivePrompt, Input(field).WithValidate(c.IsPositivePrompt)),
		On(api.NegativePrompt, Input(field).WithValidate(c.IsNegativePrompt)),
		On(api.EmbeddingName, Input(field).WithFormat(c.format("embedding_names"))),
		On(api.EmbeddingHash, Input(field).WithFormat(c.format("embedding_hashes"))),
	}
}

func registerEncoders(c *Catalog) {
	c.Register("CLIPTextEncode", textEncoderEntries(c, "text")...)
	c.Register("CLIPTextEncodeSDXL", textEncoderEntries(c, "text_g")...)
	c.Register("CLIPTextEncodeFlux", textEncoderEntries(c, "t5xxl")...)
	c.MarkTextEncoder("CLIPTextEncode", "CLIPTextEncodeSDXL", "CLIPTextEncodeFlux")
}

func registerSamplers(c *Catalog) {
	conditioning := PromptInputs{Positive: "positive", Negative: "negative"}

	c.Register("KSampler",
		On(api.Seed, Input("seed")),
		On(api.Steps, Input("steps")),
		On(api.CFG, Input("cfg")),
		On(api.SamplerName, Input("sampler_name")),
		On(api.Scheduler, Input("scheduler")),
	)
	c.RegisterSampler("KSampler", conditioning)

	c.Register("KSamplerAdvanced",
		On(api.Seed, Input("noise_seed")),
		On(api.Steps, Input("steps")),
		On(api.CFG, Input("cfg")),
		On(api.SamplerName, Input("sampler_name")),
		On(api.Scheduler, Input("scheduler")),
	)
	c.RegisterSampler("KSamplerAdvanced", conditioning)

	c.Register("SamplerCustom",
		On(api.Seed, Input("noise_seed")),
		On(api.CFG, Input("cfg")),
	)
	c.RegisterSampler("SamplerCustom", conditioning)

	// Custom advanced sampling spreads its parameters over helper nodes.
	c.RegisterSampler("SamplerCustomAdvanced", PromptInputs{})
	c.Register("KSamplerSelect", On(api.SamplerName, Input("sampler_name")))
	c.Register("BasicScheduler",
		On(api.Scheduler, Input("scheduler")),
		On(api.Steps, Input("steps")),
	)
	c.Register("RandomNoise", On(api.Seed, Input("noise_seed")))
	c.Register("CFGGuider", On(api.CFG, Input("cfg")))
	c.RegisterGuider("CFGGuider", conditioning)
	c.RegisterGuider("BasicGuider", PromptInputs{Positive: "conditioning"})
}

func registerLatents(c *Catalog) {
	for _, t := range []string{"EmptyLatentImage", "EmptySD3LatentImage"} {
		c.Register(t,
			On(api.ImageWidth, Input("width")),
			On(api.ImageHeight, Input("height")),
		)
	}
}
