package api

// Field identifies a kind of generation metadata captured from the graph.
type Field int

const (
	PositivePrompt Field = iota
	NegativePrompt
	Steps
	SamplerName
	Scheduler
	CFG
	Seed
	ClipSkip
	ImageWidth
	ImageHeight
	ModelName
	ModelHash
	VAEName
	VAEHash
	LoraModelName
	LoraModelHash
	LoraStrengthModel
	LoraStrengthClip
	EmbeddingName
	EmbeddingHash
)

var fieldNames = [...]string{
	PositivePrompt:    "positive_prompt",
	NegativePrompt:    "negative_prompt",
	Steps:             "steps",
	SamplerName:       "sampler_name",
	Scheduler:         "scheduler",
	CFG:               "cfg",
	Seed:              "seed",
	ClipSkip:          "clip_skip",
	ImageWidth:        "image_width",
	ImageHeight:       "image_height",
	ModelName:         "model_name",
	ModelHash:         "model_hash",
	VAEName:           "vae_name",
	VAEHash:           "vae_hash",
	LoraModelName:     "lora_model_name",
	LoraModelHash:     "lora_model_hash",
	LoraStrengthModel: "lora_strength_model",
	LoraStrengthClip:  "lora_strength_clip",
	EmbeddingName:     "embedding_name",
	EmbeddingHash:     "embedding_hash",
}

func (f Field) String() string {
	if f >= 0 && int(f) < len(fieldNames) {
		return fieldNames[f]
	}
	return "unknown"
}

// ParseField maps a snake_case field name back to its Field.
func ParseField(name string) (Field, bool) {
	for i, n := range fieldNames {
		if n == name {
			return Field(i), true
		}
	}
	return 0, false
}

