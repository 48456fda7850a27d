package capture

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/agentic-research/eaglemeta/api"
	"github.com/agentic-research/eaglemeta/internal/hashing"
	"github.com/agentic-research/eaglemeta/internal/rules"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHasher map[string]string

func (f fakeHasher) Hash(kind hashing.Kind, name string) (string, bool) {
	h, ok := f[string(kind)+"/"+name]
	return h, ok
}

func link(from string, slot int) []any {
	return []any{from, float64(slot)}
}

// basicRun is a txt2img workflow whose seed comes from a primitive node.
func basicRun() *api.Run {
	g := api.NewGraph()
	g.Add("4", &api.Node{ClassType: "CheckpointLoaderSimple", Inputs: map[string]any{"ckpt_name": "sd15/base.safetensors"}})
	g.Add("5", &api.Node{ClassType: "EmptyLatentImage", Inputs: map[string]any{"width": json.Number("512"), "height": json.Number("768")}})
	g.Add("6", &api.Node{ClassType: "CLIPTextEncode", Inputs: map[string]any{"text": "cat, embedding:easynegative", "clip": link("4", 1)}})
	g.Add("7", &api.Node{ClassType: "CLIPTextEncode", Inputs: map[string]any{"text": "dog", "clip": link("4", 1)}})
	g.Add("20", &api.Node{ClassType: "PrimitiveNode", Inputs: map[string]any{}})
	g.Add("3", &api.Node{ClassType: "KSampler", Inputs: map[string]any{
		"model":        link("4", 0),
		"positive":     link("6", 0),
		"negative":     link("7", 0),
		"latent_image": link("5", 0),
		"seed":         link("20", 0),
		"steps":        json.Number("20"),
		"cfg":          json.Number("7.0"),
		"sampler_name": "dpmpp_2m",
		"scheduler":    "karras",
	}})
	outputs := api.Outputs{"20": {[]any{json.Number("42")}}}
	return api.NewRun(g, nil, outputs)
}

func newCapturer(t *testing.T, h rules.Hasher) *Capturer {
	t.Helper()
	c, err := New(rules.Builtin(h), nil, 0, nil)
	require.NoError(t, err)
	return c
}

func values(entries []Entry) []any {
	out := make([]any, len(entries))
	for i, e := range entries {
		out[i] = e.Value
	}
	return out
}

func TestGetInputs_Basic(t *testing.T) {
	c := newCapturer(t, nil)
	got := c.GetInputs(basicRun(), Options{})

	assert.Equal(t, []Entry{{"4", "sd15/base.safetensors"}}, got[api.ModelName])
	assert.Equal(t, []Entry{{"6", "cat, embedding:easynegative"}}, got[api.PositivePrompt])
	assert.Equal(t, []Entry{{"7", "dog"}}, got[api.NegativePrompt])
	assert.Equal(t, []Entry{{"3", json.Number("42")}}, got[api.Seed], "seed resolved through the output cache")
	assert.Equal(t, []Entry{{"3", json.Number("20")}}, got[api.Steps])
	assert.Equal(t, []any{json.Number("512")}, values(got[api.ImageWidth]))
	assert.Equal(t, []Entry{{"6", "easynegative"}}, got[api.EmbeddingName])
}

func TestGetInputs_ExcludePrompts(t *testing.T) {
	c := newCapturer(t, nil)
	got := c.GetInputs(basicRun(), Options{ExcludePrompts: true})

	assert.NotContains(t, got, api.PositivePrompt)
	assert.NotContains(t, got, api.NegativePrompt)
	assert.NotContains(t, got, api.EmbeddingName)
	assert.Contains(t, got, api.Seed)
}

func TestGetInputs_HashGating(t *testing.T) {
	h := fakeHasher{
		"checkpoints/sd15/base.safetensors": "0123456789",
		"embeddings/easynegative":           "abcdefabcd",
	}
	c := newCapturer(t, h)

	off := c.GetInputs(basicRun(), Options{})
	assert.Equal(t, []Entry{{"4", nil}}, off[api.ModelHash], "disabled hash formatters keep a nil slot")
	assert.Equal(t, []Entry{{"6", nil}, {"7", nil}}, off[api.EmbeddingHash])

	on := c.GetInputs(basicRun(), Options{CalcHashes: true})
	assert.Equal(t, []Entry{{"4", "0123456789"}}, on[api.ModelHash])
	assert.Equal(t, []Entry{{"6", "abcdefabcd"}}, on[api.EmbeddingHash])
}

func TestGetInputs_MissingOutput(t *testing.T) {
	run := basicRun()
	run.Outputs = api.Outputs{}
	got := newCapturer(t, nil).GetInputs(run, Options{})
	assert.NotContains(t, got, api.Seed)
	assert.Contains(t, got, api.Steps)
}

func TestGetInputs_NestedBatchUsesLastValue(t *testing.T) {
	run := basicRun()
	run.Outputs = api.Outputs{"20": {[]any{json.Number("1"), []any{json.Number("2"), json.Number("3"), nil}}}}
	got := newCapturer(t, nil).GetInputs(run, Options{})
	assert.Equal(t, []any{json.Number("3")}, values(got[api.Seed]))
}

func TestGetInputs_GraphOrder(t *testing.T) {
	g := api.NewGraph()
	g.Add("2", &api.Node{ClassType: "LoraLoader", Inputs: map[string]any{"lora_name": "b.safetensors", "strength_model": 1.0, "strength_clip": 1.0}})
	g.Add("1", &api.Node{ClassType: "LoraLoader", Inputs: map[string]any{"lora_name": "a.safetensors", "strength_model": 0.5, "strength_clip": 0.5}})

	got := newCapturer(t, nil).GetInputs(api.NewRun(g, nil, nil), Options{})
	assert.Equal(t, []Entry{{"2", "b.safetensors"}, {"1", "a.safetensors"}}, got[api.LoraModelName])
}

func TestGetInputs_PowerLoraLoader(t *testing.T) {
	g := api.NewGraph()
	g.Add("9", &api.Node{ClassType: "Power Lora Loader (rgthree)", Inputs: map[string]any{
		"lora_1": map[string]any{"on": true, "lora": "a.safetensors", "strength": 0.8},
		"lora_2": map[string]any{"on": false, "lora": "b.safetensors", "strength": 1.0},
		"lora_3": map[string]any{"on": true, "lora": "c.safetensors", "strength": 0.3},
	}})
	got := newCapturer(t, fakeHasher{"loras/c.safetensors": "cccccccccc"}).
		GetInputs(api.NewRun(g, nil, nil), Options{CalcHashes: true})

	assert.Equal(t, []any{"a.safetensors", "c.safetensors"}, values(got[api.LoraModelName]))
	assert.Equal(t, []any{nil, "cccccccccc"}, values(got[api.LoraModelHash]))
	assert.Equal(t, []any{0.8, 0.3}, values(got[api.LoraStrengthClip]))
}

func TestGetInputs_CustomRules(t *testing.T) {
	cat := rules.NewCatalog()
	cat.Register("Settings",
		rules.On(api.Seed, rules.Input("settings").WithPath("$.seed")),
		rules.On(api.Steps, rules.Const(json.Number("30"))),
		rules.On(api.CFG, rules.Input("cfg").WithValidate(func(string, *api.Node, *api.Run, api.Inputs) bool { return false })),
		rules.On(api.SamplerName, rules.Select(func(id string, _ *api.Node, _ *api.Run, _ api.Inputs) any { return nil })),
	)
	g := api.NewGraph()
	g.Add("1", &api.Node{ClassType: "Settings", Inputs: map[string]any{
		"settings": map[string]any{"seed": json.Number("7")},
		"cfg":      json.Number("5"),
	}})
	c, err := New(cat, nil, 0, nil)
	require.NoError(t, err)

	got := c.GetInputs(api.NewRun(g, nil, nil), Options{})
	assert.Equal(t, []Entry{{"1", json.Number("7")}}, got[api.Seed])
	assert.Equal(t, []Entry{{"1", json.Number("30")}}, got[api.Steps])
	assert.NotContains(t, got, api.CFG, "failed validator skips the rule")
	assert.NotContains(t, got, api.SamplerName, "nil selector result emits nothing")
}

type countingResolver struct {
	calls int
	err   error
}

func (r *countingResolver) Resolve(run *api.Run, id string, node *api.Node) (Resolved, error) {
	r.calls++
	if r.err != nil {
		return Resolved{}, r.err
	}
	return OutputResolver{}.Resolve(run, id, node)
}

func TestGetInputs_Memo(t *testing.T) {
	g := api.NewGraph()
	g.Add("4", &api.Node{ClassType: "CheckpointLoaderSimple", Inputs: map[string]any{"ckpt_name": "a.safetensors"}})
	run := api.NewRun(g, nil, nil)

	res := &countingResolver{}
	c, err := New(rules.Builtin(nil), res, 0, nil)
	require.NoError(t, err)

	c.GetInputs(run, Options{})
	c.GetInputs(run, Options{})
	assert.Equal(t, 1, res.calls, "second pass served from memo")

	c.GetInputs(api.NewRun(g, nil, nil), Options{})
	assert.Equal(t, 2, res.calls, "memo is per run")
}

func TestGetInputs_ResolverErrorSkipsNode(t *testing.T) {
	res := &countingResolver{err: errors.New("boom")}
	c, err := New(rules.Builtin(nil), res, 0, nil)
	require.NoError(t, err)
	got := c.GetInputs(basicRun(), Options{})
	assert.Empty(t, got)
	assert.Positive(t, res.calls)
}

func TestOutputResolver_Hidden(t *testing.T) {
	run := basicRun()
	run.ExtraData["extra_pnginfo"] = map[string]any{"workflow": "w"}
	node, _ := run.Graph.Get("3")

	r, err := OutputResolver{}.Resolve(run, "3", node)
	require.NoError(t, err)
	assert.Equal(t, "3", r.Hidden[HiddenUniqueID])
	assert.Equal(t, map[string]any{"workflow": "w"}, r.Hidden[HiddenExtraPNGInfo])
	assert.Same(t, run.Graph, r.Hidden[HiddenPrompt])
	assert.ElementsMatch(t, []string{"model", "positive", "negative", "latent_image"}, r.Missing)
}

func TestFlatten(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want any
	}{
		{"scalar", "x", "x"},
		{"flat", []any{1, 2, 3}, 3},
		{"trailing nil", []any{1, nil}, 1},
		{"nested", []any{[]any{1, 2}, []any{3, []any{4}}}, 4},
		{"all nil", []any{nil, []any{nil}}, nil},
		{"empty", []any{}, nil},
		{"map", map[string]any{"a": 1}, map[string]any{"a": 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Flatten(tt.in))
		})
	}
}
