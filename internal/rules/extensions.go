package rules

import (
	"sort"
	"strings"

	"github.com/agentic-research/eaglemeta/api"
	"github.com/ohler55/ojg/jp"
)

// https://github.com/asagi4/comfyui-prompt-control
func registerPromptControl(c *Catalog) {
	types := []string{
		"PCTextEncode",
		"PCTextEncodeWithRange",
		"PCLazyTextEncode",
		"PCLazyTextEncodeAdvanced",
	}
	for _, t := range types {
		c.Register(t,
			On(api.PositivePrompt, Input("text").WithValidate(c.IsPositivePrompt)),
			On(api.NegativePrompt, Input("text").WithValidate(c.IsNegativePrompt)),
		)
	}
	c.MarkTextEncoder(types...)
}

// rgthree's Power Lora Loader stores each LoRA as a widget dict
// {"on": bool, "lora": name, "strength": x, "strengthTwo": y} under
// inputs lora_1, lora_2, ...
var (
	enabledLoraNames     = jp.MustParseString(`$[?(@.on == true)].lora`)
	enabledLoraSlots     = jp.MustParseString(`$[?(@.on == true)]`)
	powerLoraClassType   = "Power Lora Loader (rgthree)"
	powerLoraInputPrefix = "lora_"
)

// powerLoraSlots returns the lora widget dicts in slot order.
func powerLoraSlots(in api.Inputs) []any {
	var keys []string
	for k, v := range in {
		if !strings.HasPrefix(strings.ToLower(k), powerLoraInputPrefix) {
			continue
		}
		if _, ok := v.(map[string]any); ok {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) < len(keys[j])
		}
		return keys[i] < keys[j]
	})
	out := make([]any, len(keys))
	for i, k := range keys {
		out[i] = in[k]
	}
	return out
}

func powerLoraNames(_ string, _ *api.Node, _ *api.Run, in api.Inputs) any {
	return enabledLoraNames.Get(powerLoraSlots(in))
}

func powerLoraStrength(clip bool) Selector {
	return func(_ string, _ *api.Node, _ *api.Run, in api.Inputs) any {
		var out []any
		for _, slot := range enabledLoraSlots.Get(powerLoraSlots(in)) {
			m, ok := slot.(map[string]any)
			if !ok {
				continue
			}
			v := m["strength"]
			if clip {
				if two, ok := m["strengthTwo"]; ok && two != nil {
					v = two
				}
			}
			out = append(out, v)
		}
		return out
	}
}

// https://github.com/rgthree/rgthree-comfy
func registerRgthree(c *Catalog) {
	c.Register(powerLoraClassType,
		On(api.LoraModelName, Select(powerLoraNames)),
		On(api.LoraModelHash, Select(powerLoraNames).WithFormat(c.format("lora_hash"))),
		On(api.LoraStrengthModel, Select(powerLoraStrength(false))),
		On(api.LoraStrengthClip, Select(powerLoraStrength(true))),
	)
}
