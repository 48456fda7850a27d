package rules

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/agentic-research/eaglemeta/api"
	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/zclconf/go-cty/cty"
)

// Extension files onboard node types without code:
//
//	node "MyLoader" {
//	  field "model_name" { input = "ckpt_name" }
//	  field "model_hash" {
//	    input  = "ckpt_name"
//	    format = "model_hash"
//	  }
//	}
//
//	node "MySampler" {
//	  sampler {
//	    positive = "positive"
//	    negative = "negative"
//	  }
//	  field "seed" { input = "seed" }
//	}
type hclFile struct {
	Nodes []hclNode `hcl:"node,block"`
}

type hclNode struct {
	ClassType   string     `hcl:"class_type,label"`
	TextEncoder *bool      `hcl:"text_encoder,optional"`
	Sampler     *hclPrompt `hcl:"sampler,block"`
	Guider      *hclPrompt `hcl:"guider,block"`
	Fields      []hclField `hcl:"field,block"`
}

type hclPrompt struct {
	Positive string `hcl:"positive,optional"`
	Negative string `hcl:"negative,optional"`
}

type hclField struct {
	Name     string    `hcl:"name,label"`
	Input    *string   `hcl:"input,optional"`
	Path     *string   `hcl:"path,optional"`
	Format   *string   `hcl:"format,optional"`
	Validate *string   `hcl:"validate,optional"`
	Value    cty.Value `hcl:"value,optional"`
}

// LoadHCL reads an extension file into c.
func (c *Catalog) LoadHCL(path string) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read rules file: %w", err)
	}
	return c.LoadHCLBytes(path, src)
}

// LoadHCLBytes decodes extension rules from src. The filename selects the
// syntax (.hcl or .json) and appears in diagnostics. Nothing is registered
// if any block is invalid.
func (c *Catalog) LoadHCLBytes(filename string, src []byte) error {
	var f hclFile
	if err := hclsimple.Decode(filename, src, nil, &f); err != nil {
		return fmt.Errorf("decode rules: %w", err)
	}

	type pending struct {
		classType string
		entries   []Entry
	}
	var all []pending
	for _, n := range f.Nodes {
		entries := make([]Entry, 0, len(n.Fields))
		for _, hf := range n.Fields {
			e, err := c.decodeField(hf)
			if err != nil {
				return fmt.Errorf("node %q: %w", n.ClassType, err)
			}
			entries = append(entries, e)
		}
		all = append(all, pending{n.ClassType, entries})
	}

	for i, p := range all {
		n := f.Nodes[i]
		c.Register(p.classType, p.entries...)
		if n.TextEncoder != nil && *n.TextEncoder {
			c.MarkTextEncoder(p.classType)
		}
		if n.Sampler != nil {
			c.RegisterSampler(p.classType, PromptInputs(*n.Sampler))
		}
		if n.Guider != nil {
			c.RegisterGuider(p.classType, PromptInputs(*n.Guider))
		}
	}
	return nil
}

func (c *Catalog) decodeField(hf hclField) (Entry, error) {
	field, ok := api.ParseField(hf.Name)
	if !ok {
		return Entry{}, fmt.Errorf("unknown field %q", hf.Name)
	}

	var r Rule
	switch {
	case !hf.Value.IsNull():
		v, err := ctyToValue(hf.Value)
		if err != nil {
			return Entry{}, fmt.Errorf("field %q: %w", hf.Name, err)
		}
		r = Const(v)
	case hf.Input != nil && *hf.Input != "":
		r = Input(*hf.Input)
	default:
		return Entry{}, fmt.Errorf("field %q: one of input or value is required", hf.Name)
	}

	if hf.Path != nil && *hf.Path != "" {
		r = r.WithPath(*hf.Path)
	}
	if hf.Format != nil && *hf.Format != "" {
		fm, ok := c.Formatter(*hf.Format)
		if !ok {
			return Entry{}, fmt.Errorf("field %q: unknown format %q", hf.Name, *hf.Format)
		}
		r = r.WithFormat(fm)
	}
	if hf.Validate != nil && *hf.Validate != "" {
		v, ok := c.Validator(*hf.Validate)
		if !ok {
			return Entry{}, fmt.Errorf("field %q: unknown validator %q", hf.Name, *hf.Validate)
		}
		r = r.WithValidate(v)
	}
	return On(field, r), nil
}

func ctyToValue(v cty.Value) (any, error) {
	switch v.Type() {
	case cty.String:
		return v.AsString(), nil
	case cty.Bool:
		return v.True(), nil
	case cty.Number:
		return json.Number(v.AsBigFloat().Text('f', -1)), nil
	}
	return nil, fmt.Errorf("unsupported value type %s", v.Type().FriendlyName())
}
