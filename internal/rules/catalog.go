// Package rules holds the per-node-type extraction catalog: for each class
// type, which resolved inputs map onto which metadata field.
//
// Node types are onboarded by adding data to a Catalog (in Go via Register
// or from an HCL file via LoadHCL), never by adding dispatch code.
package rules

import (
	"sort"

	"github.com/agentic-research/eaglemeta/api"
)

// Selector computes a field value directly from a node and its run.
// It may return nil, a scalar, or a []any with one element per occurrence.
type Selector func(id string, node *api.Node, run *api.Run, in api.Inputs) any

// Validator gates a rule. A false result skips the rule for that node.
type Validator func(id string, node *api.Node, run *api.Run, in api.Inputs) bool

// Formatter post-processes the raw value of a field rule.
type Formatter struct {
	Name string
	// Hash marks formatters that compute file hashes. They are skipped,
	// producing nil, when hash calculation is disabled.
	Hash  bool
	Apply func(v any, in api.Inputs) any
}

// Kind tags which variant a Rule is.
type Kind int

const (
	// KindInput reads a named resolved input.
	KindInput Kind = iota
	// KindConstant emits a fixed value.
	KindConstant
	// KindSelector calls a Selector.
	KindSelector
)

// Rule is one extraction rule. Exactly one of Value, Selector or Input
// applies, as given by Kind. Validate is honoured for every kind.
type Rule struct {
	Kind     Kind
	Value    any
	Selector Selector
	Input    string
	// Path is an optional JSONPath evaluated against the input value.
	Path     string
	Format   *Formatter
	Validate Validator
}

// Input returns a rule reading the named resolved input.
func Input(name string) Rule {
	return Rule{Kind: KindInput, Input: name}
}

// Const returns a rule emitting v.
func Const(v any) Rule {
	return Rule{Kind: KindConstant, Value: v}
}

// Select returns a rule delegating to fn.
func Select(fn Selector) Rule {
	return Rule{Kind: KindSelector, Selector: fn}
}

// WithFormat attaches a formatter.
func (r Rule) WithFormat(f *Formatter) Rule {
	r.Format = f
	return r
}

// WithValidate attaches a validator.
func (r Rule) WithValidate(v Validator) Rule {
	r.Validate = v
	return r
}

// WithPath attaches a JSONPath applied to the input value.
func (r Rule) WithPath(p string) Rule {
	r.Path = p
	return r
}

// Entry binds a rule to the field it produces.
type Entry struct {
	Field api.Field
	Rule  Rule
}

// On is shorthand for building an Entry.
func On(f api.Field, r Rule) Entry {
	return Entry{Field: f, Rule: r}
}

// PromptInputs names the conditioning inputs of a node that consumes prompts.
type PromptInputs struct {
	Positive string
	Negative string
}

// Catalog is the extraction rule table keyed by class type.
type Catalog struct {
	nodes      map[string][]Entry
	encoders   map[string]bool
	samplers   map[string]bool
	consumers  map[string]PromptInputs
	formatters map[string]*Formatter
	validators map[string]Validator
}

// NewCatalog returns an empty catalog with the standard validators
// registered.
func NewCatalog() *Catalog {
	c := &Catalog{
		nodes:      make(map[string][]Entry),
		encoders:   make(map[string]bool),
		samplers:   make(map[string]bool),
		consumers:  make(map[string]PromptInputs),
		formatters: make(map[string]*Formatter),
		validators: make(map[string]Validator),
	}
	c.RegisterValidator("is_positive_prompt", c.IsPositivePrompt)
	c.RegisterValidator("is_negative_prompt", c.IsNegativePrompt)
	return c
}

// Register adds entries for a class type. An entry for a field that is
// already registered replaces the earlier rule in place.
func (c *Catalog) Register(classType string, entries ...Entry) {
	existing := c.nodes[classType]
	for _, e := range entries {
		replaced := false
		for i := range existing {
			if existing[i].Field == e.Field {
				existing[i] = e
				replaced = true
				break
			}
		}
		if !replaced {
			existing = append(existing, e)
		}
	}
	c.nodes[classType] = existing
}

// Rules returns the entries of a class type in registration order.
func (c *Catalog) Rules(classType string) ([]Entry, bool) {
	e, ok := c.nodes[classType]
	return e, ok && len(e) > 0
}

// ClassTypes returns every class type with rules, sorted.
func (c *Catalog) ClassTypes() []string {
	out := make([]string, 0, len(c.nodes))
	for k, v := range c.nodes {
		if len(v) > 0 {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// MarkTextEncoder flags class types as prompt text encoders. Capture can
// exclude them when prompts are supplied another way.
func (c *Catalog) MarkTextEncoder(classTypes ...string) {
	for _, t := range classTypes {
		c.encoders[t] = true
	}
}

// IsTextEncoder reports whether classType is a text encoder.
func (c *Catalog) IsTextEncoder(classType string) bool {
	return c.encoders[classType]
}

// RegisterSampler marks a class type as a sampler node. Samplers are the
// anchor of the sampler-scoped trace. If in names conditioning inputs, the
// sampler also takes part in positive/negative prompt detection.
func (c *Catalog) RegisterSampler(classType string, in PromptInputs) {
	c.samplers[classType] = true
	if in != (PromptInputs{}) {
		c.consumers[classType] = in
	}
}

// RegisterGuider records a prompt consumer that is not itself a sampler,
// such as a guider feeding a custom sampler.
func (c *Catalog) RegisterGuider(classType string, in PromptInputs) {
	c.consumers[classType] = in
}

// IsSampler reports whether classType is a sampler node.
func (c *Catalog) IsSampler(classType string) bool {
	return c.samplers[classType]
}

// RegisterFormatter makes a formatter addressable by name from HCL.
func (c *Catalog) RegisterFormatter(f *Formatter) {
	c.formatters[f.Name] = f
}

// Formatter looks up a named formatter.
func (c *Catalog) Formatter(name string) (*Formatter, bool) {
	f, ok := c.formatters[name]
	return f, ok
}

// RegisterValidator makes a validator addressable by name from HCL.
func (c *Catalog) RegisterValidator(name string, v Validator) {
	c.validators[name] = v
}

// Validator looks up a named validator.
func (c *Catalog) Validator(name string) (Validator, bool) {
	v, ok := c.validators[name]
	return v, ok
}
