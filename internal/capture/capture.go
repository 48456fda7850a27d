// Package capture applies the rule catalog to every node of a run and
// collects the candidate values of each metadata field.
package capture

import (
	"fmt"

	"github.com/agentic-research/eaglemeta/api"
	"github.com/agentic-research/eaglemeta/internal/rules"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/ohler55/ojg/jp"
	"go.uber.org/zap"
)

// Entry is one captured occurrence of a field.
type Entry struct {
	NodeID string
	Value  any
}

// Captured maps each field to its occurrences in graph iteration order.
type Captured map[api.Field][]Entry

// Options control a capture pass.
type Options struct {
	// CalcHashes enables hash formatters. When false they yield nil.
	CalcHashes bool
	// ExcludePrompts skips text encoder nodes, for callers that supply
	// prompts some other way.
	ExcludePrompts bool
}

type memoKey struct {
	run  string
	node string
}

// Capturer runs the catalog against a run's graph.
type Capturer struct {
	Catalog  *rules.Catalog
	Resolver InputResolver
	Logger   *zap.Logger

	memo *lru.Cache[memoKey, Resolved]
}

// New creates a capturer. memoSize bounds the resolved-input memo; zero
// picks a default.
func New(catalog *rules.Catalog, resolver InputResolver, memoSize int, logger *zap.Logger) (*Capturer, error) {
	if memoSize <= 0 {
		memoSize = 1024
	}
	memo, err := lru.New[memoKey, Resolved](memoSize)
	if err != nil {
		return nil, fmt.Errorf("create input memo: %w", err)
	}
	if resolver == nil {
		resolver = OutputResolver{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Capturer{Catalog: catalog, Resolver: resolver, Logger: logger, memo: memo}, nil
}

func (c *Capturer) resolve(run *api.Run, id string, node *api.Node) (Resolved, error) {
	key := memoKey{run.ID, id}
	if r, ok := c.memo.Get(key); ok {
		return r, nil
	}
	r, err := c.Resolver.Resolve(run, id, node)
	if err != nil {
		return Resolved{}, err
	}
	c.memo.Add(key, r)
	return r, nil
}

// GetInputs captures every field the catalog knows how to extract. Nodes
// whose inputs cannot be resolved are logged and skipped.
func (c *Capturer) GetInputs(run *api.Run, opts Options) Captured {
	out := make(Captured)
	if run == nil || run.Graph == nil || c.Catalog == nil {
		return out
	}

	for _, id := range run.Graph.IDs() {
		node, _ := run.Graph.Get(id)
		entries, ok := c.Catalog.Rules(node.ClassType)
		if !ok {
			continue
		}
		if opts.ExcludePrompts && c.Catalog.IsTextEncoder(node.ClassType) {
			continue
		}

		r, err := c.resolve(run, id, node)
		if err != nil {
			c.Logger.Warn("resolve node inputs", zap.String("node", id), zap.String("class_type", node.ClassType), zap.Error(err))
			continue
		}
		if len(r.Missing) > 0 {
			c.Logger.Debug("node inputs missing", zap.String("node", id), zap.Strings("inputs", r.Missing))
		}

		for _, e := range entries {
			for _, v := range c.apply(id, node, run, r.Values, e.Rule, opts) {
				out[e.Field] = append(out[e.Field], Entry{NodeID: id, Value: v})
			}
		}
	}
	return out
}

// apply evaluates one rule and returns the values it emits, in order.
func (c *Capturer) apply(id string, node *api.Node, run *api.Run, in api.Inputs, r rules.Rule, opts Options) []any {
	if r.Validate != nil && !r.Validate(id, node, run, in) {
		return nil
	}

	switch r.Kind {
	case rules.KindConstant:
		if r.Value == nil {
			return nil
		}
		return []any{r.Value}

	case rules.KindSelector:
		if r.Selector == nil {
			return nil
		}
		v := r.Selector(id, node, run, in)
		if list, ok := v.([]any); ok {
			if r.Format != nil {
				list = formatEach(list, r.Format, in, opts)
			}
			return list
		}
		if v == nil {
			return nil
		}
		return []any{format(v, r.Format, in, opts)}

	case rules.KindInput:
		raw, ok := in[r.Input]
		if !ok || raw == nil {
			return nil
		}
		v := Flatten(raw)
		if v == nil {
			return nil
		}
		if r.Path != "" {
			x, err := jp.ParseString(r.Path)
			if err != nil {
				c.Logger.Warn("invalid jsonpath", zap.String("node", id), zap.String("path", r.Path), zap.Error(err))
				return nil
			}
			return formatEach(x.Get(v), r.Format, in, opts)
		}
		v = format(v, r.Format, in, opts)
		if list, ok := v.([]any); ok {
			return list
		}
		return []any{v}
	}
	return nil
}

func format(v any, f *rules.Formatter, in api.Inputs, opts Options) any {
	if f == nil {
		return v
	}
	if f.Hash && !opts.CalcHashes {
		return nil
	}
	return f.Apply(v, in)
}

func formatEach(list []any, f *rules.Formatter, in api.Inputs, opts Options) []any {
	if f == nil {
		return list
	}
	out := make([]any, len(list))
	for i, v := range list {
		out[i] = format(v, f, in, opts)
	}
	return out
}

// Flatten reduces a nested batch value to its deepest-last non-nil leaf:
// the value of the most recent iteration. Non-list values are returned
// unchanged.
func Flatten(v any) any {
	list, ok := v.([]any)
	if !ok {
		return v
	}
	for i := len(list) - 1; i >= 0; i-- {
		if leaf := Flatten(list[i]); leaf != nil {
			return leaf
		}
	}
	return nil
}
