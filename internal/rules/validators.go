package rules

import (
	"sort"
	"strings"

	"github.com/agentic-research/eaglemeta/api"
	"github.com/agentic-research/eaglemeta/internal/graph"
)

// maxConditioningDepth bounds how many conditioning passthrough nodes
// (combine, set-area, timestep-range and similar) are followed between a
// prompt consumer and the encoder.
const maxConditioningDepth = 10

// IsPositivePrompt reports whether node id feeds the positive conditioning
// input of some registered sampler or guider in the run's graph.
func (c *Catalog) IsPositivePrompt(id string, _ *api.Node, run *api.Run, _ api.Inputs) bool {
	return c.feedsPrompt(id, run, func(in PromptInputs) string { return in.Positive })
}

// IsNegativePrompt reports whether node id feeds the negative conditioning
// input of some registered sampler or guider in the run's graph.
func (c *Catalog) IsNegativePrompt(id string, _ *api.Node, run *api.Run, _ api.Inputs) bool {
	return c.feedsPrompt(id, run, func(in PromptInputs) string { return in.Negative })
}

func (c *Catalog) feedsPrompt(id string, run *api.Run, pick func(PromptInputs) string) bool {
	if run == nil || run.Graph == nil {
		return false
	}
	g := run.Graph
	for _, nid := range g.IDs() {
		node, _ := g.Get(nid)
		in, ok := c.consumers[node.ClassType]
		if !ok {
			continue
		}
		name := pick(in)
		if name == "" {
			continue
		}
		if reaches(g, node.Inputs[name], name, id, maxConditioningDepth) {
			return true
		}
	}
	return false
}

// reaches follows an edge and then conditioning-typed inputs upstream until
// it lands on target or runs out of depth.
func reaches(g *api.Graph, v any, name, target string, depth int) bool {
	if depth < 0 {
		return false
	}
	ref, ok := api.AsEdgeRef(v)
	if !ok {
		return false
	}
	from, ok := graph.Resolve(ref.From, g)
	if !ok {
		return false
	}
	if from == target {
		return true
	}
	if t, ok := graph.Resolve(target, g); ok && t == from {
		return true
	}

	node, _ := g.Get(from)
	keys := make([]string, 0, len(node.Inputs))
	for k := range node.Inputs {
		if k == name || strings.HasPrefix(k, "conditioning") {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		if reaches(g, node.Inputs[k], k, target, depth-1) {
			return true
		}
	}
	return false
}
