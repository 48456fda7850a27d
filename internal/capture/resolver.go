package capture

import (
	"fmt"

	"github.com/agentic-research/eaglemeta/api"
	"github.com/agentic-research/eaglemeta/internal/graph"
)

// Resolved holds a node's inputs after upstream references were replaced
// by the values the host produced for them.
type Resolved struct {
	Values api.Inputs
	// Missing lists inputs that reference outputs the host has not produced.
	Missing []string
	Hidden  map[string]any
}

// InputResolver produces the resolved inputs of one node.
type InputResolver interface {
	Resolve(run *api.Run, id string, node *api.Node) (Resolved, error)
}

// Hidden input names supplied to every node.
const (
	HiddenPrompt       = "prompt"
	HiddenExtraPNGInfo = "extra_pnginfo"
	HiddenUniqueID     = "unique_id"
)

// OutputResolver resolves inputs from the run's output cache. Literals pass
// through; an edge [from, slot] becomes the batch list the upstream node
// produced on that slot.
type OutputResolver struct{}

// Resolve implements InputResolver.
func (OutputResolver) Resolve(run *api.Run, id string, node *api.Node) (Resolved, error) {
	if run == nil || node == nil {
		return Resolved{}, fmt.Errorf("resolve %s: no run or node", id)
	}
	r := Resolved{
		Values: make(api.Inputs, len(node.Inputs)),
		Hidden: map[string]any{
			HiddenPrompt:       run.Graph,
			HiddenExtraPNGInfo: run.ExtraData["extra_pnginfo"],
			HiddenUniqueID:     id,
		},
	}
	for name, v := range node.Inputs {
		ref, ok := api.AsEdgeRef(v)
		if !ok {
			r.Values[name] = v
			continue
		}
		from, ok := graph.Resolve(ref.From, run.Graph)
		if !ok {
			from = ref.From
		}
		var slots []any
		if run.Outputs != nil {
			slots, ok = run.Outputs.Output(from, id)
		}
		if !ok || ref.Slot < 0 || ref.Slot >= len(slots) {
			r.Missing = append(r.Missing, name)
			continue
		}
		r.Values[name] = slots[ref.Slot]
	}
	return r, nil
}
