// Package assemble turns captured field values into the ordered metadata
// record and its A1111-style "parameters" text.
package assemble

import (
	"sort"

	"github.com/agentic-research/eaglemeta/api"
	"github.com/agentic-research/eaglemeta/internal/capture"
	"github.com/agentic-research/eaglemeta/internal/graph"
)

// Item is a captured entry that lies upstream of some trace root.
type Item struct {
	NodeID   string
	Value    any
	Distance int
}

// Filtered maps each field to its traced occurrences, closest first.
// A missing field means nothing upstream produced it.
type Filtered map[api.Field][]Item

// FilterByTrace keeps the captured entries whose origin node is in tree and
// orders each field by distance. Entries at equal distance keep capture
// order.
func FilterByTrace(captured capture.Captured, tree *graph.TraceTree) Filtered {
	out := make(Filtered)
	for field, entries := range captured {
		for _, e := range entries {
			id, ok := graph.Resolve(e.NodeID, tree)
			if !ok {
				continue
			}
			hop, _ := tree.Get(id)
			out[field] = append(out[field], Item{NodeID: e.NodeID, Value: e.Value, Distance: hop.Distance})
		}
	}
	for _, items := range out {
		sort.SliceStable(items, func(i, j int) bool { return items[i].Distance < items[j].Distance })
	}
	return out
}

// ClosestValue returns the value of the closest non-nil item.
func ClosestValue(items []Item) (any, bool) {
	for _, it := range items {
		if it.Value != nil {
			return it.Value, true
		}
	}
	return nil, false
}

// Closest is ClosestValue for one field.
func (f Filtered) Closest(field api.Field) (any, bool) {
	return ClosestValue(f[field])
}
