package graph

import (
	"sort"

	"github.com/RoaringBitmap/roaring"
	"github.com/agentic-research/eaglemeta/api"
)

// Hop records how far a traced node is from the trace root.
type Hop struct {
	Distance  int
	ClassType string
}

// TraceTree is the set of nodes backward-reachable from a root node, each
// annotated with its shortest hop distance. It is read-only once built.
type TraceTree struct {
	hops  map[string]Hop
	order []string // BFS discovery order
}

func newTraceTree() *TraceTree {
	return &TraceTree{hops: make(map[string]Hop)}
}

// Has implements Container.
func (t *TraceTree) Has(id string) bool {
	if t == nil {
		return false
	}
	_, ok := t.hops[id]
	return ok
}

// Get returns the hop recorded for a canonical id.
func (t *TraceTree) Get(id string) (Hop, bool) {
	if t == nil {
		return Hop{}, false
	}
	h, ok := t.hops[id]
	return h, ok
}

// Len returns the number of traced nodes.
func (t *TraceTree) Len() int {
	if t == nil {
		return 0
	}
	return len(t.order)
}

// IDs returns traced ids in discovery order. The root, if any, comes first.
func (t *TraceTree) IDs() []string {
	if t == nil {
		return nil
	}
	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}

// Root returns the id the trace started from.
func (t *TraceTree) Root() (string, bool) {
	if t.Len() == 0 {
		return "", false
	}
	return t.order[0], true
}

func (t *TraceTree) add(id string, distance int, classType string) {
	t.hops[id] = Hop{Distance: distance, ClassType: classType}
	t.order = append(t.order, id)
}

type queueItem struct {
	id       string
	distance int
}

// Trace walks the graph breadth-first from start along input edges.
//
// An unresolvable start yields an empty tree: callers treat that as "no
// upstream context" rather than an error. A node's first-discovery distance
// is final, and the visited set keeps shared subgraphs from being expanded
// more than once.
func Trace(start string, g *api.Graph) *TraceTree {
	tree := newTraceTree()
	root, ok := Resolve(start, g)
	if !ok {
		return tree
	}
	rootNode, _ := g.Get(root)

	ordinals := make(map[string]uint32, g.Len())
	for i, id := range g.IDs() {
		ordinals[id] = uint32(i)
	}
	visited := roaring.New()
	visited.Add(ordinals[root])
	tree.add(root, 0, rootNode.ClassType)

	queue := []queueItem{{id: root, distance: 0}}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		node, ok := g.Get(cur.id)
		if !ok {
			continue
		}
		for _, name := range sortedInputNames(node.Inputs) {
			ref, ok := api.AsEdgeRef(node.Inputs[name])
			if !ok {
				continue
			}
			id, ok := Resolve(ref.From, g)
			if !ok {
				continue
			}
			ord := ordinals[id]
			if visited.Contains(ord) {
				continue
			}
			visited.Add(ord)

			child, _ := g.Get(id)
			tree.add(id, cur.distance+1, child.ClassType)
			queue = append(queue, queueItem{id: id, distance: cur.distance + 1})
		}
	}
	return tree
}

func sortedInputNames(inputs map[string]any) []string {
	names := make([]string, 0, len(inputs))
	for k := range inputs {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
