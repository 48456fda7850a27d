package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Node is a single unit of work in a prompt graph.
// Inputs map an input name to either a literal value or an upstream edge
// reference encoded as [node_id, output_slot].
type Node struct {
	ClassType string         `json:"class_type"`
	Inputs    map[string]any `json:"inputs"`
}

// Graph is a prompt graph keyed by node id.
// Key order is preserved from decoding (or from Add) so that iteration over
// the graph is reproducible for the same input.
type Graph struct {
	nodes map[string]*Node
	order []string
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{nodes: make(map[string]*Node)}
}

// ParseGraph decodes a JSON prompt graph. Numbers are kept as json.Number so
// the literal text survives into rendered metadata.
func ParseGraph(data []byte) (*Graph, error) {
	g := NewGraph()
	if err := json.Unmarshal(data, g); err != nil {
		return nil, err
	}
	return g, nil
}

// Add inserts or replaces a node. New ids are appended to the iteration order.
func (g *Graph) Add(id string, n *Node) {
	if g.nodes == nil {
		g.nodes = make(map[string]*Node)
	}
	if _, exists := g.nodes[id]; !exists {
		g.order = append(g.order, id)
	}
	if n.Inputs == nil {
		n.Inputs = map[string]any{}
	}
	g.nodes[id] = n
}

// Get returns the node stored under the exact id.
func (g *Graph) Get(id string) (*Node, bool) {
	if g == nil {
		return nil, false
	}
	n, ok := g.nodes[id]
	return n, ok
}

// Has reports whether id is an exact key of the graph.
func (g *Graph) Has(id string) bool {
	_, ok := g.Get(id)
	return ok
}

// IDs returns node ids in iteration order.
func (g *Graph) IDs() []string {
	if g == nil {
		return nil
	}
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	if g == nil {
		return 0
	}
	return len(g.order)
}

// UnmarshalJSON implements json.Unmarshaler, recording key order.
func (g *Graph) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("prompt graph must be a JSON object, got %v", tok)
	}

	g.nodes = make(map[string]*Node)
	g.order = nil
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		id, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected key token %v", tok)
		}
		var n Node
		if err := dec.Decode(&n); err != nil {
			return fmt.Errorf("decode node %s: %w", id, err)
		}
		g.Add(id, &n)
	}
	_, err = dec.Token()
	return err
}

// MarshalJSON implements json.Marshaler, writing nodes in iteration order.
func (g *Graph) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, id := range g.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(id)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(g.nodes[id])
		if err != nil {
			return nil, fmt.Errorf("encode node %s: %w", id, err)
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// EdgeRef points at an output slot of an upstream node.
type EdgeRef struct {
	From string
	Slot int
}

// AsEdgeRef reports whether an input value is an edge reference.
func AsEdgeRef(v any) (EdgeRef, bool) {
	pair, ok := v.([]any)
	if !ok || len(pair) != 2 {
		return EdgeRef{}, false
	}
	from, ok := NodeIDOf(pair[0])
	if !ok {
		return EdgeRef{}, false
	}
	slot, ok := intOf(pair[1])
	if !ok {
		return EdgeRef{}, false
	}
	return EdgeRef{From: from, Slot: slot}, true
}

// NodeIDOf converts a node id as it appears in JSON (string or integral
// number) into its string form.
func NodeIDOf(v any) (string, bool) {
	switch id := v.(type) {
	case string:
		return id, id != ""
	case json.Number:
		if n, err := id.Int64(); err == nil {
			return strconv.FormatInt(n, 10), true
		}
		return id.String(), true
	case int:
		return strconv.Itoa(id), true
	case int64:
		return strconv.FormatInt(id, 10), true
	case float64:
		if id == math.Trunc(id) {
			return strconv.FormatInt(int64(id), 10), true
		}
	}
	return "", false
}

func intOf(v any) (int, bool) {
	switch n := v.(type) {
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n == math.Trunc(n) {
			return int(n), true
		}
	}
	return 0, false
}

// Inputs holds a node's resolved input values by input name.
type Inputs map[string]any
