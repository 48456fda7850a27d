package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"
)

// OutputCache exposes outputs the host has already computed.
type OutputCache interface {
	// Output returns the per-slot values produced by node from for the edge
	// from -> to. The destination is accepted for interface parity only.
	Output(from, to string) ([]any, bool)
}

// Outputs is an OutputCache backed by node id -> slot values.
type Outputs map[string][]any

// Output implements OutputCache.
func (o Outputs) Output(from, _ string) ([]any, bool) {
	v, ok := o[from]
	return v, ok
}

// Run is the context of one generation run. It is built once when the run
// starts and passed explicitly to every capture and assembly call.
type Run struct {
	ID        string
	Graph     *Graph
	ExtraData map[string]any
	Outputs   OutputCache
}

// NewRun creates a run context with a fresh id.
func NewRun(g *Graph, extra map[string]any, outputs OutputCache) *Run {
	if g == nil {
		g = NewGraph()
	}
	if extra == nil {
		extra = map[string]any{}
	}
	if outputs == nil {
		outputs = Outputs{}
	}
	return &Run{
		ID:        uuid.NewString(),
		Graph:     g,
		ExtraData: extra,
		Outputs:   outputs,
	}
}

// RunDocument is the on-disk form of a run accepted by the CLI and the MCP
// server.
type RunDocument struct {
	Prompt    *Graph         `json:"prompt"`
	ExtraData map[string]any `json:"extra_data,omitempty"`
	Outputs   Outputs        `json:"outputs,omitempty"`
}

// ReadRunDocument decodes a run document, keeping numbers as json.Number.
func ReadRunDocument(r io.Reader) (*RunDocument, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read run document: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	doc := &RunDocument{Prompt: NewGraph()}
	if err := dec.Decode(doc); err != nil {
		return nil, fmt.Errorf("decode run document: %w", err)
	}
	if doc.Prompt == nil {
		doc.Prompt = NewGraph()
	}
	return doc, nil
}

// Run converts the document into a run context.
func (d *RunDocument) Run() *Run {
	var outputs OutputCache = d.Outputs
	if d.Outputs == nil {
		outputs = nil
	}
	return NewRun(d.Prompt, d.ExtraData, outputs)
}
