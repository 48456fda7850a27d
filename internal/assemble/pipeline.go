package assemble

import (
	"github.com/agentic-research/eaglemeta/api"
	"github.com/agentic-research/eaglemeta/internal/capture"
	"github.com/agentic-research/eaglemeta/internal/graph"
	"go.uber.org/zap"
)

// PipelineOptions configure one sink's metadata assembly.
type PipelineOptions struct {
	Method graph.SelectionMethod
	// SamplerID is consulted only by graph.ByNodeID.
	SamplerID      string
	CivitaiSampler bool
	CalcHashes     bool
	ExcludePrompts bool
}

// Result is the assembled metadata for one sink.
type Result struct {
	Record     *Record
	Parameters string
	// SamplerID is empty when no sampler was selected.
	SamplerID    string
	SinkTrace    *graph.TraceTree
	SamplerTrace *graph.TraceTree
}

// Pipeline wires capture, tracing and assembly together.
type Pipeline struct {
	Capturer *capture.Capturer
	Logger   *zap.Logger
}

// NewPipeline returns a pipeline over c.
func NewPipeline(c *capture.Capturer, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{Capturer: c, Logger: logger}
}

// Build captures the run and assembles the record for sinkID.
func (p *Pipeline) Build(run *api.Run, sinkID string, opts PipelineOptions) *Result {
	captured := p.Capturer.GetInputs(run, capture.Options{
		CalcHashes:     opts.CalcHashes,
		ExcludePrompts: opts.ExcludePrompts,
	})
	return p.BuildFrom(captured, run, sinkID, opts)
}

// BuildFrom assembles the record for sinkID from an existing capture, so a
// run with several sinks captures once.
//
// The sink trace scopes the VAE. The trace from the selected sampler scopes
// everything else; with no sampler that trace is empty and those keys are
// omitted.
func (p *Pipeline) BuildFrom(captured capture.Captured, run *api.Run, sinkID string, opts PipelineOptions) *Result {
	sinkTrace := graph.Trace(sinkID, run.Graph)
	beforeSink := FilterByTrace(captured, sinkTrace)

	if opts.Method == "" {
		opts.Method = graph.Farthest
	}
	isSampler := p.Capturer.Catalog.IsSampler
	samplerID, ok := graph.FindSampler(sinkTrace, opts.Method, opts.SamplerID, isSampler)
	if !ok {
		p.Logger.Debug("no sampler upstream of sink",
			zap.String("sink", sinkID),
			zap.String("method", string(opts.Method)),
			zap.Int("traced", sinkTrace.Len()))
	}
	samplerTrace := graph.Trace(samplerID, run.Graph)
	beforeSampler := FilterByTrace(captured, samplerTrace)

	rec := BuildRecord(beforeSink, beforeSampler, Options{
		CivitaiSampler: opts.CivitaiSampler,
		CalcHashes:     opts.CalcHashes,
	})
	return &Result{
		Record:       rec,
		Parameters:   Serialize(rec),
		SamplerID:    samplerID,
		SinkTrace:    sinkTrace,
		SamplerTrace: samplerTrace,
	}
}
