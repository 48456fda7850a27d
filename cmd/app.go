package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/agentic-research/eaglemeta/api"
	"github.com/agentic-research/eaglemeta/internal/assemble"
	"github.com/agentic-research/eaglemeta/internal/capture"
	"github.com/agentic-research/eaglemeta/internal/graph"
	"github.com/agentic-research/eaglemeta/internal/hashing"
	"github.com/agentic-research/eaglemeta/internal/rules"
	"github.com/spf13/cobra"
)

// pipelineFlags are shared by every command that assembles metadata.
type pipelineFlags struct {
	method    string
	samplerID string
	civitai   bool
	hashes    bool
}

func (f *pipelineFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.method, "method", "m", "", "Sampler selection: Farthest, Nearest or \"By node ID\" (default from config)")
	cmd.Flags().StringVar(&f.samplerID, "sampler-id", "", "Sampler node id for \"By node ID\"")
	cmd.Flags().BoolVar(&f.civitai, "civitai", false, "Use Civitai sampler names")
	cmd.Flags().BoolVar(&f.hashes, "hashes", false, "Compute model hashes")
}

func (f *pipelineFlags) options(cmd *cobra.Command) (assemble.PipelineOptions, error) {
	name := cfg.SamplerMethod
	if f.method != "" {
		name = f.method
	}
	method, err := graph.ParseSelectionMethod(name)
	if err != nil {
		return assemble.PipelineOptions{}, err
	}
	opts := assemble.PipelineOptions{
		Method:         method,
		SamplerID:      f.samplerID,
		CivitaiSampler: cfg.CivitaiSampler,
		CalcHashes:     cfg.CalcHashes,
	}
	if cmd.Flags().Changed("civitai") {
		opts.CivitaiSampler = f.civitai
	}
	if cmd.Flags().Changed("hashes") {
		opts.CalcHashes = f.hashes
	}
	return opts, nil
}

// newPipeline wires the hasher, rule catalog and capturer from config.
func newPipeline() (*assemble.Pipeline, error) {
	hasher, err := hashing.NewHasher(&hashing.Locator{Roots: []string{cfg.ModelsDir}}, cfg.HashCacheSize, logger)
	if err != nil {
		return nil, err
	}
	catalog := rules.Builtin(hasher)
	if cfg.RulesFile != "" {
		if err := catalog.LoadHCL(cfg.RulesFile); err != nil {
			return nil, err
		}
		logger.Sugar().Debugf("loaded rules from %s", cfg.RulesFile)
	}
	c, err := capture.New(catalog, capture.OutputResolver{}, 0, logger)
	if err != nil {
		return nil, err
	}
	return assemble.NewPipeline(c, logger), nil
}

// readRun loads a run document from path, or stdin for "-".
func readRun(cmd *cobra.Command, path string) (*api.Run, error) {
	var r io.Reader = cmd.InOrStdin()
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open run document: %w", err)
		}
		defer func() { _ = f.Close() }()
		r = f
	}
	doc, err := api.ReadRunDocument(r)
	if err != nil {
		return nil, err
	}
	return doc.Run(), nil
}

func historyPath() string {
	if cfg.HistoryDB != "" {
		return cfg.HistoryDB
	}
	return filepath.Join(cfg.OutputDir, "eaglemeta-history.db")
}
