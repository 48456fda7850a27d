package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/agentic-research/eaglemeta/api"
	"github.com/agentic-research/eaglemeta/internal/assemble"
	"github.com/agentic-research/eaglemeta/internal/graph"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(mcpCmd)
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve metadata extraction as MCP tools over stdio",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := newPipeline()
		if err != nil {
			return err
		}
		return server.ServeStdio(newMCPServer(p, cmd.Root().Version))
	},
}

func newMCPServer(p *assemble.Pipeline, version string) *server.MCPServer {
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer("eaglemeta", version, server.WithToolCapabilities(false))

	s.AddTool(mcp.NewTool("build_parameters",
		mcp.WithDescription("Assemble the A1111-style parameters string and metadata record for an output node of a ComfyUI run"),
		mcp.WithString("run", mcp.Required(), mcp.Description(`Run document JSON: {"prompt": {...}, "extra_data": {...}, "outputs": {...}}`)),
		mcp.WithString("sink_id", mcp.Required(), mcp.Description("Id of the output node")),
		mcp.WithString("method", mcp.Description("Sampler selection: Farthest, Nearest or By node ID")),
		mcp.WithString("sampler_id", mcp.Description("Sampler node id for By node ID")),
		mcp.WithBoolean("civitai_sampler", mcp.Description("Use Civitai sampler names")),
		mcp.WithBoolean("calc_hashes", mcp.Description("Compute model hashes")),
	), buildParametersTool(p))

	s.AddTool(mcp.NewTool("trace",
		mcp.WithDescription("List the nodes upstream of a node with their BFS distance"),
		mcp.WithString("run", mcp.Required(), mcp.Description("Run document JSON")),
		mcp.WithString("node_id", mcp.Required(), mcp.Description("Node to trace from")),
	), traceTool)
	return s
}

func decodeRun(req mcp.CallToolRequest) (*api.Run, error) {
	raw, err := req.RequireString("run")
	if err != nil {
		return nil, err
	}
	doc, err := api.ReadRunDocument(strings.NewReader(raw))
	if err != nil {
		return nil, err
	}
	return doc.Run(), nil
}

func buildParametersTool(p *assemble.Pipeline) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		run, err := decodeRun(req)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		sinkID, err := req.RequireString("sink_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		method, err := graph.ParseSelectionMethod(req.GetString("method", ""))
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		res := p.Build(run, sinkID, assemble.PipelineOptions{
			Method:         method,
			SamplerID:      req.GetString("sampler_id", ""),
			CivitaiSampler: req.GetBool("civitai_sampler", false),
			CalcHashes:     req.GetBool("calc_hashes", false),
		})
		out, err := json.Marshal(struct {
			Parameters string           `json:"parameters"`
			Record     *assemble.Record `json:"record"`
			SamplerID  string           `json:"sampler_id,omitempty"`
		}{res.Parameters, res.Record, res.SamplerID})
		if err != nil {
			return nil, fmt.Errorf("encode result: %w", err)
		}
		return mcp.NewToolResultText(string(out)), nil
	}
}

func traceTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	run, err := decodeRun(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	nodeID, err := req.RequireString("node_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	tree := graph.Trace(nodeID, run.Graph)
	if _, ok := tree.Root(); !ok {
		return mcp.NewToolResultError(fmt.Sprintf("node %q not found", nodeID)), nil
	}
	type hop struct {
		ID        string `json:"id"`
		Distance  int    `json:"distance"`
		ClassType string `json:"class_type"`
	}
	hops := make([]hop, 0, tree.Len())
	for _, id := range tree.IDs() {
		h, _ := tree.Get(id)
		hops = append(hops, hop{id, h.Distance, h.ClassType})
	}
	out, err := json.Marshal(hops)
	if err != nil {
		return nil, fmt.Errorf("encode trace: %w", err)
	}
	return mcp.NewToolResultText(string(out)), nil
}
