package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/agentic-research/eaglemeta/internal/graph"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func init() {
	rootCmd.AddCommand(traceCmd)
}

var traceCmd = &cobra.Command{
	Use:   "trace [run.json|-] [node-id]",
	Short: "List every node upstream of a node with its distance",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		run, err := readRun(cmd, args[0])
		if err != nil {
			return err
		}
		tree := graph.Trace(args[1], run.Graph)
		root, ok := tree.Root()
		if !ok {
			return fmt.Errorf("node %q not found", args[1])
		}
		logger.Debug("traced", zap.String("root", root), zap.Int("nodes", tree.Len()))
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "ID\tDISTANCE\tCLASS")
		for _, id := range tree.IDs() {
			hop, _ := tree.Get(id)
			_, _ = fmt.Fprintf(w, "%s\t%d\t%s\n", id, hop.Distance, hop.ClassType)
		}
		return w.Flush()
	},
}
