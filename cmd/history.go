package cmd

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/agentic-research/eaglemeta/internal/store"
	"github.com/spf13/cobra"
)

var (
	historyLimit int
	historyRun   string
)

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of entries to show")
	historyCmd.Flags().StringVar(&historyRun, "run", "", "Show only entries of this run id")
	historyCmd.AddCommand(historyShowCmd)
	rootCmd.AddCommand(historyCmd)
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recently saved images and their parameters",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := store.Open(historyPath())
		if err != nil {
			return err
		}
		defer func() { _ = s.Close() }()

		var entries []store.Entry
		if historyRun != "" {
			entries, err = s.ByRun(cmd.Context(), historyRun)
		} else {
			entries, err = s.Recent(cmd.Context(), historyLimit)
		}
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "ID\tCREATED\tSINK\tFILE\tPROMPT")
		for _, e := range entries {
			prompt, _, _ := strings.Cut(e.Parameters, "\n")
			if r := []rune(prompt); len(r) > 40 {
				prompt = string(r[:40]) + "..."
			}
			_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
				e.ID, e.CreatedAt.Format("2006-01-02 15:04:05"), e.SinkID, e.FilePath, prompt)
		}
		return w.Flush()
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Print one saved image with its full parameters and record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid id %q", args[0])
		}
		s, err := store.Open(historyPath())
		if err != nil {
			return err
		}
		defer func() { _ = s.Close() }()

		e, err := s.Get(cmd.Context(), id)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("no history entry %d", id)
		}
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		_, _ = fmt.Fprintf(out, "ID:      %d\nRun:     %s\nSink:    %s\nFile:    %s\nCreated: %s\n\n%s\n",
			e.ID, e.RunID, e.SinkID, e.FilePath, e.CreatedAt.Format("2006-01-02 15:04:05"), e.Parameters)
		if len(e.Record) > 0 {
			var buf bytes.Buffer
			if err := json.Indent(&buf, e.Record, "", "  "); err != nil {
				return fmt.Errorf("decode record: %w", err)
			}
			_, _ = fmt.Fprintf(out, "\n%s\n", buf.String())
		}
		return nil
	},
}
