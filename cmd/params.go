package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	paramsFlags pipelineFlags
	paramsJSON  bool
)

func init() {
	paramsFlags.register(paramsCmd)
	paramsCmd.Flags().BoolVar(&paramsJSON, "json", false, "Print the ordered metadata record as JSON")
	rootCmd.AddCommand(paramsCmd)
}

var paramsCmd = &cobra.Command{
	Use:   "params [run.json|-] [sink-id]",
	Short: "Print the parameters string for an output node",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		run, err := readRun(cmd, args[0])
		if err != nil {
			return err
		}
		opts, err := paramsFlags.options(cmd)
		if err != nil {
			return err
		}
		p, err := newPipeline()
		if err != nil {
			return err
		}
		res := p.Build(run, args[1], opts)

		if paramsJSON {
			out, err := json.MarshalIndent(res.Record, "", "  ")
			if err != nil {
				return fmt.Errorf("encode record: %w", err)
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		}
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), res.Parameters)
		return nil
	},
}
