package cmd

import (
	"fmt"
	"os"

	"github.com/agentic-research/eaglemeta/internal/config"
	"github.com/agentic-research/eaglemeta/internal/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configPath string
	logLevel   string

	cfg    *config.Config
	logger = zap.NewNop()
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file (default ./eaglemeta.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
}

var rootCmd = &cobra.Command{
	Use:   "eaglemeta",
	Short: "Extract generation metadata from ComfyUI runs and send images to Eagle",
	Long: `eaglemeta traces a ComfyUI prompt graph from an output node, collects the
prompts, sampler settings and model resources that produced it, and renders
them as an A1111-style parameters string.

Run documents are JSON: {"prompt": {...}, "extra_data": {...}, "outputs": {...}}.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if logLevel != "" {
			c.LogLevel = logLevel
		}
		l, err := logging.New(c.LogLevel, c.LogDev)
		if err != nil {
			return err
		}
		cfg, logger = c, l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
