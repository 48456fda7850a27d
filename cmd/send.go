package cmd

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/agentic-research/eaglemeta/internal/eagle"
	"github.com/agentic-research/eaglemeta/internal/sink"
	"github.com/agentic-research/eaglemeta/internal/store"
	"github.com/spf13/cobra"
)

var sendOpts struct {
	pipeline     pipelineFlags
	prefix       []string
	folder       []string
	memo         []string
	positive     []string
	negative     []string
	extra        string
	meta         []string
	preset       string
	format       string
	quality      int
	tagPattern   string
	customTags   string
	workflowJSON bool
	noCounter    bool
	saveOnly     bool
	memoMetadata bool
	noHistory    bool
}

func init() {
	f := sendCmd.Flags()
	sendOpts.pipeline.register(sendCmd)
	f.StringArrayVarP(&sendOpts.prefix, "prefix", "p", nil, "Filename prefix; repeat for one per image")
	f.StringArrayVar(&sendOpts.folder, "folder", nil, "Eagle folder name; repeat for one per image")
	f.StringArrayVar(&sendOpts.memo, "memo", nil, "Memo text; repeat for one per image")
	f.StringArrayVar(&sendOpts.positive, "positive", nil, "Manual positive prompt; repeat for one per image")
	f.StringArrayVar(&sendOpts.negative, "negative", nil, "Manual negative prompt; repeat for one per image")
	f.StringVar(&sendOpts.extra, "extra", "", "Extra metadata as a JSON object")
	f.StringArrayVar(&sendOpts.meta, "meta", nil, "Extra metadata as key=value; repeat to chain, later keys win")
	f.StringVar(&sendOpts.preset, "preset", "", "Named defaults for unset flags: simple")
	f.StringVar(&sendOpts.format, "format", "", "Saved format: png, jpeg or webp (default: keep each image's format)")
	f.IntVar(&sendOpts.quality, "quality", sink.DefaultQuality, "JPEG quality when converting")
	f.StringVar(&sendOpts.tagPattern, "tags", sink.TagPatternNone, "Tag pattern")
	f.StringVar(&sendOpts.customTags, "custom-tags", "", "Comma-separated items for the Custom tag pattern")
	f.BoolVar(&sendOpts.workflowJSON, "workflow-json", false, "Save the workflow next to each image")
	f.BoolVar(&sendOpts.noCounter, "no-counter", false, "Do not append a counter to filenames")
	f.BoolVar(&sendOpts.saveOnly, "save-only", false, "Save images without sending them to Eagle")
	f.BoolVar(&sendOpts.memoMetadata, "memo-metadata", true, "Put the parameters string in the Eagle annotation")
	f.BoolVar(&sendOpts.noHistory, "no-history", false, "Do not record saved images in the history database")
	rootCmd.AddCommand(sendCmd)
}

var sendCmd = &cobra.Command{
	Use:   "send [run.json|-] [sink-id] [image]...",
	Short: "Save images with embedded metadata and send them to Eagle",
	Args:  cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := applyPreset(cmd, sendOpts.preset); err != nil {
			return err
		}
		format, err := sink.ParseFormat(sendOpts.format)
		if err != nil {
			return err
		}
		extra, err := sendExtra(sendOpts.extra, sendOpts.meta)
		if err != nil {
			return err
		}
		run, err := readRun(cmd, args[0])
		if err != nil {
			return err
		}
		opts, err := sendOpts.pipeline.options(cmd)
		if err != nil {
			return err
		}
		p, err := newPipeline()
		if err != nil {
			return err
		}
		loc, err := cfg.Location()
		if err != nil {
			return err
		}

		var images [][]byte
		for _, path := range args[2:] {
			b, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read image: %w", err)
			}
			images = append(images, b)
		}

		s := &sink.Sender{
			Pipeline:   p,
			Eagle:      eagle.New(cfg.ServerURL, eagle.WithToken(cfg.APIToken), eagle.WithLogger(logger)),
			OutputDir:  cfg.OutputDir,
			ComfyUIURL: cfg.ComfyUIURL,
			Location:   loc,
			Logger:     logger,
		}
		if !sendOpts.noHistory {
			if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
				return fmt.Errorf("create output dir: %w", err)
			}
			h, err := store.Open(historyPath())
			if err != nil {
				return err
			}
			defer func() { _ = h.Close() }()
			s.History = h
		}

		req := sink.Request{
			Run:              run,
			SinkID:           args[1],
			Images:           images,
			Format:           format,
			Quality:          sendOpts.quality,
			FilenamePrefix:   sendOpts.prefix,
			Pipeline:         opts,
			SaveWorkflowJSON: sendOpts.workflowJSON,
			AddCounter:       !sendOpts.noCounter,
			SaveOnly:         sendOpts.saveOnly,
			MetadataAsMemo:   sendOpts.memoMetadata,
			TagPattern:       sendOpts.tagPattern,
			CustomTagPattern: sink.Batch{sendOpts.customTags},
			Folder:           sendOpts.folder,
			Memo:             sendOpts.memo,
			Positive:         sendOpts.positive,
			Negative:         sendOpts.negative,
		}
		if len(extra) > 0 {
			req.Extra = []sink.ExtraMetadata{extra}
		}

		saved, err := s.Send(cmd.Context(), req)
		for _, sv := range saved {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), sv.Path)
		}
		return err
	},
}

// sendPresets give unset send flags fixed values.
var sendPresets = map[string]map[string]string{
	"simple": {
		"prefix":        "%date:yyyyMMdd-hhmmss_SSSSSS%",
		"no-counter":    "true",
		"civitai":       "true",
		"hashes":        "false",
		"method":        "Farthest",
		"workflow-json": "false",
		"quality":       "95",
	},
}

func applyPreset(cmd *cobra.Command, name string) error {
	if name == "" {
		return nil
	}
	preset, ok := sendPresets[strings.ToLower(name)]
	if !ok {
		return fmt.Errorf("unknown preset %q", name)
	}
	flags := make([]string, 0, len(preset))
	for f := range preset {
		flags = append(flags, f)
	}
	sort.Strings(flags)
	for _, f := range flags {
		if cmd.Flags().Changed(f) {
			continue
		}
		if err := cmd.Flags().Set(f, preset[f]); err != nil {
			return fmt.Errorf("preset %s: %w", name, err)
		}
	}
	return nil
}

// sendExtra merges the --extra object with --meta pairs in order.
func sendExtra(raw string, pairs []string) (sink.ExtraMetadata, error) {
	var extra sink.ExtraMetadata
	if raw != "" {
		extra = sink.ParseExtraMetadata(raw)
	}
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			return nil, fmt.Errorf("--meta %q: want key=value", p)
		}
		extra = extra.Set(strings.TrimSpace(k), strings.TrimSpace(v))
	}
	return extra, nil
}
