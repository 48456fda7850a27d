package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/agentic-research/eaglemeta/api"
	"github.com/agentic-research/eaglemeta/internal/assemble"
	"github.com/agentic-research/eaglemeta/internal/eagle"
	"github.com/agentic-research/eaglemeta/internal/store"
	"go.uber.org/zap"
)

// DefaultFilenamePrefix is used when no prefix is given for an image.
const DefaultFilenamePrefix = "ComfyUI"

// Eagle is the part of the Eagle client the sender uses.
type Eagle interface {
	FindOrCreateFolder(ctx context.Context, name string) (string, error)
	AddItemFromURL(ctx context.Context, item eagle.Item, folderID string) error
}

// History records saved images.
type History interface {
	Insert(ctx context.Context, e store.Entry) (int64, error)
}

// Batch is a per-image string input. One value applies to every image;
// several apply by index, with images past the end getting the default.
type Batch []string

// At returns the value for image i, or def when there is none.
func (b Batch) At(i int, def string) string {
	switch {
	case len(b) == 1:
		if b[0] == "" {
			return def
		}
		return b[0]
	case i >= 0 && i < len(b):
		return b[i]
	}
	return def
}

// Request is one save-and-send call for the images of a sink.
type Request struct {
	Run    *api.Run
	SinkID string
	// Images are PNG, JPEG or WebP encoded.
	Images [][]byte
	// Format is the saved format. Empty keeps each image's own format.
	Format Format
	// Quality applies when an image is re-encoded as JPEG.
	Quality int

	FilenamePrefix Batch
	Pipeline       assemble.PipelineOptions

	SaveWorkflowJSON bool
	AddCounter       bool
	SaveOnly         bool
	MetadataAsMemo   bool

	TagPattern       string
	CustomTagPattern Batch
	Folder           Batch
	Memo             Batch

	// Extra holds per-image user metadata; a single entry applies to all.
	Extra    []ExtraMetadata
	Positive Prompts
	Negative Prompts
}

func (r *Request) extraAt(i int) ExtraMetadata {
	switch {
	case len(r.Extra) == 1:
		return r.Extra[0]
	case i >= 0 && i < len(r.Extra):
		return r.Extra[i]
	}
	return nil
}

// Saved describes one written image.
type Saved struct {
	Path      string
	Filename  string
	Subfolder string
	// Parameters is the text embedded in the image.
	Parameters string
}

// Sender writes images with metadata and posts them to Eagle.
type Sender struct {
	Pipeline *assemble.Pipeline
	Eagle    Eagle
	// History is optional.
	History    History
	OutputDir  string
	ComfyUIURL string
	// Location is used for %date% placeholders. Nil means local time.
	Location *time.Location
	Now      func() time.Time
	Logger   *zap.Logger
}

func (s *Sender) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

func (s *Sender) now() time.Time {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	t := now()
	if s.Location != nil {
		t = t.In(s.Location)
	}
	return t
}

// Send saves every image of req and, unless req.SaveOnly, sends it to
// Eagle. The record is assembled once and overlaid per image. It returns
// what was written, even when a later Eagle call fails.
func (s *Sender) Send(ctx context.Context, req Request) ([]Saved, error) {
	if req.Run == nil {
		return nil, fmt.Errorf("send: nil run")
	}
	popts := req.Pipeline
	popts.ExcludePrompts = !UseWorkflowPrompts(req.Positive, req.Negative)
	result := s.Pipeline.Build(req.Run, req.SinkID, popts)

	extraPNGInfo, _ := req.Run.ExtraData["extra_pnginfo"].(map[string]any)
	batchSize := len(req.Images)
	folders := map[string]string{}

	var saved []Saved
	for i, img := range req.Images {
		if err := ctx.Err(); err != nil {
			return saved, err
		}
		from, err := DetectFormat(img)
		if err != nil {
			return saved, fmt.Errorf("image %d: %w", i, err)
		}
		format := req.Format
		if format == "" {
			format = from
		}

		extra := req.extraAt(i)
		rec := Overlay{
			Extra:      extra,
			Positive:   req.Positive,
			Negative:   req.Negative,
			BatchIndex: i,
			BatchSize:  batchSize,
		}.Apply(result.Record)
		parameters := assemble.Serialize(rec)

		prefix := FormatFilename(req.FilenamePrefix.At(i, DefaultFilenamePrefix), rec, s.now())
		if prefix == "" {
			prefix = DefaultFilenamePrefix
		}
		dir, base, subfolder, counter, err := SavePath(s.OutputDir, prefix)
		if err != nil {
			return saved, err
		}
		switch {
		case req.AddCounter:
			base += fmt.Sprintf("_%05d_", counter)
		case batchSize >= 2:
			base += fmt.Sprintf("(%d)", i)
		}
		name := base + "." + format.Ext()
		path := filepath.Join(dir, name)

		out, err := embed(img, from, format, req.Quality, parameters, req.Run.Graph, extraPNGInfo)
		if err != nil {
			return saved, fmt.Errorf("embed metadata in image %d: %w", i, err)
		}
		if err := os.WriteFile(path, out, 0o644); err != nil {
			return saved, fmt.Errorf("write %s: %w", path, err)
		}
		if req.SaveWorkflowJSON {
			if err := writeWorkflow(filepath.Join(dir, base+".json"), extraPNGInfo); err != nil {
				return saved, err
			}
		}
		saved = append(saved, Saved{Path: path, Filename: name, Subfolder: subfolder, Parameters: parameters})
		s.recordHistory(ctx, req, path, parameters, rec)

		if req.SaveOnly {
			continue
		}

		folderName := req.Folder.At(i, "")
		folderID, ok := folders[folderName]
		if !ok {
			folderID, err = s.Eagle.FindOrCreateFolder(ctx, folderName)
			if err != nil {
				return saved, fmt.Errorf("resolve eagle folder %q: %w", folderName, err)
			}
			folders[folderName] = folderID
		}

		memo := req.Memo.At(i, "")
		item := eagle.Item{
			URL:        s.viewURL(name, subfolder),
			Name:       name,
			Annotation: annotation(parameters, memo, req.MetadataAsMemo),
			Tags:       Tags(req.TagPattern, req.CustomTagPattern.At(i, ""), memo, extra, rec),
		}
		if err := s.Eagle.AddItemFromURL(ctx, item, folderID); err != nil {
			return saved, fmt.Errorf("send %s to eagle: %w", name, err)
		}
		s.logger().Info("sent image to eagle",
			zap.String("file", name),
			zap.String("folder", folderID),
			zap.Int("tags", len(item.Tags)))
	}
	return saved, nil
}

func (s *Sender) recordHistory(ctx context.Context, req Request, path, parameters string, rec *assemble.Record) {
	if s.History == nil {
		return
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		s.logger().Warn("encode record for history", zap.Error(err))
		return
	}
	if _, err := s.History.Insert(ctx, store.Entry{
		RunID:      req.Run.ID,
		SinkID:     req.SinkID,
		FilePath:   path,
		Parameters: parameters,
		Record:     raw,
		CreatedAt:  s.now(),
	}); err != nil {
		s.logger().Warn("record history", zap.String("file", path), zap.Error(err))
	}
}

// viewURL is where the ComfyUI server serves a saved output image.
func (s *Sender) viewURL(name, subfolder string) string {
	return s.ComfyUIURL + "/api/view?filename=" + url.QueryEscape(name) +
		"&type=output&subfolder=" + url.QueryEscape(subfolder)
}

func annotation(parameters, memo string, asMemo bool) string {
	if !asMemo {
		return memo
	}
	if memo != "" {
		return parameters + "\nMemo: " + memo
	}
	return parameters
}

// embed converts img to the target format and writes the metadata the way
// that format carries it: PNG text chunks or EXIF.
func embed(img []byte, from, to Format, quality int, parameters string, g *api.Graph, extraPNGInfo map[string]any) ([]byte, error) {
	data, err := convert(img, from, to, quality)
	if err != nil {
		return nil, err
	}
	switch to {
	case FormatJPEG:
		return EmbedEXIF(data, parameters, g, extraPNGInfo)
	case FormatWebP:
		return EmbedWebPEXIF(data, parameters, g, extraPNGInfo)
	}
	chunks, err := textChunks(parameters, g, extraPNGInfo)
	if err != nil {
		return nil, err
	}
	return EmbedText(data, chunks)
}

// textChunks are parameters, prompt and one chunk per extra pnginfo key in
// sorted key order.
func textChunks(parameters string, g *api.Graph, extraPNGInfo map[string]any) ([]TextChunk, error) {
	var chunks []TextChunk
	if parameters != "" {
		chunks = append(chunks, TextChunk{"parameters", parameters})
	}
	if g != nil && g.Len() > 0 {
		b, err := json.Marshal(g)
		if err != nil {
			return nil, fmt.Errorf("encode prompt: %w", err)
		}
		chunks = append(chunks, TextChunk{"prompt", string(b)})
	}
	keys := make([]string, 0, len(extraPNGInfo))
	for k := range extraPNGInfo {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b, err := json.Marshal(extraPNGInfo[k])
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", k, err)
		}
		chunks = append(chunks, TextChunk{k, string(b)})
	}
	return chunks, nil
}

func writeWorkflow(path string, extraPNGInfo map[string]any) error {
	wf, ok := extraPNGInfo["workflow"]
	if !ok {
		return fmt.Errorf("save workflow json: run has no workflow")
	}
	b, err := json.Marshal(wf)
	if err != nil {
		return fmt.Errorf("encode workflow: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
