package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/agentic-research/eaglemeta/api"
	"github.com/agentic-research/eaglemeta/internal/assemble"
	"github.com/agentic-research/eaglemeta/internal/capture"
	"github.com/agentic-research/eaglemeta/internal/eagle"
	"github.com/agentic-research/eaglemeta/internal/rules"
	"github.com/agentic-research/eaglemeta/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseRecord() *assemble.Record {
	r := assemble.NewRecord()
	r.Set(assemble.KeyPositivePrompt, "a (cat:1.2), red hat")
	r.Set(assemble.KeyNegativePrompt, "lowres, blurry")
	r.Set(assemble.KeySteps, 20)
	r.Set(assemble.KeySampler, "Euler a")
	r.Set(assemble.KeySeed, 42)
	r.Set(assemble.KeySize, "512x768")
	r.Set(assemble.KeyModel, `sd\v1\dream.safetensors`)
	return r
}

func TestParseExtraMetadata(t *testing.T) {
	assert.Equal(t, ExtraMetadata{{"b", "2"}, {"a", "x"}}, ParseExtraMetadata(`{"b": 2, "a": "x", "c": null}`))
	assert.Equal(t, ExtraMetadata{{"a", "1"}, {"z", "True"}}, ParseExtraMetadata(map[string]any{"z": true, "a": json.Number("1")}))
	assert.Empty(t, ParseExtraMetadata("[1,2]"))
	assert.Empty(t, ParseExtraMetadata("not json"))
	assert.Empty(t, ParseExtraMetadata(42))
}

func TestParseExtraMetadata_DropsFalsyValues(t *testing.T) {
	assert.Equal(t, ExtraMetadata{{"s", "ok"}},
		ParseExtraMetadata(`{"flag": false, "n": 0, "f": 0.0, "e": "", "l": [], "s": "ok"}`))
	assert.Equal(t, ExtraMetadata{{"s", "ok"}},
		ParseExtraMetadata(map[string]any{"flag": false, "n": 0, "": "x", "s": "ok"}))
	assert.Equal(t, ExtraMetadata{{"zero", "0"}}, ParseExtraMetadata(`{"zero": "0"}`), "a zero string is a value")
}

func TestOverlay_Apply(t *testing.T) {
	base := baseRecord()
	r := Overlay{
		Extra:      ExtraMetadata{{"Artist", "me, you"}, {"", "x"}, {"Empty", ""}},
		Negative:   Prompts{"n0", "n1"},
		BatchIndex: 2,
		BatchSize:  3,
	}.Apply(base)

	assert.Equal(t, "me/ you", r.GetString("Artist"))
	_, ok := r.Get("Empty")
	assert.False(t, ok)
	assert.Equal(t, "2", r.GetString("Batch index"))
	assert.Equal(t, "3", r.GetString("Batch size"))
	assert.Equal(t, "a (cat:1.2), red hat", r.GetString(assemble.KeyPositivePrompt))
	assert.Equal(t, "", r.GetString(assemble.KeyNegativePrompt), "past the end of a prompt list")

	assert.Equal(t, "lowres, blurry", base.GetString(assemble.KeyNegativePrompt), "base untouched")
	_, ok = base.Get("Artist")
	assert.False(t, ok)
}

func TestOverlay_SingleImage(t *testing.T) {
	r := Overlay{Positive: Prompts{"  dog  "}, BatchSize: 1}.Apply(baseRecord())
	assert.Equal(t, "dog", r.GetString(assemble.KeyPositivePrompt))
	_, ok := r.Get("Batch size")
	assert.False(t, ok)
}

func TestUseWorkflowPrompts(t *testing.T) {
	assert.True(t, UseWorkflowPrompts(nil, nil))
	assert.True(t, UseWorkflowPrompts(Prompts{"cat"}, nil))
	assert.True(t, UseWorkflowPrompts(Prompts{"cat"}, Prompts{" "}))
	assert.False(t, UseWorkflowPrompts(Prompts{"cat"}, Prompts{"dog"}))
	assert.False(t, UseWorkflowPrompts(Prompts{"", ""}, Prompts{"a", "b"}))
}

func TestTags(t *testing.T) {
	r := baseRecord()
	extra := ExtraMetadata{{"Artist", "me"}}

	tests := []struct {
		name    string
		pattern string
		custom  string
		memo    string
		want    []string
	}{
		{"none", TagPatternNone, "", "m", nil},
		{"positive", "Positive prompt", "", "", []string{"a cat", "red hat"}},
		{"both", "Positive prompt, Negative prompt", "", "", []string{"a cat", "red hat", "n:lowres", "n:blurry"}},
		{"memo", "Memo, Positive prompt", "", "x, (y)", []string{"x", "y", "a cat", "red hat"}},
		{"record keys", "Model, Sampler, Steps, CFG scale, Seed, Size", "", "",
			[]string{`Model: sd\v1\dream.safetensors`, "Sampler: Euler a", "Steps: 20", "CFG scale: -", "Seed: 42", "Size: 512x768"}},
		{"custom", TagPatternCustom, "Artist, portrait, Seed", "", []string{"Artist: me", "portrait", "Seed: 42"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Tags(tt.pattern, tt.custom, tt.memo, extra, r))
		})
	}
}

func TestFormatFilename(t *testing.T) {
	now := time.Date(2024, 3, 7, 9, 5, 4, 123456000, time.UTC)
	r := baseRecord()

	tests := []struct {
		tmpl string
		want string
	}{
		{"img_%seed%", "img_42"},
		{"%width%x%height%", "512x768"},
		{"%pprompt:5%", "a (ca"},
		{"%nprompt%", "lowres, blurry"},
		{"%model%", "dream"},
		{"%model:3%-%seed%", "dre-42"},
		{"%date%", "20240307090504"},
		{"%date:yyyy-MM-dd_hh.mm.ss.SSSSSS%", "2024-03-07_09.05.04.123456"},
		{"%unknown%_x", "%unknown%_x"},
		{"sub/%seed%", "sub/42"},
	}
	for _, tt := range tests {
		t.Run(tt.tmpl, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatFilename(tt.tmpl, r, now))
		})
	}
}

func TestSavePath(t *testing.T) {
	root := t.TempDir()

	dir, base, sub, counter, err := SavePath(root, "portraits/cat")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "portraits"), dir)
	assert.Equal(t, "cat", base)
	assert.Equal(t, "portraits", sub)
	assert.Equal(t, 1, counter)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "cat_00007_.png"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "catdog_00099_.png"), nil, 0o644))
	_, _, _, counter, err = SavePath(root, "portraits/cat")
	require.NoError(t, err)
	assert.Equal(t, 8, counter)

	_, _, _, _, err = SavePath(root, "../escape")
	assert.Error(t, err)
}

func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestEmbedText_RoundTrip(t *testing.T) {
	src := testPNG(t)
	chunks := []TextChunk{
		{"parameters", "café\nSteps: 20"},
		{"prompt", "渋い"},
	}
	out, err := EmbedText(src, chunks)
	require.NoError(t, err)

	got, err := ReadText(out)
	require.NoError(t, err)
	assert.Equal(t, chunks, got)

	decoded, err := png.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 2, decoded.Bounds().Dx())
	r, _, _, _ := decoded.At(1, 1).RGBA()
	assert.Equal(t, uint32(0xffff), r)
}

func TestEmbedText_Errors(t *testing.T) {
	_, err := EmbedText([]byte("GIF89a"), nil)
	assert.ErrorIs(t, err, ErrNotPNG)

	_, err = EmbedText(testPNG(t), []TextChunk{{"", "x"}})
	assert.Error(t, err)
}

func TestBatch_At(t *testing.T) {
	assert.Equal(t, "d", Batch(nil).At(0, "d"))
	assert.Equal(t, "a", Batch{"a"}.At(5, "d"))
	assert.Equal(t, "d", Batch{""}.At(0, "d"))
	assert.Equal(t, "b", Batch{"a", "b"}.At(1, "d"))
	assert.Equal(t, "d", Batch{"a", "b"}.At(2, "d"))
}

func TestAnnotation(t *testing.T) {
	assert.Equal(t, "p\nMemo: m", annotation("p", "m", true))
	assert.Equal(t, "p", annotation("p", "", true))
	assert.Equal(t, "m", annotation("p", "m", false))
	assert.Equal(t, "", annotation("p", "", false))
}

type fakeEagle struct {
	folderCalls []string
	items       []eagle.Item
	folderIDs   []string
	err         error
}

func (f *fakeEagle) FindOrCreateFolder(_ context.Context, name string) (string, error) {
	f.folderCalls = append(f.folderCalls, name)
	if name == "" {
		return "", nil
	}
	return "id-" + name, nil
}

func (f *fakeEagle) AddItemFromURL(_ context.Context, item eagle.Item, folderID string) error {
	if f.err != nil {
		return f.err
	}
	f.items = append(f.items, item)
	f.folderIDs = append(f.folderIDs, folderID)
	return nil
}

type fakeHistory struct {
	entries []store.Entry
	err     error
}

func (f *fakeHistory) Insert(_ context.Context, e store.Entry) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.entries = append(f.entries, e)
	return int64(len(f.entries)), nil
}

func link(from string, slot int) []any { return []any{from, json.Number(strconv.Itoa(slot))} }

func sendRun() *api.Run {
	g := api.NewGraph()
	g.Add("4", &api.Node{ClassType: "CheckpointLoaderSimple", Inputs: map[string]any{"ckpt_name": "dream.safetensors"}})
	g.Add("6", &api.Node{ClassType: "CLIPTextEncode", Inputs: map[string]any{"text": "a cat", "clip": link("4", 1)}})
	g.Add("7", &api.Node{ClassType: "CLIPTextEncode", Inputs: map[string]any{"text": "lowres", "clip": link("4", 1)}})
	g.Add("5", &api.Node{ClassType: "EmptyLatentImage", Inputs: map[string]any{"width": json.Number("512"), "height": json.Number("512")}})
	g.Add("3", &api.Node{ClassType: "KSampler", Inputs: map[string]any{
		"model": link("4", 0), "positive": link("6", 0), "negative": link("7", 0), "latent_image": link("5", 0),
		"seed": json.Number("42"), "steps": json.Number("20"), "cfg": json.Number("7"),
		"sampler_name": "euler", "scheduler": "normal",
	}})
	g.Add("8", &api.Node{ClassType: "VAEDecode", Inputs: map[string]any{"samples": link("3", 0), "vae": link("4", 2)}})
	g.Add("9", &api.Node{ClassType: "SendToEagle", Inputs: map[string]any{"images": link("8", 0)}})
	extra := map[string]any{"extra_pnginfo": map[string]any{"workflow": map[string]any{"nodes": []any{}}}}
	return api.NewRun(g, extra, nil)
}

func newSender(t *testing.T, e Eagle, h History) *Sender {
	t.Helper()
	c, err := capture.New(rules.Builtin(nil), nil, 0, nil)
	require.NoError(t, err)
	return &Sender{
		Pipeline:   assemble.NewPipeline(c, nil),
		Eagle:      e,
		History:    h,
		OutputDir:  t.TempDir(),
		ComfyUIURL: "http://localhost:8188",
		Now:        func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) },
	}
}

func TestSender_Send(t *testing.T) {
	e := &fakeEagle{}
	h := &fakeHistory{}
	s := newSender(t, e, h)
	img := testPNG(t)

	saved, err := s.Send(context.Background(), Request{
		Run:              sendRun(),
		SinkID:           "9",
		Images:           [][]byte{img, img},
		FilenamePrefix:   Batch{"out/%seed%"},
		AddCounter:       true,
		SaveWorkflowJSON: true,
		MetadataAsMemo:   true,
		TagPattern:       "Positive prompt, Seed",
		Folder:           Batch{"renders"},
		Memo:             Batch{"first", "second"},
		Extra:            []ExtraMetadata{{{"Artist", "me"}}},
	})
	require.NoError(t, err)
	require.Len(t, saved, 2)

	assert.Equal(t, "42_00001_.png", saved[0].Filename)
	assert.Equal(t, "42_00002_.png", saved[1].Filename)
	assert.Equal(t, "out", saved[0].Subfolder)
	assert.FileExists(t, filepath.Join(s.OutputDir, "out", "42_00001_.json"))

	data, err := os.ReadFile(saved[1].Path)
	require.NoError(t, err)
	chunks, err := ReadText(data)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, "parameters", chunks[0].Keyword)
	assert.Equal(t,
		"a cat\nNegative prompt: lowres\n"+
			"Steps: 20, Sampler: euler, CFG scale: 7, Seed: 42, Size: 512x512, Model: dream.safetensors, "+
			"Artist: me, Batch index: 1, Batch size: 2",
		chunks[0].Text)
	assert.Equal(t, "prompt", chunks[1].Keyword)
	assert.Equal(t, TextChunk{"workflow", `{"nodes":[]}`}, chunks[2])

	assert.Equal(t, []string{"renders"}, e.folderCalls, "folder resolved once per name")
	require.Len(t, e.items, 2)
	assert.Equal(t, []string{"id-renders", "id-renders"}, e.folderIDs)
	assert.Equal(t, "http://localhost:8188/api/view?filename=42_00002_.png&type=output&subfolder=out", e.items[1].URL)
	assert.Equal(t, saved[1].Parameters+"\nMemo: second", e.items[1].Annotation)
	assert.Equal(t, []string{"a cat", "Seed: 42"}, e.items[0].Tags)

	require.Len(t, h.entries, 2)
	assert.Equal(t, "9", h.entries[0].SinkID)
	assert.Equal(t, saved[0].Path, h.entries[0].FilePath)
}

func TestSender_SaveOnlyManualPrompts(t *testing.T) {
	e := &fakeEagle{}
	s := newSender(t, e, nil)

	saved, err := s.Send(context.Background(), Request{
		Run:      sendRun(),
		SinkID:   "9",
		Images:   [][]byte{testPNG(t)},
		SaveOnly: true,
		Positive: Prompts{"manual dog"},
		Negative: Prompts{"manual bad"},
	})
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, DefaultFilenamePrefix+".png", saved[0].Filename)
	assert.Contains(t, saved[0].Parameters, "manual dog\nNegative prompt: manual bad\n")
	assert.Empty(t, e.folderCalls)
	assert.Empty(t, e.items)
}

func TestSender_BatchIndexSuffix(t *testing.T) {
	s := newSender(t, &fakeEagle{}, nil)
	img := testPNG(t)
	saved, err := s.Send(context.Background(), Request{
		Run: sendRun(), SinkID: "9", Images: [][]byte{img, img}, SaveOnly: true,
		FilenamePrefix: Batch{"a", "b"},
	})
	require.NoError(t, err)
	assert.Equal(t, "a(0).png", saved[0].Filename)
	assert.Equal(t, "b(1).png", saved[1].Filename)
}

func TestSender_HistoryFailureIsLogged(t *testing.T) {
	s := newSender(t, &fakeEagle{}, &fakeHistory{err: errors.New("disk full")})
	saved, err := s.Send(context.Background(), Request{Run: sendRun(), SinkID: "9", Images: [][]byte{testPNG(t)}})
	require.NoError(t, err)
	assert.Len(t, saved, 1)
}

func TestSender_EagleFailure(t *testing.T) {
	s := newSender(t, &fakeEagle{err: errors.New("offline")}, nil)
	saved, err := s.Send(context.Background(), Request{Run: sendRun(), SinkID: "9", Images: [][]byte{testPNG(t)}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "offline")
	require.Len(t, saved, 1, "the image is still on disk")
	assert.FileExists(t, saved[0].Path)
}

func TestSender_UnknownFormat(t *testing.T) {
	s := newSender(t, &fakeEagle{}, nil)
	_, err := s.Send(context.Background(), Request{Run: sendRun(), SinkID: "9", Images: [][]byte{[]byte("nope")}})
	assert.ErrorIs(t, err, ErrUnknownFormat)
}
