package sink

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"strings"
	"testing"

	exif "github.com/dsoprea/go-exif/v3"
	exifundefined "github.com/dsoprea/go-exif/v3/undefined"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/webp"
	"golang.org/x/text/encoding/unicode"
)

func testJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{G: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

// testWebP is a 2x2 lossless WebP holding only the VP8L header, which is all
// the embedder and DecodeConfig read.
func testWebP() []byte {
	v := uint32(1) | 1<<14 | 1<<28
	payload := []byte{0x2f, byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
	return writeWebP([]webpChunk{{fccVP8L, payload}})
}

// exifTags returns tag name to value for every tag in the image's EXIF.
func exifTags(t *testing.T, data []byte) map[string]any {
	t.Helper()
	raw, err := exif.SearchAndExtractExif(data)
	require.NoError(t, err)
	tags, _, err := exif.GetFlatExifData(raw, nil)
	require.NoError(t, err)
	out := map[string]any{}
	for _, tag := range tags {
		out[tag.TagName] = tag.Value
	}
	return out
}

func userComment(t *testing.T, v any) string {
	t.Helper()
	uc, ok := v.(exifundefined.Tag9286UserComment)
	require.True(t, ok, "UserComment is %T", v)
	assert.Equal(t, exifundefined.TagUndefinedType_9286_UserComment_Encoding_UNICODE, uc.EncodingType)
	b, err := unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM).NewDecoder().Bytes(uc.EncodingBytes)
	require.NoError(t, err)
	return string(b)
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in   string
		want Format
		ext  string
	}{
		{"png", FormatPNG, "png"},
		{"JPEG", FormatJPEG, "jpg"},
		{"jpg", FormatJPEG, "jpg"},
		{" webp ", FormatWebP, "webp"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.ext, got.Ext())
		})
	}

	got, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, Format(""), got)

	_, err = ParseFormat("gif")
	assert.Error(t, err)
}

func TestDetectFormat(t *testing.T) {
	for want, data := range map[Format][]byte{
		FormatPNG:  testPNG(t),
		FormatJPEG: testJPEG(t),
		FormatWebP: testWebP(),
	} {
		got, err := DetectFormat(data)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := DetectFormat([]byte("GIF89a"))
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

func TestEmbedEXIF_JPEG(t *testing.T) {
	run := sendRun()
	extra := map[string]any{"workflow": map[string]any{"nodes": []any{}}}
	params := "café\nNegative prompt: 渋い\nSteps: 20"

	out, err := EmbedEXIF(testJPEG(t), params, run.Graph, extra)
	require.NoError(t, err)

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(out))
	require.NoError(t, err, "still a valid JPEG")
	assert.Equal(t, 2, cfg.Width)

	tags := exifTags(t, out)
	assert.Equal(t, params, userComment(t, tags["UserComment"]))
	assert.Equal(t, `workflow:{"nodes":[]}`, tags["Make"])
	model, _ := tags["Model"].(string)
	assert.True(t, strings.HasPrefix(model, `prompt:{"4":{`), model)
}

func TestEmbedEXIF_TooLarge(t *testing.T) {
	extra := map[string]any{"workflow": strings.Repeat("x", 70000)}
	_, err := EmbedEXIF(testJPEG(t), "p", nil, extra)
	assert.ErrorContains(t, err, "does not fit in a JPEG segment")
}

func TestEmbedEXIF_NotJPEG(t *testing.T) {
	_, err := EmbedEXIF(testPNG(t), "p", nil, nil)
	assert.ErrorIs(t, err, ErrNotJPEG)
}

func TestEmbedWebPEXIF_PromotesSimpleFile(t *testing.T) {
	out, err := EmbedWebPEXIF(testWebP(), "a cat\nSteps: 20", nil, nil)
	require.NoError(t, err)

	chunks, err := readWebP(out)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, fccVP8X, chunks[0].id)
	assert.Equal(t, byte(vp8xAlpha|vp8xEXIF), chunks[0].data[0])
	assert.Equal(t, fccVP8L, chunks[1].id)
	assert.Equal(t, fccEXIF, chunks[2].id)

	cfg, err := webp.DecodeConfig(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Width)
	assert.Equal(t, 2, cfg.Height)

	assert.Equal(t, "a cat\nSteps: 20", userComment(t, exifTags(t, out)["UserComment"]))
}

func TestEmbedWebPEXIF_ReplacesExisting(t *testing.T) {
	once, err := EmbedWebPEXIF(testWebP(), "first", nil, nil)
	require.NoError(t, err)
	twice, err := EmbedWebPEXIF(once, "second", nil, nil)
	require.NoError(t, err)

	chunks, err := readWebP(twice)
	require.NoError(t, err)
	n := 0
	for _, c := range chunks {
		if c.id == fccEXIF {
			n++
		}
	}
	assert.Equal(t, 1, n)
	assert.Equal(t, "second", userComment(t, exifTags(t, twice)["UserComment"]))
}

func TestEmbedWebPEXIF_NotWebP(t *testing.T) {
	_, err := EmbedWebPEXIF(testPNG(t), "p", nil, nil)
	assert.ErrorIs(t, err, ErrNotWebP)
}

func TestSender_JPEGOutput(t *testing.T) {
	e := &fakeEagle{}
	s := newSender(t, e, nil)

	saved, err := s.Send(context.Background(), Request{
		Run:     sendRun(),
		SinkID:  "9",
		Images:  [][]byte{testPNG(t)},
		Format:  FormatJPEG,
		Quality: 90,
	})
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, DefaultFilenamePrefix+".jpg", saved[0].Filename)
	require.Len(t, e.items, 1)
	assert.Contains(t, e.items[0].URL, "filename=ComfyUI.jpg&")

	data, err := os.ReadFile(saved[0].Path)
	require.NoError(t, err)
	got, err := DetectFormat(data)
	require.NoError(t, err)
	assert.Equal(t, FormatJPEG, got)
	tags := exifTags(t, data)
	assert.Equal(t, saved[0].Parameters, userComment(t, tags["UserComment"]))
	assert.Equal(t, `workflow:{"nodes":[]}`, tags["Make"])
}

func TestSender_KeepsWebPInput(t *testing.T) {
	s := newSender(t, &fakeEagle{}, nil)
	saved, err := s.Send(context.Background(), Request{
		Run: sendRun(), SinkID: "9", Images: [][]byte{testWebP()}, SaveOnly: true,
	})
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, DefaultFilenamePrefix+".webp", saved[0].Filename)

	data, err := os.ReadFile(saved[0].Path)
	require.NoError(t, err)
	assert.Equal(t, saved[0].Parameters, userComment(t, exifTags(t, data)["UserComment"]))
}

func TestSender_CannotEncodeWebP(t *testing.T) {
	s := newSender(t, &fakeEagle{}, nil)
	_, err := s.Send(context.Background(), Request{
		Run: sendRun(), SinkID: "9", Images: [][]byte{testPNG(t)}, Format: FormatWebP, SaveOnly: true,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot encode webp")
}
