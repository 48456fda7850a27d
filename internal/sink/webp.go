package sink

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/agentic-research/eaglemeta/api"
	"golang.org/x/image/riff"
	"golang.org/x/image/webp"
)

// ErrNotWebP is returned when image data is not a RIFF WEBP container.
var ErrNotWebP = errors.New("not a WebP image")

const (
	vp8xAlpha = 1 << 4
	vp8xEXIF  = 1 << 3
)

type webpChunk struct {
	id   riff.FourCC
	data []byte
}

var (
	fccVP8X = riff.FourCC{'V', 'P', '8', 'X'}
	fccVP8L = riff.FourCC{'V', 'P', '8', 'L'}
	fccEXIF = riff.FourCC{'E', 'X', 'I', 'F'}
	fccXMP  = riff.FourCC{'X', 'M', 'P', ' '}
	fccWEBP = riff.FourCC{'W', 'E', 'B', 'P'}
)

// EmbedWebPEXIF stores the metadata in an EXIF chunk. A simple lossy or
// lossless file is promoted to the extended layout with a VP8X header; an
// existing EXIF chunk is replaced.
func EmbedWebPEXIF(img []byte, parameters string, g *api.Graph, extraPNGInfo map[string]any) ([]byte, error) {
	chunks, err := readWebP(img)
	if err != nil {
		return nil, err
	}
	payload, err := exifTIFF(parameters, g, extraPNGInfo)
	if err != nil {
		return nil, err
	}

	if chunks[0].id != fccVP8X {
		cfg, err := webp.DecodeConfig(bytes.NewReader(img))
		if err != nil {
			return nil, fmt.Errorf("read webp size: %w", err)
		}
		hdr := make([]byte, 10)
		if chunks[0].id == fccVP8L && len(chunks[0].data) >= 5 && chunks[0].data[4]&0x10 != 0 {
			hdr[0] |= vp8xAlpha
		}
		putUint24(hdr[4:], uint32(cfg.Width-1))
		putUint24(hdr[7:], uint32(cfg.Height-1))
		chunks = append([]webpChunk{{fccVP8X, hdr}}, chunks...)
	}
	if len(chunks[0].data) < 10 {
		return nil, fmt.Errorf("short VP8X chunk")
	}
	chunks[0].data[0] |= vp8xEXIF

	// EXIF goes after the image data and before XMP.
	out := make([]webpChunk, 0, len(chunks)+1)
	placed := false
	for _, c := range chunks {
		if c.id == fccEXIF {
			continue
		}
		if c.id == fccXMP && !placed {
			out = append(out, webpChunk{fccEXIF, payload})
			placed = true
		}
		out = append(out, c)
	}
	if !placed {
		out = append(out, webpChunk{fccEXIF, payload})
	}
	return writeWebP(out), nil
}

func readWebP(img []byte) ([]webpChunk, error) {
	form, r, err := riff.NewReader(bytes.NewReader(img))
	if err != nil || form != fccWEBP {
		return nil, ErrNotWebP
	}
	var chunks []webpChunk
	for {
		id, n, data, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read webp chunk: %w", err)
		}
		b := make([]byte, n)
		if _, err := io.ReadFull(data, b); err != nil {
			return nil, fmt.Errorf("read webp chunk %s: %w", id[:], err)
		}
		chunks = append(chunks, webpChunk{id, b})
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("webp has no chunks")
	}
	return chunks, nil
}

func writeWebP(chunks []webpChunk) []byte {
	var body bytes.Buffer
	body.Write(fccWEBP[:])
	for _, c := range chunks {
		body.Write(c.id[:])
		_ = binary.Write(&body, binary.LittleEndian, uint32(len(c.data)))
		body.Write(c.data)
		if len(c.data)%2 == 1 {
			body.WriteByte(0)
		}
	}
	out := make([]byte, 8, 8+body.Len())
	copy(out, "RIFF")
	binary.LittleEndian.PutUint32(out[4:], uint32(body.Len()))
	return append(out, body.Bytes()...)
}

func putUint24(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
}
