package sink

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
)

var pngSignature = []byte("\x89PNG\r\n\x1a\n")

// ErrNotPNG is returned when image data lacks the PNG signature.
var ErrNotPNG = errors.New("not a PNG image")

// TextChunk is a keyword/text pair stored in a PNG.
type TextChunk struct {
	Keyword string
	Text    string
}

// EmbedText inserts text chunks right after IHDR. Latin-1 text is written
// as tEXt; anything else as uncompressed iTXt, the same choice Pillow makes.
func EmbedText(img []byte, chunks []TextChunk) ([]byte, error) {
	if !bytes.HasPrefix(img, pngSignature) {
		return nil, ErrNotPNG
	}
	off := len(pngSignature)
	if len(img) < off+8 {
		return nil, fmt.Errorf("truncated PNG header")
	}
	ihdrLen := int(binary.BigEndian.Uint32(img[off:]))
	if string(img[off+4:off+8]) != "IHDR" {
		return nil, fmt.Errorf("first chunk is %q, want IHDR", img[off+4:off+8])
	}
	end := off + 12 + ihdrLen
	if end > len(img) {
		return nil, fmt.Errorf("truncated IHDR chunk")
	}

	var buf bytes.Buffer
	buf.Grow(len(img) + 256)
	buf.Write(img[:end])
	for _, c := range chunks {
		if c.Keyword == "" || len(c.Keyword) > 79 {
			return nil, fmt.Errorf("invalid PNG text keyword %q", c.Keyword)
		}
		if latin1, ok := toLatin1(c.Text); ok {
			data := append([]byte(c.Keyword), 0)
			writeChunk(&buf, "tEXt", append(data, latin1...))
			continue
		}
		// keyword, NUL, compression flag, compression method, language
		// tag NUL, translated keyword NUL, UTF-8 text
		data := append([]byte(c.Keyword), 0, 0, 0, 0, 0)
		writeChunk(&buf, "iTXt", append(data, c.Text...))
	}
	buf.Write(img[end:])
	return buf.Bytes(), nil
}

func writeChunk(w *bytes.Buffer, typ string, data []byte) {
	var hdr [8]byte
	binary.BigEndian.PutUint32(hdr[:4], uint32(len(data)))
	copy(hdr[4:], typ)
	w.Write(hdr[:])
	w.Write(data)

	crc := crc32.NewIEEE()
	crc.Write(hdr[4:])
	crc.Write(data)
	var sum [4]byte
	binary.BigEndian.PutUint32(sum[:], crc.Sum32())
	w.Write(sum[:])
}

func toLatin1(s string) ([]byte, bool) {
	out := make([]byte, 0, len(s))
	for _, r := range s {
		if r > 0xff {
			return nil, false
		}
		out = append(out, byte(r))
	}
	return out, true
}

// ReadText returns the tEXt and iTXt chunks of a PNG in file order.
func ReadText(img []byte) ([]TextChunk, error) {
	if !bytes.HasPrefix(img, pngSignature) {
		return nil, ErrNotPNG
	}
	var out []TextChunk
	for off := len(pngSignature); off+8 <= len(img); {
		n := int(binary.BigEndian.Uint32(img[off:]))
		typ := string(img[off+4 : off+8])
		if off+12+n > len(img) {
			return nil, fmt.Errorf("truncated %s chunk", typ)
		}
		data := img[off+8 : off+8+n]
		switch typ {
		case "tEXt":
			if k, v, ok := bytes.Cut(data, []byte{0}); ok {
				rs := make([]rune, len(v))
				for i, b := range v {
					rs[i] = rune(b)
				}
				out = append(out, TextChunk{string(k), string(rs)})
			}
		case "iTXt":
			k, rest, ok := bytes.Cut(data, []byte{0})
			if ok && len(rest) >= 2 && rest[0] == 0 {
				rest = rest[2:]
				if _, rest, ok = bytes.Cut(rest, []byte{0}); ok {
					if _, rest, ok = bytes.Cut(rest, []byte{0}); ok {
						out = append(out, TextChunk{string(k), string(rest)})
					}
				}
			}
		case "IEND":
			return out, nil
		}
		off += 12 + n
	}
	return out, nil
}
