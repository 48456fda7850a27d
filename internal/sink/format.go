package sink

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"strings"

	// registers the WebP decoder with image.Decode
	_ "golang.org/x/image/webp"
)

// Format is an output image format.
type Format string

const (
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpeg"
	FormatWebP Format = "webp"
)

// DefaultQuality is the JPEG quality used when none is given.
const DefaultQuality = 100

// ErrUnknownFormat is returned for image data that is not PNG, JPEG or WebP.
var ErrUnknownFormat = errors.New("unrecognised image format")

// ParseFormat accepts png, jpeg, jpg and webp. Empty keeps the input format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return "", nil
	case "png":
		return FormatPNG, nil
	case "jpeg", "jpg":
		return FormatJPEG, nil
	case "webp":
		return FormatWebP, nil
	}
	return "", fmt.Errorf("unknown image format %q", s)
}

// Ext is the file extension without the dot. JPEG files get "jpg" so Eagle
// does not name them .jpeg.jpg.
func (f Format) Ext() string {
	if f == FormatJPEG {
		return "jpg"
	}
	return string(f)
}

// DetectFormat identifies encoded image data by its signature.
func DetectFormat(data []byte) (Format, error) {
	switch {
	case bytes.HasPrefix(data, pngSignature):
		return FormatPNG, nil
	case len(data) >= 3 && data[0] == 0xff && data[1] == 0xd8 && data[2] == 0xff:
		return FormatJPEG, nil
	case len(data) >= 12 && string(data[:4]) == "RIFF" && string(data[8:12]) == "WEBP":
		return FormatWebP, nil
	}
	return "", ErrUnknownFormat
}

// convert re-encodes data from one format to another. WebP can be read but
// not written.
func convert(data []byte, from, to Format, quality int) ([]byte, error) {
	if from == to {
		return data, nil
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", from, err)
	}
	var buf bytes.Buffer
	switch to {
	case FormatPNG:
		err = png.Encode(&buf, img)
	case FormatJPEG:
		if quality <= 0 || quality > 100 {
			quality = DefaultQuality
		}
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality})
	default:
		return nil, fmt.Errorf("cannot encode %s images; supply them already encoded", to)
	}
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", to, err)
	}
	return buf.Bytes(), nil
}
