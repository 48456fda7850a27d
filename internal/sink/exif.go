package sink

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	exif "github.com/dsoprea/go-exif/v3"
	exifcommon "github.com/dsoprea/go-exif/v3/common"
	exifundefined "github.com/dsoprea/go-exif/v3/undefined"
	jpegstructure "github.com/dsoprea/go-jpeg-image-structure/v2"
	"golang.org/x/text/encoding/unicode"

	"github.com/agentic-research/eaglemeta/api"
)

const (
	// tagModel holds "prompt:" followed by the prompt graph.
	tagModel = 0x0110
	// tagMake is the first of the IFD0 tags holding extra pnginfo entries;
	// each further entry takes the next lower id.
	tagMake = 0x010f

	// maxAPP1 is the largest payload a JPEG segment length can describe.
	maxAPP1 = 0xffff - 2
)

// ErrNotJPEG is returned when image data lacks the JPEG start marker.
var ErrNotJPEG = errors.New("not a JPEG image")

// exifBuilder lays out the metadata as EXIF: extra pnginfo entries as
// "key:json" in IFD0 counting down from Make, the prompt in Model, and the
// parameters string as a UTF-16 UserComment.
func exifBuilder(parameters string, g *api.Graph, extraPNGInfo map[string]any) (*exif.IfdBuilder, error) {
	im, err := exifcommon.NewIfdMappingWithStandard()
	if err != nil {
		return nil, fmt.Errorf("exif ifd mapping: %w", err)
	}
	ti := exif.NewTagIndex()
	order := exifcommon.EncodeDefaultByteOrder
	root := exif.NewIfdBuilder(im, ti, exifcommon.IfdStandardIfdIdentity, order)

	keys := make([]string, 0, len(extraPNGInfo))
	for k := range extraPNGInfo {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	ascii := make(map[uint16]string, len(keys)+1)
	for i, k := range keys {
		b, err := json.Marshal(extraPNGInfo[k])
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", k, err)
		}
		ascii[uint16(tagMake-i)] = k + ":" + string(b)
	}
	if g != nil && g.Len() > 0 {
		b, err := json.Marshal(g)
		if err != nil {
			return nil, fmt.Errorf("encode prompt: %w", err)
		}
		ascii[tagModel] = "prompt:" + string(b)
	}

	// IFD entries must be written in ascending tag order.
	ids := make([]int, 0, len(ascii))
	for id := range ascii {
		ids = append(ids, int(id))
	}
	sort.Ints(ids)
	ve := exifcommon.NewValueEncoder(order)
	for _, id := range ids {
		ed, err := ve.Encode(ascii[uint16(id)])
		if err != nil {
			return nil, fmt.Errorf("encode exif tag 0x%04x: %w", id, err)
		}
		bt := exif.NewBuilderTag(root.IfdIdentity().UnindexedString(), uint16(id), exifcommon.TypeAscii,
			exif.NewIfdBuilderTagValueFromBytes(ed.Encoded), order)
		if err := root.Add(bt); err != nil {
			return nil, fmt.Errorf("add exif tag 0x%04x: %w", id, err)
		}
	}

	if parameters != "" {
		utf16, err := unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM).NewEncoder().Bytes([]byte(parameters))
		if err != nil {
			return nil, fmt.Errorf("encode parameters: %w", err)
		}
		exifIb, err := exif.GetOrCreateIbFromRootIb(root, "IFD/Exif")
		if err != nil {
			return nil, fmt.Errorf("exif sub-ifd: %w", err)
		}
		comment := exifundefined.Tag9286UserComment{
			EncodingType:  exifundefined.TagUndefinedType_9286_UserComment_Encoding_UNICODE,
			EncodingBytes: utf16,
		}
		if err := exifIb.AddStandardWithName("UserComment", comment); err != nil {
			return nil, fmt.Errorf("add user comment: %w", err)
		}
	}
	return root, nil
}

// EmbedEXIF writes the metadata into a JPEG's APP1 segment, replacing any
// EXIF already there.
func EmbedEXIF(img []byte, parameters string, g *api.Graph, extraPNGInfo map[string]any) ([]byte, error) {
	if f, err := DetectFormat(img); err != nil || f != FormatJPEG {
		return nil, ErrNotJPEG
	}
	ib, err := exifBuilder(parameters, g, extraPNGInfo)
	if err != nil {
		return nil, err
	}
	raw, err := exif.NewIfdByteEncoder().EncodeToExif(ib)
	if err != nil {
		return nil, fmt.Errorf("encode exif: %w", err)
	}
	if len(raw)+len("Exif\x00\x00") > maxAPP1 {
		return nil, fmt.Errorf("exif block of %d bytes does not fit in a JPEG segment", len(raw))
	}
	mc, err := jpegstructure.NewJpegMediaParser().ParseBytes(img)
	if err != nil {
		return nil, fmt.Errorf("parse jpeg: %w", err)
	}
	sl, ok := mc.(*jpegstructure.SegmentList)
	if !ok {
		return nil, fmt.Errorf("parse jpeg: unexpected media context %T", mc)
	}
	if err := sl.SetExif(ib); err != nil {
		return nil, fmt.Errorf("set exif: %w", err)
	}
	var buf bytes.Buffer
	if err := sl.Write(&buf); err != nil {
		return nil, fmt.Errorf("write jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// exifTIFF encodes the metadata as a bare TIFF-structured EXIF block, the
// payload of a WebP EXIF chunk.
func exifTIFF(parameters string, g *api.Graph, extraPNGInfo map[string]any) ([]byte, error) {
	ib, err := exifBuilder(parameters, g, extraPNGInfo)
	if err != nil {
		return nil, err
	}
	data, err := exif.NewIfdByteEncoder().EncodeToExif(ib)
	if err != nil {
		return nil, fmt.Errorf("encode exif: %w", err)
	}
	return data, nil
}
