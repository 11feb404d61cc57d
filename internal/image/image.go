// Package image loads update images from disk.
//
// Raw images are taken as they are. Intel HEX images are flattened into a
// contiguous buffer starting at the lowest address, with gaps filled by 0xFF.
package image

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/marcinbor85/gohex"
	"github.com/ostafen/bbupdate/internal/errs"
	"github.com/ostafen/bbupdate/internal/filetype"
)

// Padding is the value used to fill holes between Intel HEX segments.
const Padding = 0xFF

type Image struct {
	Data []byte
	Base uint32 // load address, non-zero only for Intel HEX input
	Type filetype.Type
}

// Load reads the image at path.
func Load(path string) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read image %q: %w", path, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("image %q is empty: %w", path, errs.ErrInvalid)
	}

	if filetype.Detect(data) == filetype.IntelHex {
		img, err := FromIntelHex(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("image %q: %w", path, err)
		}
		return img, nil
	}
	return FromBytes(data), nil
}

func FromBytes(data []byte) *Image {
	return &Image{
		Data: data,
		Type: filetype.Detect(data),
	}
}

// FromIntelHex parses an Intel HEX stream.
func FromIntelHex(r io.Reader) (*Image, error) {
	mem := gohex.NewMemory()
	if err := mem.ParseIntelHex(r); err != nil {
		return nil, fmt.Errorf("%w: intel hex: %w", errs.ErrInvalid, err)
	}

	segs := mem.GetDataSegments()
	if len(segs) == 0 {
		return nil, fmt.Errorf("intel hex has no data: %w", errs.ErrInvalid)
	}

	lo, hi := segs[0].Address, segs[0].Address
	for _, s := range segs {
		lo = min(lo, s.Address)
		hi = max(hi, s.Address+uint32(len(s.Data)))
	}

	data := mem.ToBinary(lo, hi-lo, Padding)
	return &Image{
		Data: data,
		Base: lo,
		Type: filetype.Detect(data),
	}, nil
}

// WriteIntelHex writes img as Intel HEX records placed at base.
func (img *Image) WriteIntelHex(w io.Writer, base uint32) error {
	mem := gohex.NewMemory()
	if err := mem.AddBinary(base, img.Data); err != nil {
		return err
	}
	return mem.DumpIntelHex(w, 16)
}

func (img *Image) Size() int {
	return len(img.Data)
}
