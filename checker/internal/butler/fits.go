package butler

import (
	"fmt"
	"io"

	"github.com/astrogo/fitsio"

	"github.com/calibcheck/calibcheck/pkg/types"
)

// ReadImage decodes the primary HDU of a FITS stream. BZERO and BSCALE are
// applied when present; EXPTIME is returned as the exposure time.
func ReadImage(r io.Reader) (*types.Image, float64, error) {
	f, err := fitsio.Open(r)
	if err != nil {
		return nil, 0, fmt.Errorf("fits: open: %w", err)
	}
	defer f.Close()

	img, ok := f.HDU(0).(fitsio.Image)
	if !ok {
		return nil, 0, fmt.Errorf("fits: primary HDU is not an image")
	}
	hdr := img.Header()
	axes := hdr.Axes()
	if len(axes) != 2 {
		return nil, 0, fmt.Errorf("fits: want a 2D image, got %d axes", len(axes))
	}
	width, height := axes[0], axes[1]

	pix, err := readPixels(img, hdr.Bitpix(), width*height)
	if err != nil {
		return nil, 0, err
	}

	bscale, bzero := 1.0, 0.0
	if v, ok := cardFloat(hdr, "BSCALE"); ok {
		bscale = v
	}
	if v, ok := cardFloat(hdr, "BZERO"); ok {
		bzero = v
	}
	if bscale != 1 || bzero != 0 {
		for i, v := range pix {
			pix[i] = v*bscale + bzero
		}
	}

	exptime, _ := cardFloat(hdr, "EXPTIME")
	out, err := types.NewImageFrom(width, height, pix)
	if err != nil {
		return nil, 0, fmt.Errorf("fits: %w", err)
	}
	return out, exptime, nil
}

func readPixels(img fitsio.Image, bitpix, n int) ([]float64, error) {
	out := make([]float64, n)
	switch bitpix {
	case 8:
		data := make([]byte, n)
		if err := img.Read(&data); err != nil {
			return nil, fmt.Errorf("fits: read pixels: %w", err)
		}
		for i, v := range data {
			out[i] = float64(v)
		}
	case 16:
		data := make([]int16, n)
		if err := img.Read(&data); err != nil {
			return nil, fmt.Errorf("fits: read pixels: %w", err)
		}
		for i, v := range data {
			out[i] = float64(v)
		}
	case 32:
		data := make([]int32, n)
		if err := img.Read(&data); err != nil {
			return nil, fmt.Errorf("fits: read pixels: %w", err)
		}
		for i, v := range data {
			out[i] = float64(v)
		}
	case 64:
		data := make([]int64, n)
		if err := img.Read(&data); err != nil {
			return nil, fmt.Errorf("fits: read pixels: %w", err)
		}
		for i, v := range data {
			out[i] = float64(v)
		}
	case -32:
		data := make([]float32, n)
		if err := img.Read(&data); err != nil {
			return nil, fmt.Errorf("fits: read pixels: %w", err)
		}
		for i, v := range data {
			out[i] = float64(v)
		}
	case -64:
		if err := img.Read(&out); err != nil {
			return nil, fmt.Errorf("fits: read pixels: %w", err)
		}
	default:
		return nil, fmt.Errorf("fits: unsupported BITPIX %d", bitpix)
	}
	return out, nil
}

func cardFloat(hdr *fitsio.Header, name string) (float64, bool) {
	c := hdr.Get(name)
	if c == nil {
		return 0, false
	}
	switch v := c.Value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	default:
		return 0, false
	}
}

// WriteImage encodes img as a single-HDU BITPIX -64 FITS stream.
// exptime is written as EXPTIME when positive.
func WriteImage(w io.Writer, img *types.Image, exptime float64) error {
	f, err := fitsio.Create(w)
	if err != nil {
		return fmt.Errorf("fits: create: %w", err)
	}

	hdu := fitsio.NewImage(-64, []int{img.Width, img.Height})
	defer hdu.Close()

	if exptime > 0 {
		if err := hdu.Header().Append(fitsio.Card{Name: "EXPTIME", Value: exptime, Comment: "exposure time [s]"}); err != nil {
			return fmt.Errorf("fits: header: %w", err)
		}
	}
	pix := img.Pix
	if err := hdu.Write(&pix); err != nil {
		return fmt.Errorf("fits: write pixels: %w", err)
	}
	if err := f.Write(hdu); err != nil {
		return fmt.Errorf("fits: write hdu: %w", err)
	}
	return f.Close()
}

// WriteMask encodes mask as a single-HDU BITPIX 32 FITS stream.
func WriteMask(w io.Writer, mask *types.Mask) error {
	f, err := fitsio.Create(w)
	if err != nil {
		return fmt.Errorf("fits: create: %w", err)
	}

	hdu := fitsio.NewImage(32, []int{mask.Width, mask.Height})
	defer hdu.Close()

	data := make([]int32, len(mask.Pix))
	for i, v := range mask.Pix {
		data[i] = int32(v)
	}
	if err := hdu.Write(&data); err != nil {
		return fmt.Errorf("fits: write mask: %w", err)
	}
	if err := f.Write(hdu); err != nil {
		return fmt.Errorf("fits: write hdu: %w", err)
	}
	return f.Close()
}

// ReadMask decodes a mask written by WriteMask.
func ReadMask(r io.Reader) (*types.Mask, error) {
	img, _, err := ReadImage(r)
	if err != nil {
		return nil, err
	}
	m := types.NewMask(img.Width, img.Height)
	for i, v := range img.Pix {
		m.Pix[i] = types.MaskPixel(uint32(int64(v)))
	}
	return m, nil
}
