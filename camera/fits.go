package camera

import (
	"fmt"
	"io"
	"os"

	"github.com/astrogo/fitsio"
	"github.com/nasa-jpl/hcifs/imgproc"
	"github.com/pkg/errors"
)

// ErrNotImage is generated when the primary HDU of a FITS file is not an image
var ErrNotImage = errors.New("primary HDU is not an image")

// WriteFITS streams img to w as a single float64 FITS image
func WriteFITS(w io.Writer, metadata []fitsio.Card, img imgproc.Image) error {
	if img.Empty() {
		return &imgproc.ArgumentError{Op: "WriteFITS", Reason: "empty image"}
	}
	fits, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer fits.Close()
	// FITS axes are fastest-varying first
	im := fitsio.NewImage(-64, []int{img.Cols, img.Rows})
	defer im.Close()
	if len(metadata) > 0 {
		err = im.Header().Append(metadata...)
		if err != nil {
			return err
		}
	}
	buf := make([]float64, len(img.Pix))
	copy(buf, img.Pix)
	err = im.Write(buf)
	if err != nil {
		return err
	}
	return fits.Write(im)
}

// ReadFITS reads the primary HDU of a FITS stream as an Image.
// BZERO and BSCALE are applied.
func ReadFITS(r io.Reader) (imgproc.Image, error) {
	f, err := fitsio.Open(r)
	if err != nil {
		return imgproc.Image{}, err
	}
	defer f.Close()
	hdu, ok := f.HDU(0).(fitsio.Image)
	if !ok {
		return imgproc.Image{}, ErrNotImage
	}
	hdr := hdu.Header()
	axes := hdr.Axes()
	if len(axes) != 2 {
		return imgproc.Image{}, errors.Wrapf(ErrNotImage, "%d axes, expected 2", len(axes))
	}
	cols, rows := axes[0], axes[1]
	n := cols * rows
	pix := make([]float64, n)

	switch bitpix := hdr.Bitpix(); bitpix {
	case 8:
		raw := make([]byte, n)
		err = hdu.Read(&raw)
		for i, v := range raw {
			pix[i] = float64(v)
		}
	case 16:
		raw := make([]int16, n)
		err = hdu.Read(&raw)
		for i, v := range raw {
			pix[i] = float64(v)
		}
	case 32:
		raw := make([]int32, n)
		err = hdu.Read(&raw)
		for i, v := range raw {
			pix[i] = float64(v)
		}
	case 64:
		raw := make([]int64, n)
		err = hdu.Read(&raw)
		for i, v := range raw {
			pix[i] = float64(v)
		}
	case -32:
		raw := make([]float32, n)
		err = hdu.Read(&raw)
		for i, v := range raw {
			pix[i] = float64(v)
		}
	case -64:
		err = hdu.Read(&pix)
	default:
		return imgproc.Image{}, fmt.Errorf("fits: unsupported BITPIX %d", bitpix)
	}
	if err != nil {
		return imgproc.Image{}, err
	}

	zero := cardFloat(hdr.Get("BZERO"), 0)
	scale := cardFloat(hdr.Get("BSCALE"), 1)
	if zero != 0 || scale != 1 {
		for i := range pix {
			pix[i] = pix[i]*scale + zero
		}
	}
	return imgproc.Image{Rows: rows, Cols: cols, Pix: pix}, nil
}

func cardFloat(c *fitsio.Card, def float64) float64 {
	if c == nil {
		return def
	}
	switch v := c.Value.(type) {
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case float64:
		return v
	case float32:
		return float64(v)
	}
	return def
}

// LoadDark reads a dark frame from a FITS file on disk
func LoadDark(path string) (imgproc.Image, error) {
	fid, err := os.Open(path)
	if err != nil {
		return imgproc.Image{}, err
	}
	defer fid.Close()
	img, err := ReadFITS(fid)
	if err != nil {
		return imgproc.Image{}, errors.Wrapf(err, "loading dark from %s", path)
	}
	return img, nil
}
