/*Package imgproc contains the small amount of image processing needed to find
and isolate intensity peaks in camera frames.

Images are row-major and strided by the number of columns, the same layout the
camera packages use for raw frames.  Coordinates are (row, column) pixel
indices with the origin at the top left.

Images are treated as immutable once acquired.  Operations that need to alter
pixels (Mask) work on a copy.
*/
package imgproc

import "fmt"

// Point is a pixel coordinate
type Point struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

// Region is a rectangular area of an image
type Region struct {
	// Top is the first row of the region
	Top int `json:"top"`

	// Left is the first column of the region
	Left int `json:"left"`

	// Height is the number of rows
	Height int `json:"height"`

	// Width is the number of columns
	Width int `json:"width"`
}

// Contains returns true if p lies inside the region
func (r Region) Contains(p Point) bool {
	return p.Row >= r.Top && p.Row < r.Top+r.Height &&
		p.Col >= r.Left && p.Col < r.Left+r.Width
}

// Inside returns true if r lies completely within o
func (r Region) Inside(o Region) bool {
	return r.Top >= o.Top && r.Left >= o.Left &&
		r.Top+r.Height <= o.Top+o.Height &&
		r.Left+r.Width <= o.Left+o.Width
}

func (r Region) String() string {
	return fmt.Sprintf("rows [%d,%d) cols [%d,%d)", r.Top, r.Top+r.Height, r.Left, r.Left+r.Width)
}

// Image is a 2D array of intensities
type Image struct {
	Rows int
	Cols int

	// Pix holds the pixel values, row-major
	Pix []float64
}

// New returns a zero-valued image of the given shape
func New(rows, cols int) Image {
	return Image{Rows: rows, Cols: cols, Pix: make([]float64, rows*cols)}
}

// FromUint16 converts a strided 16-bit camera buffer to an Image
func FromUint16(buf []uint16, rows, cols int) (Image, error) {
	if len(buf) != rows*cols {
		return Image{}, &ArgumentError{Op: "FromUint16", Reason: fmt.Sprintf("buffer of %d pixels does not match %dx%d", len(buf), rows, cols)}
	}
	im := New(rows, cols)
	for i, v := range buf {
		im.Pix[i] = float64(v)
	}
	return im, nil
}

// Empty returns true if the image holds no pixels
func (im Image) Empty() bool {
	return im.Rows <= 0 || im.Cols <= 0 || len(im.Pix) == 0
}

// At returns the value at (r, c).  It panics if the coordinate is out of bounds.
func (im Image) At(r, c int) float64 {
	return im.Pix[r*im.Cols+c]
}

// Set sets the value at (r, c).  It is intended for building images,
// not for altering acquired frames.
func (im Image) Set(r, c int, v float64) {
	im.Pix[r*im.Cols+c] = v
}

// Bounds returns the region covering the whole image
func (im Image) Bounds() Region {
	return Region{Height: im.Rows, Width: im.Cols}
}

// Clone returns a deep copy of the image
func (im Image) Clone() Image {
	out := Image{Rows: im.Rows, Cols: im.Cols, Pix: make([]float64, len(im.Pix))}
	copy(out.Pix, im.Pix)
	return out
}

// MinMax returns the smallest and largest pixel values
func (im Image) MinMax() (float64, float64) {
	if len(im.Pix) == 0 {
		return 0, 0
	}
	lo, hi := im.Pix[0], im.Pix[0]
	for _, v := range im.Pix[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

// CountAtOrAbove returns the number of pixels >= level
func (im Image) CountAtOrAbove(level float64) int {
	n := 0
	for _, v := range im.Pix {
		if v >= level {
			n++
		}
	}
	return n
}

// SameShape returns true if the two images have equal dimensions
func (im Image) SameShape(o Image) bool {
	return im.Rows == o.Rows && im.Cols == o.Cols
}
