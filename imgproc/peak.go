package imgproc

import "math"

// Window is a square sub-image centered on a candidate peak
type Window struct {
	Image

	// Offset is the top-left corner of the window in the parent image
	Offset Point
}

// Region returns the area of the parent image the window was cut from
func (w Window) Region() Region {
	return Region{Top: w.Offset.Row, Left: w.Offset.Col, Height: w.Rows, Width: w.Cols}
}

// Locate returns the coordinates of the brightest pixel in img.
//
// Pixels inside excluded are skipped when it is not nil.  When several pixels
// share the maximum value, the one with the lowest row-major index wins, i.e.
// the first encountered scanning rows top to bottom and each row left to right.
//
// NaN pixels never win.  Locate fails with an *ArgumentError if the image is
// empty or nothing is left to search.
func Locate(img Image, excluded *Region) (Point, error) {
	if img.Empty() {
		return Point{}, &ArgumentError{Op: "Locate", Reason: "image is empty"}
	}
	var (
		best  = math.Inf(-1)
		where Point
		found bool
	)
	for r := 0; r < img.Rows; r++ {
		row := img.Pix[r*img.Cols : (r+1)*img.Cols]
		for c, v := range row {
			if excluded != nil && excluded.Contains(Point{r, c}) {
				continue
			}
			if !found || v > best {
				// strict > keeps the first maximum
				if math.IsNaN(v) {
					continue
				}
				best = v
				where = Point{r, c}
				found = true
			}
		}
	}
	if !found {
		return Point{}, &ArgumentError{Op: "Locate", Reason: "every pixel is masked"}
	}
	return where, nil
}

// WindowRegion returns the region of side 2*halfWidth centered on center.
// The window covers rows [center.Row-halfWidth, center.Row+halfWidth), and
// likewise for columns, so the center pixel sits just below and right of the
// geometric middle.
func WindowRegion(center Point, halfWidth int) Region {
	return Region{
		Top:    center.Row - halfWidth,
		Left:   center.Col - halfWidth,
		Height: 2 * halfWidth,
		Width:  2 * halfWidth}
}

// ExtractWindow copies the window of side 2*halfWidth around center out of img.
//
// Windows are never clamped; a window that would extend past an edge of the
// image fails with a *BoundsError.
func ExtractWindow(img Image, center Point, halfWidth int) (Window, error) {
	if halfWidth < 1 {
		return Window{}, &ArgumentError{Op: "ExtractWindow", Reason: "halfWidth must be >= 1"}
	}
	reg := WindowRegion(center, halfWidth)
	if !reg.Inside(img.Bounds()) {
		return Window{}, &BoundsError{Window: reg, Rows: img.Rows, Cols: img.Cols}
	}
	w := Window{Image: New(reg.Height, reg.Width), Offset: Point{reg.Top, reg.Left}}
	for r := 0; r < reg.Height; r++ {
		src := img.Pix[(reg.Top+r)*img.Cols+reg.Left : (reg.Top+r)*img.Cols+reg.Left+reg.Width]
		copy(w.Pix[r*reg.Width:(r+1)*reg.Width], src)
	}
	return w, nil
}

// Mask returns a copy of img with every pixel inside reg set to zero.
// The portion of reg outside the image is ignored.
func Mask(img Image, reg Region) Image {
	out := img.Clone()
	r0 := max(reg.Top, 0)
	r1 := min(reg.Top+reg.Height, img.Rows)
	c0 := max(reg.Left, 0)
	c1 := min(reg.Left+reg.Width, img.Cols)
	for r := r0; r < r1; r++ {
		for c := c0; c < c1; c++ {
			out.Pix[r*img.Cols+c] = 0
		}
	}
	return out
}
