package imgproc

import "fmt"

// ArgumentError is generated when an input cannot be processed at all,
// for example an empty or fully masked image
type ArgumentError struct {
	Op     string
	Reason string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("imgproc: %s: %s", e.Op, e.Reason)
}

// BoundsError is generated when a window would extend past the image edge
type BoundsError struct {
	// Window is the requested window
	Window Region

	// Rows and Cols are the image dimensions
	Rows int
	Cols int
}

func (e *BoundsError) Error() string {
	return fmt.Sprintf("imgproc: window %s exceeds %dx%d image", e.Window, e.Rows, e.Cols)
}
