/*Package camera describes a standard set of interfaces for control of cameras

FrameGrabber is the minimal interface a camera driver provides: start an
exposure, report when it is done, hand back the frame.  ImageSource is what
consumers of averaged, dark-corrected images (the calibration loop) depend on.
Averager adapts the former to the latter.

*/
package camera

import (
	"time"

	"github.com/nasa-jpl/hcifs/imgproc"
)

// FrameGrabber describes a minimal camera interface with only the basics.
type FrameGrabber interface {
	// StartExposure begins an exposure of the given duration.  It does not
	// wait for the exposure to complete.
	StartExposure(time.Duration) error

	// ImageReady returns true once the exposure has completed and the frame
	// may be read
	ImageReady() (bool, error)

	// ReadFrame returns the most recently completed frame
	ReadFrame() (imgproc.Image, error)
}

// ImageSource produces averaged exposures and knows its detector's
// saturation level
type ImageSource interface {
	// AveragedExposure acquires frames exposures of the given duration and
	// returns their pixel-wise mean.  It blocks for roughly exposure*frames.
	AveragedExposure(exposure time.Duration, frames int) (imgproc.Image, error)

	// SaturationLevel is the largest meaningful pixel value
	SaturationLevel() float64
}
