// Package camera provides a generic HTTP interface to an averaging camera
package camera

import (
	"image"
	"image/color"
	"image/png"
	"net/http"
	"strconv"
	"time"

	"github.com/astrogo/fitsio"
	"github.com/pkg/errors"

	camlib "github.com/nasa-jpl/hcifs/camera"
	"github.com/nasa-jpl/hcifs/comm"
	"github.com/nasa-jpl/hcifs/generichttp"
	"github.com/nasa-jpl/hcifs/imgproc"
	"github.com/nasa-jpl/hcifs/util"
)

// DefaultExposure is used when a request does not specify an exposure time
const DefaultExposure = 100 * time.Millisecond

// DarkTaker can acquire and store a dark frame
type DarkTaker interface {
	TakeDark(exposure time.Duration, frames int) (imgproc.Image, error)
}

// exposureArgs holds the exposure time and frame count of a request
type exposureArgs struct {
	Exposure time.Duration
	Frames   int
}

// parseExposure reads the exposureTime and frames query parameters.
// A bare number for the exposure time is taken to be seconds.
func parseExposure(r *http.Request) (exposureArgs, error) {
	out := exposureArgs{Exposure: DefaultExposure, Frames: 1}
	q := r.URL.Query()
	if texp := q.Get("exposureTime"); texp != "" {
		d, err := util.ParseDuration(texp)
		if err != nil {
			return out, err
		}
		out.Exposure = d
	}
	if n := q.Get("frames"); n != "" {
		i, err := strconv.Atoi(n)
		if err != nil {
			return out, errors.Wrap(err, "frames must be an integer")
		}
		out.Frames = i
	}
	if out.Frames < 1 {
		return out, errors.Errorf("frames must be >= 1, got %d", out.Frames)
	}
	return out, nil
}

// StatusCode maps an error from a camera to an HTTP status code
func StatusCode(err error) int {
	var (
		de *comm.DeviceError
		ae *imgproc.ArgumentError
	)
	switch {
	case errors.As(err, &ae):
		return http.StatusBadRequest
	case errors.As(err, &de):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// ToGray16 scales img so that saturation maps to full scale in 16 bits
func ToGray16(img imgproc.Image, saturation float64) *image.Gray16 {
	out := image.NewGray16(image.Rect(0, 0, img.Cols, img.Rows))
	for r := 0; r < img.Rows; r++ {
		for c := 0; c < img.Cols; c++ {
			v := util.Clamp(img.At(r, c)/saturation, 0, 1)
			out.SetGray16(c, r, color.Gray16{Y: uint16(v * 65535)})
		}
	}
	return out
}

// GetFrame takes an averaged exposure and returns it on a GET request.
//
// the exposure time may be specified with the exposureTime query parameter in
// any time-looking format, such as "25ms" or "10us".  If no unit is appended,
// an s (seconds) is added.  The number of frames averaged is given by frames.
//
// the image format may be fits (the default) or png.  PNG images are scaled
// so that the saturation level is white.
func GetFrame(src camlib.ImageSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		args, err := parseExposure(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		format := r.URL.Query().Get("fmt")
		if format == "" {
			format = "fits"
		}
		if format != "fits" && format != "png" {
			http.Error(w, "fmt must be fits or png, got "+format, http.StatusBadRequest)
			return
		}
		img, err := src.AveragedExposure(args.Exposure, args.Frames)
		if err != nil {
			http.Error(w, err.Error(), StatusCode(err))
			return
		}
		switch format {
		case "png":
			w.Header().Set("Content-Type", "image/png")
			w.WriteHeader(http.StatusOK)
			png.Encode(w, ToGray16(img, src.SaturationLevel()))
		case "fits":
			cards := []fitsio.Card{
				{Name: "EXPTIME", Value: args.Exposure.Seconds(), Comment: "exposure time, seconds"},
				{Name: "NFRAMES", Value: args.Frames, Comment: "number of frames averaged"},
				{Name: "SATLEVEL", Value: src.SaturationLevel(), Comment: "detector saturation level"},
			}
			hdr := w.Header()
			hdr.Set("Content-Type", "image/fits")
			hdr.Set("Content-Disposition", "attachment; filename=image.fits")
			w.WriteHeader(http.StatusOK)
			camlib.WriteFITS(w, cards, img)
		}
	}
}

// TakeDark acquires a dark frame on a POST request with the same query
// parameters as GetFrame and responds with its mean level as {"f64": value}
func TakeDark(d DarkTaker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		args, err := parseExposure(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		dark, err := d.TakeDark(args.Exposure, args.Frames)
		if err != nil {
			http.Error(w, err.Error(), StatusCode(err))
			return
		}
		sum := 0.
		for _, v := range dark.Pix {
			sum += v
		}
		generichttp.GetFloat(func() (float64, error) {
			return sum / float64(len(dark.Pix)), nil
		})(w, r)
	}
}

// HTTPCamera wraps an image source in an HTTP route table
type HTTPCamera struct {
	// Src is the underlying image source
	Src camlib.ImageSource

	// RouteTable maps URLs to functions
	RouteTable generichttp.RouteTable
}

// NewHTTPCamera returns a new HTTP wrapper around an image source.
// A dark route is added if the source can take darks.
func NewHTTPCamera(src camlib.ImageSource) HTTPCamera {
	h := HTTPCamera{Src: src}
	rt := generichttp.RouteTable{
		generichttp.MethodPath{Method: http.MethodGet, Path: "/image"}:      GetFrame(src),
		generichttp.MethodPath{Method: http.MethodGet, Path: "/saturation"}: generichttp.GetFloat(func() (float64, error) {
			return src.SaturationLevel(), nil
		}),
	}
	if dt, ok := interface{}(src).(DarkTaker); ok {
		rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/dark"}] = TakeDark(dt)
	}
	h.RouteTable = rt
	return h
}

// RT satisfies the generichttp.HTTPer interface
func (h HTTPCamera) RT() generichttp.RouteTable {
	return h.RouteTable
}
