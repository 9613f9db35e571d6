// Package source exposes control of light sources over HTTP
package source

import (
	"encoding/json"
	"go/types"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"
	"github.com/pkg/errors"

	"github.com/nasa-jpl/hcifs/generichttp"
	"github.com/nasa-jpl/hcifs/generichttp/ascii"
	lsrc "github.com/nasa-jpl/hcifs/source"
)

// WavelengthReporter knows the wavelength of each of its channels, nm
type WavelengthReporter interface {
	Wavelength(channel int) (float64, error)
}

// StatusCode maps an error from a source to an HTTP status code
func StatusCode(err error) int {
	var cle *lsrc.CurrentLimitError
	switch {
	case errors.As(err, &cle):
		return http.StatusConflict
	case errors.Cause(err) == lsrc.ErrUnknownChannel:
		return http.StatusNotFound
	case errors.Cause(err) == lsrc.ErrNegativeCurrent:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// channel parses the {ch} URL parameter
func channel(r *http.Request) (int, error) {
	ch, err := strconv.Atoi(chi.URLParam(r, "ch"))
	if err != nil {
		return 0, errors.Wrap(err, "channel must be an integer")
	}
	return ch, nil
}

// GetChannelFloat returns a handler which responds with fcn of the {ch} URL
// parameter as {"f64": value}
func GetChannelFloat(fcn func(int) (float64, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ch, err := channel(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f, err := fcn(ch)
		if err != nil {
			http.Error(w, err.Error(), StatusCode(err))
			return
		}
		hp := generichttp.HumanPayload{T: types.Float64, Float: f}
		hp.EncodeAndRespond(w, r)
	}
}

// SetCurrent parses {"f64": value} and sets the current of the {ch} channel.
// Requests above the channel maximum are refused with 409 (Conflict).
func SetCurrent(c lsrc.CurrentController) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ch, err := channel(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f := generichttp.FloatT{}
		err = json.NewDecoder(r.Body).Decode(&f)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		err = c.SetCurrent(f.F64, ch)
		if err != nil {
			http.Error(w, err.Error(), StatusCode(err))
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// SetEnabled turns the source on or off based on {"bool": value}
func SetEnabled(c lsrc.Capability) http.HandlerFunc {
	return generichttp.SetBool(func(b bool) error {
		if b {
			return c.Enable()
		}
		return c.Disable()
	})
}

// HTTPSource wraps a source in an HTTP route table
type HTTPSource struct {
	// Src is the underlying source
	Src lsrc.Capability

	// RouteTable maps URLs to functions
	RouteTable generichttp.RouteTable
}

// NewHTTPSource returns a new HTTP wrapper around an existing source.
// Wavelength and raw command routes are added when the source supports them.
func NewHTTPSource(src lsrc.Capability) HTTPSource {
	h := HTTPSource{Src: src}
	rt := generichttp.RouteTable{
		generichttp.MethodPath{Method: http.MethodGet, Path: "/channel/{ch}/current"}:     GetChannelFloat(src.GetCurrent),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/channel/{ch}/current"}:    SetCurrent(src),
		generichttp.MethodPath{Method: http.MethodGet, Path: "/channel/{ch}/max-current"}: GetChannelFloat(src.MaxCurrent),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/enabled"}:                 SetEnabled(src),
		generichttp.MethodPath{Method: http.MethodGet, Path: "/status"}:                   generichttp.GetString(src.Status),
	}
	if wvl, ok := interface{}(src).(WavelengthReporter); ok {
		rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/channel/{ch}/wavelength"}] = GetChannelFloat(wvl.Wavelength)
	}
	if raw, ok := interface{}(src).(ascii.RawCommunicator); ok {
		ascii.InjectRawComm(rt, raw)
	}
	h.RouteTable = rt
	return h
}

// RT satisfies the generichttp.HTTPer interface
func (h HTTPSource) RT() generichttp.RouteTable {
	return h.RouteTable
}
