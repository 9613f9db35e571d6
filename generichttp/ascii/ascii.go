// Package ascii exposes the raw command channel of text-protocol sources
package ascii

import (
	"encoding/json"
	"go/types"
	"net/http"
	"strings"

	"github.com/nasa-jpl/hcifs/generichttp"
)

// RawCommunicator sends a command verbatim and returns the device's reply
type RawCommunicator interface {
	Raw(string) (string, error)
}

// RawWrapper serves a RawCommunicator over HTTP
type RawWrapper struct {
	Comm RawCommunicator
}

// HTTPRaw sends {"str": "..."} to the device and replies with its response.
// Blank commands are refused; a failed exchange is a 502, the fault lying
// with the device and not the request.
func (rw RawWrapper) HTTPRaw(w http.ResponseWriter, r *http.Request) {
	str := generichttp.StrT{}
	err := json.NewDecoder(r.Body).Decode(&str)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	cmd := strings.TrimSpace(str.Str)
	if cmd == "" {
		http.Error(w, "empty command", http.StatusBadRequest)
		return
	}
	resp, err := rw.Comm.Raw(cmd)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	hp := generichttp.HumanPayload{T: types.String, String: strings.TrimSpace(resp)}
	hp.EncodeAndRespond(w, r)
}

// InjectRawComm adds POST /raw to rt
func InjectRawComm(rt generichttp.RouteTable, raw RawCommunicator) {
	wrap := RawWrapper{Comm: raw}
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/raw"}] = wrap.HTTPRaw
}
