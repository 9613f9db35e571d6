package camera

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/nasa-jpl/hcifs/imgproc"
	"github.com/pkg/errors"
)

var (
	// ErrNoExposure is generated when ReadFrame is called before StartExposure
	ErrNoExposure = errors.New("no exposure has been started")

	// ErrExposureInProgress is generated when ReadFrame is called before the image is ready
	ErrExposureInProgress = errors.New("exposure still in progress")
)

type frameResult struct {
	img imgproc.Image
	err error
}

// HTTPCamera is a FrameGrabber backed by a camera server speaking the
// exposureTime / fmt=fits convention of GET /image.
//
// The request is issued in the background by StartExposure; ImageReady does
// not block.
type HTTPCamera struct {
	// Addr is the base URL of the camera, e.g. http://127.0.0.1:8000/camera
	Addr string

	// Client is the http client used, http.DefaultClient if nil
	Client *http.Client

	mu      sync.Mutex
	pending chan frameResult
	done    *frameResult
}

// NewHTTPCamera returns a new HTTPCamera with a client that times out
func NewHTTPCamera(addr string, timeout time.Duration) *HTTPCamera {
	return &HTTPCamera{Addr: addr, Client: &http.Client{Timeout: timeout}}
}

func (h *HTTPCamera) client() *http.Client {
	if h.Client == nil {
		return http.DefaultClient
	}
	return h.Client
}

// StartExposure begins fetching a frame with the given exposure time
func (h *HTTPCamera) StartExposure(d time.Duration) error {
	u, err := url.Parse(h.Addr + "/image")
	if err != nil {
		return err
	}
	q := u.Query()
	q.Set("fmt", "fits")
	q.Set("exposureTime", strconv.FormatFloat(d.Seconds(), 'g', -1, 64)+"s")
	u.RawQuery = q.Encode()

	ch := make(chan frameResult, 1)
	h.mu.Lock()
	h.pending = ch
	h.done = nil
	h.mu.Unlock()
	go func() {
		ch <- h.fetch(u.String())
	}()
	return nil
}

func (h *HTTPCamera) fetch(u string) frameResult {
	resp, err := h.client().Get(u)
	if err != nil {
		return frameResult{err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return frameResult{err: fmt.Errorf("camera server returned %s", resp.Status)}
	}
	img, err := ReadFITS(resp.Body)
	return frameResult{img: img, err: err}
}

// ImageReady reports whether the background fetch has completed
func (h *HTTPCamera) ImageReady() (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.done != nil {
		return true, nil
	}
	if h.pending == nil {
		return false, ErrNoExposure
	}
	select {
	case res := <-h.pending:
		h.done = &res
		h.pending = nil
		return true, nil
	default:
		return false, nil
	}
}

// ReadFrame returns the fetched frame, or the error encountered fetching it
func (h *HTTPCamera) ReadFrame() (imgproc.Image, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.done == nil {
		if h.pending == nil {
			return imgproc.Image{}, ErrNoExposure
		}
		return imgproc.Image{}, ErrExposureInProgress
	}
	res := *h.done
	return res.img, res.err
}
