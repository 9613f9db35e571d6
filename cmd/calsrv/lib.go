package main

import (
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nasa-jpl/hcifs/camera"
	"github.com/nasa-jpl/hcifs/generichttp"
	calibhttp "github.com/nasa-jpl/hcifs/generichttp/calib"
	camhttp "github.com/nasa-jpl/hcifs/generichttp/camera"
	srchttp "github.com/nasa-jpl/hcifs/generichttp/source"
	"github.com/nasa-jpl/hcifs/registry"
	"github.com/nasa-jpl/hcifs/server/middleware/locker"
	"github.com/nasa-jpl/hcifs/sim"
	"github.com/nasa-jpl/hcifs/source"
)

// Bench is the source and camera named by a Config
type Bench struct {
	Source source.Capability
	Camera *camera.Averager
}

// OpenBench constructs the source and camera of c.  When c.Mock is set both
// are backed by one simulated bench regardless of their configured types.
func OpenBench(c Config) (Bench, error) {
	reg := registry.Default()
	srcCfg, camCfg := c.Source, c.Camera
	if c.Mock {
		reg = registry.WithBench(sim.NewBench(c.Bench))
		srcCfg.Type, camCfg.Type = "mock", "mock"
	}
	src, err := reg.Source(srcCfg)
	if err != nil {
		return Bench{}, errors.Wrap(err, "source")
	}
	cam, err := reg.Camera(camCfg)
	if err != nil {
		return Bench{}, errors.Wrap(err, "camera")
	}
	return Bench{Source: src, Camera: cam}, nil
}

// BuildMux serves the source, camera, and calibration routes of b under
// c.Endpoint.  All three share one lock, held for the length of every
// calibration.  The mux serves a special route, endpoints, which returns
// the routes of each node as JSON.
func BuildMux(c Config, b Bench, log *logrus.Logger) chi.Router {
	root := chi.NewRouter()
	root.Use(middleware.RequestID)
	root.Use(middleware.Logger)
	root.Use(middleware.Recoverer)

	cal := calibhttp.NewCalibrator(b.Camera, b.Source, c.Calibration)
	cal.Log = log
	lock := cal.Lock
	locker.Inject(cal, lock)

	stem := generichttp.SubMuxSanitize(c.Endpoint)
	nodes := map[string]generichttp.HTTPer{
		"/source": srchttp.NewHTTPSource(b.Source),
		"/camera": camhttp.NewHTTPCamera(b.Camera),
		"/calib":  cal,
	}
	supergraph := map[string][]string{}
	for sub, httper := range nodes {
		hndlS := stem + sub
		if stem == "/" {
			hndlS = sub
		}
		supergraph[hndlS] = httper.RT().Endpoints()
		r := chi.NewRouter()
		r.Use(lock.Check)
		httper.RT().Bind(r)
		root.Mount(hndlS, r)
	}
	root.Get("/endpoints", func(w http.ResponseWriter, r *http.Request) {
		generichttp.RespondJSON(w, supergraph)
	})
	return root
}
