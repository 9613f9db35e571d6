/*Package gaussfit fits two dimensional Gaussians to small image windows.

The model is separable with a constant background,

	f(r, c) = A * exp(-((r-r0)^2/(2*sr^2) + (c-c0)^2/(2*sc^2))) + B

and is solved with Levenberg-Marquardt using the analytic Jacobian.  Results
are in window-local pixel coordinates; use PeakFit.Translate to move them into
the parent image.

A fit that does not converge, or converges to a negative amplitude or width,
is an error.  Nothing is clipped.
*/
package gaussfit

import (
	"fmt"
	"math"

	"github.com/nasa-jpl/hcifs/imgproc"
	"gonum.org/v1/gonum/mat"
)

const (
	nParams = 6

	// indices into the parameter vector
	pA  = 0
	pR0 = 1
	pC0 = 2
	pSR = 3
	pSC = 4
	pB  = 5

	lambdaInit = 1e-3
	lambdaMax  = 1e16

	// gradient tolerance, cosine between the residual and any Jacobian column
	gtol = 1e-8
)

// PeakFit holds the parameters of a fitted Gaussian
type PeakFit struct {
	// Amplitude is the peak height above the background
	Amplitude float64 `json:"amplitude"`

	// Row and Col are the sub-pixel center
	Row float64 `json:"row"`
	Col float64 `json:"col"`

	// SigmaRow and SigmaCol are the widths along each axis
	SigmaRow float64 `json:"sigmaRow"`
	SigmaCol float64 `json:"sigmaCol"`

	// Offset is the fitted constant background
	Offset float64 `json:"offset"`

	// Iterations is the number of LM iterations used
	Iterations int `json:"iterations"`
}

// Translate returns a copy of the fit with its center shifted by off,
// used to move a window-local fit into full-image coordinates
func (p PeakFit) Translate(off imgproc.Point) PeakFit {
	p.Row += float64(off.Row)
	p.Col += float64(off.Col)
	return p
}

// ConvergenceError is generated when the optimizer fails to produce a
// usable fit
type ConvergenceError struct {
	Iterations int
	Reason     string
}

func (e *ConvergenceError) Error() string {
	return fmt.Sprintf("gaussfit: fit did not converge after %d iterations: %s", e.Iterations, e.Reason)
}

// Fitter holds the tuning of the optimizer
type Fitter struct {
	// InitialSigma is the starting guess for both widths, in pixels
	InitialSigma float64 `json:"initialSigma" yaml:"InitialSigma" koanf:"InitialSigma"`

	// MaxIterations bounds the number of accepted or rejected LM steps
	MaxIterations int `json:"maxIterations" yaml:"MaxIterations" koanf:"MaxIterations"`

	// Tolerance is the relative tolerance on cost and step size
	Tolerance float64 `json:"tolerance" yaml:"Tolerance" koanf:"Tolerance"`
}

// DefaultFitter returns a Fitter with settings suited to ~10 px windows
func DefaultFitter() Fitter {
	return Fitter{InitialSigma: 2, MaxIterations: 200, Tolerance: 1e-9}
}

func (f Fitter) withDefaults() Fitter {
	d := DefaultFitter()
	if f.InitialSigma <= 0 {
		f.InitialSigma = d.InitialSigma
	}
	if f.MaxIterations <= 0 {
		f.MaxIterations = d.MaxIterations
	}
	if f.Tolerance <= 0 {
		f.Tolerance = d.Tolerance
	}
	return f
}

// Fit fits a Gaussian to the window.  The initial guess uses the window's
// brightest pixel for the center, max-min for the amplitude, the window
// minimum for the background and InitialSigma for both widths.
func (f Fitter) Fit(w imgproc.Window) (PeakFit, error) {
	f = f.withDefaults()
	if w.Rows*w.Cols < nParams || len(w.Pix) != w.Rows*w.Cols {
		return PeakFit{}, &imgproc.ArgumentError{Op: "Fit", Reason: fmt.Sprintf("%dx%d window is too small to fit", w.Rows, w.Cols)}
	}
	peak, err := imgproc.Locate(w.Image, nil)
	if err != nil {
		return PeakFit{}, err
	}
	lo, hi := w.MinMax()
	p := [nParams]float64{
		pA:  hi - lo,
		pR0: float64(peak.Row),
		pC0: float64(peak.Col),
		pSR: f.InitialSigma,
		pSC: f.InitialSigma,
		pB:  lo,
	}
	p, iter, err := f.solve(w.Image, p)
	if err != nil {
		return PeakFit{}, err
	}
	fit := PeakFit{
		Amplitude:  p[pA],
		Row:        p[pR0],
		Col:        p[pC0],
		SigmaRow:   p[pSR],
		SigmaCol:   p[pSC],
		Offset:     p[pB],
		Iterations: iter,
	}
	for _, v := range p {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fit, &ConvergenceError{Iterations: iter, Reason: "non-finite parameters"}
		}
	}
	if fit.Amplitude <= 0 || fit.SigmaRow <= 0 || fit.SigmaCol <= 0 {
		return fit, &ConvergenceError{Iterations: iter, Reason: fmt.Sprintf("degenerate fit, amplitude=%g sigma=(%g,%g)", fit.Amplitude, fit.SigmaRow, fit.SigmaCol)}
	}
	return fit, nil
}

// Fit fits a window with DefaultFitter
func Fit(w imgproc.Window) (PeakFit, error) {
	return DefaultFitter().Fit(w)
}

// model evaluates the Gaussian and, when jac is not nil, its partial
// derivatives with respect to each parameter
func model(p *[nParams]float64, r, c float64, jac *[nParams]float64) float64 {
	dr := r - p[pR0]
	dc := c - p[pC0]
	sr2 := p[pSR] * p[pSR]
	sc2 := p[pSC] * p[pSC]
	e := math.Exp(-(dr*dr/(2*sr2) + dc*dc/(2*sc2)))
	if jac != nil {
		ae := p[pA] * e
		jac[pA] = e
		jac[pR0] = ae * dr / sr2
		jac[pC0] = ae * dc / sc2
		jac[pSR] = ae * dr * dr / (sr2 * p[pSR])
		jac[pSC] = ae * dc * dc / (sc2 * p[pSC])
		jac[pB] = 1
	}
	return p[pA]*e + p[pB]
}

// cost returns the sum of squared residuals
func cost(img imgproc.Image, p *[nParams]float64) float64 {
	var s float64
	for r := 0; r < img.Rows; r++ {
		for c := 0; c < img.Cols; c++ {
			d := img.Pix[r*img.Cols+c] - model(p, float64(r), float64(c), nil)
			s += d * d
		}
	}
	return s
}

// normal accumulates J^T J and J^T r
func normal(img imgproc.Image, p *[nParams]float64) ([nParams * nParams]float64, [nParams]float64) {
	var (
		jtj [nParams * nParams]float64
		jtr [nParams]float64
		jac [nParams]float64
	)
	for r := 0; r < img.Rows; r++ {
		for c := 0; c < img.Cols; c++ {
			res := img.Pix[r*img.Cols+c] - model(p, float64(r), float64(c), &jac)
			for i := 0; i < nParams; i++ {
				jtr[i] += jac[i] * res
				for j := 0; j <= i; j++ {
					jtj[i*nParams+j] += jac[i] * jac[j]
				}
			}
		}
	}
	for i := 0; i < nParams; i++ {
		for j := i + 1; j < nParams; j++ {
			jtj[i*nParams+j] = jtj[j*nParams+i]
		}
	}
	return jtj, jtr
}

func (f Fitter) solve(img imgproc.Image, p [nParams]float64) ([nParams]float64, int, error) {
	var sumSq float64
	for _, v := range img.Pix {
		sumSq += v * v
	}
	// a perfect model of the data is as good as it gets
	floor := f.Tolerance * f.Tolerance * sumSq

	lambda := lambdaInit
	c := cost(img, &p)
	for iter := 1; iter <= f.MaxIterations; iter++ {
		if c <= floor {
			return p, iter - 1, nil
		}
		jtj, jtr := normal(img, &p)
		if gradientConverged(jtj, jtr, c) {
			return p, iter - 1, nil
		}

		a := mat.NewDense(nParams, nParams, nil)
		for i := 0; i < nParams; i++ {
			for j := 0; j < nParams; j++ {
				a.Set(i, j, jtj[i*nParams+j])
			}
			a.Set(i, i, jtj[i*nParams+i]*(1+lambda))
		}
		var delta mat.VecDense
		err := delta.SolveVec(a, mat.NewVecDense(nParams, jtr[:]))
		if _, ok := err.(mat.Condition); err != nil && !ok {
			// singular, damp harder and try again
			lambda *= 10
			if lambda > lambdaMax {
				return p, iter, &ConvergenceError{Iterations: iter, Reason: "normal equations are singular"}
			}
			continue
		}

		var trial [nParams]float64
		bigStep := false
		for i := range trial {
			d := delta.AtVec(i)
			trial[i] = p[i] + d
			if math.Abs(d) > f.Tolerance*(math.Abs(p[i])+f.Tolerance) {
				bigStep = true
			}
		}
		ct := math.Inf(1)
		if trial[pSR] > 0 && trial[pSC] > 0 {
			ct = cost(img, &trial)
		}
		if ct < c {
			rel := (c - ct) / c
			p, c = trial, ct
			lambda = math.Max(lambda/10, 1e-12)
			if !bigStep || rel <= f.Tolerance {
				return p, iter, nil
			}
			continue
		}
		lambda *= 10
		if lambda > lambdaMax {
			return p, iter, &ConvergenceError{Iterations: iter, Reason: "no step reduces the residual"}
		}
	}
	return p, f.MaxIterations, &ConvergenceError{Iterations: f.MaxIterations, Reason: "iteration limit reached"}
}

// gradientConverged is true when the residual is orthogonal to every column
// of the Jacobian, to within gtol
func gradientConverged(jtj [nParams * nParams]float64, jtr [nParams]float64, c float64) bool {
	if c == 0 {
		return true
	}
	for i := 0; i < nParams; i++ {
		norm := math.Sqrt(jtj[i*nParams+i] * c)
		if norm == 0 {
			continue
		}
		if math.Abs(jtr[i])/norm > gtol {
			return false
		}
	}
	return true
}
