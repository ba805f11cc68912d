// Package pgure drives singular value threshold selection by minimizing
// the Poisson-Gaussian Unbiased Risk Estimate of the reconstruction
// error. The estimator is closed-form: it compares the reconstruction,
// the noisy window, and the noise model's predicted variance per pixel,
// with the estimator's divergence evaluated from the spectrum of the
// single decomposition pass. No ground truth and no gradient are
// required.
package pgure

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/optimize"

	"github.com/ericpre/pgure-svt/internal/models"
	"github.com/ericpre/pgure-svt/pkg/grid"
	"github.com/ericpre/pgure-svt/pkg/motion"
	"github.com/ericpre/pgure-svt/pkg/noise"
	"github.com/ericpre/pgure-svt/pkg/svt"
)

// State tracks the per-window lifecycle of the optimizer.
type State int

const (
	// StateUninitialized is the zero state before Initialize.
	StateUninitialized State = iota
	// StateDecomposed means the SVT engine holds a decomposition and
	// Reconstruct/Optimize may be called.
	StateDecomposed
	// StateOptimized means Optimize has cached a winning lambda.
	StateOptimized
	// StateReconstructed means at least one reconstruction was produced.
	StateReconstructed
)

// DefaultMaxEvaluations bounds the risk evaluations per window.
const DefaultMaxEvaluations = 1000

// Optimizer binds one window's SVT decomposition and noise parameters
// and searches for the risk-minimizing threshold.
type Optimizer struct {
	engine *svt.Engine
	window *models.Sequence
	params noise.Params

	state      State
	bestLambda float64
}

// New returns an optimizer in the uninitialized state.
func New() *Optimizer {
	return &Optimizer{state: StateUninitialized}
}

// State returns the current lifecycle state.
func (o *Optimizer) State() State { return o.state }

// BestLambda returns the cached optimum after Optimize.
func (o *Optimizer) BestLambda() float64 { return o.bestLambda }

// Initialize binds the window, its motion field and the noise parameters,
// and runs the single decomposition pass that every subsequent risk
// evaluation reuses.
func (o *Optimizer) Initialize(window *models.Sequence, field *motion.Field, blockSize, blockOverlap int, params noise.Params, expWeighting bool) error {
	if window.Width != window.Height {
		return fmt.Errorf("pgure: frames must be square, got %dx%d", window.Width, window.Height)
	}
	g, err := grid.New(window.Width, blockSize, blockOverlap)
	if err != nil {
		return fmt.Errorf("pgure: %w", err)
	}
	engine, err := svt.NewEngine(g, field, window.Frames, expWeighting)
	if err != nil {
		return fmt.Errorf("pgure: %w", err)
	}
	if err := engine.Decompose(window); err != nil {
		return fmt.Errorf("pgure: %w", err)
	}
	o.engine = engine
	o.window = window
	o.params = params
	o.state = StateDecomposed
	return nil
}

// Risk evaluates the unbiased risk estimate at the given threshold:
//
//	risk = mean[(F - Y)^2] + 2*mean[v*D] - mean[v]
//
// where F is the reconstruction, Y the noisy window, D the blended
// divergence field and v = max(alpha*(Y - mu) + sigma^2, 0) the model's
// predicted per-pixel variance.
func (o *Optimizer) Risk(lambda float64) (float64, error) {
	if o.state == StateUninitialized {
		return 0, fmt.Errorf("pgure: Risk called before Initialize")
	}
	recon, div, err := o.engine.ReconstructWithDivergence(lambda)
	if err != nil {
		return 0, err
	}
	var sum float64
	for i, y := range o.window.Data {
		r := recon.Data[i] - y
		v := math.Max(o.params.Alpha*(y-o.params.Mu)+o.params.Sigma*o.params.Sigma, 0)
		sum += r*r + v*(2*div.Data[i]-1)
	}
	return sum / float64(len(o.window.Data)), nil
}

// Optimize searches [0, maxLambda] for the risk-minimizing threshold,
// starting from initial. It stops when the relative objective change
// falls below tol or maxEval evaluations have been spent; exhausting the
// budget is not an error and yields the best lambda seen. The result is
// always within the box and never worse than the initial guess.
func (o *Optimizer) Optimize(tol, initial, maxLambda float64, maxEval int) (float64, error) {
	if o.state == StateUninitialized {
		return 0, fmt.Errorf("pgure: Optimize called before Initialize")
	}
	if maxLambda <= 0 {
		return 0, fmt.Errorf("pgure: non-positive lambda bound %g", maxLambda)
	}
	if maxEval <= 0 {
		maxEval = DefaultMaxEvaluations
	}

	best := math.Inf(1)
	bestLambda := clampTo(initial, maxLambda)

	objective := func(x []float64) float64 {
		lambda := clampTo(x[0], maxLambda)
		risk, err := o.Risk(lambda)
		if err != nil || math.IsNaN(risk) {
			return math.Inf(1)
		}
		if risk < best {
			best = risk
			bestLambda = lambda
		}
		return risk
	}

	problem := optimize.Problem{Func: objective}
	settings := &optimize.Settings{
		FuncEvaluations: maxEval,
		Converger: &optimize.FunctionConverge{
			Relative:   tol,
			Absolute:   tol * tol,
			Iterations: 25,
		},
	}
	// Nelder-Mead needs no gradient; the box is enforced by clamping
	// inside the objective, with the best in-box evaluation retained.
	_, err := optimize.Minimize(problem, []float64{bestLambda}, settings, &optimize.NelderMead{})
	if err != nil && math.IsInf(best, 1) {
		return 0, fmt.Errorf("pgure: optimization failed before any evaluation: %w", err)
	}

	o.bestLambda = bestLambda
	o.state = StateOptimized
	return bestLambda, nil
}

// Reconstruct forwards to the bound SVT engine. It may be called
// repeatedly once the decomposition exists; the window driver calls it a
// final time with the optimized (or fixed) threshold.
func (o *Optimizer) Reconstruct(lambda float64) (*models.Sequence, error) {
	if o.state == StateUninitialized {
		return nil, fmt.Errorf("pgure: Reconstruct called before Initialize")
	}
	out, err := o.engine.Reconstruct(lambda)
	if err != nil {
		return nil, err
	}
	o.state = StateReconstructed
	return out, nil
}

func clampTo(v, hi float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	if v > hi {
		return hi
	}
	return v
}
