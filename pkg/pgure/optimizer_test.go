package pgure

import (
	"math"
	"math/rand"
	"testing"

	"github.com/ericpre/pgure-svt/internal/models"
	"github.com/ericpre/pgure-svt/pkg/motion"
	"github.com/ericpre/pgure-svt/pkg/noise"
)

func noisyWindow(size, frames int, seed int64, sigma float64) *models.Sequence {
	rng := rand.New(rand.NewSource(seed))
	seq := models.NewSequence(size, size, frames)
	for f := 0; f < frames; f++ {
		for y := 0; y < size; y++ {
			for x := 0; x < size; x++ {
				// Static smooth signal plus white noise.
				signal := 0.5 + 0.3*math.Sin(float64(y)/3)*math.Cos(float64(x)/3)
				seq.Set(y, x, f, signal+sigma*rng.NormFloat64())
			}
		}
	}
	return seq
}

func initialized(t *testing.T, window *models.Sequence, p noise.Params) *Optimizer {
	t.Helper()
	field := motion.Identity(window.Width, 4, window.Frames)
	o := New()
	if err := o.Initialize(window, field, 4, 2, p, false); err != nil {
		t.Fatal(err)
	}
	return o
}

// TestStateMachine verifies the Uninitialized -> Decomposed ->
// Optimized -> Reconstructed progression and its guards.
func TestStateMachine(t *testing.T) {
	o := New()
	if _, err := o.Optimize(1e-7, 0.1, 1, 10); err == nil {
		t.Error("Optimize succeeded before Initialize")
	}
	if _, err := o.Reconstruct(0.1); err == nil {
		t.Error("Reconstruct succeeded before Initialize")
	}
	if _, err := o.Risk(0.1); err == nil {
		t.Error("Risk succeeded before Initialize")
	}

	window := noisyWindow(8, 3, 1, 0.05)
	o = initialized(t, window, noise.Params{Alpha: 0, Mu: 0, Sigma: 0.05})
	if o.State() != StateDecomposed {
		t.Fatalf("state after Initialize = %d, want Decomposed", o.State())
	}
	if _, err := o.Optimize(1e-7, 0.1, 1, 50); err != nil {
		t.Fatal(err)
	}
	if o.State() != StateOptimized {
		t.Fatalf("state after Optimize = %d, want Optimized", o.State())
	}
	if _, err := o.Reconstruct(o.BestLambda()); err != nil {
		t.Fatal(err)
	}
	if o.State() != StateReconstructed {
		t.Fatalf("state after Reconstruct = %d, want Reconstructed", o.State())
	}
}

// TestOptimizeBounded verifies the returned lambda stays inside
// [0, maxLambda] and is never worse than the initial guess.
func TestOptimizeBounded(t *testing.T) {
	window := noisyWindow(16, 5, 2, 0.1)
	p := noise.Params{Alpha: 0, Mu: 0, Sigma: 0.1}
	o := initialized(t, window, p)

	const initial, maxLambda = 0.3, 1.0
	riskAtInitial, err := o.Risk(initial)
	if err != nil {
		t.Fatal(err)
	}
	lambda, err := o.Optimize(1e-7, initial, maxLambda, 200)
	if err != nil {
		t.Fatal(err)
	}
	if lambda < 0 || lambda > maxLambda {
		t.Fatalf("lambda %g outside [0, %g]", lambda, maxLambda)
	}
	riskAtBest, err := o.Risk(lambda)
	if err != nil {
		t.Fatal(err)
	}
	if riskAtBest > riskAtInitial+1e-12 {
		t.Fatalf("risk at optimum %g worse than at initial %g", riskAtBest, riskAtInitial)
	}
}

// TestRiskInteriorMinimum verifies the risk at lambda 0 equals the mean
// predicted variance (no residual, full divergence on the retained
// spectrum) and that some positive lambda beats both extremes on noisy
// low-rank data.
func TestRiskInteriorMinimum(t *testing.T) {
	window := noisyWindow(16, 7, 3, 0.1)
	p := noise.Params{Alpha: 0, Mu: 0, Sigma: 0.1}
	o := initialized(t, window, p)

	riskZero, err := o.Risk(0)
	if err != nil {
		t.Fatal(err)
	}
	// At lambda 0 the reconstruction is exact, so the residual term
	// vanishes and risk = 2*mean[v*D] - mean[v] with D = 1 wherever the
	// full spectrum is retained, i.e. risk = mean[v] = sigma^2.
	if math.Abs(riskZero-0.01) > 2e-3 {
		t.Errorf("risk(0) = %g, want about sigma^2 = 0.01", riskZero)
	}

	lambda, err := o.Optimize(1e-7, 0.2, 2, 300)
	if err != nil {
		t.Fatal(err)
	}
	riskBest, err := o.Risk(lambda)
	if err != nil {
		t.Fatal(err)
	}
	if riskBest >= riskZero {
		t.Errorf("optimized risk %g does not beat lambda 0 risk %g", riskBest, riskZero)
	}
}

// TestOptimizeBudgetNotFatal verifies a tiny evaluation budget still
// returns a usable lambda.
func TestOptimizeBudgetNotFatal(t *testing.T) {
	window := noisyWindow(8, 3, 4, 0.05)
	o := initialized(t, window, noise.Params{Alpha: 0, Mu: 0, Sigma: 0.05})
	lambda, err := o.Optimize(1e-12, 0.5, 1, 3)
	if err != nil {
		t.Fatalf("budget exhaustion was fatal: %v", err)
	}
	if lambda < 0 || lambda > 1 {
		t.Fatalf("lambda %g outside box", lambda)
	}
}
