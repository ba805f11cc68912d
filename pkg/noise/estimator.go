// Package noise estimates and simulates the mixed Poisson-Gaussian noise
// model y = alpha*Pois(x/alpha) + mu + sigma*N(0,1). Local cell
// statistics across the window are fitted to the affine relation
// variance = alpha*(mean - mu) + sigma^2; the method selector chooses
// between regression variants of differing robustness.
package noise

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/ericpre/pgure-svt/internal/models"
)

// Regression variants for the affine noise fit.
const (
	// MethodOLS is an ordinary least-squares fit over all cells.
	MethodOLS = 1
	// MethodWeighted down-weights high-variance cells.
	MethodWeighted = 2
	// MethodTheilSen uses the median of pairwise slopes.
	MethodTheilSen = 3
	// MethodTrimmed discards the brightest and darkest cell deciles
	// before the least-squares fit. Default; targets scanning-probe
	// sequences where beam artefacts contaminate the extremes.
	MethodTrimmed = 4
)

// muQuantile is the cell-mean quantile used as the offset estimate:
// in the darkest cells the signal vanishes and the mean exposes mu.
const muQuantile = 0.005

// Params holds the three noise model parameters. A negative value marks
// the parameter as unknown, to be estimated; non-negative values are
// treated as user-fixed and passed through unchanged.
type Params struct {
	// Alpha is the detector gain.
	Alpha float64
	// Mu is the detector offset.
	Mu float64
	// Sigma is the Gaussian read-noise standard deviation.
	Sigma float64
}

// Estimator fits the noise model from a window of raw frames.
type Estimator struct {
	// PatchSize is the edge length of the square statistic cells.
	PatchSize int
	// Method selects the regression variant (MethodOLS..MethodTrimmed).
	Method int
}

// Estimate fills in every parameter of p that is negative from the
// window's local statistics and returns the completed set. Outputs are
// clamped to be non-negative and finite; degenerate windows (flat, too
// small for a single cell) yield zeros rather than NaN.
func (e *Estimator) Estimate(window *models.Sequence, p Params) Params {
	if p.Alpha >= 0 && p.Mu >= 0 && p.Sigma >= 0 {
		return p
	}
	cell := e.PatchSize
	if cell <= 0 {
		cell = 8
	}
	method := e.Method
	if method < MethodOLS || method > MethodTrimmed {
		method = MethodTrimmed
	}

	means, vars := cellStatistics(window, cell)
	if len(means) < 2 {
		return clampParams(p)
	}

	slope, intercept := fit(means, vars, method)

	out := p
	if out.Mu < 0 {
		sorted := append([]float64(nil), means...)
		sort.Float64s(sorted)
		out.Mu = stat.Quantile(muQuantile, stat.Empirical, sorted, nil)
	}
	if out.Alpha < 0 {
		out.Alpha = slope
	}
	if out.Sigma < 0 {
		// variance = alpha*mean - alpha*mu + sigma^2, so the intercept
		// is sigma^2 - alpha*mu.
		out.Sigma = math.Sqrt(math.Max(intercept+out.Alpha*out.Mu, 0))
	}
	return clampParams(out)
}

// cellStatistics tiles every frame into cell x cell squares and returns
// the per-cell mean/variance pairs. Partial cells at the edges are
// skipped; zero-variance cells are kept, the fit tolerates them.
func cellStatistics(window *models.Sequence, cell int) (means, vars []float64) {
	ny := window.Height / cell
	nx := window.Width / cell
	if ny == 0 || nx == 0 {
		return nil, nil
	}
	buf := make([]float64, cell*cell)
	for t := 0; t < window.Frames; t++ {
		frame := window.FrameData(t)
		for cy := 0; cy < ny; cy++ {
			for cx := 0; cx < nx; cx++ {
				k := 0
				for r := 0; r < cell; r++ {
					o := (cy*cell+r)*window.Width + cx*cell
					k += copy(buf[k:], frame[o:o+cell])
				}
				m, v := stat.MeanVariance(buf, nil)
				means = append(means, m)
				vars = append(vars, v)
			}
		}
	}
	return means, vars
}

// fit regresses variance on mean with the selected variant and returns
// the slope and intercept.
func fit(means, vars []float64, method int) (slope, intercept float64) {
	switch method {
	case MethodOLS:
		intercept, slope = stat.LinearRegression(means, vars, nil, false)
	case MethodWeighted:
		weights := make([]float64, len(vars))
		for i, v := range vars {
			weights[i] = 1 / (1 + v*v)
		}
		intercept, slope = stat.LinearRegression(means, vars, weights, false)
	case MethodTheilSen:
		slope, intercept = theilSen(means, vars)
	default:
		m, v := trim(means, vars)
		intercept, slope = stat.LinearRegression(m, v, nil, false)
	}
	if math.IsNaN(slope) || math.IsInf(slope, 0) {
		slope = 0
	}
	if math.IsNaN(intercept) || math.IsInf(intercept, 0) {
		intercept = 0
	}
	return slope, intercept
}

// theilSen returns the median pairwise slope and the matching median
// residual intercept. Pair enumeration is strided to stay near-linear in
// the cell count.
func theilSen(xs, ys []float64) (slope, intercept float64) {
	const maxPairs = 1 << 17
	n := len(xs)
	step := 1
	if n*(n-1)/2 > maxPairs {
		step = n * (n - 1) / 2 / maxPairs
	}
	slopes := make([]float64, 0, maxPairs)
	k := 0
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if k%step == 0 && xs[j] != xs[i] {
				slopes = append(slopes, (ys[j]-ys[i])/(xs[j]-xs[i]))
			}
			k++
		}
	}
	if len(slopes) == 0 {
		return 0, 0
	}
	sort.Float64s(slopes)
	slope = stat.Quantile(0.5, stat.Empirical, slopes, nil)

	resid := make([]float64, n)
	for i := range xs {
		resid[i] = ys[i] - slope*xs[i]
	}
	sort.Float64s(resid)
	intercept = stat.Quantile(0.5, stat.Empirical, resid, nil)
	return slope, intercept
}

// trim drops the darkest and brightest cell-mean deciles.
func trim(means, vars []float64) (m, v []float64) {
	type pair struct{ m, v float64 }
	pairs := make([]pair, len(means))
	for i := range means {
		pairs[i] = pair{means[i], vars[i]}
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].m < pairs[j].m })
	lo := len(pairs) / 10
	hi := len(pairs) - len(pairs)/10
	if hi-lo < 2 {
		lo, hi = 0, len(pairs)
	}
	m = make([]float64, 0, hi-lo)
	v = make([]float64, 0, hi-lo)
	for _, p := range pairs[lo:hi] {
		m = append(m, p.m)
		v = append(v, p.v)
	}
	return m, v
}

func clampParams(p Params) Params {
	return Params{
		Alpha: clamp(p.Alpha),
		Mu:    clamp(p.Mu),
		Sigma: clamp(p.Sigma),
	}
}

func clamp(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}
