// Package svt implements low-rank patch recovery by singular value
// thresholding. Each patch's temporal stack is vectorized into a Casorati
// matrix, decomposed once by an economy-size SVD, and reconstructed under
// a threshold with overlap-weighted blending into full frames.
package svt

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/ericpre/pgure-svt/internal/models"
	"github.com/ericpre/pgure-svt/pkg/grid"
	"github.com/ericpre/pgure-svt/pkg/motion"
)

// Engine performs the decompose/reconstruct cycle for one temporal
// window. The expensive SVD pass happens once in Decompose; Reconstruct
// may then be called repeatedly with different thresholds.
type Engine struct {
	grid  *grid.Grid
	field *motion.Field

	size      int
	frames    int
	blockSize int

	// ExpWeighting selects exponentially weighted thresholding, where
	// each singular value gets its own threshold derived from the
	// spectrum, instead of the plain scalar soft-threshold.
	ExpWeighting bool

	us []*mat.Dense // per patch: blockSize^2 x r
	vs []*mat.Dense // per patch: frames x r
	ss [][]float64  // per patch: r singular values, descending

	decomposed bool
}

// NewEngine builds an engine over the given patch grid and motion field.
func NewEngine(g *grid.Grid, field *motion.Field, frames int, expWeighting bool) (*Engine, error) {
	if field.Size != g.Size || field.BlockSize != g.BlockSize {
		return nil, fmt.Errorf("svt: motion field geometry %dx%d/%d does not match grid %dx%d/%d",
			field.Size, field.Size, field.BlockSize, g.Size, g.Size, g.BlockSize)
	}
	if field.Frames != frames {
		return nil, fmt.Errorf("svt: motion field has %d frames, window has %d", field.Frames, frames)
	}
	return &Engine{
		grid:         g,
		field:        field,
		size:         g.Size,
		frames:       frames,
		blockSize:    g.BlockSize,
		ExpWeighting: expWeighting,
	}, nil
}

// Decompose extracts the Casorati matrix of every grid patch at its
// motion-shifted location per frame and computes its economy-size SVD.
func (e *Engine) Decompose(window *models.Sequence) error {
	if window.Width != e.size || window.Height != e.size || window.Frames != e.frames {
		return fmt.Errorf("svt: window %dx%dx%d does not match engine geometry %dx%dx%d",
			window.Width, window.Height, window.Frames, e.size, e.size, e.frames)
	}
	indices := e.grid.Indices()
	e.us = make([]*mat.Dense, len(indices))
	e.vs = make([]*mat.Dense, len(indices))
	e.ss = make([][]float64, len(indices))

	bs := e.blockSize
	block := mat.NewDense(bs*bs, e.frames, nil)
	for p, idx := range indices {
		for k := 0; k < e.frames; k++ {
			y, x := e.field.Loc(idx, k)
			frame := window.FrameData(k)
			for r := 0; r < bs; r++ {
				row := frame[(y+r)*e.size+x : (y+r)*e.size+x+bs]
				for c := 0; c < bs; c++ {
					block.Set(r*bs+c, k, row[c])
				}
			}
		}

		var svd mat.SVD
		if ok := svd.Factorize(block, mat.SVDThin); !ok {
			return fmt.Errorf("svt: SVD failed for patch %d", idx)
		}
		u := &mat.Dense{}
		v := &mat.Dense{}
		svd.UTo(u)
		svd.VTo(v)
		e.us[p] = u
		e.vs[p] = v
		e.ss[p] = svd.Values(nil)
	}
	e.decomposed = true
	return nil
}

// Decomposed reports whether the SVD pass has run.
func (e *Engine) Decomposed() bool { return e.decomposed }

// Reconstruct applies the thresholding rule to every decomposed patch and
// blends the shrunk patches back into full frames with overlap-weighted
// averaging. Zero-weight pixels come out as zero.
func (e *Engine) Reconstruct(lambda float64) (*models.Sequence, error) {
	recon, _, err := e.reconstruct(lambda, false)
	return recon, err
}

// ReconstructWithDivergence additionally returns the per-pixel
// divergence of the thresholding estimator. Per patch the closed-form
// SVT divergence
//
//	sum_i [ 1(s_i > t_i) + |m-n|*(1 - t_i/s_i)_+ ]
//	  + 2*sum_{i != j} s_i*(s_i - t_i)_+ / (s_i^2 - s_j^2)
//
// is spread uniformly over the patch stack and blended with exactly the
// same overlap weights as the reconstruction. At a zero threshold the
// divergence equals the matrix size and the field is identically one.
// The field feeds the unbiased risk estimate.
func (e *Engine) ReconstructWithDivergence(lambda float64) (recon, div *models.Sequence, err error) {
	return e.reconstruct(lambda, true)
}

func (e *Engine) reconstruct(lambda float64, withDiv bool) (*models.Sequence, *models.Sequence, error) {
	if !e.decomposed {
		return nil, nil, fmt.Errorf("svt: Reconstruct called before Decompose")
	}
	if lambda < 0 {
		return nil, nil, fmt.Errorf("svt: negative threshold %g", lambda)
	}

	acc := models.NewSequence(e.size, e.size, e.frames)
	weights := models.NewSequence(e.size, e.size, e.frames)
	var divAcc *models.Sequence
	if withDiv {
		divAcc = models.NewSequence(e.size, e.size, e.frames)
	}

	bs := e.blockSize
	var rec mat.Dense
	for p, idx := range e.grid.Indices() {
		u, v, s := e.us[p], e.vs[p], e.ss[p]
		thresh := e.thresholds(s, lambda)

		shrunk := make([]float64, len(s))
		for i := range s {
			shrunk[i] = math.Max(s[i]-thresh[i], 0)
		}
		rec.Mul(u, mat.NewDiagDense(len(s), shrunk))
		rec.Mul(&rec, v.T())

		var d float64
		if withDiv {
			d = divergence(s, thresh, bs*bs, e.frames) / float64(bs*bs*e.frames)
		}

		for k := 0; k < e.frames; k++ {
			y, x := e.field.Loc(idx, k)
			accFrame := acc.FrameData(k)
			wFrame := weights.FrameData(k)
			for r := 0; r < bs; r++ {
				o := (y+r)*e.size + x
				for c := 0; c < bs; c++ {
					accFrame[o+c] += rec.At(r*bs+c, k)
					wFrame[o+c]++
				}
			}
			if withDiv {
				dFrame := divAcc.FrameData(k)
				for r := 0; r < bs; r++ {
					o := (y+r)*e.size + x
					for c := 0; c < bs; c++ {
						dFrame[o+c] += d
					}
				}
			}
		}
	}

	normalize(acc, weights)
	if withDiv {
		normalize(divAcc, weights)
	}
	return acc, divAcc, nil
}

// thresholds returns the per-singular-value threshold vector: the scalar
// lambda in plain mode, or max(S)*exp(-lambda*S^2/2) under exponential
// weighting.
func (e *Engine) thresholds(s []float64, lambda float64) []float64 {
	t := make([]float64, len(s))
	if !e.ExpWeighting {
		for i := range t {
			t[i] = lambda
		}
		return t
	}
	var smax float64
	for _, v := range s {
		smax = math.Max(smax, v)
	}
	for i := range t {
		t[i] = math.Abs(smax * math.Exp(-0.5*lambda*s[i]*s[i]))
	}
	return t
}

// divergence evaluates the closed-form self-derivative sum of soft
// singular value thresholding for an m x n matrix with spectrum s and
// per-value thresholds t. Ties in the spectrum (measure zero) are
// skipped in the cross terms.
func divergence(s, t []float64, m, n int) float64 {
	var div float64
	gap := float64(m - n)
	if gap < 0 {
		gap = -gap
	}
	for i := range s {
		if s[i] <= 0 {
			continue
		}
		if s[i] > t[i] {
			div += 1 + gap*(1-t[i]/s[i])
		}
		shrunk := math.Max(s[i]-t[i], 0)
		if shrunk == 0 {
			continue
		}
		for j := range s {
			if j == i {
				continue
			}
			denom := s[i]*s[i] - s[j]*s[j]
			if denom != 0 {
				div += 2 * s[i] * shrunk / denom
			}
		}
	}
	return div
}

// normalize divides the accumulator by the weight field element-wise and
// replaces non-finite results (zero total weight) with zero.
func normalize(acc, weights *models.Sequence) {
	for i, w := range weights.Data {
		v := acc.Data[i] / w
		if math.IsNaN(v) || math.IsInf(v, 0) {
			v = 0
		}
		acc.Data[i] = v
	}
}
