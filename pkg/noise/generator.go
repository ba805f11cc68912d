package noise

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/ericpre/pgure-svt/internal/models"
)

// Generator corrupts a clean sequence with mixed Poisson-Gaussian noise:
// y = alpha*Pois(x/alpha) + mu + sigma*N(0,1), computed on the sequence
// rescaled to [0,1] and mapped back to the input range afterwards.
type Generator struct {
	Alpha float64
	Mu    float64
	Sigma float64

	// Seed makes the corruption reproducible; zero draws a fresh stream.
	Seed uint64
}

// Corrupt returns a noisy copy of seq. Alpha must lie in (0, 1]; a zero
// alpha degenerates to purely Gaussian noise.
func (g *Generator) Corrupt(seq *models.Sequence) (*models.Sequence, error) {
	if g.Alpha < 0 || g.Alpha > 1 {
		return nil, fmt.Errorf("noise: alpha %g outside [0, 1]", g.Alpha)
	}
	if g.Sigma < 0 {
		return nil, fmt.Errorf("noise: negative sigma %g", g.Sigma)
	}
	src := rand.NewSource(g.Seed)
	if g.Seed == 0 {
		src = rand.NewSource(rand.Uint64())
	}
	normal := distuv.Normal{Mu: 0, Sigma: 1, Src: src}

	out := seq.Clone()
	max := out.Normalize()
	if max == 0 {
		return out, nil
	}

	for i, x := range out.Data {
		y := x
		if lambda := math.Max(x, 0) / g.Alpha; g.Alpha > 0 && lambda > 0 {
			y = g.Alpha * distuv.Poisson{Lambda: lambda, Src: src}.Rand()
		}
		if g.Sigma > 0 {
			y += g.Sigma * normal.Rand()
		}
		out.Data[i] = y + g.Mu
	}

	// Shift non-negative and restore the input's range, as the reference
	// generator does.
	if min := out.Min(); min < 0 {
		for i := range out.Data {
			out.Data[i] -= min
		}
	}
	if m := out.Max(); m > 0 {
		out.Scale(max / m)
	}
	return out, nil
}
