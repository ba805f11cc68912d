// Package motion implements Adaptive Rood Pattern Search (ARPS) block
// matching for inter-frame motion estimation.
//
// For every patch position and every consecutive frame pair inside a
// temporal window, the search finds the displacement minimizing the mean
// squared pixel difference between the reference patch and a candidate
// patch in the target frame, within a bounded neighbourhood. The search
// runs outward from the window's reference frame in both temporal
// directions, so each step can seed its large-diamond pattern with the
// previous step's motion vector.
package motion

import (
	"fmt"
	"math"

	"github.com/ericpre/pgure-svt/internal/models"
)

// initialCost is the sentinel cost assigned to unevaluated candidates.
const initialCost = 1e8

// Estimator performs ARPS motion estimation over a temporal window.
type Estimator struct {
	// BlockSize is the spatial patch edge length in pixels.
	BlockSize int

	// SearchWindow is the half-width of the search neighbourhood around
	// each patch's original position.
	SearchWindow int

	// PredictiveWeight scales a penalty on the distance between a
	// candidate and the position predicted by the previous motion vector.
	// The cost hook is wired through both search stages but the weight
	// defaults to zero, so the term is unexercised in the standard
	// configuration.
	PredictiveWeight float64
}

// Field holds the estimated patch locations for one temporal window:
// for every dense patch index and every frame, the absolute (row, col)
// location of the best-matching patch. Downstream patch extraction
// indexes these locations directly.
type Field struct {
	Size      int // frame edge length
	BlockSize int
	Frames    int

	stride  int
	patches []int32 // 2 * numPatches * Frames, (y, x) interleaved
	motions []int32 // 2 * numPatches * (Frames - 1)
}

// NumPatches returns the number of dense patch positions per frame.
func (f *Field) NumPatches() int {
	return f.stride * f.stride
}

// Loc returns the absolute (row, col) location of patch idx in frame t.
func (f *Field) Loc(idx, t int) (y, x int) {
	o := 2 * (t*f.NumPatches() + idx)
	return int(f.patches[o]), int(f.patches[o+1])
}

func (f *Field) setLoc(idx, t, y, x int) {
	o := 2 * (t*f.NumPatches() + idx)
	f.patches[o] = int32(y)
	f.patches[o+1] = int32(x)
}

// motion vectors are indexed by the frame-pair slot used during search.
func (f *Field) motion(idx, slot int) (dy, dx int) {
	o := 2 * (slot*f.NumPatches() + idx)
	return int(f.motions[o]), int(f.motions[o+1])
}

func (f *Field) setMotion(idx, slot, dy, dx int) {
	o := 2 * (slot*f.NumPatches() + idx)
	f.motions[o] = int32(dy)
	f.motions[o+1] = int32(dx)
}

// Identity returns a field whose every patch stays at its grid origin in
// every frame. Used when motion compensation is disabled and in tests.
func Identity(size, blockSize, frames int) *Field {
	f := newField(size, blockSize, frames)
	stride := f.stride
	for t := 0; t < frames; t++ {
		for i := 0; i < f.NumPatches(); i++ {
			f.setLoc(i, t, i%stride, i/stride)
		}
	}
	return f
}

func newField(size, blockSize, frames int) *Field {
	stride := size - blockSize + 1
	n := stride * stride
	return &Field{
		Size:      size,
		BlockSize: blockSize,
		Frames:    frames,
		stride:    stride,
		patches:   make([]int32, 2*n*frames),
		motions:   make([]int32, 2*n*(frames-1)),
	}
}

// Estimate runs the two-stage search over the window. The window must
// contain square frames. frameIndex is the output frame's position in the
// full sequence and numFrames the sequence length; together with the
// window length they determine the clamped reference frame the traversal
// starts from, matching the clamping convention of the window driver.
func (e *Estimator) Estimate(window *models.Sequence, frameIndex, halfWindow, numFrames int) (*Field, error) {
	if window.Width != window.Height {
		return nil, fmt.Errorf("motion: frames must be square, got %dx%d", window.Width, window.Height)
	}
	size := window.Width
	if e.BlockSize <= 0 || e.BlockSize > size {
		return nil, fmt.Errorf("motion: block size %d invalid for frame size %d", e.BlockSize, size)
	}
	if e.SearchWindow <= 0 {
		return nil, fmt.Errorf("motion: search window must be positive, got %d", e.SearchWindow)
	}
	T := window.Frames

	f := newField(size, e.BlockSize, T)

	// Reference frame offset within the clamped window.
	var ref int
	switch {
	case frameIndex < halfWindow:
		ref = frameIndex
	case frameIndex >= numFrames-halfWindow:
		ref = frameIndex - (numFrames - T)
	default:
		ref = halfWindow
	}
	if ref < 0 || ref >= T {
		return nil, fmt.Errorf("motion: reference offset %d outside window of %d frames", ref, T)
	}

	// Populate reference frame coordinates.
	stride := f.stride
	for i := 0; i < f.NumPatches(); i++ {
		f.setLoc(i, ref, i%stride, i/stride)
	}

	s := &search{est: e, field: f, window: window, size: size}

	// Go forwards.
	for i := 0; i < T-ref-1; i++ {
		s.run(i, ref+i, ref+i+1, ref+i)
	}
	// Go backwards. When the reference sits on the last frame of the
	// window, the first backward step has no later motion slot to reuse
	// and seeds from the slot just filled instead.
	for i := -1; i >= -ref; i-- {
		if ref == T-1 {
			s.run(i, ref+i+1, ref+i, ref+i)
		} else {
			s.run(i, ref+i+1, ref+i, ref+i+1)
		}
	}
	return f, nil
}

// search carries the per-window state shared by every ARPS invocation.
type search struct {
	est    *Estimator
	field  *Field
	window *models.Sequence
	size   int
}

// run estimates motion for every patch between frames refIdx and tgtIdx.
// step < 0 marks backward traversal; motSlot selects the motion record
// whose vector seeds the adaptive step size and predictive candidate.
func (s *search) run(step, refIdx, tgtIdx, motSlot int) {
	bs := s.est.BlockSize
	wind := s.est.SearchWindow
	oobs := 1.0 / float64(bs*bs)

	side := 2*wind + 1
	visited := make([]bool, side*side)

	var costs [6]float64
	// Candidate offsets as (dy, dx); index 2 is always the centre.
	var ldsp, sdsp [6][2]int
	sdsp = [6][2]int{{-1, 0}, {0, -1}, {0, 0}, {0, 1}, {1, 0}, {0, 0}}

	ref := s.window.FrameData(refIdx)
	tgt := s.window.FrameData(tgtIdx)

	for it := 0; it < s.field.NumPatches(); it++ {
		for k := range visited {
			visited[k] = false
		}
		for k := range costs {
			costs[k] = initialCost
		}

		i := it % s.field.stride // origin row
		j := it / s.field.stride // origin col
		y, x := i, j             // current best position

		costs[2] = s.cost(ref, tgt, i, j, i, j) * oobs
		visited[wind*side+wind] = true

		// Adaptive step size from the previous motion vector. The first
		// patch column has no history and uses the fixed step 2.
		stepSize := 2
		maxIdx := 5
		if j != 0 {
			my, mx := s.field.motion(it, motSlot)
			yTmp, xTmp := abs(my), abs(mx)
			stepSize = max(yTmp, xTmp)
			if (xTmp == stepSize && yTmp == 0) || (xTmp == 0 && yTmp == stepSize) {
				maxIdx = 5
			} else {
				// Sixth rood point: the previous vector itself.
				maxIdx = 6
				ldsp[5] = [2]int{my, mx}
			}
		}
		ldsp[0] = [2]int{-stepSize, 0}
		ldsp[1] = [2]int{0, -stepSize}
		ldsp[2] = [2]int{0, 0}
		ldsp[3] = [2]int{0, stepSize}
		ldsp[4] = [2]int{stepSize, 0}

		// Large diamond search pattern.
		for k := 0; k < maxIdx; k++ {
			if k == 2 || stepSize == 0 {
				continue
			}
			cy := y + ldsp[k][0]
			cx := x + ldsp[k][1]
			if cy < 0 || cy+bs > s.size || cx < 0 || cx+bs > s.size {
				continue
			}
			if ldsp[k][0] < -wind || ldsp[k][0] > wind || ldsp[k][1] < -wind || ldsp[k][1] > wind {
				continue
			}
			costs[k] = s.cost(ref, tgt, i, j, cy, cx) * oobs
			costs[k] += s.predictivePenalty(step, it, refIdx, motSlot, cy, cx)
			visited[(ldsp[k][0]+wind)*side+ldsp[k][1]+wind] = true
		}

		best := argmin(costs[:maxIdx])
		y += ldsp[best][0]
		x += ldsp[best][1]
		center := costs[best]
		for k := range costs {
			costs[k] = initialCost
		}
		costs[2] = center

		// Small diamond search pattern, iterated until the centre wins.
		for {
			for k := 0; k < 5; k++ {
				if k == 2 {
					continue
				}
				cy := y + sdsp[k][0]
				cx := x + sdsp[k][1]
				if cy < 0 || cy+bs > s.size || cx < 0 || cx+bs > s.size {
					continue
				}
				if cy < i-wind || cy > i+wind || cx < j-wind || cx > j+wind {
					continue
				}
				if visited[(cy-i+wind)*side+cx-j+wind] {
					continue
				}
				costs[k] = s.cost(ref, tgt, i, j, cy, cx) * oobs
				costs[k] += s.predictivePenalty(step, it, refIdx, motSlot, cy, cx)
				visited[(cy-i+wind)*side+cx-j+wind] = true
			}
			best = argmin(costs[:5])
			if best == 2 {
				break
			}
			y += sdsp[best][0]
			x += sdsp[best][1]
			center = costs[best]
			for k := range costs {
				costs[k] = initialCost
			}
			costs[2] = center
		}

		s.field.setMotion(it, motSlot, y-i, x-j)
		s.field.setLoc(it, tgtIdx, y, x)
	}
}

// cost is the sum of squared differences between the patch at (ry, rx) in
// the reference frame and the patch at (cy, cx) in the target frame.
func (s *search) cost(ref, tgt []float64, ry, rx, cy, cx int) float64 {
	bs := s.est.BlockSize
	var sum float64
	for r := 0; r < bs; r++ {
		ro := (ry+r)*s.size + rx
		co := (cy+r)*s.size + cx
		for c := 0; c < bs; c++ {
			d := ref[ro+c] - tgt[co+c]
			sum += d * d
		}
	}
	return sum
}

// predictivePenalty returns the optional distance penalty between a
// candidate and the position extrapolated from the previous motion
// vector. With a zero weight (the default) it contributes nothing.
func (s *search) predictivePenalty(step, it, refIdx, motSlot, cy, cx int) float64 {
	if s.est.PredictiveWeight <= 0 || step == 0 {
		return 0
	}
	py, px := s.field.Loc(it, refIdx)
	my, mx := s.field.motion(it, motSlot)
	if step < 0 {
		py -= my
		px -= mx
	} else {
		py += my
		px += mx
	}
	return s.est.PredictiveWeight *
		math.Hypot(float64(py-cy), float64(px-cx))
}

// argmin returns the index of the smallest cost; ties resolve to the
// first candidate in the fixed evaluation order.
func argmin(costs []float64) int {
	best := 0
	for k := 1; k < len(costs); k++ {
		if costs[k] < costs[best] {
			best = k
		}
	}
	return best
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
