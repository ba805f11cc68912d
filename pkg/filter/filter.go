// Package filter provides the two preprocessing collaborators of the
// denoising core: a square-window median filter applied per frame to
// build the sequence the motion search runs on, and a hot-pixel repair
// pass that replaces statistical outliers before any processing.
package filter

import (
	"fmt"
	"sort"

	"github.com/ericpre/pgure-svt/internal/models"
)

// Median returns a copy of seq with every frame median-filtered by a
// size x size window (size odd). Samples beyond the frame border are
// clamped to the nearest edge pixel.
func Median(seq *models.Sequence, size int) (*models.Sequence, error) {
	if size < 1 || size%2 == 0 {
		return nil, fmt.Errorf("filter: median size must be odd and positive, got %d", size)
	}
	out := models.NewSequence(seq.Width, seq.Height, seq.Frames)
	half := size / 2
	window := make([]float64, size*size)
	for t := 0; t < seq.Frames; t++ {
		in := seq.FrameData(t)
		dst := out.FrameData(t)
		for y := 0; y < seq.Height; y++ {
			for x := 0; x < seq.Width; x++ {
				k := 0
				for dy := -half; dy <= half; dy++ {
					sy := clampIdx(y+dy, seq.Height)
					for dx := -half; dx <= half; dx++ {
						sx := clampIdx(x+dx, seq.Width)
						window[k] = in[sy*seq.Width+sx]
						k++
					}
				}
				dst[y*seq.Width+x] = medianOf(window)
			}
		}
	}
	return out, nil
}

// RepairHotPixels replaces, in place, samples further than threshold
// scaled median absolute deviations from the sequence median with the
// median of their 3x3 spatial neighbourhood. It returns the number of
// repaired samples.
func RepairHotPixels(seq *models.Sequence, threshold float64) int {
	if threshold <= 0 {
		return 0
	}
	med, mad := medianMAD(seq.Data)
	if mad == 0 {
		return 0
	}
	// 1.4826 rescales the MAD to a standard deviation equivalent.
	cut := threshold * 1.4826 * mad

	neigh := make([]float64, 0, 9)
	repaired := 0
	for t := 0; t < seq.Frames; t++ {
		frame := seq.FrameData(t)
		for y := 0; y < seq.Height; y++ {
			for x := 0; x < seq.Width; x++ {
				v := frame[y*seq.Width+x]
				if v-med <= cut && med-v <= cut {
					continue
				}
				neigh = neigh[:0]
				for dy := -1; dy <= 1; dy++ {
					for dx := -1; dx <= 1; dx++ {
						if dy == 0 && dx == 0 {
							continue
						}
						ny, nx := y+dy, x+dx
						if ny < 0 || ny >= seq.Height || nx < 0 || nx >= seq.Width {
							continue
						}
						neigh = append(neigh, frame[ny*seq.Width+nx])
					}
				}
				frame[y*seq.Width+x] = medianOf(neigh)
				repaired++
			}
		}
	}
	return repaired
}

// medianMAD returns the median and median absolute deviation of data.
func medianMAD(data []float64) (med, mad float64) {
	scratch := append([]float64(nil), data...)
	med = medianOf(scratch)
	for i, v := range scratch {
		if v >= med {
			scratch[i] = v - med
		} else {
			scratch[i] = med - v
		}
	}
	mad = medianOf(scratch)
	return med, mad
}

// medianOf sorts values in place and returns their median.
func medianOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sort.Float64s(values)
	n := len(values)
	if n%2 == 0 {
		return (values[n/2-1] + values[n/2]) / 2
	}
	return values[n/2]
}

func clampIdx(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}
