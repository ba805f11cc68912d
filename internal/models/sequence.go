// Package models holds the shared data types for the denoising pipeline.
package models

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Sequence represents a time-resolved image sequence as a dense cube of
// real-valued samples indexed (row, column, frame). Frames are stored
// contiguously, each in row-major order, so that a single frame can be
// handed out as a subslice without copying.
type Sequence struct {
	// Data is the sample cube as a 1D array: Data[t*W*H + y*W + x]
	Data []float64

	// Width and Height are the spatial dimensions of one frame in pixels.
	// All components of the pipeline require Width == Height.
	Width  int
	Height int

	// Frames is the temporal length of the sequence.
	Frames int
}

// NewSequence allocates a zeroed sequence with the given dimensions.
func NewSequence(width, height, frames int) *Sequence {
	return &Sequence{
		Data:   make([]float64, width*height*frames),
		Width:  width,
		Height: height,
		Frames: frames,
	}
}

// Index returns the flat offset of sample (y, x) in frame t.
func (s *Sequence) Index(y, x, t int) int {
	return t*s.Width*s.Height + y*s.Width + x
}

// At returns the sample at row y, column x, frame t.
func (s *Sequence) At(y, x, t int) float64 {
	return s.Data[t*s.Width*s.Height+y*s.Width+x]
}

// Set stores v at row y, column x, frame t.
func (s *Sequence) Set(y, x, t int, v float64) {
	s.Data[t*s.Width*s.Height+y*s.Width+x] = v
}

// FrameData returns frame t as a row-major subslice backed by the
// sequence's storage.
func (s *Sequence) FrameData(t int) []float64 {
	n := s.Width * s.Height
	return s.Data[t*n : (t+1)*n]
}

// Clone returns a deep copy of the sequence.
func (s *Sequence) Clone() *Sequence {
	c := NewSequence(s.Width, s.Height, s.Frames)
	copy(c.Data, s.Data)
	return c
}

// Window copies frames [start, start+length) into a new sequence.
func (s *Sequence) Window(start, length int) (*Sequence, error) {
	if start < 0 || length <= 0 || start+length > s.Frames {
		return nil, fmt.Errorf("window [%d, %d) out of range for %d frames",
			start, start+length, s.Frames)
	}
	w := &Sequence{
		Data:   make([]float64, s.Width*s.Height*length),
		Width:  s.Width,
		Height: s.Height,
		Frames: length,
	}
	copy(w.Data, s.Data[start*s.Width*s.Height:(start+length)*s.Width*s.Height])
	return w, nil
}

// Max returns the largest sample in the sequence.
func (s *Sequence) Max() float64 {
	return floats.Max(s.Data)
}

// Min returns the smallest sample in the sequence.
func (s *Sequence) Min() float64 {
	return floats.Min(s.Data)
}

// Mean returns the mean sample value.
func (s *Sequence) Mean() float64 {
	return floats.Sum(s.Data) / float64(len(s.Data))
}

// Scale multiplies every sample by f in place.
func (s *Sequence) Scale(f float64) {
	floats.Scale(f, s.Data)
}

// Normalize divides the sequence by its maximum so samples lie in [0, 1]
// and returns the maximum used. A non-positive or non-finite maximum
// leaves the data untouched and returns 0.
func (s *Sequence) Normalize() float64 {
	max := s.Max()
	if max <= 0 || math.IsInf(max, 0) || math.IsNaN(max) {
		return 0
	}
	s.Scale(1 / max)
	return max
}

// WindowBounds computes the clamped temporal window for the output frame
// at index frame in a sequence of numFrames frames, given a window of
// length frames window (odd). It returns the first frame of the window
// and the offset of the reference frame within it. Near the start and end
// of the sequence the window is clamped to the first/last window frames
// and the reference offset shifts accordingly.
func WindowBounds(frame, window, numFrames int) (start, ref int) {
	half := window / 2
	switch {
	case frame < half:
		return 0, frame
	case frame >= numFrames-half:
		return numFrames - window, frame - (numFrames - window)
	default:
		return frame - half, half
	}
}
