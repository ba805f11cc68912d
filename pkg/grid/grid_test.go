package grid

import (
	"testing"
)

// TestCoverage verifies that every pixel of the frame is covered by at
// least one patch for a range of geometries with overlap <= blockSize.
func TestCoverage(t *testing.T) {
	cases := []struct {
		size, blockSize, overlap int
	}{
		{8, 4, 1},
		{8, 4, 4},
		{16, 4, 3},
		{17, 5, 2},
		{32, 8, 8},
		{33, 8, 5},
	}
	for _, c := range cases {
		g, err := New(c.size, c.blockSize, c.overlap)
		if err != nil {
			t.Fatalf("New(%d,%d,%d): %v", c.size, c.blockSize, c.overlap, err)
		}
		covered := make([]int, c.size*c.size)
		for _, idx := range g.Indices() {
			y, x := g.Coords(idx)
			if y < 0 || x < 0 || y+c.blockSize > c.size || x+c.blockSize > c.size {
				t.Fatalf("origin (%d,%d) out of frame for %+v", y, x, c)
			}
			for dy := 0; dy < c.blockSize; dy++ {
				for dx := 0; dx < c.blockSize; dx++ {
					covered[(y+dy)*c.size+x+dx]++
				}
			}
		}
		for p, n := range covered {
			if n < 1 {
				t.Errorf("pixel (%d,%d) uncovered for %+v", p/c.size, p%c.size, c)
			}
		}
	}
}

// TestForcedEdges verifies the bottom-right patch origin is always part
// of the set, even when the stride walks past it.
func TestForcedEdges(t *testing.T) {
	g, err := New(10, 4, 4)
	if err != nil {
		t.Fatal(err)
	}
	last := 10 - 4
	var haveCorner bool
	for _, idx := range g.Indices() {
		y, x := g.Coords(idx)
		if y == last && x == last {
			haveCorner = true
		}
	}
	if !haveCorner {
		t.Errorf("bottom-right origin (%d,%d) missing from grid", last, last)
	}
}

// TestSortedUnique verifies the indices come out strictly increasing.
func TestSortedUnique(t *testing.T) {
	g, err := New(13, 4, 3)
	if err != nil {
		t.Fatal(err)
	}
	idx := g.Indices()
	for i := 1; i < len(idx); i++ {
		if idx[i] <= idx[i-1] {
			t.Fatalf("indices not strictly increasing at %d: %d <= %d", i, idx[i], idx[i-1])
		}
	}
}

// TestInvalidGeometry verifies configuration errors are rejected.
func TestInvalidGeometry(t *testing.T) {
	cases := []struct {
		size, blockSize, overlap int
	}{
		{8, 9, 1},  // block larger than frame
		{8, 4, 0},  // non-positive overlap
		{8, 4, 5},  // overlap exceeds block
		{8, 0, 1},  // degenerate block
	}
	for _, c := range cases {
		if _, err := New(c.size, c.blockSize, c.overlap); err == nil {
			t.Errorf("New(%d,%d,%d) accepted invalid geometry", c.size, c.blockSize, c.overlap)
		}
	}
}
