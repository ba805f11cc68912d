// Package grid computes the set of overlapping patch origins covering a
// square frame. The grid walks the frame on a stride of the patch overlap
// and always forces the right and bottom edges into the set, so that every
// pixel of the frame is covered by at least one patch whenever the overlap
// does not exceed the patch size.
package grid

import "fmt"

// Grid enumerates the top-left corners of blockSize x blockSize patches
// on a size x size frame. Origins are identified by their dense patch
// index col*(size-blockSize+1)+row, the same indexing the motion field
// uses for its per-patch records.
type Grid struct {
	// Size is the frame edge length in pixels.
	Size int

	// BlockSize is the patch edge length in pixels.
	BlockSize int

	// Overlap is the stride between neighbouring patch origins.
	Overlap int

	indices []int
}

// New validates the geometry and builds the origin set.
func New(size, blockSize, overlap int) (*Grid, error) {
	if blockSize <= 0 || blockSize > size {
		return nil, &GeometryError{Size: size, BlockSize: blockSize, Overlap: overlap}
	}
	if overlap <= 0 || overlap > blockSize {
		return nil, &GeometryError{Size: size, BlockSize: blockSize, Overlap: overlap}
	}
	g := &Grid{Size: size, BlockSize: blockSize, Overlap: overlap}
	g.build()
	return g, nil
}

// GeometryError reports a patch geometry that cannot cover the frame.
type GeometryError struct {
	Size, BlockSize, Overlap int
}

func (e *GeometryError) Error() string {
	return fmt.Sprintf("grid: invalid patch geometry (frame %d, patch %d, overlap %d)",
		e.Size, e.BlockSize, e.Overlap)
}

// build generates the origin set as a single union over the row and
// column offset generators. Both axes share one generator, so the forced
// edge handling cannot drift apart between rows and columns.
func (g *Grid) build() {
	offs := offsets(g.Size-g.BlockSize, g.Overlap)
	stride := g.Stride()
	g.indices = make([]int, 0, len(offs)*len(offs))
	for _, col := range offs {
		for _, row := range offs {
			g.indices = append(g.indices, col*stride+row)
		}
	}
	// Ascending column-major generation over deduplicated offsets yields
	// strictly increasing indices, so the set is already sorted and unique.
}

// offsets returns {0, stride, 2*stride, ...} with last appended when the
// strided walk does not land on it. last is the final valid patch origin.
func offsets(last, stride int) []int {
	offs := make([]int, 0, last/stride+2)
	for o := 0; o <= last; o += stride {
		offs = append(offs, o)
	}
	if offs[len(offs)-1] != last {
		offs = append(offs, last)
	}
	return offs
}

// Stride is the number of valid patch origins along one axis.
func (g *Grid) Stride() int {
	return g.Size - g.BlockSize + 1
}

// Indices returns the sorted, deduplicated dense patch indices of the grid.
func (g *Grid) Indices() []int {
	return g.indices
}

// Coords maps a dense patch index back to its (row, col) origin.
func (g *Grid) Coords(idx int) (y, x int) {
	return idx % g.Stride(), idx / g.Stride()
}
