package filter

import (
	"testing"

	"github.com/ericpre/pgure-svt/internal/models"
)

// TestMedianRemovesImpulse checks a single impulse on a constant frame
// disappears under a 3x3 median.
func TestMedianRemovesImpulse(t *testing.T) {
	seq := models.NewSequence(8, 8, 2)
	for i := range seq.Data {
		seq.Data[i] = 5
	}
	seq.Set(3, 3, 0, 1000)
	out, err := Median(seq, 3)
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range out.Data {
		if v != 5 {
			t.Fatalf("sample %d: got %g want 5", i, v)
		}
	}
}

// TestMedianPreservesConstant includes the clamped borders.
func TestMedianPreservesConstant(t *testing.T) {
	seq := models.NewSequence(6, 6, 1)
	for i := range seq.Data {
		seq.Data[i] = 2.5
	}
	out, err := Median(seq, 5)
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range out.Data {
		if v != 2.5 {
			t.Fatalf("sample %d: got %g want 2.5", i, v)
		}
	}
}

// TestMedianRejectsEvenSize checks parameter validation.
func TestMedianRejectsEvenSize(t *testing.T) {
	seq := models.NewSequence(4, 4, 1)
	if _, err := Median(seq, 4); err == nil {
		t.Error("even median size accepted")
	}
	if _, err := Median(seq, 0); err == nil {
		t.Error("zero median size accepted")
	}
}

// TestRepairHotPixels checks an extreme outlier is replaced by its
// neighbourhood median and ordinary variation is left alone.
func TestRepairHotPixels(t *testing.T) {
	seq := models.NewSequence(16, 16, 2)
	for i := range seq.Data {
		seq.Data[i] = float64(i%7) + 10
	}
	seq.Set(5, 5, 1, 1e6)
	n := RepairHotPixels(seq, 10)
	if n != 1 {
		t.Fatalf("repaired %d samples, want 1", n)
	}
	if v := seq.At(5, 5, 1); v > 20 {
		t.Errorf("hot pixel still %g after repair", v)
	}
}

// TestRepairFlatSequence checks a zero-MAD sequence is a no-op.
func TestRepairFlatSequence(t *testing.T) {
	seq := models.NewSequence(8, 8, 1)
	for i := range seq.Data {
		seq.Data[i] = 1
	}
	if n := RepairHotPixels(seq, 10); n != 0 {
		t.Errorf("flat sequence repaired %d samples", n)
	}
}
