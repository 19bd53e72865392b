package index

import (
	"testing"
)

func TestBandedLSHCandidates(t *testing.T) {
	numPerm := 64
	a := sketchOf(t, numPerm, valueSet("a", 30))
	b := sketchOf(t, numPerm, valueSet("b", 30))

	lsh := newBandedLSH(numPerm, 4)
	if lsh.numBands != 16 {
		t.Fatalf("numBands = %d, want 16", lsh.numBands)
	}
	lsh.insert("a", a)
	lsh.insert("b", b)

	got := lsh.candidates(a, lsh.numBands)
	if len(got) == 0 || got[0] != "a" {
		t.Fatalf("candidates(a) = %v, want a first", got)
	}
	for _, key := range got {
		if key == "b" {
			t.Errorf("disjoint sketch returned as candidate")
		}
	}

	if got := lsh.candidates(a, 0); len(got) != 0 {
		t.Errorf("zero bands should yield no candidates, got %v", got)
	}
	if got := lsh.candidates(a, 1000); len(got) == 0 {
		t.Errorf("band count above numBands should be clamped")
	}

	st := lsh.stats()
	if st.Bands != 16 || st.Rows != 4 {
		t.Errorf("unexpected stats %+v", st)
	}
	if st.TotalBuckets != 32 {
		t.Logf("total buckets %d (shared buckets between disjoint sets)", st.TotalBuckets)
	}
}

func TestBandedLSHRemainderSlots(t *testing.T) {
	// 10 slots with 3 rows leaves one slot outside every band
	lsh := newBandedLSH(10, 3)
	if lsh.numBands != 3 {
		t.Errorf("numBands = %d, want 3", lsh.numBands)
	}
}
