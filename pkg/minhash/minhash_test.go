package minhash

import (
	"fmt"
	"math"
	"testing"

	"github.com/cockroachdb/errors"
)

func makeSet(prefix string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("%s%d", prefix, i)
	}
	return out
}

func mustSketch(t *testing.T, numPerm int, values []string, opts ...Option) *Sketch {
	t.Helper()
	s, err := New(numPerm, opts...)
	if err != nil {
		t.Fatalf("New(%d) failed: %v", numPerm, err)
	}
	s.Update(values...)
	return s
}

func TestNewSketch(t *testing.T) {
	s, err := New(128)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if s.NumPerm() != 128 {
		t.Errorf("NumPerm = %d, want 128", s.NumPerm())
	}
	if s.Seed() != DefaultSeed {
		t.Errorf("Seed = %d, want %d", s.Seed(), DefaultSeed)
	}
	if !s.IsEmpty() {
		t.Error("new sketch should be empty")
	}
	for i, v := range s.Values() {
		if v != MaxHash {
			t.Fatalf("slot %d = %d, want MaxHash", i, v)
		}
	}

	for _, n := range []int{0, -3} {
		if _, err := New(n); err == nil {
			t.Errorf("New(%d) should fail", n)
		}
	}
}

func TestSelfJaccard(t *testing.T) {
	values := makeSet("member_", 50)
	a := mustSketch(t, 256, values)
	b := mustSketch(t, 256, values)

	j, err := a.Jaccard(b)
	if err != nil {
		t.Fatalf("Jaccard failed: %v", err)
	}
	if j != 1.0 {
		t.Errorf("self Jaccard = %v, want 1.0", j)
	}
	if a.IsEmpty() {
		t.Error("updated sketch reported empty")
	}
}

func TestOrderAndDuplicates(t *testing.T) {
	values := makeSet("v", 40)
	reversed := make([]string, 0, len(values)*2)
	for i := len(values) - 1; i >= 0; i-- {
		reversed = append(reversed, values[i], values[i])
	}

	a := mustSketch(t, 64, values)
	b := mustSketch(t, 64, reversed)
	for i := 0; i < a.NumPerm(); i++ {
		if a.Slot(i) != b.Slot(i) {
			t.Fatalf("slot %d differs: %d vs %d", i, a.Slot(i), b.Slot(i))
		}
	}

	set := make(map[string]struct{})
	for _, v := range values {
		set[v] = struct{}{}
	}
	c, _ := New(64)
	c.UpdateSet(set)
	if j, _ := a.Jaccard(c); j != 1.0 {
		t.Errorf("UpdateSet Jaccard = %v, want 1.0", j)
	}
}

func TestDisjointJaccard(t *testing.T) {
	trials := 5
	total := 0.0
	for i := 0; i < trials; i++ {
		a := mustSketch(t, 256, makeSet(fmt.Sprintf("a%d_", i), 200))
		b := mustSketch(t, 256, makeSet(fmt.Sprintf("b%d_", i), 200))
		j, err := a.Jaccard(b)
		if err != nil {
			t.Fatalf("Jaccard failed: %v", err)
		}
		total += j
	}
	if mean := total / float64(trials); mean > 0.05 {
		t.Errorf("mean disjoint Jaccard = %v, want close to 0", mean)
	}
}

func TestSubsetContainment(t *testing.T) {
	small := makeSet("x", 100)
	large := append(makeSet("x", 100), makeSet("y", 100)...)

	a := mustSketch(t, 256, small)
	b := mustSketch(t, 256, large)
	j, err := a.Jaccard(b)
	if err != nil {
		t.Fatalf("Jaccard failed: %v", err)
	}
	if math.Abs(j-0.5) > 0.15 {
		t.Errorf("Jaccard = %v, want about 0.5", j)
	}
	c := Containment(j, len(small), len(large))
	if math.Abs(c-1.0) > 0.2 {
		t.Errorf("containment = %v, want about 1.0", c)
	}
	t.Logf("J=%.3f C=%.3f", j, c)
}

func TestContainment(t *testing.T) {
	tests := []struct {
		name string
		j    float64
		q, x int
		want float64
	}{
		{"identical", 1.0, 10, 10, 1.0},
		{"half", 0.5, 100, 200, 1.0},
		{"disjoint", 0.0, 10, 10, 0.0},
		{"empty query", 0.5, 0, 10, 0.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Containment(tt.j, tt.q, tt.x); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Containment(%v, %d, %d) = %v, want %v", tt.j, tt.q, tt.x, got, tt.want)
			}
		})
	}
}

func TestPermutationDeterminism(t *testing.T) {
	values := makeSet("d", 30)
	a := mustSketch(t, 32, values, WithSeed(7))
	b := mustSketch(t, 32, values, WithSeed(7))
	c := mustSketch(t, 32, values, WithSeed(8))

	if j, _ := a.Jaccard(b); j != 1.0 {
		t.Errorf("same seed Jaccard = %v, want 1.0", j)
	}
	if _, err := a.Jaccard(c); !errors.Is(err, ErrIncompatible) {
		t.Errorf("different seeds should be incompatible, got %v", err)
	}
}

func TestIncompatible(t *testing.T) {
	a := mustSketch(t, 32, []string{"a"})
	b := mustSketch(t, 64, []string{"a"})

	if _, err := a.Jaccard(b); !errors.Is(err, ErrIncompatible) {
		t.Errorf("Jaccard: expected ErrIncompatible, got %v", err)
	}
	if err := a.Merge(b); !errors.Is(err, ErrIncompatible) {
		t.Errorf("Merge: expected ErrIncompatible, got %v", err)
	}
	if _, err := a.Jaccard(nil); !errors.Is(err, ErrIncompatible) {
		t.Errorf("nil sketch: expected ErrIncompatible, got %v", err)
	}
}

func TestMergeAndCopy(t *testing.T) {
	left := makeSet("l", 20)
	right := makeSet("r", 20)

	a := mustSketch(t, 128, left)
	b := mustSketch(t, 128, right)
	union := mustSketch(t, 128, append(append([]string{}, left...), right...))

	merged := a.Copy()
	if err := merged.Merge(b); err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if j, _ := merged.Jaccard(union); j != 1.0 {
		t.Errorf("merged vs union Jaccard = %v, want 1.0", j)
	}
	if j, _ := a.Jaccard(mustSketch(t, 128, left)); j != 1.0 {
		t.Error("Merge on a copy modified the original")
	}
}

func TestFromValues(t *testing.T) {
	a := mustSketch(t, 64, makeSet("p", 10), WithSeed(3))
	b, err := FromValues(a.Seed(), a.Values())
	if err != nil {
		t.Fatalf("FromValues failed: %v", err)
	}
	if j, _ := a.Jaccard(b); j != 1.0 {
		t.Errorf("restored Jaccard = %v, want 1.0", j)
	}

	b.Update("extra")
	a.Update("extra")
	if j, _ := a.Jaccard(b); j != 1.0 {
		t.Errorf("restored sketch updates differently, Jaccard = %v", j)
	}

	if _, err := FromValues(1, nil); err == nil {
		t.Error("FromValues with no slots should fail")
	}
}
