// Package minhash implements fixed-size MinHash sketches of string sets.
//
// A Sketch keeps, for each of NumPerm hash permutations, the minimum permuted
// hash of every value it has seen. Two sketches built with the same NumPerm
// and seed estimate the Jaccard similarity of their underlying sets as the
// fraction of slots on which they agree. Updating is order independent and
// idempotent, so a sketch can be fed a column's raw values or its distinct
// values with the same result.
package minhash

import (
	"math"
	"math/bits"
	"math/rand"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"

	"github.com/liliang-cn/semlake/pkg/core"
)

const (
	// MaxHash is the largest slot value and the initial value of every slot
	MaxHash = math.MaxUint32

	// DefaultSeed selects the permutation family when no seed is given
	DefaultSeed int64 = 1

	mersennePrime = (1 << 61) - 1
)

// ErrIncompatible is returned when comparing sketches of different shape
var ErrIncompatible = errors.New("incompatible sketches")

// permutation is the (a, b) pair of one universal hash h -> (a*h + b) mod p
type permutation struct {
	a, b []uint64
}

var permCache sync.Map // permKey -> *permutation

type permKey struct {
	numPerm int
	seed    int64
}

func permutations(numPerm int, seed int64) *permutation {
	key := permKey{numPerm: numPerm, seed: seed}
	if p, ok := permCache.Load(key); ok {
		return p.(*permutation)
	}

	rng := rand.New(rand.NewSource(seed))
	p := &permutation{
		a: make([]uint64, numPerm),
		b: make([]uint64, numPerm),
	}
	for i := 0; i < numPerm; i++ {
		p.a[i] = 1 + rng.Uint64()%(mersennePrime-1)
		p.b[i] = rng.Uint64() % mersennePrime
	}

	actual, _ := permCache.LoadOrStore(key, p)
	return actual.(*permutation)
}

// Sketch is a MinHash signature
type Sketch struct {
	seed   int64
	values []uint32
	perm   *permutation
}

// Option configures a Sketch
type Option func(*Sketch)

// WithSeed selects the permutation family. Sketches are only comparable
// when they share num_perm and seed.
func WithSeed(seed int64) Option {
	return func(s *Sketch) {
		s.seed = seed
	}
}

// New creates an empty sketch with numPerm slots set to MaxHash
func New(numPerm int, opts ...Option) (*Sketch, error) {
	if numPerm <= 0 {
		return nil, core.Computationf("num_perm must be positive, got %d", numPerm)
	}

	s := &Sketch{seed: DefaultSeed}
	for _, opt := range opts {
		opt(s)
	}
	s.values = make([]uint32, numPerm)
	for i := range s.values {
		s.values[i] = MaxHash
	}
	s.perm = permutations(numPerm, s.seed)
	return s, nil
}

// FromValues rebuilds a sketch from persisted slot values
func FromValues(seed int64, values []uint32) (*Sketch, error) {
	if len(values) == 0 {
		return nil, core.Computationf("sketch has no slots")
	}
	s := &Sketch{
		seed:   seed,
		values: append([]uint32(nil), values...),
		perm:   permutations(len(values), seed),
	}
	return s, nil
}

// Update adds values to the sketch
func (s *Sketch) Update(values ...string) {
	for _, v := range values {
		s.add(xxhash.Sum64String(v))
	}
}

// UpdateBytes adds raw byte values to the sketch
func (s *Sketch) UpdateBytes(values ...[]byte) {
	for _, v := range values {
		s.add(xxhash.Sum64(v))
	}
}

// UpdateSet adds every key of set to the sketch
func (s *Sketch) UpdateSet(set map[string]struct{}) {
	for v := range set {
		s.add(xxhash.Sum64String(v))
	}
}

func (s *Sketch) add(h64 uint64) {
	hv := h64 & MaxHash
	a, b := s.perm.a, s.perm.b
	for i := range s.values {
		hi, lo := bits.Mul64(a[i], hv)
		phv := uint32(((bits.Rem64(hi, lo, mersennePrime) + b[i]) % mersennePrime) & MaxHash)
		if phv < s.values[i] {
			s.values[i] = phv
		}
	}
}

// Jaccard estimates the Jaccard similarity of the sets behind s and other
func (s *Sketch) Jaccard(other *Sketch) (float64, error) {
	if err := s.compatible(other); err != nil {
		return 0, err
	}
	equal := 0
	for i, v := range s.values {
		if v == other.values[i] {
			equal++
		}
	}
	return float64(equal) / float64(len(s.values)), nil
}

// Merge folds other into s, making s the sketch of the union of both sets
func (s *Sketch) Merge(other *Sketch) error {
	if err := s.compatible(other); err != nil {
		return err
	}
	for i, v := range other.values {
		if v < s.values[i] {
			s.values[i] = v
		}
	}
	return nil
}

func (s *Sketch) compatible(other *Sketch) error {
	if other == nil {
		return errors.Wrap(ErrIncompatible, "nil sketch")
	}
	if len(s.values) != len(other.values) {
		return errors.Wrapf(ErrIncompatible, "num_perm %d vs %d", len(s.values), len(other.values))
	}
	if s.seed != other.seed {
		return errors.Wrapf(ErrIncompatible, "seed %d vs %d", s.seed, other.seed)
	}
	return nil
}

// Copy returns an independent copy of the sketch
func (s *Sketch) Copy() *Sketch {
	return &Sketch{
		seed:   s.seed,
		values: append([]uint32(nil), s.values...),
		perm:   s.perm,
	}
}

// IsEmpty reports whether no value has been added
func (s *Sketch) IsEmpty() bool {
	for _, v := range s.values {
		if v != MaxHash {
			return false
		}
	}
	return true
}

// NumPerm returns the number of slots
func (s *Sketch) NumPerm() int { return len(s.values) }

// Seed returns the permutation seed
func (s *Sketch) Seed() int64 { return s.seed }

// Values returns a copy of the slot values
func (s *Sketch) Values() []uint32 {
	return append([]uint32(nil), s.values...)
}

// Slot returns the value of slot i without copying
func (s *Sketch) Slot(i int) uint32 { return s.values[i] }

// Containment converts a Jaccard estimate between a query set of size q and
// a candidate set of size x into the estimated fraction of the query set
// covered by the candidate: J*(q+x) / ((1+J)*q).
func Containment(jaccard float64, q, x int) float64 {
	if q <= 0 {
		return 0
	}
	return jaccard * float64(q+x) / ((1 + jaccard) * float64(q))
}
