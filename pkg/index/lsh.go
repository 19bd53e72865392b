package index

import (
	"encoding/binary"
	"sort"

	"github.com/cespare/xxhash/v2"

	"github.com/liliang-cn/semlake/pkg/minhash"
)

// bandedLSH is a MinHash LSH table with numBands bands of rows slots each.
// Two sketches collide in a band when all rows slots of that band are equal.
type bandedLSH struct {
	numBands int
	rows     int

	hashTables []map[uint64][]string // One table per band: band hash -> keys
}

func newBandedLSH(numPerm, rows int) *bandedLSH {
	numBands := numPerm / rows
	hashTables := make([]map[uint64][]string, numBands)
	for i := range hashTables {
		hashTables[i] = make(map[uint64][]string)
	}
	return &bandedLSH{
		numBands:   numBands,
		rows:       rows,
		hashTables: hashTables,
	}
}

// insert adds key to every band table
func (lsh *bandedLSH) insert(key string, s *minhash.Sketch) {
	buf := make([]byte, 4*lsh.rows)
	for band := 0; band < lsh.numBands; band++ {
		h := lsh.bandHash(s, band, buf)
		lsh.hashTables[band][h] = append(lsh.hashTables[band][h], key)
	}
}

// candidates returns the distinct keys colliding with s in any of the first
// b bands, sorted.
func (lsh *bandedLSH) candidates(s *minhash.Sketch, b int) []string {
	if b > lsh.numBands {
		b = lsh.numBands
	}
	buf := make([]byte, 4*lsh.rows)
	candidateSet := make(map[string]struct{})
	for band := 0; band < b; band++ {
		h := lsh.bandHash(s, band, buf)
		for _, key := range lsh.hashTables[band][h] {
			candidateSet[key] = struct{}{}
		}
	}

	keys := make([]string, 0, len(candidateSet))
	for key := range candidateSet {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// bandHash hashes the slots of one band
func (lsh *bandedLSH) bandHash(s *minhash.Sketch, band int, buf []byte) uint64 {
	start := band * lsh.rows
	for i := 0; i < lsh.rows; i++ {
		binary.LittleEndian.PutUint32(buf[4*i:], s.Slot(start+i))
	}
	return xxhash.Sum64(buf)
}

// lshStats summarises one banded table
type lshStats struct {
	Bands         int
	Rows          int
	TotalBuckets  int
	MaxBucketSize int
	AvgBucketSize float64
}

func (lsh *bandedLSH) stats() lshStats {
	totalBuckets := 0
	totalItems := 0
	maxBucketSize := 0

	for _, table := range lsh.hashTables {
		totalBuckets += len(table)
		for _, bucket := range table {
			totalItems += len(bucket)
			if len(bucket) > maxBucketSize {
				maxBucketSize = len(bucket)
			}
		}
	}

	avg := float64(0)
	if totalBuckets > 0 {
		avg = float64(totalItems) / float64(totalBuckets)
	}
	return lshStats{
		Bands:         lsh.numBands,
		Rows:          lsh.rows,
		TotalBuckets:  totalBuckets,
		MaxBucketSize: maxBucketSize,
		AvgBucketSize: avg,
	}
}
