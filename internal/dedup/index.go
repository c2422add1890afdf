// Package dedup resolves duplicate vendor records into canonical
// clusters: blocking, tiered pairwise matching, and union-find
// clustering. The whole pass is deterministic for a fixed input
// snapshot.
package dedup

import (
	"sort"

	"github.com/transparencia-lab/contratos-cli/internal/model"
)

// BlockIndex is an inverted index from token or phonetic code to the
// vendor ids carrying it. Every candidate pair it yields shares at
// least one key, which is what turns the all-pairs comparison into
// O(N x avg bucket size). A true duplicate pair sharing zero tokens
// after stopword removal is unreachable by construction; that is the
// documented recall ceiling, not a bug.
type BlockIndex struct {
	postings map[string][]int64
	// maxBucket skips posting lists whose key is too common to be
	// discriminative.
	maxBucket int
	indexed   int
	skipped   int
}

// BuildIndex indexes every vendor with at least minTokens significant
// tokens. Vendors below the bar are excluded and fall through to
// self-mapping.
func BuildIndex(vendors []model.NormalizedVendor, minTokens, maxBucket int) *BlockIndex {
	idx := &BlockIndex{
		postings:  make(map[string][]int64),
		maxBucket: maxBucket,
	}

	for _, v := range vendors {
		if len(v.Tokens) < minTokens || v.Empty() {
			idx.skipped++
			continue
		}
		idx.indexed++
		for _, key := range blockKeys(v) {
			idx.postings[key] = append(idx.postings[key], v.VendorID)
		}
	}

	// Posting lists sorted so candidate generation is order-stable.
	for key := range idx.postings {
		sort.Slice(idx.postings[key], func(i, j int) bool {
			return idx.postings[key][i] < idx.postings[key][j]
		})
	}

	return idx
}

// blockKeys returns the index keys for one vendor: its significant
// tokens plus its phonetic codes (prefixed to keep the key spaces
// disjoint).
func blockKeys(v model.NormalizedVendor) []string {
	keys := make([]string, 0, len(v.Tokens)+len(v.PhoneticCodes))
	keys = append(keys, v.Tokens...)
	for _, code := range v.PhoneticCodes {
		keys = append(keys, "ph:"+code)
	}
	return keys
}

// Candidates returns the ids sharing at least one block key with v,
// self excluded, sorted ascending. Oversized buckets are skipped.
func (idx *BlockIndex) Candidates(v model.NormalizedVendor) []int64 {
	seen := make(map[int64]struct{})
	for _, key := range blockKeys(v) {
		bucket := idx.postings[key]
		if idx.maxBucket > 0 && len(bucket) > idx.maxBucket {
			continue
		}
		for _, id := range bucket {
			if id == v.VendorID {
				continue
			}
			seen[id] = struct{}{}
		}
	}

	out := make([]int64, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// IndexedCount returns how many vendors were indexed.
func (idx *BlockIndex) IndexedCount() int { return idx.indexed }

// SkippedCount returns how many vendors fell below the token bar.
func (idx *BlockIndex) SkippedCount() int { return idx.skipped }
