package dedup

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/transparencia-lab/contratos-cli/internal/model"
	"github.com/transparencia-lab/contratos-cli/internal/normalize"
)

// MatcherOptions configures the tiered pairwise matcher.
type MatcherOptions struct {
	JaccardThreshold float64
	LinkageThreshold float64
	Workers          int
}

// confidence assigned to the exact base-name tier: below tax-id
// certainty, above everything probabilistic.
const normalizedNameConfidence = 0.99

// Matcher scores candidate pairs in priority order. Tiers
// short-circuit: a vendor already tied by tax id is excluded from the
// name tiers, and within the name tiers the first method to accept a
// pair wins.
type Matcher struct {
	opts  MatcherOptions
	norms map[int64]model.NormalizedVendor
	tax   map[int64]string
}

// NewMatcher builds a matcher over the given normalized vendors.
// taxIDs maps vendor id to its normalized tax id (usable ones only).
func NewMatcher(norms map[int64]model.NormalizedVendor, taxIDs map[int64]string, opts MatcherOptions) *Matcher {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	return &Matcher{opts: opts, norms: norms, tax: taxIDs}
}

// Match runs all tiers and returns the accepted pairs, sorted by
// (vendor_a, vendor_b) so a rerun on the same snapshot is
// bit-identical.
func (m *Matcher) Match(ctx context.Context, vendors []model.VendorRecord, idx *BlockIndex) ([]model.MatchScore, error) {
	pairs := m.taxIDPairs(vendors)

	tied := make(map[int64]struct{}, len(pairs)*2)
	for _, p := range pairs {
		tied[p.VendorA] = struct{}{}
		tied[p.VendorB] = struct{}{}
	}

	namePairs, err := m.namePairs(ctx, vendors, idx, tied)
	if err != nil {
		return nil, err
	}
	pairs = append(pairs, namePairs...)

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].VendorA != pairs[j].VendorA {
			return pairs[i].VendorA < pairs[j].VendorA
		}
		return pairs[i].VendorB < pairs[j].VendorB
	})

	return pairs, nil
}

// taxIDPairs is tier 1: vendors sharing a usable normalized tax id
// are tied directly with probability 1.0, no further scoring.
func (m *Matcher) taxIDPairs(vendors []model.VendorRecord) []model.MatchScore {
	groups := make(map[string][]int64)
	for _, v := range vendors {
		tid, ok := m.tax[v.ID]
		if !ok || len(tid) < model.MinTaxIDLen {
			continue
		}
		groups[tid] = append(groups[tid], v.ID)
	}

	var pairs []model.MatchScore
	for _, ids := range groups {
		if len(ids) < 2 {
			continue
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		// Star topology to the lowest id keeps the edge count linear;
		// connectivity is what the cluster builder needs.
		for _, other := range ids[1:] {
			pairs = append(pairs, model.MatchScore{
				VendorA:     ids[0],
				VendorB:     other,
				Probability: 1.0,
				Method:      model.MethodTaxIDExact,
			})
		}
	}
	return pairs
}

// namePairs runs tiers 2-4 over blocking candidates for vendors not
// already tied by tax id. Workers score disjoint id ranges and merge
// at the end, so there is no shared mutable state mid-pass.
func (m *Matcher) namePairs(ctx context.Context, vendors []model.VendorRecord, idx *BlockIndex, tied map[int64]struct{}) ([]model.MatchScore, error) {
	eligible := make([]model.NormalizedVendor, 0, len(vendors))
	for _, v := range vendors {
		if _, ok := tied[v.ID]; ok {
			continue
		}
		nv, ok := m.norms[v.ID]
		if !ok || nv.Empty() {
			continue
		}
		eligible = append(eligible, nv)
	}
	sort.Slice(eligible, func(i, j int) bool { return eligible[i].VendorID < eligible[j].VendorID })

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(m.opts.Workers)

	var mu sync.Mutex
	var pairs []model.MatchScore

	chunk := (len(eligible) + m.opts.Workers - 1) / m.opts.Workers
	if chunk == 0 {
		chunk = 1
	}
	for start := 0; start < len(eligible); start += chunk {
		end := start + chunk
		if end > len(eligible) {
			end = len(eligible)
		}
		slice := eligible[start:end]
		g.Go(func() error {
			local := make([]model.MatchScore, 0, len(slice))
			for _, nv := range slice {
				for _, candID := range idx.Candidates(nv) {
					// Score each unordered pair once, from its lower id.
					if candID <= nv.VendorID {
						continue
					}
					if _, ok := tied[candID]; ok {
						continue
					}
					if ms, ok := m.scorePair(nv, candID); ok {
						local = append(local, ms)
					}
				}
			}
			mu.Lock()
			pairs = append(pairs, local...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	zap.L().Debug("dedup: name tiers complete",
		zap.Int("eligible", len(eligible)),
		zap.Int("pairs", len(pairs)),
	)
	return pairs, nil
}

// scorePair applies tiers 2-4 to one candidate pair in priority
// order. Every accepted pair reports its method and probability for
// audit.
func (m *Matcher) scorePair(a model.NormalizedVendor, bID int64) (model.MatchScore, bool) {
	b, ok := m.norms[bID]
	if !ok || b.Empty() {
		return model.MatchScore{}, false
	}

	if a.BaseName == b.BaseName {
		return model.MatchScore{
			VendorA:     a.VendorID,
			VendorB:     bID,
			Probability: normalizedNameConfidence,
			Method:      model.MethodNormalizedName,
		}, true
	}

	if jaccardSignal(a, b) {
		if sim := normalize.Jaccard(a, b); sim >= m.opts.JaccardThreshold {
			return model.MatchScore{
				VendorA:     a.VendorID,
				VendorB:     bID,
				Probability: sim,
				Method:      model.MethodTokenJaccard,
			}, true
		}
	}

	sideA := pairSide{norm: a, taxID: m.tax[a.VendorID]}
	sideB := pairSide{norm: b, taxID: m.tax[bID]}
	if p := linkageProbability(sideA, sideB); p >= m.opts.LinkageThreshold {
		return model.MatchScore{
			VendorA:     a.VendorID,
			VendorB:     bID,
			Probability: p,
			Method:      model.MethodLinkage,
		}, true
	}

	return model.MatchScore{}, false
}
