package dedup

import (
	"sort"

	"github.com/transparencia-lab/contratos-cli/internal/model"
)

// unionFind is an arena-based disjoint-set over vendor indexes: no
// pointer graphs, path compression on find, union by size.
type unionFind struct {
	parent []int
	size   []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{parent: make([]int, n), size: make([]int, n)}
	for i := range uf.parent {
		uf.parent[i] = i
		uf.size[i] = 1
	}
	return uf
}

func (uf *unionFind) find(i int) int {
	for uf.parent[i] != i {
		uf.parent[i] = uf.parent[uf.parent[i]] // path halving
		i = uf.parent[i]
	}
	return i
}

func (uf *unionFind) union(a, b int) {
	ra, rb := uf.find(a), uf.find(b)
	if ra == rb {
		return
	}
	if uf.size[ra] < uf.size[rb] {
		ra, rb = rb, ra
	}
	uf.parent[rb] = ra
	uf.size[ra] += uf.size[rb]
}

// BuildClusters computes connected components over the accepted match
// graph and selects one canonical member per component: highest
// contract_count, ties broken by lowest vendor id. Vendors without an
// accepted edge become singleton self-clusters. The output is a
// strict partition of the input id space, in ascending order of each
// cluster's lowest member id; rerunning with identical inputs yields
// an identical result.
func BuildClusters(vendors []model.VendorRecord, pairs []model.MatchScore) []model.VendorCluster {
	ids := make([]int64, len(vendors))
	byID := make(map[int64]model.VendorRecord, len(vendors))
	for i, v := range vendors {
		ids[i] = v.ID
		byID[v.ID] = v
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	idxOf := make(map[int64]int, len(ids))
	for i, id := range ids {
		idxOf[id] = i
	}

	uf := newUnionFind(len(ids))
	for _, p := range pairs {
		ia, okA := idxOf[p.VendorA]
		ib, okB := idxOf[p.VendorB]
		if !okA || !okB {
			continue // edge referencing an id outside the snapshot
		}
		uf.union(ia, ib)
	}

	// Group members per root, then tally the winning method per
	// component for audit.
	members := make(map[int][]int64)
	for i, id := range ids {
		root := uf.find(i)
		members[root] = append(members[root], id)
	}

	methodVotes := make(map[int]map[model.MatchMethod]int)
	methodConf := make(map[int]map[model.MatchMethod]float64)
	for _, p := range pairs {
		ia, ok := idxOf[p.VendorA]
		if !ok {
			continue
		}
		root := uf.find(ia)
		if methodVotes[root] == nil {
			methodVotes[root] = make(map[model.MatchMethod]int)
			methodConf[root] = make(map[model.MatchMethod]float64)
		}
		methodVotes[root][p.Method]++
		if p.Probability > methodConf[root][p.Method] {
			methodConf[root][p.Method] = p.Probability
		}
	}

	roots := make([]int, 0, len(members))
	for root := range members {
		roots = append(roots, root)
	}
	// Order components by their smallest member id for stable output.
	sort.Slice(roots, func(i, j int) bool {
		return members[roots[i]][0] < members[roots[j]][0]
	})

	clusters := make([]model.VendorCluster, 0, len(roots))
	for ci, root := range roots {
		ms := members[root] // already ascending: ids iterated in order
		c := model.VendorCluster{
			ClusterID: int64(ci + 1),
			MemberIDs: ms,
		}

		c.CanonicalVendorID = canonicalMember(ms, byID)

		if len(ms) == 1 {
			c.Method = model.MethodSelf
			c.Confidence = 1.0
		} else {
			c.Method, c.Confidence = majorityMethod(methodVotes[root], methodConf[root])
		}
		clusters = append(clusters, c)
	}

	return clusters
}

// canonicalMember picks the member with the highest contract count,
// lowest id on ties.
func canonicalMember(ms []int64, byID map[int64]model.VendorRecord) int64 {
	best := ms[0]
	bestCount := byID[best].ContractCount
	for _, id := range ms[1:] {
		count := byID[id].ContractCount
		if count > bestCount || (count == bestCount && id < best) {
			best = id
			bestCount = count
		}
	}
	return best
}

// majorityMethod returns the method carrying the most edges in a
// component; ties resolve toward the higher-priority tier. Confidence
// is the strongest edge of the winning method.
func majorityMethod(votes map[model.MatchMethod]int, conf map[model.MatchMethod]float64) (model.MatchMethod, float64) {
	priority := []model.MatchMethod{
		model.MethodTaxIDExact,
		model.MethodNormalizedName,
		model.MethodTokenJaccard,
		model.MethodLinkage,
	}
	var winner model.MatchMethod
	bestVotes := -1
	for _, method := range priority {
		if votes[method] > bestVotes {
			winner = method
			bestVotes = votes[method]
		}
	}
	return winner, conf[winner]
}

// Mappings flattens clusters into the vendor_map output rows, one per
// member id, ascending.
func Mappings(clusters []model.VendorCluster) []model.VendorMapping {
	var out []model.VendorMapping
	for _, c := range clusters {
		for _, id := range c.MemberIDs {
			out = append(out, model.VendorMapping{
				VendorID:    id,
				CanonicalID: c.CanonicalVendorID,
				ClusterID:   c.ClusterID,
				Method:      c.Method,
				Confidence:  c.Confidence,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VendorID < out[j].VendorID })
	return out
}
