package features

import "github.com/transparencia-lab/contratos-cli/internal/model"

// coBidGraph approximates the sector's bidder network from award
// data: two vendors are adjacent when they both won contracts from
// the same institution in the same year. Degree counts distinct
// neighbors; the clustering coefficient is the fraction of neighbor
// pairs that are themselves adjacent.
type coBidGraph struct {
	adj map[int64]map[int64]struct{}
}

func buildCoBidGraph(contracts []model.Contract) *coBidGraph {
	type instYear struct {
		institution int64
		year        int
	}
	groups := make(map[instYear]map[int64]struct{})
	for _, c := range contracts {
		key := instYear{institution: c.InstitutionID, year: c.Year}
		if groups[key] == nil {
			groups[key] = make(map[int64]struct{})
		}
		groups[key][c.VendorID] = struct{}{}
	}

	g := &coBidGraph{adj: make(map[int64]map[int64]struct{})}
	for _, vendors := range groups {
		for a := range vendors {
			for b := range vendors {
				if a == b {
					continue
				}
				if g.adj[a] == nil {
					g.adj[a] = make(map[int64]struct{})
				}
				g.adj[a][b] = struct{}{}
			}
		}
	}
	return g
}

func (g *coBidGraph) degree(vendor int64) int {
	return len(g.adj[vendor])
}

// clustering returns the local clustering coefficient of the vendor,
// 0 for vendors with fewer than two neighbors.
func (g *coBidGraph) clustering(vendor int64) float64 {
	neighbors := g.adj[vendor]
	if len(neighbors) < 2 {
		return 0
	}
	ids := make([]int64, 0, len(neighbors))
	for n := range neighbors {
		ids = append(ids, n)
	}
	var closed int
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			if _, ok := g.adj[ids[i]][ids[j]]; ok {
				closed++
			}
		}
	}
	possible := len(ids) * (len(ids) - 1) / 2
	return float64(closed) / float64(possible)
}
