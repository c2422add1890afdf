package anomaly

import (
	"math"
	"math/rand"
)

// IsolationForest scores outliers by how quickly random axis-aligned
// splits isolate a point: shorter average path length means fewer
// peers nearby. Raw scores follow the standard 2^(-E[h]/c(n))
// formulation and land in (0,1], larger = more anomalous.
type IsolationForest struct {
	Trees      int
	SampleSize int
}

type forestNode struct {
	feature int
	split   float64
	left    *forestNode
	right   *forestNode
	// size is set on leaves only: the number of sample points that
	// ended here.
	size int
}

// Score fits the ensemble on the matrix and returns one raw score
// per row. The rng drives subsampling and split selection; the same
// seed and input always produce the same scores.
func (f *IsolationForest) Score(matrix [][]float64, rng *rand.Rand) []float64 {
	n := len(matrix)
	if n == 0 {
		return nil
	}
	sample := f.SampleSize
	if sample > n {
		sample = n
	}
	heightLimit := int(math.Ceil(math.Log2(float64(sample)))) + 1

	trees := make([]*forestNode, f.Trees)
	for i := range trees {
		idx := rng.Perm(n)[:sample]
		sub := make([][]float64, sample)
		for j, k := range idx {
			sub[j] = matrix[k]
		}
		trees[i] = buildTree(sub, 0, heightLimit, rng)
	}

	norm := avgPathLength(sample)
	scores := make([]float64, n)
	for i, row := range matrix {
		var sum float64
		for _, t := range trees {
			sum += pathLength(t, row, 0)
		}
		mean := sum / float64(len(trees))
		scores[i] = math.Exp2(-mean / norm)
	}
	return scores
}

func buildTree(points [][]float64, depth, limit int, rng *rand.Rand) *forestNode {
	if len(points) <= 1 || depth >= limit {
		return &forestNode{feature: -1, size: len(points)}
	}

	dims := len(points[0])
	// Pick among features that still vary in this partition; a
	// constant feature cannot split anything.
	viable := make([]int, 0, dims)
	for d := 0; d < dims; d++ {
		lo, hi := featureRange(points, d)
		if hi > lo {
			viable = append(viable, d)
		}
	}
	if len(viable) == 0 {
		return &forestNode{feature: -1, size: len(points)}
	}

	feat := viable[rng.Intn(len(viable))]
	lo, hi := featureRange(points, feat)
	split := lo + rng.Float64()*(hi-lo)

	var left, right [][]float64
	for _, p := range points {
		if p[feat] < split {
			left = append(left, p)
		} else {
			right = append(right, p)
		}
	}
	return &forestNode{
		feature: feat,
		split:   split,
		left:    buildTree(left, depth+1, limit, rng),
		right:   buildTree(right, depth+1, limit, rng),
	}
}

func featureRange(points [][]float64, d int) (lo, hi float64) {
	lo, hi = points[0][d], points[0][d]
	for _, p := range points[1:] {
		if p[d] < lo {
			lo = p[d]
		}
		if p[d] > hi {
			hi = p[d]
		}
	}
	return lo, hi
}

func pathLength(node *forestNode, row []float64, depth int) float64 {
	if node.feature < 0 {
		return float64(depth) + avgPathLength(node.size)
	}
	if row[node.feature] < node.split {
		return pathLength(node.left, row, depth+1)
	}
	return pathLength(node.right, row, depth+1)
}

const eulerMascheroni = 0.5772156649

// avgPathLength is c(n), the expected path length of an unsuccessful
// BST search over n points, used to normalize tree depths.
func avgPathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	h := math.Log(float64(n-1)) + eulerMascheroni
	return 2*h - 2*float64(n-1)/float64(n)
}
