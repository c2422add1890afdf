package calibrate

import "sort"

// AUC computes the area under the ROC curve as the Mann-Whitney rank
// statistic: the probability that a randomly chosen positive
// outranks a randomly chosen negative. Ties receive average ranks.
// Returns 0.5 when either class is empty (no ranking information).
func AUC(scores []float64, labels []bool) float64 {
	n := len(scores)
	if n == 0 || n != len(labels) {
		return 0.5
	}

	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return scores[idx[a]] < scores[idx[b]] })

	// Average ranks over tie groups.
	ranks := make([]float64, n)
	for i := 0; i < n; {
		j := i
		for j < n && scores[idx[j]] == scores[idx[i]] {
			j++
		}
		avg := float64(i+j+1) / 2 // 1-based ranks i+1..j averaged
		for k := i; k < j; k++ {
			ranks[idx[k]] = avg
		}
		i = j
	}

	var pos, rankSum float64
	for i, lab := range labels {
		if lab {
			pos++
			rankSum += ranks[i]
		}
	}
	neg := float64(n) - pos
	if pos == 0 || neg == 0 {
		return 0.5
	}
	u := rankSum - pos*(pos+1)/2
	return u / (pos * neg)
}
