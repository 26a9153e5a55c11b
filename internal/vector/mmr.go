package vector

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Rerank applies maximal marginal relevance to candidates: greedily pick the
// point maximizing (1-diversity)*sim(point, query) - diversity*maxSimToPicked.
// diversity=0 keeps the original relevance order; diversity=1 optimizes pure
// spread. Candidates without vectors are skipped.
func Rerank(query []float64, candidates []Point, diversity float64, limit int) []Point {
	if limit <= 0 || len(candidates) == 0 {
		return nil
	}
	if diversity < 0 {
		diversity = 0
	}
	if diversity > 1 {
		diversity = 1
	}

	pool := make([]Point, 0, len(candidates))
	for _, p := range candidates {
		if len(p.Vector) == len(query) && len(p.Vector) > 0 {
			pool = append(pool, p)
		}
	}
	if len(pool) == 0 {
		return nil
	}

	relevance := make([]float64, len(pool))
	for i, p := range pool {
		relevance[i] = CosineSimilarity(query, p.Vector)
	}

	selected := make([]Point, 0, limit)
	picked := make([]bool, len(pool))

	// Max similarity to the selected set. Starts at -Inf so the first real
	// similarity always wins; cosine ranges over [-1,1] and an anti-correlated
	// candidate earns a diversity bonus rather than a zero penalty.
	maxSim := make([]float64, len(pool))
	for i := range maxSim {
		maxSim[i] = math.Inf(-1)
	}

	for len(selected) < limit && len(selected) < len(pool) {
		best := -1
		bestScore := math.Inf(-1)
		for i := range pool {
			if picked[i] {
				continue
			}
			score := (1 - diversity) * relevance[i]
			if len(selected) > 0 {
				score -= diversity * maxSim[i]
			}
			if score > bestScore {
				bestScore = score
				best = i
			}
		}
		if best < 0 {
			break
		}

		picked[best] = true
		selected = append(selected, pool[best])

		for i := range pool {
			if picked[i] {
				continue
			}
			sim := CosineSimilarity(pool[i].Vector, pool[best].Vector)
			if sim > maxSim[i] {
				maxSim[i] = sim
			}
		}
	}
	return selected
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0 when
// either vector is zero or the lengths differ.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	na := floats.Norm(a, 2)
	nb := floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 0
	}
	return floats.Dot(a, b) / (na * nb)
}
