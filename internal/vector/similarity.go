package vector

import "sort"

// InnerProduct returns the inner product of two vectors (for normalized vectors equals cosine similarity).
func InnerProduct(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

type hit struct {
	pos   int
	score float64
}

// topK scores every vector against query and returns the positions of the k
// best, highest score first, lower position first on ties.
func topK(query []float32, vectors [][]float32, k int) []hit {
	hits := make([]hit, len(vectors))
	for i, v := range vectors {
		hits[i] = hit{pos: i, score: InnerProduct(query, v)}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if k < len(hits) {
		hits = hits[:k]
	}
	return hits
}
