// Package cluster groups indexed documents by embedding similarity (§4.11).
// Cluster assignments are an optional, best-effort slot: a clustering
// failure degrades the slot to its previous value and never aborts an
// ingest.
package cluster

import (
	"math"
	"sort"
	"strings"
)

// DocVector is one document's mean chunk vector, the unit clustering
// operates on (§4.11: "document-level vectors = mean of a file's chunk
// vectors").
type DocVector struct {
	Path   string
	Vector []float32
}

// maxIterations bounds a full k-means run (§4.11).
const maxIterations = 100

// State is the cluster slot's persisted content.
type State struct {
	Centroids   [][]float32
	Assignments map[string]int
	Labels      map[int]string
	ChangeCount int
}

// K picks the cluster count for n documents: clamp(sqrt(n/2), 2, 50).
func K(n int) int {
	k := int(math.Sqrt(float64(n) / 2))
	if k < 2 {
		k = 2
	}
	if k > 50 {
		k = 50
	}
	if k > n {
		k = n
	}
	if k < 1 {
		k = 1
	}
	return k
}

// Run performs a full k-means clustering over docs. Initial centroids are
// chosen deterministically (evenly-strided over documents sorted by path)
// rather than randomly, so repeated runs over an unchanged corpus produce
// bitwise-identical cluster state.
func Run(docs []DocVector) State {
	if len(docs) == 0 {
		return State{Assignments: map[string]int{}, Labels: map[int]string{}}
	}

	sorted := make([]DocVector, len(docs))
	copy(sorted, docs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	k := K(len(sorted))
	centroids := initCentroids(sorted, k)
	assignments := make(map[string]int, len(sorted))

	for iter := 0; iter < maxIterations; iter++ {
		changed := false
		for _, d := range sorted {
			best := nearestCentroid(centroids, d.Vector)
			if assignments[d.Path] != best {
				assignments[d.Path] = best
				changed = true
			}
		}
		centroids = recomputeCentroids(sorted, assignments, k)
		if !changed && iter > 0 {
			break
		}
	}

	return State{
		Centroids:   centroids,
		Assignments: assignments,
		Labels:      map[int]string{},
	}
}

func initCentroids(sorted []DocVector, k int) [][]float32 {
	centroids := make([][]float32, k)
	if len(sorted) == 0 {
		return centroids
	}
	stride := float64(len(sorted)) / float64(k)
	for i := 0; i < k; i++ {
		idx := int(float64(i) * stride)
		if idx >= len(sorted) {
			idx = len(sorted) - 1
		}
		centroids[i] = cloneVector(sorted[idx].Vector)
	}
	return centroids
}

func recomputeCentroids(docs []DocVector, assignments map[string]int, k int) [][]float32 {
	if len(docs) == 0 || len(docs[0].Vector) == 0 {
		return make([][]float32, k)
	}
	dims := len(docs[0].Vector)
	sums := make([][]float64, k)
	counts := make([]int, k)
	for i := range sums {
		sums[i] = make([]float64, dims)
	}

	for _, d := range docs {
		c := assignments[d.Path]
		for i, x := range d.Vector {
			sums[c][i] += float64(x)
		}
		counts[c]++
	}

	centroids := make([][]float32, k)
	for c := 0; c < k; c++ {
		if counts[c] == 0 {
			centroids[c] = make([]float32, dims)
			continue
		}
		v := make([]float32, dims)
		for i := range v {
			v[i] = float32(sums[c][i] / float64(counts[c]))
		}
		centroids[c] = v
	}
	return centroids
}

// AssignNearest incrementally assigns one new or changed document to its
// nearest centroid by cosine similarity, without recomputing centroids,
// and increments the rebalance counter.
func AssignNearest(s State, doc DocVector) State {
	if len(s.Centroids) == 0 {
		return Run([]DocVector{doc})
	}
	if s.Assignments == nil {
		s.Assignments = make(map[string]int)
	}
	s.Assignments[doc.Path] = nearestCentroid(s.Centroids, doc.Vector)
	s.ChangeCount++
	return s
}

// ShouldRebalance reports whether enough incremental assignments have
// accumulated since the last full Run to justify one.
func ShouldRebalance(s State, threshold int) bool {
	return threshold > 0 && s.ChangeCount >= threshold
}

func nearestCentroid(centroids [][]float32, v []float32) int {
	best := 0
	bestSim := -2.0
	for i, c := range centroids {
		sim := cosineSimilarity(c, v)
		if sim > bestSim {
			bestSim = sim
			best = i
		}
	}
	return best
}

func cosineSimilarity(a, b []float32) float64 {
	var dot, na, nb float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func cloneVector(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}

// MemberContent pairs a document path with its chunk text, for labeling.
type MemberContent struct {
	Path    string
	Content string
}

// Label computes each cluster's TF-IDF label: the top-5 terms by TF-IDF
// across its member contents, joined as the top-3 into one label string.
func Label(s State, contents []MemberContent) map[int]string {
	byCluster := make(map[int][]string)
	for _, mc := range contents {
		c, ok := s.Assignments[mc.Path]
		if !ok {
			continue
		}
		byCluster[c] = append(byCluster[c], mc.Content)
	}

	// Document frequency across all documents, used for IDF.
	docFreq := make(map[string]int)
	perDocTerms := make([]map[string]bool, len(contents))
	for i, mc := range contents {
		perDocTerms[i] = uniqueTerms(tokenize(mc.Content))
	}
	for _, terms := range perDocTerms {
		for t := range terms {
			docFreq[t]++
		}
	}

	labels := make(map[int]string, len(byCluster))
	for c, docs := range byCluster {
		tf := make(map[string]int)
		for _, content := range docs {
			for _, tok := range tokenize(content) {
				tf[tok]++
			}
		}

		type scored struct {
			term  string
			score float64
		}
		var ranked []scored
		for term, freq := range tf {
			idf := math.Log(float64(len(contents)+1) / float64(docFreq[term]+1))
			ranked = append(ranked, scored{term: term, score: float64(freq) * idf})
		}
		sort.Slice(ranked, func(i, j int) bool {
			if ranked[i].score != ranked[j].score {
				return ranked[i].score > ranked[j].score
			}
			return ranked[i].term < ranked[j].term
		})

		top := ranked
		if len(top) > 5 {
			top = top[:5]
		}
		labelTerms := top
		if len(labelTerms) > 3 {
			labelTerms = labelTerms[:3]
		}
		names := make([]string, len(labelTerms))
		for i, t := range labelTerms {
			names[i] = t.term
		}
		labels[c] = strings.Join(names, "-")
	}
	return labels
}

func uniqueTerms(terms []string) map[string]bool {
	out := make(map[string]bool)
	for _, t := range terms {
		out[t] = true
	}
	return out
}

func tokenize(s string) []string {
	fields := strings.Fields(strings.ToLower(s))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,!?:;\"'()[]{}`*_#")
		if len(f) > 2 {
			out = append(out, f)
		}
	}
	return out
}
