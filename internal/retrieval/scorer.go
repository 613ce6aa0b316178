package retrieval

import (
	"math"
	"sort"
	"strings"
)

// imageWeight discounts image-derived similarity relative to text. A
// post whose image matches the query perfectly still scores below a
// post whose caption matches perfectly.
const imageWeight = 0.9

// Scored is one post's fused similarity to a query.
type Scored struct {
	PostID string
	// Score is the best weighted cosine similarity across the post's
	// modalities.
	Score float64
	// Matched names the modality that produced the score, "text" or
	// "image:<n>".
	Matched string
}

// Fuser accumulates per-modality similarities and keeps, for each post,
// the single best weighted score. Ties preserve the order posts were
// first observed in.
type Fuser struct {
	query     []float32
	queryNorm float64

	scores map[string]int // post id -> index into ranked
	ranked []Scored
}

// NewFuser prepares a fuser for one query vector. The query norm is
// computed once here rather than per candidate.
func NewFuser(query []float32) *Fuser {
	return &Fuser{
		query:     query,
		queryNorm: norm(query),
		scores:    make(map[string]int),
	}
}

// Observe folds one candidate vector into the running scores. Vectors
// with zero norm carry no signal and are skipped; if the query itself
// has zero norm every candidate is skipped and the result is empty.
func (f *Fuser) Observe(postID, modality string, vec []float32) {
	if f.queryNorm == 0 {
		return
	}
	sim := dotProduct(f.query, vec, f.queryNorm)
	if math.IsNaN(sim) {
		return
	}
	if strings.HasPrefix(modality, "image:") {
		sim *= imageWeight
	}

	i, seen := f.scores[postID]
	if !seen {
		f.scores[postID] = len(f.ranked)
		f.ranked = append(f.ranked, Scored{PostID: postID, Score: sim, Matched: modality})
		return
	}
	if sim > f.ranked[i].Score {
		f.ranked[i].Score = sim
		f.ranked[i].Matched = modality
	}
}

// Ranked returns posts by descending fused score. The sort is stable,
// so equal scores keep first-observation order.
func (f *Fuser) Ranked() []Scored {
	out := make([]Scored, len(f.ranked))
	copy(out, f.ranked)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out
}

// norm computes the L2 norm of a vector.
func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// dotProduct computes cosine similarity between a and b given a's
// precomputed norm. Returns NaN when either norm is zero or lengths
// differ, so callers can skip unusable pairs.
func dotProduct(a, b []float32, aNorm float64) float64 {
	if len(a) != len(b) || aNorm == 0 {
		return math.NaN()
	}
	var dot, bSum float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bSum += float64(b[i]) * float64(b[i])
	}
	bNorm := math.Sqrt(bSum)
	if bNorm == 0 {
		return math.NaN()
	}
	return dot / (aNorm * bNorm)
}
