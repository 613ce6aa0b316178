package retrieval

import (
	"math"
	"testing"
)

// unitVec returns a 2D vector at the angle whose cosine against (1,0)
// is cos.
func unitVec(cos float64) []float32 {
	sin := math.Sqrt(1 - cos*cos)
	return []float32{float32(cos), float32(sin)}
}

func TestFuser_TextOutranksStrongerImageMatch(t *testing.T) {
	f := NewFuser([]float32{1, 0})

	// A matches on text at 0.95; B matches on image at 0.99, which the
	// image discount brings down to 0.891.
	f.Observe("A", ModalityText, unitVec(0.95))
	f.Observe("B", ImageModality(0), unitVec(0.99))

	ranked := f.Ranked()
	if len(ranked) != 2 {
		t.Fatalf("got %d results, want 2", len(ranked))
	}
	if ranked[0].PostID != "A" {
		t.Errorf("top result = %s, want A", ranked[0].PostID)
	}
	if math.Abs(ranked[0].Score-0.95) > 1e-5 {
		t.Errorf("A score = %f, want 0.95", ranked[0].Score)
	}
	if math.Abs(ranked[1].Score-0.891) > 1e-5 {
		t.Errorf("B score = %f, want 0.891", ranked[1].Score)
	}
	if ranked[1].Matched != "image:0" {
		t.Errorf("B matched = %q, want image:0", ranked[1].Matched)
	}
}

func TestFuser_BestModalityWins(t *testing.T) {
	f := NewFuser([]float32{1, 0})

	f.Observe("A", ModalityText, unitVec(0.5))
	// 0.99 * 0.9 = 0.891, above the text score.
	f.Observe("A", ImageModality(0), unitVec(0.99))
	// 0.6 * 0.9 = 0.54, below the current best.
	f.Observe("A", ImageModality(1), unitVec(0.6))

	ranked := f.Ranked()
	if len(ranked) != 1 {
		t.Fatalf("got %d results, want 1", len(ranked))
	}
	if math.Abs(ranked[0].Score-0.891) > 1e-5 {
		t.Errorf("score = %f, want 0.891", ranked[0].Score)
	}
	if ranked[0].Matched != "image:0" {
		t.Errorf("matched = %q, want image:0", ranked[0].Matched)
	}
}

func TestFuser_TiesKeepObservationOrder(t *testing.T) {
	f := NewFuser([]float32{1, 0})

	same := unitVec(0.8)
	f.Observe("first", ModalityText, same)
	f.Observe("second", ModalityText, same)
	f.Observe("third", ModalityText, same)

	ranked := f.Ranked()
	want := []string{"first", "second", "third"}
	for i, id := range want {
		if ranked[i].PostID != id {
			t.Fatalf("ranked[%d] = %s, want %s", i, ranked[i].PostID, id)
		}
	}
}

func TestFuser_ZeroNormQueryMatchesNothing(t *testing.T) {
	f := NewFuser([]float32{0, 0})

	f.Observe("A", ModalityText, unitVec(0.9))
	if got := f.Ranked(); len(got) != 0 {
		t.Errorf("got %d results for zero-norm query, want 0", len(got))
	}
}

func TestFuser_SkipsZeroNormCandidates(t *testing.T) {
	f := NewFuser([]float32{1, 0})

	f.Observe("zero", ModalityText, []float32{0, 0})
	f.Observe("ok", ModalityText, unitVec(0.9))

	ranked := f.Ranked()
	if len(ranked) != 1 || ranked[0].PostID != "ok" {
		t.Errorf("ranked = %v, want just ok", ranked)
	}
}

func TestFuser_SkipsMismatchedDimensions(t *testing.T) {
	f := NewFuser([]float32{1, 0})

	f.Observe("bad", ModalityText, []float32{1, 0, 0})
	if got := f.Ranked(); len(got) != 0 {
		t.Errorf("got %d results for mismatched dims, want 0", len(got))
	}
}

func TestNorm(t *testing.T) {
	if got := norm([]float32{3, 4}); math.Abs(got-5) > 1e-9 {
		t.Errorf("norm(3,4) = %f, want 5", got)
	}
	if got := norm(nil); got != 0 {
		t.Errorf("norm(nil) = %f, want 0", got)
	}
}

func TestDotProduct(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{0.5, 0}
	got := dotProduct(a, b, norm(a))
	if math.Abs(got-1) > 1e-6 {
		t.Errorf("cosine of parallel vectors = %f, want 1", got)
	}

	if !math.IsNaN(dotProduct(a, []float32{0, 0}, norm(a))) {
		t.Error("want NaN for zero-norm candidate")
	}
	if !math.IsNaN(dotProduct(a, []float32{1, 2, 3}, norm(a))) {
		t.Error("want NaN for mismatched lengths")
	}
}
