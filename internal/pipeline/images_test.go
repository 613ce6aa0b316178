package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/glimpsehq/glimpse/internal/retrieval"
	"github.com/glimpsehq/glimpse/internal/storage"
	"github.com/glimpsehq/glimpse/internal/task"
)

func runAnalyzer(t *testing.T, a *ImageAnalyzer, limit int) AnalysisResult {
	t.Helper()
	reg := task.NewRegistry()
	id := reg.Create("analyze-images")
	if err := reg.Start(id, func() {}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	rep := task.NewReporter(reg, id)
	defer rep.Close()

	res, err := a.Run(context.Background(), limit, rep)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return res
}

func TestImageAnalyzer_Run(t *testing.T) {
	store, vectors := openTestDeps(t)
	imageDir := t.TempDir()

	if err := os.WriteFile(filepath.Join(imageDir, "cat.jpg"), []byte("jpegdata"), 0o644); err != nil {
		t.Fatalf("writing image: %v", err)
	}
	if _, err := store.InsertPost(storage.Post{PostID: "p1", Text: "my cat", Images: "cat.jpg"}); err != nil {
		t.Fatalf("InsertPost: %v", err)
	}

	a := NewImageAnalyzer(store, vectors, fakeProvider{}, imageDir, testLogger())
	res := runAnalyzer(t, a, 10)
	if res.Posts != 1 || res.Described != 1 || res.Failed != 0 {
		t.Errorf("result = %+v", res)
	}

	descs, err := store.ImageDescriptions("p1")
	if err != nil {
		t.Fatalf("ImageDescriptions: %v", err)
	}
	if len(descs) != 1 || descs[0].ImagePath != "cat.jpg" {
		t.Fatalf("descriptions = %v", descs)
	}

	ok, err := vectors.Has(context.Background(), "p1", retrieval.ImageModality(0))
	if err != nil {
		t.Fatalf("Has: %v", err)
	}
	if !ok {
		t.Error("image vector not stored")
	}

	// Second run finds nothing left to analyze.
	res = runAnalyzer(t, a, 10)
	if res.Posts != 0 {
		t.Errorf("rerun analyzed %d posts, want 0", res.Posts)
	}
}

func TestImageAnalyzer_MissingFileCounted(t *testing.T) {
	store, vectors := openTestDeps(t)
	imageDir := t.TempDir()

	if _, err := store.InsertPost(storage.Post{PostID: "p1", Text: "gone", Images: "missing.jpg"}); err != nil {
		t.Fatalf("InsertPost: %v", err)
	}

	a := NewImageAnalyzer(store, vectors, fakeProvider{}, imageDir, testLogger())
	res := runAnalyzer(t, a, 10)
	if res.Posts != 1 || res.Failed != 1 || res.Described != 0 {
		t.Errorf("result = %+v, want 1 failed", res)
	}
}
