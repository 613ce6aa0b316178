package tagging

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/glimpsehq/glimpse/internal/storage"
	"github.com/glimpsehq/glimpse/internal/task"
)

type fakeProvider struct {
	tags      []string
	failOn    string
	seenDescs []string
}

func (f *fakeProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1}, nil
}

func (f *fakeProvider) DescribeImage(ctx context.Context, data []byte, mimeType string) (string, error) {
	return "", nil
}

func (f *fakeProvider) SuggestTags(ctx context.Context, text string, imageDescriptions []string, max int) ([]string, error) {
	if f.failOn != "" && text == f.failOn {
		return nil, errors.New("provider down")
	}
	f.seenDescs = imageDescriptions
	if len(f.tags) > max {
		return f.tags[:max], nil
	}
	return f.tags, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestTagPost(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.InsertPost(storage.Post{PostID: "p1", Text: "generics in go"}); err != nil {
		t.Fatalf("InsertPost: %v", err)
	}

	provider := &fakeProvider{tags: []string{"golang", "programming"}}
	tagger := NewAutoTagger(s, provider, testLogger())

	names, err := tagger.TagPost(context.Background(), "p1")
	if err != nil {
		t.Fatalf("TagPost: %v", err)
	}
	if len(names) != 2 {
		t.Fatalf("assigned %d tags, want 2", len(names))
	}

	tags, err := s.PostTags("p1")
	if err != nil {
		t.Fatalf("PostTags: %v", err)
	}
	if len(tags) != 2 {
		t.Fatalf("got %d post tags, want 2", len(tags))
	}
	for _, tag := range tags {
		if tag.Confidence != 0.8 || tag.AssignedBy != "auto" {
			t.Errorf("tag %s = %.1f/%s, want 0.8/auto", tag.Name, tag.Confidence, tag.AssignedBy)
		}
	}
}

func TestTagPost_ReusesExistingTagsCaseInsensitively(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.InsertPost(storage.Post{PostID: "p1", Text: "about ai"}); err != nil {
		t.Fatalf("InsertPost: %v", err)
	}
	if _, err := s.CreateTag("AI", "", ""); err != nil {
		t.Fatalf("CreateTag: %v", err)
	}

	tagger := NewAutoTagger(s, &fakeProvider{tags: []string{"ai"}}, testLogger())
	if _, err := tagger.TagPost(context.Background(), "p1"); err != nil {
		t.Fatalf("TagPost: %v", err)
	}

	tags, err := s.ListTags()
	if err != nil {
		t.Fatalf("ListTags: %v", err)
	}
	if len(tags) != 1 {
		t.Errorf("got %d tags, want 1 (existing tag reused)", len(tags))
	}
}

func TestTagPost_IncludesImageDescriptions(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.InsertPost(storage.Post{PostID: "p1", Text: "check this out", Images: "a.jpg"}); err != nil {
		t.Fatalf("InsertPost: %v", err)
	}
	if err := s.SaveImageDescription(storage.ImageDescription{PostID: "p1", ImagePath: "a.jpg", Description: "a chart of inflation"}); err != nil {
		t.Fatalf("SaveImageDescription: %v", err)
	}

	provider := &fakeProvider{tags: []string{"economics"}}
	tagger := NewAutoTagger(s, provider, testLogger())
	if _, err := tagger.TagPost(context.Background(), "p1"); err != nil {
		t.Fatalf("TagPost: %v", err)
	}
	if len(provider.seenDescs) != 1 || provider.seenDescs[0] != "a chart of inflation" {
		t.Errorf("provider saw descriptions %v", provider.seenDescs)
	}
}

func TestTagPost_MissingPost(t *testing.T) {
	s := openTestStore(t)
	tagger := NewAutoTagger(s, &fakeProvider{}, testLogger())

	if _, err := tagger.TagPost(context.Background(), "nope"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("TagPost = %v, want ErrNotFound", err)
	}
}

func TestTagBatch(t *testing.T) {
	s := openTestStore(t)
	for _, p := range []storage.Post{
		{PostID: "a", Text: "fine"},
		{PostID: "b", Text: "poison"},
		{PostID: "c", Text: "also fine"},
	} {
		if _, err := s.InsertPost(p); err != nil {
			t.Fatalf("InsertPost(%s): %v", p.PostID, err)
		}
	}

	tagger := NewAutoTagger(s, &fakeProvider{tags: []string{"t"}, failOn: "poison"}, testLogger())

	reg := task.NewRegistry()
	id := reg.Create("auto-tag")
	if err := reg.Start(id, func() {}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	rep := task.NewReporter(reg, id)

	res, err := tagger.TagBatch(context.Background(), 0, rep)
	rep.Close()
	if err != nil {
		t.Fatalf("TagBatch: %v", err)
	}
	if res.Processed != 3 || res.Tagged != 2 || res.Failed != 1 {
		t.Errorf("result = %+v", res)
	}

	snap, _ := reg.Get(id)
	if snap.Total != 3 || snap.Progress != 3 {
		t.Errorf("task progress = %d/%d, want 3/3", snap.Progress, snap.Total)
	}

	// A second batch only sees the post that failed last time.
	ids, err := s.UntaggedPosts(10)
	if err != nil {
		t.Fatalf("UntaggedPosts: %v", err)
	}
	if len(ids) != 1 || ids[0] != "b" {
		t.Errorf("untagged = %v, want [b]", ids)
	}
}
