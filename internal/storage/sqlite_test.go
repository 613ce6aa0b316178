package storage

import (
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("opening test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testPost(id string) Post {
	return Post{
		PostID:   id,
		Author:   "someone",
		Text:     "post " + id,
		PostedAt: "2025-01-15T10:00:00Z",
		URL:      "https://example.com/" + id,
		Likes:    3,
	}
}

func TestMigrationsApplied(t *testing.T) {
	s := openTestStore(t)

	versions, err := s.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(versions) < 2 {
		t.Fatalf("got %d applied migrations, want at least 2", len(versions))
	}
	for i, v := range versions {
		if v != i+1 {
			t.Errorf("versions[%d] = %d, want %d", i, v, i+1)
		}
	}
}

func TestInsertPost_Idempotent(t *testing.T) {
	s := openTestStore(t)

	inserted, err := s.InsertPost(testPost("p1"))
	if err != nil {
		t.Fatalf("InsertPost: %v", err)
	}
	if !inserted {
		t.Fatal("first insert reported not inserted")
	}

	again, err := s.InsertPost(testPost("p1"))
	if err != nil {
		t.Fatalf("InsertPost (repeat): %v", err)
	}
	if again {
		t.Error("repeat insert reported inserted, want no-op")
	}

	count, err := s.CountPosts()
	if err != nil {
		t.Fatalf("CountPosts: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
}

func TestGetPost(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.InsertPost(testPost("p1")); err != nil {
		t.Fatalf("InsertPost: %v", err)
	}

	p, err := s.GetPost("p1")
	if err != nil {
		t.Fatalf("GetPost: %v", err)
	}
	if p.Author != "someone" || p.Likes != 3 {
		t.Errorf("got post %+v, want author/likes preserved", p)
	}

	if _, err := s.GetPost("missing"); err != ErrNotFound {
		t.Errorf("GetPost(missing) = %v, want ErrNotFound", err)
	}
}

func TestSoftDeletePost(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.InsertPost(testPost("p1")); err != nil {
		t.Fatalf("InsertPost: %v", err)
	}

	if err := s.SoftDeletePost("p1"); err != nil {
		t.Fatalf("SoftDeletePost: %v", err)
	}
	if _, err := s.GetPost("p1"); err != ErrNotFound {
		t.Errorf("GetPost after delete = %v, want ErrNotFound", err)
	}
	// Deleting twice is not found: the post is already invisible.
	if err := s.SoftDeletePost("p1"); err != ErrNotFound {
		t.Errorf("second SoftDeletePost = %v, want ErrNotFound", err)
	}
}

func TestGetPosts_PreservesOrder(t *testing.T) {
	s := openTestStore(t)

	for _, id := range []string{"a", "b", "c"} {
		if _, err := s.InsertPost(testPost(id)); err != nil {
			t.Fatalf("InsertPost(%s): %v", id, err)
		}
	}
	if err := s.SoftDeletePost("b"); err != nil {
		t.Fatalf("SoftDeletePost: %v", err)
	}

	posts, err := s.GetPosts([]string{"c", "b", "a", "nope"})
	if err != nil {
		t.Fatalf("GetPosts: %v", err)
	}
	if len(posts) != 2 {
		t.Fatalf("got %d posts, want 2", len(posts))
	}
	if posts[0].PostID != "c" || posts[1].PostID != "a" {
		t.Errorf("order = [%s %s], want [c a]", posts[0].PostID, posts[1].PostID)
	}
}

func TestImageDescriptions(t *testing.T) {
	s := openTestStore(t)

	p := testPost("p1")
	p.Images = "a.jpg,b.jpg"
	if _, err := s.InsertPost(p); err != nil {
		t.Fatalf("InsertPost: %v", err)
	}

	d := ImageDescription{PostID: "p1", ImagePath: "a.jpg", Description: "a cat"}
	if err := s.SaveImageDescription(d); err != nil {
		t.Fatalf("SaveImageDescription: %v", err)
	}
	// Same (post, image) pair keeps the original description.
	d.Description = "a dog"
	if err := s.SaveImageDescription(d); err != nil {
		t.Fatalf("SaveImageDescription (repeat): %v", err)
	}

	descs, err := s.ImageDescriptions("p1")
	if err != nil {
		t.Fatalf("ImageDescriptions: %v", err)
	}
	if len(descs) != 1 {
		t.Fatalf("got %d descriptions, want 1", len(descs))
	}
	if descs[0].Description != "a cat" {
		t.Errorf("description = %q, want original kept", descs[0].Description)
	}
}

func TestPostsNeedingImageAnalysis(t *testing.T) {
	s := openTestStore(t)

	noImages := testPost("text-only")
	withImages := testPost("pics")
	withImages.Images = "a.jpg"
	analyzed := testPost("done")
	analyzed.Images = "b.jpg"

	for _, p := range []Post{noImages, withImages, analyzed} {
		if _, err := s.InsertPost(p); err != nil {
			t.Fatalf("InsertPost(%s): %v", p.PostID, err)
		}
	}
	if err := s.SaveImageDescription(ImageDescription{PostID: "done", ImagePath: "b.jpg", Description: "x"}); err != nil {
		t.Fatalf("SaveImageDescription: %v", err)
	}

	posts, err := s.PostsNeedingImageAnalysis(10)
	if err != nil {
		t.Fatalf("PostsNeedingImageAnalysis: %v", err)
	}
	if len(posts) != 1 || posts[0].PostID != "pics" {
		t.Fatalf("got %v, want just [pics]", posts)
	}
}

func TestCollectionStats(t *testing.T) {
	s := openTestStore(t)

	live := testPost("live")
	live.Images = "a.jpg"
	gone := testPost("gone")
	for _, p := range []Post{live, gone} {
		if _, err := s.InsertPost(p); err != nil {
			t.Fatalf("InsertPost(%s): %v", p.PostID, err)
		}
	}
	if err := s.SoftDeletePost("gone"); err != nil {
		t.Fatalf("SoftDeletePost: %v", err)
	}
	if err := s.SaveImageDescription(ImageDescription{PostID: "live", ImagePath: "a.jpg", Description: "x"}); err != nil {
		t.Fatalf("SaveImageDescription: %v", err)
	}

	st, err := s.CollectionStats()
	if err != nil {
		t.Fatalf("CollectionStats: %v", err)
	}
	if st.TotalPosts != 1 {
		t.Errorf("TotalPosts = %d, want 1", st.TotalPosts)
	}
	if st.DeletedPosts != 1 {
		t.Errorf("DeletedPosts = %d, want 1", st.DeletedPosts)
	}
	if st.PostsWithImages != 1 {
		t.Errorf("PostsWithImages = %d, want 1", st.PostsWithImages)
	}
	if st.PostsWithAnalyzed != 1 {
		t.Errorf("PostsWithAnalyzed = %d, want 1", st.PostsWithAnalyzed)
	}
}

func TestClearAll_KeepsTags(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.InsertPost(testPost("p1")); err != nil {
		t.Fatalf("InsertPost: %v", err)
	}
	tagID, err := s.GetOrCreateTag("golang", "")
	if err != nil {
		t.Fatalf("GetOrCreateTag: %v", err)
	}
	if _, err := s.AssignTag("p1", tagID, 1.0, "manual"); err != nil {
		t.Fatalf("AssignTag: %v", err)
	}

	if err := s.ClearAll(); err != nil {
		t.Fatalf("ClearAll: %v", err)
	}

	count, err := s.CountPosts()
	if err != nil {
		t.Fatalf("CountPosts: %v", err)
	}
	if count != 0 {
		t.Errorf("posts after clear = %d, want 0", count)
	}

	tags, err := s.ListTags()
	if err != nil {
		t.Fatalf("ListTags: %v", err)
	}
	if len(tags) != 1 {
		t.Fatalf("tags after clear = %d, want 1", len(tags))
	}
	if tags[0].PostCount != 0 {
		t.Errorf("tag post count after clear = %d, want 0", tags[0].PostCount)
	}
}
