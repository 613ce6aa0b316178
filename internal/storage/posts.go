package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// InsertPost stores a post if no row with the same post_id exists yet.
// Re-ingesting an identifier is a no-op; the bool reports whether a new
// row was written.
func (s *Store) InsertPost(p Post) (bool, error) {
	res, err := s.db.Exec(`
		INSERT OR IGNORE INTO posts (
			post_id, author, content, posted_at, post_url,
			replies, reposts, likes, bookmarks, views, images, videos
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.PostID, p.Author, p.Text, p.PostedAt, p.URL,
		p.Replies, p.Reposts, p.Likes, p.Bookmarks, p.Views, p.Images, p.Videos,
	)
	if err != nil {
		return false, fmt.Errorf("inserting post %s: %w: %w", p.PostID, ErrUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

const postColumns = `post_id, author, content, posted_at, post_url,
	replies, reposts, likes, bookmarks, views, images, videos, deleted, created_at`

func scanPost(row interface{ Scan(...any) error }) (Post, error) {
	var p Post
	var deleted int
	var createdAt string
	err := row.Scan(&p.PostID, &p.Author, &p.Text, &p.PostedAt, &p.URL,
		&p.Replies, &p.Reposts, &p.Likes, &p.Bookmarks, &p.Views,
		&p.Images, &p.Videos, &deleted, &createdAt)
	if err != nil {
		return Post{}, err
	}
	p.Deleted = deleted != 0
	if t, err := time.Parse("2006-01-02 15:04:05", createdAt); err == nil {
		p.CreatedAt = t
	} else if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		p.CreatedAt = t
	}
	return p, nil
}

// GetPost returns a post by identifier. Soft-deleted posts resolve to
// ErrNotFound, same as missing ones.
func (s *Store) GetPost(postID string) (Post, error) {
	row := s.db.QueryRow(`SELECT `+postColumns+` FROM posts WHERE post_id = ? AND deleted = 0`, postID)
	p, err := scanPost(row)
	if err == sql.ErrNoRows {
		return Post{}, ErrNotFound
	}
	if err != nil {
		return Post{}, fmt.Errorf("getting post %s: %w", postID, err)
	}
	return p, nil
}

// SoftDeletePost marks a post deleted without removing the row. The
// post disappears from every retrieval, scoring, and stats path.
func (s *Store) SoftDeletePost(postID string) error {
	res, err := s.db.Exec(`UPDATE posts SET deleted = 1 WHERE post_id = ? AND deleted = 0`, postID)
	if err != nil {
		return fmt.Errorf("deleting post %s: %w: %w", postID, ErrUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountPosts returns the number of live (non-deleted) posts.
func (s *Store) CountPosts() (int, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM posts WHERE deleted = 0").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting posts: %w: %w", ErrUnavailable, err)
	}
	return count, nil
}

// SaveImageDescription stores the provider's description for one post
// image. An existing (post, image) description is kept as-is, so
// analysis is never re-run for the same image.
func (s *Store) SaveImageDescription(d ImageDescription) error {
	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO image_descriptions (post_id, image_path, description)
		VALUES (?, ?, ?)`,
		d.PostID, d.ImagePath, d.Description,
	)
	if err != nil {
		return fmt.Errorf("saving image description for %s: %w: %w", d.PostID, ErrUnavailable, err)
	}
	return nil
}

// ImageDescriptions returns the stored descriptions for a post's images
// in insertion order.
func (s *Store) ImageDescriptions(postID string) ([]ImageDescription, error) {
	rows, err := s.db.Query(`
		SELECT post_id, image_path, description
		FROM image_descriptions WHERE post_id = ? ORDER BY id ASC`, postID)
	if err != nil {
		return nil, fmt.Errorf("querying image descriptions: %w: %w", ErrUnavailable, err)
	}
	defer rows.Close()

	var descs []ImageDescription
	for rows.Next() {
		var d ImageDescription
		if err := rows.Scan(&d.PostID, &d.ImagePath, &d.Description); err != nil {
			return nil, err
		}
		descs = append(descs, d)
	}
	return descs, rows.Err()
}

// PostsNeedingImageAnalysis returns live posts that have images but no
// stored descriptions yet, oldest first, up to limit.
func (s *Store) PostsNeedingImageAnalysis(limit int) ([]Post, error) {
	rows, err := s.db.Query(`
		SELECT `+postColumns+` FROM posts p
		WHERE p.images != '' AND p.deleted = 0
		AND NOT EXISTS (
			SELECT 1 FROM image_descriptions d WHERE d.post_id = p.post_id
		)
		ORDER BY p.id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying posts for image analysis: %w: %w", ErrUnavailable, err)
	}
	defer rows.Close()

	var posts []Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

// UntaggedPosts returns live posts with no tag assignments, newest
// first, up to limit.
func (s *Store) UntaggedPosts(limit int) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT p.post_id FROM posts p
		LEFT JOIN post_tags pt ON p.post_id = pt.post_id
		WHERE pt.post_id IS NULL AND p.deleted = 0
		ORDER BY p.id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying untagged posts: %w: %w", ErrUnavailable, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetPosts returns the live posts for the given identifiers, preserving
// the order of ids. Missing or deleted posts are silently skipped.
func (s *Store) GetPosts(ids []string) ([]Post, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	query := `SELECT ` + postColumns + ` FROM posts
		WHERE deleted = 0 AND post_id IN (?` + strings.Repeat(",?", len(ids)-1) + `)`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying posts: %w: %w", ErrUnavailable, err)
	}
	defer rows.Close()

	byID := make(map[string]Post, len(ids))
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		byID[p.PostID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	posts := make([]Post, 0, len(byID))
	for _, id := range ids {
		if p, ok := byID[id]; ok {
			posts = append(posts, p)
		}
	}
	return posts, nil
}

// CollectionStats computes counts over the live collection.
func (s *Store) CollectionStats() (Stats, error) {
	var st Stats
	queries := []struct {
		dst *int
		sql string
	}{
		{&st.TotalPosts, `SELECT COUNT(*) FROM posts WHERE deleted = 0`},
		{&st.DeletedPosts, `SELECT COUNT(*) FROM posts WHERE deleted = 1`},
		{&st.PostsWithVectors, `SELECT COUNT(DISTINCT v.post_id) FROM post_vectors v
			JOIN posts p ON v.post_id = p.post_id WHERE p.deleted = 0`},
		{&st.PostsWithImages, `SELECT COUNT(*) FROM posts WHERE images != '' AND deleted = 0`},
		{&st.PostsWithAnalyzed, `SELECT COUNT(DISTINCT d.post_id) FROM image_descriptions d
			JOIN posts p ON d.post_id = p.post_id WHERE p.deleted = 0`},
	}
	for _, q := range queries {
		if err := s.db.QueryRow(q.sql).Scan(q.dst); err != nil {
			return Stats{}, fmt.Errorf("computing stats: %w: %w", ErrUnavailable, err)
		}
	}
	return st, nil
}
