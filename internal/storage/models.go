package storage

import (
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned when a requested record does not exist or has
// been soft-deleted.
var ErrNotFound = errors.New("not found")

// ErrUnavailable is returned when the underlying store cannot be reached.
// Callers must not assume partial writes succeeded once they see it.
var ErrUnavailable = errors.New("storage unavailable")

// Post is a stored content unit: short text plus zero or more images.
// Posts are created once on ingestion and never mutated afterwards,
// except for the soft-delete flag.
type Post struct {
	PostID    string    `json:"post_id"`
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	PostedAt  string    `json:"posted_at"` // ISO timestamp as exported, kept verbatim
	URL       string    `json:"url"`
	Replies   int       `json:"replies"`
	Reposts   int       `json:"reposts"`
	Likes     int       `json:"likes"`
	Bookmarks int       `json:"bookmarks"`
	Views     int       `json:"views"`
	Images    string    `json:"images"` // comma-separated local image paths
	Videos    string    `json:"videos"`
	Deleted   bool      `json:"deleted"`
	CreatedAt time.Time `json:"created_at"`
}

// ImagePaths splits the comma-separated images column, dropping empties.
func (p Post) ImagePaths() []string {
	if p.Images == "" {
		return nil
	}
	var paths []string
	for _, part := range strings.Split(p.Images, ",") {
		if part != "" {
			paths = append(paths, part)
		}
	}
	return paths
}

// Tag is a named category. Names are unique case-insensitively.
type Tag struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Color       string    `json:"color"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	PostCount   int       `json:"post_count"` // usage count, populated by ListTags
}

// PostTag is a (post, tag) assignment with its confidence and provenance.
type PostTag struct {
	Tag
	Confidence float64   `json:"confidence"`
	AssignedBy string    `json:"assigned_by"` // "manual" or "auto"
	AssignedAt time.Time `json:"assigned_at"`
}

// ImageDescription is the provider-generated text for one post image.
type ImageDescription struct {
	PostID      string `json:"post_id"`
	ImagePath   string `json:"image_path"`
	Description string `json:"description"`
}

// Stats summarizes the collection, excluding soft-deleted posts.
type Stats struct {
	TotalPosts        int `json:"total_posts"`
	DeletedPosts      int `json:"deleted_posts"`
	PostsWithVectors  int `json:"posts_with_vectors"`
	PostsWithImages   int `json:"posts_with_images"`
	PostsWithAnalyzed int `json:"posts_with_image_analysis"`
}
