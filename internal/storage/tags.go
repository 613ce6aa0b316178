package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// ErrDuplicateTag is returned when creating a tag whose name already
// exists (names are compared case-insensitively).
var ErrDuplicateTag = fmt.Errorf("tag name already exists")

func parseDBTime(s string) time.Time {
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return time.Time{}
}

// CreateTag inserts a new tag and returns it with its assigned ID.
func (s *Store) CreateTag(name, description, color string) (Tag, error) {
	if color == "" {
		color = "#007bff"
	}
	res, err := s.db.Exec(`INSERT INTO tags (name, description, color) VALUES (?, ?, ?)`,
		name, description, color)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return Tag{}, ErrDuplicateTag
		}
		return Tag{}, fmt.Errorf("creating tag %q: %w: %w", name, ErrUnavailable, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Tag{}, err
	}
	return Tag{ID: id, Name: name, Description: description, Color: color}, nil
}

// GetOrCreateTag returns the ID of the tag with the given name,
// creating it when absent. Lookup is case-insensitive, so "AI" and
// "ai" resolve to the same tag.
func (s *Store) GetOrCreateTag(name, description string) (int64, error) {
	var id int64
	err := s.db.QueryRow(`SELECT id FROM tags WHERE name = ? COLLATE NOCASE`, name).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("looking up tag %q: %w: %w", name, ErrUnavailable, err)
	}

	t, err := s.CreateTag(name, description, "")
	if err == ErrDuplicateTag {
		// Raced with a concurrent creator; the row exists now.
		if err := s.db.QueryRow(`SELECT id FROM tags WHERE name = ? COLLATE NOCASE`, name).Scan(&id); err != nil {
			return 0, fmt.Errorf("re-reading tag %q: %w", name, err)
		}
		return id, nil
	}
	if err != nil {
		return 0, err
	}
	return t.ID, nil
}

// UpdateTag rewrites a tag's name, description, and color.
func (s *Store) UpdateTag(id int64, name, description, color string) error {
	res, err := s.db.Exec(`
		UPDATE tags SET name = ?, description = ?, color = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, name, description, color, id)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return ErrDuplicateTag
		}
		return fmt.Errorf("updating tag %d: %w: %w", id, ErrUnavailable, err)
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

// DeleteTag removes a tag and, via cascade, all its assignments.
func (s *Store) DeleteTag(id int64) error {
	res, err := s.db.Exec(`DELETE FROM tags WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting tag %d: %w: %w", id, ErrUnavailable, err)
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

// ListTags returns all tags ordered by name, each with its usage count
// over live posts.
func (s *Store) ListTags() ([]Tag, error) {
	rows, err := s.db.Query(`
		SELECT t.id, t.name, t.description, t.color, t.created_at, t.updated_at,
		       COUNT(p.post_id) AS post_count
		FROM tags t
		LEFT JOIN post_tags pt ON t.id = pt.tag_id
		LEFT JOIN posts p ON pt.post_id = p.post_id AND p.deleted = 0
		GROUP BY t.id
		ORDER BY t.name`)
	if err != nil {
		return nil, fmt.Errorf("listing tags: %w: %w", ErrUnavailable, err)
	}
	defer rows.Close()

	var tags []Tag
	for rows.Next() {
		var t Tag
		var createdAt, updatedAt string
		if err := rows.Scan(&t.ID, &t.Name, &t.Description, &t.Color, &createdAt, &updatedAt, &t.PostCount); err != nil {
			return nil, err
		}
		t.CreatedAt = parseDBTime(createdAt)
		t.UpdatedAt = parseDBTime(updatedAt)
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

// AssignTag associates a tag with a post. Assigning an already-assigned
// tag is a no-op, not an error; the bool reports whether a new
// assignment was written.
func (s *Store) AssignTag(postID string, tagID int64, confidence float64, assignedBy string) (bool, error) {
	res, err := s.db.Exec(`
		INSERT OR IGNORE INTO post_tags (post_id, tag_id, confidence, assigned_by)
		VALUES (?, ?, ?, ?)`,
		postID, tagID, confidence, assignedBy)
	if err != nil {
		return false, fmt.Errorf("assigning tag %d to %s: %w: %w", tagID, postID, ErrUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// RemoveTag deletes a (post, tag) assignment.
func (s *Store) RemoveTag(postID string, tagID int64) error {
	res, err := s.db.Exec(`DELETE FROM post_tags WHERE post_id = ? AND tag_id = ?`, postID, tagID)
	if err != nil {
		return fmt.Errorf("removing tag %d from %s: %w: %w", tagID, postID, ErrUnavailable, err)
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

// PostTags returns a post's tags with confidence and provenance,
// ordered by tag name.
func (s *Store) PostTags(postID string) ([]PostTag, error) {
	rows, err := s.db.Query(`
		SELECT t.id, t.name, t.description, t.color, t.created_at, t.updated_at,
		       pt.confidence, pt.assigned_by, pt.assigned_at
		FROM tags t
		JOIN post_tags pt ON t.id = pt.tag_id
		WHERE pt.post_id = ?
		ORDER BY t.name`, postID)
	if err != nil {
		return nil, fmt.Errorf("querying post tags: %w: %w", ErrUnavailable, err)
	}
	defer rows.Close()

	var tags []PostTag
	for rows.Next() {
		var pt PostTag
		var createdAt, updatedAt, assignedAt string
		if err := rows.Scan(&pt.ID, &pt.Name, &pt.Description, &pt.Color, &createdAt, &updatedAt,
			&pt.Confidence, &pt.AssignedBy, &assignedAt); err != nil {
			return nil, err
		}
		pt.CreatedAt = parseDBTime(createdAt)
		pt.UpdatedAt = parseDBTime(updatedAt)
		pt.AssignedAt = parseDBTime(assignedAt)
		tags = append(tags, pt)
	}
	return tags, rows.Err()
}

// PostsWithAnyTag reports, for each of the given posts, whether it
// holds at least one of the requested tags.
func (s *Store) PostsWithAnyTag(postIDs []string, tagIDs []int64) (map[string]bool, error) {
	if len(postIDs) == 0 || len(tagIDs) == 0 {
		return map[string]bool{}, nil
	}

	args := make([]any, 0, len(postIDs)+len(tagIDs))
	for _, id := range postIDs {
		args = append(args, id)
	}
	for _, id := range tagIDs {
		args = append(args, id)
	}
	query := `SELECT DISTINCT post_id FROM post_tags
		WHERE post_id IN (?` + strings.Repeat(",?", len(postIDs)-1) + `)
		AND tag_id IN (?` + strings.Repeat(",?", len(tagIDs)-1) + `)`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying tag matches: %w: %w", ErrUnavailable, err)
	}
	defer rows.Close()

	matched := make(map[string]bool, len(postIDs))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		matched[id] = true
	}
	return matched, rows.Err()
}
