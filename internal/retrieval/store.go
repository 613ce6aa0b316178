package retrieval

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/glimpsehq/glimpse/internal/storage"
)

// ModalityText is the modality key for a post's caption embedding.
// Image-description embeddings use keys of the form "image:<n>".
const ModalityText = "text"

// ImageModality returns the modality key for the n-th image of a post.
func ImageModality(n int) string {
	return fmt.Sprintf("image:%d", n)
}

// ScanOptions controls which vector rows a scan visits.
type ScanOptions struct {
	// IncludeImages adds image-description vectors to the scan.
	// Text vectors are always included.
	IncludeImages bool
	// IncludeDeleted keeps vectors of soft-deleted posts in the scan.
	// Off by default: deleted posts are invisible to retrieval.
	IncludeDeleted bool
}

// VectorStore is the persistent mapping from (post, modality) to an
// embedding vector.
type VectorStore interface {
	// Put stores a vector. Writing to an existing (post, modality) key
	// is a no-op: vectors are immutable once stored.
	Put(ctx context.Context, postID, modality string, vec []float32) error

	// Has reports whether a vector exists for the key.
	Has(ctx context.Context, postID, modality string) (bool, error)

	// ForEach streams (post, modality, vector) rows to fn in insertion
	// order, text rows before image rows. Each call re-runs the
	// underlying query, so the scan is restartable. fn returning an
	// error stops the scan.
	ForEach(ctx context.Context, opts ScanOptions, fn func(postID, modality string, vec []float32) error) error

	// Count returns the number of stored vectors for live posts.
	Count(ctx context.Context) (int, error)
}

// Compile-time check that SQLiteVectorStore implements VectorStore.
var _ VectorStore = (*SQLiteVectorStore)(nil)

// SQLiteVectorStore keeps vectors in the post_vectors table of the main
// database, embeddings serialized as little-endian float32 blobs.
type SQLiteVectorStore struct {
	db *sql.DB
}

// NewSQLiteVectorStore wraps an existing *sql.DB for vector operations.
// The post_vectors table must already exist (created via migrations).
func NewSQLiteVectorStore(db *sql.DB) *SQLiteVectorStore {
	return &SQLiteVectorStore{db: db}
}

func (s *SQLiteVectorStore) Put(ctx context.Context, postID, modality string, vec []float32) error {
	blob := encodeFloat32s(vec)
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO post_vectors (post_id, modality, embedding)
		VALUES (?, ?, ?)`,
		postID, modality, blob)
	if err != nil {
		return fmt.Errorf("storing vector %s/%s: %w: %w", postID, modality, storage.ErrUnavailable, err)
	}
	return nil
}

func (s *SQLiteVectorStore) Has(ctx context.Context, postID, modality string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM post_vectors WHERE post_id = ? AND modality = ?`,
		postID, modality).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking vector %s/%s: %w: %w", postID, modality, storage.ErrUnavailable, err)
	}
	return true, nil
}

func (s *SQLiteVectorStore) ForEach(ctx context.Context, opts ScanOptions, fn func(postID, modality string, vec []float32) error) error {
	query := `
		SELECT v.post_id, v.modality, v.embedding
		FROM post_vectors v
		JOIN posts p ON v.post_id = p.post_id`
	var conds []string
	if !opts.IncludeDeleted {
		conds = append(conds, "p.deleted = 0")
	}
	if !opts.IncludeImages {
		conds = append(conds, "v.modality = 'text'")
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	// Text rows first so text similarity claims a post's slot in the
	// ranking before any image vector for the same post is seen.
	query += ` ORDER BY CASE WHEN v.modality = 'text' THEN 0 ELSE 1 END, v.rowid`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("querying vectors: %w: %w", storage.ErrUnavailable, err)
	}
	defer rows.Close()

	// Reusable buffer to avoid per-row allocations during scans.
	var buf []float32
	for rows.Next() {
		var postID, modality string
		var blob []byte
		if err := rows.Scan(&postID, &modality, &blob); err != nil {
			return fmt.Errorf("scanning vector row: %w", err)
		}
		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			return fmt.Errorf("decoding embedding for %s/%s: %w", postID, modality, err)
		}
		if err := fn(postID, modality, buf); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating vectors: %w: %w", storage.ErrUnavailable, err)
	}
	return nil
}

func (s *SQLiteVectorStore) Count(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM post_vectors v
		JOIN posts p ON v.post_id = p.post_id
		WHERE p.deleted = 0`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting vectors: %w: %w", storage.ErrUnavailable, err)
	}
	return count, nil
}

// DeleteAll removes every vector row. Used by the clear-existing
// ingestion mode.
func (s *SQLiteVectorStore) DeleteAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM post_vectors`); err != nil {
		return fmt.Errorf("clearing vectors: %w: %w", storage.ErrUnavailable, err)
	}
	return nil
}

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32s deserializes little-endian bytes into a new float32 slice.
// Returns an error if the byte slice length is not a multiple of 4
// (indicates data corruption).
func decodeFloat32s(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	v := make([]float32, n)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}

// decodeFloat32sInto decodes little-endian bytes into the provided buffer,
// reusing it to avoid per-row allocations during scans.
func decodeFloat32sInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	} else {
		buf = buf[:n]
	}
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}
