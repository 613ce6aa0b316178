package retrieval

import (
	"context"
	"fmt"

	"github.com/glimpsehq/glimpse/internal/storage"
)

// DefaultTopK is the result count used when a search does not specify
// one.
const DefaultTopK = 5

// ErrInvalidTopK is returned when a search asks for a negative number
// of results.
var ErrInvalidTopK = fmt.Errorf("top_k must not be negative")

// QueryEmbedder turns a search query into a vector in the same space as
// stored post vectors.
type QueryEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// PostReader provides the post details and tag data a search response
// needs.
type PostReader interface {
	GetPosts(ids []string) ([]storage.Post, error)
	PostTags(postID string) ([]storage.PostTag, error)
	PostsWithAnyTag(postIDs []string, tagIDs []int64) (map[string]bool, error)
}

// Result is one search hit: the post, its fused score, and which
// modality matched.
type Result struct {
	Post       storage.Post      `json:"post"`
	Score      float64           `json:"score"`
	MatchedVia string            `json:"matched_via"`
	Tags       []storage.PostTag `json:"tags"`
}

// Searcher runs semantic search over the vector store: embed the query,
// scan all candidate vectors, fuse per-post scores, rank, cut to top-k,
// then filter by tags when requested.
type Searcher struct {
	embedder QueryEmbedder
	vectors  VectorStore
	posts    PostReader
	topK     int
}

// NewSearcher builds a Searcher. defaultTopK is the result count used
// when a search does not specify one; values below 1 fall back to
// DefaultTopK.
func NewSearcher(embedder QueryEmbedder, vectors VectorStore, posts PostReader, defaultTopK int) *Searcher {
	if defaultTopK < 1 {
		defaultTopK = DefaultTopK
	}
	return &Searcher{embedder: embedder, vectors: vectors, posts: posts, topK: defaultTopK}
}

// Search returns the topK posts most similar to the query. topK of zero
// means the configured default; a negative topK is ErrInvalidTopK.
// includeImages brings image-description vectors into scoring alongside
// text. When tagIDs is non-empty, posts holding none of the tags are
// dropped after the top-k cut, so fewer than topK results may come back.
func (s *Searcher) Search(ctx context.Context, query string, topK int, includeImages bool, tagIDs []int64) ([]Result, error) {
	if topK < 0 {
		return nil, ErrInvalidTopK
	}
	if topK == 0 {
		topK = s.topK
	}

	qvec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	fuser := NewFuser(qvec)
	err = s.vectors.ForEach(ctx, ScanOptions{IncludeImages: includeImages}, func(postID, modality string, vec []float32) error {
		fuser.Observe(postID, modality, vec)
		return nil
	})
	if err != nil {
		return nil, err
	}

	ranked := fuser.Ranked()
	if len(ranked) > topK {
		ranked = ranked[:topK]
	}
	if len(ranked) == 0 {
		return []Result{}, nil
	}

	ids := make([]string, len(ranked))
	for i, r := range ranked {
		ids[i] = r.PostID
	}

	if len(tagIDs) > 0 {
		matched, err := s.posts.PostsWithAnyTag(ids, tagIDs)
		if err != nil {
			return nil, err
		}
		kept := ranked[:0]
		keptIDs := ids[:0]
		for _, r := range ranked {
			if matched[r.PostID] {
				kept = append(kept, r)
				keptIDs = append(keptIDs, r.PostID)
			}
		}
		ranked, ids = kept, keptIDs
		if len(ranked) == 0 {
			return []Result{}, nil
		}
	}

	posts, err := s.posts.GetPosts(ids)
	if err != nil {
		return nil, fmt.Errorf("loading result posts: %w", err)
	}
	byID := make(map[string]storage.Post, len(posts))
	for _, p := range posts {
		byID[p.PostID] = p
	}

	results := make([]Result, 0, len(ranked))
	for _, r := range ranked {
		p, ok := byID[r.PostID]
		if !ok {
			// Vector for a post that vanished between scan and fetch.
			continue
		}
		tags, err := s.posts.PostTags(r.PostID)
		if err != nil {
			return nil, fmt.Errorf("loading tags for %s: %w", r.PostID, err)
		}
		results = append(results, Result{
			Post:       p,
			Score:      r.Score,
			MatchedVia: r.Matched,
			Tags:       tags,
		})
	}
	return results, nil
}
