package retrieval

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// maxConcurrentEmbeds bounds parallel embedding calls so a large batch
// doesn't overwhelm the provider.
const maxConcurrentEmbeds = 4

// EmbedBatch embeds texts concurrently, preserving input order. The
// first failure cancels the remaining calls and is returned.
func EmbedBatch(ctx context.Context, embedder QueryEmbedder, texts []string) ([][]float32, error) {
	vecs := make([][]float32, len(texts))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentEmbeds)

	for i, text := range texts {
		g.Go(func() error {
			vec, err := embedder.Embed(ctx, text)
			if err != nil {
				return fmt.Errorf("embedding text %d: %w", i, err)
			}
			vecs[i] = vec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vecs, nil
}
