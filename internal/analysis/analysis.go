// Package analysis talks to an OpenAI-compatible model provider for
// embeddings, image description, and tag suggestion.
package analysis

import (
	"context"
	"fmt"
)

// ErrUnavailable wraps every provider failure: network errors, non-2xx
// statuses, and malformed responses. Callers treat the provider as a
// single opaque dependency that is either working or not.
var ErrUnavailable = fmt.Errorf("model provider unavailable")

// Provider is the model backend the engine depends on. Implementations
// must be safe for concurrent use.
type Provider interface {
	// Embed returns the embedding vector for text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// DescribeImage returns a textual description of the image bytes.
	// mimeType is the image's content type, e.g. "image/jpeg".
	DescribeImage(ctx context.Context, data []byte, mimeType string) (string, error)

	// SuggestTags proposes up to max lowercase topic tags for the post
	// text plus its image descriptions.
	SuggestTags(ctx context.Context, text string, imageDescriptions []string, max int) ([]string, error)
}
