package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/glimpsehq/glimpse/internal/analysis"
	"github.com/glimpsehq/glimpse/internal/media"
	"github.com/glimpsehq/glimpse/internal/retrieval"
	"github.com/glimpsehq/glimpse/internal/storage"
	"github.com/glimpsehq/glimpse/internal/task"
)

// DefaultAnalysisLimit bounds one image-analysis run.
const DefaultAnalysisLimit = 20

// AnalysisStore is the storage surface image analysis reads and writes.
type AnalysisStore interface {
	PostsNeedingImageAnalysis(limit int) ([]storage.Post, error)
	SaveImageDescription(d storage.ImageDescription) error
}

// AnalysisResult is the payload attached to a completed image-analysis
// task.
type AnalysisResult struct {
	Posts     int `json:"posts"`
	Described int `json:"described"`
	Failed    int `json:"failed"`
}

// ImageAnalyzer describes post images and indexes the descriptions for
// retrieval.
type ImageAnalyzer struct {
	store    AnalysisStore
	vectors  retrieval.VectorStore
	provider analysis.Provider
	imageDir string
	logger   *slog.Logger
}

func NewImageAnalyzer(store AnalysisStore, vectors retrieval.VectorStore, provider analysis.Provider, imageDir string, logger *slog.Logger) *ImageAnalyzer {
	return &ImageAnalyzer{
		store:    store,
		vectors:  vectors,
		provider: provider,
		imageDir: imageDir,
		logger:   logger,
	}
}

// Run analyzes up to limit posts that have images but no stored
// descriptions yet. For each image: describe it, cache the description,
// embed it, and store the vector under the post's image:<n> modality.
// Posts whose images fail are counted and skipped.
func (a *ImageAnalyzer) Run(ctx context.Context, limit int, rep *task.Reporter) (AnalysisResult, error) {
	if limit <= 0 {
		limit = DefaultAnalysisLimit
	}

	posts, err := a.store.PostsNeedingImageAnalysis(limit)
	if err != nil {
		return AnalysisResult{}, err
	}

	total := len(posts)
	rep.Send(task.Update{Total: &total})

	var res AnalysisResult
	for i, post := range posts {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		res.Posts++
		if err := a.analyzePost(ctx, post); err != nil {
			a.logger.Warn("image analysis failed", "post_id", post.PostID, "error", err)
			res.Failed++
		} else {
			res.Described++
		}

		progress := i + 1
		msg := fmt.Sprintf("analyzed %d/%d posts", progress, total)
		rep.Send(task.Update{Progress: &progress, Message: &msg})
	}
	return res, nil
}

func (a *ImageAnalyzer) analyzePost(ctx context.Context, post storage.Post) error {
	names := post.ImagePaths()
	descs := make([]string, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(a.imageDir, name))
		if err != nil {
			return fmt.Errorf("reading image %s: %w", name, err)
		}

		desc, err := a.provider.DescribeImage(ctx, data, media.MimeTypeFor(name))
		if err != nil {
			return fmt.Errorf("describing image %s: %w", name, err)
		}

		if err := a.store.SaveImageDescription(storage.ImageDescription{
			PostID:      post.PostID,
			ImagePath:   name,
			Description: desc,
		}); err != nil {
			return err
		}
		descs = append(descs, desc)
	}

	vecs, err := retrieval.EmbedBatch(ctx, a.provider, descs)
	if err != nil {
		return fmt.Errorf("embedding descriptions for %s: %w", post.PostID, err)
	}
	for n, vec := range vecs {
		if err := a.vectors.Put(ctx, post.PostID, retrieval.ImageModality(n), vec); err != nil {
			return err
		}
	}
	return nil
}
