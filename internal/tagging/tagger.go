// Package tagging assigns topic tags to posts using model suggestions.
package tagging

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/glimpsehq/glimpse/internal/analysis"
	"github.com/glimpsehq/glimpse/internal/storage"
	"github.com/glimpsehq/glimpse/internal/task"
)

const (
	// MaxTagsPerPost caps how many tags one post receives automatically.
	MaxTagsPerPost = 5
	// autoConfidence is the confidence recorded for model-assigned tags,
	// distinguishing them from manual assignments at 1.0.
	autoConfidence = 0.8

	// DefaultBatchLimit bounds one batch-tagging run.
	DefaultBatchLimit = 50
)

// TagStore is the storage surface auto-tagging needs.
type TagStore interface {
	GetPost(postID string) (storage.Post, error)
	ImageDescriptions(postID string) ([]storage.ImageDescription, error)
	GetOrCreateTag(name, description string) (int64, error)
	AssignTag(postID string, tagID int64, confidence float64, assignedBy string) (bool, error)
	UntaggedPosts(limit int) ([]string, error)
}

// AutoTagger suggests and assigns tags for posts.
type AutoTagger struct {
	store    TagStore
	provider analysis.Provider
	logger   *slog.Logger
}

func NewAutoTagger(store TagStore, provider analysis.Provider, logger *slog.Logger) *AutoTagger {
	return &AutoTagger{store: store, provider: provider, logger: logger}
}

// TagPost asks the model for tags based on the post's text and any
// stored image descriptions, then assigns them. Tag names resolve
// case-insensitively, so repeated runs reuse existing tags. Returns the
// assigned tag names.
func (a *AutoTagger) TagPost(ctx context.Context, postID string) ([]string, error) {
	post, err := a.store.GetPost(postID)
	if err != nil {
		return nil, err
	}

	descs, err := a.store.ImageDescriptions(postID)
	if err != nil {
		return nil, err
	}
	descTexts := make([]string, len(descs))
	for i, d := range descs {
		descTexts[i] = d.Description
	}

	names, err := a.provider.SuggestTags(ctx, post.Text, descTexts, MaxTagsPerPost)
	if err != nil {
		return nil, fmt.Errorf("suggesting tags for %s: %w", postID, err)
	}

	var assigned []string
	for _, name := range names {
		tagID, err := a.store.GetOrCreateTag(name, "")
		if err != nil {
			return assigned, err
		}
		if _, err := a.store.AssignTag(postID, tagID, autoConfidence, "auto"); err != nil {
			return assigned, err
		}
		assigned = append(assigned, name)
	}
	return assigned, nil
}

// BatchResult summarizes one batch-tagging run.
type BatchResult struct {
	Processed int `json:"processed"`
	Tagged    int `json:"tagged"`
	Failed    int `json:"failed"`
}

// TagBatch tags up to limit untagged posts, reporting progress as it
// goes. Individual post failures are logged and counted, not fatal.
func (a *AutoTagger) TagBatch(ctx context.Context, limit int, rep *task.Reporter) (BatchResult, error) {
	if limit <= 0 {
		limit = DefaultBatchLimit
	}

	ids, err := a.store.UntaggedPosts(limit)
	if err != nil {
		return BatchResult{}, err
	}

	total := len(ids)
	rep.Send(task.Update{Total: &total})

	var res BatchResult
	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		res.Processed++
		if _, err := a.TagPost(ctx, id); err != nil {
			a.logger.Warn("auto-tagging post failed", "post_id", id, "error", err)
			res.Failed++
		} else {
			res.Tagged++
		}

		progress := i + 1
		msg := fmt.Sprintf("tagged %d/%d posts", progress, total)
		rep.Send(task.Update{Progress: &progress, Message: &msg})
	}
	return res, nil
}
