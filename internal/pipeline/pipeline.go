// Package pipeline ingests post archives: parse, persist, embed, and
// optionally tag, with progress reported to the task registry.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/glimpsehq/glimpse/internal/analysis"
	"github.com/glimpsehq/glimpse/internal/retrieval"
	"github.com/glimpsehq/glimpse/internal/storage"
	"github.com/glimpsehq/glimpse/internal/task"
)

// RawPost is one post as it appears in an exported archive file.
type RawPost struct {
	PostID      string   `json:"post_id"`
	Author      string   `json:"author"`
	Text        string   `json:"text"`
	PostedAt    string   `json:"posted_at"`
	URL         string   `json:"url"`
	Images      []string `json:"images"`
	Videos      []string `json:"videos"`
	Interaction struct {
		Replies   int `json:"replies"`
		Reposts   int `json:"reposts"`
		Likes     int `json:"likes"`
		Bookmarks int `json:"bookmarks"`
		Views     int `json:"views"`
	} `json:"interaction"`
}

// PostStore is the storage surface ingestion writes through.
type PostStore interface {
	InsertPost(p storage.Post) (bool, error)
	ClearAll() error
}

// ImageFetcher downloads a remote image and returns its local filename.
type ImageFetcher interface {
	Download(ctx context.Context, url string) (string, error)
}

// Tagger assigns tags to a freshly ingested post.
type Tagger interface {
	TagPost(ctx context.Context, postID string) ([]string, error)
}

// Options configures one ingestion run.
type Options struct {
	// Dir is the directory of *.json archive files to ingest.
	Dir string
	// ClearExisting wipes posts, vectors, descriptions, and tag
	// assignments before ingesting.
	ClearExisting bool
	// AutoTag runs tag suggestion for each newly inserted post.
	AutoTag bool
}

// Result is the payload attached to a completed ingestion task.
type Result struct {
	Files    int `json:"files"`
	Total    int `json:"total"`
	Inserted int `json:"inserted"`
	Skipped  int `json:"skipped"`
	Embedded int `json:"embedded"`
	Failed   int `json:"failed"`
}

// Pipeline runs archive ingestion end to end.
type Pipeline struct {
	store    PostStore
	vectors  retrieval.VectorStore
	provider analysis.Provider
	fetcher  ImageFetcher
	tagger   Tagger
	logger   *slog.Logger
}

func New(store PostStore, vectors retrieval.VectorStore, provider analysis.Provider, fetcher ImageFetcher, tagger Tagger, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		store:    store,
		vectors:  vectors,
		provider: provider,
		fetcher:  fetcher,
		tagger:   tagger,
		logger:   logger,
	}
}

// Run ingests every archive file under opts.Dir. The first phase parses
// all files to establish the total, so progress is meaningful from the
// start; the second processes posts in file order. A post that fails to
// persist or embed is counted and skipped, never fatal. Re-running over
// the same archive is a no-op for already-ingested posts.
func (p *Pipeline) Run(ctx context.Context, opts Options, rep *task.Reporter) (Result, error) {
	files, err := filepath.Glob(filepath.Join(opts.Dir, "*.json"))
	if err != nil {
		return Result{}, fmt.Errorf("listing archive files: %w", err)
	}
	sort.Strings(files)
	if len(files) == 0 {
		return Result{}, fmt.Errorf("no archive files in %s", opts.Dir)
	}

	// Phase 1: parse everything up front and count.
	var batches [][]RawPost
	total := 0
	for _, file := range files {
		posts, err := readArchive(file)
		if err != nil {
			return Result{}, err
		}
		batches = append(batches, posts)
		total += len(posts)
	}

	msg := fmt.Sprintf("found %d posts in %d files", total, len(files))
	rep.Send(task.Update{Total: &total, Message: &msg})

	if opts.ClearExisting {
		if err := p.store.ClearAll(); err != nil {
			return Result{}, err
		}
	}

	// Phase 2: persist and embed, one post at a time.
	res := Result{Files: len(files), Total: total}
	done := 0
	for _, batch := range batches {
		for _, raw := range batch {
			if err := ctx.Err(); err != nil {
				return res, err
			}

			if err := p.ingestOne(ctx, raw, opts.AutoTag, &res); err != nil {
				p.logger.Warn("ingesting post failed", "post_id", raw.PostID, "error", err)
				res.Failed++
			}

			done++
			msg := fmt.Sprintf("processed %d/%d posts", done, total)
			rep.Send(task.Update{Progress: &done, Message: &msg})
		}
	}
	return res, nil
}

func (p *Pipeline) ingestOne(ctx context.Context, raw RawPost, autoTag bool, res *Result) error {
	if raw.PostID == "" {
		return fmt.Errorf("post without post_id")
	}

	// Fetch images first so the stored row references local filenames.
	// A failed download drops that image, not the post.
	var imageNames []string
	for _, u := range raw.Images {
		name, err := p.fetcher.Download(ctx, u)
		if err != nil {
			p.logger.Warn("image download failed", "post_id", raw.PostID, "url", u, "error", err)
			continue
		}
		imageNames = append(imageNames, name)
	}

	inserted, err := p.store.InsertPost(storage.Post{
		PostID:    raw.PostID,
		Author:    raw.Author,
		Text:      raw.Text,
		PostedAt:  raw.PostedAt,
		URL:       raw.URL,
		Replies:   raw.Interaction.Replies,
		Reposts:   raw.Interaction.Reposts,
		Likes:     raw.Interaction.Likes,
		Bookmarks: raw.Interaction.Bookmarks,
		Views:     raw.Interaction.Views,
		Images:    strings.Join(imageNames, ","),
		Videos:    strings.Join(raw.Videos, ","),
	})
	if err != nil {
		return err
	}
	if !inserted {
		res.Skipped++
		return nil
	}
	res.Inserted++

	if raw.Text != "" {
		vec, err := p.provider.Embed(ctx, raw.Text)
		if err != nil {
			return fmt.Errorf("embedding post text: %w", err)
		}
		if err := p.vectors.Put(ctx, raw.PostID, retrieval.ModalityText, vec); err != nil {
			return err
		}
		res.Embedded++
	}

	if autoTag && p.tagger != nil {
		if _, err := p.tagger.TagPost(ctx, raw.PostID); err != nil {
			// Tags are enrichment; the post is already ingested.
			p.logger.Warn("auto-tagging during ingest failed", "post_id", raw.PostID, "error", err)
		}
	}
	return nil
}

// readArchive parses one archive file. Accepts either a JSON array of
// posts or a single post object.
func readArchive(path string) ([]RawPost, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading archive %s: %w", path, err)
	}

	var posts []RawPost
	if err := json.Unmarshal(data, &posts); err == nil {
		return posts, nil
	}

	var single RawPost
	if err := json.Unmarshal(data, &single); err != nil {
		return nil, fmt.Errorf("parsing archive %s: %w", path, err)
	}
	return []RawPost{single}, nil
}
