// Package api exposes the engine over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/glimpsehq/glimpse/internal/analysis"
	"github.com/glimpsehq/glimpse/internal/pipeline"
	"github.com/glimpsehq/glimpse/internal/retrieval"
	"github.com/glimpsehq/glimpse/internal/storage"
	"github.com/glimpsehq/glimpse/internal/tagging"
	"github.com/glimpsehq/glimpse/internal/task"
)

const maxBodySize = 1 << 20 // 1MB

// AppDeps carries the components handlers operate on.
type AppDeps struct {
	Store    *storage.Store
	Searcher *retrieval.Searcher
	Pipeline *pipeline.Pipeline
	Analyzer *pipeline.ImageAnalyzer
	Tagger   *tagging.AutoTagger
	Tasks    *task.Registry
	Logger   *slog.Logger
	// ImageDir is served read-only under /images/.
	ImageDir string
	// ArchiveDir is the default ingestion source when a process request
	// names no directory.
	ArchiveDir string
}

// NewAppHandler builds the full route tree.
func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth(deps))
	r.Handle("/images/*", http.StripPrefix("/images/", http.FileServer(http.Dir(deps.ImageDir))))

	r.Route("/api", func(r chi.Router) {
		r.Post("/search", handleSearch(deps))
		r.Post("/process", handleProcess(deps))
		r.Post("/analyze-images", handleAnalyzeImages(deps))
		r.Post("/auto-tag/batch", handleAutoTagBatch(deps))

		r.Get("/tasks", handleListTasks(deps))
		r.Get("/tasks/{id}", handleGetTask(deps))
		r.Post("/tasks/{id}/cancel", handleCancelTask(deps))

		r.Get("/posts/{id}", handleGetPost(deps))
		r.Delete("/posts/{id}", handleDeletePost(deps))
		r.Get("/posts/{id}/tags", handleListPostTags(deps))
		r.Post("/posts/{id}/tags", handleAssignTag(deps))
		r.Delete("/posts/{id}/tags/{tagID}", handleRemoveTag(deps))
		r.Post("/posts/{id}/auto-tag", handleAutoTagPost(deps))

		r.Get("/tags", handleListTags(deps))
		r.Post("/tags", handleCreateTag(deps))
		r.Put("/tags/{id}", handleUpdateTag(deps))
		r.Delete("/tags/{id}", handleDeleteTag(deps))

		r.Get("/stats", handleStats(deps))
	})

	return r
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// serviceError maps domain errors to HTTP responses.
func serviceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, task.ErrNotFound):
		httpError(w, http.StatusNotFound, "not_found_error", "%v", err)
	case errors.Is(err, retrieval.ErrInvalidTopK):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	case errors.Is(err, storage.ErrDuplicateTag), errors.Is(err, task.ErrFinished):
		httpError(w, http.StatusConflict, "invalid_request_error", "%v", err)
	case errors.Is(err, analysis.ErrUnavailable):
		httpError(w, http.StatusBadGateway, "api_error", "%v", err)
	case errors.Is(err, storage.ErrUnavailable):
		httpError(w, http.StatusServiceUnavailable, "api_error", "%v", err)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}

func handleHealth(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := deps.Store.CountPosts(); err != nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "database unavailable")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

type searchRequest struct {
	Query         string  `json:"query"`
	TopK          int     `json:"top_k"`
	IncludeImages *bool   `json:"include_images"`
	TagFilters    []int64 `json:"tag_filters"`
}

func handleSearch(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req searchRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Query == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "query is required")
			return
		}
		includeImages := req.IncludeImages == nil || *req.IncludeImages

		results, err := deps.Searcher.Search(r.Context(), req.Query, req.TopK, includeImages, req.TagFilters)
		if err != nil {
			serviceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"results": results,
			"count":   len(results),
		})
	}
}

type processRequest struct {
	Dir           string `json:"dir"`
	ClearExisting bool   `json:"clear_existing"`
	AutoTag       bool   `json:"auto_tag"`
}

func handleProcess(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req processRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Dir == "" {
			req.Dir = deps.ArchiveDir
		}
		opts := pipeline.Options{
			Dir:           req.Dir,
			ClearExisting: req.ClearExisting,
			AutoTag:       req.AutoTag,
		}

		// The task outlives the request, so it runs on the background
		// context, not the request's.
		id := task.Run(context.Background(), deps.Tasks, "process", func(ctx context.Context, id string) (any, error) {
			rep := task.NewReporter(deps.Tasks, id)
			defer rep.Close()
			return deps.Pipeline.Run(ctx, opts, rep)
		})
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "started", "task_id": id})
	}
}

type limitRequest struct {
	Limit int `json:"limit"`
}

func handleAnalyzeImages(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req limitRequest
		if !decodeBody(w, r, &req) {
			return
		}

		id := task.Run(context.Background(), deps.Tasks, "analyze-images", func(ctx context.Context, id string) (any, error) {
			rep := task.NewReporter(deps.Tasks, id)
			defer rep.Close()
			return deps.Analyzer.Run(ctx, req.Limit, rep)
		})
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "started", "task_id": id})
	}
}

// maxAutoTagBatch caps one batch run so a single request cannot hold the
// provider budget for the whole collection.
const maxAutoTagBatch = 200

func handleAutoTagBatch(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req limitRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Limit > maxAutoTagBatch {
			req.Limit = maxAutoTagBatch
		}

		id := task.Run(context.Background(), deps.Tasks, "auto-tag", func(ctx context.Context, id string) (any, error) {
			rep := task.NewReporter(deps.Tasks, id)
			defer rep.Close()
			return deps.Tagger.TagBatch(ctx, req.Limit, rep)
		})
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "started", "task_id": id})
	}
}

func handleListTasks(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"tasks": deps.Tasks.List()})
	}
}

// taskView adds the computed percentage to a task snapshot.
type taskView struct {
	task.Task
	Percentage float64 `json:"percentage"`
}

func handleGetTask(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, err := deps.Tasks.Get(chi.URLParam(r, "id"))
		if err != nil {
			serviceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, taskView{Task: t, Percentage: t.Percentage()})
	}
}

func handleCancelTask(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := deps.Tasks.Cancel(id); err != nil {
			serviceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
	}
}

func handleGetPost(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		post, err := deps.Store.GetPost(id)
		if err != nil {
			serviceError(w, err)
			return
		}
		tags, err := deps.Store.PostTags(id)
		if err != nil {
			serviceError(w, err)
			return
		}
		descs, err := deps.Store.ImageDescriptions(id)
		if err != nil {
			serviceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"post":               post,
			"tags":               tags,
			"image_descriptions": descs,
		})
	}
}

func handleDeletePost(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Store.SoftDeletePost(chi.URLParam(r, "id")); err != nil {
			serviceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func parseTagID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid tag id")
		return 0, false
	}
	return id, true
}

func handleListPostTags(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		postID := chi.URLParam(r, "id")
		if _, err := deps.Store.GetPost(postID); err != nil {
			serviceError(w, err)
			return
		}
		tags, err := deps.Store.PostTags(postID)
		if err != nil {
			serviceError(w, err)
			return
		}
		if tags == nil {
			tags = []storage.PostTag{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"tags": tags})
	}
}

type assignTagRequest struct {
	TagID int64 `json:"tag_id"`
}

func handleAssignTag(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req assignTagRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.TagID == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "tag_id is required")
			return
		}
		postID := chi.URLParam(r, "id")
		if _, err := deps.Store.GetPost(postID); err != nil {
			serviceError(w, err)
			return
		}
		added, err := deps.Store.AssignTag(postID, req.TagID, 1.0, "manual")
		if err != nil {
			serviceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"added": added})
	}
}

func handleRemoveTag(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tagID, ok := parseTagID(w, r, "tagID")
		if !ok {
			return
		}
		if err := deps.Store.RemoveTag(chi.URLParam(r, "id"), tagID); err != nil {
			serviceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
	}
}

func handleAutoTagPost(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		names, err := deps.Tagger.TagPost(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			serviceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"tags": names})
	}
}

func handleListTags(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tags, err := deps.Store.ListTags()
		if err != nil {
			serviceError(w, err)
			return
		}
		if tags == nil {
			tags = []storage.Tag{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"tags": tags})
	}
}

type tagRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Color       string `json:"color"`
}

func handleCreateTag(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req tagRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Name == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "name is required")
			return
		}
		tag, err := deps.Store.CreateTag(req.Name, req.Description, req.Color)
		if err != nil {
			serviceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, tag)
	}
}

func handleUpdateTag(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseTagID(w, r, "id")
		if !ok {
			return
		}
		var req tagRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Name == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "name is required")
			return
		}
		if err := deps.Store.UpdateTag(id, req.Name, req.Description, req.Color); err != nil {
			serviceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
	}
}

func handleDeleteTag(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseTagID(w, r, "id")
		if !ok {
			return
		}
		if err := deps.Store.DeleteTag(id); err != nil {
			serviceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func handleStats(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := deps.Store.CollectionStats()
		if err != nil {
			serviceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}
