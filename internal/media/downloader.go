// Package media fetches and serves post images.
package media

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	fetchTimeout = 10 * time.Second
	// maxImageBytes caps a single download. Larger files are truncated
	// rather than failed; a partial image is still worth describing.
	maxImageBytes = 5 * 1024 * 1024
)

// Downloader fetches remote images into a local directory.
type Downloader struct {
	dir    string
	client *http.Client
}

// NewDownloader creates the image directory if needed.
func NewDownloader(dir string) (*Downloader, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating image directory: %w", err)
	}
	return &Downloader{
		dir:    dir,
		client: &http.Client{Timeout: fetchTimeout},
	}, nil
}

// Dir returns the directory downloads land in.
func (d *Downloader) Dir() string {
	return d.dir
}

// Download fetches rawURL and stores it under the image directory,
// returning the stored filename. A file already present for the URL is
// not re-fetched.
func (d *Downloader) Download(ctx context.Context, rawURL string) (string, error) {
	name := filenameFor(rawURL)
	dest := filepath.Join(d.dir, name)
	if _, err := os.Stat(dest); err == nil {
		return name, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("creating image request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetching image: unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return "", fmt.Errorf("reading image body: %w", err)
	}

	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return "", fmt.Errorf("writing image file: %w", err)
	}
	return name, nil
}

// filenameFor derives a stable local filename from an image URL, using
// the URL path's base name. URLs with no usable base get a random name.
func filenameFor(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return uuid.NewString() + ".jpg"
	}
	base := path.Base(u.Path)
	if base == "" || base == "." || base == "/" {
		return uuid.NewString() + ".jpg"
	}
	// Strip query-dependent suffixes some CDNs bake into the path.
	if i := strings.IndexByte(base, '?'); i >= 0 {
		base = base[:i]
	}
	return base
}

// MimeTypeFor guesses an image's content type from its filename
// extension, defaulting to JPEG.
func MimeTypeFor(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}
