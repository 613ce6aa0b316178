package media

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestDownload(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte("imagedata"))
	}))
	defer srv.Close()

	d, err := NewDownloader(t.TempDir())
	if err != nil {
		t.Fatalf("NewDownloader: %v", err)
	}

	name, err := d.Download(context.Background(), srv.URL+"/media/pic.jpg")
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if name != "pic.jpg" {
		t.Errorf("name = %q, want pic.jpg", name)
	}

	data, err := os.ReadFile(filepath.Join(d.Dir(), name))
	if err != nil {
		t.Fatalf("reading downloaded file: %v", err)
	}
	if string(data) != "imagedata" {
		t.Errorf("content = %q", data)
	}

	// Already on disk: no second fetch.
	if _, err := d.Download(context.Background(), srv.URL+"/media/pic.jpg"); err != nil {
		t.Fatalf("Download (cached): %v", err)
	}
	if hits != 1 {
		t.Errorf("server hit %d times, want 1", hits)
	}
}

func TestDownload_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	d, err := NewDownloader(t.TempDir())
	if err != nil {
		t.Fatalf("NewDownloader: %v", err)
	}
	if _, err := d.Download(context.Background(), srv.URL+"/gone.jpg"); err == nil {
		t.Error("want error for 404 response")
	}
}

func TestFilenameFor(t *testing.T) {
	cases := []struct {
		url  string
		want string
	}{
		{"https://cdn.example.com/media/abc123.jpg", "abc123.jpg"},
		{"https://cdn.example.com/media/abc123.png?name=large", "abc123.png"},
	}
	for _, tc := range cases {
		if got := filenameFor(tc.url); got != tc.want {
			t.Errorf("filenameFor(%q) = %q, want %q", tc.url, got, tc.want)
		}
	}

	// No usable base name: random but usable.
	if got := filenameFor("https://cdn.example.com/"); got == "" || got == "/" {
		t.Errorf("filenameFor(root) = %q", got)
	}
}

func TestMimeTypeFor(t *testing.T) {
	cases := map[string]string{
		"a.png":  "image/png",
		"b.GIF":  "image/gif",
		"c.webp": "image/webp",
		"d.jpg":  "image/jpeg",
		"e":      "image/jpeg",
	}
	for name, want := range cases {
		if got := MimeTypeFor(name); got != want {
			t.Errorf("MimeTypeFor(%q) = %q, want %q", name, got, want)
		}
	}
}
