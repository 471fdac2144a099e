package downloader

import (
	"context"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/zeebo/blake3"
)

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n"), []byte("fake png body for the downloader tests")...)

func imageServer(t *testing.T, body []byte, contentType string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(http.StatusOK)
		w.Write(body)
	}))
	t.Cleanup(server.Close)
	return server
}

func tempEntries(t *testing.T, dir string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "*.tmp"))
	if err != nil {
		t.Fatalf("Glob failed: %v", err)
	}
	return matches
}

// TestNewDownloader tests downloader creation
func TestNewDownloader(t *testing.T) {
	httpClient := &http.Client{Timeout: 30 * time.Second}
	downloader := NewDownloader(httpClient, "test-key")

	if downloader.client != httpClient {
		t.Error("Expected downloader to store HTTP client reference")
	}
	if downloader.apiKey != "test-key" {
		t.Error("Expected downloader to store API key")
	}
}

func TestNewDownloader_NilClient(t *testing.T) {
	downloader := NewDownloader(nil, "")
	if downloader.client == nil {
		t.Fatal("Expected default HTTP client to be created")
	}
	if downloader.client.Timeout != 5*time.Minute {
		t.Errorf("Expected default timeout to be 5 minutes, got %v", downloader.client.Timeout)
	}
}

func TestDownloadFile_Success(t *testing.T) {
	server := imageServer(t, pngBytes, "image/png")
	dir := t.TempDir()
	target := filepath.Join(dir, "nsfw", "wallhaven-abc123-1920x1080.png")

	res, err := NewDownloader(server.Client(), "").DownloadFile(context.Background(), target, server.URL+"/full/ab/wallhaven-abc123.png", int64(len(pngBytes)))
	if err != nil {
		t.Fatalf("Expected success, got error: %v", err)
	}

	if res.Path != target {
		t.Errorf("Expected path %s, got %s", target, res.Path)
	}
	if res.Size != int64(len(pngBytes)) {
		t.Errorf("Expected size %d, got %d", len(pngBytes), res.Size)
	}

	sum := blake3.Sum256(pngBytes)
	if res.Checksum != hex.EncodeToString(sum[:]) {
		t.Errorf("Unexpected checksum %s", res.Checksum)
	}

	got, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("Failed to read downloaded file: %v", err)
	}
	if string(got) != string(pngBytes) {
		t.Error("Downloaded content does not match")
	}
	if left := tempEntries(t, filepath.Dir(target)); len(left) != 0 {
		t.Errorf("Temporary files left behind: %v", left)
	}
}

func TestDownloadFile_HttpStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	dir := t.TempDir()
	target := filepath.Join(dir, "wallhaven-gone-1x1.png")
	_, err := NewDownloader(server.Client(), "").DownloadFile(context.Background(), target, server.URL, 0)

	if !errors.Is(err, ErrHttpStatus) {
		t.Errorf("Expected ErrHttpStatus, got %v", err)
	}
	if _, statErr := os.Stat(target); !os.IsNotExist(statErr) {
		t.Error("Target should not exist after a failed download")
	}
}

func TestDownloadFile_SizeMismatch(t *testing.T) {
	server := imageServer(t, pngBytes, "image/png")
	dir := t.TempDir()
	target := filepath.Join(dir, "wallhaven-short-1x1.png")

	_, err := NewDownloader(server.Client(), "").DownloadFile(context.Background(), target, server.URL, int64(len(pngBytes)+100))
	if !errors.Is(err, ErrSizeMismatch) {
		t.Errorf("Expected ErrSizeMismatch, got %v", err)
	}
	if _, statErr := os.Stat(target); !os.IsNotExist(statErr) {
		t.Error("Target should not exist after a size mismatch")
	}
	if left := tempEntries(t, dir); len(left) != 0 {
		t.Errorf("Temporary files left behind: %v", left)
	}
}

func TestDownloadFile_NotAnImage(t *testing.T) {
	server := imageServer(t, []byte("<!DOCTYPE html><html><body>maintenance</body></html>"), "text/html")
	dir := t.TempDir()
	target := filepath.Join(dir, "wallhaven-html-1x1.jpg")

	_, err := NewDownloader(server.Client(), "").DownloadFile(context.Background(), target, server.URL, 0)
	if !errors.Is(err, ErrUnexpectedContent) {
		t.Errorf("Expected ErrUnexpectedContent, got %v", err)
	}
}

func TestDownloadFile_NetworkError(t *testing.T) {
	dir := t.TempDir()
	_, err := NewDownloader(&http.Client{Timeout: time.Second}, "").DownloadFile(context.Background(), filepath.Join(dir, "x.png"), "http://127.0.0.1:1/nothing", 0)
	if !errors.Is(err, ErrHttpRequest) {
		t.Errorf("Expected ErrHttpRequest, got %v", err)
	}
}

func TestDownloadFile_Cancelled(t *testing.T) {
	server := imageServer(t, pngBytes, "image/png")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dir := t.TempDir()
	_, err := NewDownloader(server.Client(), "").DownloadFile(ctx, filepath.Join(dir, "x.png"), server.URL, 0)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestDownloadFile_SendsApiKey(t *testing.T) {
	var gotKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-API-Key")
		w.Write(pngBytes)
	}))
	defer server.Close()

	dir := t.TempDir()
	if _, err := NewDownloader(server.Client(), "secret").DownloadFile(context.Background(), filepath.Join(dir, "x.png"), server.URL, 0); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if gotKey != "secret" {
		t.Errorf("Expected X-API-Key header 'secret', got %q", gotKey)
	}
}

func TestDownloadFile_UnwritableDir(t *testing.T) {
	server := imageServer(t, pngBytes, "image/png")
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0600); err != nil {
		t.Fatalf("Failed to create blocker file: %v", err)
	}

	_, err := NewDownloader(server.Client(), "").DownloadFile(context.Background(), filepath.Join(blocker, "x.png"), server.URL, 0)
	if !errors.Is(err, ErrFileSystem) {
		t.Errorf("Expected ErrFileSystem, got %v", err)
	}
}
