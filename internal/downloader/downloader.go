package downloader

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go-wallhaven-download/internal/helpers"

	"github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"
)

// Custom Downloader Errors
var (
	ErrSizeMismatch      = errors.New("downloaded file size mismatch")
	ErrUnexpectedContent = errors.New("downloaded content is not an image")
	ErrHttpStatus        = errors.New("unexpected HTTP status code")
	ErrFileSystem        = errors.New("filesystem error") // Covers create, remove, rename
	ErrHttpRequest       = errors.New("HTTP request creation/execution error")
)

// Result describes a completed download.
type Result struct {
	Path     string
	Size     int64
	Checksum string
}

// Downloader fetches wallpaper images into place.
type Downloader struct {
	client *http.Client
	apiKey string
}

// NewDownloader creates a new Downloader instance.
func NewDownloader(client *http.Client, apiKey string) *Downloader {
	if client == nil {
		client = &http.Client{
			Timeout: 5 * time.Minute,
		}
	}
	return &Downloader{
		client: client,
		apiKey: apiKey,
	}
}

func (d *Downloader) createHTTPRequest(ctx context.Context, url string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: creating download request for %s: %w", ErrHttpRequest, url, err)
	}
	if d.apiKey != "" {
		req.Header.Set("X-API-Key", d.apiKey)
	}
	return req, nil
}

// DownloadFile streams url into targetFilepath through a temporary file in
// the same directory, so the target only ever appears complete. A positive
// expectedSize is checked against the bytes received.
func (d *Downloader) DownloadFile(ctx context.Context, targetFilepath string, url string, expectedSize int64) (Result, error) {
	targetDir := filepath.Dir(targetFilepath)
	if !helpers.CheckAndMakeDir(targetDir) {
		return Result{}, fmt.Errorf("%w: failed to create target directory %s", ErrFileSystem, targetDir)
	}

	req, err := d.createHTTPRequest(ctx, url)
	if err != nil {
		return Result{}, err
	}

	resp, err := d.client.Do(req)
	if err != nil {
		log.WithError(err).Errorf("Error performing download request from %s", url)
		return Result{}, fmt.Errorf("%w: performing request for %s: %w", ErrHttpRequest, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Errorf("Error downloading file: Received status code %d from %s", resp.StatusCode, url)
		return Result{}, fmt.Errorf("%w: received status %d from %s", ErrHttpStatus, resp.StatusCode, url)
	}

	tempFile, err := os.CreateTemp(targetDir, filepath.Base(targetFilepath)+".*.tmp")
	if err != nil {
		return Result{}, fmt.Errorf("%w: creating temporary file for %s: %w", ErrFileSystem, targetFilepath, err)
	}

	shouldCleanupTemp := true
	defer func() {
		if shouldCleanupTemp {
			log.Debugf("Cleaning up temporary file %s", tempFile.Name())
			if removeErr := os.Remove(tempFile.Name()); removeErr != nil && !os.IsNotExist(removeErr) {
				log.WithError(removeErr).Warnf("Failed to remove temporary file %s", tempFile.Name())
			}
		}
	}()

	size, checksum, err := downloadToTemp(resp, tempFile, targetFilepath)
	if err != nil {
		return Result{}, err
	}

	if expectedSize > 0 && size != expectedSize {
		return Result{}, fmt.Errorf("%w: got %d bytes, expected %d for %s", ErrSizeMismatch, size, expectedSize, url)
	}

	if err := checkIsImage(tempFile.Name()); err != nil {
		return Result{}, err
	}

	if err := os.Rename(tempFile.Name(), targetFilepath); err != nil {
		return Result{}, fmt.Errorf("%w: renaming temporary file %s to %s: %w", ErrFileSystem, tempFile.Name(), targetFilepath, err)
	}
	shouldCleanupTemp = false

	log.Debugf("Saved %s (%s)", targetFilepath, humanize.IBytes(uint64(size)))
	return Result{Path: targetFilepath, Size: size, Checksum: checksum}, nil
}

// downloadToTemp copies the body into tempFile, hashing it on the way, and
// closes the file.
func downloadToTemp(resp *http.Response, tempFile *os.File, targetPath string) (int64, string, error) {
	hasher := helpers.NewHasher()
	counter := &helpers.CounterWriter{Writer: io.MultiWriter(tempFile, hasher)}

	log.Debugf("Downloading to %s (Target: %s, Size: %s)...",
		tempFile.Name(),
		targetPath,
		humanize.IBytes(uint64(max(resp.ContentLength, 0))),
	)

	if _, err := io.Copy(counter, resp.Body); err != nil {
		_ = tempFile.Close()
		return 0, "", fmt.Errorf("%w: writing to temporary file %s: %w", ErrHttpRequest, tempFile.Name(), err)
	}

	if err := tempFile.Close(); err != nil {
		return 0, "", fmt.Errorf("%w: closing temporary file %s: %w", ErrFileSystem, tempFile.Name(), err)
	}

	return int64(counter.Total), hex.EncodeToString(hasher.Sum(nil)), nil
}

// checkIsImage sniffs the first bytes of path and rejects anything that is
// not an image, such as an HTML error page served with status 200.
func checkIsImage(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: opening temp file for mime detection: %w", ErrFileSystem, err)
	}
	defer f.Close()

	buffer := make([]byte, 512)
	n, err := f.Read(buffer)
	if err != nil && err != io.EOF {
		return fmt.Errorf("%w: reading temp file for mime detection: %w", ErrFileSystem, err)
	}

	mimeType := http.DetectContentType(buffer[:n])
	if !strings.HasPrefix(mimeType, "image/") {
		return fmt.Errorf("%w: detected %s", ErrUnexpectedContent, mimeType)
	}
	return nil
}
