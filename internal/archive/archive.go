package archive

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// ErrFileSystem wraps failures to read or move wallpapers.
var ErrFileSystem = errors.New("filesystem error")

// Result reports an archive run.
type Result struct {
	Moved int
	Total int
}

// Run moves every regular file directly inside dir whose modification time
// is older than maxAge into archiveDir. Total is the number of files in
// archiveDir afterwards. Files still being downloaded (*.tmp) are left alone.
func Run(dir, archiveDir string, maxAge time.Duration, now time.Time) (Result, error) {
	if err := os.MkdirAll(archiveDir, 0750); err != nil {
		return Result{}, fmt.Errorf("%w: creating %s: %w", ErrFileSystem, archiveDir, err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return Result{}, fmt.Errorf("%w: reading %s: %w", ErrFileSystem, dir, err)
	}

	cutoff := now.Add(-maxAge)
	var res Result
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasSuffix(e.Name(), ".tmp") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			log.WithError(err).Warnf("Skipping %s", e.Name())
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}

		src := filepath.Join(dir, e.Name())
		dst := filepath.Join(archiveDir, e.Name())
		if err := os.Rename(src, dst); err != nil {
			return res, fmt.Errorf("%w: moving %s: %w", ErrFileSystem, src, err)
		}
		log.Debugf("Archived %s", e.Name())
		res.Moved++
	}

	archived, err := os.ReadDir(archiveDir)
	if err != nil {
		return res, fmt.Errorf("%w: reading %s: %w", ErrFileSystem, archiveDir, err)
	}
	for _, e := range archived {
		if e.Type().IsRegular() {
			res.Total++
		}
	}
	return res, nil
}
