package helpers

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/zeebo/blake3"
)

// SanitizePath cleans a path and drops any leading ".." segments of a
// relative path so it cannot climb out of the working directory.
func SanitizePath(path string) string {
	cleaned := filepath.Clean(path)
	if filepath.IsAbs(cleaned) {
		return cleaned
	}
	parent := ".." + string(filepath.Separator)
	for strings.HasPrefix(cleaned, parent) {
		cleaned = strings.TrimPrefix(cleaned, parent)
	}
	if cleaned == ".." {
		return "."
	}
	return cleaned
}

// CheckAndMakeDir ensures dir exists, creating it and its parents when
// needed. It returns false when the directory could not be created.
func CheckAndMakeDir(dir string) bool {
	safeDir := SanitizePath(dir)
	if err := os.MkdirAll(safeDir, 0750); err != nil {
		log.WithError(err).Errorf("Error creating directory %s", safeDir)
		return false
	}
	return true
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		log.WithError(err).Warn("Could not determine home directory")
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// CounterWriter counts the bytes written through it.
type CounterWriter struct {
	Writer io.Writer
	Total  uint64
}

func (cw *CounterWriter) Write(p []byte) (int, error) {
	n, err := cw.Writer.Write(p)
	cw.Total += uint64(n)
	return n, err
}

// NewHasher returns the hash used for wallpaper checksums.
func NewHasher() *blake3.Hasher {
	return blake3.New()
}

// HashFile returns the hex encoded BLAKE3 checksum of the file at path.
func HashFile(path string) (string, error) {
	f, err := os.Open(SanitizePath(path))
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	h := NewHasher()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
