package paths

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go-wallhaven-download/internal/models"
)

// NSFWDir is the subfolder of the wallpaper directory that receives every
// wallpaper whose purity is not sfw.
const NSFWDir = "nsfw"

// ErrInvalidName is returned for file names that would escape their folder.
var ErrInvalidName = errors.New("invalid file name")

// ValidateName rejects names containing path separators or traversal
// sequences. Storage keys are built from API supplied fields so they are
// checked before being joined onto a directory.
func ValidateName(name string) error {
	if name == "" || name == "." || name == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// TargetDir returns the folder a wallpaper of the given purity belongs in.
func TargetDir(root, purity string) string {
	if purity == models.PuritySFW {
		return root
	}
	return filepath.Join(root, NSFWDir)
}

// TargetPath returns root/[nsfw/]<storage key> for w.
func TargetPath(root string, w models.Wallpaper) (string, error) {
	key := w.StorageKey()
	if err := ValidateName(key); err != nil {
		return "", err
	}
	return filepath.Join(TargetDir(root, w.Purity), key), nil
}

// FindInSubdirs looks for a regular file called name in every immediate
// subdirectory of root. It returns the first match. An unreadable root is an
// error; unreadable subdirectories are skipped.
func FindInSubdirs(root, name string) (string, bool, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return "", false, fmt.Errorf("reading directory %s: %w", root, err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		candidate := filepath.Join(root, entry.Name(), name)
		if FileExists(candidate) {
			return candidate, true, nil
		}
	}
	return "", false, nil
}

// FileExists reports whether path names an existing regular file.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
