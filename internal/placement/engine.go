package placement

import (
	"context"
	"errors"
	"fmt"

	"go-wallhaven-download/internal/database"
	"go-wallhaven-download/internal/downloader"
	"go-wallhaven-download/internal/models"
	"go-wallhaven-download/internal/paths"

	log "github.com/sirupsen/logrus"
)

var (
	// ErrFileSystem is returned when the wallpaper directory cannot be read.
	ErrFileSystem = errors.New("filesystem error")
	// ErrItem marks a failure confined to a single wallpaper. Callers may
	// skip the item and carry on.
	ErrItem = errors.New("wallpaper could not be placed")
)

// Kind classifies the result of Consider.
type Kind int

const (
	AlreadyRecorded Kind = iota + 1
	AlreadyOnDisk
	Accepted
)

func (k Kind) String() string {
	switch k {
	case AlreadyRecorded:
		return "already-recorded"
	case AlreadyOnDisk:
		return "already-on-disk"
	case Accepted:
		return "accepted"
	default:
		return "unknown"
	}
}

// Outcome is the decision taken for one wallpaper.
type Outcome struct {
	Kind     Kind
	Key      string
	Path     string
	Size     int64
	Checksum string
}

// Store is the subset of the record store the engine needs.
type Store interface {
	Get(key string) (models.Wallpaper, error)
	Put(key string, w models.Wallpaper) error
}

// Fetcher writes a remote image to a local path.
type Fetcher interface {
	DownloadFile(ctx context.Context, targetFilepath string, url string, expectedSize int64) (downloader.Result, error)
}

// Engine decides whether a wallpaper is new and places it on disk.
type Engine struct {
	store             Store
	fetcher           Fetcher
	recordBeforeWrite bool
}

// NewEngine creates an Engine. With recordBeforeWrite the record is stored
// before any filesystem check or transfer, so a failed transfer is never
// retried by later runs. Otherwise a wallpaper is recorded only once its file
// is known to be on disk.
func NewEngine(store Store, fetcher Fetcher, recordBeforeWrite bool) *Engine {
	return &Engine{store: store, fetcher: fetcher, recordBeforeWrite: recordBeforeWrite}
}

// Consider runs the dedup decision for item against the record store and the
// directory tree under root.
func (e *Engine) Consider(ctx context.Context, item models.Wallpaper, root string) (Outcome, error) {
	key := item.StorageKey()
	logger := log.WithField("key", key)

	target, err := paths.TargetPath(root, item)
	if err != nil {
		return Outcome{Key: key}, fmt.Errorf("%w: %w", ErrItem, err)
	}

	_, err = e.store.Get(key)
	switch {
	case err == nil:
		logger.Debug("Already recorded, skipping")
		return Outcome{Kind: AlreadyRecorded, Key: key}, nil
	case !errors.Is(err, database.ErrNotFound):
		return Outcome{Key: key}, fmt.Errorf("looking up %s: %w", key, err)
	}

	if e.recordBeforeWrite {
		if err := e.store.Put(key, item); err != nil {
			return Outcome{Key: key}, fmt.Errorf("recording %s: %w", key, err)
		}
	}

	if existing, found, err := paths.FindInSubdirs(root, key); err != nil {
		return Outcome{Key: key}, fmt.Errorf("%w: %w", ErrFileSystem, err)
	} else if found {
		logger.Debugf("Found on disk at %s", existing)
		return e.record(Outcome{Kind: AlreadyOnDisk, Key: key, Path: existing}, item)
	}

	if paths.FileExists(target) {
		logger.Debugf("Target %s already exists", target)
		return e.record(Outcome{Kind: AlreadyOnDisk, Key: key, Path: target}, item)
	}

	if item.Path == "" {
		return Outcome{Key: key}, fmt.Errorf("%w: %s has no image URL", ErrItem, key)
	}

	res, err := e.fetcher.DownloadFile(ctx, target, item.Path, item.FileSize)
	if err != nil {
		return Outcome{Key: key}, fmt.Errorf("%w: %s: %w", ErrItem, key, err)
	}

	logger.WithField("blake3", res.Checksum).Infof("Saved %s", res.Path)
	return e.record(Outcome{Kind: Accepted, Key: key, Path: res.Path, Size: res.Size, Checksum: res.Checksum}, item)
}

func (e *Engine) record(out Outcome, item models.Wallpaper) (Outcome, error) {
	if e.recordBeforeWrite {
		return out, nil
	}
	if err := e.store.Put(out.Key, item); err != nil {
		return out, fmt.Errorf("recording %s: %w", out.Key, err)
	}
	return out, nil
}
