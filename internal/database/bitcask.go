package database

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go-wallhaven-download/internal/models"

	"git.mills.io/prologic/bitcask"
	log "github.com/sirupsen/logrus"
)

var (
	// ErrNotFound is returned when a key is not found in the database.
	ErrNotFound = errors.New("key not found")
	// ErrDecode is returned when a stored value cannot be decoded. It is an
	// integrity failure and never means the key is absent.
	ErrDecode = errors.New("stored record is corrupt")
	// ErrBackend wraps I/O failures of the underlying store.
	ErrBackend = errors.New("database backend error")
	// ErrLocked is returned when another process holds the database.
	ErrLocked = errors.New("database is locked by another process")
)

const (
	wallpaperRegion = "wallpaper_db"
	summaryRegion   = "summary_db"

	lastRunKey = "last_run"

	maxKeySize   = 256
	maxValueSize = 1 << 20
)

// DB wraps the bitcask regions and provides typed helper methods.
type DB struct {
	wallpapers *bitcask.Bitcask
	summary    *bitcask.Bitcask
	sync.RWMutex
	closeOnce sync.Once
	closed    bool
	closeErr  error
}

// Open initializes the wallpaper and summary regions under dir.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("%w: failed to create database directory %s: %v", ErrBackend, dir, err)
	}

	wallpapers, err := openRegion(filepath.Join(dir, wallpaperRegion))
	if err != nil {
		return nil, err
	}

	summary, err := openRegion(filepath.Join(dir, summaryRegion))
	if err != nil {
		wallpapers.Close()
		return nil, err
	}

	log.Infof("Database opened successfully at %s", dir)
	return &DB{wallpapers: wallpapers, summary: summary}, nil
}

func openRegion(path string) (*bitcask.Bitcask, error) {
	b, err := bitcask.Open(path,
		bitcask.WithMaxKeySize(maxKeySize),
		bitcask.WithMaxValueSize(maxValueSize),
	)
	if errors.Is(err, bitcask.ErrDatabaseLocked) {
		return nil, fmt.Errorf("%w: %s", ErrLocked, path)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open %s: %v", ErrBackend, path, err)
	}
	return b, nil
}

// Close safely closes both regions.
func (d *DB) Close() error {
	d.closeOnce.Do(func() {
		log.Debug("Closing database...")
		d.Lock()
		defer d.Unlock()

		d.closeErr = errors.Join(d.wallpapers.Close(), d.summary.Close())
		d.closed = true

		if d.closeErr != nil {
			log.Errorf("Error during database close operation: %v", d.closeErr)
		} else {
			log.Debug("Database closed successfully.")
		}
	})

	return d.closeErr
}

// Has checks if a key exists in the database.
func (d *DB) Has(key string) bool {
	d.RLock()
	defer d.RUnlock()
	if d.closed {
		return false
	}
	return d.wallpapers.Has([]byte(key))
}

// Get retrieves and decodes the wallpaper stored under key.
func (d *DB) Get(key string) (models.Wallpaper, error) {
	raw, err := d.GetRaw(key)
	if err != nil {
		return models.Wallpaper{}, err
	}
	return decode(key, raw)
}

// GetRaw returns the stored bytes without decoding them.
func (d *DB) GetRaw(key string) ([]byte, error) {
	d.RLock()
	defer d.RUnlock()
	if d.closed {
		return nil, fmt.Errorf("%w: database is closed", ErrBackend)
	}

	raw, err := d.wallpapers.Get([]byte(key))
	if errors.Is(err, bitcask.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading key %s: %v", ErrBackend, key, err)
	}
	return raw, nil
}

// Put serializes the wallpaper and stores it under key, overwriting any
// previous value.
func (d *DB) Put(key string, w models.Wallpaper) error {
	data, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("%w: encoding key %s: %v", ErrBackend, key, err)
	}

	d.Lock()
	defer d.Unlock()
	if d.closed {
		return fmt.Errorf("%w: database is closed", ErrBackend)
	}

	if err := d.wallpapers.Put([]byte(key), data); err != nil {
		return fmt.Errorf("%w: writing key %s: %v", ErrBackend, key, err)
	}
	if err := d.wallpapers.Sync(); err != nil {
		return fmt.Errorf("%w: syncing key %s: %v", ErrBackend, key, err)
	}
	return nil
}

// Keys returns every stored key in ascending order.
func (d *DB) Keys() []string {
	d.RLock()
	defer d.RUnlock()
	if d.closed {
		return nil
	}

	keys := make([]string, 0, d.wallpapers.Len())
	for k := range d.wallpapers.Keys() {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of stored records.
func (d *DB) Len() int {
	d.RLock()
	defer d.RUnlock()
	if d.closed {
		return 0
	}
	return d.wallpapers.Len()
}

// Fold calls fn for every record in key order. A record that fails to decode
// aborts the iteration with ErrDecode.
func (d *DB) Fold(fn func(key string, w models.Wallpaper) error) error {
	for _, key := range d.Keys() {
		w, err := d.Get(key)
		if err != nil {
			return err
		}
		if err := fn(key, w); err != nil {
			return err
		}
	}
	return nil
}

// PutLastRun stores the outcome of the latest download run in the summary
// region, replacing the previous one.
func (d *DB) PutLastRun(rec models.RunRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%w: encoding run %s: %v", ErrBackend, rec.RunID, err)
	}

	d.Lock()
	defer d.Unlock()
	if d.closed {
		return fmt.Errorf("%w: database is closed", ErrBackend)
	}
	if err := d.summary.Put([]byte(lastRunKey), data); err != nil {
		return fmt.Errorf("%w: writing run summary: %v", ErrBackend, err)
	}
	return d.summary.Sync()
}

// LastRun returns the record written by PutLastRun, or ErrNotFound before
// the first run.
func (d *DB) LastRun() (models.RunRecord, error) {
	d.RLock()
	defer d.RUnlock()
	if d.closed {
		return models.RunRecord{}, fmt.Errorf("%w: database is closed", ErrBackend)
	}

	raw, err := d.summary.Get([]byte(lastRunKey))
	if errors.Is(err, bitcask.ErrKeyNotFound) {
		return models.RunRecord{}, ErrNotFound
	}
	if err != nil {
		return models.RunRecord{}, fmt.Errorf("%w: reading run summary: %v", ErrBackend, err)
	}

	var rec models.RunRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return models.RunRecord{}, fmt.Errorf("%w: run summary: %v", ErrDecode, err)
	}
	return rec, nil
}

// List returns every stored wallpaper in key order.
func (d *DB) List() ([]models.Wallpaper, error) {
	var out []models.Wallpaper
	err := d.Fold(func(_ string, w models.Wallpaper) error {
		out = append(out, w)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func decode(key string, raw []byte) (models.Wallpaper, error) {
	var w models.Wallpaper
	if err := json.Unmarshal(raw, &w); err != nil {
		return models.Wallpaper{}, fmt.Errorf("%w: key %s: %v", ErrDecode, key, err)
	}
	return w, nil
}
