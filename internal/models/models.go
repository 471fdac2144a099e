package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Purity values reported by the wallhaven API.
const (
	PuritySFW     = "sfw"
	PuritySketchy = "sketchy"
	PurityNSFW    = "nsfw"
)

// StorageKeyPrefix is prepended to every storage key and on-disk file name.
const StorageKeyPrefix = "wallhaven"

// LooseString is a custom type that can unmarshal from a JSON string, a JSON
// number or any other JSON value. The API is inconsistent about some meta
// fields (per_page is sometimes "24", sometimes 24; query is an object when
// searching by tag id). Non-string values keep their raw JSON text.
type LooseString string

// UnmarshalJSON implements json.Unmarshaler for LooseString
func (s *LooseString) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		*s = ""
		return nil
	}

	var str string
	if err := json.Unmarshal(trimmed, &str); err == nil {
		*s = LooseString(str)
		return nil
	}

	if !json.Valid(trimmed) {
		return fmt.Errorf("invalid JSON value for string field: %s", string(trimmed))
	}
	*s = LooseString(trimmed)
	return nil
}

type (
	// Config holds the application's configuration settings.
	Config struct {
		APIKey               string         `toml:"ApiKey" json:"-"`
		APIBaseURL           string         `toml:"ApiBaseUrl" json:"ApiBaseUrl"`
		WallpaperDir         string         `toml:"WallpaperDir" json:"WallpaperDir"`
		DatabasePath         string         `toml:"DatabasePath" json:"DatabasePath"`
		BleveIndexPath       string         `toml:"BleveIndexPath" json:"BleveIndexPath"`
		LogLevel             string         `toml:"LogLevel" json:"LogLevel"`
		LogFormat            string         `toml:"LogFormat" json:"LogFormat"`
		WallpaperApp         string         `toml:"WallpaperApp" json:"WallpaperApp"`
		RefreshPurity        string         `toml:"RefreshPurity" json:"RefreshPurity"`
		Download             DownloadConfig `toml:"Download" json:"Download"`
		Archive              ArchiveConfig  `toml:"Archive" json:"Archive"`
		Torrent              TorrentConfig  `toml:"Torrent" json:"Torrent"`
		APIClientTimeoutSec  int            `toml:"ApiClientTimeoutSec" json:"ApiClientTimeoutSec"`
		DownloadTimeoutSec   int            `toml:"DownloadTimeoutSec" json:"DownloadTimeoutSec"`
		APIRequestsPerMinute int            `toml:"ApiRequestsPerMinute" json:"ApiRequestsPerMinute"`
		MaxRetries           int            `toml:"MaxRetries" json:"MaxRetries"`
		InitialRetryDelayMs  int            `toml:"InitialRetryDelayMs" json:"InitialRetryDelayMs"`
		LogApiRequests       bool           `toml:"LogApiRequests" json:"LogApiRequests"`
	}

	// DownloadConfig holds settings specific to the 'download' command.
	DownloadConfig struct {
		Purity     string `toml:"Purity"`
		Categories string `toml:"Categories"`
		Query      string `toml:"Query"`
		AtLeast    string `toml:"AtLeast"`
		Target     int    `toml:"Target"`
		MaxPages   int    `toml:"MaxPages"`
		// RecordBeforeWrite stores the record before the bytes are fetched,
		// so a failed transfer is never retried by a later run.
		RecordBeforeWrite bool `toml:"RecordBeforeWrite"`
	}

	// ArchiveConfig holds settings for the 'archive' command.
	ArchiveConfig struct {
		Dir        string `toml:"Dir"`
		MaxAgeDays int    `toml:"MaxAgeDays"`
	}

	// TorrentConfig holds settings for the 'torrent' command.
	TorrentConfig struct {
		OutputDir string   `toml:"OutputDir"`
		Trackers  []string `toml:"Trackers"`
	}

	// Api Calls and Responses
	SearchParams struct {
		APIKey     string `json:"-"`
		Purity     string `json:"purity"`
		Categories string `json:"categories"`
		AtLeast    string `json:"atleast"`
		Query      string `json:"q"`
		Page       int    `json:"page"`
	}

	// SearchResponse is one page of search results.
	SearchResponse struct {
		Data []Wallpaper `json:"data"`
		Meta Meta        `json:"meta"`
	}

	Meta struct {
		CurrentPage int         `json:"current_page"`
		LastPage    int         `json:"last_page"`
		PerPage     LooseString `json:"per_page"`
		Total       int         `json:"total"`
		Query       LooseString `json:"query,omitempty"`
		Seed        LooseString `json:"seed,omitempty"`
	}

	// Wallpaper is a single item of the remote catalog.
	Wallpaper struct {
		ID         string   `json:"id"`
		URL        string   `json:"url"`
		ShortURL   string   `json:"short_url"`
		Views      int      `json:"views"`
		Favorites  int      `json:"favorites"`
		Source     string   `json:"source"`
		Purity     string   `json:"purity"`
		Category   string   `json:"category"`
		DimensionX int      `json:"dimension_x"`
		DimensionY int      `json:"dimension_y"`
		Resolution string   `json:"resolution"`
		Ratio      string   `json:"ratio"`
		FileSize   int64    `json:"file_size"`
		FileType   string   `json:"file_type"`
		CreatedAt  string   `json:"created_at"`
		Colors     []string `json:"colors"`
		Path       string   `json:"path"`
		Thumbs     Thumbs   `json:"thumbs"`
		Tags       []Tag    `json:"tags,omitempty"`
	}

	Thumbs struct {
		Large    string `json:"large"`
		Original string `json:"original"`
		Small    string `json:"small"`
	}

	// Tag is only populated by the single wallpaper endpoint.
	Tag struct {
		ID         int    `json:"id"`
		Name       string `json:"name"`
		Alias      string `json:"alias"`
		CategoryID int    `json:"category_id"`
		Category   string `json:"category"`
		Purity     string `json:"purity"`
	}

	// RunRecord is what the store keeps about the latest download run.
	RunRecord struct {
		RunID           string    `json:"run_id"`
		FinishedAt      time.Time `json:"finished_at"`
		Query           string    `json:"query"`
		Purity          string    `json:"purity"`
		Categories      string    `json:"categories"`
		Target          int       `json:"target"`
		Accepted        int       `json:"accepted"`
		SFW             int       `json:"sfw"`
		NSFW            int       `json:"nsfw"`
		AlreadyRecorded int       `json:"already_recorded"`
		AlreadyOnDisk   int       `json:"already_on_disk"`
		Failed          int       `json:"failed"`
		Page            int       `json:"page"`
		LastPage        int       `json:"last_page"`
		Error           string    `json:"error,omitempty"`
	}

	// WallpaperResponse wraps the single wallpaper endpoint payload.
	WallpaperResponse struct {
		Data Wallpaper `json:"data"`
	}
)

// Extension returns the file extension derived from the MIME type, e.g.
// "image/jpeg" -> "jpeg". A file type without a slash is returned as is.
func (w Wallpaper) Extension() string {
	if i := strings.LastIndex(w.FileType, "/"); i >= 0 {
		return w.FileType[i+1:]
	}
	return w.FileType
}

// StorageKey returns the deterministic key used both as the record store key
// and as the on-disk file name.
func (w Wallpaper) StorageKey() string {
	return fmt.Sprintf("%s-%s-%s.%s", StorageKeyPrefix, w.ID, w.Resolution, w.Extension())
}

// IDFromStorageKey returns the wallpaper id embedded in a storage key or
// file name such as "wallhaven-p9pzk9-3840x2160.jpeg".
func IDFromStorageKey(key string) (string, bool) {
	rest, ok := strings.CutPrefix(key, StorageKeyPrefix+"-")
	if !ok {
		return "", false
	}
	id, _, ok := strings.Cut(rest, "-")
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// IsSFW reports whether the wallpaper belongs in the root of the wallpaper
// directory rather than the nsfw subfolder.
func (w Wallpaper) IsSFW() bool {
	return w.Purity == PuritySFW
}
