package config

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"go-wallhaven-download/internal/api"
	"go-wallhaven-download/internal/helpers"
	"go-wallhaven-download/internal/models"

	"github.com/BurntSushi/toml"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// ErrInvalidConfig is returned by Validate and Initialize for unusable
// settings.
var ErrInvalidConfig = errors.New("invalid configuration")

// Default values for configuration
const (
	DefaultApiBaseUrl           = api.WallhavenApiBaseUrl
	DefaultWallpaperDir         = "~/Pictures/wallpapers"
	DefaultDatabasePath         = "~/.local/share/wallhaven-downloader/db"
	DefaultLogLevel             = "info"
	DefaultLogFormat            = "text"
	DefaultLogApiRequests       = false
	DefaultAPIClientTimeoutSec  = 30
	DefaultDownloadTimeoutSec   = 300
	DefaultApiRequestsPerMinute = 45
	DefaultMaxRetries           = 3
	DefaultInitialRetryDelayMs  = 1000
	DefaultWallpaperApp         = "feh"
	DefaultRefreshPurity        = models.PuritySFW

	DefaultConfigDownloadPurity     = "100"
	DefaultConfigDownloadCategories = "111"
	DefaultConfigDownloadQuery      = ""
	DefaultConfigDownloadAtLeast    = "2880x1800"
	DefaultConfigDownloadTarget     = 10
	DefaultConfigDownloadMaxPages   = 0

	DefaultConfigArchiveMaxAgeDays = 7

	configDirName  = "wallhaven-downloader"
	configFileName = "config.toml"
	envPrefix      = "WALLHAVEN"
)

var (
	bitmaskRegex = regexp.MustCompile(`^[01]{3}$`)
	atLeastRegex = regexp.MustCompile(`^[1-9][0-9]*x[1-9][0-9]*$`)
)

// DefaultConfigFilePath returns ~/.config/wallhaven-downloader/config.toml,
// honouring XDG_CONFIG_HOME.
func DefaultConfigFilePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return configFileName
	}
	return filepath.Join(dir, configDirName, configFileName)
}

func setViperDefaults(v *viper.Viper) {
	v.SetDefault("apikey", "")
	v.SetDefault("apibaseurl", DefaultApiBaseUrl)
	v.SetDefault("wallpaperdir", DefaultWallpaperDir)
	v.SetDefault("databasepath", DefaultDatabasePath)
	v.SetDefault("bleveindexpath", "")
	v.SetDefault("loglevel", DefaultLogLevel)
	v.SetDefault("logformat", DefaultLogFormat)
	v.SetDefault("logapirequests", DefaultLogApiRequests)
	v.SetDefault("apiclienttimeoutsec", DefaultAPIClientTimeoutSec)
	v.SetDefault("downloadtimeoutsec", DefaultDownloadTimeoutSec)
	v.SetDefault("apirequestsperminute", DefaultApiRequestsPerMinute)
	v.SetDefault("maxretries", DefaultMaxRetries)
	v.SetDefault("initialretrydelayms", DefaultInitialRetryDelayMs)
	v.SetDefault("wallpaperapp", DefaultWallpaperApp)
	v.SetDefault("refreshpurity", DefaultRefreshPurity)

	v.SetDefault("download.purity", DefaultConfigDownloadPurity)
	v.SetDefault("download.categories", DefaultConfigDownloadCategories)
	v.SetDefault("download.query", DefaultConfigDownloadQuery)
	v.SetDefault("download.atleast", DefaultConfigDownloadAtLeast)
	v.SetDefault("download.target", DefaultConfigDownloadTarget)
	v.SetDefault("download.maxpages", DefaultConfigDownloadMaxPages)
	v.SetDefault("download.recordbeforewrite", false)

	v.SetDefault("archive.dir", "")
	v.SetDefault("archive.maxagedays", DefaultConfigArchiveMaxAgeDays)

	v.SetDefault("torrent.outputdir", "")
	v.SetDefault("torrent.trackers", []string{})
}

// CliFlags holds values from command-line flags. A nil pointer means the flag
// was not given and the config file or default wins.
type CliFlags struct {
	ConfigFilePath      *string
	LogLevel            *string // --log-level
	LogFormat           *string // --log-format
	LogApiRequests      *bool   // --log-api
	WallpaperDir        *string // --wallpaper-dir
	DatabasePath        *string // --db-path
	APIKey              *string // --api-key
	APIClientTimeoutSec *int    // --api-timeout
	MaxRetries          *int    // --max-retries
	InitialRetryDelayMs *int    // --retry-delay

	Download *CliDownloadFlags
	Archive  *CliArchiveFlags
	Torrent  *CliTorrentFlags
}

type CliDownloadFlags struct {
	Purity            *string // -p
	Categories        *string // -c
	Query             *string // -q
	AtLeast           *string // --atleast
	Target            *int    // -n
	MaxPages          *int    // --max-pages
	RecordBeforeWrite *bool   // --record-before-write
}

type CliArchiveFlags struct {
	Dir        *string
	MaxAgeDays *int
}

type CliTorrentFlags struct {
	OutputDir *string
	Trackers  *[]string
}

// resolvePath expands "~" and makes path absolute, so later sanitizing
// never changes which directory is used.
func resolvePath(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	abs, err := filepath.Abs(helpers.ExpandHome(path))
	if err != nil {
		return "", fmt.Errorf("resolving path %s: %w", path, err)
	}
	return abs, nil
}

// Initialize merges defaults, the config file, WALLHAVEN_* environment
// variables and CLI flags into one Config. It also returns the HTTP transport
// every client should share, wrapped for request logging when enabled.
func Initialize(flags CliFlags) (models.Config, http.RoundTripper, error) {
	var cfg models.Config

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setViperDefaults(v)

	configFilePath := DefaultConfigFilePath()
	if flags.ConfigFilePath != nil && *flags.ConfigFilePath != "" {
		configFilePath = *flags.ConfigFilePath
		log.Debugf("[Initialize] Using config file path from CLI flag: %s", configFilePath)
	}
	v.SetConfigFile(configFilePath)
	v.SetConfigType("toml")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			log.Debugf("[Initialize] Config file '%s' not found. Using defaults and CLI flags only.", configFilePath)
		} else {
			return models.Config{}, nil, fmt.Errorf("%w: reading %s: %v", ErrInvalidConfig, configFilePath, err)
		}
	} else {
		log.Debugf("[Initialize] Read config file: %s", v.ConfigFileUsed())
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return models.Config{}, nil, fmt.Errorf("%w: failed to unmarshal config: %v", ErrInvalidConfig, err)
	}

	applyFlags(&cfg, flags)

	for _, p := range []*string{&cfg.WallpaperDir, &cfg.DatabasePath, &cfg.BleveIndexPath, &cfg.Archive.Dir, &cfg.Torrent.OutputDir} {
		resolved, err := resolvePath(*p)
		if err != nil {
			return models.Config{}, nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		*p = resolved
	}

	if cfg.BleveIndexPath == "" {
		cfg.BleveIndexPath = filepath.Join(cfg.DatabasePath, "index.bleve")
	}
	if cfg.Archive.Dir == "" {
		cfg.Archive.Dir = filepath.Join(cfg.WallpaperDir, "archive")
	}
	if cfg.Torrent.OutputDir == "" {
		cfg.Torrent.OutputDir = cfg.WallpaperDir
	}

	if cfg.WallpaperDir == "" {
		return models.Config{}, nil, fmt.Errorf("%w: WallpaperDir cannot be empty", ErrInvalidConfig)
	}
	if cfg.DatabasePath == "" {
		return models.Config{}, nil, fmt.Errorf("%w: DatabasePath cannot be empty", ErrInvalidConfig)
	}

	var transport http.RoundTripper = http.DefaultTransport
	if cfg.LogApiRequests {
		logFilePath := "api.log"
		if _, statErr := os.Stat(cfg.WallpaperDir); statErr == nil {
			logFilePath = filepath.Join(cfg.WallpaperDir, logFilePath)
		}
		log.Infof("API logging to file: %s", logFilePath)

		loggingTransport, err := api.NewLoggingTransport(transport, logFilePath)
		if err != nil {
			log.WithError(err).Error("Failed to initialize API logging transport, logging disabled.")
		} else {
			transport = loggingTransport
		}
	}

	log.Debug("Configuration initialized successfully.")
	return cfg, transport, nil
}

func applyFlags(cfg *models.Config, flags CliFlags) {
	if flags.APIKey != nil {
		cfg.APIKey = *flags.APIKey
	}
	if flags.WallpaperDir != nil {
		cfg.WallpaperDir = *flags.WallpaperDir
	}
	if flags.DatabasePath != nil {
		cfg.DatabasePath = *flags.DatabasePath
	}
	if flags.LogApiRequests != nil {
		cfg.LogApiRequests = *flags.LogApiRequests
	}
	if flags.APIClientTimeoutSec != nil {
		cfg.APIClientTimeoutSec = *flags.APIClientTimeoutSec
	}
	if flags.MaxRetries != nil {
		cfg.MaxRetries = *flags.MaxRetries
	}
	if flags.InitialRetryDelayMs != nil {
		cfg.InitialRetryDelayMs = *flags.InitialRetryDelayMs
	}
	if flags.LogLevel != nil {
		cfg.LogLevel = *flags.LogLevel
	}
	if flags.LogFormat != nil {
		cfg.LogFormat = *flags.LogFormat
	}

	if d := flags.Download; d != nil {
		if d.Purity != nil {
			cfg.Download.Purity = *d.Purity
		}
		if d.Categories != nil {
			cfg.Download.Categories = *d.Categories
		}
		if d.Query != nil {
			cfg.Download.Query = *d.Query
		}
		if d.AtLeast != nil {
			cfg.Download.AtLeast = *d.AtLeast
		}
		if d.Target != nil {
			cfg.Download.Target = *d.Target
		}
		if d.MaxPages != nil {
			cfg.Download.MaxPages = *d.MaxPages
		}
		if d.RecordBeforeWrite != nil {
			cfg.Download.RecordBeforeWrite = *d.RecordBeforeWrite
		}
	}

	if a := flags.Archive; a != nil {
		if a.Dir != nil {
			cfg.Archive.Dir = *a.Dir
		}
		if a.MaxAgeDays != nil {
			cfg.Archive.MaxAgeDays = *a.MaxAgeDays
		}
	}

	if t := flags.Torrent; t != nil {
		if t.OutputDir != nil {
			cfg.Torrent.OutputDir = *t.OutputDir
		}
		if t.Trackers != nil && len(*t.Trackers) > 0 {
			cfg.Torrent.Trackers = *t.Trackers
		}
	}
}

// ValidateDownload checks everything the download command needs.
func ValidateDownload(cfg models.Config) error {
	var problems []string
	if strings.TrimSpace(cfg.APIKey) == "" {
		problems = append(problems, "ApiKey is required (set ApiKey, WALLHAVEN_APIKEY or --api-key)")
	}
	if !bitmaskRegex.MatchString(cfg.Download.Purity) {
		problems = append(problems, fmt.Sprintf("Download.Purity %q must be three 0/1 digits (sfw, sketchy, nsfw)", cfg.Download.Purity))
	}
	if !bitmaskRegex.MatchString(cfg.Download.Categories) {
		problems = append(problems, fmt.Sprintf("Download.Categories %q must be three 0/1 digits (general, anime, people)", cfg.Download.Categories))
	}
	if cfg.Download.AtLeast != "" && !atLeastRegex.MatchString(cfg.Download.AtLeast) {
		problems = append(problems, fmt.Sprintf("Download.AtLeast %q must look like 2880x1800", cfg.Download.AtLeast))
	}
	if cfg.Download.Target <= 0 {
		problems = append(problems, fmt.Sprintf("Download.Target must be positive, got %d", cfg.Download.Target))
	}
	if cfg.Download.MaxPages < 0 {
		problems = append(problems, fmt.Sprintf("Download.MaxPages cannot be negative, got %d", cfg.Download.MaxPages))
	}
	if cfg.MaxRetries < 0 {
		problems = append(problems, fmt.Sprintf("MaxRetries cannot be negative, got %d", cfg.MaxRetries))
	}
	return joinProblems(problems)
}

// ValidateSetter checks the settings used to change the desktop wallpaper.
func ValidateSetter(cfg models.Config) error {
	var problems []string
	switch cfg.WallpaperApp {
	case "feh", "swww":
	default:
		problems = append(problems, fmt.Sprintf("WallpaperApp %q must be 'feh' or 'swww'", cfg.WallpaperApp))
	}
	switch cfg.RefreshPurity {
	case models.PuritySFW, models.PurityNSFW:
	default:
		problems = append(problems, fmt.Sprintf("RefreshPurity %q must be 'sfw' or 'nsfw'", cfg.RefreshPurity))
	}
	return joinProblems(problems)
}

func joinProblems(problems []string) error {
	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
}

// DefaultConfig returns the configuration written by 'setup'.
func DefaultConfig() models.Config {
	return models.Config{
		APIKey:               "your_api_key",
		APIBaseURL:           DefaultApiBaseUrl,
		WallpaperDir:         DefaultWallpaperDir,
		DatabasePath:         DefaultDatabasePath,
		LogLevel:             DefaultLogLevel,
		LogFormat:            DefaultLogFormat,
		APIClientTimeoutSec:  DefaultAPIClientTimeoutSec,
		DownloadTimeoutSec:   DefaultDownloadTimeoutSec,
		APIRequestsPerMinute: DefaultApiRequestsPerMinute,
		MaxRetries:           DefaultMaxRetries,
		InitialRetryDelayMs:  DefaultInitialRetryDelayMs,
		WallpaperApp:         DefaultWallpaperApp,
		RefreshPurity:        DefaultRefreshPurity,
		Download: models.DownloadConfig{
			Purity:     DefaultConfigDownloadPurity,
			Categories: DefaultConfigDownloadCategories,
			AtLeast:    DefaultConfigDownloadAtLeast,
			Target:     DefaultConfigDownloadTarget,
		},
		Archive: models.ArchiveConfig{
			MaxAgeDays: DefaultConfigArchiveMaxAgeDays,
		},
		Torrent: models.TorrentConfig{
			Trackers: []string{},
		},
	}
}

// WriteConfig encodes cfg as TOML to path, creating parent directories. It
// refuses to overwrite an existing file.
func WriteConfig(path string, cfg models.Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("creating config file %s: %w", path, err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return nil
}
