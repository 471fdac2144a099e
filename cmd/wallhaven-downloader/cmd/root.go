package cmd

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-wallhaven-download/internal/config"
	"go-wallhaven-download/internal/models"
)

// Persistent flag values shared by every command.
var (
	cfgFile          string
	logLevel         string
	logFormat        string
	logApiFlag       bool
	wallpaperDirFlag string
	dbPathFlag       string
	apiKeyFlag       string
	apiTimeoutFlag   int
	maxRetriesFlag   int
	retryDelayFlag   int
)

// globalConfig holds the loaded configuration
var globalConfig models.Config

// globalHttpTransport holds the globally configured HTTP transport (base or logging-wrapped)
var globalHttpTransport http.RoundTripper

// exitError carries a process exit status other than 1.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "wallhaven-downloader",
	Short: "Fetch, deduplicate and organise wallpapers from wallhaven.cc",
	Long: `wallhaven-downloader pages through wallhaven search results, skips
wallpapers it has already seen, and stores new ones under your wallpaper
folder (non-sfw items go into an nsfw subfolder).`,
	PersistentPreRunE: loadGlobalConfig,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return 1
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Configuration file path (default is ~/.config/wallhaven-downloader/config.toml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Logging level (trace, debug, info, warn, error, fatal, panic)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Logging format (text, json)")
	rootCmd.PersistentFlags().BoolVar(&logApiFlag, "log-api", false, "Log API requests/responses to api.log (overrides config)")
	rootCmd.PersistentFlags().StringVar(&wallpaperDirFlag, "wallpaper-dir", "", "Wallpaper destination root (overrides config)")
	rootCmd.PersistentFlags().StringVar(&dbPathFlag, "db-path", "", "Record store directory (overrides config)")
	rootCmd.PersistentFlags().StringVar(&apiKeyFlag, "api-key", "", "wallhaven API key (overrides config)")
	rootCmd.PersistentFlags().IntVar(&apiTimeoutFlag, "api-timeout", 0, "Timeout for API HTTP requests in seconds (overrides config)")
	rootCmd.PersistentFlags().IntVar(&maxRetriesFlag, "max-retries", 0, "Retries for a failed page request (overrides config)")
	rootCmd.PersistentFlags().IntVar(&retryDelayFlag, "retry-delay", 0, "Initial retry delay in ms, doubled per attempt (overrides config)")
}

// loadGlobalConfig builds globalConfig from the config file, the environment
// and every flag the user actually set on the command line.
func loadGlobalConfig(cmd *cobra.Command, args []string) error {
	cfg, transport, err := config.Initialize(buildCliFlags(cmd))
	if err != nil {
		return err
	}
	if err := initLogging(cfg.LogLevel, cfg.LogFormat); err != nil {
		return err
	}

	globalConfig = cfg
	globalHttpTransport = transport
	log.Debugf("Loaded configuration for %q", cmd.CommandPath())
	return nil
}

func buildCliFlags(cmd *cobra.Command) config.CliFlags {
	flags := config.CliFlags{
		ConfigFilePath:      changed(cmd, "config", &cfgFile),
		LogLevel:            changed(cmd, "log-level", &logLevel),
		LogFormat:           changed(cmd, "log-format", &logFormat),
		LogApiRequests:      changed(cmd, "log-api", &logApiFlag),
		WallpaperDir:        changed(cmd, "wallpaper-dir", &wallpaperDirFlag),
		DatabasePath:        changed(cmd, "db-path", &dbPathFlag),
		APIKey:              changed(cmd, "api-key", &apiKeyFlag),
		APIClientTimeoutSec: changed(cmd, "api-timeout", &apiTimeoutFlag),
		MaxRetries:          changed(cmd, "max-retries", &maxRetriesFlag),
		InitialRetryDelayMs: changed(cmd, "retry-delay", &retryDelayFlag),
		Download: &config.CliDownloadFlags{
			Purity:            changed(cmd, "purity", &downloadPurity),
			Categories:        changed(cmd, "categories", &downloadCategories),
			Query:             changed(cmd, "query", &downloadQuery),
			AtLeast:           changed(cmd, "atleast", &downloadAtLeast),
			Target:            changed(cmd, "target", &downloadTarget),
			MaxPages:          changed(cmd, "max-pages", &downloadMaxPages),
			RecordBeforeWrite: changed(cmd, "record-before-write", &downloadRecordBeforeWrite),
		},
		Archive: &config.CliArchiveFlags{
			Dir:        changed(cmd, "archive-dir", &archiveDirFlag),
			MaxAgeDays: changed(cmd, "max-age", &archiveMaxAgeFlag),
		},
		Torrent: &config.CliTorrentFlags{
			OutputDir: changed(cmd, "output-dir", &torrentOutputDir),
			Trackers:  changed(cmd, "announce", &announceURLs),
		},
	}
	return flags
}

// changed returns p when the named flag was given on the command line, nil
// otherwise, so unset flags never shadow the config file.
func changed[T any](cmd *cobra.Command, name string, p *T) *T {
	if cmd.Flags().Changed(name) {
		return p
	}
	return nil
}

func initLogging(level, format string) error {
	if level == "" {
		level = config.DefaultLogLevel
	}
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("%w: log level %q: %v", config.ErrInvalidConfig, level, err)
	}
	log.SetLevel(lvl)

	switch strings.ToLower(format) {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	case "", "text":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("%w: log format %q (want text or json)", config.ErrInvalidConfig, format)
	}
	return nil
}
