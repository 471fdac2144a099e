package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-wallhaven-download/internal/acquire"
	"go-wallhaven-download/internal/api"
	"go-wallhaven-download/internal/config"
	"go-wallhaven-download/internal/database"
	"go-wallhaven-download/internal/downloader"
	"go-wallhaven-download/internal/helpers"
	"go-wallhaven-download/internal/index"
	"go-wallhaven-download/internal/models"
	"go-wallhaven-download/internal/placement"
)

// Download flag values, shared with 'debug print-api-url'.
var (
	downloadPurity            string
	downloadCategories        string
	downloadQuery             string
	downloadAtLeast           string
	downloadTarget            int
	downloadMaxPages          int
	downloadRecordBeforeWrite bool
	downloadNoProgress        bool
)

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download new wallpapers until the target count is reached",
	Long: `Pages through wallhaven search results and saves every wallpaper that is
neither recorded in the store nor already present under the wallpaper folder.
Stops once the target number of new wallpapers is saved or the results run out.

Exit status is 0 when the run completed, 2 when some wallpapers failed or the
run was interrupted, and 1 on any other error.`,
	RunE: runDownloadCmd,
}

func init() {
	rootCmd.AddCommand(downloadCmd)
	addDownloadFlags(downloadCmd)
	downloadCmd.Flags().BoolVar(&downloadNoProgress, "no-progress", false, "Disable the live progress line")
}

func addDownloadFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&downloadPurity, "purity", "p", config.DefaultConfigDownloadPurity, "Purity bitmask: sfw, sketchy, nsfw (e.g. 110)")
	cmd.Flags().StringVarP(&downloadCategories, "categories", "c", config.DefaultConfigDownloadCategories, "Category bitmask: general, anime, people (e.g. 101)")
	cmd.Flags().StringVarP(&downloadQuery, "query", "q", "", "Search query (tags, -tag, @user, id:123, like:abc123)")
	cmd.Flags().StringVar(&downloadAtLeast, "atleast", config.DefaultConfigDownloadAtLeast, "Minimum resolution, e.g. 1920x1080")
	cmd.Flags().IntVarP(&downloadTarget, "target", "n", config.DefaultConfigDownloadTarget, "Number of new wallpapers to save")
	cmd.Flags().IntVar(&downloadMaxPages, "max-pages", 0, "Stop after this many result pages (0 = no limit)")
	cmd.Flags().BoolVar(&downloadRecordBeforeWrite, "record-before-write", false, "Record wallpapers before fetching them (a failed fetch is not retried later)")
}

func runDownloadCmd(cmd *cobra.Command, args []string) error {
	if err := config.ValidateDownload(globalConfig); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sum, err := runDownload(ctx, globalConfig, globalHttpTransport, cmd.OutOrStdout(), !downloadNoProgress)
	return downloadExitError(sum, err)
}

// searchParamsFromConfig maps the download settings onto a page-1 search.
func searchParamsFromConfig(cfg models.Config) models.SearchParams {
	return models.SearchParams{
		APIKey:     cfg.APIKey,
		Purity:     cfg.Download.Purity,
		Categories: cfg.Download.Categories,
		AtLeast:    cfg.Download.AtLeast,
		Query:      cfg.Download.Query,
		Page:       1,
	}
}

// runDownload wires store, client, engine and loop for one run and prints
// the summary to out. The summary is printed even when the run fails.
func runDownload(ctx context.Context, cfg models.Config, transport http.RoundTripper, out io.Writer, live bool) (acquire.Summary, error) {
	runID := uuid.NewString()
	logger := log.WithField("run", runID)

	if !helpers.CheckAndMakeDir(cfg.WallpaperDir) {
		return acquire.Summary{}, fmt.Errorf("%w: cannot create wallpaper directory %s", placement.ErrFileSystem, cfg.WallpaperDir)
	}

	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		return acquire.Summary{}, err
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			logger.WithError(cerr).Error("Failed to close record store")
		}
	}()

	if transport == nil {
		transport = http.DefaultTransport
	}
	timeout := time.Duration(cfg.APIClientTimeoutSec) * time.Second
	client := api.NewClient(cfg.APIKey, &http.Client{Transport: transport, Timeout: timeout}, cfg)
	fetcher := downloader.NewDownloader(&http.Client{Transport: transport, Timeout: downloadTimeout(cfg)}, cfg.APIKey)

	var placer acquire.Placer = placement.NewEngine(db, fetcher, cfg.Download.RecordBeforeWrite)
	if idx, err := index.OpenOrCreateIndex(cfg.BleveIndexPath); err != nil {
		logger.WithError(err).Warn("Search index unavailable, new wallpapers will not be indexed")
	} else {
		defer idx.Close()
		placer = &indexingPlacer{next: placer, idx: idx, logger: logger}
	}

	opts := acquire.Options{
		Params:            searchParamsFromConfig(cfg),
		Root:              cfg.WallpaperDir,
		Target:            cfg.Download.Target,
		MaxPages:          cfg.Download.MaxPages,
		MaxRetries:        cfg.MaxRetries,
		InitialRetryDelay: time.Duration(cfg.InitialRetryDelayMs) * time.Millisecond,
		Logger:            logger,
		OnFirstPage: func(meta models.Meta) {
			fmt.Fprintf(out, "Total: %d, pages: %d\n", meta.Total, meta.LastPage)
		},
	}

	var progress *acquire.LiveProgress
	if live {
		progress = acquire.NewLiveProgress(out)
		opts.Progress = progress
	}

	logParams := opts.Params
	logParams.APIKey = ""
	logger.WithField("url", client.SearchURL(logParams)).Debug("Starting download run")
	sum, runErr := acquire.NewLoop(client, placer).Run(ctx, opts)

	if progress != nil {
		progress.Stop()
	}
	fmt.Fprintln(out, sum.String())
	if sum.Failed > 0 {
		fmt.Fprintf(out, "Failed: %d\n", sum.Failed)
	}
	fmt.Fprintf(out, "Total records: %d\n", db.Len())

	if err := db.PutLastRun(runRecord(runID, cfg, sum, runErr)); err != nil {
		logger.WithError(err).Warn("Failed to store run summary")
	}
	return sum, runErr
}

// downloadTimeout bounds one image transfer, headers and body included.
func downloadTimeout(cfg models.Config) time.Duration {
	if cfg.DownloadTimeoutSec <= 0 {
		return config.DefaultDownloadTimeoutSec * time.Second
	}
	return time.Duration(cfg.DownloadTimeoutSec) * time.Second
}

func runRecord(runID string, cfg models.Config, sum acquire.Summary, runErr error) models.RunRecord {
	rec := models.RunRecord{
		RunID:           runID,
		FinishedAt:      time.Now().UTC(),
		Query:           cfg.Download.Query,
		Purity:          cfg.Download.Purity,
		Categories:      cfg.Download.Categories,
		Target:          cfg.Download.Target,
		Accepted:        sum.Accepted,
		SFW:             sum.SFW,
		NSFW:            sum.NSFW,
		AlreadyRecorded: sum.AlreadyRecorded,
		AlreadyOnDisk:   sum.AlreadyOnDisk,
		Failed:          sum.Failed,
		Page:            sum.Page,
		LastPage:        sum.LastPage,
	}
	if runErr != nil {
		rec.Error = runErr.Error()
	}
	return rec
}

func downloadExitError(sum acquire.Summary, err error) error {
	switch {
	case err == nil && sum.Failed == 0:
		return nil
	case err == nil:
		return &exitError{code: 2, err: fmt.Errorf("%d wallpapers could not be downloaded", sum.Failed)}
	case errors.Is(err, acquire.ErrInterrupted):
		return &exitError{code: 2, err: err}
	default:
		return err
	}
}

// indexingPlacer adds every newly recorded wallpaper to the search index.
type indexingPlacer struct {
	next   acquire.Placer
	idx    bleve.Index
	logger *log.Entry
}

func (p *indexingPlacer) Consider(ctx context.Context, item models.Wallpaper, root string) (placement.Outcome, error) {
	out, err := p.next.Consider(ctx, item, root)
	if err != nil || out.Kind == placement.AlreadyRecorded {
		return out, err
	}
	if ierr := index.IndexWallpaper(p.idx, out.Key, item); ierr != nil {
		p.logger.WithError(ierr).WithField("key", out.Key).Warn("Failed to index wallpaper")
	}
	return out, nil
}
