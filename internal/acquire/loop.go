package acquire

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go-wallhaven-download/internal/api"
	"go-wallhaven-download/internal/models"
	"go-wallhaven-download/internal/placement"

	log "github.com/sirupsen/logrus"
)

// DefaultTarget is the number of new wallpapers a run collects when the
// caller does not ask for a different amount.
const DefaultTarget = 10

// ErrInterrupted is returned when the context is cancelled mid-run.
var ErrInterrupted = errors.New("download interrupted")

// Catalog returns pages of search results.
type Catalog interface {
	Search(ctx context.Context, params models.SearchParams) (models.SearchResponse, error)
}

// Placer decides what happens to a single wallpaper.
type Placer interface {
	Consider(ctx context.Context, item models.Wallpaper, root string) (placement.Outcome, error)
}

// Progress receives the accepted count after every accepted wallpaper.
type Progress interface {
	Update(accepted, target int)
}

// Options configures one run.
type Options struct {
	Params            models.SearchParams
	Root              string
	Target            int
	MaxPages          int
	MaxRetries        int
	InitialRetryDelay time.Duration
	Progress          Progress
	Logger            *log.Entry
	// OnFirstPage is called once with the metadata of page 1.
	OnFirstPage func(meta models.Meta)
}

// Summary reports what a run did. It is valid even when Run returns an error.
type Summary struct {
	SFW             int
	NSFW            int
	Accepted        int
	AlreadyRecorded int
	AlreadyOnDisk   int
	Failed          int
	Page            int
	LastPage        int
	Total           int
}

func (s Summary) String() string {
	return fmt.Sprintf("Sfw: %d --- Nsfw: %d --- reached: %d/%d", s.SFW, s.NSFW, s.Page, s.LastPage)
}

// Loop drives pagination and feeds every wallpaper to the placer, one at a
// time and in page order.
type Loop struct {
	catalog Catalog
	placer  Placer
}

// NewLoop creates a Loop.
func NewLoop(catalog Catalog, placer Placer) *Loop {
	return &Loop{catalog: catalog, placer: placer}
}

// Run pages through the catalog until the target number of wallpapers has
// been accepted, the last page has been processed or an unrecoverable error
// occurs. Failures of a single wallpaper are counted and skipped.
func (l *Loop) Run(ctx context.Context, opts Options) (Summary, error) {
	if opts.Target <= 0 {
		opts.Target = DefaultTarget
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}

	var sum Summary
	params := opts.Params

	for page := 1; ; page++ {
		if opts.MaxPages > 0 && page > opts.MaxPages {
			logger.Infof("Reached page limit %d", opts.MaxPages)
			return sum, nil
		}
		if err := ctx.Err(); err != nil {
			return sum, fmt.Errorf("%w: %w", ErrInterrupted, err)
		}

		params.Page = page
		sum.Page = page
		resp, err := l.fetchPage(ctx, params, opts, logger)
		if err != nil {
			if ctx.Err() != nil {
				return sum, fmt.Errorf("%w: %w", ErrInterrupted, err)
			}
			return sum, fmt.Errorf("fetching page %d: %w", page, err)
		}

		if page == 1 {
			sum.LastPage = resp.Meta.LastPage
			sum.Total = resp.Meta.Total
			logger.Infof("Search matched %d wallpapers over %d pages", resp.Meta.Total, resp.Meta.LastPage)
			if opts.OnFirstPage != nil {
				opts.OnFirstPage(resp.Meta)
			}
		}
		logger.Debugf("Page %d returned %d wallpapers", page, len(resp.Data))

		for _, item := range resp.Data {
			out, err := l.placer.Consider(ctx, item, opts.Root)
			if err != nil {
				if ctx.Err() != nil {
					return sum, fmt.Errorf("%w: %w", ErrInterrupted, err)
				}
				if errors.Is(err, placement.ErrItem) {
					sum.Failed++
					logger.WithError(err).Warnf("Skipping wallpaper %s", item.ID)
					continue
				}
				return sum, err
			}

			switch out.Kind {
			case placement.AlreadyRecorded:
				sum.AlreadyRecorded++
			case placement.AlreadyOnDisk:
				sum.AlreadyOnDisk++
			case placement.Accepted:
				sum.Accepted++
				if item.IsSFW() {
					sum.SFW++
				} else {
					sum.NSFW++
				}
				if opts.Progress != nil {
					opts.Progress.Update(sum.Accepted, opts.Target)
				}
				if sum.Accepted >= opts.Target {
					logger.Infof("Collected %d new wallpapers", sum.Accepted)
					return sum, nil
				}
			}
		}

		if page >= sum.LastPage {
			logger.Infof("Reached last page %d", sum.LastPage)
			return sum, nil
		}
	}
}

// fetchPage asks the catalog for one page, retrying transient failures up to
// opts.MaxRetries times with a doubling delay.
func (l *Loop) fetchPage(ctx context.Context, params models.SearchParams, opts Options, logger *log.Entry) (models.SearchResponse, error) {
	delay := opts.InitialRetryDelay
	for attempt := 0; ; attempt++ {
		resp, err := l.catalog.Search(ctx, params)
		if err == nil {
			return resp, nil
		}
		if attempt >= opts.MaxRetries || !api.IsRetryable(err) {
			return models.SearchResponse{}, err
		}

		logger.WithError(err).Warnf("Page %d failed, retrying (%d/%d) in %s", params.Page, attempt+1, opts.MaxRetries, delay)
		select {
		case <-ctx.Done():
			return models.SearchResponse{}, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
}
