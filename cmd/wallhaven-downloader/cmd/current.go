package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-wallhaven-download/internal/api"
	"go-wallhaven-download/internal/database"
	"go-wallhaven-download/internal/helpers"
	"go-wallhaven-download/internal/models"
	"go-wallhaven-download/internal/setter"
)

var fehbgFlag string

var currentCmd = &cobra.Command{
	Use:   "current",
	Short: "Show the id and tags of the wallpaper currently on screen",
	Long: `Finds the image the wallpaper app is showing (from ~/.fehbg for feh, or
'swww query' for swww), then prints its wallhaven id, page and tags.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCurrent(cmd.Context(), globalConfig, globalHttpTransport, fehbgFlag, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(currentCmd)
	currentCmd.Flags().StringVar(&fehbgFlag, "fehbg", "~/.fehbg", "Path of the feh restore script")
}

// currentWallpaperPath asks the configured wallpaper app what it is showing.
func currentWallpaperPath(ctx context.Context, app, fehbg string) (string, error) {
	switch app {
	case "swww":
		out, err := setterRunner(ctx, "swww", "query")
		if err != nil {
			return "", fmt.Errorf("%w: swww query: %v", setter.ErrSetter, err)
		}
		if p, ok := setter.CurrentFromSwwwQuery(string(out)); ok {
			return p, nil
		}
	default:
		script, err := os.ReadFile(helpers.ExpandHome(fehbg))
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", fehbg, err)
		}
		if p, ok := setter.CurrentFromFehbg(string(script)); ok {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: no current wallpaper reported by %s", setter.ErrNoWallpapers, app)
}

func runCurrent(ctx context.Context, cfg models.Config, transport http.RoundTripper, fehbg string, out io.Writer) error {
	path, err := currentWallpaperPath(ctx, cfg.WallpaperApp, fehbg)
	if err != nil {
		return err
	}
	key := filepath.Base(path)

	record, found, err := lookupRecord(cfg, key)
	if err != nil {
		return err
	}

	id := record.ID
	if !found {
		var ok bool
		if id, ok = models.IDFromStorageKey(key); !ok {
			return fmt.Errorf("%s is not a wallhaven wallpaper", path)
		}
		log.Warnf("%s is not in the record store", key)
	}

	fmt.Fprintf(out, "Path: %s\n", path)
	fmt.Fprintf(out, "ID:   %s\n", id)
	fmt.Fprintf(out, "URL:  https://wallhaven.cc/w/%s\n", id)

	if transport == nil {
		transport = http.DefaultTransport
	}
	timeout := time.Duration(cfg.APIClientTimeoutSec) * time.Second
	client := api.NewClient(cfg.APIKey, &http.Client{Transport: transport, Timeout: timeout}, cfg)

	tags := record.Tags
	details, err := client.Wallpaper(ctx, id)
	if err != nil {
		log.WithError(err).Warn("Could not fetch tags, showing stored ones")
	} else {
		tags = details.Tags
	}

	names := make([]string, 0, len(tags))
	for _, t := range tags {
		names = append(names, t.Name)
	}
	fmt.Fprintf(out, "Tags: %s\n", strings.Join(names, ", "))
	return nil
}

// lookupRecord opens the store just long enough to read key.
func lookupRecord(cfg models.Config, key string) (models.Wallpaper, bool, error) {
	db, err := openStore(cfg)
	if err != nil {
		return models.Wallpaper{}, false, err
	}
	defer db.Close()

	w, err := db.Get(key)
	if errors.Is(err, database.ErrNotFound) {
		return models.Wallpaper{}, false, nil
	}
	if err != nil {
		return models.Wallpaper{}, false, err
	}
	return w, true, nil
}
