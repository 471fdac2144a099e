package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-wallhaven-download/internal/config"
	"go-wallhaven-download/internal/helpers"
	"go-wallhaven-download/internal/models"
	"go-wallhaven-download/internal/paths"
	"go-wallhaven-download/internal/setter"
)

var refreshPathFlag string

// setterRunner executes the wallpaper app; tests replace it.
var setterRunner setter.Runner = setter.ExecRunner

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Set a random downloaded wallpaper as the desktop background",
	Long: `Picks a random image from the wallpaper folder (or its nsfw folder when
RefreshPurity is nsfw) and applies it with the configured WallpaperApp.

With --path pointing at a file, that wallpaper is applied as is. A directory
given to --path is used in place of the wallpaper folder.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRefresh(cmd.Context(), globalConfig, refreshPathFlag, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(refreshCmd)
	refreshCmd.Flags().StringVar(&refreshPathFlag, "path", "", "Path to the wallpaper (or a directory to pick from)")
}

// refreshTarget returns the image to apply: override itself when it is a
// file, otherwise a random image from override or the purity folder.
func refreshTarget(cfg models.Config, override string) (string, error) {
	dir := cfg.WallpaperDir
	if cfg.RefreshPurity == models.PurityNSFW {
		dir = filepath.Join(cfg.WallpaperDir, paths.NSFWDir)
	}

	if override != "" {
		override = helpers.ExpandHome(override)
		info, err := os.Stat(override)
		if err != nil {
			return "", fmt.Errorf("wallpaper path: %w", err)
		}
		if !info.IsDir() {
			return override, nil
		}
		dir = override
	}
	return setter.PickRandom(dir, nil)
}

func runRefresh(ctx context.Context, cfg models.Config, override string, out io.Writer) error {
	if err := config.ValidateSetter(cfg); err != nil {
		return err
	}
	s, err := setter.New(cfg.WallpaperApp, setterRunner)
	if err != nil {
		return err
	}

	path, err := refreshTarget(cfg, override)
	if err != nil {
		return err
	}

	log.WithField("app", s.Name()).Debugf("Applying %s", path)
	if err := s.Apply(ctx, path); err != nil {
		return err
	}
	fmt.Fprintln(out, path)
	return nil
}
