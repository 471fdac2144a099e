package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"go-wallhaven-download/internal/archive"
	"go-wallhaven-download/internal/models"
)

var (
	archiveSourceFlag string
	archiveDirFlag    string
	archiveMaxAgeFlag int
)

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Move old wallpapers into the archive folder",
	Long: `Moves every file in the wallpaper folder that is older than MaxAgeDays into
the archive folder. Archived wallpapers stay known to the downloader and are
never fetched again.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runArchive(globalConfig, archiveSourceFlag, time.Now(), cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(archiveCmd)
	archiveCmd.Flags().StringVar(&archiveSourceFlag, "dir", "", "Directory to archive from (default: the wallpaper folder)")
	archiveCmd.Flags().StringVar(&archiveDirFlag, "archive-dir", "", "Archive destination (overrides config)")
	archiveCmd.Flags().IntVar(&archiveMaxAgeFlag, "max-age", 0, "Archive files older than this many days (overrides config)")
}

func runArchive(cfg models.Config, source string, now time.Time, out io.Writer) error {
	if source == "" {
		source = cfg.WallpaperDir
	}
	if cfg.Archive.MaxAgeDays < 0 {
		return fmt.Errorf("max age cannot be negative, got %d", cfg.Archive.MaxAgeDays)
	}

	maxAge := time.Duration(cfg.Archive.MaxAgeDays) * 24 * time.Hour
	res, err := archive.Run(source, cfg.Archive.Dir, maxAge, now)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Moved %d wallpapers older than %d days to %s (%d archived in total)\n",
		res.Moved, cfg.Archive.MaxAgeDays, cfg.Archive.Dir, res.Total)
	return nil
}
