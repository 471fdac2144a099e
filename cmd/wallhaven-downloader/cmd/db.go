package cmd

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-wallhaven-download/internal/database"
	"go-wallhaven-download/internal/helpers"
	"go-wallhaven-download/internal/index"
	"go-wallhaven-download/internal/models"
	"go-wallhaven-download/internal/paths"
)

var (
	dbSearchLimit int
	dbVerifyHash  bool
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Inspect the wallpaper record store",
	Long:  `Provides subcommands to view, search, and verify the records kept for every wallpaper seen so far.`,
}

var dbViewCmd = &cobra.Command{
	Use:   "view",
	Short: "List every recorded wallpaper",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDbView(globalConfig, cmd.OutOrStdout())
	},
}

var dbGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print the stored JSON record for a key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDbGet(globalConfig, args[0], cmd.OutOrStdout())
	},
}

var dbCountCmd = &cobra.Command{
	Use:   "count",
	Short: "Print the number of recorded wallpapers",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDbCount(globalConfig, cmd.OutOrStdout())
	},
}

var dbVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Report records whose file is no longer on disk",
	Long: `Checks every record against the wallpaper folder. A file counts as present
when it sits at its purity folder or in any direct subfolder of the wallpaper
folder (for example the archive).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDbVerify(globalConfig, cmd.OutOrStdout(), dbVerifyHash)
	},
}

var dbSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search recorded wallpapers through the local index",
	Long: `Runs a query string search over the local index, e.g.
  wallhaven-downloader db search 'purity:sfw +resolution:3840x2160'
  wallhaven-downloader db search 'tags:landscape'
Run 'db reindex' first if the index is empty.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDbSearch(globalConfig, args[0], dbSearchLimit, cmd.OutOrStdout())
	},
}

var dbLastRunCmd = &cobra.Command{
	Use:   "last-run",
	Short: "Show the summary of the latest download run",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDbLastRun(globalConfig, cmd.OutOrStdout())
	},
}

var dbReindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the search index from the record store",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDbReindex(globalConfig, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(dbCmd)
	dbCmd.AddCommand(dbViewCmd)
	dbCmd.AddCommand(dbGetCmd)
	dbCmd.AddCommand(dbCountCmd)
	dbCmd.AddCommand(dbVerifyCmd)
	dbCmd.AddCommand(dbSearchCmd)
	dbCmd.AddCommand(dbReindexCmd)
	dbCmd.AddCommand(dbLastRunCmd)

	dbSearchCmd.Flags().IntVarP(&dbSearchLimit, "limit", "l", 20, "Maximum number of results")
	dbVerifyCmd.Flags().BoolVar(&dbVerifyHash, "hash", false, "Print the blake3 checksum of every file found")
}

func openStore(cfg models.Config) (*database.DB, error) {
	if cfg.DatabasePath == "" {
		return nil, errors.New("database path is not set in the configuration")
	}
	return database.Open(cfg.DatabasePath)
}

func runDbView(cfg models.Config, out io.Writer) error {
	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Key\tID\tPurity\tCategory\tResolution\tSize\tFavorites")
	fmt.Fprintln(tw, "---\t--\t------\t--------\t----------\t----\t---------")

	count := 0
	for _, key := range db.Keys() {
		w, err := db.Get(key)
		if err != nil {
			log.WithError(err).Warnf("Skipping unreadable record %s", key)
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%d\n",
			key,
			w.ID,
			w.Purity,
			w.Category,
			w.Resolution,
			humanize.IBytes(uint64(max(w.FileSize, 0))),
			w.Favorites,
		)
		count++
	}

	if err := tw.Flush(); err != nil {
		return fmt.Errorf("flushing table: %w", err)
	}
	log.Infof("Displayed %d entries.", count)
	return nil
}

func runDbGet(cfg models.Config, key string, out io.Writer) error {
	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	raw, err := db.GetRaw(key)
	if err != nil {
		return err
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		// Print what is stored even if it is not valid JSON.
		pretty.Reset()
		pretty.Write(raw)
	}
	fmt.Fprintln(out, pretty.String())
	return nil
}

func runDbCount(cfg models.Config, out io.Writer) error {
	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	fmt.Fprintln(out, strconv.Itoa(db.Len()))
	return nil
}

func runDbLastRun(cfg models.Config, out io.Writer) error {
	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	rec, err := db.LastRun()
	if errors.Is(err, database.ErrNotFound) {
		fmt.Fprintln(out, "No download run recorded yet.")
		return nil
	}
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Run\t%s\n", rec.RunID)
	fmt.Fprintf(tw, "Finished\t%s\n", rec.FinishedAt.Local().Format(time.RFC1123))
	fmt.Fprintf(tw, "Search\tpurity=%s categories=%s q=%q\n", rec.Purity, rec.Categories, rec.Query)
	fmt.Fprintf(tw, "Accepted\t%d/%d (sfw %d, nsfw %d)\n", rec.Accepted, rec.Target, rec.SFW, rec.NSFW)
	fmt.Fprintf(tw, "Skipped\t%d recorded, %d on disk\n", rec.AlreadyRecorded, rec.AlreadyOnDisk)
	fmt.Fprintf(tw, "Failed\t%d\n", rec.Failed)
	fmt.Fprintf(tw, "Pages\t%d/%d\n", rec.Page, rec.LastPage)
	if rec.Error != "" {
		fmt.Fprintf(tw, "Error\t%s\n", rec.Error)
	}
	return tw.Flush()
}

// verifyStats summarises a verify pass.
type verifyStats struct {
	Checked    int
	Found      int
	Missing    int
	Unreadable int
}

func runDbVerify(cfg models.Config, out io.Writer, withHash bool) error {
	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	var stats verifyStats
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Status\tKey\tPath\tChecksum")

	for _, key := range db.Keys() {
		stats.Checked++
		w, err := db.Get(key)
		if err != nil {
			stats.Unreadable++
			fmt.Fprintf(tw, "UNREADABLE\t%s\t\t\n", key)
			continue
		}

		path, found, err := locateRecord(cfg.WallpaperDir, w)
		if err != nil {
			return err
		}
		if !found {
			stats.Missing++
			fmt.Fprintf(tw, "MISSING\t%s\t\t\n", key)
			continue
		}
		stats.Found++

		if withHash {
			sum, err := helpers.HashFile(path)
			if err != nil {
				log.WithError(err).Warnf("Could not hash %s", path)
			}
			fmt.Fprintf(tw, "OK\t%s\t%s\t%s\n", key, path, sum)
		}
	}

	if err := tw.Flush(); err != nil {
		return fmt.Errorf("flushing table: %w", err)
	}
	fmt.Fprintf(out, "Checked: %d, found: %d, missing: %d, unreadable: %d\n",
		stats.Checked, stats.Found, stats.Missing, stats.Unreadable)
	return nil
}

// locateRecord looks for w's file at its purity folder, then in the direct
// subfolders of root.
func locateRecord(root string, w models.Wallpaper) (string, bool, error) {
	target, err := paths.TargetPath(root, w)
	if err != nil {
		return "", false, nil
	}
	if paths.FileExists(target) {
		return target, true, nil
	}
	return paths.FindInSubdirs(root, w.StorageKey())
}

func runDbSearch(cfg models.Config, query string, limit int, out io.Writer) error {
	idx, err := index.OpenOrCreateIndex(cfg.BleveIndexPath)
	if err != nil {
		return err
	}
	defer idx.Close()

	hits, err := index.Search(idx, query, limit)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Key\tPurity\tResolution\tScore")
	for _, h := range hits {
		fmt.Fprintf(tw, "%s\t%v\t%v\t%.3f\n", h.Key, h.Fields["purity"], h.Fields["resolution"], h.Score)
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("flushing table: %w", err)
	}
	log.Infof("Found %d matching wallpapers.", len(hits))
	return nil
}

func runDbReindex(cfg models.Config, out io.Writer) error {
	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	idx, err := index.OpenOrCreateIndex(cfg.BleveIndexPath)
	if err != nil {
		return err
	}
	defer idx.Close()

	n, err := index.Rebuild(idx, db.Fold)
	if err != nil {
		return fmt.Errorf("rebuilding index after %d records: %w", n, err)
	}
	fmt.Fprintf(out, "Indexed %d wallpapers.\n", n)
	return nil
}
