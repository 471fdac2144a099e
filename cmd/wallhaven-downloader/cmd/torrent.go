package cmd

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/anacrolix/torrent/bencode"
	"github.com/anacrolix/torrent/metainfo"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-wallhaven-download/internal/helpers"
	"go-wallhaven-download/internal/models"
	"go-wallhaven-download/internal/paths"
)

const torrentPieceLength = 512 * 1024

var (
	announceURLs        []string
	torrentSourceFlag   string
	torrentOutputDir    string
	overwriteTorrents   bool
	generateMagnetLinks bool
)

var torrentCmd = &cobra.Command{
	Use:   "torrent",
	Short: "Generate a .torrent file for the wallpaper archive",
	Long: `Packages the archive folder (or --source) into a single BitTorrent metainfo
file. Tracker announce URLs come from --announce or Torrent.Trackers.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTorrent(globalConfig, torrentSourceFlag, overwriteTorrents, generateMagnetLinks, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(torrentCmd)

	torrentCmd.Flags().StringSliceVar(&announceURLs, "announce", []string{}, "Tracker announce URL (repeatable)")
	torrentCmd.Flags().StringVar(&torrentSourceFlag, "source", "", "Directory to package (default: the archive folder)")
	torrentCmd.Flags().StringVarP(&torrentOutputDir, "output-dir", "o", "", "Directory to save the .torrent file (overrides config)")
	torrentCmd.Flags().BoolVarP(&overwriteTorrents, "overwrite", "f", false, "Overwrite an existing .torrent file")
	torrentCmd.Flags().BoolVar(&generateMagnetLinks, "magnet-links", false, "Also write a -magnet.txt file next to the .torrent file")
}

func runTorrent(cfg models.Config, source string, overwrite, magnet bool, out io.Writer) error {
	if source == "" {
		source = cfg.Archive.Dir
	}
	trackers := validateTrackers(cfg.Torrent.Trackers)
	if len(trackers) == 0 {
		return errors.New("at least one valid tracker URL is required (--announce or Torrent.Trackers)")
	}

	torrentPath, magnetPath, magnetURI, err := generateTorrentFile(source, trackers, cfg.Torrent.OutputDir, overwrite, magnet)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Torrent: %s\n", torrentPath)
	if magnetURI != "" {
		fmt.Fprintf(out, "Magnet:  %s\n", magnetURI)
	}
	if magnetPath != "" {
		fmt.Fprintf(out, "Magnet file: %s\n", magnetPath)
	}
	return nil
}

// generateTorrentFile writes <outputDir>/<base of source>.torrent. Without
// overwrite an existing file is kept and magnetURI comes back empty.
func generateTorrentFile(sourcePath string, trackers []string, outputDir string, overwrite, withMagnet bool) (torrentFilePath, magnetFilePath, magnetURI string, err error) {
	if err := validateSourcePath(sourcePath); err != nil {
		return "", "", "", err
	}

	if outputDir == "" {
		outputDir = filepath.Dir(sourcePath)
	}
	if err := os.MkdirAll(outputDir, 0750); err != nil {
		return "", "", "", fmt.Errorf("error creating output directory %s: %w", outputDir, err)
	}
	torrentFilePath = filepath.Join(outputDir, filepath.Base(sourcePath)+".torrent")

	if !overwrite && paths.FileExists(torrentFilePath) {
		log.WithField("path", torrentFilePath).Info("Skipping existing torrent file (use --overwrite to replace)")
		return torrentFilePath, "", "", nil
	}

	mi, info, err := createTorrentMetainfo(sourcePath, trackers)
	if err != nil {
		return "", "", "", err
	}
	if err := writeTorrentFile(torrentFilePath, mi); err != nil {
		return "", "", "", err
	}
	log.WithField("path", torrentFilePath).Info("Successfully generated torrent file")

	magnetURI = generateMagnetURI(mi, info)
	if withMagnet {
		magnetFilePath = strings.TrimSuffix(torrentFilePath, ".torrent") + "-magnet.txt"
		if err := writeMagnetFile(magnetFilePath, magnetURI); err != nil {
			return torrentFilePath, "", magnetURI, err
		}
	}
	return torrentFilePath, magnetFilePath, magnetURI, nil
}

func validateSourcePath(sourcePath string) error {
	stat, err := os.Stat(sourcePath)
	if os.IsNotExist(err) {
		return fmt.Errorf("source path does not exist: %s", sourcePath)
	}
	if err != nil {
		return fmt.Errorf("error stating source path %s: %w", sourcePath, err)
	}
	if !stat.IsDir() {
		return fmt.Errorf("source path is not a directory: %s", sourcePath)
	}
	return nil
}

func createTorrentMetainfo(sourcePath string, trackers []string) (*metainfo.MetaInfo, metainfo.Info, error) {
	mi := metainfo.MetaInfo{
		Announce:     trackers[0],
		AnnounceList: [][]string{trackers},
		CreatedBy:    "go-wallhaven-download",
		CreationDate: time.Now().Unix(),
	}

	info := metainfo.Info{
		PieceLength: torrentPieceLength,
		Name:        filepath.Base(sourcePath),
	}
	log.WithField("directory", sourcePath).Debug("Building torrent info...")
	if err := info.BuildFromFilePath(sourcePath); err != nil {
		return nil, metainfo.Info{}, fmt.Errorf("error building torrent info from path %s: %w", sourcePath, err)
	}
	if len(info.Files) == 0 && info.Length == 0 {
		return nil, metainfo.Info{}, fmt.Errorf("no files to package in %s", sourcePath)
	}

	infoBytes, err := bencode.Marshal(info)
	if err != nil {
		return nil, metainfo.Info{}, fmt.Errorf("error marshaling torrent info: %w", err)
	}
	mi.InfoBytes = infoBytes
	return &mi, info, nil
}

// validateTrackers keeps http, https and udp tracker URLs.
func validateTrackers(trackers []string) []string {
	valid := make([]string, 0, len(trackers))
	for _, tracker := range trackers {
		parsed, err := url.Parse(tracker)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https" && parsed.Scheme != "udp") {
			log.WithField("tracker", tracker).Warn("Invalid or unsupported tracker URL provided, skipping.")
			continue
		}
		valid = append(valid, tracker)
	}
	return valid
}

func writeTorrentFile(outPath string, mi *metainfo.MetaInfo) (err error) {
	f, err := os.Create(helpers.SanitizePath(outPath))
	if err != nil {
		return fmt.Errorf("error creating torrent file %s: %w", outPath, err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("error closing torrent file %s: %w", outPath, closeErr)
		}
		if err != nil {
			os.Remove(outPath)
		}
	}()

	if err := mi.Write(f); err != nil {
		return fmt.Errorf("error writing torrent file %s: %w", outPath, err)
	}
	return nil
}

func generateMagnetURI(mi *metainfo.MetaInfo, info metainfo.Info) string {
	parts := []string{
		fmt.Sprintf("magnet:?xt=urn:btih:%s", mi.HashInfoBytes().HexString()),
		fmt.Sprintf("dn=%s", url.QueryEscape(info.Name)),
	}

	seen := make(map[string]struct{})
	for _, tier := range append([][]string{{mi.Announce}}, mi.AnnounceList...) {
		for _, tracker := range tier {
			if _, dup := seen[tracker]; dup || tracker == "" {
				continue
			}
			seen[tracker] = struct{}{}
			parts = append(parts, fmt.Sprintf("tr=%s", url.QueryEscape(tracker)))
		}
	}
	return strings.Join(parts, "&")
}

func writeMagnetFile(filePath, magnetURI string) error {
	if err := os.WriteFile(helpers.SanitizePath(filePath), []byte(magnetURI), 0600); err != nil {
		return fmt.Errorf("error writing magnet file %s: %w", filePath, err)
	}
	log.WithField("path", filePath).Info("Successfully generated magnet link file")
	return nil
}
