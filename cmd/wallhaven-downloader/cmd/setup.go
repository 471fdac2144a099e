package cmd

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"go-wallhaven-download/internal/config"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Create a starter configuration file, or print the existing one",
	// Skip config loading so a broken file can still be inspected.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initLogging(logLevel, logFormat)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfgFile
		if path == "" {
			path = config.DefaultConfigFilePath()
		}
		return runSetup(path, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(setupCmd)
}

func runSetup(path string, out io.Writer) error {
	existing, err := os.ReadFile(path)
	switch {
	case err == nil:
		fmt.Fprintf(out, "Config already exists at %s:\n\n%s", path, existing)
		return nil
	case !errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("reading %s: %w", path, err)
	}

	if err := config.WriteConfig(path, config.DefaultConfig()); err != nil {
		return err
	}
	fmt.Fprintf(out, "Created %s\nEdit ApiKey before running 'download'.\n", path)
	return nil
}
