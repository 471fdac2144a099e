package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"go-wallhaven-download/internal/api"
	"go-wallhaven-download/internal/models"
)

var debugShowKey bool

func init() {
	rootCmd.AddCommand(debugCmd)
	debugCmd.AddCommand(debugShowConfigCmd)
	debugCmd.AddCommand(debugPrintApiUrlCmd)

	// Same package-level variables as 'download', so the printed URL matches
	// what a download with these flags would request.
	addDownloadFlags(debugPrintApiUrlCmd)
	debugPrintApiUrlCmd.Flags().BoolVar(&debugShowKey, "show-key", false, "Include the API key in the printed URL")
}

var debugCmd = &cobra.Command{
	Use:   "debug",
	Short: "Debugging utilities (not for general use)",
	Long:  `Contains helper commands for debugging application behavior, like inspecting configuration or API URLs.`,
}

var debugShowConfigCmd = &cobra.Command{
	Use:   "show-config",
	Short: "Print the fully loaded configuration object as JSON",
	Long: `Loads configuration via flags, environment and config file (respecting precedence)
and prints the final resulting configuration to stdout as JSON. The API key is never printed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return printConfig(globalConfig, cmd.OutOrStdout())
	},
}

var debugPrintApiUrlCmd = &cobra.Command{
	Use:   "print-api-url",
	Short: "Print the first search URL 'download' would request",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintln(cmd.OutOrStdout(), searchURLFor(globalConfig, debugShowKey))
		return nil
	},
}

func printConfig(cfg models.Config, out io.Writer) error {
	jsonBytes, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config to JSON: %w", err)
	}
	fmt.Fprintln(out, string(jsonBytes))
	return nil
}

func searchURLFor(cfg models.Config, withKey bool) string {
	params := searchParamsFromConfig(cfg)
	if !withKey {
		params.APIKey = ""
	}
	return api.NewClient("", nil, cfg).SearchURL(params)
}
