package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/tanq16/rangedl/internal/output"
	"github.com/tanq16/rangedl/internal/utils"
	"gopkg.in/yaml.v3"
)

const maxTotalConnections = 64

func newBatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch [YAML_FILE] [OPTIONS]",
		Short: "Process multiple downloads from a YAML file",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := loadConfig(cmd)
			if err != nil {
				output.PrintError(err.Error())
				os.Exit(1)
			}
			cfg.quietRanges()
			entries, err := readBatchFile(args[0])
			if err != nil {
				output.PrintError(err.Error())
				os.Exit(1)
			}
			workers := max(cfg.Workers, 1)
			connections := connectionsPerLink(cfg.Connections, workers)
			if connections < cfg.Connections {
				output.PrintWarning(fmt.Sprintf("Limiting to %d connections per link for %d workers", connections, workers))
			}
			output.PrintHeader(fmt.Sprintf("Downloading %d files with %d workers", len(entries), workers))
			if err := runDownloads(cfg, entries, workers, connections); err != nil {
				fmt.Println()
				output.PrintError("Encountered failed operation(s)")
				os.Exit(1)
			}
		},
	}
	cmd.Flags().IntP("workers", "w", 1, "Number of links to download in parallel")
	return cmd
}

// readBatchFile loads the download list from a YAML file of the form
//
//	downloads:
//	  - link: https://example.com/file.iso
//	    op: file.iso
func readBatchFile(path string) ([]utils.DownloadEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading YAML file: %w", err)
	}
	var batchFile utils.BatchFile
	if err := yaml.Unmarshal(data, &batchFile); err != nil {
		return nil, fmt.Errorf("error parsing YAML file: %w", err)
	}
	var entries []utils.DownloadEntry
	for i, entry := range batchFile.Downloads {
		entry.URL = strings.TrimSpace(entry.URL)
		if entry.URL == "" {
			log.Warn().Str("op", "cmd/batch").Msgf("Empty link found in entry %d, skipping", i+1)
			continue
		}
		entries = append(entries, entry)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("no valid downloads found in %s", path)
	}
	return entries, nil
}

// connectionsPerLink keeps the total number of open connections under
// maxTotalConnections when several links download at once.
func connectionsPerLink(connections, workers int) int {
	if workers*connections > maxTotalConnections {
		return max(maxTotalConnections/workers, 1)
	}
	return connections
}
