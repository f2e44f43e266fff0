package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tanq16/rangedl/internal/output"
	"github.com/tanq16/rangedl/internal/utils"
)

func newCleanCmd() *cobra.Command {
	var outputPath string
	cmd := &cobra.Command{
		Use:   "clean [--output OUTPUT_PATH]",
		Short: "Clean up temporary files and the log file",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			if err := cleanArtifacts(outputPath); err != nil {
				output.PrintError(fmt.Sprintf("Error cleaning up temporary files: %v", err))
				os.Exit(1)
			}
			output.PrintSuccess("Temporary files cleaned up")
		},
	}
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output path whose partial files should be removed")
	return cmd
}

func cleanArtifacts(outputPath string) error {
	if outputPath != "" {
		if err := utils.CleanFunction(outputPath); err != nil {
			return err
		}
	}
	if err := os.Remove(utils.LogFile); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
