package cmd

import (
	"context"
	"fmt"
	u "net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/tanq16/rangedl/internal/output"
	"github.com/tanq16/rangedl/internal/scheduler"
	"github.com/tanq16/rangedl/internal/storage"
	"github.com/tanq16/rangedl/internal/utils"
)

var RangedlVersion = "dev"

var rootCmd = &cobra.Command{
	Use:     "rangedl [URL]",
	Short:   "rangedl downloads a file over HTTP with parallel byte ranges",
	Version: RangedlVersion,
	Args:    cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if len(args) == 0 {
			cmd.Help()
			return
		}
		cfg, err := loadConfig(cmd)
		if err != nil {
			output.PrintError(err.Error())
			os.Exit(1)
		}
		link := args[0]
		if parsed, err := u.Parse(link); err != nil || parsed.Scheme == "" || parsed.Host == "" {
			output.PrintError("Invalid URL format")
			os.Exit(1)
		}
		entries := []utils.DownloadEntry{{URL: link, OutputPath: cfg.Output}}
		if err := runDownloads(cfg, entries, 1, cfg.Connections); err != nil {
			fmt.Println()
			output.PrintError("Encountered failed operation(s)")
			os.Exit(1)
		}
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// runDownloads wires config, logging, signals and the optional S3 upload
// around one scheduler run.
func runDownloads(cfg Config, entries []utils.DownloadEntry, workers, connections int) error {
	utils.InitLogger(cfg.Debug)
	interactive := output.IsTerminal()
	if interactive {
		logFile, err := utils.OpenLogFile()
		if err == nil {
			defer logFile.Close()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := scheduler.Options{
		Download:   cfg.downloadOptions(connections),
		Workers:    workers,
		ShowRanges: cfg.ShowRanges,
	}
	if cfg.Upload != "" {
		uploader, err := storage.NewS3Uploader(ctx, cfg.Upload)
		if err != nil {
			output.PrintError(fmt.Sprintf("Invalid upload target: %v", err))
			return err
		}
		opts.Uploader = uploader
		output.PrintInfo(fmt.Sprintf("Finished files will be uploaded to %s", cfg.Upload))
	}
	log.Debug().Str("op", "cmd/root").Int("entries", len(entries)).Int("workers", workers).Int("connections", connections).Msg("Starting downloads")
	err := scheduler.Run(ctx, entries, opts)
	if err != nil {
		log.Error().Str("op", "cmd/root").Err(err).Msg("Downloads finished with errors")
	}
	return err
}

func init() {
	rootCmd.Flags().StringP("output", "o", "", "Output file path (rangedl infers file name if not provided)")

	addDownloadFlags(rootCmd)

	rootCmd.AddCommand(newBatchCmd())
	rootCmd.AddCommand(newCleanCmd())
}

func addDownloadFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "Config file (default ./rangedl.yaml)")
	flags.IntP("connections", "c", utils.DefaultRangeCount, "Number of parallel ranges per download (above 5 enables high-thread-mode)")
	flags.DurationP("timeout", "t", 3*time.Minute, "Connect and response-header timeout; body transfers are not bounded (eg. 5s, 10m)")
	flags.DurationP("keep-alive-timeout", "k", 90*time.Second, "Keep-alive timeout for client (eg. 10s, 1m, 80s)")
	flags.StringP("user-agent", "a", utils.ToolUserAgent, "User agent (\"randomize\" picks a browser agent)")
	flags.StringP("proxy", "p", "", "HTTP/HTTPS proxy URL (e.g., proxy.example.com:8080)")
	flags.String("proxy-username", "", "Proxy username (if not provided in proxy URL)")
	flags.String("proxy-password", "", "Proxy password (if not provided in proxy URL)")
	flags.StringArrayP("header", "H", []string{}, "Custom headers (like 'Authorization: Basic dXNlcjpwYXNz'); can be specified multiple times")
	flags.Int64("limit-rate", 0, "Combined bandwidth limit in bytes per second (0 is unlimited)")
	flags.Bool("direct", false, "Write ranges straight to disk instead of buffering them in memory")
	flags.Bool("ranges", true, "Show a progress bar per range")
	flags.String("upload", "", "Upload finished files to s3://bucket/prefix")
	flags.Bool("debug", false, "Enable debug logging")
}
