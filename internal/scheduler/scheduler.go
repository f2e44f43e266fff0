package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/rangedl/internal/downloader"
	"github.com/tanq16/rangedl/internal/output"
	"github.com/tanq16/rangedl/internal/utils"
)

// Uploader receives each file once its download completes.
type Uploader interface {
	Upload(ctx context.Context, localPath string) (string, error)
}

type Options struct {
	Download   downloader.Options
	Workers    int
	ShowRanges bool
	Uploader   Uploader
	Output     *output.Manager // defaults to a stdout manager
}

type scheduler struct {
	opts     Options
	out      *output.Manager
	mu       sync.Mutex
	reserved map[string]bool
}

// Run downloads every entry with a pool of opts.Workers workers, each job
// driven by its own downloader.Manager. It returns an error naming how many
// entries failed.
func Run(ctx context.Context, entries []utils.DownloadEntry, opts Options) error {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	s := &scheduler{
		opts:     opts,
		out:      opts.Output,
		reserved: make(map[string]bool),
	}
	if s.out == nil {
		s.out = output.NewManager()
	}
	s.out.StartDisplay()

	jobCh := make(chan utils.DownloadEntry, len(entries))
	for _, entry := range entries {
		jobCh <- entry
	}
	close(jobCh)

	var (
		wg     sync.WaitGroup
		errMu  sync.Mutex
		failed []error
	)
	for range min(opts.Workers, max(len(entries), 1)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for entry := range jobCh {
				if err := s.process(ctx, entry); err != nil {
					errMu.Lock()
					failed = append(failed, err)
					errMu.Unlock()
				}
			}
		}()
	}
	wg.Wait()
	s.out.StopDisplay()

	if len(failed) > 0 {
		return fmt.Errorf("%d of %d downloads failed: %w", len(failed), len(entries), errors.Join(failed...))
	}
	return nil
}

func (s *scheduler) process(ctx context.Context, entry utils.DownloadEntry) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	displayName := utils.FileNameFromURL(entry.URL)
	if entry.OutputPath != "" {
		displayName = filepath.Base(entry.OutputPath)
	}
	listener := output.NewJobListener(s.out, displayName, s.opts.ShowRanges)

	var outputPath string
	opts := s.opts.Download
	opts.Listener = listener
	opts.ResolveOutput = func(path string) string {
		outputPath = s.reserve(path)
		listener.SetName(filepath.Base(outputPath))
		return outputPath
	}
	result := downloader.NewManager(opts).Run(ctx, entry.URL, entry.OutputPath)
	if outputPath != "" {
		defer s.release(outputPath)
	}
	if result.Err != nil {
		log.Error().Str("op", "scheduler/scheduler").Str("url", entry.URL).Err(result.Err).Msg("Download failed")
		return fmt.Errorf("%s: %w", entry.URL, result.Err)
	}
	log.Info().Str("op", "scheduler/scheduler").Str("path", outputPath).Msg("Download complete")

	if s.opts.Uploader == nil {
		return nil
	}
	s.out.SetMessage(listener.ID(), fmt.Sprintf("Uploading %s", filepath.Base(outputPath)))
	dest, err := s.opts.Uploader.Upload(ctx, outputPath)
	if err != nil {
		s.out.SetMessage(listener.ID(), fmt.Sprintf("Upload failed for %s", filepath.Base(outputPath)))
		s.out.ReportError(listener.ID(), err)
		return fmt.Errorf("%s: %w", outputPath, err)
	}
	s.out.Complete(listener.ID(), fmt.Sprintf("Downloaded %s and uploaded to %s", filepath.Base(outputPath), dest))
	return nil
}

// reserve renews outputPath until it neither exists on disk nor belongs to
// another running job, then holds it for the caller.
func (s *scheduler) reserve(outputPath string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.taken(outputPath) {
		outputPath = utils.RenewOutputPath(outputPath)
	}
	s.reserved[outputPath] = true
	return outputPath
}

func (s *scheduler) taken(outputPath string) bool {
	if s.reserved[outputPath] {
		return true
	}
	_, err := os.Stat(outputPath)
	return err == nil
}

func (s *scheduler) release(outputPath string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.reserved, outputPath)
}
