package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/rangedl/internal/utils"
	"golang.org/x/time/rate"
)

type rangeWorker struct {
	client   utils.HTTPDoer
	url      string
	spec     RangeSpec
	sink     io.Writer
	agg      *Aggregator
	limiter  *rate.Limiter
	progress func(id int, received int64)
}

// run fetches the worker's range and streams it into sink. It does not retry.
func (w *rangeWorker) run(ctx context.Context) error {
	if err := w.fetch(ctx); err != nil {
		return fmt.Errorf("%w: range %d (%s): %w", ErrRangeFetchFailed, w.spec.ID, w.spec.Header(), err)
	}
	return nil
}

func (w *rangeWorker) fetch(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Range", w.spec.Header())
	req.Header.Set("Connection", "keep-alive")
	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusOK:
		return ErrRangeNotHonored
	case resp.StatusCode != http.StatusPartialContent:
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	if err := checkContentRange(resp.Header.Get("Content-Range"), w.spec); err != nil {
		return err
	}

	w.agg.MarkInProgress(w.spec.ID)
	expected := w.spec.Size()
	var received int64
	buffer := make([]byte, utils.DefaultBufferSize)
	for {
		bytesRead, readErr := resp.Body.Read(buffer)
		if bytesRead > 0 {
			if received+int64(bytesRead) > expected {
				return fmt.Errorf("size mismatch: server sent more than %d bytes", expected)
			}
			if w.limiter != nil {
				if err := w.limiter.WaitN(ctx, min(bytesRead, w.limiter.Burst())); err != nil {
					return err
				}
			}
			if _, err := w.sink.Write(buffer[:bytesRead]); err != nil {
				return fmt.Errorf("error writing range data: %w", err)
			}
			received += int64(bytesRead)
			w.progress(w.spec.ID, received)
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			return readErr
		}
	}
	if received != expected {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", expected, received)
	}
	log.Debug().Str("op", "downloader/worker").Int("range", w.spec.ID).Int64("bytes", received).Msg("Range complete")
	return nil
}

// checkContentRange verifies a 206 reply covers exactly the requested span.
func checkContentRange(header string, spec RangeSpec) error {
	if header == "" {
		return fmt.Errorf("%w: server didn't return Content-Range header", ErrRangeNotHonored)
	}
	var start, end int64
	if _, err := fmt.Sscanf(header, "bytes %d-%d/", &start, &end); err != nil {
		return fmt.Errorf("%w: malformed Content-Range %q", ErrRangeNotHonored, header)
	}
	if start != spec.StartByte || end != spec.EndByte {
		return fmt.Errorf("%w: got %q for bytes=%d-%d", ErrRangeNotHonored, header, spec.StartByte, spec.EndByte)
	}
	return nil
}
