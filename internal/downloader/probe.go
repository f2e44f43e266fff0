package downloader

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/rangedl/internal/utils"
)

type FileInfo struct {
	Size         int64
	AcceptRanges bool
	FileName     string
}

// Probe issues a HEAD request for link and reports the advertised size.
// Range support is recorded but not enforced here; workers verify it on
// the first partial response.
func Probe(ctx context.Context, client utils.HTTPDoer, link string) (FileInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, link, nil)
	if err != nil {
		return FileInfo{}, fmt.Errorf("%w: error creating request: %v", ErrSizeUnavailable, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return FileInfo{}, fmt.Errorf("%w: %v", ErrSizeUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return FileInfo{}, fmt.Errorf("%w: server returned %d", ErrSizeUnavailable, resp.StatusCode)
	}

	info := FileInfo{
		AcceptRanges: strings.EqualFold(resp.Header.Get("Accept-Ranges"), "bytes"),
		FileName:     utils.FileNameFromDisposition(resp.Header.Get("Content-Disposition")),
	}
	contentLength := resp.Header.Get("Content-Length")
	if contentLength == "" {
		return info, fmt.Errorf("%w: server didn't provide Content-Length header", ErrSizeUnavailable)
	}
	size, err := strconv.ParseInt(contentLength, 10, 64)
	if err != nil {
		return info, fmt.Errorf("%w: invalid Content-Length %q", ErrSizeUnavailable, contentLength)
	}
	if size <= 0 {
		return info, fmt.Errorf("%w: invalid file size %d reported by server", ErrSizeUnavailable, size)
	}
	info.Size = size
	if !info.AcceptRanges {
		log.Debug().Str("op", "downloader/probe").Msgf("Server did not advertise Accept-Ranges for %s", link)
	}
	return info, nil
}
