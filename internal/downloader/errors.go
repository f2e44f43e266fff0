package downloader

import "errors"

var (
	ErrSizeUnavailable  = errors.New("file size unavailable")
	ErrRangeFetchFailed = errors.New("range fetch failed")
	ErrRangeNotHonored  = errors.New("server ignored range request")
	ErrFileCreateFailed = errors.New("cannot create destination file")
	ErrFileWriteFailed  = errors.New("cannot write destination file")
)
