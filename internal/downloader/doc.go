// Package downloader fetches a single remote file over several concurrent
// HTTP range requests and reassembles it locally.
//
// A download runs through a fixed sequence: a HEAD probe discovers the
// total size, the size is split into contiguous ranges, one worker per
// range streams its bytes, and once every range completed the buffers are
// written to the destination in range order. Progress and throughput are
// published to a Listener.
//
// The Manager owns at most one job at a time. Starting a new download
// cancels the previous one and discards its state.
package downloader
