package downloader

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/rangedl/internal/utils"
)

// prepareSinks allocates one in-memory buffer per range, or in direct mode
// opens a sized part file and hands every range a writer at its own offset.
func (j *Job) prepareSinks(direct bool) ([]io.Writer, error) {
	sinks := make([]io.Writer, len(j.ranges))
	if !direct {
		j.buffers = make([]*bytes.Buffer, len(j.ranges))
		for _, r := range j.ranges {
			j.buffers[r.ID] = bytes.NewBuffer(make([]byte, 0, r.Size()))
			sinks[r.ID] = j.buffers[r.ID]
		}
		return sinks, nil
	}

	j.partPath = utils.TempPartPath(j.OutputPath)
	if err := os.MkdirAll(filepath.Dir(j.partPath), 0755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFileCreateFailed, err)
	}
	file, err := os.OpenFile(j.partPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFileCreateFailed, err)
	}
	if err := file.Truncate(j.TotalSize); err != nil {
		file.Close()
		os.Remove(j.partPath)
		return nil, fmt.Errorf("%w: %v", ErrFileCreateFailed, err)
	}
	j.file = file
	for _, r := range j.ranges {
		sinks[r.ID] = io.NewOffsetWriter(file, r.StartByte)
	}
	return sinks, nil
}

// discard drops buffers and removes any direct-mode part file.
func (j *Job) discard() {
	j.buffers = nil
	if j.file != nil {
		j.file.Close()
		j.file = nil
	}
	if j.partPath != "" {
		os.Remove(j.partPath)
		utils.CleanFunction(j.OutputPath)
		j.partPath = ""
	}
}

// Assemble writes every range buffer into the destination in ascending
// range order, which is ascending byte-offset order. Completion order of
// the workers does not matter.
func Assemble(job *Job) JobResult {
	result := JobResult{JobID: job.ID, Path: job.OutputPath, TotalSize: job.TotalSize}
	var err error
	if job.file != nil {
		err = finalizeDirect(job)
	} else {
		err = writeBuffers(job)
	}
	if err != nil {
		result.Err = err
		result.Message = fmt.Sprintf("Assembly failed: %v", err)
		return result
	}
	job.buffers = nil

	result.Elapsed = time.Since(job.StartTime)
	result.Success = true
	result.Message = fmt.Sprintf("Download complete\nFile: %s\nSize: %s\nTime: %s",
		job.OutputPath, utils.FormatBytes(uint64(job.TotalSize)), utils.FormatElapsed(result.Elapsed))
	log.Info().Str("op", "downloader/assembler").Msgf("Assembled %s (%s) in %s", job.OutputPath, utils.FormatBytes(uint64(job.TotalSize)), utils.FormatElapsed(result.Elapsed))
	return result
}

func writeBuffers(job *Job) error {
	destFile, err := os.OpenFile(job.OutputPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFileCreateFailed, err)
	}
	defer destFile.Close()

	var totalWritten int64
	for id, buf := range job.buffers {
		written, err := destFile.Write(buf.Bytes())
		if err != nil {
			return fmt.Errorf("%w: range %d: %v", ErrFileWriteFailed, id, err)
		}
		totalWritten += int64(written)
	}
	if totalWritten != job.TotalSize {
		return fmt.Errorf("%w: size mismatch: expected %d, wrote %d", ErrFileWriteFailed, job.TotalSize, totalWritten)
	}
	if err := destFile.Sync(); err != nil {
		return fmt.Errorf("%w: %v", ErrFileWriteFailed, err)
	}
	return nil
}

func finalizeDirect(job *Job) error {
	file := job.file
	job.file = nil
	if err := file.Sync(); err != nil {
		file.Close()
		return fmt.Errorf("%w: %v", ErrFileWriteFailed, err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrFileWriteFailed, err)
	}
	if err := os.Rename(job.partPath, job.OutputPath); err != nil {
		return fmt.Errorf("%w: error renaming (finalizing) output file: %v", ErrFileCreateFailed, err)
	}
	job.partPath = ""
	utils.CleanFunction(job.OutputPath)
	return nil
}
