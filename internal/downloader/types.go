package downloader

import (
	"bytes"
	"fmt"
	"os"
	"time"
)

type Phase int

const (
	PhasePending Phase = iota
	PhaseInProgress
	PhaseCompleted
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhasePending:
		return "pending"
	case PhaseInProgress:
		return "in-progress"
	case PhaseCompleted:
		return "completed"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}

type State int

const (
	StateIdle State = iota
	StateProbing
	StateDownloading
	StateAssembling
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateProbing:
		return "probing"
	case StateDownloading:
		return "downloading"
	case StateAssembling:
		return "assembling"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// RangeSpec is an inclusive byte interval of the remote file.
type RangeSpec struct {
	ID        int
	StartByte int64
	EndByte   int64
}

func (r RangeSpec) Size() int64 {
	return r.EndByte - r.StartByte + 1
}

func (r RangeSpec) Header() string {
	return fmt.Sprintf("bytes=%d-%d", r.StartByte, r.EndByte)
}

type Job struct {
	ID         string
	URL        string
	OutputPath string
	TotalSize  int64
	RangeCount int
	StartTime  time.Time

	ranges  []RangeSpec
	buffers []*bytes.Buffer

	// direct mode only
	file     *os.File
	partPath string

	result JobResult
}

func (j *Job) Ranges() []RangeSpec {
	return j.ranges
}

type JobResult struct {
	JobID     string
	Success   bool
	Message   string
	Path      string
	TotalSize int64
	Elapsed   time.Duration
	Err       error
}
