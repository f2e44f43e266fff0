package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/tanq16/rangedl/internal/utils"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

type Options struct {
	// RangeCount is the number of concurrent ranges. Default: 10
	RangeCount int

	HTTPClientConfig utils.HTTPClientConfig

	// DirectWrite streams each range to its offset in a part file instead of
	// buffering whole ranges in memory.
	DirectWrite bool

	// RateLimit caps combined throughput in bytes per second. 0 disables it.
	RateLimit int64

	// TickInterval is the speed sampling period. Default: 1s
	TickInterval time.Duration

	Listener Listener

	// ResolveOutput maps the destination chosen for a job to the path that
	// is actually written. It runs once per job after the probe; when the
	// caller passed no output path it receives the name taken from
	// Content-Disposition or the URL.
	ResolveOutput func(path string) string
}

// Manager drives one download job at a time:
// Idle -> Probing -> Downloading -> Assembling -> Completed | Failed.
type Manager struct {
	opts     Options
	client   utils.HTTPDoer
	listener Listener

	// startMu serializes start so each new job cancels and waits for the
	// job installed before it.
	startMu sync.Mutex

	mu     sync.Mutex
	state  State
	job    *Job
	cancel context.CancelFunc
	done   chan struct{}
}

func NewManager(opts Options) *Manager {
	if opts.RangeCount <= 0 {
		opts.RangeCount = utils.DefaultRangeCount
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = utils.DefaultTickInterval
	}
	if opts.Listener == nil {
		opts.Listener = nopListener{}
	}
	opts.HTTPClientConfig.HighThreadMode = opts.RangeCount > 5
	return &Manager{
		opts:     opts,
		client:   utils.NewRangedlHTTPClient(opts.HTTPClientConfig),
		listener: opts.Listener,
	}
}

// StartDownload begins fetching link into outputPath and returns the job ID
// right away. An empty outputPath is inferred from the probe response. Any job still running is cancelled and discarded first; all
// further activity is reported through the Listener.
func (m *Manager) StartDownload(link, outputPath string) string {
	job, _ := m.start(context.Background(), link, outputPath)
	return job.ID
}

// Run is the blocking form of StartDownload. Cancelling ctx cancels the job.
func (m *Manager) Run(ctx context.Context, link, outputPath string) JobResult {
	job, done := m.start(ctx, link, outputPath)
	<-done
	return job.result
}

// Wait blocks until the current job reaches a terminal state.
func (m *Manager) Wait() JobResult {
	m.mu.Lock()
	job, done := m.job, m.done
	m.mu.Unlock()
	if job == nil {
		return JobResult{}
	}
	<-done
	return job.result
}

// Cancel stops the current job and every range worker it spawned.
func (m *Manager) Cancel() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		m.cancel()
	}
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) start(parent context.Context, link, outputPath string) (*Job, <-chan struct{}) {
	m.startMu.Lock()
	defer m.startMu.Unlock()

	m.mu.Lock()
	prevCancel, prevDone := m.cancel, m.done
	m.mu.Unlock()
	if prevCancel != nil {
		prevCancel()
		<-prevDone
	}

	ctx, cancel := context.WithCancel(parent)
	job := &Job{
		ID:         uuid.NewString(),
		URL:        link,
		OutputPath: outputPath,
		RangeCount: m.opts.RangeCount,
	}
	done := make(chan struct{})
	m.mu.Lock()
	m.state = StateIdle
	m.job = job
	m.cancel = cancel
	m.done = done
	m.mu.Unlock()

	go func() {
		defer close(done)
		defer cancel()
		job.result = m.execute(ctx, job)
	}()
	return job, done
}

func (m *Manager) setState(state State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = state
}

func (m *Manager) execute(ctx context.Context, job *Job) JobResult {
	m.setState(StateProbing)
	m.listener.OnLog(fmt.Sprintf("Fetching file information for %s", job.URL))
	info, err := Probe(ctx, m.client, job.URL)
	if err != nil {
		return m.fail(ctx, job, err)
	}
	if job.OutputPath == "" {
		job.OutputPath = info.FileName
		if job.OutputPath == "" {
			job.OutputPath = utils.FileNameFromURL(job.URL)
		}
	}
	if m.opts.ResolveOutput != nil {
		job.OutputPath = m.opts.ResolveOutput(job.OutputPath)
	}
	job.TotalSize = info.Size
	sizeText := utils.FormatBytes(uint64(info.Size))
	m.listener.OnFileSizeKnown(sizeText)
	m.listener.OnLog(fmt.Sprintf("File size: %s", sizeText))

	job.ranges = PlanRanges(job.TotalSize, job.RangeCount)
	job.RangeCount = len(job.ranges)
	sinks, err := job.prepareSinks(m.opts.DirectWrite)
	if err != nil {
		return m.fail(ctx, job, err)
	}
	agg := NewAggregator(job.TotalSize, job.ranges)

	m.setState(StateDownloading)
	job.StartTime = time.Now()
	m.listener.OnLog(fmt.Sprintf("Starting %d parallel ranges", job.RangeCount))
	if err := m.download(ctx, job, agg, sinks); err != nil {
		return m.fail(ctx, job, err)
	}

	m.setState(StateAssembling)
	m.listener.OnLog("Assembling ranges")
	result := Assemble(job)
	if !result.Success {
		return m.fail(ctx, job, result.Err)
	}
	m.setState(StateCompleted)
	m.listener.OnLog(fmt.Sprintf("File assembled: %s", job.OutputPath))
	m.listener.OnLog(fmt.Sprintf("Total time: %s", utils.FormatElapsed(result.Elapsed)))
	m.listener.OnFinished(true, result.Message)
	return result
}

// download runs one worker per range as a task group. The first failure
// cancels the group, so siblings stop before the failure is reported.
func (m *Manager) download(ctx context.Context, job *Job, agg *Aggregator, sinks []io.Writer) error {
	tickCtx, stopTick := context.WithCancel(ctx)
	tickDone := make(chan struct{})
	go func() {
		defer close(tickDone)
		m.tick(tickCtx, agg)
	}()
	defer func() {
		stopTick()
		<-tickDone
	}()

	limiter := m.newLimiter()
	progress := func(id int, received int64) {
		global, rangePct := agg.RecordProgress(id, received)
		m.listener.OnGlobalProgress(global)
		m.listener.OnRangeProgress(id, rangePct)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, spec := range job.ranges {
		w := &rangeWorker{
			client:   m.client,
			url:      job.URL,
			spec:     spec,
			sink:     sinks[spec.ID],
			agg:      agg,
			limiter:  limiter,
			progress: progress,
		}
		m.listener.OnLog(fmt.Sprintf("Range %d started: %d - %d (%s)", spec.ID, spec.StartByte, spec.EndByte, utils.FormatBytes(uint64(spec.Size()))))
		g.Go(func() error {
			if err := w.run(gctx); err != nil {
				agg.RecordFailure(spec.ID)
				if gctx.Err() == nil {
					m.listener.OnLog(fmt.Sprintf("Range %d failed: %v", spec.ID, err))
				}
				return err
			}
			completed := agg.RecordCompletion(spec.ID)
			m.listener.OnRangeProgress(spec.ID, 100)
			m.listener.OnLog(fmt.Sprintf("Range %d finished (%d/%d)", spec.ID, completed, job.RangeCount))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if completed := agg.Completed(); completed != job.RangeCount {
		return fmt.Errorf("%w: only %d of %d ranges completed", ErrRangeFetchFailed, completed, job.RangeCount)
	}
	return nil
}

// tick samples aggregate bytes every TickInterval and reports the delta as
// throughput until all ranges are terminal or ctx ends.
func (m *Manager) tick(ctx context.Context, agg *Aggregator) {
	ticker := time.NewTicker(m.opts.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			bytesThisTick := agg.Tick()
			m.listener.OnSpeed(utils.FormatSpeed(bytesThisTick, m.opts.TickInterval.Seconds()))
			if agg.Done() {
				return
			}
		}
	}
}

func (m *Manager) newLimiter() *rate.Limiter {
	if m.opts.RateLimit <= 0 {
		return nil
	}
	burst := max(int(m.opts.RateLimit), utils.DefaultBufferSize)
	return rate.NewLimiter(rate.Limit(m.opts.RateLimit), burst)
}

func (m *Manager) fail(ctx context.Context, job *Job, err error) JobResult {
	if ctx.Err() != nil && !errors.Is(err, context.Canceled) {
		err = fmt.Errorf("%w: %v", ctx.Err(), err)
	}
	job.discard()
	m.setState(StateFailed)

	var message string
	switch {
	case errors.Is(err, context.Canceled):
		message = "Download cancelled"
	case errors.Is(err, ErrSizeUnavailable):
		message = fmt.Sprintf("Unable to retrieve file information: %v", err)
	case errors.Is(err, ErrRangeFetchFailed):
		message = fmt.Sprintf("Error during download: %v", err)
	case errors.Is(err, ErrFileCreateFailed):
		message = fmt.Sprintf("Unable to create file: %v", err)
	default:
		message = fmt.Sprintf("Download failed: %v", err)
	}
	result := JobResult{
		JobID:     job.ID,
		Path:      job.OutputPath,
		TotalSize: job.TotalSize,
		Message:   message,
		Err:       err,
	}
	if !job.StartTime.IsZero() {
		result.Elapsed = time.Since(job.StartTime)
	}
	log.Error().Str("op", "downloader/manager").Str("job", job.ID).Err(err).Msg("Download failed")
	m.listener.OnLog(fmt.Sprintf("Error: %v", err))
	m.listener.OnFinished(false, message)
	return result
}
