package downloader

import "sync"

type rangeProgress struct {
	size     int64
	received int64
	phase    Phase
}

// Aggregator tracks received bytes for every range of a job. All reads and
// writes go through one mutex; callers never see the counters directly.
type Aggregator struct {
	mu        sync.Mutex
	totalSize int64
	ranges    []rangeProgress
	completed int
	terminal  int
	lastBytes int64
}

func NewAggregator(totalSize int64, specs []RangeSpec) *Aggregator {
	ranges := make([]rangeProgress, len(specs))
	for _, spec := range specs {
		ranges[spec.ID] = rangeProgress{size: spec.Size(), phase: PhasePending}
	}
	return &Aggregator{totalSize: totalSize, ranges: ranges}
}

func (a *Aggregator) MarkInProgress(id int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if r := a.get(id); r != nil && r.phase == PhasePending {
		r.phase = PhaseInProgress
	}
}

// RecordProgress stores the cumulative byte count for range id and returns
// the aggregate and per-range percentages after the update. Counts never
// move backwards and are capped at the range size.
func (a *Aggregator) RecordProgress(id int, received int64) (global, rangePct int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	r := a.get(id)
	if r == nil {
		return a.percentage(), 0
	}
	if r.phase == PhasePending {
		r.phase = PhaseInProgress
	}
	received = min(received, r.size)
	if received > r.received {
		r.received = received
	}
	return a.percentage(), percent(r.received, r.size)
}

// RecordCompletion marks range id completed and returns how many ranges
// have completed so far.
func (a *Aggregator) RecordCompletion(id int) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	r := a.get(id)
	if r == nil || r.phase.Terminal() {
		return a.completed
	}
	r.phase = PhaseCompleted
	a.completed++
	a.terminal++
	return a.completed
}

func (a *Aggregator) RecordFailure(id int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	r := a.get(id)
	if r == nil || r.phase.Terminal() {
		return
	}
	r.phase = PhaseFailed
	a.terminal++
}

func (a *Aggregator) AggregateBytes() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sum()
}

func (a *Aggregator) AggregatePercentage() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.percentage()
}

func (a *Aggregator) RangePercentage(id int) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	r := a.get(id)
	if r == nil {
		return 0
	}
	return percent(r.received, r.size)
}

func (a *Aggregator) Phase(id int) Phase {
	a.mu.Lock()
	defer a.mu.Unlock()
	r := a.get(id)
	if r == nil {
		return PhasePending
	}
	return r.phase
}

// Tick returns the bytes received since the previous Tick and moves the
// baseline forward.
func (a *Aggregator) Tick() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	current := a.sum()
	delta := current - a.lastBytes
	a.lastBytes = current
	return delta
}

func (a *Aggregator) Completed() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.completed
}

// Done reports whether every range reached a terminal phase.
func (a *Aggregator) Done() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.terminal == len(a.ranges)
}

func (a *Aggregator) get(id int) *rangeProgress {
	if id < 0 || id >= len(a.ranges) {
		return nil
	}
	return &a.ranges[id]
}

func (a *Aggregator) sum() int64 {
	var total int64
	for _, r := range a.ranges {
		total += r.received
	}
	return total
}

func (a *Aggregator) percentage() int {
	return percent(a.sum(), a.totalSize)
}

func percent(part, whole int64) int {
	if whole <= 0 {
		return 0
	}
	return int(part * 100 / whole)
}
