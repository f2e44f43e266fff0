package output

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
)

// JobListener renders the events of one download job as a function entry
// of the Manager. It satisfies downloader.Listener.
type JobListener struct {
	m          *Manager
	id         int
	name       string
	showRanges bool

	mu      sync.Mutex
	size    string
	speed   string
	global  int
	ranges  map[int]int
	lastLog string
}

func NewJobListener(m *Manager, name string, showRanges bool) *JobListener {
	return &JobListener{
		m:          m,
		id:         m.RegisterFunction(name),
		name:       name,
		showRanges: showRanges,
		speed:      "0 B/s",
		ranges:     make(map[int]int),
	}
}

func (l *JobListener) ID() int {
	return l.id
}

// SetName replaces the label shown for the job, e.g. once the output path
// has been resolved.
func (l *JobListener) SetName(name string) {
	l.mu.Lock()
	l.name = name
	l.mu.Unlock()
	l.m.Rename(l.id, name)
	l.refresh()
}

func (l *JobListener) displayName() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.name
}

func (l *JobListener) OnFileSizeKnown(size string) {
	l.mu.Lock()
	l.size = size
	l.mu.Unlock()
	l.m.SetStatus(l.id, "pending")
	l.refresh()
}

func (l *JobListener) OnLog(line string) {
	log.Debug().Str("op", "output/listener").Str("download", l.displayName()).Msg(line)
	l.mu.Lock()
	l.lastLog = line
	l.mu.Unlock()
	l.refresh()
}

func (l *JobListener) OnGlobalProgress(percent int) {
	l.mu.Lock()
	if percent > l.global {
		l.global = percent
	}
	l.mu.Unlock()
	l.refresh()
}

func (l *JobListener) OnRangeProgress(rangeID, percent int) {
	l.mu.Lock()
	if percent > l.ranges[rangeID] {
		l.ranges[rangeID] = percent
	}
	l.mu.Unlock()
	if l.showRanges {
		l.refresh()
	}
}

func (l *JobListener) OnSpeed(speed string) {
	l.mu.Lock()
	l.speed = speed
	l.mu.Unlock()
	l.refresh()
}

func (l *JobListener) OnFinished(success bool, message string) {
	name := l.displayName()
	if success {
		log.Info().Str("op", "output/listener").Str("download", name).Msg("Download complete")
		l.m.Complete(l.id, fmt.Sprintf("Downloaded %s (%s)", name, l.sizeText()))
		return
	}
	log.Error().Str("op", "output/listener").Str("download", name).Msg(message)
	l.m.SetMessage(l.id, fmt.Sprintf("Failed %s", name))
	l.m.ReportError(l.id, errors.New(message))
}

func (l *JobListener) sizeText() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.size == "" {
		return "unknown size"
	}
	return l.size
}

func (l *JobListener) refresh() {
	l.mu.Lock()
	size := l.size
	if size == "" {
		size = "..."
	}
	message := fmt.Sprintf("%s %s%s at %s", l.name, PrintProgressBar(int64(l.global), 100, 30), size, l.speed)
	var lines []string
	if l.showRanges && len(l.ranges) > 0 {
		ids := make([]int, 0, len(l.ranges))
		for id := range l.ranges {
			ids = append(ids, id)
		}
		sort.Ints(ids)
		for _, id := range ids {
			lines = append(lines, fmt.Sprintf("range %2d %s", id, PrintProgressBar(int64(l.ranges[id]), 100, 20)))
		}
	}
	if l.lastLog != "" {
		lines = append(lines, l.lastLog)
	}
	l.mu.Unlock()
	l.m.SetMessage(l.id, message)
	l.m.SetStreamLines(l.id, lines)
}
