package downloader

// Listener receives download events. Methods may be called concurrently
// from several range workers and must not block for long.
type Listener interface {
	OnFileSizeKnown(size string)
	OnLog(line string)
	OnGlobalProgress(percent int)
	OnRangeProgress(id, percent int)
	OnSpeed(rate string)
	OnFinished(success bool, message string)
}

// ListenerFuncs adapts plain functions to Listener. Nil fields are skipped.
type ListenerFuncs struct {
	FileSizeKnown  func(size string)
	Log            func(line string)
	GlobalProgress func(percent int)
	RangeProgress  func(id, percent int)
	Speed          func(rate string)
	Finished       func(success bool, message string)
}

func (f ListenerFuncs) OnFileSizeKnown(size string) {
	if f.FileSizeKnown != nil {
		f.FileSizeKnown(size)
	}
}

func (f ListenerFuncs) OnLog(line string) {
	if f.Log != nil {
		f.Log(line)
	}
}

func (f ListenerFuncs) OnGlobalProgress(percent int) {
	if f.GlobalProgress != nil {
		f.GlobalProgress(percent)
	}
}

func (f ListenerFuncs) OnRangeProgress(id, percent int) {
	if f.RangeProgress != nil {
		f.RangeProgress(id, percent)
	}
}

func (f ListenerFuncs) OnSpeed(rate string) {
	if f.Speed != nil {
		f.Speed(rate)
	}
}

func (f ListenerFuncs) OnFinished(success bool, message string) {
	if f.Finished != nil {
		f.Finished(success, message)
	}
}

type EventKind int

const (
	EventFileSize EventKind = iota
	EventLog
	EventGlobalProgress
	EventRangeProgress
	EventSpeed
	EventFinished
)

type Event struct {
	Kind    EventKind
	RangeID int
	Percent int
	Text    string
	Success bool
}

// ChannelListener publishes every event on a single outbound channel.
// Progress and speed samples are dropped when the channel is full; log,
// size and finish events always get delivered.
type ChannelListener struct {
	ch chan Event
}

func NewChannelListener(buffer int) *ChannelListener {
	return &ChannelListener{ch: make(chan Event, buffer)}
}

func (c *ChannelListener) Events() <-chan Event {
	return c.ch
}

func (c *ChannelListener) OnFileSizeKnown(size string) {
	c.ch <- Event{Kind: EventFileSize, Text: size}
}

func (c *ChannelListener) OnLog(line string) {
	c.ch <- Event{Kind: EventLog, Text: line}
}

func (c *ChannelListener) OnGlobalProgress(percent int) {
	c.offer(Event{Kind: EventGlobalProgress, Percent: percent})
}

func (c *ChannelListener) OnRangeProgress(id, percent int) {
	c.offer(Event{Kind: EventRangeProgress, RangeID: id, Percent: percent})
}

func (c *ChannelListener) OnSpeed(rate string) {
	c.offer(Event{Kind: EventSpeed, Text: rate})
}

func (c *ChannelListener) OnFinished(success bool, message string) {
	c.ch <- Event{Kind: EventFinished, Success: success, Text: message}
}

func (c *ChannelListener) offer(ev Event) {
	select {
	case c.ch <- ev:
	default:
	}
}

type nopListener struct{}

func (nopListener) OnFileSizeKnown(string)   {}
func (nopListener) OnLog(string)             {}
func (nopListener) OnGlobalProgress(int)     {}
func (nopListener) OnRangeProgress(int, int) {}
func (nopListener) OnSpeed(string)           {}
func (nopListener) OnFinished(bool, string)  {}
