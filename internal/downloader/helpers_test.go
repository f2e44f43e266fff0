package downloader

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type serverOptions struct {
	omitLength  bool
	ignoreRange bool
	failStart   int64 // range start that answers 500; -1 disables
	slowStart   int64 // range start that is delayed; -1 disables
	slowFor     time.Duration
	blockOthers bool // non-failing ranges block until the client goes away
	dripEvery   time.Duration // send bodies in 100 byte pieces with this pause between them
	bodyDelta   int           // bytes removed (<0) or appended (>0) to every range body
	rangeHeader string        // "missing" drops Content-Range, "shifted" reports the wrong start
}

type rangeServer struct {
	*httptest.Server
	heads atomic.Int32
	gets  atomic.Int32
}

func testData(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

func newRangeServer(t *testing.T, data []byte, opts serverOptions) *rangeServer {
	t.Helper()
	rs := &rangeServer{}
	rs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			rs.heads.Add(1)
			if !opts.omitLength {
				w.Header().Set("Content-Length", strconv.Itoa(len(data)))
				w.Header().Set("Accept-Ranges", "bytes")
			}
			return
		}
		rs.gets.Add(1)

		rangeHeader := r.Header.Get("Range")
		if rangeHeader == "" || opts.ignoreRange {
			w.Header().Set("Content-Length", strconv.Itoa(len(data)))
			w.Write(data)
			return
		}

		// bytes=start-end
		parts := strings.Split(strings.TrimPrefix(rangeHeader, "bytes="), "-")
		start, _ := strconv.ParseInt(parts[0], 10, 64)
		end, _ := strconv.ParseInt(parts[1], 10, 64)
		if end >= int64(len(data)) {
			end = int64(len(data)) - 1
		}

		if opts.failStart >= 0 && start == opts.failStart {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		if opts.blockOthers {
			select {
			case <-r.Context().Done():
			case <-time.After(10 * time.Second):
			}
			return
		}
		if opts.slowStart >= 0 && start == opts.slowStart {
			select {
			case <-r.Context().Done():
				return
			case <-time.After(opts.slowFor):
			}
		}

		body := append([]byte(nil), data[start:end+1]...)
		switch {
		case opts.bodyDelta < 0:
			body = body[:max(len(body)+opts.bodyDelta, 0)]
		case opts.bodyDelta > 0:
			body = append(body, make([]byte, opts.bodyDelta)...)
		}
		switch opts.rangeHeader {
		case "missing":
		case "shifted":
			w.Header().Set("Content-Range", "bytes "+strconv.FormatInt(start+1, 10)+"-"+strconv.FormatInt(end, 10)+"/"+strconv.Itoa(len(data)))
		default:
			w.Header().Set("Content-Range", "bytes "+strconv.FormatInt(start, 10)+"-"+strconv.FormatInt(end, 10)+"/"+strconv.Itoa(len(data)))
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		w.WriteHeader(http.StatusPartialContent)
		if opts.dripEvery <= 0 {
			w.Write(body)
			return
		}
		flusher, _ := w.(http.Flusher)
		for len(body) > 0 {
			n := min(100, len(body))
			if _, err := w.Write(body[:n]); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
			body = body[n:]
			select {
			case <-r.Context().Done():
				return
			case <-time.After(opts.dripEvery):
			}
		}
	}))
	t.Cleanup(rs.Close)
	return rs
}

func defaultServerOptions() serverOptions {
	return serverOptions{failStart: -1, slowStart: -1}
}

type recordingListener struct {
	mu          sync.Mutex
	sizes       []string
	logs        []string
	global      []int
	ranges      map[int][]int
	speeds      []string
	finished    int
	lastSuccess bool
	lastMessage string
}

func newRecordingListener() *recordingListener {
	return &recordingListener{ranges: make(map[int][]int)}
}

func (l *recordingListener) OnFileSizeKnown(size string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sizes = append(l.sizes, size)
}

func (l *recordingListener) OnLog(line string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logs = append(l.logs, line)
}

func (l *recordingListener) OnGlobalProgress(percent int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.global = append(l.global, percent)
}

func (l *recordingListener) OnRangeProgress(id, percent int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ranges[id] = append(l.ranges[id], percent)
}

func (l *recordingListener) OnSpeed(rate string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.speeds = append(l.speeds, rate)
}

func (l *recordingListener) OnFinished(success bool, message string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.finished++
	l.lastSuccess = success
	l.lastMessage = message
}

func (l *recordingListener) finishedCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.finished
}
