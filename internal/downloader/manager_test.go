package downloader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tanq16/rangedl/internal/utils"
)

func TestManagerDownload(t *testing.T) {
	data := testData(1024*1024 + 5)
	server := newRangeServer(t, data, defaultServerOptions())
	output := filepath.Join(t.TempDir(), "file.bin")
	listener := newRecordingListener()

	m := NewManager(Options{RangeCount: 10, TickInterval: 10 * time.Millisecond, Listener: listener})
	result := m.Run(context.Background(), server.URL+"/file.bin", output)
	if !result.Success {
		t.Fatalf("download failed: %v", result.Err)
	}
	if m.State() != StateCompleted {
		t.Errorf("state = %s, want completed", m.State())
	}

	got, err := os.ReadFile(output)
	if err != nil {
		t.Fatal(err)
	}
	if int64(len(got)) != result.TotalSize || !bytes.Equal(got, data) {
		t.Fatalf("output mismatch: %d bytes, want %d", len(got), len(data))
	}
	if !regexp.MustCompile(`Time: \d{2}:\d{2}`).MatchString(result.Message) {
		t.Errorf("message %q lacks mm:ss elapsed time", result.Message)
	}
	if got := server.gets.Load(); got != 10 {
		t.Errorf("range requests = %d, want 10", got)
	}

	listener.mu.Lock()
	defer listener.mu.Unlock()
	if listener.finished != 1 || !listener.lastSuccess {
		t.Errorf("finished = %d success = %v, want one successful finish", listener.finished, listener.lastSuccess)
	}
	if len(listener.sizes) != 1 || listener.sizes[0] != "1.00 MB" {
		t.Errorf("size events = %v", listener.sizes)
	}
	maxGlobal := 0
	for _, pct := range listener.global {
		maxGlobal = max(maxGlobal, pct)
	}
	if maxGlobal != 100 {
		t.Errorf("max global progress = %d, want 100", maxGlobal)
	}
	for id := range 10 {
		pcts := listener.ranges[id]
		if len(pcts) == 0 || pcts[len(pcts)-1] != 100 {
			t.Errorf("range %d progress = %v, want to end at 100", id, pcts)
			continue
		}
		for i := 1; i < len(pcts); i++ {
			if pcts[i] < pcts[i-1] {
				t.Errorf("range %d progress decreased: %v", id, pcts)
				break
			}
		}
	}
}

func TestManagerOutOfOrderCompletion(t *testing.T) {
	data := testData(64 * 1024)
	opts := defaultServerOptions()
	opts.slowStart = 0
	opts.slowFor = 200 * time.Millisecond
	server := newRangeServer(t, data, opts)
	output := filepath.Join(t.TempDir(), "file.bin")

	m := NewManager(Options{RangeCount: 4})
	result := m.Run(context.Background(), server.URL, output)
	if !result.Success {
		t.Fatalf("download failed: %v", result.Err)
	}
	got, err := os.ReadFile(output)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("output does not match when the first range finishes last")
	}
}

func TestManagerDirectWrite(t *testing.T) {
	data := testData(300*1024 + 17)
	server := newRangeServer(t, data, defaultServerOptions())
	dir := t.TempDir()
	output := filepath.Join(dir, "direct.bin")

	m := NewManager(Options{RangeCount: 6, DirectWrite: true})
	result := m.Run(context.Background(), server.URL, output)
	if !result.Success {
		t.Fatalf("download failed: %v", result.Err)
	}
	got, err := os.ReadFile(output)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("direct-write output mismatch")
	}
	if _, err := os.Stat(filepath.Join(dir, ".rangedl-temp")); !os.IsNotExist(err) {
		t.Errorf("temp dir left behind: %v", err)
	}
}

func TestManagerMissingLength(t *testing.T) {
	opts := defaultServerOptions()
	opts.omitLength = true
	server := newRangeServer(t, testData(1000), opts)
	output := filepath.Join(t.TempDir(), "file.bin")
	listener := newRecordingListener()

	m := NewManager(Options{Listener: listener})
	result := m.Run(context.Background(), server.URL, output)
	if result.Success {
		t.Fatal("download succeeded without a Content-Length")
	}
	if !errors.Is(result.Err, ErrSizeUnavailable) {
		t.Errorf("err = %v, want ErrSizeUnavailable", result.Err)
	}
	if m.State() != StateFailed {
		t.Errorf("state = %s, want failed", m.State())
	}
	if got := server.gets.Load(); got != 0 {
		t.Errorf("range requests = %d, want 0", got)
	}
	if listener.finishedCount() != 1 {
		t.Errorf("finished = %d, want 1", listener.finishedCount())
	}
	if _, err := os.Stat(output); !os.IsNotExist(err) {
		t.Errorf("output file created: %v", err)
	}
}

func TestManagerRangeFailureCancelsSiblings(t *testing.T) {
	data := testData(1000)
	opts := defaultServerOptions()
	opts.failStart = 500
	opts.blockOthers = true
	server := newRangeServer(t, data, opts)
	output := filepath.Join(t.TempDir(), "file.bin")
	listener := newRecordingListener()

	m := NewManager(Options{RangeCount: 10, Listener: listener})
	start := time.Now()
	result := m.Run(context.Background(), server.URL, output)
	if result.Success {
		t.Fatal("download succeeded with a failing range")
	}
	if !errors.Is(result.Err, ErrRangeFetchFailed) {
		t.Errorf("err = %v, want ErrRangeFetchFailed", result.Err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("failure took %s; blocked siblings were not cancelled", elapsed)
	}

	time.Sleep(100 * time.Millisecond)
	if listener.finishedCount() != 1 {
		t.Errorf("finished = %d, want exactly 1", listener.finishedCount())
	}
	if _, err := os.Stat(output); !os.IsNotExist(err) {
		t.Errorf("output file created: %v", err)
	}
}

func TestManagerRangeNotHonored(t *testing.T) {
	opts := defaultServerOptions()
	opts.ignoreRange = true
	server := newRangeServer(t, testData(4096), opts)

	m := NewManager(Options{RangeCount: 4})
	result := m.Run(context.Background(), server.URL, filepath.Join(t.TempDir(), "file.bin"))
	if !errors.Is(result.Err, ErrRangeNotHonored) {
		t.Fatalf("err = %v, want ErrRangeNotHonored", result.Err)
	}
	if !errors.Is(result.Err, ErrRangeFetchFailed) {
		t.Errorf("err = %v, want it wrapped in ErrRangeFetchFailed", result.Err)
	}
}

func TestManagerFileCreateFailed(t *testing.T) {
	server := newRangeServer(t, testData(2048), defaultServerOptions())
	output := filepath.Join(t.TempDir(), "no", "such", "dir", "file.bin")

	m := NewManager(Options{RangeCount: 2})
	result := m.Run(context.Background(), server.URL, output)
	if !errors.Is(result.Err, ErrFileCreateFailed) {
		t.Fatalf("err = %v, want ErrFileCreateFailed", result.Err)
	}
	if m.State() != StateFailed {
		t.Errorf("state = %s, want failed", m.State())
	}
}

func TestManagerCancel(t *testing.T) {
	opts := defaultServerOptions()
	opts.blockOthers = true
	server := newRangeServer(t, testData(1000), opts)
	listener := newRecordingListener()

	m := NewManager(Options{RangeCount: 4, Listener: listener})
	m.StartDownload(server.URL, filepath.Join(t.TempDir(), "file.bin"))
	deadline := time.Now().Add(5 * time.Second)
	for m.State() != StateDownloading && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	m.Cancel()

	result := m.Wait()
	if !errors.Is(result.Err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", result.Err)
	}
	if listener.finishedCount() != 1 {
		t.Errorf("finished = %d, want 1", listener.finishedCount())
	}
}

func TestManagerRestartDiscardsPreviousJob(t *testing.T) {
	slowOpts := defaultServerOptions()
	slowOpts.blockOthers = true
	slow := newRangeServer(t, testData(1000), slowOpts)
	data := testData(5000)
	fast := newRangeServer(t, data, defaultServerOptions())
	dir := t.TempDir()

	m := NewManager(Options{RangeCount: 3})
	m.StartDownload(slow.URL, filepath.Join(dir, "slow.bin"))
	secondID := m.StartDownload(fast.URL, filepath.Join(dir, "fast.bin"))

	result := m.Wait()
	if result.JobID != secondID {
		t.Fatalf("Wait returned job %s, want %s", result.JobID, secondID)
	}
	if !result.Success {
		t.Fatalf("second download failed: %v", result.Err)
	}
	got, err := os.ReadFile(filepath.Join(dir, "fast.bin"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("second download output mismatch")
	}
	if _, err := os.Stat(filepath.Join(dir, "slow.bin")); !os.IsNotExist(err) {
		t.Errorf("cancelled job wrote its file: %v", err)
	}
}

func TestManagerRateLimit(t *testing.T) {
	data := testData(96 * 1024)
	server := newRangeServer(t, data, defaultServerOptions())
	output := filepath.Join(t.TempDir(), "file.bin")

	m := NewManager(Options{RangeCount: 3, RateLimit: 64 * 1024})
	result := m.Run(context.Background(), server.URL, output)
	if !result.Success {
		t.Fatalf("download failed: %v", result.Err)
	}
	got, err := os.ReadFile(output)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("rate limited output mismatch")
	}
}

func TestChannelListener(t *testing.T) {
	server := newRangeServer(t, testData(2048), defaultServerOptions())
	listener := NewChannelListener(4096)

	m := NewManager(Options{RangeCount: 2, Listener: listener})
	result := m.Run(context.Background(), server.URL, filepath.Join(t.TempDir(), "file.bin"))
	if !result.Success {
		t.Fatalf("download failed: %v", result.Err)
	}

	var sawSize, sawFinished bool
	for {
		select {
		case ev := <-listener.Events():
			switch ev.Kind {
			case EventFileSize:
				sawSize = ev.Text == "2.00 KB"
			case EventFinished:
				sawFinished = ev.Success
			}
			continue
		default:
		}
		break
	}
	if !sawSize || !sawFinished {
		t.Errorf("sawSize=%v sawFinished=%v", sawSize, sawFinished)
	}
}

func TestManagerSlowTransferOutlivesTimeout(t *testing.T) {
	data := testData(2000)
	opts := defaultServerOptions()
	opts.dripEvery = 60 * time.Millisecond
	server := newRangeServer(t, data, opts)
	output := filepath.Join(t.TempDir(), "file.bin")

	m := NewManager(Options{
		RangeCount:       2,
		HTTPClientConfig: utils.HTTPClientConfig{Timeout: 200 * time.Millisecond},
	})
	start := time.Now()
	result := m.Run(context.Background(), server.URL, output)
	if !result.Success {
		t.Fatalf("download failed while data was still flowing: %v", result.Err)
	}
	if elapsed := time.Since(start); elapsed < 400*time.Millisecond {
		t.Fatalf("transfer took %s; the server did not throttle", elapsed)
	}
	got, err := os.ReadFile(output)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("output mismatch")
	}
}

func TestManagerByteCountMismatch(t *testing.T) {
	tests := []struct {
		name  string
		delta int
	}{
		{"short body", -10},
		{"long body", 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := defaultServerOptions()
			opts.bodyDelta = tt.delta
			server := newRangeServer(t, testData(1000), opts)
			output := filepath.Join(t.TempDir(), "file.bin")
			listener := newRecordingListener()

			m := NewManager(Options{RangeCount: 2, Listener: listener})
			result := m.Run(context.Background(), server.URL, output)
			if result.Success {
				t.Fatal("download succeeded with a wrong-sized range")
			}
			if !errors.Is(result.Err, ErrRangeFetchFailed) {
				t.Errorf("err = %v, want ErrRangeFetchFailed", result.Err)
			}
			if !strings.Contains(result.Err.Error(), "size mismatch") {
				t.Errorf("err = %v, want a size mismatch", result.Err)
			}
			if _, err := os.Stat(output); !os.IsNotExist(err) {
				t.Errorf("output file created: %v", err)
			}
			if listener.finishedCount() != 1 {
				t.Errorf("finished = %d, want 1", listener.finishedCount())
			}
		})
	}
}

func TestManagerContentRangeVerified(t *testing.T) {
	for _, mode := range []string{"missing", "shifted"} {
		t.Run(mode, func(t *testing.T) {
			opts := defaultServerOptions()
			opts.rangeHeader = mode
			server := newRangeServer(t, testData(1000), opts)
			output := filepath.Join(t.TempDir(), "file.bin")

			m := NewManager(Options{RangeCount: 2})
			result := m.Run(context.Background(), server.URL, output)
			if !errors.Is(result.Err, ErrRangeNotHonored) {
				t.Fatalf("err = %v, want ErrRangeNotHonored", result.Err)
			}
			if _, err := os.Stat(output); !os.IsNotExist(err) {
				t.Errorf("output file created: %v", err)
			}
		})
	}
}

func TestManagerReportsSpeed(t *testing.T) {
	opts := defaultServerOptions()
	opts.slowStart = 0
	opts.slowFor = 150 * time.Millisecond
	server := newRangeServer(t, testData(8192), opts)
	listener := newRecordingListener()

	m := NewManager(Options{RangeCount: 2, TickInterval: 10 * time.Millisecond, Listener: listener})
	result := m.Run(context.Background(), server.URL, filepath.Join(t.TempDir(), "file.bin"))
	if !result.Success {
		t.Fatalf("download failed: %v", result.Err)
	}

	listener.mu.Lock()
	speeds := append([]string(nil), listener.speeds...)
	listener.mu.Unlock()
	if len(speeds) == 0 {
		t.Fatal("no speed events while a range was in flight")
	}
	for _, s := range speeds {
		if !strings.HasSuffix(s, "/s") {
			t.Errorf("speed %q lacks a /s unit", s)
		}
	}

	time.Sleep(50 * time.Millisecond)
	listener.mu.Lock()
	after := len(listener.speeds)
	listener.mu.Unlock()
	if after != len(speeds) {
		t.Errorf("speed events kept arriving after the job ended: %d -> %d", len(speeds), after)
	}
}

func TestManagerInfersOutputWithSingleProbe(t *testing.T) {
	data := testData(4096)
	server := newRangeServer(t, data, defaultServerOptions())
	dir := t.TempDir()

	var suggested string
	m := NewManager(Options{
		RangeCount: 2,
		ResolveOutput: func(path string) string {
			suggested = path
			return filepath.Join(dir, path)
		},
	})
	result := m.Run(context.Background(), server.URL+"/files/archive.bin", "")
	if !result.Success {
		t.Fatalf("download failed: %v", result.Err)
	}
	if suggested != "archive.bin" {
		t.Errorf("suggested name = %q, want archive.bin", suggested)
	}
	if result.Path != filepath.Join(dir, "archive.bin") {
		t.Errorf("result path = %q", result.Path)
	}
	if got := server.heads.Load(); got != 1 {
		t.Errorf("HEAD requests = %d, want 1", got)
	}
	got, err := os.ReadFile(result.Path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("output mismatch")
	}
}

func TestManagerConcurrentStartsLeaveOneJob(t *testing.T) {
	opts := defaultServerOptions()
	opts.blockOthers = true
	server := newRangeServer(t, testData(1000), opts)
	dir := t.TempDir()
	listener := newRecordingListener()

	m := NewManager(Options{RangeCount: 2, Listener: listener})
	const starts = 5
	var wg sync.WaitGroup
	for i := range starts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.StartDownload(server.URL, filepath.Join(dir, fmt.Sprintf("file-%d.bin", i)))
		}()
	}
	wg.Wait()
	m.Cancel()
	if result := m.Wait(); !errors.Is(result.Err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", result.Err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for listener.finishedCount() < starts && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := listener.finishedCount(); got != starts {
		t.Errorf("finished = %d, want %d; a job escaped cancellation", got, starts)
	}
}
