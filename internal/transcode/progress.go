package transcode

import (
	"strconv"
	"strings"
	"sync"
	"time"
)

// Progress is advisory conversion telemetry. Ratio is zero when the source
// duration could not be determined.
type Progress struct {
	Processed time.Duration `json:"processed"`
	Total     time.Duration `json:"total"`
	Ratio     float64       `json:"ratio"`
	Done      bool          `json:"done"`
}

// progressTracker assembles Progress values from ffmpeg output. The stderr banner
// carries the input duration; "-progress pipe:1" emits key=value blocks on stdout.
type progressTracker struct {
	mu        sync.Mutex
	total     time.Duration
	processed time.Duration
	emit      func(Progress)
}

func newProgressTracker(emit func(Progress)) *progressTracker {
	return &progressTracker{emit: emit}
}

func (t *progressTracker) stderrLine(line string) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "Duration:") {
		return
	}
	value := strings.TrimSpace(strings.TrimPrefix(trimmed, "Duration:"))
	if idx := strings.IndexByte(value, ','); idx >= 0 {
		value = value[:idx]
	}
	total, ok := parseClock(value)
	if !ok {
		return
	}

	t.mu.Lock()
	if t.total == 0 {
		t.total = total
	}
	t.mu.Unlock()
}

func (t *progressTracker) stdoutLine(line string) {
	key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
	if !ok {
		return
	}

	switch key {
	case "out_time_us", "out_time_ms":
		// ffmpeg reports both in microseconds.
		us, err := strconv.ParseInt(value, 10, 64)
		if err != nil || us < 0 {
			return
		}
		t.mu.Lock()
		t.processed = time.Duration(us) * time.Microsecond
		t.mu.Unlock()
	case "progress":
		t.mu.Lock()
		p := Progress{
			Processed: t.processed,
			Total:     t.total,
			Done:      value == "end",
		}
		t.mu.Unlock()

		if p.Total > 0 {
			p.Ratio = float64(p.Processed) / float64(p.Total)
			if p.Ratio > 1 {
				p.Ratio = 1
			}
		}
		if p.Done {
			p.Ratio = 1
		}
		if t.emit != nil {
			t.emit(p)
		}
	}
}

// parseClock parses ffmpeg's HH:MM:SS.xx clock format.
func parseClock(value string) (time.Duration, bool) {
	parts := strings.Split(value, ":")
	if len(parts) != 3 {
		return 0, false
	}
	hours, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, false
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, false
	}
	seconds, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return 0, false
	}

	total := time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute +
		time.Duration(seconds*float64(time.Second))
	return total, total > 0
}
