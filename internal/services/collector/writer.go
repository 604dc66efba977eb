package collector

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/natefinch/atomic"

	"github.com/LeonardoBeccarini/smartmeter_sim/internal/model"
	"github.com/LeonardoBeccarini/smartmeter_sim/internal/model/messages"
)

// ErrCorruptLog is returned by Load when the file is not a JSON array of readings.
var ErrCorruptLog = errors.New("corrupt log file")

// Policy decides what happens to an existing log file at start.
type Policy string

const (
	// PolicyResume seeds the in-memory log from the file.
	PolicyResume Policy = "resume"
	// PolicyReset truncates the file to an empty array.
	PolicyReset Policy = "reset"
)

// FileWriter rewrites the whole log file on every flush and tracks the last
// failure for /healthz and /readyz.
type FileWriter struct {
	path string

	mu      sync.RWMutex
	lastErr time.Time
	flushes int64
}

func NewFileWriter(path string) *FileWriter {
	return &FileWriter{
		path:    path,
		lastErr: time.Now().Add(-24 * time.Hour),
	}
}

func (w *FileWriter) Path() string { return w.path }

// Flush replaces the file with entries as an indented JSON array. Readers
// see either the previous or the new content, never a partial write.
func (w *FileWriter) Flush(entries []model.LogEntry) error {
	if entries == nil {
		entries = []model.LogEntry{}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return w.fail(fmt.Errorf("encode log: %w", err))
	}
	if err := atomic.WriteFile(w.path, bytes.NewReader(data)); err != nil {
		return w.fail(fmt.Errorf("write log %s: %w", w.path, err))
	}
	w.mu.Lock()
	w.flushes++
	w.mu.Unlock()
	return nil
}

func (w *FileWriter) fail(err error) error {
	w.mu.Lock()
	w.lastErr = time.Now()
	w.mu.Unlock()
	return err
}

// Load reads a previously flushed log. A missing file is an empty log.
// Entries that fail validation are left out and counted in dropped.
func (w *FileWriter) Load() (entries []model.LogEntry, dropped int, err error) {
	data, err := os.ReadFile(w.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("read log %s: %w", w.path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, 0, nil
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, 0, fmt.Errorf("%w: %s: %v", ErrCorruptLog, w.path, err)
	}
	entries = make([]model.LogEntry, 0, len(raw))
	for _, item := range raw {
		r, err := messages.DecodeReading(item)
		if err != nil {
			dropped++
			continue
		}
		entries = append(entries, r)
	}
	return entries, dropped, nil
}

// LastErrorAge is the time since the last failed flush.
func (w *FileWriter) LastErrorAge() time.Duration {
	if w == nil {
		return 99999 * time.Hour
	}
	w.mu.RLock()
	t := w.lastErr
	w.mu.RUnlock()
	return time.Since(t)
}

// Flushes counts successful writes.
func (w *FileWriter) Flushes() int64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.flushes
}
