// Package metrics records scalar training metrics to a log directory and
// renders them as SVG plots for the monitor page.
package metrics

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Event is one scalar observation.
type Event struct {
	Tag   string  `json:"tag"`
	Step  int     `json:"step"`
	Value float64 `json:"value"`
	Time  int64   `json:"time"`
}

// Writer appends scalar events to a JSONL file under <dir>/logs, one file
// per run named by start timestamp. Safe for concurrent use.
type Writer struct {
	mu     sync.Mutex
	f      *os.File
	enc    *json.Encoder
	series map[string][]Event
}

// NewWriter creates the log directory and opens a new run file.
func NewWriter(saveDir string) (*Writer, error) {
	dir := filepath.Join(saveDir, "logs")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating log dir: %w", err)
	}
	name := filepath.Join(dir, fmt.Sprintf("events.%s.jsonl", time.Now().Format("20060102-150405")))
	f, err := os.Create(name)
	if err != nil {
		return nil, fmt.Errorf("creating metrics log: %w", err)
	}
	return &Writer{f: f, enc: json.NewEncoder(f), series: map[string][]Event{}}, nil
}

// AddScalar records one scalar value for a tag at the given step.
func (w *Writer) AddScalar(tag string, step int, value float64) {
	ev := Event{Tag: tag, Step: step, Value: value, Time: time.Now().Unix()}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.series[tag] = append(w.series[tag], ev)
	if err := w.enc.Encode(ev); err == nil {
		w.f.Sync()
	}
}

// Series returns all recorded events for a tag in step order.
func (w *Writer) Series(tag string) []Event {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]Event{}, w.series[tag]...)
}

// Tags lists the tags seen so far.
func (w *Writer) Tags() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	tags := make([]string, 0, len(w.series))
	for tag := range w.series {
		tags = append(tags, tag)
	}
	return tags
}

// Close flushes and closes the run file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}
