package metrics

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
)

func TestWriter(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir)
	if err != nil {
		t.Fatal(err)
	}
	w.AddScalar("train/loss", 0, 2.3)
	w.AddScalar("train/loss", 1, 1.7)
	w.AddScalar("val/top1_acc", 0, 41.5)
	if err = w.Close(); err != nil {
		t.Fatal(err)
	}

	loss := w.Series("train/loss")
	if len(loss) != 2 || loss[0].Value != 2.3 || loss[1].Step != 1 {
		t.Errorf("series %+v", loss)
	}
	tags := w.Tags()
	sort.Strings(tags)
	if len(tags) != 2 || tags[0] != "train/loss" || tags[1] != "val/top1_acc" {
		t.Errorf("tags %v", tags)
	}

	files, err := filepath.Glob(filepath.Join(dir, "logs", "events.*.jsonl"))
	if err != nil || len(files) != 1 {
		t.Fatalf("log files %v %v", files, err)
	}
	f, err := os.Open(files[0])
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	var events []Event
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var ev Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			t.Fatal(err)
		}
		events = append(events, ev)
	}
	if len(events) != 3 {
		t.Fatalf("%d events in log", len(events))
	}
	if events[1].Tag != "train/loss" || events[1].Value != 1.7 {
		t.Errorf("event %+v", events[1])
	}
}

func TestLinePlot(t *testing.T) {
	w, err := NewWriter(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	for i := 0; i < 5; i++ {
		w.AddScalar("train/loss", i, 2.0/float64(i+1))
		w.AddScalar("val/top1_acc", i, float64(50+i))
	}
	svg, err := w.LinePlot("loss", []string{"train/loss", "val/top1_acc"}, 400, 300)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(svg, "<svg") {
		t.Error("output is not svg")
	}
	if len(svg) < 500 {
		t.Errorf("suspiciously small plot: %d bytes", len(svg))
	}
}
