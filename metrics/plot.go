package metrics

import (
	"bytes"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// LinePlot renders one or more metric series as an SVG line chart, returning
// the SVG document source.
func (w *Writer) LinePlot(title string, tags []string, width, height int) (string, error) {
	plt := plot.New()
	plt.Title.Text = title
	plt.X.Label.Text = "epoch"
	plt.Add(plotter.NewGrid())
	plt.Legend.Top = true
	for i, tag := range tags {
		events := w.Series(tag)
		if len(events) == 0 {
			continue
		}
		pts := make(plotter.XYs, len(events))
		for j, ev := range events {
			pts[j].X, pts[j].Y = float64(ev.Step), ev.Value
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return "", err
		}
		line.Width = 2
		line.Color = plotutil.Color(i)
		plt.Add(line)
		plt.Legend.Add(tag+" ", line)
	}
	var buf bytes.Buffer
	writer, err := plt.WriterTo(vg.Points(float64(width)), vg.Points(float64(height)), "svg")
	if err != nil {
		return "", err
	}
	if _, err := writer.WriteTo(&buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}
