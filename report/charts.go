package report

import (
	"errors"
	"fmt"
	"os"

	"github.com/TFMV/blotter/query"
	chart "github.com/wcharczuk/go-chart/v2"
)

// ErrNoData is returned for an aggregate with nothing to draw.
var ErrNoData = errors.New("no data to plot")

const (
	barWidth   = 24
	barSpacing = 8
	minWidth   = 800
)

// label renders a group key for chart axes.
func label(b query.Bucket) string {
	if b.Key.IsNull() {
		return "(blank)"
	}
	return b.Key.String()
}

// BarChart renders buckets as a PNG bar chart at path. Bars appear in the
// order given.
func BarChart(path, title, ylabel string, buckets []query.Bucket) error {
	if len(buckets) == 0 {
		return ErrNoData
	}
	bars := make([]chart.Value, len(buckets))
	var top float64
	for i, b := range buckets {
		bars[i] = chart.Value{Label: label(b), Value: float64(b.Count)}
		top = max(top, float64(b.Count))
	}

	graph := chart.BarChart{
		Title:  title,
		Width:  max(minWidth, len(bars)*(barWidth+barSpacing)+160),
		Height: 720,
		Background: chart.Style{
			Padding: chart.Box{Top: 48, Left: 24, Right: 24, Bottom: 24},
		},
		BarWidth:     barWidth,
		BarSpacing:   barSpacing,
		UseBaseValue: true,
		BaseValue:    0,
		XAxis: chart.Style{
			TextRotationDegrees: 90,
		},
		YAxis: chart.YAxis{
			Name:  ylabel,
			Range: &chart.ContinuousRange{Min: 0, Max: top * 1.1},
		},
		Bars: bars,
	}
	return render(path, func(f *os.File) error { return graph.Render(chart.PNG, f) })
}

// PieChart renders buckets as a PNG pie chart at path, labelling each slice
// with its share of the total.
func PieChart(path, title string, buckets []query.Bucket) error {
	var total int64
	for _, b := range buckets {
		total += b.Count
	}
	if total == 0 {
		return ErrNoData
	}
	values := make([]chart.Value, len(buckets))
	for i, b := range buckets {
		share := 100 * float64(b.Count) / float64(total)
		values[i] = chart.Value{
			Label: fmt.Sprintf("%s %.1f%%", label(b), share),
			Value: float64(b.Count),
		}
	}

	graph := chart.PieChart{
		Title:  title,
		Width:  1000,
		Height: 1000,
		Values: values,
	}
	return render(path, func(f *os.File) error { return graph.Render(chart.PNG, f) })
}

func render(path string, draw func(f *os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("chart: create %q: %w", path, err)
	}
	if err := draw(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("chart: render %q: %w", path, err)
	}
	return f.Close()
}
