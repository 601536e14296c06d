package render

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/wcharczuk/go-chart/v2"

	"github.com/opd-ai/go-contagion/pkg/entity"
	"github.com/opd-ai/go-contagion/pkg/metrics"
)

// ErrNotEnoughSamples is returned when a chart would have fewer than two
// points per series.
var ErrNotEnoughSamples = errors.New("at least two metrics samples are required")

// stackOrder lists the states from the top band of the diagram to the bottom
var stackOrder = []entity.Kind{entity.Immune, entity.Susceptible, entity.Exposed, entity.Infectious, entity.Dead}

// ChartOptions sizes the metrics diagram
type ChartOptions struct {
	Width    int
	Height   int
	Duration float64
	Palette  Palette
}

// DefaultChartOptions returns a 1024x400 diagram spanning duration seconds
func DefaultChartOptions(duration float64) ChartOptions {
	return ChartOptions{
		Width:    1024,
		Height:   400,
		Duration: duration,
		Palette:  DefaultPalette(),
	}
}

// stackedSeries returns, per state in stackOrder, the running sum of its
// share and all shares below it, so the bands add up to the whole population.
func stackedSeries(samples []metrics.Sample) (xs []float64, ys [][]float64) {
	xs = make([]float64, len(samples))
	ys = make([][]float64, len(stackOrder))
	for i := range ys {
		ys[i] = make([]float64, len(samples))
	}

	for j, s := range samples {
		xs[j] = s.Time
		sum := 0.0
		for i := len(stackOrder) - 1; i >= 0; i-- {
			sum += s.Metrics.Of(stackOrder[i])
			ys[i][j] = sum
		}
	}
	return xs, ys
}

// WriteChart renders samples as a stacked area PNG
func WriteChart(w io.Writer, samples []metrics.Sample, opts ChartOptions) error {
	if len(samples) < 2 {
		return ErrNotEnoughSamples
	}

	xs, ys := stackedSeries(samples)
	series := make([]chart.Series, 0, len(stackOrder))
	for i, kind := range stackOrder {
		color := chartColor(opts.Palette.Color(kind))
		series = append(series, chart.ContinuousSeries{
			Name:    kind.String(),
			XValues: xs,
			YValues: ys[i],
			Style: chart.Style{
				StrokeColor: color,
				FillColor:   color,
				StrokeWidth: 1.0,
			},
		})
	}

	xMax := opts.Duration
	if last := xs[len(xs)-1]; last > xMax {
		xMax = last
	}

	graph := chart.Chart{
		Width:  opts.Width,
		Height: opts.Height,
		Background: chart.Style{
			Padding: chart.Box{Top: 20, Left: 20, Right: 20, Bottom: 20},
		},
		XAxis: chart.XAxis{
			Name:  "Time (s)",
			Style: chart.Style{FontSize: 10.0},
			Range: &chart.ContinuousRange{Min: 0, Max: xMax},
			ValueFormatter: func(v interface{}) string {
				return fmt.Sprintf("%.0f", v.(float64))
			},
		},
		YAxis: chart.YAxis{
			Style: chart.Style{FontSize: 10.0},
			Range: &chart.ContinuousRange{Min: 0, Max: 1},
			ValueFormatter: func(v interface{}) string {
				return fmt.Sprintf("%.0f%%", 100*v.(float64))
			},
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	if err := graph.Render(chart.PNG, w); err != nil {
		return fmt.Errorf("failed to render chart: %w", err)
	}
	return nil
}

// SaveChart writes the diagram to a PNG file at path
func SaveChart(path string, samples []metrics.Sample, opts ChartOptions) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create chart file: %w", err)
	}

	if err := WriteChart(f, samples, opts); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
