package valuation

// Plot-ready series for the reporting consumer, plus a server-side PNG
// rendering of the same data.

import (
	"bytes"
	"fmt"
	"time"

	"github.com/wcharczuk/go-chart/v2"

	"github.com/aristath/stockwatch/internal/domain"
)

// palette matches the display order colours the report UI has always used.
var palette = []string{
	"orange",
	"red",
	"green",
	"blue",
	"purple",
	"grey",
	"yellow",
	"maroon",
	"cyan",
	"brown",
	"black",
}

// PlotSeries is one position's line: ISO 8601 dates, relative P/L values
// and a display colour.
type PlotSeries struct {
	Label  string    `json:"label"`
	Dates  []string  `json:"dates"`
	Values []float64 `json:"values"`
	Color  string    `json:"color"`
}

// PlotData builds plot-ready series for open positions, in display order.
func (s *Service) PlotData(open []domain.Position) []PlotSeries {
	labels := make(map[string]struct{})
	out := make([]PlotSeries, 0, len(open))

	for i, p := range open {
		dates := make([]string, len(p.Series))
		values := make([]float64, len(p.Series))
		for j, pt := range p.Series {
			dates[j] = pt.Date.Format("2006-01-02")
			values[j] = pt.PL
		}

		out = append(out, PlotSeries{
			Label:  uniqueLabel(p.Symbol, labels),
			Dates:  dates,
			Values: values,
			Color:  palette[i%len(palette)],
		})
	}

	return out
}

// RenderChart draws the open positions' relative P/L history as a PNG.
func (s *Service) RenderChart(open []domain.Position) ([]byte, error) {
	labels := make(map[string]struct{})
	var chartSeries []chart.Series

	for _, p := range open {
		if len(p.Series) < 2 {
			// go-chart needs at least two points to draw a line
			continue
		}
		xs := make([]time.Time, len(p.Series))
		ys := make([]float64, len(p.Series))
		for j, pt := range p.Series {
			xs[j] = pt.Date
			ys[j] = pt.PL * 100
		}
		chartSeries = append(chartSeries, chart.TimeSeries{
			Name:    uniqueLabel(p.Symbol, labels),
			XValues: xs,
			YValues: ys,
		})
	}

	if len(chartSeries) == 0 {
		return nil, fmt.Errorf("no plottable series")
	}

	graph := chart.Chart{
		Width:  1024,
		Height: 512,
		YAxis: chart.YAxis{
			Name: "P/L %",
		},
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeDateValueFormatter,
		},
		Series: chartSeries,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	var buf bytes.Buffer
	if err := graph.Render(chart.PNG, &buf); err != nil {
		return nil, fmt.Errorf("failed to render chart: %w", err)
	}

	return buf.Bytes(), nil
}
