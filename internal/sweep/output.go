package sweep

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"image/color"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/pose.robustness/internal/fsutil"
)

// echartsAssetsHost serves the echarts JavaScript for the HTML report.
const echartsAssetsHost = "https://go-echarts.github.io/go-echarts-assets/assets/"

// SummaryHeaders are the CSV column names written by CSVWriter.
var SummaryHeaders = []string{
	"noise_level", "trials", "samples",
	"rot_mean_deg", "rot_std_deg", "rot_median_deg",
	"trans_mean", "trans_std", "trans_median",
}

// CSVWriter writes sweep results as CSV rows.
type CSVWriter struct {
	w *csv.Writer
}

// NewCSVWriter wraps w.
func NewCSVWriter(w io.Writer) *CSVWriter {
	return &CSVWriter{w: csv.NewWriter(w)}
}

// WriteHeader writes the column names.
func (c *CSVWriter) WriteHeader() error {
	return c.w.Write(SummaryHeaders)
}

// WriteRow writes one result and flushes.
func (c *CSVWriter) WriteRow(p PointResult) error {
	row := []string{
		fmt.Sprintf("%.6f", p.NoiseLevel),
		fmt.Sprintf("%d", p.Trials),
		fmt.Sprintf("%d", p.Samples),
		fmt.Sprintf("%.6f", p.RotMean),
		fmt.Sprintf("%.6f", p.RotStd),
		fmt.Sprintf("%.6f", p.RotMedian),
		fmt.Sprintf("%.6f", p.TransMean),
		fmt.Sprintf("%.6f", p.TransStd),
		fmt.Sprintf("%.6f", p.TransMedian),
	}
	if err := c.w.Write(row); err != nil {
		return err
	}
	c.w.Flush()
	return c.w.Error()
}

// WriteCSV writes a header and all results to w.
func WriteCSV(w io.Writer, results []PointResult) error {
	c := NewCSVWriter(w)
	if err := c.WriteHeader(); err != nil {
		return err
	}
	for _, p := range results {
		if err := c.WriteRow(p); err != nil {
			return err
		}
	}
	c.w.Flush()
	return c.w.Error()
}

// Report bundles a finished sweep for the JSON output.
type Report struct {
	Request Request       `json:"request"`
	Results []PointResult `json:"results"`
}

// WriteReportJSON writes the request and results to path.
func WriteReportJSON(fsys fsutil.FileSystem, path string, req Request, results []PointResult) error {
	return fsutil.WriteJSON(fsys, path, Report{Request: req, Results: results})
}

// meanWithStd adapts results to plotter.XYer and plotter.YErrorer.
type meanWithStd struct {
	plotter.XYs
	plotter.YErrors
}

func newMeanWithStd(results []PointResult, mean, std func(PointResult) float64) meanWithStd {
	m := meanWithStd{XYs: make(plotter.XYs, len(results)), YErrors: make(plotter.YErrors, len(results))}
	for i, p := range results {
		m.XYs[i] = plotter.XY{X: p.NoiseLevel, Y: mean(p)}
		m.YErrors[i].Low = -std(p)
		m.YErrors[i].High = std(p)
	}
	return m
}

func errorPlot(title, ylabel string, data meanWithStd, c color.Color) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Noise level σ"
	p.Y.Label.Text = ylabel

	line, points, err := plotter.NewLinePoints(data)
	if err != nil {
		return nil, err
	}
	line.Color = c
	line.Width = vg.Points(1)
	points.Color = c

	bars, err := plotter.NewYErrorBars(data)
	if err != nil {
		return nil, err
	}
	bars.Color = c

	p.Add(line, points, bars, plotter.NewGrid())
	p.Legend.Add("mean ± std", line, points)
	p.Legend.Top = true
	p.Legend.Left = true
	return p, nil
}

// WritePlotPNG renders rotation error against noise level to path and
// translation error to the same name with a "_translation" suffix.
func WritePlotPNG(fsys fsutil.FileSystem, path string, results []PointResult) error {
	if len(results) == 0 {
		return fmt.Errorf("no results to plot")
	}
	rot, err := errorPlot("Rotation error", "Geodesic error (deg)",
		newMeanWithStd(results, func(p PointResult) float64 { return p.RotMean }, func(p PointResult) float64 { return p.RotStd }),
		color.RGBA{R: 31, G: 119, B: 180, A: 255})
	if err != nil {
		return err
	}
	trans, err := errorPlot("Translation error", "Center error / scene scale",
		newMeanWithStd(results, func(p PointResult) float64 { return p.TransMean }, func(p PointResult) float64 { return p.TransStd }),
		color.RGBA{R: 214, G: 39, B: 40, A: 255})
	if err != nil {
		return err
	}

	if err := writePNG(fsys, path, rot); err != nil {
		return err
	}
	return writePNG(fsys, translationPlotPath(path), trans)
}

func writePNG(fsys fsutil.FileSystem, path string, p *plot.Plot) error {
	wt, err := p.WriterTo(8*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		return err
	}
	return fsys.WriteFile(path, buf.Bytes(), 0o644)
}

func translationPlotPath(path string) string {
	if n := len(path); n > 4 && path[n-4:] == ".png" {
		return path[:n-4] + "_translation.png"
	}
	return path + "_translation.png"
}

// RenderHTML renders an interactive echarts page of the sweep.
func RenderHTML(w io.Writer, results []PointResult) error {
	x := make([]string, len(results))
	rotMean := make([]opts.LineData, len(results))
	rotMedian := make([]opts.LineData, len(results))
	transMean := make([]opts.LineData, len(results))
	transMedian := make([]opts.LineData, len(results))
	for i, p := range results {
		x[i] = fmt.Sprintf("%g", p.NoiseLevel)
		rotMean[i] = opts.LineData{Value: p.RotMean}
		rotMedian[i] = opts.LineData{Value: p.RotMedian}
		transMean[i] = opts.LineData{Value: p.TransMean}
		transMedian[i] = opts.LineData{Value: p.TransMedian}
	}

	newChart := func(title, ylabel string) *charts.Line {
		line := charts.NewLine()
		line.SetGlobalOptions(
			charts.WithInitializationOpts(opts.Initialization{Width: "900px", Height: "420px", AssetsHost: echartsAssetsHost}),
			charts.WithTitleOpts(opts.Title{Title: title, Subtitle: fmt.Sprintf("levels=%d", len(results))}),
			charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
			charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
			charts.WithXAxisOpts(opts.XAxis{Name: "σ", Type: "category"}),
			charts.WithYAxisOpts(opts.YAxis{Name: ylabel}),
		)
		line.SetXAxis(x)
		return line
	}

	rot := newChart("Rotation error vs noise", "deg")
	rot.AddSeries("mean", rotMean).AddSeries("median", rotMedian,
		charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(true)}))

	trans := newChart("Translation error vs noise", "center error / scale")
	trans.AddSeries("mean", transMean).AddSeries("median", transMedian,
		charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(true)}))

	page := components.NewPage()
	page.SetPageTitle("Pose noise sweep")
	page.AddCharts(rot, trans)
	return page.Render(w)
}

// WriteHTML renders the echarts page to path.
func WriteHTML(fsys fsutil.FileSystem, path string, results []PointResult) error {
	var buf bytes.Buffer
	if err := RenderHTML(&buf, results); err != nil {
		return fmt.Errorf("render chart: %w", err)
	}
	return fsys.WriteFile(path, buf.Bytes(), 0o644)
}
