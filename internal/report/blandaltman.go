// Package report renders stored analyses and summaries as charts and
// spreadsheets.
package report

import (
	"errors"
	"fmt"
	"image/color"
	"io"
	"math"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/luna-labs/accuracy.report/internal/analysis"
	"github.com/luna-labs/accuracy.report/internal/vitals"
)

var (
	ErrNoComparison = errors.New("no comparison against device")
	ErrNoPairs      = errors.New("comparison has no matched pairs")
)

// BlandAltmanChart is the plottable agreement data for the band against
// one benchmark device in one session.
type BlandAltmanChart struct {
	SessionID string
	Device    vitals.DeviceType
	Metric    vitals.Metric
	Result    *analysis.BlandAltmanResult
}

// NewBlandAltmanChart picks the band-vs-device comparison out of a stored
// analysis.
func NewBlandAltmanChart(a *analysis.SessionAnalysis, device vitals.DeviceType) (*BlandAltmanChart, error) {
	for _, c := range a.Comparisons {
		if c.D1 != vitals.DeviceLuna || c.D2 != device {
			continue
		}
		if !c.HasData() || c.BlandAltman == nil || len(c.BlandAltman.Averages) == 0 {
			return nil, fmt.Errorf("session %s vs %s: %w", a.SessionID, device, ErrNoPairs)
		}
		return &BlandAltmanChart{SessionID: a.SessionID, Device: device, Metric: a.Metric, Result: c.BlandAltman}, nil
	}
	return nil, fmt.Errorf("session %s: %w %s", a.SessionID, ErrNoComparison, device)
}

func (c *BlandAltmanChart) title() string {
	return fmt.Sprintf("Bland-Altman: luna vs %s (%s)", c.Device, c.Metric)
}

// xRange is the span of averages, padded so single-point charts still
// have width.
func (c *BlandAltmanChart) xRange() (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, v := range c.Result.Averages {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if hi-lo < 1 {
		lo, hi = lo-1, hi+1
	}
	return lo, hi
}

func horizontal(y, x0, x1 float64, col color.Color, dashed bool) (*plotter.Line, error) {
	l, err := plotter.NewLine(plotter.XYs{{X: x0, Y: y}, {X: x1, Y: y}})
	if err != nil {
		return nil, err
	}
	l.Color = col
	l.Width = vg.Points(1)
	if dashed {
		l.Dashes = []vg.Length{vg.Points(4), vg.Points(3)}
	}
	return l, nil
}

// WritePNG draws average against difference with the bias and the
// limits of agreement as horizontal lines.
func (c *BlandAltmanChart) WritePNG(w io.Writer) error {
	p := plot.New()
	p.Title.Text = c.title()
	p.X.Label.Text = fmt.Sprintf("Mean of luna and %s (%s)", c.Device, c.Metric.Unit())
	p.Y.Label.Text = fmt.Sprintf("luna - %s (%s)", c.Device, c.Metric.Unit())

	pts := make(plotter.XYs, len(c.Result.Averages))
	for i := range c.Result.Averages {
		pts[i] = plotter.XY{X: c.Result.Averages[i], Y: c.Result.Differences[i]}
	}
	scatter, err := plotter.NewScatter(pts)
	if err != nil {
		return err
	}
	scatter.GlyphStyle.Shape = draw.CircleGlyph{}
	scatter.GlyphStyle.Radius = vg.Points(2)
	scatter.GlyphStyle.Color = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	p.Add(scatter)

	x0, x1 := c.xRange()
	bias, err := horizontal(c.Result.MeanDifference, x0, x1, color.Black, false)
	if err != nil {
		return err
	}
	red := color.RGBA{R: 214, G: 39, B: 40, A: 255}
	upper, err := horizontal(c.Result.UpperLimit, x0, x1, red, true)
	if err != nil {
		return err
	}
	lower, err := horizontal(c.Result.LowerLimit, x0, x1, red, true)
	if err != nil {
		return err
	}
	p.Add(bias, upper, lower, plotter.NewGrid())
	p.Legend.Add(fmt.Sprintf("bias %.2f", c.Result.MeanDifference), bias)
	p.Legend.Add(fmt.Sprintf("+1.96 SD %.2f", c.Result.UpperLimit), upper)
	p.Legend.Add(fmt.Sprintf("-1.96 SD %.2f", c.Result.LowerLimit), lower)
	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	wt, err := p.WriterTo(8*vg.Inch, 5*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("failed to render plot: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}

// WriteHTML renders the same chart as an interactive go-echarts page.
func (c *BlandAltmanChart) WriteHTML(w io.Writer) error {
	data := make([]opts.ScatterData, len(c.Result.Averages))
	for i := range c.Result.Averages {
		data[i] = opts.ScatterData{Value: []interface{}{c.Result.Averages[i], c.Result.Differences[i]}}
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: c.title(), Width: "900px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    c.title(),
			Subtitle: fmt.Sprintf("session=%s pairs=%d within limits=%.1f%%", c.SessionID, len(data), c.Result.PercentageInLimits),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Mean (" + c.Metric.Unit() + ")", NameLocation: "middle", NameGap: 25, Scale: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Difference (" + c.Metric.Unit() + ")", NameLocation: "middle", NameGap: 35, Scale: opts.Bool(true)}),
	)
	scatter.AddSeries("pairs", data,
		charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 6}),
		charts.WithMarkLineNameYAxisItemOpts(
			opts.MarkLineNameYAxisItem{Name: "bias", YAxis: c.Result.MeanDifference},
			opts.MarkLineNameYAxisItem{Name: "+1.96 SD", YAxis: c.Result.UpperLimit},
			opts.MarkLineNameYAxisItem{Name: "-1.96 SD", YAxis: c.Result.LowerLimit},
		),
	)
	return scatter.Render(w)
}
