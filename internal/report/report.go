package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"

	"backlab/internal/backtest"
)

const (
	colorBackground    = "#060c1b"
	colorTextPrimary   = "#eceff4"
	colorTextSecondary = "#9ca3af"
	colorEquity        = "#3b82f6"
	colorWin           = "#34d399"
	colorLoss          = "#f87171"

	chartWidthPx   = 1400
	equityHeightPx = 520
	tradesHeightPx = 320
)

// Render writes a self-contained HTML report for one finished run: the
// balance curve plus a per-trade profit bar chart.
func Render(w io.Writer, run backtest.Run, trades []backtest.Trade, equity []backtest.EquityPoint) error {
	if len(equity) == 0 {
		return fmt.Errorf("run %s has no equity curve to render", run.ID)
	}
	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)
	page.AddCharts(buildEquityChart(run, equity))
	if len(trades) > 0 {
		page.AddCharts(buildTradesChart(run, trades))
	}
	return page.Render(w)
}

func buildEquityChart(run backtest.Run, equity []backtest.EquityPoint) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           types.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", chartWidthPx),
			Height:          fmt.Sprintf("%dpx", equityHeightPx),
			BackgroundColor: colorBackground,
		}),
		charts.WithTitleOpts(opts.Title{
			Title:         fmt.Sprintf("%s %s equity", strings.ToUpper(run.Symbol), run.Timeframe),
			Subtitle:      fmt.Sprintf("initial %s, final %s, status %s", run.InitialBalance, run.FinalBalance, run.Status),
			Left:          "left",
			TitleStyle:    &opts.TextStyle{Color: colorTextPrimary, FontSize: 18},
			SubtitleStyle: &opts.TextStyle{Color: colorTextSecondary},
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
		charts.WithXAxisOpts(opts.XAxis{
			Type:      "category",
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Scale:     opts.Bool(true),
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.2)}},
		}),
	)
	xAxis := make([]string, len(equity))
	data := make([]opts.LineData, len(equity))
	for i, p := range equity {
		xAxis[i] = time.UnixMilli(p.Time).UTC().Format("01-02 15:04")
		v, _ := p.Balance.Float64()
		data[i] = opts.LineData{Value: v}
	}
	line.SetXAxis(xAxis)
	line.AddSeries("Balance", data,
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorEquity, Width: 2}),
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
	)
	return line
}

func buildTradesChart(run backtest.Run, trades []backtest.Trade) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           types.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", chartWidthPx),
			Height:          fmt.Sprintf("%dpx", tradesHeightPx),
			BackgroundColor: colorBackground,
		}),
		charts.WithTitleOpts(opts.Title{
			Title:      fmt.Sprintf("Trade profit (%d trades)", len(trades)),
			Left:       "left",
			TitleStyle: &opts.TextStyle{Color: colorTextPrimary},
		}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(false)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{AxisLabel: &opts.AxisLabel{Color: colorTextSecondary}}),
		charts.WithYAxisOpts(opts.YAxis{
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.15)}},
		}),
	)
	xAxis := make([]string, len(trades))
	data := make([]opts.BarData, len(trades))
	for i, t := range trades {
		xAxis[i] = time.UnixMilli(t.ExitTime).UTC().Format("01-02 15:04")
		pnl, _ := t.Pnl.Float64()
		color := colorLoss
		if pnl >= 0 {
			color = colorWin
		}
		data[i] = opts.BarData{
			Value:     pnl,
			ItemStyle: &opts.ItemStyle{Color: color, Opacity: opts.Float(0.8)},
		}
	}
	bar.SetXAxis(xAxis)
	bar.AddSeries("PnL", data)
	return bar
}
