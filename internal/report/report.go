// Package report renders backtest output as terminal tables.
package report

import (
	"fmt"
	"io"
	"math"

	"rsi-grid-bot/internal/backtest"

	"github.com/olekukonko/tablewriter"
)

// Matrix prints m with one row per exit threshold and one column per entry
// threshold. When counts is non-nil and has the same shape, each cell is
// annotated with its trade count.
func Matrix(w io.Writer, m *backtest.Matrix, counts *backtest.Matrix) error {
	rows, cols := m.Shape()
	annotate := counts != nil
	if annotate {
		if r, c := counts.Shape(); r != rows || c != cols {
			return fmt.Errorf("trade count matrix is %dx%d, want %dx%d", r, c, rows, cols)
		}
	}
	fmt.Fprintf(w, "%s (rows: exit, columns: entry)\n", m.Metric)
	header := make([]any, 0, cols+1)
	header = append(header, "exit\\entry")
	for _, entry := range m.Entries {
		header = append(header, formatThreshold(entry))
	}
	table := tablewriter.NewWriter(w)
	table.Header(header...)
	for x, exit := range m.Exits {
		row := make([]any, 0, cols+1)
		row = append(row, formatThreshold(exit))
		for e := range m.Entries {
			cell := formatValue(m.Metric, m.At(e, x))
			if annotate {
				cell += fmt.Sprintf(" (%s)", formatCount(counts.At(e, x)))
			}
			row = append(row, cell)
		}
		if err := table.Append(row...); err != nil {
			return err
		}
	}
	if err := table.Render(); err != nil {
		return err
	}
	if best, v, ok := m.Best(); ok {
		fmt.Fprintf(w, "best: entry %s exit %s %s %s\n", formatThreshold(best.Entry), formatThreshold(best.Exit), m.Metric, formatValue(m.Metric, v))
	} else {
		fmt.Fprintln(w, "best: none (no defined cells)")
	}
	return nil
}

// Trades prints every closed trade of one run followed by its metrics.
func Trades(w io.Writer, res backtest.PortfolioResult) error {
	table := tablewriter.NewWriter(w)
	table.Header("#", "Open", "Close", "Open px", "Close px", "Return", "Reason")
	for i, tr := range res.Trades {
		if err := table.Append(
			fmt.Sprintf("%d", i+1),
			tr.OpenTime.UTC().Format("2006-01-02 15:04"),
			tr.CloseTime.UTC().Format("2006-01-02 15:04"),
			fmt.Sprintf("%.4f", tr.OpenPrice),
			fmt.Sprintf("%.4f", tr.ClosePrice),
			fmt.Sprintf("%+.2f%%", tr.ReturnPct*100),
			string(tr.Reason),
		); err != nil {
			return err
		}
	}
	if err := table.Render(); err != nil {
		return err
	}
	fmt.Fprintf(w, "entry %s exit %s\n", formatThreshold(res.Param.Entry), formatThreshold(res.Param.Exit))
	for _, metric := range backtest.Metrics() {
		fmt.Fprintf(w, "  %-13s %s\n", metric, formatValue(metric, metric.Evaluate(res)))
	}
	if res.Open != nil {
		fmt.Fprintf(w, "  open position since %s at %.4f (unrealized %+.2f%%)\n",
			res.Open.OpenTime.UTC().Format("2006-01-02 15:04"), res.Open.OpenPrice, res.Open.UnrealizedPct*100)
	}
	return nil
}

func formatThreshold(v float64) string {
	return fmt.Sprintf("%.2f", v)
}

func formatCount(v float64) string {
	if math.IsNaN(v) {
		return "-"
	}
	return fmt.Sprintf("%.0f", v)
}

func formatValue(metric backtest.Metric, v float64) string {
	if math.IsNaN(v) {
		return "n/a"
	}
	switch metric {
	case backtest.MetricTradeCount:
		return fmt.Sprintf("%.0f", v)
	case backtest.MetricWinRate:
		return fmt.Sprintf("%.1f%%", v*100)
	}
	return fmt.Sprintf("%+.2f%%", v*100)
}
