package benchmark

import (
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"
)

// Render writes the report as plain-text tables.
func (r *Report) Render(w io.Writer) {
	fmt.Fprintf(w, "Offload benchmark: %s x%d (operation %s)\n\n", r.Payload, r.Concurrency, r.Operation)

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Metric", "Baseline", "Optimized", "Change"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)

	b, o, imp := r.Baseline, r.Optimized, r.Improvements
	table.Append([]string{"Wall clock (ms)", ms(b.Wall.Seconds() * 1000), ms(o.Wall.Seconds() * 1000), fmt.Sprintf("%.2fx", imp.WallSpeedup)})
	table.Append([]string{"Throughput (ops/s)", fmt.Sprintf("%.1f", b.Throughput), fmt.Sprintf("%.1f", o.Throughput), fmt.Sprintf("%.2fx", imp.ThroughputGain)})
	table.Append([]string{"Loop lag mean (ms)", ms(b.Lag.MeanMs), ms(o.Lag.MeanMs), pct(imp.MeanLagReductionPct)})
	table.Append([]string{"Loop lag p95 (ms)", ms(b.Lag.P95Ms), ms(o.Lag.P95Ms), pct(imp.P95LagReductionPct)})
	table.Append([]string{"Loop lag max (ms)", ms(b.Lag.MaxMs), ms(o.Lag.MaxMs), pct(imp.MaxLagReductionPct)})
	table.Append([]string{"Heartbeats", fmt.Sprint(b.Lag.Samples), fmt.Sprint(o.Lag.Samples), ""})
	table.Append([]string{"Errors", fmt.Sprint(b.Errors), fmt.Sprint(o.Errors), ""})
	table.Render()

	if s := o.Executor; s != nil {
		fmt.Fprintln(w)
		exec := tablewriter.NewWriter(w)
		exec.SetHeader([]string{"Executor", "Count", "Success", "Mean", "P50", "P95", "P99", "Max"})
		exec.SetAutoWrapText(false)
		exec.Append([]string{
			s.Operation,
			fmt.Sprint(s.Count),
			fmt.Sprintf("%.0f%%", s.SuccessRate*100),
			ms(s.MeanMs), ms(s.P50Ms), ms(s.P95Ms), ms(s.P99Ms), ms(s.MaxMs),
		})
		exec.Render()
	}

	fmt.Fprintln(w)
	sys := tablewriter.NewWriter(w)
	sys.SetColumnSeparator(":")
	sys.SetBorder(false)
	sys.SetAlignment(tablewriter.ALIGN_LEFT)
	sys.Append([]string{"CPUs", fmt.Sprint(r.System.CPUs)})
	sys.Append([]string{"GOMAXPROCS", fmt.Sprint(r.System.GoMaxProcs)})
	sys.Append([]string{"CPU usage", pct(r.System.CPUPercent)})
	sys.Append([]string{"Memory usage", pct(r.System.MemPercent)})
	sys.Render()
}

func ms(v float64) string {
	return fmt.Sprintf("%.1f", v)
}

func pct(v float64) string {
	return fmt.Sprintf("%.1f%%", v)
}
