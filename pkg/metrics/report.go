package metrics

import (
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"
	"gonum.org/v1/gonum/stat"
)

// View pairs the metrics of a view with its name
type View struct {
	Name string
	Metrics
}

// Mean averages the metrics of several views. PSNR is averaged in dB, as is
// customary for view synthesis benchmarks.
func Mean(views []View) Metrics {
	col := func(get func(Metrics) float64) float64 {
		xs := make([]float64, len(views))
		for i, v := range views {
			xs[i] = get(v.Metrics)
		}
		return stat.Mean(xs, nil)
	}
	return Metrics{
		MSE:         col(func(m Metrics) float64 { return m.MSE }),
		RMSE:        col(func(m Metrics) float64 { return m.RMSE }),
		PSNR:        col(func(m Metrics) float64 { return m.PSNR }),
		SSIM:        col(func(m Metrics) float64 { return m.SSIM }),
		MI:          col(func(m Metrics) float64 { return m.MI }),
		EntropyDiff: col(func(m Metrics) float64 { return m.EntropyDiff }),
	}
}

// Report writes a table of per-view metrics with their mean as footer.
func Report(w io.Writer, views []View) {
	table := tablewriter.NewWriter(w)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"View", "PSNR (dB)", "SSIM", "RMSE", "MI", "Entropy diff"})
	for _, v := range views {
		table.Append(row(v.Name, v.Metrics))
	}
	if len(views) > 0 {
		table.SetFooter(row("MEAN", Mean(views)))
	}
	table.Render()
}

func row(name string, m Metrics) []string {
	return []string{
		name,
		fmt.Sprintf("%.2f", m.PSNR),
		fmt.Sprintf("%.4f", m.SSIM),
		fmt.Sprintf("%.4f", m.RMSE),
		fmt.Sprintf("%.3f", m.MI),
		fmt.Sprintf("%.3f", m.EntropyDiff),
	}
}
