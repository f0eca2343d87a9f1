// Package export renders logged traces as image files or terminal charts.
package export

import (
	"fmt"

	"github.com/guptarohit/asciigraph"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/epsimlab/epsim/internal/trace"
)

// RenderPlot draws the named variables against time and saves the plot.
// The image format follows the file extension (.png, .svg, .pdf). Empty
// vars plots every column.
func RenderPlot(log *trace.Log, vars []string, title, path string) error {
	if log.Len() == 0 {
		return fmt.Errorf("export: trace is empty")
	}
	if len(vars) == 0 {
		vars = log.Names()
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "time (ms)"
	p.Legend.Top = true

	times := log.Times()
	for i, name := range vars {
		col, ok := log.Column(name)
		if !ok {
			return fmt.Errorf("export: no logged variable %q", name)
		}
		xys := make(plotter.XYs, len(times))
		for j := range times {
			xys[j].X = times[j]
			xys[j].Y = col[j]
		}
		line, err := plotter.NewLine(xys)
		if err != nil {
			return err
		}
		line.Color = plotutil.Color(i)
		p.Add(line)
		p.Legend.Add(name, line)
	}

	return p.Save(8*vg.Inch, 4*vg.Inch, path)
}

// AsciiPlot renders one variable as a terminal chart.
func AsciiPlot(log *trace.Log, name string, width, height int) (string, error) {
	col, ok := log.Column(name)
	if !ok {
		return "", fmt.Errorf("export: no logged variable %q", name)
	}
	if len(col) < 2 {
		return "", fmt.Errorf("export: not enough samples to plot")
	}
	return asciigraph.Plot(col,
		asciigraph.Width(width),
		asciigraph.Height(height),
		asciigraph.Caption(name)), nil
}
