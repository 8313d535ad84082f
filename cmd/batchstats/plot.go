package main

import (
	"image/color"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// plotLengths writes a histogram of training protein lengths.
func plotLengths(outDir string, lengths []int) error {
	if len(lengths) == 0 {
		return nil
	}
	values := make(plotter.Values, len(lengths))
	for i, l := range lengths {
		values[i] = float64(l)
	}

	p := plot.New()
	p.Title.Text = "Training protein lengths"
	p.X.Label.Text = "residues"
	p.Y.Label.Text = "proteins"

	h, err := plotter.NewHist(values, 40)
	if err != nil {
		return err
	}
	h.FillColor = color.RGBA{R: 20, G: 80, B: 200, A: 200}
	p.Add(h)
	p.Add(plotter.NewGrid())

	if err := ensureDir(outDir); err != nil {
		return err
	}
	return p.Save(8*vg.Inch, 5*vg.Inch, filepath.Join(outDir, "lengths.png"))
}

// plotPadding writes the padding fraction of every train batch in epoch order.
func plotPadding(outDir string, rows []batchRow) error {
	if len(rows) == 0 {
		return nil
	}
	xys := make(plotter.XYs, len(rows))
	for i, r := range rows {
		xys[i] = plotter.XY{X: float64(r.index), Y: r.padding}
	}

	p := plot.New()
	p.Title.Text = "Padding per train batch"
	p.X.Label.Text = "batch"
	p.Y.Label.Text = "padding fraction"
	p.Y.Min = 0
	p.Y.Max = 1

	line, err := plotter.NewLine(xys)
	if err != nil {
		return err
	}
	line.Color = color.RGBA{R: 200, G: 30, B: 30, A: 220}
	line.Width = vg.Points(0.8)
	p.Add(line)
	p.Add(plotter.NewGrid())

	if err := ensureDir(outDir); err != nil {
		return err
	}
	return p.Save(8*vg.Inch, 5*vg.Inch, filepath.Join(outDir, "padding.png"))
}
