package legend

import (
	"fmt"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// RenderKey draws the legend as a horizontal strip of colour swatches over
// an intensity axis and writes it to w as a PNG. Hosts use it for the legend
// key next to the radar image.
func RenderKey(w io.Writer, l Legend, width, height vg.Length) error {
	table := Expand(l)

	p := plot.New()
	p.Title.Text = "Intensity"
	p.X.Min = 0
	p.X.Max = Size
	p.Y.Min = 0
	p.Y.Max = 1
	p.HideY()

	for i := 0; i < Size; i++ {
		c := table[i]
		if c.A == 0 {
			continue
		}
		// merge runs of equal colour into one swatch
		j := i + 1
		for j < Size && table[j] == c {
			j++
		}
		swatch, err := plotter.NewPolygon(plotter.XYs{
			{X: float64(i), Y: 0},
			{X: float64(j), Y: 0},
			{X: float64(j), Y: 1},
			{X: float64(i), Y: 1},
		})
		if err != nil {
			return fmt.Errorf("failed to build swatch %d-%d: %w", i, j, err)
		}
		swatch.Color = c
		swatch.LineStyle.Width = 0
		p.Add(swatch)
		i = j - 1
	}

	wt, err := p.WriterTo(width, height, "png")
	if err != nil {
		return fmt.Errorf("failed to create legend canvas: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write legend png: %w", err)
	}
	return nil
}
