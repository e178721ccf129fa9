package compositor

import (
	"image"
	"image/color"
	"math"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/banshee-data/spokeview/internal/units"
)

var (
	ringColor  = color.NRGBA{R: 0x9a, G: 0xa5, B: 0xb1, A: 0xb0}
	labelColor = color.NRGBA{R: 0xe8, G: 0xec, B: 0xf0, A: 0xff}
)

const ringWidth = 1.2

// drawRings strokes evenly spaced range rings and labels each one with the
// range it marks. Labels sit just outside their ring at 45 degrees.
func (c *Compositor) drawRings(p *painter, radius float64) {
	full := radius * RangeScale
	labels := units.RingLabels(c.config.Range, c.rings)

	d := &font.Drawer{
		Dst:  c.img,
		Src:  image.NewUniform(labelColor),
		Face: basicfont.Face7x13,
	}
	for i := 1; i <= c.rings; i++ {
		r := full * float64(i) / float64(c.rings)
		p.ring(r, ringWidth, ringColor)

		if c.config.Range <= 0 {
			continue
		}
		x := p.cx + r*math.Cos(-math.Pi/4) + 3
		y := p.cy + r*math.Sin(-math.Pi/4) - 3
		d.Dot = fixed.P(int(x), int(y))
		d.DrawString(labels[i-1])
	}
}
