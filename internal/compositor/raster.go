package compositor

import (
	"image"
	"image/color"
	"math"

	"golang.org/x/image/math/f32"
	"golang.org/x/image/vector"
)

// maxArcStep bounds the chord length, in pixels, used to approximate arcs.
const maxArcStep = 4.0

// wedgeOverlap widens each wedge slightly so antialiased edges of
// neighbouring bins do not leave seams.
const wedgeOverlap = 1.05

// painter fills annular sectors into an RGBA canvas. It reuses one
// rasterizer and one point slice between sectors.
type painter struct {
	dst    *image.RGBA
	cx, cy float64
	z      vector.Rasterizer
	pts    []f32.Vec2
}

func newPainter(dst *image.RGBA) *painter {
	b := dst.Bounds()
	return &painter{
		dst: dst,
		cx:  float64(b.Min.X) + float64(b.Dx())/2,
		cy:  float64(b.Min.Y) + float64(b.Dy())/2,
	}
}

// arc appends points along the circle of radius r from theta0 to theta1.
func (p *painter) arc(r, theta0, theta1 float64) {
	steps := int(math.Ceil(math.Abs(theta1-theta0) * r / maxArcStep))
	if steps < 1 {
		steps = 1
	}
	for i := 0; i <= steps; i++ {
		t := theta0 + (theta1-theta0)*float64(i)/float64(steps)
		p.pts = append(p.pts, f32.Vec2{
			float32(p.cx + r*math.Cos(t)),
			float32(p.cy + r*math.Sin(t)),
		})
	}
}

// sector fills the region between radii r0 < r1 and angles theta0 < theta1.
func (p *painter) sector(r0, r1, theta0, theta1 float64, c color.Color) {
	if r1 <= r0 || theta1 <= theta0 {
		return
	}
	p.pts = p.pts[:0]
	p.arc(r1, theta0, theta1)
	if r0 > 0 {
		p.arc(r0, theta1, theta0)
	} else {
		p.pts = append(p.pts, f32.Vec2{float32(p.cx), float32(p.cy)})
	}
	p.fill([][]f32.Vec2{p.pts}, c)
}

// ring strokes a circle of radius r with the given width.
func (p *painter) ring(r, width float64, c color.Color) {
	if r <= 0 || width <= 0 {
		return
	}
	p.pts = p.pts[:0]
	p.arc(r+width/2, 0, 2*math.Pi)
	outer := len(p.pts)
	// opposite winding cancels the inner disc
	p.arc(math.Max(r-width/2, 0), 2*math.Pi, 0)
	p.fill([][]f32.Vec2{p.pts[:outer], p.pts[outer:]}, c)
}

// fill rasterizes the closed paths restricted to their bounding box.
func (p *painter) fill(paths [][]f32.Vec2, c color.Color) {
	minX, minY := float32(math.Inf(1)), float32(math.Inf(1))
	maxX, maxY := float32(math.Inf(-1)), float32(math.Inf(-1))
	for _, path := range paths {
		for _, v := range path {
			minX, maxX = min(minX, v[0]), max(maxX, v[0])
			minY, maxY = min(minY, v[1]), max(maxY, v[1])
		}
	}
	bbox := image.Rect(
		int(math.Floor(float64(minX))), int(math.Floor(float64(minY))),
		int(math.Ceil(float64(maxX))), int(math.Ceil(float64(maxY))),
	).Intersect(p.dst.Bounds())
	if bbox.Empty() {
		return
	}

	ox, oy := float32(bbox.Min.X), float32(bbox.Min.Y)
	p.z.Reset(bbox.Dx(), bbox.Dy())
	for _, path := range paths {
		if len(path) < 3 {
			continue
		}
		p.z.MoveTo(path[0][0]-ox, path[0][1]-oy)
		for _, v := range path[1:] {
			p.z.LineTo(v[0]-ox, v[1]-oy)
		}
		p.z.ClosePath()
	}
	p.z.Draw(p.dst, bbox, image.NewUniform(c), image.Point{})
}
