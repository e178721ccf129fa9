// Package compositor turns buffered spokes into a heading-up radar raster.
//
// Spokes only update the sweep buffer and mark a render as pending. The
// raster is redrawn from the whole buffer on the next refresh tick, so any
// number of spokes between ticks costs one render pass.
package compositor

import (
	"image"
	"image/color"
	"math"
	"sync"

	"github.com/banshee-data/spokeview/internal/legend"
	"github.com/banshee-data/spokeview/internal/monitoring"
	"github.com/banshee-data/spokeview/internal/source"
	"github.com/banshee-data/spokeview/internal/sweep"
	"github.com/banshee-data/spokeview/internal/wire"
)

var logf = monitoring.Component("Compositor")

// DefaultSize is the canvas edge length in pixels.
const DefaultSize = 1024

// Options configures a Compositor.
type Options struct {
	Size       int // square canvas edge in pixels; DefaultSize when zero
	RangeRings int // number of range rings drawn over the returns; none when zero
}

// Stats counts the compositor's work.
type Stats struct {
	Spokes   uint64 `json:"spokes"`
	Rejected uint64 `json:"rejected"` // spokes whose angle did not fit the bin count
	Renders  uint64 `json:"renders"`
	Buffered int    `json:"buffered"` // bins currently holding data
	Pending  bool   `json:"pending"`
}

// Compositor owns the sweep buffer, colour table and raster. All methods
// are safe for concurrent use; they serialise on one mutex so spoke updates
// and render passes never interleave.
type Compositor struct {
	size  int
	rings int

	mu      sync.Mutex
	img     *image.RGBA
	buf     *sweep.Buffer
	table   legend.ColorTable
	config  source.DisplayConfig
	heading float64
	pending bool
	stats   Stats
}

// New returns a compositor with an empty, transparent canvas.
func New(opts Options) *Compositor {
	size := opts.Size
	if size <= 0 {
		size = DefaultSize
	}
	return &Compositor{
		size:  size,
		rings: opts.RangeRings,
		img:   image.NewRGBA(image.Rect(0, 0, size, size)),
		buf:   sweep.New(0),
		table: legend.Expand(nil),
	}
}

// Size returns the canvas edge length.
func (c *Compositor) Size() int { return c.size }

// HandleConfig adopts a new display config. A new legend rebuilds the
// colour table; a new bin count resizes (and so clears) the buffer; any
// change schedules a render.
func (c *Compositor) HandleConfig(cfg source.DisplayConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !cfg.Legend.Equal(c.config.Legend) || c.config.Spokes == 0 {
		c.table = legend.Expand(cfg.Legend)
	}
	if cfg.Spokes != c.buf.Spokes() {
		logf("resizing sweep buffer from %d to %d bins", c.buf.Spokes(), cfg.Spokes)
		c.buf.Resize(cfg.Spokes)
	}
	c.config = cfg.Clone()
	c.pending = true
}

// HandleSpoke stores a spoke in its bin and schedules a render if none is
// pending.
func (c *Compositor) HandleSpoke(s wire.Spoke) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.buf.Set(int(s.Angle), s.Data, s.Range); err != nil {
		c.stats.Rejected++
		if c.stats.Rejected == 1 || c.stats.Rejected%1000 == 0 {
			logf("rejected spoke (%d so far): %v", c.stats.Rejected, err)
		}
		return
	}
	c.stats.Spokes++
	c.pending = true
}

// HandleState discards the buffered sweep when the source goes away.
func (c *Compositor) HandleState(s source.State) {
	if s != source.Disconnected {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.buf.Len() > 0 {
		c.buf.Clear()
		c.pending = true
	}
}

// SetHeading sets the vessel heading, in degrees, used for the heading
// correction.
func (c *Compositor) SetHeading(deg float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if deg == c.heading {
		return
	}
	c.heading = deg
	if c.buf.Len() > 0 {
		c.pending = true
	}
}

// Tick runs a render pass if one is pending and reports whether it did.
func (c *Compositor) Tick() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.pending {
		return false
	}
	c.renderLocked()
	c.pending = false
	return true
}

// Render redraws unconditionally.
func (c *Compositor) Render() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.renderLocked()
	c.pending = false
}

func (c *Compositor) renderLocked() {
	clear(c.img.Pix)

	radius := float64(c.size) / 2
	p := newPainter(c.img)
	spokes := c.buf.Spokes()
	slice := 2 * math.Pi / float64(max(spokes, 1))

	c.buf.Each(func(angle int, e sweep.Entry) {
		theta := FinalTheta(BinTheta(angle, spokes), c.heading)
		pps := PixelsPerSample(radius, len(e.Data), e.Range, c.config.Range)
		c.paintSpoke(p, e.Data, pps, radius, theta, theta+slice*wedgeOverlap)
	})

	if c.rings > 0 {
		c.drawRings(p, radius)
	}
	c.stats.Renders++
}

// paintSpoke fills one bin. Neighbouring samples of the same colour are
// merged into one sector; transparent samples are skipped.
func (c *Compositor) paintSpoke(p *painter, data []byte, pps, radius, theta0, theta1 float64) {
	if pps <= 0 {
		return
	}
	for i := 0; i < len(data); {
		j := i + 1
		for j < len(data) && c.table[data[j]] == c.table[data[i]] {
			j++
		}
		if col := c.table[data[i]]; col.A != 0 {
			r0 := float64(i) * pps
			if r0 >= radius {
				return
			}
			r1 := math.Min(float64(j)*pps, radius)
			p.sector(r0, r1, theta0, theta1, col)
		}
		i = j
	}
}

// Snapshot returns a copy of the current raster.
func (c *Compositor) Snapshot() *image.RGBA {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := image.NewRGBA(c.img.Rect)
	copy(out.Pix, c.img.Pix)
	return out
}

// Config returns the display config in use.
func (c *Compositor) Config() source.DisplayConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.config.Clone()
}

// ColorTable returns the colour table in use.
func (c *Compositor) ColorTable() legend.ColorTable {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.table
}

// Stats returns the compositor's counters.
func (c *Compositor) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Buffered = c.buf.Len()
	s.Pending = c.pending
	return s
}

// At returns the raster colour at (x, y); used by tests and the debug page.
func (c *Compositor) At(x, y int) color.RGBA {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.img.RGBAAt(x, y)
}
