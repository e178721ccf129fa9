package geo

import "sync"

// Projector caches the extent for the current ship position and range and
// only recomputes it when one of them changes.
type Projector struct {
	mu     sync.Mutex
	width  int
	height int

	valid  bool
	ship   LatLon
	rng    float64
	extent Extent
}

// NewProjector returns a Projector for a canvas of the given size.
func NewProjector(canvasWidth, canvasHeight int) *Projector {
	return &Projector{width: canvasWidth, height: canvasHeight}
}

// Update returns the extent for ship and rangeMeters and whether it differs
// from the previously returned one.
func (p *Projector) Update(ship LatLon, rangeMeters float64) (Extent, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.valid && p.ship == ship && p.rng == rangeMeters {
		return p.extent, false
	}
	p.ship = ship
	p.rng = rangeMeters
	p.extent = Project(ship, rangeMeters, p.width, p.height)
	p.valid = true
	return p.extent, true
}

// Extent returns the most recently computed extent.
func (p *Projector) Extent() Extent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.extent
}
