package main

import (
	"math"
	"math/rand/v2"

	"github.com/banshee-data/spokeview/internal/wire"
)

// target is a synthetic echo drifting in polar coordinates.
type target struct {
	bearing  float64 // degrees
	distance float64 // fraction of range
	size     float64 // fraction of range
	drift    float64 // degrees per revolution
}

// Generator produces spokes for a rotating antenna over a handful of moving
// targets and a band of sea clutter near the centre.
type Generator struct {
	Spokes      int
	SpokeLen    int
	Range       float64
	NoiseLevels int // intensities 1..NoiseLevels are clutter; 0 disables it

	next    int
	targets []target
	rng     *rand.Rand
}

// NewGenerator returns a generator with n targets placed from seed.
func NewGenerator(spokes, spokeLen int, rangeMeters float64, n int, seed uint64) *Generator {
	rng := rand.New(rand.NewPCG(seed, seed^0x5eed))
	g := &Generator{
		Spokes:      spokes,
		SpokeLen:    spokeLen,
		Range:       rangeMeters,
		NoiseLevels: 3,
		rng:         rng,
	}
	for i := 0; i < n; i++ {
		g.targets = append(g.targets, target{
			bearing:  rng.Float64() * 360,
			distance: 0.2 + 0.7*rng.Float64(),
			size:     0.01 + 0.03*rng.Float64(),
			drift:    rng.Float64()*4 - 2,
		})
	}
	return g
}

// Next returns the following n spokes of the sweep.
func (g *Generator) Next(n int) []wire.Spoke {
	out := make([]wire.Spoke, 0, n)
	for i := 0; i < n; i++ {
		angle := g.next
		g.next = (g.next + 1) % g.Spokes
		if g.next == 0 {
			for j := range g.targets {
				g.targets[j].bearing = math.Mod(g.targets[j].bearing+g.targets[j].drift+360, 360)
			}
		}
		out = append(out, wire.Spoke{
			Angle: uint32(angle),
			Range: g.Range,
			Data:  g.spoke(angle),
		})
	}
	return out
}

// spoke renders one line of returns. Bearing 0 is bin 0.
func (g *Generator) spoke(angle int) []byte {
	data := make([]byte, g.SpokeLen)
	bearing := 360 * float64(angle) / float64(g.Spokes)

	if g.NoiseLevels > 0 {
		clutter := g.SpokeLen / 8
		for i := 0; i < clutter; i++ {
			if g.rng.Float64() < 0.4*(1-float64(i)/float64(clutter)) {
				data[i] = byte(1 + g.rng.IntN(g.NoiseLevels))
			}
		}
	}

	for _, t := range g.targets {
		// angular half-width grows as the target gets closer
		halfWidth := t.size / t.distance * 180 / math.Pi
		d := math.Abs(math.Mod(bearing-t.bearing+540, 360) - 180)
		if d > halfWidth {
			continue
		}
		lo := int((t.distance - t.size) * float64(g.SpokeLen))
		hi := int((t.distance + t.size) * float64(g.SpokeLen))
		level := echoLevel(d / halfWidth)
		for i := max(lo, 0); i < min(hi, g.SpokeLen); i++ {
			data[i] = max(data[i], level)
		}
	}
	return data
}

// echoLevel quantises an echo by its offset from the target centre, 0 at
// the centre and 1 at the edge.
func echoLevel(offset float64) byte {
	switch {
	case offset < 1.0/3:
		return 255
	case offset < 2.0/3:
		return 200
	default:
		return 128
	}
}
