// Package geo anchors the radar raster to a map: it turns the ship position
// and the current range into a bounding extent in the map's working
// projection (spherical Web Mercator, EPSG:3857).
package geo

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/spatial/r2"
)

// EarthRadius is the WGS84 semi-major axis used by Web Mercator.
const EarthRadius = 6378137.0

// maxMercatorLat is where Web Mercator is clipped to a square world.
const maxMercatorLat = 85.05112878

// circleSegments is the number of points used to approximate the range circle.
const circleSegments = 72

// LatLon is a WGS84 coordinate in degrees.
type LatLon struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Valid reports whether the coordinate is finite and within WGS84 bounds.
func (p LatLon) Valid() bool {
	return !math.IsNaN(p.Lat) && !math.IsNaN(p.Lon) &&
		p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180
}

func (p LatLon) String() string {
	return fmt.Sprintf("%.6f,%.6f", p.Lat, p.Lon)
}

// Extent is the box the raster is stretched over, in projected metres, with
// its geographic corners kept alongside for hosts that work in lon/lat.
type Extent struct {
	Box        r2.Box  `json:"-"`
	MinX       float64 `json:"min_x"`
	MinY       float64 `json:"min_y"`
	MaxX       float64 `json:"max_x"`
	MaxY       float64 `json:"max_y"`
	SouthWest  LatLon  `json:"south_west"`
	NorthEast  LatLon  `json:"north_east"`
	Resolution float64 `json:"resolution"` // projected metres per canvas pixel
}

// Empty reports whether the extent covers no area.
func (e Extent) Empty() bool {
	return !(e.Box.Max.X > e.Box.Min.X && e.Box.Max.Y > e.Box.Min.Y)
}

// Width returns the projected width in metres.
func (e Extent) Width() float64 { return e.Box.Max.X - e.Box.Min.X }

// Height returns the projected height in metres.
func (e Extent) Height() float64 { return e.Box.Max.Y - e.Box.Min.Y }

// ToMercator projects a coordinate to Web Mercator metres.
func ToMercator(p LatLon) r2.Vec {
	lat := math.Max(-maxMercatorLat, math.Min(maxMercatorLat, p.Lat))
	x := EarthRadius * p.Lon * math.Pi / 180
	y := EarthRadius * math.Log(math.Tan(math.Pi/4+lat*math.Pi/360))
	return r2.Vec{X: x, Y: y}
}

// FromMercator is the inverse of ToMercator.
func FromMercator(v r2.Vec) LatLon {
	lon := v.X / EarthRadius * 180 / math.Pi
	lat := (2*math.Atan(math.Exp(v.Y/EarthRadius)) - math.Pi/2) * 180 / math.Pi
	return LatLon{Lat: lat, Lon: lon}
}

// Destination returns the point reached by travelling distance metres from
// p on the given true bearing along a great circle.
func Destination(p LatLon, bearingDeg, distance float64) LatLon {
	lat1 := p.Lat * math.Pi / 180
	lon1 := p.Lon * math.Pi / 180
	brg := bearingDeg * math.Pi / 180
	d := distance / EarthRadius

	lat2 := math.Asin(math.Sin(lat1)*math.Cos(d) + math.Cos(lat1)*math.Sin(d)*math.Cos(brg))
	lon2 := lon1 + math.Atan2(math.Sin(brg)*math.Sin(d)*math.Cos(lat1), math.Cos(d)-math.Sin(lat1)*math.Sin(lat2))
	lon2 = math.Mod(lon2+3*math.Pi, 2*math.Pi) - math.Pi
	return LatLon{Lat: lat2 * 180 / math.Pi, Lon: lon2 * 180 / math.Pi}
}

// Project returns the extent of a circle of rangeMeters around ship,
// transformed into Web Mercator. Invalid positions, non-positive ranges or a
// zero-size canvas give an empty Extent rather than an error.
func Project(ship LatLon, rangeMeters float64, canvasWidth, canvasHeight int) Extent {
	if !ship.Valid() || !(rangeMeters > 0) || math.IsInf(rangeMeters, 0) {
		return Extent{}
	}

	xs := make([]float64, circleSegments)
	ys := make([]float64, circleSegments)
	for i := 0; i < circleSegments; i++ {
		pt := Destination(ship, 360*float64(i)/circleSegments, rangeMeters)
		v := ToMercator(pt)
		xs[i], ys[i] = v.X, v.Y
	}

	// A circle that straddles the antimeridian unwraps onto the ship's side.
	centre := ToMercator(ship)
	worldWidth := 2 * math.Pi * EarthRadius
	for i := range xs {
		if xs[i]-centre.X > worldWidth/2 {
			xs[i] -= worldWidth
		} else if centre.X-xs[i] > worldWidth/2 {
			xs[i] += worldWidth
		}
	}

	box := r2.Box{
		Min: r2.Vec{X: floats.Min(xs), Y: floats.Min(ys)},
		Max: r2.Vec{X: floats.Max(xs), Y: floats.Max(ys)},
	}
	e := Extent{
		Box:       box,
		MinX:      box.Min.X,
		MinY:      box.Min.Y,
		MaxX:      box.Max.X,
		MaxY:      box.Max.Y,
		SouthWest: FromMercator(box.Min),
		NorthEast: FromMercator(box.Max),
	}
	if canvasWidth > 0 && canvasHeight > 0 {
		e.Resolution = math.Max(e.Width()/float64(canvasWidth), e.Height()/float64(canvasHeight))
	}
	return e
}

// MetersPerPixel converts a projected resolution back to ground metres at the
// given latitude, which is what range labels and pixel scales need.
func MetersPerPixel(resolution, lat float64) float64 {
	return resolution * math.Cos(lat*math.Pi/180)
}
