package compositor

import "math"

// RangeScale is the fraction of the canvas radius a full-range spoke
// covers. The outer margin holds the range-ring labels.
const RangeScale = 0.9

// BinTheta returns the display angle of bin angle, in radians. Bin 0 is the
// sensor's reference bearing; the quarter-turn offset puts it at the top of
// the canvas with angles increasing clockwise.
func BinTheta(angle, spokes int) float64 {
	if spokes <= 0 {
		return 0
	}
	n := float64(spokes)
	return 2 * math.Pi * math.Mod(float64(angle)+n*3/4, n) / n
}

// FinalTheta applies the heading correction to a bin's display angle.
func FinalTheta(theta, headingDeg float64) float64 {
	return theta - headingDeg*math.Pi/180
}

// PixelsPerSample is the radial size of one sample. spokeRange and
// configRange rescale spokes captured under an earlier range; a zero
// configRange disables rescaling.
func PixelsPerSample(radius float64, sampleCount int, spokeRange, configRange float64) float64 {
	if sampleCount <= 0 {
		return 0
	}
	pps := radius * RangeScale / float64(sampleCount)
	if configRange != 0 && spokeRange > 0 && spokeRange != configRange {
		pps *= spokeRange / configRange
	}
	return pps
}
