// Package geo provides the pure-function geometry and radio-propagation
// helpers shared by the scenario builder, the positioning algorithms, and
// the fusion combiner. Nothing here holds state.
package geo

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

const (
	earthRadiusMeters = 6371000.0
	speedOfLight      = 299792458.0 // m/s
	epsilon           = 1e-9

	// collinearSpanRatio is the fraction of the first-to-last baseline
	// length allowed as lateral spread before points stop counting as
	// collinear.
	collinearSpanRatio = 0.01
)

// HaversineMeters returns the great-circle distance between two
// lat/lon points in metres.
func HaversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	rLat1 := lat1 * math.Pi / 180
	rLat2 := lat2 * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusMeters * c
}

// FreeSpacePathLossDb returns the free-space path loss in dB for a signal
// at freqHz travelling distanceM metres.
func FreeSpacePathLossDb(freqHz, distanceM float64) float64 {
	if distanceM <= 0 {
		distanceM = 1
	}
	return 20 * math.Log10(4*math.Pi*distanceM*freqHz/speedOfLight)
}

// PathLossExponentForRSSI picks the log-distance exponent bucket: strong
// signals propagate closer to free space, weak signals are assumed to be
// more obstructed.
func PathLossExponentForRSSI(rssi float64) float64 {
	if rssi >= -65 {
		return 2.5
	}
	return 3.0
}

// DistanceFromRssi estimates distance in metres from RSSI using the
// close-in (CI) reference-distance model, clamped to [1, 100] m.
func DistanceFromRssi(rssi float64, freqMHz float64, pathLossExponent float64) float64 {
	const d0 = 1.0
	freqHz := freqMHz * 1e6
	fspl := FreeSpacePathLossDb(freqHz, d0)
	exponent := (-rssi - fspl) / (10 * pathLossExponent)
	d := d0 * math.Pow(10, exponent)
	if math.IsNaN(d) || math.IsInf(d, 0) {
		return 1
	}
	return clamp(d, 1, 100)
}

// ExpectedRssi is the inverse of DistanceFromRssi under the same CI
// model: the RSSI a receiver would see at distanceM given freqMHz and a
// path-loss exponent. Used for round-trip verification of the model.
func ExpectedRssi(distanceM float64, freqMHz float64, pathLossExponent float64) float64 {
	const d0 = 1.0
	freqHz := freqMHz * 1e6
	fspl := FreeSpacePathLossDb(freqHz, d0)
	return -(fspl + 10*pathLossExponent*math.Log10(distanceM/d0))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Point is a plain 2D/3D point used by the geometry helpers below.
type Point struct {
	Lat, Lon, Alt float64
	HasAlt        bool
}

// GDOP computes the geometric dilution of precision for an estimated
// position relative to a set of AP coordinates: sqrt(trace((H^T H)^-1))
// where H holds unit vectors from the estimate to each AP. Returns +Inf
// when H^T H is singular.
func GDOP(apPoints []Point, estimate Point, is3D bool) float64 {
	n := len(apPoints)
	if n == 0 {
		return math.Inf(1)
	}
	cols := 2
	if is3D {
		cols = 3
	}

	h := mat.NewDense(n, cols, nil)
	for i, ap := range apPoints {
		dx := metersPerDegLon(estimate.Lat) * (ap.Lon - estimate.Lon)
		dy := metersPerDegLat * (ap.Lat - estimate.Lat)
		var dz float64
		if is3D {
			dz = ap.Alt - estimate.Alt
		}
		norm := math.Sqrt(dx*dx + dy*dy + dz*dz)
		if norm < epsilon {
			return math.Inf(1)
		}
		h.Set(i, 0, dx/norm)
		h.Set(i, 1, dy/norm)
		if is3D {
			h.Set(i, 2, dz/norm)
		}
	}

	var hth mat.Dense
	hth.Mul(h.T(), h)

	var inv mat.Dense
	if err := inv.Inverse(&hth); err != nil {
		return math.Inf(1)
	}

	trace := mat.Trace(&inv)
	if trace < 0 || math.IsNaN(trace) {
		return math.Inf(1)
	}
	return math.Sqrt(trace)
}

const metersPerDegLat = 111000.0

func metersPerDegLon(lat float64) float64 {
	return 111000.0 * math.Cos(lat*math.Pi/180)
}

// GDOPFactor buckets a raw GDOP value into a multiplier used to inflate
// accuracy/deflate confidence.
func GDOPFactor(gdop float64) float64 {
	switch {
	case math.IsInf(gdop, 1):
		return 3.0
	case gdop < 2:
		return 1.0
	case gdop < 4:
		return 1.2
	case gdop < 6:
		return 1.6
	default:
		return 2.0
	}
}

// IsCollinear reports whether the given points lie (approximately) on a
// single line: the maximum perpendicular distance of any point from the
// line through the first and last point is small relative to the span
// covered by the points.
func IsCollinear(points []Point) bool {
	n := len(points)
	if n < 3 {
		return false
	}

	p0 := points[0]
	p1 := points[n-1]

	// Work in a local metric plane so "distance" is in metres regardless
	// of latitude.
	x0 := metersPerDegLon(p0.Lat) * p0.Lon
	y0 := metersPerDegLat * p0.Lat
	x1 := metersPerDegLon(p0.Lat) * p1.Lon
	y1 := metersPerDegLat * p1.Lat

	dx := x1 - x0
	dy := y1 - y0
	lineLen := math.Hypot(dx, dy)
	if lineLen < epsilon {
		// All reference points coincide; treat as collinear only if every
		// point also coincides with them.
		for _, p := range points {
			px := metersPerDegLon(p0.Lat)*p.Lon - x0
			py := metersPerDegLat*p.Lat - y0
			if math.Hypot(px, py) > epsilon {
				return false
			}
		}
		return true
	}

	maxDist := 0.0
	for _, p := range points {
		px := metersPerDegLon(p0.Lat)*p.Lon - x0
		py := metersPerDegLat*p.Lat - y0
		// perpendicular distance from point to the line through (0,0)-(dx,dy)
		dist := math.Abs(px*dy-py*dx) / lineLen
		if dist > maxDist {
			maxDist = dist
		}
	}

	// The tolerance scales with the baseline so widely separated points
	// still count as collinear when their lateral spread is small
	// relative to the span, with a 1 m floor for short baselines.
	tolerance := collinearSpanRatio * lineLen
	if tolerance < 1.0 {
		tolerance = 1.0
	}
	return maxDist < tolerance
}

// WeightedCentroid returns the weighted average of points. Requires the
// sum of weights to be strictly positive.
func WeightedCentroid(points []Point, weights []float64) (Point, bool) {
	if len(points) == 0 || len(points) != len(weights) {
		return Point{}, false
	}

	var sumW, sumLat, sumLon, sumAlt float64
	altWeight := 0.0
	for i, p := range points {
		w := weights[i]
		sumW += w
		sumLat += w * p.Lat
		sumLon += w * p.Lon
		if p.HasAlt {
			sumAlt += w * p.Alt
			altWeight += w
		}
	}

	if sumW <= 0 {
		return Point{}, false
	}

	result := Point{
		Lat: sumLat / sumW,
		Lon: sumLon / sumW,
	}
	if altWeight > 0 {
		result.Alt = sumAlt / altWeight
		result.HasAlt = true
	}
	return result, true
}
