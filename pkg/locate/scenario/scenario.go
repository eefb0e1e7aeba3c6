// Package scenario classifies a positioning request's inputs into the
// selection context the algorithm selector uses to weight algorithms.
// It is derived once per request and never mutated afterward.
package scenario

import (
	"math"

	"github.com/wifiloc/wifiloc/pkg/geo"
	"github.com/wifiloc/wifiloc/pkg/wifiloc"
)

// APCountFactor buckets the number of distinct observed access points.
type APCountFactor string

const (
	APCountSingle   APCountFactor = "SINGLE"
	APCountTwo      APCountFactor = "TWO"
	APCountThree    APCountFactor = "THREE"
	APCountFourPlus APCountFactor = "FOUR_PLUS"
)

// SignalQuality buckets the mean observed RSSI.
type SignalQuality string

const (
	SignalStrong   SignalQuality = "STRONG"
	SignalMedium   SignalQuality = "MEDIUM"
	SignalWeak     SignalQuality = "WEAK"
	SignalVeryWeak SignalQuality = "VERY_WEAK"
)

// SignalDistribution buckets the RSSI standard deviation across observed
// access points.
type SignalDistribution string

const (
	DistributionUniform  SignalDistribution = "UNIFORM"
	DistributionMixed    SignalDistribution = "MIXED"
	DistributionOutliers SignalDistribution = "OUTLIERS"
)

// GeometricQuality buckets the geometric layout of the observed access
// points: collinearity first, then GDOP.
type GeometricQuality string

const (
	GeometryExcellent GeometricQuality = "EXCELLENT"
	GeometryGood      GeometricQuality = "GOOD"
	GeometryFair      GeometricQuality = "FAIR"
	GeometryPoor      GeometricQuality = "POOR"
	GeometryCollinear GeometricQuality = "COLLINEAR"
)

// Context is the derived, read-only SelectionContext for one request.
type Context struct {
	APCountFactor      APCountFactor
	SignalQuality      SignalQuality
	SignalDistribution SignalDistribution
	GeometricQuality   GeometricQuality
	GDOP               float64
	MeanRSSI           float64
	StdDevRSSI         float64
}

// Build derives a Context from a set of matched observations. The
// estimate used for GDOP is the unweighted centroid of AP coordinates,
// since no position has been computed yet at this stage of the pipeline.
func Build(observations []wifiloc.Observation) Context {
	ctx := Context{}

	n := distinctMACCount(observations)
	ctx.APCountFactor = bucketAPCount(n)

	mean, stddev := rssiStats(observations)
	ctx.MeanRSSI = mean
	ctx.StdDevRSSI = stddev
	ctx.SignalQuality = bucketSignalQuality(mean)
	ctx.SignalDistribution = bucketSignalDistribution(stddev)

	points := apPoints(observations)
	if geo.IsCollinear(points) {
		ctx.GeometricQuality = GeometryCollinear
		ctx.GDOP = math.Inf(1)
		return ctx
	}

	estimate, ok := centroid(points)
	if !ok {
		ctx.GeometricQuality = GeometryPoor
		ctx.GDOP = math.Inf(1)
		return ctx
	}

	g := geo.GDOP(points, estimate, false)
	ctx.GDOP = g
	ctx.GeometricQuality = bucketGeometricQuality(g)
	return ctx
}

func distinctMACCount(obs []wifiloc.Observation) int {
	seen := make(map[string]struct{}, len(obs))
	for _, o := range obs {
		seen[o.Scan.MacAddress] = struct{}{}
	}
	return len(seen)
}

func bucketAPCount(n int) APCountFactor {
	switch {
	case n <= 1:
		return APCountSingle
	case n == 2:
		return APCountTwo
	case n == 3:
		return APCountThree
	default:
		return APCountFourPlus
	}
}

func rssiStats(obs []wifiloc.Observation) (mean, stddev float64) {
	if len(obs) == 0 {
		return 0, 0
	}
	var sum float64
	for _, o := range obs {
		sum += o.Scan.SignalStrength
	}
	mean = sum / float64(len(obs))

	var variance float64
	for _, o := range obs {
		diff := o.Scan.SignalStrength - mean
		variance += diff * diff
	}
	variance /= float64(len(obs))
	stddev = math.Sqrt(variance)
	return mean, stddev
}

func bucketSignalQuality(mean float64) SignalQuality {
	switch {
	case mean > -70:
		return SignalStrong
	case mean >= -85:
		return SignalMedium
	case mean >= -95:
		return SignalWeak
	default:
		return SignalVeryWeak
	}
}

func bucketSignalDistribution(stddev float64) SignalDistribution {
	switch {
	case stddev < 3:
		return DistributionUniform
	case stddev < 10:
		return DistributionMixed
	default:
		return DistributionOutliers
	}
}

func bucketGeometricQuality(gdop float64) GeometricQuality {
	switch {
	case gdop < 2:
		return GeometryExcellent
	case gdop < 4:
		return GeometryGood
	case gdop < 6:
		return GeometryFair
	default:
		return GeometryPoor
	}
}

func apPoints(obs []wifiloc.Observation) []geo.Point {
	points := make([]geo.Point, 0, len(obs))
	for _, o := range obs {
		points = append(points, geo.Point{
			Lat:    o.AP.Latitude,
			Lon:    o.AP.Longitude,
			Alt:    o.AP.Altitude,
			HasAlt: o.AP.HasAltitude,
		})
	}
	return points
}

func centroid(points []geo.Point) (geo.Point, bool) {
	if len(points) == 0 {
		return geo.Point{}, false
	}
	weights := make([]float64, len(points))
	for i := range weights {
		weights[i] = 1
	}
	return geo.WeightedCentroid(points, weights)
}
