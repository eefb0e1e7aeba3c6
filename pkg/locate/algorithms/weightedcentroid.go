package algorithms

import (
	"math"

	"github.com/wifiloc/wifiloc/pkg/geo"
	"github.com/wifiloc/wifiloc/pkg/locate/scenario"
	"github.com/wifiloc/wifiloc/pkg/wifiloc"
)

// weightedCentroidAlgorithm weights each AP's coordinates by an
// exponential function of its RSSI: 10^(rssi/20).
type weightedCentroidAlgorithm struct{}

func NewWeightedCentroidAlgorithm() Algorithm { return weightedCentroidAlgorithm{} }

func (weightedCentroidAlgorithm) Name() Name { return WeightedCentroid }
func (weightedCentroidAlgorithm) MinObservations() int { return 2 }
func (weightedCentroidAlgorithm) BaseConfidence() float64 { return 0.6 }

func (weightedCentroidAlgorithm) BaseWeight(apCount scenario.APCountFactor) float64 {
	switch apCount {
	case scenario.APCountTwo:
		return 0.7
	case scenario.APCountThree:
		return 0.8
	case scenario.APCountFourPlus:
		return 0.7
	default:
		return 0.0
	}
}

func (weightedCentroidAlgorithm) SignalQualityMultiplier(sq scenario.SignalQuality) float64 {
	switch sq {
	case scenario.SignalStrong:
		return 1.0
	case scenario.SignalMedium:
		return 1.0
	case scenario.SignalWeak:
		return 0.8
	default:
		return 0.0
	}
}

func (weightedCentroidAlgorithm) GeometricQualityMultiplier(gq scenario.GeometricQuality) float64 {
	switch gq {
	case scenario.GeometryExcellent:
		return 1.0
	case scenario.GeometryGood:
		return 1.0
	case scenario.GeometryFair:
		return 0.9
	case scenario.GeometryCollinear:
		return 0.9
	default:
		return 0.8
	}
}

func (weightedCentroidAlgorithm) SignalDistributionMultiplier(sd scenario.SignalDistribution) float64 {
	switch sd {
	case scenario.DistributionUniform:
		return 1.0
	case scenario.DistributionMixed:
		return 0.9
	default:
		return 0.7
	}
}

func (weightedCentroidAlgorithm) Compute(observations []wifiloc.Observation) (wifiloc.Position, bool) {
	if len(observations) < 2 {
		return wifiloc.Position{}, false
	}

	points := make([]geo.Point, len(observations))
	weights := make([]float64, len(observations))
	for i, o := range observations {
		points[i] = geo.Point{Lat: o.AP.Latitude, Lon: o.AP.Longitude, Alt: o.AP.Altitude, HasAlt: o.AP.HasAltitude}
		weights[i] = math.Pow(10, o.Scan.SignalStrength/20)
	}

	centroid, ok := geo.WeightedCentroid(points, weights)
	if !ok {
		return wifiloc.Position{}, false
	}

	pos := wifiloc.Position{
		Latitude:    clampLat(centroid.Lat),
		Longitude:   clampLon(centroid.Lon),
		Altitude:    centroid.Alt,
		HasAltitude: centroid.HasAlt,
		Accuracy:    estimateAccuracy(observations) * 1.2,
		Confidence:  clampConfidence(0.6 - 0.1*rssiSpreadPenalty(observations)),
	}
	if !validPosition(pos) {
		return wifiloc.Position{}, false
	}
	return pos, true
}
