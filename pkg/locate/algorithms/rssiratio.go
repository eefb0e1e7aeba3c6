package algorithms

import (
	"math"

	"github.com/wifiloc/wifiloc/pkg/locate/scenario"
	"github.com/wifiloc/wifiloc/pkg/wifiloc"
)

// WeightNormalizationFactor is the 30 dB divisor used to turn an RSSI
// delta between a pair of access points into a pair weight. Weights
// above 1.0 for large deltas are left unclamped; the final division by
// the weight sum normalises them anyway.
const WeightNormalizationFactor = 30.0

type rssiRatioAlgorithm struct{}

func NewRSSIRatioAlgorithm() Algorithm { return rssiRatioAlgorithm{} }

func (rssiRatioAlgorithm) Name() Name { return RSSIRatio }
func (rssiRatioAlgorithm) MinObservations() int { return 2 }
func (rssiRatioAlgorithm) BaseConfidence() float64 { return 0.65 }

func (rssiRatioAlgorithm) BaseWeight(apCount scenario.APCountFactor) float64 {
	switch apCount {
	case scenario.APCountTwo:
		return 1.0
	case scenario.APCountThree:
		return 0.8
	case scenario.APCountFourPlus:
		return 0.6
	default: // SINGLE: disqualified by the selector, weight unused
		return 0.0
	}
}

func (rssiRatioAlgorithm) SignalQualityMultiplier(sq scenario.SignalQuality) float64 {
	switch sq {
	case scenario.SignalStrong:
		return 1.0
	case scenario.SignalMedium:
		return 1.1
	case scenario.SignalWeak:
		return 0.7
	default:
		return 0.0
	}
}

func (rssiRatioAlgorithm) GeometricQualityMultiplier(gq scenario.GeometricQuality) float64 {
	switch gq {
	case scenario.GeometryExcellent:
		return 1.1
	case scenario.GeometryGood:
		return 1.0
	case scenario.GeometryFair:
		return 0.9
	case scenario.GeometryCollinear:
		return 0.8
	default: // POOR
		return 0.7
	}
}

func (rssiRatioAlgorithm) SignalDistributionMultiplier(sd scenario.SignalDistribution) float64 {
	switch sd {
	case scenario.DistributionUniform:
		return 0.9
	case scenario.DistributionMixed:
		return 1.1
	default: // OUTLIERS
		return 1.0
	}
}

func (rssiRatioAlgorithm) Compute(observations []wifiloc.Observation) (wifiloc.Position, bool) {
	if len(observations) < 2 {
		return wifiloc.Position{}, false
	}

	var sumW, sumWLat, sumWLon, sumWAlt, sumAltW float64

	for i := 0; i < len(observations); i++ {
		for j := i + 1; j < len(observations); j++ {
			oi, oj := observations[i], observations[j]
			ratio := math.Pow(10, (oi.Scan.SignalStrength-oj.Scan.SignalStrength)/20)
			w := math.Abs(oi.Scan.SignalStrength-oj.Scan.SignalStrength) / WeightNormalizationFactor

			lat := (oi.AP.Latitude + ratio*oj.AP.Latitude) / (1 + ratio)
			lon := (oi.AP.Longitude + ratio*oj.AP.Longitude) / (1 + ratio)

			sumW += w
			sumWLat += w * lat
			sumWLon += w * lon

			if oi.AP.HasAltitude && oj.AP.HasAltitude {
				alt := (oi.AP.Altitude + ratio*oj.AP.Altitude) / (1 + ratio)
				sumWAlt += w * alt
				sumAltW += w
			}
		}
	}

	if sumW <= 0 {
		return wifiloc.Position{}, false
	}

	pos := wifiloc.Position{
		Latitude:  clampLat(sumWLat / sumW),
		Longitude: clampLon(sumWLon / sumW),
		Accuracy:  estimateAccuracy(observations),
	}
	if sumAltW > 0 {
		pos.Altitude = sumWAlt / sumAltW
		pos.HasAltitude = true
	}
	pos.Confidence = clampConfidence(0.65 - 0.1*rssiSpreadPenalty(observations))

	if !validPosition(pos) {
		return wifiloc.Position{}, false
	}
	return pos, true
}

func estimateAccuracy(observations []wifiloc.Observation) float64 {
	var sum float64
	for _, o := range observations {
		sum += o.AP.HorizontalAccuracy
	}
	avg := sum / float64(len(observations))
	if avg < 5 {
		avg = 5
	}
	return avg
}

func rssiSpreadPenalty(observations []wifiloc.Observation) float64 {
	min, max := observations[0].Scan.SignalStrength, observations[0].Scan.SignalStrength
	for _, o := range observations[1:] {
		if o.Scan.SignalStrength < min {
			min = o.Scan.SignalStrength
		}
		if o.Scan.SignalStrength > max {
			max = o.Scan.SignalStrength
		}
	}
	spread := max - min
	if spread > 20 {
		return 1
	}
	return spread / 20
}
