package algorithms

import (
	"github.com/wifiloc/wifiloc/pkg/locate/scenario"
	"github.com/wifiloc/wifiloc/pkg/wifiloc"
)

// proximityAlgorithm returns the coordinates of the strongest-signal
// access point, penalising accuracy as that signal weakens. It is the
// only algorithm that can run on a single observation and the hard
// override target when every other algorithm is disqualified by a
// very-weak signal.
type proximityAlgorithm struct{}

func NewProximityAlgorithm() Algorithm { return proximityAlgorithm{} }

func (proximityAlgorithm) Name() Name { return Proximity }
func (proximityAlgorithm) MinObservations() int { return 1 }
func (proximityAlgorithm) BaseConfidence() float64 { return 0.5 }

func (proximityAlgorithm) BaseWeight(apCount scenario.APCountFactor) float64 {
	switch apCount {
	case scenario.APCountSingle:
		return 1.0
	case scenario.APCountTwo:
		return 0.6
	case scenario.APCountThree:
		return 0.4
	default:
		return 0.3
	}
}

func (proximityAlgorithm) SignalQualityMultiplier(sq scenario.SignalQuality) float64 {
	switch sq {
	case scenario.SignalStrong:
		return 1.2
	case scenario.SignalMedium:
		return 1.0
	case scenario.SignalWeak:
		return 0.9
	default: // VERY_WEAK
		return 1.0 // proximity stays viable even when everything else is disqualified
	}
}

func (proximityAlgorithm) GeometricQualityMultiplier(gq scenario.GeometricQuality) float64 {
	// Proximity ignores geometry entirely; it only looks at the strongest AP.
	return 1.0
}

func (proximityAlgorithm) SignalDistributionMultiplier(sd scenario.SignalDistribution) float64 {
	return 1.0
}

func (proximityAlgorithm) Compute(observations []wifiloc.Observation) (wifiloc.Position, bool) {
	if len(observations) < 1 {
		return wifiloc.Position{}, false
	}

	strongest := observations[0]
	for _, o := range observations[1:] {
		if o.Scan.SignalStrength > strongest.Scan.SignalStrength {
			strongest = o
		}
	}

	penalty := signalPenalty(strongest.Scan.SignalStrength)
	accuracy := strongest.AP.HorizontalAccuracy * penalty
	if accuracy < 1 {
		accuracy = 1
	}

	confidence := 0.45 + 0.25*strongest.AP.Confidence
	if strongest.Scan.SignalStrength >= -65 && confidence < 0.5 {
		confidence = 0.5
	}
	confidence = clampConfidence(confidence)

	pos := wifiloc.Position{
		Latitude:    clampLat(strongest.AP.Latitude),
		Longitude:   clampLon(strongest.AP.Longitude),
		Altitude:    strongest.AP.Altitude,
		HasAltitude: strongest.AP.HasAltitude,
		Accuracy:    accuracy,
		Confidence:  confidence,
	}
	if !validPosition(pos) {
		return wifiloc.Position{}, false
	}
	return pos, true
}

// signalPenalty maps RSSI in roughly [-100,-30] dBm to a multiplier in
// [1,3] that grows as the signal weakens.
func signalPenalty(rssi float64) float64 {
	const (
		strongRssi = -30.0
		weakRssi   = -100.0
	)
	frac := (strongRssi - rssi) / (strongRssi - weakRssi)
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	return 1 + 2*frac
}
