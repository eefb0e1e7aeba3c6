package algorithms

import (
	"strings"

	"github.com/wifiloc/wifiloc/pkg/geo"
	"github.com/wifiloc/wifiloc/pkg/locate/scenario"
	"github.com/wifiloc/wifiloc/pkg/wifiloc"
)

// vendorCorrectionDb is a small per-vendor RSSI correction table applied
// before distance estimation: some chipset vendors are known to report
// RSSI a few dB hotter or colder than the close-in model assumes.
// Unlisted vendors get no correction.
var vendorCorrectionDb = map[string]float64{
	"cisco":    -2.0,
	"aruba":    -1.0,
	"ubiquiti": 1.0,
	"netgear":  2.0,
	"tp-link":  2.5,
}

func vendorCorrection(vendor string) float64 {
	if vendor == "" {
		return 0
	}
	return vendorCorrectionDb[strings.ToLower(vendor)]
}

// logDistanceAlgorithm estimates distance per AP from RSSI using the
// close-in path-loss model, then weights each AP's coordinates by
// 1/distance^2.
type logDistanceAlgorithm struct{}

func NewLogDistanceAlgorithm() Algorithm { return logDistanceAlgorithm{} }

func (logDistanceAlgorithm) Name() Name { return LogDistance }
func (logDistanceAlgorithm) MinObservations() int { return 2 }
func (logDistanceAlgorithm) BaseConfidence() float64 { return 0.65 }

func (logDistanceAlgorithm) BaseWeight(apCount scenario.APCountFactor) float64 {
	switch apCount {
	case scenario.APCountTwo:
		return 0.6
	case scenario.APCountThree:
		return 0.9
	case scenario.APCountFourPlus:
		return 0.9
	default:
		return 0.0
	}
}

func (logDistanceAlgorithm) SignalQualityMultiplier(sq scenario.SignalQuality) float64 {
	switch sq {
	case scenario.SignalStrong:
		return 1.1
	case scenario.SignalMedium:
		return 1.0
	case scenario.SignalWeak:
		return 0.6
	default:
		return 0.0
	}
}

func (logDistanceAlgorithm) GeometricQualityMultiplier(gq scenario.GeometricQuality) float64 {
	switch gq {
	case scenario.GeometryExcellent:
		return 1.2
	case scenario.GeometryGood:
		return 1.1
	case scenario.GeometryFair:
		return 0.9
	case scenario.GeometryCollinear:
		return 0.5
	default:
		return 0.6
	}
}

func (logDistanceAlgorithm) SignalDistributionMultiplier(sd scenario.SignalDistribution) float64 {
	switch sd {
	case scenario.DistributionUniform:
		return 1.0
	case scenario.DistributionMixed:
		return 0.9
	default:
		return 0.6
	}
}

func (logDistanceAlgorithm) Compute(observations []wifiloc.Observation) (wifiloc.Position, bool) {
	if len(observations) < 2 {
		return wifiloc.Position{}, false
	}

	points := make([]geo.Point, len(observations))
	weights := make([]float64, len(observations))
	var sumDist float64

	for i, o := range observations {
		n := geo.PathLossExponentForRSSI(o.Scan.SignalStrength)
		correctedRSSI := o.Scan.SignalStrength + vendorCorrection(o.AP.Vendor)
		d := geo.DistanceFromRssi(correctedRSSI, float64(o.Scan.Frequency), n)
		sumDist += d

		points[i] = geo.Point{Lat: o.AP.Latitude, Lon: o.AP.Longitude, Alt: o.AP.Altitude, HasAlt: o.AP.HasAltitude}
		weights[i] = 1.0 / (d * d)
	}

	centroid, ok := geo.WeightedCentroid(points, weights)
	if !ok {
		return wifiloc.Position{}, false
	}

	meanDist := sumDist / float64(len(observations))
	accuracy := meanDist * 0.5
	if accuracy < 2 {
		accuracy = 2
	}

	pos := wifiloc.Position{
		Latitude:    clampLat(centroid.Lat),
		Longitude:   clampLon(centroid.Lon),
		Altitude:    centroid.Alt,
		HasAltitude: centroid.HasAlt,
		Accuracy:    accuracy,
		Confidence:  clampConfidence(0.65 - 0.1*rssiSpreadPenalty(observations)),
	}
	if !validPosition(pos) {
		return wifiloc.Position{}, false
	}
	return pos, true
}
