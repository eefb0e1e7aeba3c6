package algorithms

import (
	"math"

	"github.com/wifiloc/wifiloc/pkg/geo"
	"github.com/wifiloc/wifiloc/pkg/locate/scenario"
	"github.com/wifiloc/wifiloc/pkg/wifiloc"
)

const (
	mlMaxIterations = 100
	mlStepStop      = 0.1 // metres; stop once a step would move less than this
	mlInitialStep   = 2.0 // metres, in each of lat/lon before scaling
	mlMinConfidence = 0.6
	mlMaxConfidence = 0.95
	mlSigmaStrongDb = 2.5
	mlSigmaMediumDb = 4.0
	mlSigmaWeakDb   = 6.0
)

// maxLikelihoodAlgorithm finds the position that maximizes the likelihood
// of the observed RSSI values under the close-in propagation model, via
// gradient ascent with step-halving and an adaptive per-AP sigma.
type maxLikelihoodAlgorithm struct{}

func NewMaxLikelihoodAlgorithm() Algorithm { return maxLikelihoodAlgorithm{} }

func (maxLikelihoodAlgorithm) Name() Name { return MaximumLikelihood }
func (maxLikelihoodAlgorithm) MinObservations() int { return 4 }
func (maxLikelihoodAlgorithm) BaseConfidence() float64 { return 0.75 }

func (maxLikelihoodAlgorithm) BaseWeight(apCount scenario.APCountFactor) float64 {
	switch apCount {
	case scenario.APCountFourPlus:
		return 1.0
	default: // SINGLE, TWO, THREE: hard-disqualified by the selector
		return 0.0
	}
}

func (maxLikelihoodAlgorithm) SignalQualityMultiplier(sq scenario.SignalQuality) float64 {
	switch sq {
	case scenario.SignalStrong:
		return 1.2
	case scenario.SignalMedium:
		return 1.0
	case scenario.SignalWeak:
		return 0.5
	default:
		return 0.0
	}
}

func (maxLikelihoodAlgorithm) GeometricQualityMultiplier(gq scenario.GeometricQuality) float64 {
	switch gq {
	case scenario.GeometryExcellent:
		return 1.2
	case scenario.GeometryGood:
		return 1.1
	case scenario.GeometryFair:
		return 0.8
	case scenario.GeometryCollinear:
		return 0.2
	default:
		return 0.4
	}
}

func (maxLikelihoodAlgorithm) SignalDistributionMultiplier(sd scenario.SignalDistribution) float64 {
	switch sd {
	case scenario.DistributionUniform:
		return 1.1
	case scenario.DistributionMixed:
		return 1.0
	default:
		return 0.6
	}
}

// Compute performs gradient ascent on the log-likelihood of the observed
// RSSI vector given a candidate position, starting from the RSSI-weighted
// centroid. Each AP's sigma (its expected RSSI measurement noise in dB)
// widens when its reported RSSI is weak, softening its pull on the
// estimate.
func (a maxLikelihoodAlgorithm) Compute(observations []wifiloc.Observation) (wifiloc.Position, bool) {
	if len(observations) < 4 {
		return wifiloc.Position{}, false
	}

	points := make([]geo.Point, len(observations))
	weights := make([]float64, len(observations))
	sigmas := make([]float64, len(observations))
	exponents := make([]float64, len(observations))
	for i, o := range observations {
		points[i] = geo.Point{Lat: o.AP.Latitude, Lon: o.AP.Longitude, Alt: o.AP.Altitude, HasAlt: o.AP.HasAltitude}
		weights[i] = math.Pow(10, o.Scan.SignalStrength/20)
		sigmas[i] = sigmaForRSSI(o.Scan.SignalStrength)
		exponents[i] = geo.PathLossExponentForRSSI(o.Scan.SignalStrength)
	}

	start, ok := geo.WeightedCentroid(points, weights)
	if !ok {
		return wifiloc.Position{}, false
	}

	lonToM := 111000.0 * math.Cos(start.Lat*math.Pi/180)
	if lonToM == 0 {
		lonToM = 111000.0
	}

	// Work in a local metric plane centred on the starting estimate so the
	// gradient's two axes are on comparable scales.
	x, y := 0.0, 0.0
	step := mlInitialStep

	logLikelihood := func(x, y float64) float64 {
		lat := start.Lat + y/latMetersPerDegree
		lon := start.Lon + x/lonToM
		var ll float64
		for i, o := range observations {
			d := geo.HaversineMeters(lat, lon, o.AP.Latitude, o.AP.Longitude)
			if d < 1 {
				d = 1
			}
			expected := geo.ExpectedRssi(d, float64(o.Scan.Frequency), exponents[i])
			residual := o.Scan.SignalStrength - expected
			// Each AP's contribution is scaled by its database confidence
			// so a dubious record pulls less on the estimate.
			ll -= (residual * residual) * o.AP.Confidence / (2 * sigmas[i] * sigmas[i])
		}
		return ll
	}

	gradient := func(x, y float64) (gx, gy float64) {
		const h = 0.5
		base := logLikelihood(x, y)
		gx = (logLikelihood(x+h, y) - base) / h
		gy = (logLikelihood(x, y+h) - base) / h
		return
	}

	current := logLikelihood(x, y)
	for iter := 0; iter < mlMaxIterations; iter++ {
		gx, gy := gradient(x, y)
		norm := math.Hypot(gx, gy)
		if norm < 1e-9 {
			break
		}
		dx := step * gx / norm
		dy := step * gy / norm

		nextX, nextY := x+dx, y+dy
		next := logLikelihood(nextX, nextY)

		halvings := 0
		for next < current && halvings < 6 {
			step /= 2
			dx = step * gx / norm
			dy = step * gy / norm
			nextX, nextY = x+dx, y+dy
			next = logLikelihood(nextX, nextY)
			halvings++
		}

		if next < current {
			break
		}

		moved := math.Hypot(dx, dy)
		x, y, current = nextX, nextY, next
		if moved < mlStepStop {
			break
		}
	}

	lat := clampLat(start.Lat + y/latMetersPerDegree)
	lon := clampLon(start.Lon + x/lonToM)

	var sumW, sumWAlt float64
	for i, o := range observations {
		if !o.AP.HasAltitude {
			continue
		}
		sumW += weights[i]
		sumWAlt += weights[i] * o.AP.Altitude
	}
	var alt float64
	var hasAlt bool
	if sumW > 0 {
		alt = sumWAlt / sumW
		hasAlt = true
	}

	apPts := make([]geo.Point, len(observations))
	for i, o := range observations {
		apPts[i] = geo.Point{Lat: o.AP.Latitude, Lon: o.AP.Longitude}
	}
	gdop := geo.GDOP(apPts, geo.Point{Lat: lat, Lon: lon}, false)
	gdopFactor := geo.GDOPFactor(gdop)

	rms := residualRMS(observations, lat, lon, exponents)
	accuracy := (3.0 + rms) * gdopFactor
	accuracy = clampRange(accuracy, 2, 60)

	fitQuality := 1.0 / (1.0 + rms/5.0) // in (0,1], 1 when residuals vanish
	confidence := mlMinConfidence + fitQuality*(mlMaxConfidence-mlMinConfidence)
	if !math.IsInf(gdop, 1) && gdop > 0 {
		confidence *= 1 - gdopConfidenceWeight*(1-1/gdop)
	}
	confidence = clampConfidence(confidence)

	pos := wifiloc.Position{
		Latitude:    lat,
		Longitude:   lon,
		Altitude:    alt,
		HasAltitude: hasAlt,
		Accuracy:    accuracy,
		Confidence:  confidence,
	}
	if !validPosition(pos) {
		return wifiloc.Position{}, false
	}
	return pos, true
}

// sigmaForRSSI widens the assumed measurement noise for weak signals,
// where the close-in model's distance estimate is least reliable:
// strong 2.5 dB, medium 4.0 dB, weak 6.0 dB.
func sigmaForRSSI(rssi float64) float64 {
	switch {
	case rssi >= -65:
		return mlSigmaStrongDb
	case rssi >= -85:
		return mlSigmaMediumDb
	default:
		return mlSigmaWeakDb
	}
}

func residualRMS(observations []wifiloc.Observation, lat, lon float64, exponents []float64) float64 {
	var sumSq float64
	for i, o := range observations {
		d := geo.HaversineMeters(lat, lon, o.AP.Latitude, o.AP.Longitude)
		if d < 1 {
			d = 1
		}
		expected := geo.ExpectedRssi(d, float64(o.Scan.Frequency), exponents[i])
		residual := o.Scan.SignalStrength - expected
		sumSq += residual * residual
	}
	return math.Sqrt(sumSq / float64(len(observations)))
}
