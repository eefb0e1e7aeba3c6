package algorithms

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/wifiloc/wifiloc/pkg/geo"
	"github.com/wifiloc/wifiloc/pkg/locate/scenario"
	"github.com/wifiloc/wifiloc/pkg/wifiloc"
)

const (
	latMetersPerDegree = 111000.0
	// controlledGDOPAlpha tempers the GDOP penalty applied to strong-signal
	// trilateration fixes versus the full multiplier applied otherwise.
	controlledGDOPAlpha = 0.5
	// gdopConfidenceWeight tempers how much GDOP erodes confidence.
	gdopConfidenceWeight = 0.3
)

// planePoint is one AP projected into the local metric plane around the
// reference AP, with its RSSI-derived distance.
type planePoint struct {
	x, y, d float64
	alt     float64
	hasAlt  bool
}

type trilaterationAlgorithm struct{}

func NewTrilaterationAlgorithm() Algorithm { return trilaterationAlgorithm{} }

func (trilaterationAlgorithm) Name() Name { return Trilateration }
func (trilaterationAlgorithm) MinObservations() int { return 3 }
func (trilaterationAlgorithm) BaseConfidence() float64 { return 0.7 }

// The weight tables below are fixed constants: better signal and better
// geometry always map to a higher multiplier.
func (trilaterationAlgorithm) BaseWeight(apCount scenario.APCountFactor) float64 {
	switch apCount {
	case scenario.APCountThree:
		return 1.0
	case scenario.APCountFourPlus:
		return 0.8
	default: // SINGLE, TWO: hard-disqualified by the selector
		return 0.0
	}
}

func (trilaterationAlgorithm) SignalQualityMultiplier(sq scenario.SignalQuality) float64 {
	switch sq {
	case scenario.SignalStrong:
		return 1.1
	case scenario.SignalMedium:
		return 0.9
	case scenario.SignalWeak:
		return 0.3
	default: // VERY_WEAK
		return 0.0
	}
}

func (trilaterationAlgorithm) GeometricQualityMultiplier(gq scenario.GeometricQuality) float64 {
	switch gq {
	case scenario.GeometryExcellent:
		return 1.3
	case scenario.GeometryGood:
		return 1.1
	case scenario.GeometryFair:
		return 0.7
	case scenario.GeometryCollinear:
		return 0.0 // hard-disqualified by the selector regardless
	default: // POOR
		return 0.3
	}
}

func (trilaterationAlgorithm) SignalDistributionMultiplier(sd scenario.SignalDistribution) float64 {
	switch sd {
	case scenario.DistributionUniform:
		return 1.1
	case scenario.DistributionMixed:
		return 0.9
	default: // OUTLIERS
		return 0.5
	}
}

func (a trilaterationAlgorithm) Compute(observations []wifiloc.Observation) (wifiloc.Position, bool) {
	if len(observations) < 3 {
		return wifiloc.Position{}, false
	}

	ref := observations[0]
	for _, o := range observations[1:] {
		if o.Scan.SignalStrength > ref.Scan.SignalStrength {
			ref = o
		}
	}

	lonToM := latMetersPerDegree * math.Cos(ref.AP.Latitude*math.Pi/180)

	pts := make([]planePoint, len(observations))
	refIdx := -1
	for i, o := range observations {
		x := (o.AP.Longitude - ref.AP.Longitude) * lonToM
		y := (o.AP.Latitude - ref.AP.Latitude) * latMetersPerDegree
		n := geo.PathLossExponentForRSSI(o.Scan.SignalStrength)
		d := geo.DistanceFromRssi(o.Scan.SignalStrength, float64(o.Scan.Frequency), n)
		pts[i] = planePoint{x: x, y: y, d: d, alt: o.AP.Altitude, hasAlt: o.AP.HasAltitude}
		if o.AP.MacAddress == ref.AP.MacAddress {
			refIdx = i
		}
	}
	if refIdx < 0 {
		refIdx = 0
	}
	p0 := pts[refIdx]

	rows := len(pts) - 1
	aData := make([]float64, rows*2)
	bData := make([]float64, rows)
	r := 0
	for i, p := range pts {
		if i == refIdx {
			continue
		}
		aData[r*2] = 2 * (p.x - p0.x)
		aData[r*2+1] = 2 * (p.y - p0.y)
		bData[r] = (p.x*p.x + p.y*p.y) - (p0.x*p0.x + p0.y*p0.y) + (p0.d*p0.d - p.d*p.d)
		r++
	}

	x, y, ok := solveLeastSquares(aData, bData, rows)
	strong := strongestSignal(observations) >= -65

	if !ok {
		centroid, cok := weightedCentroidFallback(observations)
		if !cok {
			return wifiloc.Position{}, false
		}
		x = (centroid.Lon - ref.AP.Longitude) * lonToM
		y = (centroid.Lat - ref.AP.Latitude) * latMetersPerDegree
	}

	lat := clampLat(ref.AP.Latitude + y/latMetersPerDegree)
	lon := clampLon(ref.AP.Longitude + x/lonToM)

	alt, hasAlt := inverseDistanceAltitude(pts)

	meanDist := meanDistance(pts)
	apPoints := make([]geo.Point, len(observations))
	for i, o := range observations {
		apPoints[i] = geo.Point{Lat: o.AP.Latitude, Lon: o.AP.Longitude}
	}
	gdop := geo.GDOP(apPoints, geo.Point{Lat: lat, Lon: lon}, false)
	gdopFactor := geo.GDOPFactor(gdop)

	var accuracy float64
	if strong {
		accuracy = 3.0 * (1 + (gdopFactor-1)*controlledGDOPAlpha)
		accuracy = clampRange(accuracy, 1, 5)
	} else {
		base := 0.3 * meanDist
		if base > 50 {
			base = 50
		}
		accuracy = base * gdopFactor
		accuracy = clampRange(accuracy, 1, 50)
	}

	sigFactor := signalQualityFactor(scenarioSignalQuality(observations))
	apCountFactor := 0.6
	if len(observations) >= 4 {
		apCountFactor = 1.0
	}
	weighted := 0.7*sigFactor + 0.3*apCountFactor
	confidence := 0.55 + weighted*0.30 // remap [0,1] -> [0.55,0.85]

	gdopPenalty := 1.0
	if !math.IsInf(gdop, 1) && gdop > 0 {
		gdopPenalty = 1 - gdopConfidenceWeight*(1-1/gdop)
	}
	confidence *= gdopPenalty

	if strong && confidence < 0.8 {
		confidence = 0.8
	}
	if !strong && confidence > 0.58 {
		confidence = 0.58
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

func solveLeastSquares(aData, bData []float64, rows int) (x, y float64, ok bool) {
	if rows < 2 {
		return 0, 0, false
	}
	a := mat.NewDense(rows, 2, aData)
	b := mat.NewVecDense(rows, bData)

	var qr mat.QR
	qr.Factorize(a)

	var result mat.VecDense
	err := qr.SolveVecTo(&result, false, b)
	if err != nil {
		return 0, 0, false
	}

	rx, ry := result.AtVec(0), result.AtVec(1)
	if isNaNOrInf(rx) || isNaNOrInf(ry) {
		return 0, 0, false
	}
	return rx, ry, true
}

func strongestSignal(observations []wifiloc.Observation) float64 {
	max := observations[0].Scan.SignalStrength
	for _, o := range observations[1:] {
		if o.Scan.SignalStrength > max {
			max = o.Scan.SignalStrength
		}
	}
	return max
}

func meanDistance(pts []planePoint) float64 {
	var sum float64
	for _, p := range pts {
		sum += p.d
	}
	return sum / float64(len(pts))
}

func inverseDistanceAltitude(pts []planePoint) (float64, bool) {
	var sumW, sumWAlt float64
	for _, p := range pts {
		if !p.hasAlt {
			continue
		}
		w := 1.0
		if p.d > 0 {
			w = 1.0 / p.d
		}
		sumW += w
		sumWAlt += w * p.alt
	}
	if sumW <= 0 {
		return 0, false
	}
	return sumWAlt / sumW, true
}

func weightedCentroidFallback(observations []wifiloc.Observation) (geo.Point, bool) {
	points := make([]geo.Point, len(observations))
	weights := make([]float64, len(observations))
	for i, o := range observations {
		points[i] = geo.Point{Lat: o.AP.Latitude, Lon: o.AP.Longitude}
		weights[i] = math.Pow(10, o.Scan.SignalStrength/20)
	}
	return geo.WeightedCentroid(points, weights)
}

func scenarioSignalQuality(observations []wifiloc.Observation) scenario.SignalQuality {
	var sum float64
	for _, o := range observations {
		sum += o.Scan.SignalStrength
	}
	mean := sum / float64(len(observations))
	switch {
	case mean > -70:
		return scenario.SignalStrong
	case mean >= -85:
		return scenario.SignalMedium
	case mean >= -95:
		return scenario.SignalWeak
	default:
		return scenario.SignalVeryWeak
	}
}

func signalQualityFactor(sq scenario.SignalQuality) float64 {
	switch sq {
	case scenario.SignalStrong:
		return 1.0
	case scenario.SignalMedium:
		return 0.7
	case scenario.SignalWeak:
		return 0.4
	default:
		return 0.1
	}
}

func clampRange(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
