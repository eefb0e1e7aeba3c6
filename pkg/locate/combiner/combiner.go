// Package combiner implements the weighted fusion of per-algorithm
// candidate positions into a single output, including robust accuracy
// aggregation and a collinearity-aware confidence penalty.
package combiner

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/wifiloc/wifiloc/pkg/geo"
	"github.com/wifiloc/wifiloc/pkg/wifiloc"
)

const conditionNumberNorm = 10.0

// Options tunes the combiner.
type Options struct {
	// CollinearConfidenceMultiplier further depresses confidence on top
	// of the geometric-quality factor when the input positions are
	// collinear.
	CollinearConfidenceMultiplier float64
}

// DefaultOptions returns the stock tuning.
func DefaultOptions() Options {
	return Options{CollinearConfidenceMultiplier: 1.5}
}

// Candidate is one algorithm's contributed position with its selector
// weight.
type Candidate struct {
	Position wifiloc.Position
	Weight   float64
}

// Combine fuses one or more candidates into a single Position using the
// default Options. With a single candidate it is returned unchanged.
func Combine(candidates []Candidate) (wifiloc.Position, bool) {
	return CombineWith(DefaultOptions(), candidates)
}

// CombineWith is Combine with explicit tuning.
func CombineWith(opts Options, candidates []Candidate) (wifiloc.Position, bool) {
	if opts.CollinearConfidenceMultiplier <= 0 {
		opts.CollinearConfidenceMultiplier = DefaultOptions().CollinearConfidenceMultiplier
	}
	if len(candidates) == 0 {
		return wifiloc.Position{}, false
	}
	if len(candidates) == 1 {
		return candidates[0].Position, true
	}

	var sumW float64
	for _, c := range candidates {
		sumW += c.Weight
	}
	if sumW <= 0 {
		// Degrade to an unweighted mean rather than fail outright.
		for i := range candidates {
			candidates[i].Weight = 1
		}
		sumW = float64(len(candidates))
	}

	var lat, lon, alt, altW, conf float64
	for _, c := range candidates {
		nw := c.Weight / sumW
		lat += nw * c.Position.Latitude
		lon += nw * c.Position.Longitude
		conf += nw * c.Position.Confidence
		if c.Position.HasAltitude {
			alt += nw * c.Position.Altitude
			altW += nw
		}
	}
	hasAlt := altW > 0
	if hasAlt {
		alt /= altW
	}

	kappa := conditionNumber(candidates, lat, lon)

	points := make([]geo.Point, len(candidates))
	for i, c := range candidates {
		points[i] = geo.Point{Lat: c.Position.Latitude, Lon: c.Position.Longitude}
	}
	collinear := geo.IsCollinear(points)

	gqf := geometricQualityFactor(kappa)

	accuracies := make([]float64, len(candidates))
	for i, c := range candidates {
		accuracies[i] = c.Position.Accuracy
	}
	robust := robustAccuracy(accuracies)

	var accuracy float64
	if collinear {
		floor := gqf
		if v := math.Sqrt(kappa / conditionNumberNorm); v > floor {
			floor = v
		}
		accuracy = math.Max(6, robust*floor)
	} else {
		accuracy = math.Max(robust, robust*gqf)
	}

	var confidence float64
	if collinear {
		confidence = math.Min(0.69, conf/(gqf*opts.CollinearConfidenceMultiplier))
	} else {
		confidence = conf / math.Sqrt(gqf)
	}
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	return wifiloc.Position{
		Latitude:    clamp(lat, -90, 90),
		Longitude:   clamp(lon, -180, 180),
		Altitude:    alt,
		HasAltitude: hasAlt,
		Accuracy:    accuracy,
		Confidence:  confidence,
	}, true
}

// conditionNumber builds the 2x2 covariance of candidate lat/lon around
// the weighted mean and returns the ratio of its larger to smaller
// eigenvalue, or +Inf when the smaller eigenvalue is ~0.
func conditionNumber(candidates []Candidate, meanLat, meanLon float64) float64 {
	var sxx, sxy, syy float64
	n := float64(len(candidates))
	for _, c := range candidates {
		dx := c.Position.Latitude - meanLat
		dy := c.Position.Longitude - meanLon
		sxx += dx * dx
		sxy += dx * dy
		syy += dy * dy
	}
	sxx /= n
	sxy /= n
	syy /= n

	cov := mat.NewSymDense(2, []float64{sxx, sxy, sxy, syy})
	var eig mat.EigenSym
	if !eig.Factorize(cov, false) {
		return math.Inf(1)
	}
	values := eig.Values(nil)
	sort.Float64s(values)
	lo, hi := values[0], values[1]
	const eps = 1e-12
	if lo <= eps {
		return math.Inf(1)
	}
	return hi / lo
}

// geometricQualityFactor maps a condition number to a multiplier near
// 1.0 for well-conditioned inputs, growing as the inputs become
// degenerate.
func geometricQualityFactor(kappa float64) float64 {
	switch {
	case math.IsInf(kappa, 1):
		return 3.0
	case kappa < conditionNumberNorm:
		return 1.0
	case kappa < 4*conditionNumberNorm:
		return 1.0 + 0.3*(kappa/conditionNumberNorm-1)
	default:
		return 2.0
	}
}

// robustAccuracy implements the median / 25%-trimmed-mean blend with an
// MAD-based outlier inflation.
func robustAccuracy(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := len(sorted)

	med := median(sorted)

	var tmean float64
	if n <= 2 {
		tmean = med
	} else {
		trim := n / 4
		trimmed := sorted[trim : n-trim]
		if len(trimmed) == 0 {
			trimmed = sorted
		}
		var sum float64
		for _, v := range trimmed {
			sum += v
		}
		tmean = sum / float64(len(trimmed))
	}

	var robust float64
	if n <= 3 {
		robust = med
	} else {
		robust = 0.7*med + 0.3*tmean
	}

	deviations := make([]float64, n)
	for i, v := range sorted {
		deviations[i] = math.Abs(v - med)
	}
	sort.Float64s(deviations)
	mad := median(deviations)

	outliers := 0
	for _, v := range sorted {
		if v > med+2*mad {
			outliers++
		}
	}
	if outliers > 0 {
		outlierFraction := float64(outliers) / float64(n)
		robust *= 1 + 0.5*outlierFraction
	}

	return robust
}

func median(sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
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
