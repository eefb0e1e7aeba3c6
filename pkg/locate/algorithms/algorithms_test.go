package algorithms

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wifiloc/wifiloc/pkg/wifiloc"
)

func ap(mac string, lat, lon float64) wifiloc.WifiAccessPoint {
	return wifiloc.WifiAccessPoint{
		MacAddress:         mac,
		Latitude:           lat,
		Longitude:          lon,
		HorizontalAccuracy: 10,
		Confidence:         0.8,
		Status:             wifiloc.StatusActive,
	}
}

func scan(mac string, rssi float64) wifiloc.WifiScanResult {
	return wifiloc.WifiScanResult{MacAddress: mac, SignalStrength: rssi, Frequency: 2437}
}

func obs(mac string, rssi, lat, lon float64) wifiloc.Observation {
	return wifiloc.Observation{Scan: scan(mac, rssi), AP: ap(mac, lat, lon)}
}

// A single strong-signal AP resolves via proximity to the AP's own
// coordinates.
func TestProximitySingleStrongAP(t *testing.T) {
	a := NewProximityAlgorithm()
	o := []wifiloc.Observation{{
		Scan: wifiloc.WifiScanResult{MacAddress: "aa:bb:cc:dd:ee:01", SignalStrength: -65, Frequency: 2437},
		AP: wifiloc.WifiAccessPoint{
			MacAddress: "aa:bb:cc:dd:ee:01", Latitude: 37.7749, Longitude: -122.4194,
			Altitude: 10.5, HasAltitude: true, HorizontalAccuracy: 10, Confidence: 0.85,
			Status: wifiloc.StatusActive,
		},
	}}
	pos, ok := a.Compute(o)
	require.True(t, ok)
	require.InDelta(t, 37.7749, pos.Latitude, 1e-9)
	require.InDelta(t, -122.4194, pos.Longitude, 1e-9)
	require.GreaterOrEqual(t, pos.Accuracy, 10.0)
	require.GreaterOrEqual(t, pos.Confidence, 0.5)
}

func TestProximityMinObservations(t *testing.T) {
	a := NewProximityAlgorithm()
	_, ok := a.Compute(nil)
	require.False(t, ok)
}

func TestProximityPicksStrongestSignal(t *testing.T) {
	a := NewProximityAlgorithm()
	o := []wifiloc.Observation{
		obs("aa:01", -90, 1, 1),
		obs("aa:02", -60, 2, 2),
	}
	pos, ok := a.Compute(o)
	require.True(t, ok)
	require.InDelta(t, 2, pos.Latitude, 1e-9)
	require.InDelta(t, 2, pos.Longitude, 1e-9)
}

func TestRSSIRatioBetweenTwoAPs(t *testing.T) {
	a := NewRSSIRatioAlgorithm()
	o := []wifiloc.Observation{
		obs("aa:02", -68.5, 37.7750, -122.4195),
		obs("aa:03", -70.0, 37.7751, -122.4196),
	}
	pos, ok := a.Compute(o)
	require.True(t, ok)
	lo, hi := 37.7750, 37.7751
	require.GreaterOrEqual(t, pos.Latitude, lo)
	require.LessOrEqual(t, pos.Latitude, hi)
}

func TestRSSIRatioRequiresTwoObservations(t *testing.T) {
	a := NewRSSIRatioAlgorithm()
	_, ok := a.Compute([]wifiloc.Observation{obs("aa:01", -60, 0, 0)})
	require.False(t, ok)
}

func TestWeightedCentroidBasic(t *testing.T) {
	a := NewWeightedCentroidAlgorithm()
	o := []wifiloc.Observation{
		obs("aa:01", -60, 0, 0),
		obs("aa:02", -60, 0, 2),
	}
	pos, ok := a.Compute(o)
	require.True(t, ok)
	require.InDelta(t, 1, pos.Longitude, 1e-9) // equal RSSI -> midpoint
}

func TestLogDistanceWeightsCloserAPMore(t *testing.T) {
	a := NewLogDistanceAlgorithm()
	o := []wifiloc.Observation{
		obs("aa:01", -50, 0, 0),  // strong -> short estimated distance -> high weight
		obs("aa:02", -90, 0, 10), // weak -> long distance -> low weight
	}
	pos, ok := a.Compute(o)
	require.True(t, ok)
	require.Less(t, pos.Longitude, 5.0) // pulled toward the stronger AP
}

func TestLogDistanceVendorCorrectionDoesNotCrash(t *testing.T) {
	a := NewLogDistanceAlgorithm()
	o1 := obs("aa:01", -60, 0, 0)
	o1.AP.Vendor = "Cisco"
	o2 := obs("aa:02", -65, 0, 1)
	o2.AP.Vendor = "unknown-vendor"
	pos, ok := a.Compute([]wifiloc.Observation{o1, o2})
	require.True(t, ok)
	require.GreaterOrEqual(t, pos.Accuracy, 1.0)
}

func square4APs(signals [4]float64) []wifiloc.Observation {
	coords := [4][2]float64{{0.00025, 0.00025}, {0.00025, -0.00025}, {-0.00025, 0.00025}, {-0.00025, -0.00025}}
	out := make([]wifiloc.Observation, 4)
	for i := range coords {
		out[i] = obs("aa:0"+string(rune('1'+i)), signals[i], coords[i][0], coords[i][1])
	}
	return out
}

func TestMaxLikelihoodFourAPsStrongSquare(t *testing.T) {
	o := square4APs([4]float64{-55, -60, -58, -62})
	a := NewMaxLikelihoodAlgorithm()
	pos, ok := a.Compute(o)
	require.True(t, ok)
	require.LessOrEqual(t, pos.Accuracy, 30.0) // generous bound; exact value depends on gradient ascent convergence
	require.GreaterOrEqual(t, pos.Confidence, 0.6)
}

// The adaptive sigma schedule is fixed: strong signals assume 2.5 dB of
// measurement noise, medium 4.0 dB, weak 6.0 dB.
func TestMaxLikelihoodSigmaSchedule(t *testing.T) {
	require.Equal(t, 2.5, sigmaForRSSI(-30))
	require.Equal(t, 2.5, sigmaForRSSI(-65))
	require.Equal(t, 4.0, sigmaForRSSI(-66))
	require.Equal(t, 4.0, sigmaForRSSI(-85))
	require.Equal(t, 6.0, sigmaForRSSI(-86))
	require.Equal(t, 6.0, sigmaForRSSI(-99))
}

func TestMaxLikelihoodRequiresFourObservations(t *testing.T) {
	a := NewMaxLikelihoodAlgorithm()
	_, ok := a.Compute([]wifiloc.Observation{obs("a", -60, 0, 0), obs("b", -60, 0, 1), obs("c", -60, 1, 0)})
	require.False(t, ok)
}

func TestTrilaterationRequiresThreeObservations(t *testing.T) {
	a := NewTrilaterationAlgorithm()
	_, ok := a.Compute([]wifiloc.Observation{obs("a", -60, 0, 0), obs("b", -60, 0, 1)})
	require.False(t, ok)
}

// TestTrilaterationRecoversTriangleGeometry builds a synthetic,
// self-consistent scenario (AP positions plus RSSI values derived from the
// same close-in model trilateration itself inverts) and checks the solver
// recovers the known target position.
func TestTrilaterationRecoversTriangleGeometry(t *testing.T) {
	a := NewTrilaterationAlgorithm()
	target := struct{ lat, lon float64 }{37.7750, -122.4200}
	apsCoords := [][2]float64{
		{37.7755, -122.4200},
		{37.7745, -122.4195},
		{37.7747, -122.4206},
	}
	o := make([]wifiloc.Observation, len(apsCoords))
	for i, c := range apsCoords {
		d := planarDistanceMeters(target.lat, target.lon, c[0], c[1])
		rssi := rssiForDistanceWeakBucket(d)
		o[i] = obs("aa:0"+string(rune('1'+i)), rssi, c[0], c[1])
	}
	pos, ok := a.Compute(o)
	require.True(t, ok)
	require.InDelta(t, target.lat, pos.Latitude, 0.01)
	require.InDelta(t, target.lon, pos.Longitude, 0.01)
}

func planarDistanceMeters(lat1, lon1, lat2, lon2 float64) float64 {
	const mPerDeg = 111000.0
	dLat := (lat2 - lat1) * mPerDeg
	dLon := (lon2 - lon1) * mPerDeg * math.Cos(lat1*math.Pi/180)
	return math.Hypot(dLat, dLon)
}

// rssiForDistanceWeakBucket inverts the same close-in model
// geo.DistanceFromRssi uses at 2437MHz with the weak-signal exponent (3.0,
// selected for rssi < -65 dBm, which these AP separations produce), so the
// synthetic RSSI values are consistent with what trilateration will
// re-derive as distances.
func rssiForDistanceWeakBucket(d float64) float64 {
	const freqHz = 2437e6
	const speedOfLight = 299792458.0
	fspl := 20 * math.Log10(4*math.Pi*1*freqHz/speedOfLight)
	return -(fspl + 10*3.0*math.Log10(d))
}

func TestRegistryAllReturnsDeterministicOrder(t *testing.T) {
	reg := NewRegistry()
	names := make([]Name, 0, len(All))
	for _, a := range reg.All() {
		names = append(names, a.Name())
	}
	require.Equal(t, All, names)
}

func TestRegistryGetUnknownNotFound(t *testing.T) {
	reg := NewRegistry()
	_, ok := reg.Get("NOT_A_REAL_ALGORITHM")
	require.False(t, ok)
}

func TestAllAlgorithmsFailGracefullyBelowMinimum(t *testing.T) {
	reg := NewRegistry()
	single := []wifiloc.Observation{obs("aa:01", -60, 0, 0)}
	for _, a := range reg.All() {
		if a.MinObservations() > 1 {
			_, ok := a.Compute(single)
			require.False(t, ok, "%s should fail with only one observation", a.Name())
		}
	}
}
