package orchestrator

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/wifiloc/wifiloc/internal/apidb"
	"github.com/wifiloc/wifiloc/internal/auditlog"
	"github.com/wifiloc/wifiloc/pkg/locate/algorithms"
	"github.com/wifiloc/wifiloc/pkg/logx"
	"github.com/wifiloc/wifiloc/pkg/metrics"
	"github.com/wifiloc/wifiloc/pkg/wifiloc"
)

type fakeDB struct {
	records map[string]wifiloc.WifiAccessPoint
}

func (f *fakeDB) FindByMac(mac string) (wifiloc.WifiAccessPoint, bool, error) {
	ap, ok := f.records[mac]
	return ap, ok, nil
}

func (f *fakeDB) FindByMacs(macs []string) (map[string]wifiloc.WifiAccessPoint, error) {
	out := make(map[string]wifiloc.WifiAccessPoint)
	for _, m := range macs {
		if ap, ok := f.records[m]; ok {
			out[m] = ap
		}
	}
	return out, nil
}

func newTestOrchestrator(t *testing.T, db apidb.Database) *Orchestrator {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := metrics.NewPositioning(reg)
	log := logx.New("error")
	audit := auditlog.New(log)
	return New(db, algorithms.NewRegistry(), audit, log, m, DefaultConfig())
}

func TestLocateInvalidInputOnEmptyScans(t *testing.T) {
	o := newTestOrchestrator(t, &fakeDB{})
	result, err := o.Locate(context.Background(), nil)
	require.Error(t, err)
	require.Equal(t, OutcomeInvalidInput, result.Outcome)
}

func TestLocateNoPositionWhenNoAPMatches(t *testing.T) {
	o := newTestOrchestrator(t, &fakeDB{})
	scans := []wifiloc.WifiScanResult{{MacAddress: "aa:bb:cc:dd:ee:ff", SignalStrength: -60, Frequency: 2437}}
	result, err := o.Locate(context.Background(), scans)
	require.NoError(t, err)
	require.Equal(t, OutcomeNoPosition, result.Outcome)
}

// A single strong-signal AP resolves via proximity to the AP's own
// coordinates.
func TestLocateSingleStrongAP(t *testing.T) {
	db := &fakeDB{records: map[string]wifiloc.WifiAccessPoint{
		"aa:bb:cc:dd:ee:01": {
			MacAddress: "aa:bb:cc:dd:ee:01", Latitude: 37.7749, Longitude: -122.4194,
			Altitude: 10.5, HasAltitude: true, HorizontalAccuracy: 10, Confidence: 0.85,
			Status: wifiloc.StatusActive,
		},
	}}
	o := newTestOrchestrator(t, db)
	scans := []wifiloc.WifiScanResult{{MacAddress: "aa:bb:cc:dd:ee:01", SignalStrength: -65, Frequency: 2437}}

	result, err := o.Locate(context.Background(), scans)
	require.NoError(t, err)
	require.Equal(t, OutcomePosition, result.Outcome)
	require.InDelta(t, 37.7749, result.Position.Latitude, 1e-6)
	require.InDelta(t, -122.4194, result.Position.Longitude, 1e-6)
	require.GreaterOrEqual(t, result.Position.Accuracy, 10.0)
	require.GreaterOrEqual(t, result.Position.Confidence, 0.5)
	require.Len(t, result.Selections, len(algorithms.All))
	require.NotEmpty(t, result.RequestID)
}

func TestLocateIgnoresNonActiveAPs(t *testing.T) {
	db := &fakeDB{records: map[string]wifiloc.WifiAccessPoint{
		"aa:bb:cc:dd:ee:01": {
			MacAddress: "aa:bb:cc:dd:ee:01", Latitude: 1, Longitude: 1,
			HorizontalAccuracy: 10, Confidence: 0.8, Status: wifiloc.StatusExpired,
		},
	}}
	o := newTestOrchestrator(t, db)
	scans := []wifiloc.WifiScanResult{{MacAddress: "aa:bb:cc:dd:ee:01", SignalStrength: -60, Frequency: 2437}}

	result, err := o.Locate(context.Background(), scans)
	require.NoError(t, err)
	require.Equal(t, OutcomeNoPosition, result.Outcome)
	require.Len(t, result.AccessPoints, 1)
	require.Equal(t, wifiloc.UsageIgnoredStatus, result.AccessPoints[0].Usage)
}

func TestLocateSummaryCountsMatchedAndUnmatchedAPs(t *testing.T) {
	db := &fakeDB{records: map[string]wifiloc.WifiAccessPoint{
		"aa:01": {MacAddress: "aa:01", Latitude: 1, Longitude: 1, HorizontalAccuracy: 10, Confidence: 0.8, Status: wifiloc.StatusActive},
	}}
	o := newTestOrchestrator(t, db)
	scans := []wifiloc.WifiScanResult{
		{MacAddress: "aa:01", SignalStrength: -60, Frequency: 2437},
		{MacAddress: "aa:02", SignalStrength: -60, Frequency: 2437}, // unmatched
	}

	result, err := o.Locate(context.Background(), scans)
	require.NoError(t, err)
	require.Equal(t, 2, result.AccessPointSummary.Total)
	require.Equal(t, 1, result.AccessPointSummary.Used)
}

// Two APs with uniform signal (mean -69.25 dBm, the STRONG bucket)
// interpolate between the AP coordinates and never engage trilateration
// or maximum likelihood.
func TestLocateTwoAPsUniform(t *testing.T) {
	db := &fakeDB{records: map[string]wifiloc.WifiAccessPoint{
		"aa:bb:cc:dd:ee:02": {MacAddress: "aa:bb:cc:dd:ee:02", Latitude: 37.7750, Longitude: -122.4195, HorizontalAccuracy: 10, Confidence: 0.8, Status: wifiloc.StatusActive},
		"aa:bb:cc:dd:ee:03": {MacAddress: "aa:bb:cc:dd:ee:03", Latitude: 37.7751, Longitude: -122.4196, HorizontalAccuracy: 10, Confidence: 0.8, Status: wifiloc.StatusActive},
	}}
	o := newTestOrchestrator(t, db)
	scans := []wifiloc.WifiScanResult{
		{MacAddress: "aa:bb:cc:dd:ee:02", SignalStrength: -68.5, Frequency: 5180},
		{MacAddress: "aa:bb:cc:dd:ee:03", SignalStrength: -70.0, Frequency: 5180},
	}

	result, err := o.Locate(context.Background(), scans)
	require.NoError(t, err)
	require.Equal(t, OutcomePosition, result.Outcome)
	require.GreaterOrEqual(t, result.Position.Latitude, 37.7750)
	require.LessOrEqual(t, result.Position.Latitude, 37.7751)

	for _, s := range result.Selections {
		if s.Algorithm == algorithms.Trilateration || s.Algorithm == algorithms.MaximumLikelihood {
			require.False(t, s.Selected)
		}
	}
}
