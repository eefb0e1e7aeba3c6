package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Collector) float64 {
	t.Helper()
	ch := make(chan prometheus.Metric, 16)
	c.Collect(ch)
	close(ch)
	var total float64
	for m := range ch {
		var pb dto.Metric
		require.NoError(t, m.Write(&pb))
		if pb.Counter != nil {
			total += pb.Counter.GetValue()
		}
	}
	return total
}

func gaugeValue(t *testing.T, c prometheus.Collector) float64 {
	t.Helper()
	ch := make(chan prometheus.Metric, 16)
	c.Collect(ch)
	close(ch)
	var total float64
	for m := range ch {
		var pb dto.Metric
		require.NoError(t, m.Write(&pb))
		if pb.Gauge != nil {
			total += pb.Gauge.GetValue()
		}
	}
	return total
}

func TestPositioningRecordsInvocationsSuccessesFailures(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewPositioning(reg)

	p.RecordInvocation("PROXIMITY")
	p.RecordInvocation("PROXIMITY")
	p.RecordSuccess("PROXIMITY")
	p.RecordFailure("TRILATERATION", "deadline_exceeded")
	p.RecordOutcome("POSITION")

	require.Equal(t, float64(2), counterValue(t, p.invocations))
	require.Equal(t, float64(1), counterValue(t, p.successes))
	require.Equal(t, float64(1), counterValue(t, p.failures))
	require.Equal(t, float64(1), counterValue(t, p.requests))
}

func TestIngestionRecordsAndGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	in := NewIngestion(reg)

	in.RecordAttempt("")
	in.RecordAttempt("BUFFER_FULL")
	in.RecordSuccess()
	in.RecordExhausted("NETWORK_ISSUE")
	in.RecordRetry("RATE_LIMIT")
	in.SetWorkerInFlight("0", 1)
	in.SetWorkerInFlight("1", 1)
	in.SetAccumulatedBytes(4096)

	require.Equal(t, float64(2), counterValue(t, in.batchAttempts))
	require.Equal(t, float64(1), counterValue(t, in.batchSuccesses))
	require.Equal(t, float64(1), counterValue(t, in.batchExhausted))
	require.Equal(t, float64(1), counterValue(t, in.retriesByClass))
	require.Equal(t, float64(2), gaugeValue(t, in.inFlightBatches))
	require.Equal(t, float64(4096), gaugeValue(t, in.accumulatedBytes))
}

func TestNewPositioningRegistersDistinctCollectorsPerRegistry(t *testing.T) {
	reg1 := prometheus.NewRegistry()
	reg2 := prometheus.NewRegistry()

	require.NotPanics(t, func() {
		NewPositioning(reg1)
		NewPositioning(reg2)
	})
}
