// Package orchestrator runs one positioning request end to end: AP
// lookup, scenario context, selection, bounded parallel algorithm
// execution, and fusion. It is the request-task owner described by the
// data model — it exclusively owns its context, selection, and partial
// results for the lifetime of one request.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/wifiloc/wifiloc/internal/apidb"
	"github.com/wifiloc/wifiloc/internal/auditlog"
	"github.com/wifiloc/wifiloc/pkg/locate/algorithms"
	"github.com/wifiloc/wifiloc/pkg/locate/combiner"
	"github.com/wifiloc/wifiloc/pkg/locate/scenario"
	"github.com/wifiloc/wifiloc/pkg/locate/selector"
	"github.com/wifiloc/wifiloc/pkg/logx"
	"github.com/wifiloc/wifiloc/pkg/metrics"
	"github.com/wifiloc/wifiloc/pkg/wifiloc"
)

// Outcome is the error-free result classification the orchestrator
// reports: a combined position, no usable position, or invalid input.
type Outcome string

const (
	OutcomePosition     Outcome = "POSITION"
	OutcomeNoPosition   Outcome = "NO_POSITION"
	OutcomeInvalidInput Outcome = "INVALID_INPUT"
)

// Config holds the request-independent tunables.
type Config struct {
	PerAlgorithmTimeout           time.Duration
	MaxFinalistAlgorithms         int
	PruneWeightThreshold          float64
	CollinearConfidenceMultiplier float64
}

// DefaultConfig returns the stock tunables.
func DefaultConfig() Config {
	return Config{
		PerAlgorithmTimeout:           5 * time.Second,
		MaxFinalistAlgorithms:         3,
		PruneWeightThreshold:          0.4,
		CollinearConfidenceMultiplier: 1.5,
	}
}

// Orchestrator wires together the AP database, registry, and logging
// collaborators for repeated use across requests; it holds no
// per-request state itself.
type Orchestrator struct {
	db       apidb.Database
	registry *algorithms.Registry
	audit    *auditlog.Logger
	log      *logx.Logger
	metrics  *metrics.Positioning
	cfg      Config
}

// New builds an Orchestrator. Zero-valued tunables in cfg fall back to
// DefaultConfig.
func New(db apidb.Database, registry *algorithms.Registry, audit *auditlog.Logger, log *logx.Logger, m *metrics.Positioning, cfg Config) *Orchestrator {
	def := DefaultConfig()
	if cfg.PerAlgorithmTimeout <= 0 {
		cfg.PerAlgorithmTimeout = def.PerAlgorithmTimeout
	}
	if cfg.MaxFinalistAlgorithms <= 0 {
		cfg.MaxFinalistAlgorithms = def.MaxFinalistAlgorithms
	}
	if cfg.PruneWeightThreshold <= 0 {
		cfg.PruneWeightThreshold = def.PruneWeightThreshold
	}
	if cfg.CollinearConfidenceMultiplier <= 0 {
		cfg.CollinearConfidenceMultiplier = def.CollinearConfidenceMultiplier
	}
	return &Orchestrator{db: db, registry: registry, audit: audit, log: log, metrics: m, cfg: cfg}
}

// Result is the response envelope for one positioning request.
type Result struct {
	RequestID          string
	Outcome            Outcome
	Position           wifiloc.Position
	AccessPoints       []wifiloc.AccessPointInfo
	AccessPointSummary wifiloc.AccessPointSummary
	Context            scenario.Context
	Selections         []selector.Selection
}

// Locate runs one request to completion.
func (o *Orchestrator) Locate(ctx context.Context, scans []wifiloc.WifiScanResult) (Result, error) {
	requestID := uuid.New().String()

	if len(scans) == 0 {
		o.metrics.RecordOutcome(string(OutcomeInvalidInput))
		return Result{RequestID: requestID, Outcome: OutcomeInvalidInput}, fmt.Errorf("no scan results provided")
	}

	macs := make([]string, len(scans))
	for i, s := range scans {
		macs[i] = apidb.CanonicalMAC(s.MacAddress)
	}
	apByMac, err := o.db.FindByMacs(macs)
	if err != nil {
		o.metrics.RecordOutcome(string(OutcomeInvalidInput))
		return Result{RequestID: requestID, Outcome: OutcomeInvalidInput}, fmt.Errorf("AP lookup: %w", err)
	}

	observations := make([]wifiloc.Observation, 0, len(scans))
	infos := make([]wifiloc.AccessPointInfo, 0, len(scans))
	statusCounts := make(map[wifiloc.APStatus]int)

	for _, s := range scans {
		mac := apidb.CanonicalMAC(s.MacAddress)
		ap, found := apByMac[mac]
		if !found {
			infos = append(infos, wifiloc.AccessPointInfo{BSSID: mac, Status: wifiloc.StatusUnknown, Usage: wifiloc.UsageNotFound})
			continue
		}
		statusCounts[ap.Status]++
		if ap.Status != wifiloc.StatusActive {
			infos = append(infos, wifiloc.AccessPointInfo{
				BSSID:    mac,
				Location: &wifiloc.LatLonAlt{Latitude: ap.Latitude, Longitude: ap.Longitude, Altitude: ap.Altitude},
				Status:   ap.Status,
				Usage:    wifiloc.UsageIgnoredStatus,
			})
			continue
		}
		infos = append(infos, wifiloc.AccessPointInfo{
			BSSID:    mac,
			Location: &wifiloc.LatLonAlt{Latitude: ap.Latitude, Longitude: ap.Longitude, Altitude: ap.Altitude},
			Status:   ap.Status,
			Usage:    wifiloc.UsageUsed,
		})
		scan := s
		scan.MacAddress = mac
		observations = append(observations, wifiloc.Observation{Scan: scan, AP: ap})
	}

	summary := wifiloc.AccessPointSummary{Total: len(scans), Used: len(observations)}
	for status, count := range statusCounts {
		summary.StatusCounts = append(summary.StatusCounts, wifiloc.StatusCount{Status: status, Count: count})
	}

	if len(observations) == 0 {
		result := Result{RequestID: requestID, Outcome: OutcomeNoPosition, AccessPoints: infos, AccessPointSummary: summary}
		o.recordAudit(result)
		return result, nil
	}

	selCtx := scenario.Build(observations)
	selections, finalists := selector.SelectWith(selector.Config{
		PruneWeightThreshold: o.cfg.PruneWeightThreshold,
		MaxFinalists:         o.cfg.MaxFinalistAlgorithms,
	}, o.registry, selCtx)

	if len(finalists) == 0 {
		result := Result{RequestID: requestID, Outcome: OutcomeNoPosition, AccessPoints: infos, AccessPointSummary: summary, Context: selCtx, Selections: selections}
		o.recordAudit(result)
		return result, nil
	}

	candidates := o.runFinalists(ctx, finalists, observations, selections)

	if len(candidates) == 0 {
		result := Result{RequestID: requestID, Outcome: OutcomeNoPosition, AccessPoints: infos, AccessPointSummary: summary, Context: selCtx, Selections: selections}
		o.recordAudit(result)
		return result, nil
	}

	pos, ok := combiner.CombineWith(combiner.Options{
		CollinearConfidenceMultiplier: o.cfg.CollinearConfidenceMultiplier,
	}, candidates)
	if !ok {
		result := Result{RequestID: requestID, Outcome: OutcomeNoPosition, AccessPoints: infos, AccessPointSummary: summary, Context: selCtx, Selections: selections}
		o.recordAudit(result)
		return result, nil
	}

	result := Result{
		RequestID:          requestID,
		Outcome:            OutcomePosition,
		Position:           pos,
		AccessPoints:       infos,
		AccessPointSummary: summary,
		Context:            selCtx,
		Selections:         selections,
	}
	o.recordAudit(result)
	return result, nil
}

func (o *Orchestrator) recordAudit(r Result) {
	o.metrics.RecordOutcome(string(r.Outcome))
	info := auditlog.CalculationInfo{
		RequestID:          r.RequestID,
		Context:            r.Context,
		Selections:         r.Selections,
		AccessPoints:       r.AccessPoints,
		AccessPointSummary: r.AccessPointSummary,
		Outcome:            string(r.Outcome),
	}
	if r.Outcome == OutcomePosition {
		info.Position = &r.Position
	}
	o.audit.Record(info)
}

// runFinalists computes each finalist algorithm's candidate position
// concurrently, each bounded by PerAlgorithmTimeout. Cancellation of a
// lagging algorithm is best-effort: the result is discarded once the
// deadline fires. Algorithms never mutate shared state, so a discarded
// goroutine racing to completion after its deadline is harmless.
func (o *Orchestrator) runFinalists(ctx context.Context, finalists []algorithms.Algorithm, observations []wifiloc.Observation, selections []selector.Selection) []combiner.Candidate {
	weights := make(map[algorithms.Name]float64, len(selections))
	for _, s := range selections {
		weights[s.Algorithm] = s.Weight
	}

	results := make([]*combiner.Candidate, len(finalists))

	g, gctx := errgroup.WithContext(ctx)
	for i, alg := range finalists {
		i, alg := i, alg
		g.Go(func() error {
			algCtx, cancel := context.WithTimeout(gctx, o.cfg.PerAlgorithmTimeout)
			defer cancel()

			o.metrics.RecordInvocation(string(alg.Name()))

			type outcome struct {
				pos wifiloc.Position
				ok  bool
			}
			done := make(chan outcome, 1)
			go func() {
				pos, ok := alg.Compute(observations)
				done <- outcome{pos: pos, ok: ok}
			}()

			select {
			case <-algCtx.Done():
				o.metrics.RecordFailure(string(alg.Name()), "deadline_exceeded")
				return nil
			case res := <-done:
				if !res.ok {
					o.metrics.RecordFailure(string(alg.Name()), "algorithm_fail")
					return nil
				}
				o.metrics.RecordSuccess(string(alg.Name()))
				results[i] = &combiner.Candidate{Position: res.pos, Weight: weights[alg.Name()]}
				return nil
			}
		})
	}
	_ = g.Wait() // algorithms never return an error; failures are recorded, not propagated

	out := make([]combiner.Candidate, 0, len(results))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out
}
