// Package auditlog emits one structured record per positioning request:
// every field that fed the outcome is recorded so a request can be
// replayed by a human from the log line alone.
package auditlog

import (
	"github.com/wifiloc/wifiloc/pkg/locate/scenario"
	"github.com/wifiloc/wifiloc/pkg/locate/selector"
	"github.com/wifiloc/wifiloc/pkg/logx"
	"github.com/wifiloc/wifiloc/pkg/wifiloc"
)

// Logger records calculation info for each positioning request.
type Logger struct {
	log *logx.Logger
}

// New wraps log as an audit logger.
func New(log *logx.Logger) *Logger {
	return &Logger{log: log.WithField("component", "auditlog")}
}

// CalculationInfo mirrors the wire calculation-info envelope plus the
// request correlation id.
type CalculationInfo struct {
	RequestID          string
	Context            scenario.Context
	Selections         []selector.Selection
	AccessPoints       []wifiloc.AccessPointInfo
	AccessPointSummary wifiloc.AccessPointSummary
	Outcome            string // "POSITION", "NO_POSITION", "INVALID_INPUT"
	Position           *wifiloc.Position
}

// Record writes one audit entry at info level.
func (a *Logger) Record(info CalculationInfo) {
	selections := make([]map[string]interface{}, 0, len(info.Selections))
	for _, s := range info.Selections {
		selections = append(selections, map[string]interface{}{
			"algorithm": s.Algorithm,
			"selected":  s.Selected,
			"weight":    s.Weight,
			"reasons":   s.Reasons,
		})
	}

	accessPoints := make([]map[string]interface{}, 0, len(info.AccessPoints))
	for _, ap := range info.AccessPoints {
		entry := map[string]interface{}{
			"bssid":  ap.BSSID,
			"status": ap.Status,
			"usage":  ap.Usage,
		}
		if ap.Location != nil {
			entry["location"] = ap.Location
		}
		accessPoints = append(accessPoints, entry)
	}

	fields := map[string]interface{}{
		"requestId":          info.RequestID,
		"outcome":            info.Outcome,
		"apCountFactor":      info.Context.APCountFactor,
		"signalQuality":      info.Context.SignalQuality,
		"signalDistribution": info.Context.SignalDistribution,
		"geometricQuality":   info.Context.GeometricQuality,
		"gdop":               info.Context.GDOP,
		"algorithmSelection": selections,
		"accessPoints":       accessPoints,
		"accessPointSummary": info.AccessPointSummary,
	}
	if info.Position != nil {
		fields["latitude"] = info.Position.Latitude
		fields["longitude"] = info.Position.Longitude
		fields["accuracy"] = info.Position.Accuracy
		fields["confidence"] = info.Position.Confidence
	}

	a.log.WithFields(fields).Info("position calculation")
}
