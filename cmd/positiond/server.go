package main

import (
	"context"
	"fmt"
	"math"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/wifiloc/wifiloc/pkg/locate/orchestrator"
	"github.com/wifiloc/wifiloc/pkg/locate/scenario"
	"github.com/wifiloc/wifiloc/pkg/locate/selector"
	"github.com/wifiloc/wifiloc/pkg/logx"
	"github.com/wifiloc/wifiloc/pkg/wifiloc"
)

// server implements the single positioning RPC over the hand-encoded
// wire format below, the same raw-bytes approach internal/apidb uses
// for its own gRPC client, kept consistent since this repository ships
// no generated .pb.go stubs.
type server struct {
	orch *orchestrator.Orchestrator
	log  *logx.Logger
}

func newServer(orch *orchestrator.Orchestrator, log *logx.Logger) *server {
	return &server{orch: orch, log: log.WithField("component", "positiond")}
}

func listen(addr string) (net.Listener, error) {
	return net.Listen("tcp", addr)
}

const locateMethod = "/wifiloc.positioning.Positioning/Locate"

// registerPositioningService wires the single Locate RPC into a manual
// grpc.ServiceDesc, since the raw-bytes codec bypasses generated service
// stubs entirely.
func registerPositioningService(s *grpc.Server, srv *server) {
	desc := grpc.ServiceDesc{
		ServiceName: "wifiloc.positioning.Positioning",
		HandlerType: (*interface{})(nil),
		Methods: []grpc.MethodDesc{
			{
				MethodName: "Locate",
				Handler: func(_ interface{}, ctx context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
					var reqBytes []byte
					if err := dec(&reqBytes); err != nil {
						return nil, fmt.Errorf("decode request: %w", err)
					}
					scans, err := decodeLocateRequest(reqBytes)
					if err != nil {
						return nil, fmt.Errorf("malformed request: %w", err)
					}

					result, err := srv.orch.Locate(ctx, scans)
					if err != nil {
						srv.log.Warn("locate request failed", "error", err.Error())
					}
					respBytes := encodeLocateResponse(result)
					return &respBytes, nil
				},
			},
		},
		Streams:  []grpc.StreamDesc{},
		Metadata: "positiond.proto",
	}
	s.RegisterService(&desc, srv)
}

// Wire field numbers for the request message (repeated ScanResult).
const (
	reqFieldScans = 1

	scanFieldMac       = 1
	scanFieldRSSI      = 2
	scanFieldFrequency = 3
	scanFieldSSID      = 4
)

// Wire field numbers for the response message (calculationInfo).
const (
	respFieldRequestID    = 1
	respFieldOutcome      = 2
	respFieldPosition     = 3
	respFieldSummary      = 4
	respFieldAccessPoints = 5
	respFieldContext      = 6
	respFieldSelection    = 7

	posFieldLat        = 1
	posFieldLon        = 2
	posFieldAlt        = 3
	posFieldAccuracy   = 4
	posFieldConfidence = 5

	summaryFieldTotal        = 1
	summaryFieldUsed         = 2
	summaryFieldStatusCounts = 3

	statusCountFieldStatus = 1
	statusCountFieldCount  = 2

	apInfoFieldBssid    = 1
	apInfoFieldLocation = 2
	apInfoFieldStatus   = 3
	apInfoFieldUsage    = 4

	locFieldLat = 1
	locFieldLon = 2
	locFieldAlt = 3

	ctxFieldAPCountFactor      = 1
	ctxFieldSignalQuality      = 2
	ctxFieldSignalDistribution = 3
	ctxFieldGeometricQuality   = 4

	selFieldAlgorithm = 1
	selFieldSelected  = 2
	selFieldWeight    = 3
	selFieldReasons   = 4
)

func decodeLocateRequest(data []byte) ([]wifiloc.WifiScanResult, error) {
	var scans []wifiloc.WifiScanResult
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		data = data[n:]

		if num != reqFieldScans || typ != protowire.BytesType {
			nn := skipField(num, typ, data)
			if nn < 0 {
				return nil, protowire.ParseError(nn)
			}
			data = data[nn:]
			continue
		}

		scanBytes, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		data = data[n:]

		scan, err := decodeScanResult(scanBytes)
		if err != nil {
			return nil, err
		}
		scans = append(scans, scan)
	}
	return scans, nil
}

func decodeScanResult(data []byte) (wifiloc.WifiScanResult, error) {
	var s wifiloc.WifiScanResult
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return s, protowire.ParseError(n)
		}
		data = data[n:]

		switch num {
		case scanFieldMac:
			v, nn := protowire.ConsumeString(data)
			if nn < 0 {
				return s, protowire.ParseError(nn)
			}
			s.MacAddress = v
			data = data[nn:]
		case scanFieldSSID:
			v, nn := protowire.ConsumeString(data)
			if nn < 0 {
				return s, protowire.ParseError(nn)
			}
			s.SSID = v
			data = data[nn:]
		case scanFieldRSSI:
			v, nn := protowire.ConsumeFixed64(data)
			if nn < 0 {
				return s, protowire.ParseError(nn)
			}
			s.SignalStrength = math.Float64frombits(v)
			data = data[nn:]
		case scanFieldFrequency:
			v, nn := protowire.ConsumeVarint(data)
			if nn < 0 {
				return s, protowire.ParseError(nn)
			}
			s.Frequency = int(v)
			data = data[nn:]
		default:
			nn := skipField(num, typ, data)
			if nn < 0 {
				return s, protowire.ParseError(nn)
			}
			data = data[nn:]
		}
	}
	return s, nil
}

func skipField(num protowire.Number, typ protowire.Type, data []byte) int {
	return protowire.ConsumeFieldValue(num, typ, data)
}

func encodeLocateResponse(r orchestrator.Result) []byte {
	var buf []byte
	buf = appendString(buf, respFieldRequestID, r.RequestID)
	buf = appendString(buf, respFieldOutcome, string(r.Outcome))

	if r.Outcome == orchestrator.OutcomePosition {
		pos := encodePosition(r.Position)
		buf = protowire.AppendTag(buf, respFieldPosition, protowire.BytesType)
		buf = protowire.AppendBytes(buf, pos)
	}

	summary := encodeSummary(r.AccessPointSummary)
	buf = protowire.AppendTag(buf, respFieldSummary, protowire.BytesType)
	buf = protowire.AppendBytes(buf, summary)

	for _, ap := range r.AccessPoints {
		buf = protowire.AppendTag(buf, respFieldAccessPoints, protowire.BytesType)
		buf = protowire.AppendBytes(buf, encodeAccessPointInfo(ap))
	}

	buf = protowire.AppendTag(buf, respFieldContext, protowire.BytesType)
	buf = protowire.AppendBytes(buf, encodeSelectionContext(r.Context))

	for _, s := range r.Selections {
		buf = protowire.AppendTag(buf, respFieldSelection, protowire.BytesType)
		buf = protowire.AppendBytes(buf, encodeSelection(s))
	}

	return buf
}

func encodePosition(p wifiloc.Position) []byte {
	var buf []byte
	buf = appendDouble(buf, posFieldLat, p.Latitude)
	buf = appendDouble(buf, posFieldLon, p.Longitude)
	buf = appendDouble(buf, posFieldAlt, p.Altitude)
	buf = appendDouble(buf, posFieldAccuracy, p.Accuracy)
	buf = appendDouble(buf, posFieldConfidence, p.Confidence)
	return buf
}

func encodeSummary(s wifiloc.AccessPointSummary) []byte {
	var buf []byte
	buf = protowire.AppendTag(buf, summaryFieldTotal, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(s.Total))
	buf = protowire.AppendTag(buf, summaryFieldUsed, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(s.Used))
	for _, sc := range s.StatusCounts {
		var m []byte
		m = appendString(m, statusCountFieldStatus, string(sc.Status))
		m = protowire.AppendTag(m, statusCountFieldCount, protowire.VarintType)
		m = protowire.AppendVarint(m, uint64(sc.Count))
		buf = protowire.AppendTag(buf, summaryFieldStatusCounts, protowire.BytesType)
		buf = protowire.AppendBytes(buf, m)
	}
	return buf
}

func encodeAccessPointInfo(ap wifiloc.AccessPointInfo) []byte {
	var buf []byte
	buf = appendString(buf, apInfoFieldBssid, ap.BSSID)
	if ap.Location != nil {
		var loc []byte
		loc = appendDouble(loc, locFieldLat, ap.Location.Latitude)
		loc = appendDouble(loc, locFieldLon, ap.Location.Longitude)
		loc = appendDouble(loc, locFieldAlt, ap.Location.Altitude)
		buf = protowire.AppendTag(buf, apInfoFieldLocation, protowire.BytesType)
		buf = protowire.AppendBytes(buf, loc)
	}
	buf = appendString(buf, apInfoFieldStatus, string(ap.Status))
	buf = appendString(buf, apInfoFieldUsage, string(ap.Usage))
	return buf
}

func encodeSelectionContext(ctx scenario.Context) []byte {
	var buf []byte
	buf = appendString(buf, ctxFieldAPCountFactor, string(ctx.APCountFactor))
	buf = appendString(buf, ctxFieldSignalQuality, string(ctx.SignalQuality))
	buf = appendString(buf, ctxFieldSignalDistribution, string(ctx.SignalDistribution))
	buf = appendString(buf, ctxFieldGeometricQuality, string(ctx.GeometricQuality))
	return buf
}

func encodeSelection(s selector.Selection) []byte {
	var buf []byte
	buf = appendString(buf, selFieldAlgorithm, string(s.Algorithm))
	buf = protowire.AppendTag(buf, selFieldSelected, protowire.VarintType)
	selected := uint64(0)
	if s.Selected {
		selected = 1
	}
	buf = protowire.AppendVarint(buf, selected)
	buf = appendDouble(buf, selFieldWeight, s.Weight)
	for _, reason := range s.Reasons {
		buf = appendString(buf, selFieldReasons, reason)
	}
	return buf
}

func appendString(buf []byte, field protowire.Number, v string) []byte {
	buf = protowire.AppendTag(buf, field, protowire.BytesType)
	return protowire.AppendString(buf, v)
}

func appendDouble(buf []byte, field protowire.Number, v float64) []byte {
	buf = protowire.AppendTag(buf, field, protowire.Fixed64Type)
	return protowire.AppendFixed64(buf, math.Float64bits(v))
}
