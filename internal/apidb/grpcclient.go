package apidb

import (
	"context"
	"fmt"
	"math"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/wifiloc/wifiloc/pkg/wifiloc"
)

// rawBytesCodec lets the client send/receive the hand-encoded protobuf
// byte slices below without a generated message type.
type rawBytesCodec struct{}

func (rawBytesCodec) Marshal(v interface{}) ([]byte, error) {
	b, ok := v.(*[]byte)
	if ok {
		return *b, nil
	}
	if b, ok := v.([]byte); ok {
		return b, nil
	}
	return nil, fmt.Errorf("rawBytesCodec: unsupported type %T", v)
}

func (rawBytesCodec) Unmarshal(data []byte, v interface{}) error {
	b, ok := v.(*[]byte)
	if !ok {
		return fmt.Errorf("rawBytesCodec: unsupported type %T", v)
	}
	*b = append((*b)[:0], data...)
	return nil
}

func (rawBytesCodec) Name() string { return "raw-bytes" }

func init() {
	encoding.RegisterCodec(rawBytesCodec{})
}

// lookupMethod is the full gRPC method path for the external AP-database
// service, called via conn.Invoke against the raw byte codec rather
// than generated message types, since no .proto service definition
// ships with this repository.
const lookupMethod = "/wifiloc.apidb.AccessPointLookup/FindByMacs"

// GRPCClient looks up AP records from an external service over gRPC.
// Request/response bodies are hand-encoded protobuf wire format (field
// tags below), decoded with google.golang.org/protobuf/encoding/protowire
// rather than generated .pb.go stubs.
type GRPCClient struct {
	conn    *grpc.ClientConn
	timeout time.Duration
}

// DialGRPC connects to the AP-database service at addr.
func DialGRPC(ctx context.Context, addr string, timeout time.Duration) (*GRPCClient, error) {
	conn, err := grpc.DialContext(ctx, addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	)
	if err != nil {
		return nil, fmt.Errorf("dial AP database %s: %w", addr, err)
	}
	return &GRPCClient{conn: conn, timeout: timeout}, nil
}

func (c *GRPCClient) Close() error {
	return c.conn.Close()
}

func (c *GRPCClient) FindByMac(mac string) (wifiloc.WifiAccessPoint, bool, error) {
	found, err := c.FindByMacs([]string{mac})
	if err != nil {
		return wifiloc.WifiAccessPoint{}, false, err
	}
	ap, ok := found[mac]
	return ap, ok, nil
}

func (c *GRPCClient) FindByMacs(macs []string) (map[string]wifiloc.WifiAccessPoint, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	reqBytes := encodeLookupRequest(macs)
	var respBytes []byte

	if err := c.conn.Invoke(ctx, lookupMethod, reqBytes, &respBytes,
		grpc.CallContentSubtype("raw-bytes")); err != nil {
		return nil, fmt.Errorf("AP database lookup: %w", err)
	}

	return decodeLookupResponse(respBytes)
}

// Wire field numbers for the hand-encoded request/response messages.
const (
	reqFieldMacs = 1

	apFieldMac                 = 1
	apFieldLat                 = 2
	apFieldLon                 = 3
	apFieldAlt                 = 4
	apFieldHasAlt              = 5
	apFieldHorizontalAccuracy  = 6
	apFieldVerticalAccuracy    = 7
	apFieldHasVerticalAccuracy = 8
	apFieldConfidence          = 9
	apFieldFrequency           = 10
	apFieldVendor              = 11
	apFieldStatus              = 12

	respFieldRecords = 1
)

func encodeLookupRequest(macs []string) []byte {
	var buf []byte
	for _, mac := range macs {
		buf = protowire.AppendTag(buf, reqFieldMacs, protowire.BytesType)
		buf = protowire.AppendString(buf, mac)
	}
	return buf
}

func encodeAccessPoint(mac string, ap wifiloc.WifiAccessPoint) []byte {
	var m []byte
	m = appendStringField(m, apFieldMac, mac)
	m = appendDoubleField(m, apFieldLat, ap.Latitude)
	m = appendDoubleField(m, apFieldLon, ap.Longitude)
	m = appendDoubleField(m, apFieldAlt, ap.Altitude)
	m = appendBoolField(m, apFieldHasAlt, ap.HasAltitude)
	m = appendDoubleField(m, apFieldHorizontalAccuracy, ap.HorizontalAccuracy)
	m = appendDoubleField(m, apFieldVerticalAccuracy, ap.VerticalAccuracy)
	m = appendBoolField(m, apFieldHasVerticalAccuracy, ap.HasVerticalAccuracy)
	m = appendDoubleField(m, apFieldConfidence, ap.Confidence)
	m = appendVarintField(m, apFieldFrequency, uint64(ap.Frequency))
	m = appendStringField(m, apFieldVendor, ap.Vendor)
	m = appendStringField(m, apFieldStatus, string(ap.Status))
	return m
}

func decodeLookupResponse(data []byte) (map[string]wifiloc.WifiAccessPoint, error) {
	result := make(map[string]wifiloc.WifiAccessPoint)
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("decode response: %w", protowire.ParseError(n))
		}
		data = data[n:]

		if num != respFieldRecords || typ != protowire.BytesType {
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, fmt.Errorf("skip unknown field: %w", protowire.ParseError(n))
			}
			data = data[n:]
			continue
		}

		recordBytes, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return nil, fmt.Errorf("decode record: %w", protowire.ParseError(n))
		}
		data = data[n:]

		mac, ap, err := decodeAccessPoint(recordBytes)
		if err != nil {
			return nil, err
		}
		result[mac] = ap
	}
	return result, nil
}

func decodeAccessPoint(data []byte) (string, wifiloc.WifiAccessPoint, error) {
	var mac string
	var ap wifiloc.WifiAccessPoint

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return "", ap, fmt.Errorf("decode AP field: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch num {
		case apFieldMac:
			s, nn := protowire.ConsumeString(data)
			if nn < 0 {
				return "", ap, fmt.Errorf("decode mac: %w", protowire.ParseError(nn))
			}
			mac = s
			ap.MacAddress = s
			data = data[nn:]
		case apFieldVendor:
			s, nn := protowire.ConsumeString(data)
			if nn < 0 {
				return "", ap, fmt.Errorf("decode vendor: %w", protowire.ParseError(nn))
			}
			ap.Vendor = s
			data = data[nn:]
		case apFieldStatus:
			s, nn := protowire.ConsumeString(data)
			if nn < 0 {
				return "", ap, fmt.Errorf("decode status: %w", protowire.ParseError(nn))
			}
			ap.Status = wifiloc.APStatus(s)
			data = data[nn:]
		case apFieldLat, apFieldLon, apFieldAlt, apFieldHorizontalAccuracy, apFieldVerticalAccuracy, apFieldConfidence:
			v, nn := protowire.ConsumeFixed64(data)
			if nn < 0 {
				return "", ap, fmt.Errorf("decode double field %d: %w", num, protowire.ParseError(nn))
			}
			f := math.Float64frombits(v)
			switch num {
			case apFieldLat:
				ap.Latitude = f
			case apFieldLon:
				ap.Longitude = f
			case apFieldAlt:
				ap.Altitude = f
			case apFieldHorizontalAccuracy:
				ap.HorizontalAccuracy = f
			case apFieldVerticalAccuracy:
				ap.VerticalAccuracy = f
			case apFieldConfidence:
				ap.Confidence = f
			}
			data = data[nn:]
		case apFieldHasAlt, apFieldHasVerticalAccuracy:
			v, nn := protowire.ConsumeVarint(data)
			if nn < 0 {
				return "", ap, fmt.Errorf("decode bool field %d: %w", num, protowire.ParseError(nn))
			}
			switch num {
			case apFieldHasAlt:
				ap.HasAltitude = v != 0
			case apFieldHasVerticalAccuracy:
				ap.HasVerticalAccuracy = v != 0
			}
			data = data[nn:]
		case apFieldFrequency:
			v, nn := protowire.ConsumeVarint(data)
			if nn < 0 {
				return "", ap, fmt.Errorf("decode frequency: %w", protowire.ParseError(nn))
			}
			ap.Frequency = int(v)
			data = data[nn:]
		default:
			nn := protowire.ConsumeFieldValue(num, typ, data)
			if nn < 0 {
				return "", ap, fmt.Errorf("skip field %d: %w", num, protowire.ParseError(nn))
			}
			data = data[nn:]
		}
	}
	return mac, ap, nil
}

func appendStringField(buf []byte, field protowire.Number, v string) []byte {
	buf = protowire.AppendTag(buf, field, protowire.BytesType)
	return protowire.AppendString(buf, v)
}

func appendDoubleField(buf []byte, field protowire.Number, v float64) []byte {
	buf = protowire.AppendTag(buf, field, protowire.Fixed64Type)
	return protowire.AppendFixed64(buf, math.Float64bits(v))
}

func appendBoolField(buf []byte, field protowire.Number, v bool) []byte {
	buf = protowire.AppendTag(buf, field, protowire.VarintType)
	n := uint64(0)
	if v {
		n = 1
	}
	return protowire.AppendVarint(buf, n)
}

func appendVarintField(buf []byte, field protowire.Number, v uint64) []byte {
	buf = protowire.AppendTag(buf, field, protowire.VarintType)
	return protowire.AppendVarint(buf, v)
}

// encodeAccessPoint and the response-side encoder below exist to keep
// this file symmetrical with a real server implementation; the client
// only ever decodes responses and encodes requests, and the package
// tests use these to build response fixtures.
func encodeLookupResponse(records map[string]wifiloc.WifiAccessPoint) []byte {
	var buf []byte
	for mac, ap := range records {
		rec := encodeAccessPoint(mac, ap)
		buf = protowire.AppendTag(buf, respFieldRecords, protowire.BytesType)
		buf = protowire.AppendBytes(buf, rec)
	}
	return buf
}
