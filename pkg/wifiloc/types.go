// Package wifiloc holds the data types shared across the positioning and
// ingestion cores: scan results, access-point records, and the computed
// Position a request ultimately resolves to.
package wifiloc

import "time"

// APStatus is the lifecycle state of an access point record in the
// database. Only ACTIVE access points are usable for positioning.
type APStatus string

const (
	StatusActive  APStatus = "ACTIVE"
	StatusWarning APStatus = "WARNING"
	StatusExpired APStatus = "EXPIRED"
	StatusRemoved APStatus = "REMOVED"
	StatusUnknown APStatus = "UNKNOWN"
)

// Position is an immutable computed location with an accuracy estimate
// (metres) and a confidence score in [0,1].
type Position struct {
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Altitude    float64 `json:"altitude,omitempty"`
	HasAltitude bool    `json:"-"`
	Accuracy    float64 `json:"accuracy"`
	Confidence  float64 `json:"confidence"`
}

// WifiScanResult is one observed access point from a client scan.
type WifiScanResult struct {
	MacAddress     string  `json:"macAddress"`
	SignalStrength float64 `json:"signalStrength"` // dBm
	Frequency      int     `json:"frequency"`      // MHz
	SSID           string  `json:"ssid"`
}

// WifiAccessPoint is a known access point record from the AP database.
type WifiAccessPoint struct {
	MacAddress          string
	Latitude            float64
	Longitude           float64
	Altitude            float64
	HasAltitude         bool
	HorizontalAccuracy  float64
	VerticalAccuracy    float64
	HasVerticalAccuracy bool
	Confidence          float64
	Frequency           int
	Vendor              string
	Status              APStatus
}

// Observation pairs one scan result with the AP record it resolved to.
// Algorithms operate on a slice of these rather than re-joining scans and
// AP lookups themselves.
type Observation struct {
	Scan WifiScanResult
	AP   WifiAccessPoint
}

// AccessPointUsage describes, in the calculation-info response, how one
// AP contributed to (or was excluded from) a position request.
type AccessPointUsage string

const (
	UsageUsed          AccessPointUsage = "USED"
	UsageIgnoredStatus AccessPointUsage = "IGNORED_STATUS"
	UsageNotFound      AccessPointUsage = "NOT_FOUND"
)

// AccessPointInfo is one entry in the calculation-info accessPoints list.
type AccessPointInfo struct {
	BSSID    string           `json:"bssid"`
	Location *LatLonAlt       `json:"location,omitempty"`
	Status   APStatus         `json:"status"`
	Usage    AccessPointUsage `json:"usage"`
}

// LatLonAlt is a plain geographic coordinate used inside response
// envelopes, distinct from Position (which also carries accuracy and
// confidence).
type LatLonAlt struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Altitude  float64 `json:"altitude,omitempty"`
}

// StatusCount tallies access points by status for the summary block.
type StatusCount struct {
	Status APStatus `json:"status"`
	Count  int      `json:"count"`
}

// AccessPointSummary is the aggregate block of the calculation-info
// response.
type AccessPointSummary struct {
	Total        int           `json:"total"`
	Used         int           `json:"used"`
	StatusCounts []StatusCount `json:"statusCounts"`
}

// RequestTimestamp is an alias for time.Time naming a request's arrival
// time for correlation across logs; it is not part of the wire request,
// and the orchestrator does not set it.
type RequestTimestamp = time.Time
