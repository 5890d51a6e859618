package model

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Advertisement is a single raw observation delivered by a scanner. It is
// ephemeral: the gateway only holds it for the duration of one ingestion call,
// but the original bytes travel along inside the durable record.
type Advertisement struct {
	SourceID   string          `json:"source_id"`
	Address    string          `json:"address,omitempty"`
	RSSI       int             `json:"rssi"`
	Namespace  string          `json:"namespace,omitempty"`
	InstanceHi string          `json:"instance_hi,omitempty"`
	InstanceLo string          `json:"instance_lo,omitempty"`
	TxPower    *int            `json:"tx_power,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// SourceKey derives the grouping identifier for the advertised device.
// Beacon identity wins when present; otherwise the scanner-assigned source id
// is used with an "unknown-" prefix.
func (a Advertisement) SourceKey() string {
	if a.Namespace != "" && a.InstanceHi != "" && a.InstanceLo != "" {
		return fmt.Sprintf("%s-%s-%s", a.Namespace, a.InstanceHi, a.InstanceLo)
	}
	return "unknown-" + a.SourceID
}

// Origin identifies the ingesting gateway itself, not a detected device.
type Origin struct {
	ID       string
	Name     string
	Location Location
}

// Location describes where the gateway sits. Lat/Lon are set only when the
// configured value parsed as coordinates; otherwise Label carries the raw text.
type Location struct {
	Label string   `json:"label,omitempty"`
	Lat   *float64 `json:"lat,omitempty"`
	Lon   *float64 `json:"lon,omitempty"`
}

// IsZero reports whether no location information was configured.
func (l Location) IsZero() bool {
	return l.Label == "" && l.Lat == nil && l.Lon == nil
}

// ParseLocation interprets a configured origin location. It tries a structured
// JSON object first, then a "lat,lon" coordinate pair, and finally keeps the
// value as an opaque label. It never fails.
func ParseLocation(raw string) Location {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Location{}
	}

	if strings.HasPrefix(raw, "{") {
		var loc Location
		if err := json.Unmarshal([]byte(raw), &loc); err == nil && !loc.IsZero() {
			return loc
		}
	}

	if parts := strings.Split(raw, ","); len(parts) == 2 {
		lat, latErr := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		lon, lonErr := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if latErr == nil && lonErr == nil {
			return Location{Lat: &lat, Lon: &lon}
		}
	}

	return Location{Label: raw}
}

// BeaconRecord is the durable unit written to the remote store. RecordID and
// CapturedAtMillis together form the store's primary key.
type BeaconRecord struct {
	RecordID          string          `json:"record_id"`
	CapturedAtMillis  int64           `json:"captured_at_millis"`
	CapturedAtISO     string          `json:"captured_at_iso"`
	SourceKey         string          `json:"source_key"`
	SignalStrength    int             `json:"signal_strength"`
	ReferencePower    *int            `json:"reference_power,omitempty"`
	EstimatedDistance *float64        `json:"estimated_distance,omitempty"`
	ProximityCategory string          `json:"proximity_category"`
	SourceAddress     string          `json:"source_address,omitempty"`
	OriginID          string          `json:"origin_id"`
	OriginName        string          `json:"origin_name,omitempty"`
	OriginLocation    *Location       `json:"origin_location,omitempty"`
	RawPayload        json.RawMessage `json:"raw_payload,omitempty"`
}

// Proximity categories derived from the distance estimate.
const (
	ProximityImmediate = "immediate"
	ProximityNear      = "near"
	ProximityFar       = "far"
	ProximityUnknown   = "unknown"
)

// EstimateDistance converts an RSSI reading into meters using the free-space
// path-loss model with exponent 2. Without a calibrated reference power there
// is nothing to calibrate against and the result is nil.
func EstimateDistance(rssi int, txPower *int) *float64 {
	if txPower == nil {
		return nil
	}
	d := math.Pow(10, float64(*txPower-rssi)/20)
	d = math.Round(d*100) / 100
	return &d
}

// Proximity buckets a distance estimate for display.
func Proximity(distance *float64) string {
	switch {
	case distance == nil:
		return ProximityUnknown
	case *distance < 0.5:
		return ProximityImmediate
	case *distance < 3:
		return ProximityNear
	default:
		return ProximityFar
	}
}
