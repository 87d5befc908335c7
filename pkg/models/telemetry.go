// Package models defines the core data structures shared by the collector
// and the node client.
package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// SensorKind identifies which physical sensor produced a Reading.
type SensorKind string

const (
	RainGauge    SensorKind = "Rain Gauge"
	FloodSensor  SensorKind = "Flood Sensor"
	TempHumidity SensorKind = "Temperature and Humidity"
)

// valueKind tags which shape a Value currently holds.
type valueKind int

const (
	valueKindFloat valueKind = iota
	valueKindInt
	valueKindPair
	valueKindUnknown
)

// Value is a polymorphic sensor reading: a float (rain, mm), an int 0/1
// (flood), or a (float, float) pair (temperature, humidity). It is a
// tagged variant rather than a bare interface{} so encoding and decoding
// are explicit instead of relying on JSON's dynamic typing.
type Value struct {
	kind  valueKind
	f     float64
	i     int
	pairA float64
	pairB float64
}

// FloatValue builds a rain-gauge style scalar Value.
func FloatValue(f float64) Value { return Value{kind: valueKindFloat, f: f} }

// IntValue builds a flood-sensor style 0/1 Value.
func IntValue(i int) Value { return Value{kind: valueKindInt, i: i} }

// PairValue builds a temperature/humidity style Value.
func PairValue(a, b float64) Value { return Value{kind: valueKindPair, pairA: a, pairB: b} }

// Float returns the scalar float and whether the Value holds one.
func (v Value) Float() (float64, bool) {
	if v.kind != valueKindFloat {
		return 0, false
	}
	return v.f, true
}

// Int returns the scalar int and whether the Value holds one.
func (v Value) Int() (int, bool) {
	if v.kind != valueKindInt {
		return 0, false
	}
	return v.i, true
}

// Pair returns the two floats and whether the Value holds a pair.
func (v Value) Pair() (float64, float64, bool) {
	if v.kind != valueKindPair {
		return 0, 0, false
	}
	return v.pairA, v.pairB, true
}

// MarshalJSON encodes the Value as the wire format expects: a bare
// scalar for float/int, a 2-element array for a pair.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case valueKindFloat:
		return json.Marshal(v.f)
	case valueKindInt:
		return json.Marshal(v.i)
	case valueKindPair:
		return json.Marshal([2]float64{v.pairA, v.pairB})
	default:
		return nil, fmt.Errorf("models: value has no kind set")
	}
}

// decodeValueForSensor parses raw JSON into a Value, dispatching on the
// sensor kind rather than guessing from shape alone. An unrecognized
// sensor kind is not a decode error: it yields an unknown-kind Value so
// the caller can decide whether to skip just that one reading.
func decodeValueForSensor(sensor SensorKind, raw json.RawMessage) (Value, error) {
	switch sensor {
	case RainGauge:
		var f float64
		if err := json.Unmarshal(raw, &f); err != nil {
			return Value{}, fmt.Errorf("models: rain gauge value: %w", err)
		}
		return FloatValue(f), nil
	case FloodSensor:
		var i int
		if err := json.Unmarshal(raw, &i); err != nil {
			return Value{}, fmt.Errorf("models: flood sensor value: %w", err)
		}
		return IntValue(i), nil
	case TempHumidity:
		var pair [2]float64
		if err := json.Unmarshal(raw, &pair); err != nil {
			return Value{}, fmt.Errorf("models: temp/humidity value: %w", err)
		}
		return PairValue(pair[0], pair[1]), nil
	default:
		return Value{kind: valueKindUnknown}, nil
	}
}

// Unknown reports whether this Value came from an unrecognized sensor
// kind and carries no usable reading.
func (v Value) Unknown() bool { return v.kind == valueKindUnknown }

// Reading is one sample produced by a sensor worker at a node.
type Reading struct {
	Sensor    SensorKind
	Value     Value
	StationID int
	Lat       float64
	Lon       float64
}

// readingWire is the JSON wire shape sent in a node's batch body.
type readingWire struct {
	Sensor    SensorKind      `json:"Sensor"`
	Value     json.RawMessage `json:"Value"`
	StationID int             `json:"Station_Id"`
	Lat       float64         `json:"Lat_deg"`
	Lon       float64         `json:"Lon_deg"`
}

// MarshalJSON encodes a Reading into the wire format's object shape.
func (r Reading) MarshalJSON() ([]byte, error) {
	valueJSON, err := r.Value.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return json.Marshal(readingWire{
		Sensor:    r.Sensor,
		Value:     valueJSON,
		StationID: r.StationID,
		Lat:       r.Lat,
		Lon:       r.Lon,
	})
}

// UnmarshalJSON decodes a Reading, dispatching the Value's shape on the
// Sensor field.
func (r *Reading) UnmarshalJSON(data []byte) error {
	var wire readingWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("models: reading envelope: %w", err)
	}

	value, err := decodeValueForSensor(wire.Sensor, wire.Value)
	if err != nil {
		return err
	}

	r.Sensor = wire.Sensor
	r.Value = value
	r.StationID = wire.StationID
	r.Lat = wire.Lat
	r.Lon = wire.Lon
	return nil
}

// Batch is the ordered sequence of Readings collected at a node between
// two READY_TO_INDEX pulses.
type Batch struct {
	// ID never appears on the wire, and neither the node nor the
	// collector sets it; writer log lines trace a batch by its Job ID.
	ID       string
	NodeID   string
	Readings []Reading
}

// ObservationRow is one flattened row of the active hourly CSV file,
// produced by reducing a single Batch. Pointer fields are nil when the
// corresponding sensor was absent from the batch, and render as an
// empty CSV field.
type ObservationRow struct {
	Precipitation  *float64
	Temperature    *float64
	Humidity       *float64
	Flooding       *int
	NodeID         string
	StationID      *int
	CollectionTime time.Time
	Lat            *float64
	Lon            *float64
}

// CSVHeader is the literal header row for the active hourly file.
const CSVHeader = "Precipitation,Temperature,Humidity,Flooding,Node_Id,Station_Id,collectiontime,Lat_deg,Lon_deg"

// collectionTimeLayout renders collection time as `YYYY-MM-DD HH:MM:SS`.
const collectionTimeLayout = "2006-01-02 15:04:05"

// CSVRecord renders the row as the fields of a single CSV record, in
// header order, ready for an encoding/csv.Writer.
func (o ObservationRow) CSVRecord() []string {
	return []string{
		floatField(o.Precipitation),
		floatField(o.Temperature),
		floatField(o.Humidity),
		intField(o.Flooding),
		o.NodeID,
		intField(o.StationID),
		o.CollectionTime.Format(collectionTimeLayout),
		floatField(o.Lat),
		floatField(o.Lon),
	}
}

func floatField(f *float64) string {
	if f == nil {
		return ""
	}
	return fmt.Sprintf("%v", *f)
}

func intField(i *int) string {
	if i == nil {
		return ""
	}
	return fmt.Sprintf("%d", *i)
}

// IsFlooding reports whether this row observed an active flood event.
func (o ObservationRow) IsFlooding() bool {
	return o.Flooding != nil && *o.Flooding == 1
}

// ObservationQuery represents query parameters for fetching stored
// observation rows from the collector's query API.
type ObservationQuery struct {
	// NodeID filters by node id.
	NodeID string `json:"node_id,omitempty"`

	// StationID filters by station id.
	StationID *int `json:"station_id,omitempty"`

	// StartTime is the inclusive start of the time window.
	StartTime *time.Time `json:"start_time,omitempty"`

	// EndTime is the inclusive end of the time window.
	EndTime *time.Time `json:"end_time,omitempty"`

	// Limit is the maximum number of results to return.
	Limit int `json:"limit,omitempty"`

	// Offset for pagination.
	Offset int `json:"offset,omitempty"`
}
