package sse

import (
	"encoding/json"
)

// doneSentinel is the literal data payload some providers send to mark the
// end of a stream. It is passed through verbatim, never JSON-decoded.
const doneSentinel = "[DONE]"

// DataKind discriminates the payload variants of an SSE data field.
type DataKind int

const (
	// DataNone means the event carried no data field.
	DataNone DataKind = iota
	// DataJSON means the data field parsed as JSON.
	DataJSON
	// DataRaw means the data field is an opaque string.
	DataRaw
	// DataDone is the "[DONE]" end-of-stream sentinel.
	DataDone
)

// Data is the tagged union carried in an event's data field: either a
// decoded JSON value, a raw string, the [DONE] sentinel, or nothing.
type Data struct {
	kind DataKind
	json interface{}
	raw  string
}

// JSONData wraps an already-decoded JSON value.
func JSONData(v interface{}) Data {
	return Data{kind: DataJSON, json: v}
}

// RawData wraps an opaque string payload.
func RawData(s string) Data {
	if s == doneSentinel {
		return Data{kind: DataDone, raw: s}
	}
	return Data{kind: DataRaw, raw: s}
}

// DoneData returns the end-of-stream sentinel value.
func DoneData() Data {
	return Data{kind: DataDone, raw: doneSentinel}
}

// DecodeData classifies a raw data payload: JSON if it parses, the [DONE]
// sentinel verbatim, raw string otherwise.
func DecodeData(payload string) Data {
	if payload == doneSentinel {
		return DoneData()
	}
	var v interface{}
	if err := json.Unmarshal([]byte(payload), &v); err == nil {
		return Data{kind: DataJSON, json: v}
	}
	return Data{kind: DataRaw, raw: payload}
}

// Kind returns the discriminator of the union.
func (d Data) Kind() DataKind { return d.kind }

// IsZero reports whether the event carried no data field at all.
func (d Data) IsZero() bool { return d.kind == DataNone }

// IsDone reports whether the payload is the [DONE] sentinel.
func (d Data) IsDone() bool { return d.kind == DataDone }

// JSON returns the decoded JSON value and whether the payload was JSON.
func (d Data) JSON() (interface{}, bool) {
	return d.json, d.kind == DataJSON
}

// Object returns the payload as a JSON object, or nil if it is not one.
func (d Data) Object() map[string]interface{} {
	if d.kind != DataJSON {
		return nil
	}
	obj, _ := d.json.(map[string]interface{})
	return obj
}

// Encode renders the payload for the wire: JSON values are re-marshaled,
// raw strings and the sentinel pass through unchanged.
func (d Data) Encode() (string, error) {
	switch d.kind {
	case DataJSON:
		b, err := json.Marshal(d.json)
		if err != nil {
			return "", err
		}
		return string(b), nil
	case DataRaw, DataDone:
		return d.raw, nil
	default:
		return "", nil
	}
}

// Event is one parsed SSE frame.
type Event struct {
	// Name is the event: field, empty when absent.
	Name string
	// Data is the accumulated data: payload.
	Data Data
	// ID is the id: field, empty when absent.
	ID string
	// Retry is the retry: field in milliseconds, zero when absent.
	Retry int
}

// HasData reports whether the event carries a data payload.
func (e Event) HasData() bool { return !e.Data.IsZero() }
