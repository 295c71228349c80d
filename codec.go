package quotecache

import (
	"encoding/json"
	"fmt"
)

// Codec serializes CacheValue and CacheEnvelope to and from the string
// wire format stored in the shared store. Swapping the codec lets callers
// move to a denser format (e.g. protobuf) without touching engine logic.
type Codec interface {
	MarshalValue(v CacheValue) (string, error)
	UnmarshalValue(raw string) (CacheValue, error)
	MarshalEnvelope(e CacheEnvelope) (string, error)
	UnmarshalEnvelope(raw string) (CacheEnvelope, error)
}

// JSONCodec is the default Codec. It encodes a CacheValue as the base64
// text produced by encoding/json for a []byte field, and an envelope as a
// small JSON struct carrying the (possibly absent) value and the logical
// expiry deadline.
type JSONCodec struct{}

type wireEnvelope struct {
	Value []byte `json:"v"`
	ExpMs int64  `json:"exp"`
}

// MarshalValue encodes v as a JSON string. The result is never equal to
// NullSentinel, since json.Marshal of a []byte always quotes its base64
// payload.
func (JSONCodec) MarshalValue(v CacheValue) (string, error) {
	data, err := json.Marshal([]byte(v))
	if err != nil {
		return "", fmt.Errorf("quotecache: marshal value: %w", err)
	}
	return string(data), nil
}

// UnmarshalValue decodes a JSON-encoded value previously produced by
// MarshalValue.
func (JSONCodec) UnmarshalValue(raw string) (CacheValue, error) {
	var b []byte
	if err := json.Unmarshal([]byte(raw), &b); err != nil {
		return nil, fmt.Errorf("%w: %v", errCorruption, err)
	}
	return CacheValue(b), nil
}

// MarshalEnvelope encodes e as JSON. A nil e.Value (negative SWR entry)
// round-trips as a JSON null.
func (JSONCodec) MarshalEnvelope(e CacheEnvelope) (string, error) {
	we := wireEnvelope{Value: []byte(e.Value), ExpMs: e.LogicalExpireAtMs}
	data, err := json.Marshal(we)
	if err != nil {
		return "", fmt.Errorf("quotecache: marshal envelope: %w", err)
	}
	return string(data), nil
}

// UnmarshalEnvelope decodes a JSON-encoded envelope previously produced
// by MarshalEnvelope.
func (JSONCodec) UnmarshalEnvelope(raw string) (CacheEnvelope, error) {
	var we wireEnvelope
	if err := json.Unmarshal([]byte(raw), &we); err != nil {
		return CacheEnvelope{}, fmt.Errorf("%w: %v", errCorruption, err)
	}
	return CacheEnvelope{Value: CacheValue(we.Value), LogicalExpireAtMs: we.ExpMs}, nil
}
