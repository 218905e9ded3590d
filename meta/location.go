// Copyright (C) 2024 Cask Storage, Inc.
// See LICENSE for copying information.

package meta

import (
	"encoding/json"

	"github.com/cask-io/cask/blob"
)

// LocationField is the sum type behind a record's location attribute.
// Records written before the part-list format store a bare string naming a
// single blob; current records store an ordered array of part refs. The two
// forms are distinguished once, here at the JSON boundary, and normalized by
// the location resolver so no downstream consumer re-checks the format.
type LocationField struct {
	legacy string
	parts  []blob.Ref
}

// Parts constructs a LocationField from an ordered part list.
func Parts(refs []blob.Ref) LocationField {
	return LocationField{parts: refs}
}

// LegacyKey constructs a LocationField in the historical bare-string form.
func LegacyKey(key string) LocationField {
	return LocationField{legacy: key}
}

// IsEmpty reports whether no data location is recorded (zero-byte object or
// delete marker).
func (l LocationField) IsEmpty() bool {
	return l.legacy == "" && len(l.parts) == 0
}

// IsLegacy reports whether the field holds the bare-string form.
func (l LocationField) IsLegacy() bool {
	return l.legacy != ""
}

// Legacy returns the bare-string key, or "".
func (l LocationField) Legacy() string {
	return l.legacy
}

// Parts returns the part list, or nil for empty and legacy fields.
func (l LocationField) Parts() []blob.Ref {
	return l.parts
}

func (l LocationField) clone() LocationField {
	if l.parts == nil {
		return l
	}
	return LocationField{legacy: l.legacy, parts: append([]blob.Ref(nil), l.parts...)}
}

// MarshalJSON implements json.Marshaler, preserving whichever form the
// field holds.
func (l LocationField) MarshalJSON() ([]byte, error) {
	if l.legacy != "" {
		return json.Marshal(l.legacy)
	}
	if l.parts == nil {
		return []byte("null"), nil
	}
	return json.Marshal(l.parts)
}

// UnmarshalJSON implements json.Unmarshaler, accepting null, a bare string
// or an array of part refs.
func (l *LocationField) UnmarshalJSON(data []byte) error {
	*l = LocationField{}
	if string(data) == "null" {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &l.legacy)
	}
	return json.Unmarshal(data, &l.parts)
}
