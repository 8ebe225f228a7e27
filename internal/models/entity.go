// Package models provides data model definitions for the sync core.
package models

import "time"

// EntityRef identifies a single addressable record by table and id.
type EntityRef struct {
	Table    string `json:"table"`
	EntityID string `json:"entity_id"`
}

// Key returns a stable string form used for map keys and advisory locks.
func (r EntityRef) Key() string {
	return r.Table + "/" + r.EntityID
}

// IsZero reports whether the ref is empty.
func (r EntityRef) IsZero() bool {
	return r.Table == "" && r.EntityID == ""
}

// Snapshot is a point-in-time copy of an entity's field values.
type Snapshot struct {
	Ref    EntityRef              `json:"ref"`
	Fields map[string]interface{} `json:"fields"`
}

// Clone returns a deep-enough copy: the top-level field map is copied so
// callers can mutate the result without touching the original. Nested
// values are shared; conflict comparison and resolution operate on
// top-level fields only.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	fields := make(map[string]interface{}, len(s.Fields))
	for k, v := range s.Fields {
		fields[k] = v
	}
	return &Snapshot{Ref: s.Ref, Fields: fields}
}

// Field returns a top-level field value.
func (s *Snapshot) Field(name string) (interface{}, bool) {
	if s == nil || s.Fields == nil {
		return nil, false
	}
	v, ok := s.Fields[name]
	return v, ok
}

// ModifiedAt returns the entity's modification time in Unix seconds,
// read from the schema's designated timestamp field. Payloads that
// round-tripped through JSON carry numbers as float64; remote snapshots
// may carry RFC3339 strings. Returns 0 when the field is absent or
// unparseable.
func (s *Snapshot) ModifiedAt(timestampField string) int64 {
	v, ok := s.Field(timestampField)
	if !ok {
		return 0
	}
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case string:
		parsed, err := time.Parse(time.RFC3339, t)
		if err != nil {
			return 0
		}
		return parsed.Unix()
	default:
		return 0
	}
}
