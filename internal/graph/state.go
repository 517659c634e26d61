// Package graph defines the run state model, the node contract, and compiled
// graph definitions executed by the engine.
package graph

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
)

// State is an immutable snapshot of a run's data. Fields hold JSON values so
// a snapshot can be persisted and folded from history without type knowledge.
type State struct {
	fields  map[string]json.RawMessage
	version int
}

// Patch is a partial update to State, keyed by field name.
type Patch map[string]json.RawMessage

// Encode builds a Patch from plain values.
func Encode(values map[string]any) (Patch, error) {
	p := make(Patch, len(values))
	for field, v := range values {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", field, err)
		}
		p[field] = data
	}
	return p, nil
}

// Set encodes v into field.
func (p Patch) Set(field string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", field, err)
	}
	p[field] = data
	return nil
}

// Fields returns the patched field names in sorted order.
func (p Patch) Fields() []string {
	return slices.Sorted(maps.Keys(p))
}

// Merge returns a patch containing p overlaid with other.
func (p Patch) Merge(other Patch) Patch {
	out := make(Patch, len(p)+len(other))
	maps.Copy(out, p)
	maps.Copy(out, other)
	return out
}

// NewState returns an empty snapshot at version zero.
func NewState() State {
	return State{fields: map[string]json.RawMessage{}}
}

// Version is the number of non-empty patches folded into the snapshot.
func (s State) Version() int {
	return s.version
}

// Has reports whether field is set.
func (s State) Has(field string) bool {
	_, ok := s.fields[field]
	return ok
}

// Raw returns the encoded value of field.
func (s State) Raw(field string) (json.RawMessage, bool) {
	v, ok := s.fields[field]
	return v, ok
}

// Fields returns the set field names in sorted order.
func (s State) Fields() []string {
	return slices.Sorted(maps.Keys(s.fields))
}

// Apply returns a new snapshot with p merged in. The receiver is unchanged.
func (s State) Apply(p Patch) State {
	if len(p) == 0 {
		return s
	}

	next := State{
		fields:  make(map[string]json.RawMessage, len(s.fields)+len(p)),
		version: s.version + 1,
	}
	maps.Copy(next.fields, s.fields)
	for k, v := range p {
		next.fields[k] = slices.Clone(v)
	}
	return next
}

// Equal reports whether both snapshots hold the same fields and values.
func (s State) Equal(other State) bool {
	if len(s.fields) != len(other.fields) || s.version != other.version {
		return false
	}
	for k, v := range s.fields {
		ov, ok := other.fields[k]
		if !ok || !jsonEqual(v, ov) {
			return false
		}
	}
	return true
}

type stateJSON struct {
	Version int                        `json:"version"`
	Fields  map[string]json.RawMessage `json:"fields"`
}

func (s State) MarshalJSON() ([]byte, error) {
	fields := s.fields
	if fields == nil {
		fields = map[string]json.RawMessage{}
	}
	return json.Marshal(stateJSON{Version: s.version, Fields: fields})
}

func (s *State) UnmarshalJSON(data []byte) error {
	var raw stateJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.version = raw.Version
	s.fields = raw.Fields
	if s.fields == nil {
		s.fields = map[string]json.RawMessage{}
	}
	return nil
}

// Get decodes field into T. The boolean is false when the field is unset.
func Get[T any](s State, field string) (T, bool, error) {
	var v T
	raw, ok := s.fields[field]
	if !ok {
		return v, false, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, true, fmt.Errorf("decode %s: %w", field, err)
	}
	return v, true, nil
}

func jsonEqual(a, b json.RawMessage) bool {
	var ca, cb bytes.Buffer
	if err := json.Compact(&ca, a); err != nil {
		return bytes.Equal(a, b)
	}
	if err := json.Compact(&cb, b); err != nil {
		return bytes.Equal(a, b)
	}
	return bytes.Equal(ca.Bytes(), cb.Bytes())
}
