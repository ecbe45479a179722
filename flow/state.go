// Package flow provides a checkpointed workflow engine for evaluator-gated
// content pipelines. A workflow is a directed graph of named steps operating
// on a shared field-keyed state; steps return partial updates that are merged
// through per-field reducers, and execution can pause at an interrupt for
// human input and later resume from a durable checkpoint.
package flow

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// State holds the current value of every named field for one session.
//
// Two distinct "empty" conditions exist and are treated uniformly across all
// fields:
//   - A key that is absent from the map is Unset: no step has written it yet.
//   - A key present with a nil value is Cleared: a step intentionally wrote an
//     explicit null (for example to force a downstream regeneration step past
//     its own skip logic).
//
// The engine hands steps a defensive copy; steps must treat State as
// read-only and communicate changes exclusively through a Delta.
type State map[string]any

// Delta is a partial state update returned by a step. Keys absent from the
// delta leave the corresponding field untouched regardless of reducer. A key
// present with a nil value is an explicit null write (see State).
type Delta map[string]any

// ReducerKind selects the merge strategy applied when a delta value is folded
// into a field's current value.
type ReducerKind int

const (
	// Replace stores the incoming value as-is. An explicit nil is a real
	// write that clears the field.
	Replace ReducerKind = iota

	// AppendArray concatenates the incoming slice onto the existing slice.
	// A missing current value acts as an empty slice.
	AppendArray

	// MergeObject shallow-merges the incoming map's keys over the existing
	// map. A missing current value acts as an empty map.
	MergeObject

	// AppendSingle pushes the incoming value as one element onto the
	// existing slice. A missing current value acts as an empty slice.
	AppendSingle
)

// String returns the reducer kind name for diagnostics.
func (k ReducerKind) String() string {
	switch k {
	case Replace:
		return "replace"
	case AppendArray:
		return "append_array"
	case MergeObject:
		return "merge_object"
	case AppendSingle:
		return "append_single"
	default:
		return fmt.Sprintf("reducer(%d)", int(k))
	}
}

// Reserved field names managed by the engine. Every schema carries these.
const (
	// FieldPhase tags the pipeline phase currently executing. Exactly one
	// phase tag is active at any point in a session.
	FieldPhase = "currentPhase"

	// FieldAwaitingApproval is true exactly while the session is paused at
	// an interrupt.
	FieldAwaitingApproval = "awaitingApproval"

	// FieldApprovalType names the pending interrupt while
	// FieldAwaitingApproval is true, and is null otherwise.
	FieldApprovalType = "approvalType"

	// FieldErrors is an append-only log of ErrorEntry values recorded by
	// the engine when a step fails.
	FieldErrors = "errors"

	// FieldStepCount carries the session's step counter across
	// pause/resume so the step budget spans the whole session.
	FieldStepCount = "stepCount"
)

// PhaseError is the terminal phase tag set by the engine when a session
// errors. Gate routers short-circuit to their "error" label when they observe
// it.
const PhaseError = "error"

// Field declares one named state field: its merge strategy and the default
// value materialized when the field is unset at session start.
type Field struct {
	Name    string
	Reducer ReducerKind
	Default any
}

// Schema is the set of declared fields for a workflow. It is built once,
// shared read-only across sessions, and applied by the engine after every
// step.
type Schema struct {
	fields map[string]Field
	order  []string
}

// NewSchema creates a schema pre-populated with the engine's reserved control
// fields. Declare domain fields with Field before compiling a graph against
// the schema.
func NewSchema() *Schema {
	s := &Schema{fields: make(map[string]Field)}
	s.Field(FieldPhase, Replace, nil)
	s.Field(FieldAwaitingApproval, Replace, false)
	s.Field(FieldApprovalType, Replace, nil)
	s.Field(FieldErrors, AppendArray, []any{})
	s.Field(FieldStepCount, Replace, 0)
	return s
}

// Field declares a state field and returns the schema for chaining.
// Re-declaring a name overrides the previous declaration, which allows a
// pipeline to change a control field's default.
func (s *Schema) Field(name string, kind ReducerKind, def any) *Schema {
	if _, exists := s.fields[name]; !exists {
		s.order = append(s.order, name)
	}
	s.fields[name] = Field{Name: name, Reducer: kind, Default: def}
	return s
}

// Reducer reports the reducer kind declared for a field. Undeclared fields
// default to Replace.
func (s *Schema) Reducer(name string) ReducerKind {
	if f, ok := s.fields[name]; ok {
		return f.Reducer
	}
	return Replace
}

// Apply folds a partial update into state and returns the resulting state.
// The input state is not mutated. For every key present in the delta the
// field's reducer computes the new value; keys absent from the delta are left
// untouched. Reducers are total: malformed inputs degrade to a defined
// behavior rather than failing (see reduce).
func (s *Schema) Apply(state State, delta Delta) State {
	next := make(State, len(state)+len(delta))
	for k, v := range state {
		next[k] = v
	}
	for k, v := range delta {
		cur, present := next[k]
		if !present {
			cur = nil
		}
		next[k] = reduce(s.Reducer(k), cur, v)
	}
	return next
}

// Materialize returns a copy of state with every declared field that is
// still unset filled from its default. Used on fresh sessions and when
// loading checkpoint snapshots written by an older schema, so added fields
// default-fill on load.
func (s *Schema) Materialize(state State) State {
	next := make(State, len(s.fields))
	for k, v := range state {
		next[k] = v
	}
	for _, name := range s.order {
		f := s.fields[name]
		if _, present := next[name]; !present && f.Default != nil {
			next[name] = f.Default
		}
	}
	return next
}

// reduce computes one field merge. It never panics; inputs that do not match
// the reducer's expected shape fall back:
//   - AppendArray with a non-slice incoming value appends it as one element.
//   - MergeObject with a non-map incoming value replaces the current value.
func reduce(kind ReducerKind, cur, in any) any {
	switch kind {
	case AppendArray:
		items, ok := asSlice(in)
		if !ok {
			items = []any{in}
		}
		return appendItems(cur, items...)
	case AppendSingle:
		return appendItems(cur, in)
	case MergeObject:
		inMap, ok := asMap(in)
		if !ok {
			return in
		}
		curMap, _ := asMap(cur)
		merged := make(map[string]any, len(curMap)+len(inMap))
		for k, v := range curMap {
			merged[k] = v
		}
		for k, v := range inMap {
			merged[k] = v
		}
		return merged
	default:
		return in
	}
}

// appendItems returns a fresh slice so the prior state value is never aliased.
func appendItems(cur any, items ...any) []any {
	existing, _ := asSlice(cur)
	out := make([]any, 0, len(existing)+len(items))
	out = append(out, existing...)
	out = append(out, items...)
	return out
}

// asSlice normalizes any slice or array value to []any. Checkpoint
// round-trips produce []any, but steps frequently return typed slices such as
// []string.
func asSlice(v any) ([]any, bool) {
	if v == nil {
		return nil, true
	}
	if s, ok := v.([]any); ok {
		return s, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// asMap normalizes string-keyed map values to map[string]any.
func asMap(v any) (map[string]any, bool) {
	if v == nil {
		return nil, true
	}
	if m, ok := v.(map[string]any); ok {
		return m, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	out := make(map[string]any, rv.Len())
	for _, key := range rv.MapKeys() {
		out[key.String()] = rv.MapIndex(key).Interface()
	}
	return out, true
}

// cloneState deep-copies state via a JSON round-trip. State values must be
// JSON-serializable, which the checkpoint stores require anyway.
func cloneState(state State) (State, error) {
	if state == nil {
		return State{}, nil
	}
	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal state: %w", err)
	}
	var copied State
	if err := json.Unmarshal(data, &copied); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	if copied == nil {
		copied = State{}
	}
	return copied, nil
}

// Bool reads a boolean field, tolerating the unset case.
func (s State) Bool(name string) bool {
	b, _ := s[name].(bool)
	return b
}

// String reads a string field, returning "" when unset or cleared.
func (s State) String(name string) string {
	str, _ := s[name].(string)
	return str
}

// Int reads an integer field. JSON round-trips store numbers as float64, so
// both representations are accepted.
func (s State) Int(name string) int {
	switch v := s[name].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// Slice reads an array field, returning nil when unset or cleared.
func (s State) Slice(name string) []any {
	items, _ := asSlice(s[name])
	return items
}

// Map reads an object field, returning nil when unset or cleared.
func (s State) Map(name string) map[string]any {
	m, _ := asMap(s[name])
	return m
}
