package graph

import "fmt"

// MergeRule describes how a slot's delta value is combined with its
// previously committed value when a step's output is merged into state.
//
// The teacher library's Reducer[S] let every call site supply its own merge
// function over a statically-typed S. Because GraphState here is a dynamic,
// component-defined mapping (spec §3) rather than a fixed struct, the merge
// behavior is instead a property of the slot schema: each slot declares its
// own rule once, and every node that writes it is merged the same way.
type MergeRule int

const (
	// MergeReplace overwrites the slot with the delta's value whenever the
	// delta contains the key at all. This is the default for every slot
	// except "messages".
	MergeReplace MergeRule = iota

	// MergeAppend concatenates the delta's slice onto the previous slice.
	// Only "messages" uses this rule; it is the one append-only slot the
	// spec names.
	MergeAppend
)

// SlotSpec declares the merge behavior for one named state slot.
type SlotSpec struct {
	Merge MergeRule
}

// SlotSchema is the fixed set of slots a graph's state may contain. A state
// update naming a key outside the schema is rejected at commit time with
// UnknownSlotError — this is what keeps the otherwise-dynamic State map from
// silently accumulating typos or stale keys across a long-running workflow.
type SlotSchema map[string]SlotSpec

// MessagesSlot is the name of the one system-wide append-only slot.
const MessagesSlot = "messages"

// DefaultSlotSchema returns the slot set named explicitly in the data model:
// input, research_data, plan_data, execution_data, code_data, final_output,
// query_complexity, mode, and the append-only messages slot. Callers that
// need additional component-defined slots should copy this map and add
// their own entries rather than mutating the shared default.
func DefaultSlotSchema() SlotSchema {
	return SlotSchema{
		"input":            {Merge: MergeReplace},
		"research_data":    {Merge: MergeReplace},
		"plan_data":        {Merge: MergeReplace},
		"execution_data":   {Merge: MergeReplace},
		"code_data":        {Merge: MergeReplace},
		"final_output":     {Merge: MergeReplace},
		"query_complexity": {Merge: MergeReplace},
		"mode":             {Merge: MergeReplace},
		MessagesSlot:       {Merge: MergeAppend},
	}
}

// State is a shallow, component-defined mapping from slot name to opaque
// value. Semantics of each slot are owned by whichever agent node reads or
// writes it; the engine only knows the slot's merge rule.
type State map[string]any

// Clone returns a shallow copy of s suitable for handing to a node without
// letting it retain a reference into the engine's committed state.
func (s State) Clone() State {
	if s == nil {
		return State{}
	}
	out := make(State, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// UnknownSlotError is returned by Merge when a delta names a slot the
// schema doesn't declare.
type UnknownSlotError struct {
	Slot string
}

func (e *UnknownSlotError) Error() string {
	return fmt.Sprintf("graph: unknown state slot %q", e.Slot)
}

// Merge applies delta onto prev according to schema, returning the new
// committed state. prev and delta are never mutated. Schema violations
// abort the whole merge — a step either commits entirely or not at all.
func Merge(schema SlotSchema, prev, delta State) (State, error) {
	out := prev.Clone()
	for key, val := range delta {
		spec, ok := schema[key]
		if !ok {
			return nil, &UnknownSlotError{Slot: key}
		}
		switch spec.Merge {
		case MergeAppend:
			existing, _ := out[key].([]any)
			add, ok := val.([]any)
			if !ok {
				// Accept a single non-slice value as a one-element append,
				// the common case when a node appends exactly one message.
				add = []any{val}
			}
			merged := make([]any, 0, len(existing)+len(add))
			merged = append(merged, existing...)
			merged = append(merged, add...)
			out[key] = merged
		default:
			out[key] = val
		}
	}
	return out, nil
}
