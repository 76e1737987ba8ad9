package model

import "encoding/json"

// ToolCallRef is one tool invocation requested by the model.
//
// During streaming the reference is assembled incrementally: a delta may
// carry the function name once and the argument text in many later pieces.
// ArgumentsRaw therefore holds the concatenation of every fragment seen so
// far and may be incomplete (or slightly malformed, see tools.SanitizeArguments)
// until the stream ends.
type ToolCallRef struct {
	ID           string `json:"id"`
	Index        int    `json:"index"`
	Name         string `json:"name"`
	ArgumentsRaw string `json:"arguments"`
}

// Complete reports whether the reference has both a function name and
// argument text that parses as a JSON object. Only complete references are
// dispatched; incomplete ones at stream end are decode noise and dropped.
func (tc *ToolCallRef) Complete() bool {
	if tc.Name == "" || tc.ArgumentsRaw == "" {
		return false
	}
	var obj map[string]any
	return json.Unmarshal([]byte(tc.ArgumentsRaw), &obj) == nil
}

// ToolCallAccumulator merges streamed tool-call fragments into ToolCallRefs,
// keyed by the fragment's index.
//
// Precedence rule: a fragment carrying a non-empty function name always
// starts a new reference, and any argument text in that same fragment seeds
// ArgumentsRaw immediately. Fragments without a name append their argument
// text to the reference at their index (falling back to the most recently
// started reference when the backend omits the index on continuation
// fragments).
type ToolCallAccumulator struct {
	calls   []*ToolCallRef
	byIndex map[int]*ToolCallRef
	last    *ToolCallRef
}

// NewToolCallAccumulator returns an empty accumulator.
func NewToolCallAccumulator() *ToolCallAccumulator {
	return &ToolCallAccumulator{byIndex: make(map[int]*ToolCallRef)}
}

// AddFragment merges one streamed fragment. hasIndex distinguishes "index 0"
// from "index absent" on continuation fragments.
func (a *ToolCallAccumulator) AddFragment(id string, index int, hasIndex bool, name, argsFragment string) {
	if name != "" {
		ref := &ToolCallRef{
			ID:           id,
			Index:        index,
			Name:         name,
			ArgumentsRaw: argsFragment,
		}
		a.calls = append(a.calls, ref)
		a.byIndex[index] = ref
		a.last = ref
		return
	}

	var ref *ToolCallRef
	if hasIndex {
		ref = a.byIndex[index]
	}
	if ref == nil {
		ref = a.last
	}
	if ref == nil {
		// Argument text arrived before any name; nothing to attach it to.
		return
	}
	ref.ArgumentsRaw += argsFragment
	if ref.ID == "" && id != "" {
		ref.ID = id
	}
}

// Calls returns every accumulated reference in arrival order.
func (a *ToolCallAccumulator) Calls() []ToolCallRef {
	out := make([]ToolCallRef, 0, len(a.calls))
	for _, ref := range a.calls {
		out = append(out, *ref)
	}
	return out
}

// CompleteCalls returns only the references that are complete and therefore
// dispatchable.
func (a *ToolCallAccumulator) CompleteCalls() []ToolCallRef {
	var out []ToolCallRef
	for _, ref := range a.calls {
		if ref.Complete() {
			out = append(out, *ref)
		}
	}
	return out
}

// Len returns the number of accumulated references, complete or not.
func (a *ToolCallAccumulator) Len() int {
	return len(a.calls)
}
