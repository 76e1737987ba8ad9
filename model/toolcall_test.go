package model

import (
	"reflect"
	"testing"
)

func TestToolCallRefComplete(t *testing.T) {
	tests := []struct {
		name     string
		ref      ToolCallRef
		expected bool
	}{
		{
			name:     "name and valid arguments",
			ref:      ToolCallRef{Name: "web_search", ArgumentsRaw: `{"search_query":"go"}`},
			expected: true,
		},
		{
			name:     "missing name",
			ref:      ToolCallRef{ArgumentsRaw: `{"a":1}`},
			expected: false,
		},
		{
			name:     "missing arguments",
			ref:      ToolCallRef{Name: "web_search"},
			expected: false,
		},
		{
			name:     "truncated arguments",
			ref:      ToolCallRef{Name: "web_search", ArgumentsRaw: `{"search_query":`},
			expected: false,
		},
		{
			name:     "arguments are not an object",
			ref:      ToolCallRef{Name: "web_search", ArgumentsRaw: `[1,2]`},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.ref.Complete(); got != tt.expected {
				t.Errorf("Complete() = %v, want %v", got, tt.expected)
			}
		})
	}
}

type fragment struct {
	id       string
	index    int
	hasIndex bool
	name     string
	args     string
}

func TestToolCallAccumulator(t *testing.T) {
	tests := []struct {
		name      string
		fragments []fragment
		expected  []ToolCallRef
	}{
		{
			name: "single call streamed in pieces",
			fragments: []fragment{
				{id: "call_1", index: 0, hasIndex: true, name: "web_search"},
				{index: 0, hasIndex: true, args: `{"search_`},
				{index: 0, hasIndex: true, args: `query":"go"}`},
			},
			expected: []ToolCallRef{
				{ID: "call_1", Index: 0, Name: "web_search", ArgumentsRaw: `{"search_query":"go"}`},
			},
		},
		{
			name: "continuation fragments without index attach to last call",
			fragments: []fragment{
				{id: "call_1", index: 0, hasIndex: true, name: "ask_question"},
				{args: `{"question":`},
				{args: `"Which one?"}`},
			},
			expected: []ToolCallRef{
				{ID: "call_1", Index: 0, Name: "ask_question", ArgumentsRaw: `{"question":"Which one?"}`},
			},
		},
		{
			name: "name fragment starts a new call even at the same index",
			fragments: []fragment{
				{id: "call_1", index: 0, hasIndex: true, name: "web_search", args: `{"search_query":"go"}`},
				{id: "call_2", index: 0, hasIndex: true, name: "task_complete", args: `{}`},
			},
			expected: []ToolCallRef{
				{ID: "call_1", Index: 0, Name: "web_search", ArgumentsRaw: `{"search_query":"go"}`},
				{ID: "call_2", Index: 0, Name: "task_complete", ArgumentsRaw: `{}`},
			},
		},
		{
			name: "two interleaved calls keyed by index",
			fragments: []fragment{
				{id: "call_1", index: 0, hasIndex: true, name: "web_search"},
				{id: "call_2", index: 1, hasIndex: true, name: "ask_question"},
				{index: 0, hasIndex: true, args: `{"search_query":"go"}`},
				{index: 1, hasIndex: true, args: `{"question":"Go or Rust?"}`},
			},
			expected: []ToolCallRef{
				{ID: "call_1", Index: 0, Name: "web_search", ArgumentsRaw: `{"search_query":"go"}`},
				{ID: "call_2", Index: 1, Name: "ask_question", ArgumentsRaw: `{"question":"Go or Rust?"}`},
			},
		},
		{
			name: "argument text before any name is dropped",
			fragments: []fragment{
				{args: `{"orphan":true}`},
			},
			expected: nil,
		},
		{
			name: "late id fills a missing one",
			fragments: []fragment{
				{index: 0, hasIndex: true, name: "web_search"},
				{id: "call_9", index: 0, hasIndex: true, args: `{"search_query":"go"}`},
			},
			expected: []ToolCallRef{
				{ID: "call_9", Index: 0, Name: "web_search", ArgumentsRaw: `{"search_query":"go"}`},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acc := NewToolCallAccumulator()
			for _, f := range tt.fragments {
				acc.AddFragment(f.id, f.index, f.hasIndex, f.name, f.args)
			}

			got := acc.CompleteCalls()
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("CompleteCalls() = %+v, want %+v", got, tt.expected)
			}
		})
	}
}

func TestToolCallAccumulatorKeepsIncomplete(t *testing.T) {
	acc := NewToolCallAccumulator()
	acc.AddFragment("call_1", 0, true, "web_search", `{"truncated`)

	if acc.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", acc.Len())
	}
	if got := acc.CompleteCalls(); len(got) != 0 {
		t.Errorf("CompleteCalls() = %+v, want none", got)
	}
}
