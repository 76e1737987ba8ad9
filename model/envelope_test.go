package model

import (
	"errors"
	"strings"
	"testing"
)

func TestContentJSON(t *testing.T) {
	tests := []struct {
		name     string
		resp     ToolResponse
		expected string
	}{
		{
			name:     "string content passes through",
			resp:     ToolResponse{Status: ToolSuccess, Content: "plain text result"},
			expected: "plain text result",
		},
		{
			name:     "map content is marshaled",
			resp:     ToolResponse{Status: ToolSuccess, Content: map[string]any{"completed": true}},
			expected: `{"completed":true}`,
		},
		{
			name:     "nil content marshals to null",
			resp:     ToolResponse{Status: ToolSuccess},
			expected: "null",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.resp.ContentJSON(); got != tt.expected {
				t.Errorf("ContentJSON() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestErrorResponse(t *testing.T) {
	resp := ErrorResponse("web_search", errors.New("connection refused"))

	if resp.Status != ToolError {
		t.Errorf("status = %q, want %q", resp.Status, ToolError)
	}
	if resp.Error != "connection refused" {
		t.Errorf("error = %q, want %q", resp.Error, "connection refused")
	}
	if !strings.Contains(resp.Message, "web_search") {
		t.Errorf("message %q does not name the tool", resp.Message)
	}
}

func TestBuildSystemPrompt(t *testing.T) {
	tests := []struct {
		name     string
		qctx     *QuestionContext
		contains []string
	}{
		{
			name:     "nil context gives bare persona",
			qctx:     nil,
			contains: []string{"AskAnything"},
		},
		{
			name:     "selected text folded in",
			qctx:     &QuestionContext{Text: "goroutines are cheap"},
			contains: []string{"goroutines are cheap"},
		},
		{
			name:     "page metadata folded in",
			qctx:     &QuestionContext{URL: "https://go.dev/doc", Title: "Documentation"},
			contains: []string{"Documentation", "https://go.dev/doc"},
		},
		{
			name:     "title without url is dropped",
			qctx:     &QuestionContext{Title: "Documentation"},
			contains: []string{"AskAnything"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BuildSystemPrompt(tt.qctx)
			for _, want := range tt.contains {
				if !strings.Contains(got, want) {
					t.Errorf("prompt %q missing %q", got, want)
				}
			}
			if tt.qctx != nil && tt.qctx.Title != "" && tt.qctx.URL == "" {
				if strings.Contains(got, "Documentation") {
					t.Errorf("prompt %q should not contain the title without a url", got)
				}
			}
		})
	}
}
