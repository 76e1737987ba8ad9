package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"askd/model"
)

// Stable per-process caller id for the search API.
var searchUserID = uuid.New().String()

var searchHTTPClient = &http.Client{Timeout: 30 * time.Second}

// webSearch calls the configured web search endpoint with the model's
// arguments passed through, plus a request id and caller id.
func (e *Executor) webSearch(ctx context.Context, args map[string]any) model.ToolResponse {
	endpoint := e.cfg.Search.Endpoint
	apiKey := e.cfg.CredentialStore.Get(e.cfg.Search.CredentialID)
	if apiKey == "" {
		return model.ToolResponse{
			Status:  model.ToolError,
			Error:   "search API key not configured",
			Message: fmt.Sprintf("set a credential named %q to enable web search", e.cfg.Search.CredentialID),
		}
	}

	if _, ok := args["request_id"]; !ok {
		args["request_id"] = uuid.New().String()
	}
	args["user_id"] = searchUserID

	body, err := json.Marshal(args)
	if err != nil {
		return model.ErrorResponse(WebSearchName, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return model.ErrorResponse(WebSearchName, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := searchHTTPClient.Do(req)
	if err != nil {
		return model.ErrorResponse(WebSearchName, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.ErrorResponse(WebSearchName, err)
	}

	if resp.StatusCode != http.StatusOK {
		return model.ToolResponse{
			Status:  model.ToolError,
			Error:   fmt.Sprintf("search request failed: %d %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
			Message: string(respBody),
		}
	}

	var result map[string]any
	if err := json.Unmarshal(respBody, &result); err != nil {
		return model.ErrorResponse(WebSearchName, err)
	}

	return model.ToolResponse{
		Status:  model.ToolSuccess,
		Content: result,
		Metadata: map[string]any{
			"answer_require": "include the reference links when answering the user",
		},
	}
}
