package tools

import (
	"context"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"askd/model"
)

const mediaSystemPrompt = "You are a helpful AI assistant that analyzes and describes image content."

const defaultImageQuestion = "Please describe the content of this image in detail"

// understandImage sends the image to the configured vision model and
// returns its analysis. The call is non-streaming: the result feeds back to
// the main model as a tool message, not to the human.
func (e *Executor) understandImage(ctx context.Context, args map[string]any) model.ToolResponse {
	apiKey := e.cfg.CredentialStore.Get(e.cfg.Media.CredentialID)
	if apiKey == "" {
		return model.ToolResponse{
			Status:  model.ToolError,
			Error:   "vision API key not configured",
			Message: fmt.Sprintf("set a credential named %q to enable image understanding", e.cfg.Media.CredentialID),
		}
	}

	imageURL, _ := args["image_url"].(string)
	if imageURL == "" {
		return model.ToolResponse{
			Status:  model.ToolError,
			Error:   "missing image_url",
			Message: "provide the image to analyze",
		}
	}

	question, _ := args["question"].(string)
	if question == "" {
		question = defaultImageQuestion
	}

	// Frames captured from a video carry their offset; the timecode goes to
	// the vision model and back to the main model so the answer can cite it.
	var timecode string
	if seconds, ok := args["timestamp"].(float64); ok {
		timecode = FormatTimestamp(int(seconds))
		question = fmt.Sprintf("%s (video frame at %s)", question, timecode)
	}

	client := openai.NewClient(
		option.WithAPIKey(apiKey),
		option.WithBaseURL(e.cfg.Media.Endpoint),
	)

	resp, err := client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: e.cfg.Media.Model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(mediaSystemPrompt),
			openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
				openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
					URL: imageURL,
				}),
				openai.TextContentPart(question),
			}),
		},
	})
	if err != nil {
		return model.ErrorResponse(UnderstandImageName, err)
	}

	if len(resp.Choices) == 0 {
		return model.ToolResponse{
			Status:  model.ToolError,
			Error:   "vision API returned no choices",
			Message: "could not analyze the image",
		}
	}

	content := map[string]any{
		"analysis":  resp.Choices[0].Message.Content,
		"image_url": imageURL,
		"question":  question,
	}
	if timecode != "" {
		content["timestamp"] = timecode
	}

	return model.ToolResponse{
		Status:  model.ToolSuccess,
		Content: content,
		Message: "Image analysis complete",
	}
}

// FormatTimestamp renders a duration in seconds as zero-padded mm:ss, the
// format used for time-coded tool output such as subtitles.
func FormatTimestamp(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}
