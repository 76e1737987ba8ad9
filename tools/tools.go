package tools

// Local tool names.
const (
	TaskCompleteName    = "task_complete"
	AskQuestionName     = "ask_question"
	WebSearchName       = "web_search"
	UnderstandImageName = "understand_image"
)

const defaultQuestion = "Please provide more information"

// Definition is a backend-neutral tool description. Each driver converts
// these (and the remote catalogue) into its SDK's native format.
type Definition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// LocalDefinitions returns the built-in tool set offered to the model on
// every tool-enabled request.
func LocalDefinitions() []Definition {
	return []Definition{
		{
			Name:        TaskCompleteName,
			Description: "Call this tool when the user's task is complete",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
		{
			Name: AskQuestionName,
			Description: "Ask the user a question to gather missing information or clarify their request. " +
				"Use this especially for research-style tasks: list every question you have and wait for the answer",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"question": map[string]any{
						"type":        "string",
						"description": "The question to ask the user",
					},
				},
				"required": []string{"question"},
			},
		},
		{
			Name:        WebSearchName,
			Description: "Search the web for information",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"search_engine": map[string]any{
						"type":        "string",
						"description": "Search engine to use: search_std is the basic engine, search_pro the advanced one, the remaining values select Sogou, Quark, Jina or Bing",
						"enum": []string{
							"search_std", "search_pro", "search_pro_sogou",
							"search_pro_quark", "search_pro_jina", "search_pro_bing",
						},
					},
					"search_query": map[string]any{
						"type":        "string",
						"description": "What to search for, at most 78 characters",
					},
				},
				"required": []string{"search_engine", "search_query"},
			},
		},
		{
			Name:        UnderstandImageName,
			Description: "Analyze and understand an image the user provided, returning a detailed description",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"image_url": map[string]any{
						"type":        "string",
						"description": "The image as a base64 data URL or a web URL",
					},
					"question": map[string]any{
						"type":        "string",
						"description": "The user's specific question about the image, or 'Please describe this image' when there is none",
					},
					"timestamp": map[string]any{
						"type":        "integer",
						"description": "For a frame captured from a video, the offset into the video in seconds",
					},
				},
				"required": []string{"image_url"},
			},
		},
	}
}
