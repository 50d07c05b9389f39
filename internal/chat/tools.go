package chat

import "encoding/json"

// WebSearchToolName is the only tool name the orchestrator acts upon.
// Anything else the model requests completes the turn with whatever
// content had streamed so far.
const WebSearchToolName = "web_search"

const webSearchDescription = "Searches the live internet for up-to-date information, news, or facts to answer the user's prompt. Use this whenever the user asks about current events, specific recent code documentation, or facts you aren't 100% sure about."

var webSearchParameters = json.RawMessage(`{
	"type": "object",
	"properties": {
		"query": {
			"type": "string",
			"description": "The specific search query to look up on the web."
		}
	},
	"required": ["query"]
}`)

// ToolSchema is one entry of the outbound tools array.
type ToolSchema struct {
	Type     string             `json:"type"`
	Function ToolSchemaFunction `json:"function"`
}

type ToolSchemaFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// DefaultTools returns the tool schema injected into online requests.
// Offline turns carry no tool schema at all.
func DefaultTools() []ToolSchema {
	return []ToolSchema{{
		Type: "function",
		Function: ToolSchemaFunction{
			Name:        WebSearchToolName,
			Description: webSearchDescription,
			Parameters:  webSearchParameters,
		},
	}}
}
