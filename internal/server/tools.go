package server

// Tool represents an MCP tool definition
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

var idProperty = map[string]interface{}{
	"type":        "string",
	"description": "Resource id: a path served by the configured storage (e.g. /images/cat.jpg) or an absolute http(s) URL on an allowed domain",
}

// GetToolDefinitions returns all available tools
func GetToolDefinitions() []Tool {
	return []Tool{
		{
			Name:        "ipx_process",
			Description: "Transform an image with ipx modifiers and return the result as base64 together with its format and the source metadata. Results are cached by id and modifiers.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"id": idProperty,
					"modifiers": map[string]interface{}{
						"description": "Either an object such as {\"w\": \"200\", \"f\": \"png\"} or the URL form \"w_200,f_png\". Use \"_\" or omit for none.",
						"oneOf": []interface{}{
							map[string]interface{}{"type": "string"},
							map[string]interface{}{
								"type":                 "object",
								"additionalProperties": map[string]interface{}{"type": "string"},
							},
						},
					},
					"headers": map[string]interface{}{
						"type":                 "object",
						"description":          "Optional headers sent to the HTTP storage when fetching a remote source",
						"additionalProperties": map[string]interface{}{"type": "string"},
					},
				},
				"required": []string{"id"},
			},
		},
		{
			Name:        "ipx_source_meta",
			Description: "Return the modification time and max age of a source without transforming it.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"id": idProperty,
				},
				"required": []string{"id"},
			},
		},
		{
			Name:        "ipx_modifiers",
			Description: "List the supported modifier names and their short aliases.",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
	}
}

// handleToolsList returns the list of available tools
func (s *Server) handleToolsList(req *MCPRequest) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"tools": GetToolDefinitions(),
		},
	}
}
