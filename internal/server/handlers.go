package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/pornlink/ipx-super/internal/imaging"
	"github.com/pornlink/ipx-super/internal/ipxerr"
	"github.com/pornlink/ipx-super/internal/storage"
	"github.com/pornlink/ipx-super/internal/transform"
)

// ToolCallParams represents the parameters for a tools/call MCP request.
type ToolCallParams struct {
	// Name is the tool to invoke (e.g., "ipx_process").
	Name string `json:"name"`

	// Arguments contains the tool-specific parameters as JSON.
	Arguments json.RawMessage `json:"arguments"`
}

// handleToolsCall processes a tools/call request and executes the specified tool.
//
// The response wraps the tool result in MCP's content format:
//
//	{
//	  "content": [{"type": "text", "text": "<JSON result>"}]
//	}
//
// Tool execution errors return a JSON-RPC error response with code -32000
// whose data starts with the ipx error code.
func (s *Server) handleToolsCall(ctx context.Context, req *MCPRequest) *MCPResponse {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return s.errorResponse(req.ID, -32602, "Invalid params", err.Error())
	}

	result, err := s.executeTool(ctx, params.Name, params.Arguments)
	if err != nil {
		code := ipxerr.Code(err)
		s.collector.Error(code)
		s.logger.Debug("tool failed", zap.String("tool", params.Name), zap.String("code", code), zap.Error(err))
		return s.errorResponse(req.ID, -32000, "Tool execution failed", fmt.Sprintf("%s: %v", code, err))
	}

	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"content": []map[string]interface{}{
				{
					"type": "text",
					"text": mustMarshalJSON(result),
				},
			},
		},
	}
}

// executeTool dispatches tool execution to the appropriate handler function.
func (s *Server) executeTool(ctx context.Context, name string, args json.RawMessage) (interface{}, error) {
	switch name {
	case "ipx_process":
		return s.handleProcess(ctx, args)
	case "ipx_source_meta":
		return s.handleSourceMeta(ctx, args)
	case "ipx_modifiers":
		return handleModifiers(), nil
	default:
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
}

// errorResponse creates a JSON-RPC error response with the given details.
func (s *Server) errorResponse(id interface{}, code int, message, data string) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &MCPError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
}

// mustMarshalJSON converts a value to pretty-printed JSON string.
// On marshal failure it returns an empty string.
func mustMarshalJSON(v interface{}) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}

// modifierArg accepts modifiers as a JSON object or in URL form.
type modifierArg transform.Modifiers

func (m *modifierArg) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*m = modifierArg(ParseModifiers(s))
		return nil
	}
	var obj map[string]string
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("modifiers must be a string or an object of strings")
	}
	*m = modifierArg(obj)
	return nil
}

type processArgs struct {
	ID        string            `json:"id"`
	Modifiers modifierArg       `json:"modifiers"`
	Headers   map[string]string `json:"headers"`
}

type processResult struct {
	ID          string       `json:"id"`
	Format      string       `json:"format"`
	ContentType string       `json:"content_type"`
	Size        int          `json:"size"`
	Meta        imaging.Meta `json:"meta"`
	Data        string       `json:"data"`
}

func (s *Server) handleProcess(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a processArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}

	h, err := s.ipx.Request(a.ID, transform.Modifiers(a.Modifiers), storage.Options{Headers: a.Headers})
	if err != nil {
		return nil, err
	}
	out, err := h.Process(ctx)
	if err != nil {
		return nil, err
	}
	return &processResult{
		ID:          h.ID(),
		Format:      out.Format,
		ContentType: "image/" + out.Format,
		Size:        len(out.Data),
		Meta:        out.Meta,
		Data:        base64.StdEncoding.EncodeToString(out.Data),
	}, nil
}

type sourceMetaArgs struct {
	ID string `json:"id"`
}

type sourceMetaResult struct {
	ID     string     `json:"id"`
	MTime  *time.Time `json:"mtime,omitempty"`
	MaxAge int        `json:"max_age"`
}

func (s *Server) handleSourceMeta(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a sourceMetaArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}

	h, err := s.ipx.Request(a.ID, nil, storage.Options{})
	if err != nil {
		return nil, err
	}
	meta, err := h.SourceMeta(ctx)
	if err != nil {
		return nil, err
	}
	return &sourceMetaResult{ID: h.ID(), MTime: meta.MTime, MaxAge: meta.MaxAge}, nil
}

type modifierInfo struct {
	Name    string   `json:"name"`
	Aliases []string `json:"aliases,omitempty"`
}

func handleModifiers() []modifierInfo {
	names := transform.Names()
	out := make([]modifierInfo, 0, len(names))
	for name, aliases := range names {
		out = append(out, modifierInfo{Name: name, Aliases: aliases})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
