package kit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// toolError wraps err as a tool-level failure. The JSON-RPC exchange itself
// succeeds; the model sees the message and can react to it.
func toolError(err error) *mcp.CallToolResult {
	var res mcp.CallToolResult
	res.SetError(err)
	return &res
}

// RegisterMCPTool registers endpoint as an MCP tool on srv. Arguments are
// decoded into a fresh Req and handed to the endpoint; enrich, when non-nil,
// stamps request-scoped values onto the context first. Endpoint errors come
// back as tool errors, never as protocol failures, so one bad call cannot
// poison the session.
func RegisterMCPTool[Req any](srv *mcp.Server, tool *mcp.Tool, endpoint Endpoint, enrich func(context.Context, *Req) context.Context) {
	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		r := new(Req)
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, r); err != nil {
				return toolError(fmt.Errorf("invalid arguments: %w", err)), nil
			}
		}
		if enrich != nil {
			ctx = enrich(ctx, r)
		}

		resp, err := endpoint(ctx, r)
		if err != nil {
			return toolError(errors.New(err.Error())), nil
		}

		data, err := json.Marshal(resp)
		if err != nil {
			return toolError(fmt.Errorf("marshal response: %w", err)), nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		}, nil
	})
}
