package editor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/protoboard/idgen"
	"github.com/hazyhaar/protoboard/kit"
)

// RegisterMCP registers the engine's tools on an MCP server.
func (e *Engine) RegisterMCP(srv *mcp.Server) {
	e.registerOpenTool(srv)
	e.registerCreateTool(srv)
	e.registerSessionsTool(srv)
	e.registerStatusTool(srv)
	e.registerChangeTool(srv)
	e.registerSaveTool(srv)
	e.registerSwitchPageTool(srv)
	e.registerVersionsTool(srv)
	e.registerRestoreTool(srv)
	e.registerClearErrorTool(srv)
	e.registerAutosaveTool(srv)
	e.registerCloseTool(srv)
	e.registerStatsTool(srv)
}

// inputSchema builds a JSON Schema object with type "object".
func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// reqIDs tags tool invocations for log correlation.
var reqIDs = idgen.Prefixed("req_", idgen.NanoID(8))

// enrichMCP stamps transport and request id, plus the session id when the
// tool targets one.
func enrichMCP(ctx context.Context, sessionID string) context.Context {
	ctx = kit.WithTransport(ctx, "mcp")
	ctx = kit.WithRequestID(ctx, reqIDs())
	if sessionID != "" {
		ctx = kit.WithSessionID(ctx, sessionID)
	}
	return ctx
}

func enrichSession(ctx context.Context, r *sessionRequest) context.Context {
	return enrichMCP(ctx, r.SessionID)
}

func enrichNone(ctx context.Context, _ *struct{}) context.Context {
	return enrichMCP(ctx, "")
}

// instrument is the middleware stack shared by every tool: panic
// containment, then outcome logging.
func (e *Engine) instrument(name string) kit.Middleware {
	return kit.Chain(e.recovered(name), e.logged(name))
}

// recovered converts a tool panic into a tool error so one bad call cannot
// take the server down.
func (e *Engine) recovered(name string) kit.Middleware {
	return func(next kit.Endpoint) kit.Endpoint {
		return func(ctx context.Context, req any) (resp any, err error) {
			defer func() {
				if r := recover(); r != nil {
					e.logger.Error("mcp: tool panic", "tool", name, "panic", r)
					err = fmt.Errorf("%s: internal error", name)
				}
			}()
			return next(ctx, req)
		}
	}
}

// logged reports tool outcomes at debug level.
func (e *Engine) logged(name string) kit.Middleware {
	return func(next kit.Endpoint) kit.Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			resp, err := next(ctx, req)
			if err != nil {
				e.logger.Debug("mcp: tool failed",
					"tool", name, "transport", kit.GetTransport(ctx),
					"request", kit.GetRequestID(ctx),
					"session", kit.GetSessionID(ctx), "error", err)
				return nil, err
			}
			e.logger.Debug("mcp: tool ok",
				"tool", name, "transport", kit.GetTransport(ctx),
				"request", kit.GetRequestID(ctx),
				"session", kit.GetSessionID(ctx))
			return resp, nil
		}
	}
}

// --- open ---

type openRequest struct {
	PrototypeID string `json:"prototype_id"`
}

func (e *Engine) registerOpenTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "protoboard_open",
		Description: "Open an editing session over an existing prototype. Returns the session snapshot; a load failure is carried inside the session state, not as a tool error.",
		InputSchema: inputSchema(map[string]any{
			"prototype_id": map[string]any{"type": "string", "description": "Prototype to load"},
		}, []string{"prototype_id"}),
	}

	endpoint := e.instrument(tool.Name)(func(ctx context.Context, req any) (any, error) {
		r := req.(*openRequest)
		return e.Open(ctx, r.PrototypeID)
	})

	kit.RegisterMCPTool(srv, tool, endpoint, func(ctx context.Context, _ *openRequest) context.Context {
		return enrichMCP(ctx, "")
	})
}

// --- create ---

type createRequest struct {
	Name string `json:"name"`
}

func (e *Engine) registerCreateTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "protoboard_create",
		Description: "Create a new prototype and open an editing session over it.",
		InputSchema: inputSchema(map[string]any{
			"name": map[string]any{"type": "string", "description": "Name of the new prototype"},
		}, []string{"name"}),
	}

	endpoint := e.instrument(tool.Name)(func(ctx context.Context, req any) (any, error) {
		r := req.(*createRequest)
		return e.Create(ctx, r.Name)
	})

	kit.RegisterMCPTool(srv, tool, endpoint, func(ctx context.Context, _ *createRequest) context.Context {
		return enrichMCP(ctx, "")
	})
}

// --- sessions ---

func (e *Engine) registerSessionsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "protoboard_sessions",
		Description: "List all open editing sessions, oldest first.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := e.instrument(tool.Name)(func(_ context.Context, _ any) (any, error) {
		return e.List(), nil
	})

	kit.RegisterMCPTool(srv, tool, endpoint, enrichNone)
}

// --- status ---

type sessionRequest struct {
	SessionID string `json:"session_id"`
}

func sessionIDProp() map[string]any {
	return map[string]any{"type": "string", "description": "Session ID (sess_ prefixed)"}
}

func (e *Engine) registerStatusTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "protoboard_status",
		Description: "Get the full snapshot of one session: lifecycle status, document, dirty flag, autosave state, recoverable draft flag.",
		InputSchema: inputSchema(map[string]any{
			"session_id": sessionIDProp(),
		}, []string{"session_id"}),
	}

	endpoint := e.instrument(tool.Name)(func(_ context.Context, req any) (any, error) {
		r := req.(*sessionRequest)
		return e.Get(r.SessionID)
	})

	kit.RegisterMCPTool(srv, tool, endpoint, enrichSession)
}

// --- change ---

type changeRequest struct {
	SessionID string          `json:"session_id"`
	Data      json.RawMessage `json:"data,omitempty"`
}

func (e *Engine) registerChangeTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "protoboard_change",
		Description: "Record an edit. With data, replaces the session's working content; without, just signals that something changed. Autosave schedules a save.",
		InputSchema: inputSchema(map[string]any{
			"session_id": sessionIDProp(),
			"data":       map[string]any{"type": "object", "description": "New content payload (any JSON object)"},
		}, []string{"session_id"}),
	}

	endpoint := e.instrument(tool.Name)(func(_ context.Context, req any) (any, error) {
		r := req.(*changeRequest)
		if err := e.Change(r.SessionID, r.Data); err != nil {
			return nil, err
		}
		return map[string]string{"status": "recorded"}, nil
	})

	kit.RegisterMCPTool(srv, tool, endpoint, func(ctx context.Context, r *changeRequest) context.Context {
		return enrichMCP(ctx, r.SessionID)
	})
}

// --- save ---

func (e *Engine) registerSaveTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "protoboard_save",
		Description: "Run a manual save now. Fails if the session is not ready or the push is rejected; owed edits survive a failure.",
		InputSchema: inputSchema(map[string]any{
			"session_id": sessionIDProp(),
		}, []string{"session_id"}),
	}

	endpoint := e.instrument(tool.Name)(func(ctx context.Context, req any) (any, error) {
		r := req.(*sessionRequest)
		return e.Save(ctx, r.SessionID)
	})

	kit.RegisterMCPTool(srv, tool, endpoint, enrichSession)
}

// --- switch_page ---

type switchPageRequest struct {
	SessionID string `json:"session_id"`
	PageID    string `json:"page_id"`
}

func (e *Engine) registerSwitchPageTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "protoboard_switch_page",
		Description: "Navigate the session to another page of its prototype. Owed edits are saved first so navigation cannot strand them.",
		InputSchema: inputSchema(map[string]any{
			"session_id": sessionIDProp(),
			"page_id":    map[string]any{"type": "string", "description": "Target page ID"},
		}, []string{"session_id", "page_id"}),
	}

	endpoint := e.instrument(tool.Name)(func(ctx context.Context, req any) (any, error) {
		r := req.(*switchPageRequest)
		return e.SwitchPage(ctx, r.SessionID, r.PageID)
	})

	kit.RegisterMCPTool(srv, tool, endpoint, func(ctx context.Context, r *switchPageRequest) context.Context {
		return enrichMCP(ctx, r.SessionID)
	})
}

// --- versions ---

func (e *Engine) registerVersionsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "protoboard_versions",
		Description: "List the stored version history of the session's prototype.",
		InputSchema: inputSchema(map[string]any{
			"session_id": sessionIDProp(),
		}, []string{"session_id"}),
	}

	endpoint := e.instrument(tool.Name)(func(ctx context.Context, req any) (any, error) {
		r := req.(*sessionRequest)
		return e.Versions(ctx, r.SessionID)
	})

	kit.RegisterMCPTool(srv, tool, endpoint, enrichSession)
}

// --- restore_version ---

type restoreRequest struct {
	SessionID string `json:"session_id"`
	Version   int64  `json:"version"`
}

func (e *Engine) registerRestoreTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "protoboard_restore_version",
		Description: "Roll the session's prototype back to an earlier version. Pending edits are discarded.",
		InputSchema: inputSchema(map[string]any{
			"session_id": sessionIDProp(),
			"version":    map[string]any{"type": "integer", "description": "Version number to restore"},
		}, []string{"session_id", "version"}),
	}

	endpoint := e.instrument(tool.Name)(func(ctx context.Context, req any) (any, error) {
		r := req.(*restoreRequest)
		return e.Restore(ctx, r.SessionID, r.Version)
	})

	kit.RegisterMCPTool(srv, tool, endpoint, func(ctx context.Context, r *restoreRequest) context.Context {
		return enrichMCP(ctx, r.SessionID)
	})
}

// --- clear_error ---

func (e *Engine) registerClearErrorTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "protoboard_clear_error",
		Description: "Acknowledge a recorded session error and return to the previous status.",
		InputSchema: inputSchema(map[string]any{
			"session_id": sessionIDProp(),
		}, []string{"session_id"}),
	}

	endpoint := e.instrument(tool.Name)(func(_ context.Context, req any) (any, error) {
		r := req.(*sessionRequest)
		return e.ClearError(r.SessionID)
	})

	kit.RegisterMCPTool(srv, tool, endpoint, enrichSession)
}

// --- set_autosave ---

type autosaveRequest struct {
	SessionID string `json:"session_id"`
	Enabled   bool   `json:"enabled"`
}

func (e *Engine) registerAutosaveTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "protoboard_set_autosave",
		Description: "Enable or disable scheduled saves for one session. Dirty-tracking stays alive either way.",
		InputSchema: inputSchema(map[string]any{
			"session_id": sessionIDProp(),
			"enabled":    map[string]any{"type": "boolean", "description": "Whether scheduled saves run"},
		}, []string{"session_id", "enabled"}),
	}

	endpoint := e.instrument(tool.Name)(func(_ context.Context, req any) (any, error) {
		r := req.(*autosaveRequest)
		return e.SetAutosave(r.SessionID, r.Enabled)
	})

	kit.RegisterMCPTool(srv, tool, endpoint, func(ctx context.Context, r *autosaveRequest) context.Context {
		return enrichMCP(ctx, r.SessionID)
	})
}

// --- close_session ---

func (e *Engine) registerCloseTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "protoboard_close_session",
		Description: "Close a session. Unsaved edits are kept as a recoverable draft.",
		InputSchema: inputSchema(map[string]any{
			"session_id": sessionIDProp(),
		}, []string{"session_id"}),
	}

	endpoint := e.instrument(tool.Name)(func(ctx context.Context, req any) (any, error) {
		r := req.(*sessionRequest)
		if err := e.Close(ctx, r.SessionID); err != nil {
			return nil, err
		}
		return map[string]string{"status": "closed"}, nil
	})

	kit.RegisterMCPTool(srv, tool, endpoint, enrichSession)
}

// --- stats ---

func (e *Engine) registerStatsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "protoboard_stats",
		Description: "Get engine statistics: open sessions, stored drafts, canvas sync task accounting.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := e.instrument(tool.Name)(func(ctx context.Context, _ any) (any, error) {
		return e.Stats(ctx), nil
	})

	kit.RegisterMCPTool(srv, tool, endpoint, enrichNone)
}
