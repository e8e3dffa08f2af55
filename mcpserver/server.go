package mcpserver

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/isdmx/dissect/config"
	"github.com/isdmx/dissect/dissect"
	"github.com/isdmx/dissect/session"
)

// Sessions is the session store the tools operate on
type Sessions interface {
	Open(ctx context.Context, req session.OpenRequest) (*session.Session, error)
	Get(id string) (*session.Session, error)
	Close(id string) error
}

// MCPServer represents the MCP server
type MCPServer struct {
	config    *config.Config
	logger    *zap.Logger
	sessions  Sessions
	mcpServer *server.MCPServer
}

// New creates a new MCPServer
func New(cfg *config.Config, logger *zap.Logger, sessions *session.Manager) (*MCPServer, error) {
	return newServer(cfg, logger, sessions)
}

func newServer(cfg *config.Config, logger *zap.Logger, sessions Sessions) (*MCPServer, error) {
	s := &MCPServer{
		config:   cfg,
		logger:   logger,
		sessions: sessions,
	}

	// Log configuration parameters on startup
	logger.Info("configuration loaded",
		zap.String("server.transport", s.config.Server.Transport),
		zap.Int("server.http_port", s.config.Server.HTTPPort),
		zap.Int("server.metrics_port", s.config.Server.MetricsPort),
		zap.Bool("dissect.replace_const_with_var", s.config.Dissect.ReplaceConstWithVar),
		zap.Bool("dissect.clear_cache", s.config.Dissect.ClearCache),
		zap.String("dissect.lowering", s.config.Dissect.Lowering),
		zap.Strings("loader.extensions", s.config.Loader.Extensions),
		zap.Int("session.max_sessions", s.config.Session.MaxSessions),
		zap.Int("session.max_workdir_mb", s.config.Session.MaxWorkdirMB),
	)

	s.mcpServer = server.NewMCPServer("dissect", "Introspectable JavaScript module loading")

	s.registerDissectModuleTool()
	s.registerGetBindingTool()
	s.registerSetBindingTool()
	s.registerCallExportTool()
	s.registerCloseSessionTool()

	return s, nil
}

func sessionIDProperty() map[string]any {
	return map[string]any{
		"type":        "string",
		"description": "Session id returned by dissect_module",
	}
}

// registerDissectModuleTool registers the dissect_module tool
func (s *MCPServer) registerDissectModuleTool() {
	tool := mcp.Tool{
		Name:        "dissect_module",
		Description: "Load a JavaScript module in dissected form and open a session for inspecting its top-level bindings",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"specifier": map[string]any{
					"type":        "string",
					"description": "Module to dissect, relative to the workdir root, e.g. ./lib/sample.js",
				},
				"workdir_tar": map[string]any{
					"type":        "string",
					"description": "Base64-encoded tar.gz of the module tree",
				},
				"replace_const_with_var": map[string]any{
					"type":        "boolean",
					"description": "Expose const and let declarations as bindings",
				},
				"clear_cache": map[string]any{
					"type":        "boolean",
					"description": "Evict the module from the loader cache after loading",
				},
				"lowering": map[string]any{
					"type":        "string",
					"description": "How const and let are rewritten",
					"enum":        []string{string(dissect.LoweringLexical), string(dissect.LoweringTextual)},
				},
				"get": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "Binding names to read right after loading",
				},
			},
			Required: []string{"specifier"},
		},
	}

	s.mcpServer.AddTool(tool, s.handleDissectModule)
}

// handleDissectModule handles the dissect_module tool
func (s *MCPServer) handleDissectModule(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	specifier, err := request.RequireString("specifier")
	if err != nil {
		return nil, fmt.Errorf("specifier parameter is required: %w", err)
	}

	var workdirTar []byte
	if encoded := request.GetString("workdir_tar", ""); encoded != "" {
		decoded, decodeErr := base64.StdEncoding.DecodeString(encoded)
		if decodeErr != nil {
			return nil, fmt.Errorf("failed to decode workdir_tar: %w", decodeErr)
		}
		workdirTar = decoded
	}

	var opts []dissect.Option
	args := request.GetArguments()
	if _, ok := args["replace_const_with_var"]; ok {
		opts = append(opts, dissect.WithReplaceConstWithVar(request.GetBool("replace_const_with_var", false)))
	}
	if _, ok := args["clear_cache"]; ok {
		opts = append(opts, dissect.WithClearCache(request.GetBool("clear_cache", false)))
	}
	if v := request.GetString("lowering", ""); v != "" {
		mode, parseErr := dissect.ParseLowering(v)
		if parseErr != nil {
			return nil, parseErr
		}
		opts = append(opts, dissect.WithLowering(mode))
	}

	s.logger.Info("dissection requested",
		zap.String("specifier", specifier),
		zap.Bool("has_workdir", len(workdirTar) > 0))

	sess, err := s.sessions.Open(ctx, session.OpenRequest{
		WorkdirTar: workdirTar,
		Specifier:  specifier,
		Options:    opts,
	})
	if err != nil {
		s.logger.Error("dissection failed", zap.String("specifier", specifier), zap.Error(err))
		return errorResult("Dissection failed: %v", err), nil
	}

	result := map[string]any{
		"session_id": sess.ID,
		"exports":    sess.Keys(),
	}
	if names := request.GetStringSlice("get", nil); len(names) > 0 {
		bindings, getErr := sess.Bindings(names)
		if getErr != nil {
			return errorResult("Reading bindings failed: %v", getErr), nil
		}
		result["bindings"] = bindings
	}

	return jsonResult(result)
}

// registerGetBindingTool registers the get_binding tool
func (s *MCPServer) registerGetBindingTool() {
	tool := mcp.Tool{
		Name:        "get_binding",
		Description: "Read a top-level binding of a dissected module",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"session_id": sessionIDProperty(),
				"name": map[string]any{
					"type":        "string",
					"description": "Binding name",
				},
			},
			Required: []string{"session_id", "name"},
		},
	}

	s.mcpServer.AddTool(tool, s.handleGetBinding)
}

func (s *MCPServer) handleGetBinding(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, name, err := s.sessionAndName(request)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return errorResult("Unknown session: %s", request.GetString("session_id", "")), nil
	}

	value, err := sess.Get(name)
	if err != nil {
		return errorResult("Get failed: %v", err), nil
	}
	return jsonResult(map[string]any{"name": name, "value": value})
}

// registerSetBindingTool registers the set_binding tool
func (s *MCPServer) registerSetBindingTool() {
	tool := mcp.Tool{
		Name:        "set_binding",
		Description: "Assign a top-level binding of a dissected module; module code reading it afterwards sees the new value",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"session_id": sessionIDProperty(),
				"name": map[string]any{
					"type":        "string",
					"description": "Binding name",
				},
				"value": map[string]any{
					"type":        "string",
					"description": "JSON-encoded value",
				},
			},
			Required: []string{"session_id", "name", "value"},
		},
	}

	s.mcpServer.AddTool(tool, s.handleSetBinding)
}

func (s *MCPServer) handleSetBinding(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, name, err := s.sessionAndName(request)
	if err != nil {
		return nil, err
	}
	raw, err := request.RequireString("value")
	if err != nil {
		return nil, fmt.Errorf("value parameter is required: %w", err)
	}
	if sess == nil {
		return errorResult("Unknown session: %s", request.GetString("session_id", "")), nil
	}

	value, err := sess.SetJSON(name, raw)
	if err != nil {
		return errorResult("Set failed: %v", err), nil
	}
	return jsonResult(map[string]any{"name": name, "value": value})
}

// registerCallExportTool registers the call_export tool
func (s *MCPServer) registerCallExportTool() {
	tool := mcp.Tool{
		Name:        "call_export",
		Description: "Call an exported function of a dissected module",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"session_id": sessionIDProperty(),
				"name": map[string]any{
					"type":        "string",
					"description": "Export name",
				},
				"args": map[string]any{
					"type":        "string",
					"description": "JSON array of arguments (optional)",
				},
			},
			Required: []string{"session_id", "name"},
		},
	}

	s.mcpServer.AddTool(tool, s.handleCallExport)
}

func (s *MCPServer) handleCallExport(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, name, err := s.sessionAndName(request)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return errorResult("Unknown session: %s", request.GetString("session_id", "")), nil
	}

	value, err := sess.CallJSON(name, request.GetString("args", ""))
	if err != nil {
		return errorResult("Call failed: %v", err), nil
	}
	return jsonResult(map[string]any{"name": name, "result": value})
}

// registerCloseSessionTool registers the close_session tool
func (s *MCPServer) registerCloseSessionTool() {
	tool := mcp.Tool{
		Name:        "close_session",
		Description: "Discard a dissection session",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"session_id": sessionIDProperty(),
			},
			Required: []string{"session_id"},
		},
	}

	s.mcpServer.AddTool(tool, s.handleCloseSession)
}

func (s *MCPServer) handleCloseSession(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("session_id")
	if err != nil {
		return nil, fmt.Errorf("session_id parameter is required: %w", err)
	}

	if err := s.sessions.Close(id); err != nil {
		return errorResult("Close failed: %v", err), nil
	}
	return jsonResult(map[string]any{"session_id": id, "closed": true})
}

// sessionAndName extracts the common arguments. A nil session with a nil error
// means the id is well-formed but unknown.
func (s *MCPServer) sessionAndName(request mcp.CallToolRequest) (*session.Session, string, error) {
	id, err := request.RequireString("session_id")
	if err != nil {
		return nil, "", fmt.Errorf("session_id parameter is required: %w", err)
	}
	name, err := request.RequireString("name")
	if err != nil {
		return nil, "", fmt.Errorf("name parameter is required: %w", err)
	}

	sess, err := s.sessions.Get(id)
	if errors.Is(err, session.ErrNotFound) {
		return nil, name, nil
	}
	if err != nil {
		return nil, "", err
	}
	return sess, name, nil
}

func errorResult(format string, args ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: fmt.Sprintf(format, args...),
			},
		},
		IsError: true,
	}
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	text, err := sonic.ConfigStd.MarshalToString(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: text,
			},
		},
	}, nil
}

// ServeStdio starts the server on stdio
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server on stdio")
	return server.ServeStdio(s.mcpServer)
}

// ServeHTTP starts the server on HTTP
func (s *MCPServer) ServeHTTP() error {
	port := s.config.Server.HTTPPort
	s.logger.Info("starting MCP server on HTTP", zap.Int("port", port))

	httpServer := server.NewStreamableHTTPServer(s.mcpServer)
	return httpServer.Start(fmt.Sprintf(":%d", port))
}

// GetMCPServer returns the underlying MCP server for fx
func (s *MCPServer) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}
