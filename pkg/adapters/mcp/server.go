package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/aretw0/stateful"
	"github.com/aretw0/stateful/internal/sanitize"
	"github.com/aretw0/stateful/pkg/cache"
	"github.com/aretw0/stateful/pkg/domain"
)

// StatsURI is the resource exposing the instance cache statistics.
const StatsURI = "stateful://stats"

// Container is the part of the stateful container exposed to agents.
type Container interface {
	Deployed() []string
	Invoke(ctx context.Context, componentID, key string, m domain.Method, args ...any) (any, error)
	Status(key string) cache.Status
	Stats() cache.Stats
}

// InstanceStatus is the structured result of instance_status.
type InstanceStatus struct {
	Key    string `json:"key" jsonschema_description:"The instance key"`
	Status string `json:"status" jsonschema_description:"absent, idle, checked-out, passivated or in-transit"`
}

// Server exposes a Container as an MCP Server: agents hold conversations with
// component instances through tools.
type Server struct {
	container Container
	mcpServer *server.MCPServer
	logger    *slog.Logger
}

// NewServer creates a new MCP Server instance.
func NewServer(c Container, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Server{
		container: c,
		logger:    logger,
		mcpServer: server.NewMCPServer("stateful-mcp", strings.TrimSpace(stateful.Version),
			server.WithToolCapabilities(false),
			server.WithResourceCapabilities(false, false),
		),
	}
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer returns the underlying protocol server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE serves on addr using SSE until ctx is done.
func (s *Server) ServeSSE(ctx context.Context, addr, baseURL string) error {
	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.Handle("/sse", corsMiddleware(sseServer.SSEHandler()))
	mux.Handle("/message", corsMiddleware(sseServer.MessageHandler()))

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Channel to listen for errors coming from the listener.
	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("MCP Server listening (SSE)", "address", addr)
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("list_components",
		mcp.WithDescription("List the deployed component types."),
	), s.handleListComponents)

	s.mcpServer.AddTool(mcp.NewTool("create_instance",
		mcp.WithDescription("Create a component instance and return its key."),
		mcp.WithString("component", mcp.Required(), mcp.Description("Component id")),
		mcp.WithString("interface", mcp.Description("Home view (default business-local-home)")),
		mcp.WithString("method", mcp.Description("Create method name (default create)")),
		mcp.WithArray("args", mcp.Description("Create arguments")),
	), s.handleCreate)

	s.mcpServer.AddTool(mcp.NewTool("call_method",
		mcp.WithDescription("Invoke a business method on an instance."),
		mcp.WithString("component", mcp.Required(), mcp.Description("Component id")),
		mcp.WithString("key", mcp.Required(), mcp.Description("Instance key")),
		mcp.WithString("method", mcp.Required(), mcp.Description("Method name")),
		mcp.WithString("interface", mcp.Description("Client view (default business-local)")),
		mcp.WithArray("args", mcp.Description("Method arguments")),
	), s.handleCall)

	s.mcpServer.AddTool(mcp.NewTool("remove_instance",
		mcp.WithDescription("Destroy an instance through its component view."),
		mcp.WithString("component", mcp.Required(), mcp.Description("Component id")),
		mcp.WithString("key", mcp.Required(), mcp.Description("Instance key")),
		mcp.WithString("interface", mcp.Description("Component view (default local)")),
	), s.handleRemove)

	s.mcpServer.AddTool(mcp.NewTool("instance_status",
		mcp.WithDescription("Report where an instance lives."),
		mcp.WithString("key", mcp.Required(), mcp.Description("Instance key")),
		mcp.WithOutputSchema[InstanceStatus](),
	), mcp.NewStructuredToolHandler(s.handleStatus))
}

func (s *Server) handleListComponents(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ids := s.container.Deployed()
	if ids == nil {
		ids = []string{}
	}
	return jsonResult(ids)
}

func (s *Server) handleCreate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	component, err := request.RequireString("component")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	m := domain.Method{Interface: domain.InterfaceBusinessLocalHome, Name: request.GetString("method", "create")}
	if name := request.GetString("interface", ""); name != "" {
		if m.Interface, err = parseInterface(name); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
	}
	if !m.Interface.IsHome() || !domain.IsCreateName(m.Name) {
		return mcp.NewToolResultError(fmt.Sprintf("%s is not a create method", m)), nil
	}

	args, err := arrayArg(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	v, err := s.container.Invoke(ctx, component, "", m, args...)
	if err != nil {
		return s.invokeError("create_instance", err), nil
	}
	return jsonResult(map[string]any{"key": v})
}

func (s *Server) handleCall(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	component, err := request.RequireString("component")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	key, err := request.RequireString("key")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	name, err := request.RequireString("method")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	m := domain.Method{Interface: domain.InterfaceBusinessLocal, Name: name}
	if iface := request.GetString("interface", ""); iface != "" {
		if m.Interface, err = parseInterface(iface); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
	}

	args, err := arrayArg(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	result, err := s.container.Invoke(ctx, component, key, m, args...)
	if err != nil {
		return s.invokeError("call_method", err), nil
	}
	return jsonResult(map[string]any{"result": result})
}

func (s *Server) handleRemove(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	component, err := request.RequireString("component")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	key, err := request.RequireString("key")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	m := domain.Method{Interface: domain.InterfaceLocal, Name: domain.RemoveMethodName}
	if iface := request.GetString("interface", ""); iface != "" {
		if m.Interface, err = parseInterface(iface); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
	}

	if _, err := s.container.Invoke(ctx, component, key, m); err != nil {
		return s.invokeError("remove_instance", err), nil
	}
	return mcp.NewToolResultText("removed " + key), nil
}

func (s *Server) handleStatus(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (InstanceStatus, error) {
	key, _ := args["key"].(string)
	if key == "" {
		return InstanceStatus{}, domain.ErrEmptyKey
	}
	return InstanceStatus{Key: key, Status: s.container.Status(key).String()}, nil
}

func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource(StatsURI, "Instance Cache Statistics",
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		st := s.container.Stats()
		jsonBytes, err := json.Marshal(map[string]any{
			"resident":     st.Resident,
			"idle":         st.Idle,
			"checked_out":  st.CheckedOut,
			"passivated":   st.Passivated,
			"passivations": st.Passivations,
			"activations":  st.Activations,
			"timeouts":     st.Timeouts,
		})
		if err != nil {
			return nil, err
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      StatsURI,
				MIMEType: "application/json",
				Text:     string(jsonBytes),
			},
		}, nil
	})
}

// invokeError reports a failed invocation to the agent. Only the message of
// the error reaches it; system errors carry a log reference instead of a cause.
func (s *Server) invokeError(tool string, err error) *mcp.CallToolResult {
	kind := domain.ClassifyError(err)
	if kind == domain.ExceptionSystem {
		s.logger.Error("MCP tool failed", "tool", tool, "err", err)
	}
	return mcp.NewToolResultError(fmt.Sprintf("%s error: %v", kind, err))
}

func arrayArg(request mcp.CallToolRequest) ([]any, error) {
	args, _ := request.GetArguments()["args"].([]any)
	if err := sanitize.Args(args); err != nil {
		return nil, fmt.Errorf("invalid argument: %w", err)
	}
	return args, nil
}

func parseInterface(name string) (domain.InterfaceType, error) {
	t, ok := domain.ParseInterfaceType(name)
	if !ok {
		return 0, fmt.Errorf("unknown interface %q", name)
	}
	return t, nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}
