// Package mcp exposes the engine as a Model Context Protocol server, so assistants
// can run diagnostic turns as tools.
package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aretw0/sasya"
	"github.com/aretw0/sasya/internal/logging"
	"github.com/aretw0/sasya/internal/presentation/graph"
	"github.com/aretw0/sasya/pkg/domain"
	"github.com/aretw0/sasya/pkg/workflow"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// workflowURI names the resource holding the transition diagram.
const workflowURI = "sasya://workflow"

// SessionResponse is the structured result of get_session and reset_session.
type SessionResponse struct {
	SessionID     string                `json:"session_id" jsonschema_description:"The session ID"`
	State         domain.WorkflowState  `json:"current_state" jsonschema_description:"Current workflow state"`
	Actions       []string              `json:"available_actions" jsonschema_description:"What the farmer can do next"`
	Profile       domain.UserProfile    `json:"user_profile" jsonschema_description:"Known facts about the plant and the farmer"`
	Diagnosis     *domain.Diagnosis     `json:"diagnosis,omitempty" jsonschema_description:"Current diagnosis, if any"`
	Prescriptions []domain.Prescription `json:"prescriptions,omitempty" jsonschema_description:"Prescription history"`
	VendorChoices []domain.VendorChoice `json:"vendor_choices,omitempty" jsonschema_description:"Recommended vendors"`
	Messages      []domain.Message      `json:"messages,omitempty" jsonschema_description:"Conversation transcript"`
}

// Engine is the part of sasya.Engine the server uses.
type Engine interface {
	Turn(ctx context.Context, req sasya.TurnRequest) (*sasya.TurnResult, error)
	Session(ctx context.Context, id string) (*domain.Session, error)
	Reset(ctx context.Context, id string) (*domain.Session, error)
	Actions(s *domain.Session) []string
}

// Server wraps the Engine and exposes it as an MCP Server.
type Server struct {
	engine    Engine
	mcpServer *server.MCPServer
	logger    *slog.Logger
}

// NewServer creates a new MCP Server instance.
func NewServer(engine Engine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Server{
		engine:    engine,
		logger:    logger,
		mcpServer: server.NewMCPServer("sasya-mcp", strings.TrimSpace(sasya.Version)),
	}
	s.registerTools()
	s.registerResources()
	return s
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE serves MCP over Server-Sent Events on port until ctx is canceled.
func (s *Server) ServeSSE(ctx context.Context, port int) error {
	addr := fmt.Sprintf(":%d", port)
	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(fmt.Sprintf("http://localhost:%d", port)))

	mux := http.NewServeMux()
	mux.Handle("/sse", sseServer.SSEHandler())
	mux.Handle("/message", sseServer.MessageHandler())
	httpServer := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

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

func (s *Server) registerTools() {
	submitTool := mcp.NewTool("submit_turn",
		mcp.WithDescription("Send one farmer message (optionally with a plant photo) and get the assistant's answer."),
		mcp.WithString("session_id", mcp.Description("Session to continue; omit to start a new one")),
		mcp.WithString("message", mcp.Required(), mcp.Description("What the farmer said")),
		mcp.WithString("image_b64", mcp.Description("Base64 encoded photo of the affected plant (optional)")),
		mcp.WithString("context", mcp.Description("JSON object of known facts, e.g. {\"crop\":\"tomato\",\"location\":\"Pune\"}")),
		mcp.WithOutputSchema[sasya.TurnResult](),
	)
	s.mcpServer.AddTool(submitTool, mcp.NewStructuredToolHandler(s.handleSubmitTurn))

	getTool := mcp.NewTool("get_session",
		mcp.WithDescription("Inspect a session: state, profile, diagnosis, prescriptions and transcript."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session ID")),
		mcp.WithOutputSchema[SessionResponse](),
	)
	s.mcpServer.AddTool(getTool, mcp.NewStructuredToolHandler(s.handleGetSession))

	resetTool := mcp.NewTool("reset_session",
		mcp.WithDescription("Start the session over, keeping its ID."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session ID")),
		mcp.WithOutputSchema[SessionResponse](),
	)
	s.mcpServer.AddTool(resetTool, mcp.NewStructuredToolHandler(s.handleResetSession))
}

func (s *Server) handleSubmitTurn(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (sasya.TurnResult, error) {
	req := sasya.TurnRequest{}
	req.SessionID, _ = args["session_id"].(string)
	req.Message, _ = args["message"].(string)

	if img, ok := args["image_b64"].(string); ok && img != "" {
		data, err := base64.StdEncoding.DecodeString(img)
		if err != nil {
			return sasya.TurnResult{}, fmt.Errorf("image_b64 is not valid base64: %w", err)
		}
		req.Image = data
	}
	if raw, ok := args["context"].(string); ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &req.Context); err != nil {
			return sasya.TurnResult{}, fmt.Errorf("context must be a JSON object: %w", err)
		}
	}

	res, err := s.engine.Turn(ctx, req)
	if err != nil {
		if errors.Is(err, domain.ErrSessionBusy) {
			return sasya.TurnResult{}, fmt.Errorf("session %s is busy, retry shortly", req.SessionID)
		}
		s.logger.Error("MCP turn failed", "session_id", req.SessionID, "err", err)
		return sasya.TurnResult{}, fmt.Errorf("turn failed: %w", err)
	}
	return *res, nil
}

func (s *Server) handleGetSession(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (SessionResponse, error) {
	id, _ := args["session_id"].(string)
	if id == "" {
		return SessionResponse{}, errors.New("session_id is required")
	}
	sess, err := s.engine.Session(ctx, id)
	if err != nil {
		return SessionResponse{}, fmt.Errorf("get session: %w", err)
	}
	return s.response(sess), nil
}

func (s *Server) handleResetSession(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (SessionResponse, error) {
	id, _ := args["session_id"].(string)
	if id == "" {
		return SessionResponse{}, errors.New("session_id is required")
	}
	sess, err := s.engine.Reset(ctx, id)
	if err != nil {
		return SessionResponse{}, fmt.Errorf("reset session: %w", err)
	}
	return s.response(sess), nil
}

func (s *Server) response(sess *domain.Session) SessionResponse {
	return SessionResponse{
		SessionID:     sess.ID,
		State:         sess.State,
		Actions:       s.engine.Actions(sess),
		Profile:       sess.Profile,
		Diagnosis:     sess.Diagnosis,
		Prescriptions: sess.Prescriptions,
		VendorChoices: sess.VendorChoices,
		Messages:      sess.Messages,
	}
}

func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource(workflowURI, "Workflow transition diagram",
		mcp.WithMIMEType("text/vnd.mermaid"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      workflowURI,
				MIMEType: "text/vnd.mermaid",
				Text:     graph.GenerateMermaid(workflow.Edges(), nil),
			},
		}, nil
	})
}
