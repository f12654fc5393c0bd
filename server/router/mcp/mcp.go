// Package mcp serves the assistant as Model Context Protocol tools.
package mcp

import (
	"context"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
	"github.com/tmc/langchaingo/tools"

	"github.com/incometax/taxbot/server/assistant"
)

const serverName = "taxbot"

type Service struct {
	assistant        *assistant.Assistant
	search           tools.Tool
	defaultSessionID string
	logger           zerolog.Logger
}

func NewService(a *assistant.Assistant, defaultSessionID string, logger zerolog.Logger) *Service {
	return &Service{
		assistant:        a,
		search:           assistant.NewSearchTool(a),
		defaultSessionID: defaultSessionID,
		logger:           logger,
	}
}

// NewServer registers the tools on a new MCP server.
func (s *Service) NewServer(version string) *server.MCPServer {
	mcpServer := server.NewMCPServer(
		serverName,
		version,
		server.WithToolCapabilities(false),
		server.WithInstructions("Answers questions about the Korean Income Tax Act (소득세법) with citations."),
	)

	mcpServer.AddTool(
		mcp.NewTool("ask_tax_question",
			mcp.WithDescription("Answer a question about Korean income tax law. Answers cite the article they rely on. Follow-up questions in the same session see earlier turns."),
			mcp.WithString("question", mcp.Required(), mcp.Description("The question, in Korean or English")),
			mcp.WithString("session_id", mcp.Description("Conversation identifier. Reuse it for follow-up questions.")),
		),
		s.handleAsk,
	)
	mcpServer.AddTool(
		mcp.NewTool(s.search.Name(),
			mcp.WithDescription(s.search.Description()),
			mcp.WithString("question", mcp.Required(), mcp.Description("What to look up")),
		),
		s.handleSearch,
	)
	return mcpServer
}

// ServeStdio blocks serving requests on stdin and stdout.
func (s *Service) ServeStdio(version string) error {
	return server.ServeStdio(s.NewServer(version))
}

func (s *Service) handleAsk(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	question, err := request.RequireString("question")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	sessionID := strings.TrimSpace(request.GetString("session_id", ""))
	if sessionID == "" {
		sessionID = s.defaultSessionID
	}

	stream, err := s.assistant.Ask(ctx, sessionID, question)
	if err != nil {
		return s.toolError("ask_tax_question", err), nil
	}
	answer, err := stream.Collect()
	if err != nil {
		return s.toolError("ask_tax_question", err), nil
	}
	return mcp.NewToolResultText(answer), nil
}

func (s *Service) handleSearch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	question, err := request.RequireString("question")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, err := s.search.Call(ctx, question)
	if err != nil {
		return s.toolError(s.search.Name(), err), nil
	}
	return mcp.NewToolResultText(out), nil
}

// toolError logs the full chain and hands the client only the error kind.
func (s *Service) toolError(tool string, err error) *mcp.CallToolResult {
	s.logger.Warn().Err(err).Str("tool", tool).Msg("tool call failed")
	return mcp.NewToolResultError(assistant.PublicMessage(err))
}
