package mcp

import (
	"context"
	"encoding/json"
	"io"

	"memorybank/internal/apperr"
	"memorybank/internal/host"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const instructions = `This server exposes the project's memory bank: six markdown documents
that carry context between sessions. Read projectbrief.md first, then
activeContext.md and progress.md. Use update_document to record decisions
and progress; content is validated and every write is audited.`

// MCPServer builds an mcp-go server over the same resources and tools as the
// HTTP transport.
func (s *Server) MCPServer() *server.MCPServer {
	ms := server.NewMCPServer(
		serverName,
		s.version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, true),
		server.WithRecovery(),
		server.WithInstructions(instructions),
	)

	for _, res := range s.listResources() {
		ms.AddResource(res, s.readResourceHandler)
	}
	for _, tool := range toolDefinitions() {
		ms.AddTool(tool, s.toolHandler)
	}
	return ms
}

// ServeStdio serves ms on in/out until ctx is done or in reaches EOF.
// Document changes are announced as resource update notifications.
func (s *Server) ServeStdio(ctx context.Context, ms *server.MCPServer, in io.Reader, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go s.notifyChanges(ctx, ms)

	stdio := server.NewStdioServer(ms)
	stdio.SetErrorLogger(s.logger.StandardLog())
	s.logger.Info("Serving on stdio")
	return stdio.Listen(ctx, in, out)
}

func (s *Server) notifyChanges(ctx context.Context, ms *server.MCPServer) {
	for {
		select {
		case <-ctx.Done():
			return
		case change := <-s.store.Changes():
			ms.SendNotificationToAllClients("notifications/resources/updated", map[string]any{
				"uri": change.Key.URI(),
			})
		}
	}
}

func (s *Server) readResourceHandler(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	contents, err := s.readResource(request.Params.URI)
	if err != nil {
		s.logger.Debug("Resource read rejected", "uri", request.Params.URI, "error", err)
		return nil, clientError(err)
	}
	out := make([]mcp.ResourceContents, 0, len(contents))
	for _, c := range contents {
		out = append(out, c)
	}
	return out, nil
}

// toolHandler adapts callTool to mcp-go. Failures become error results so
// the model sees them; the protocol call itself succeeds.
func (s *Server) toolHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := request.Params.Name

	ctx, cancel := context.WithTimeout(ctx, s.toolTimeout)
	defer cancel()

	result, err := s.callTool(ctx, name, request.GetArguments())
	if err != nil {
		s.metrics.MessageHandled(MethodToolsCall, string(apperr.KindOf(err)))
		s.logger.Debug("Tool call rejected", "tool", name, "error", err)
		return mcp.NewToolResultError(clientError(err).Error()), nil
	}
	s.metrics.MessageHandled(MethodToolsCall, "ok")

	body, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return mcp.NewToolResultErrorFromErr("cannot encode result", err), nil
	}
	return mcp.NewToolResultText(string(body)), nil
}

// clientSafeError carries only what a client may see.
type clientSafeError struct {
	kind    apperr.Kind
	message string
	details []string
}

func (e *clientSafeError) Error() string {
	msg := string(e.kind) + ": " + e.message
	for _, d := range e.details {
		msg += "; " + d
	}
	return msg
}

func clientError(err error) error {
	return &clientSafeError{
		kind:    apperr.KindOf(err),
		message: apperr.ClientMessage(err),
		details: apperr.ClientDetails(err),
	}
}

// LogNotifier forwards host notifications to stdio clients as log messages.
func LogNotifier(ms *server.MCPServer) func(host.Level, string) {
	return func(level host.Level, message string) {
		ms.SendNotificationToAllClients("notifications/message", map[string]any{
			"level":  string(level),
			"logger": serverName,
			"data":   message,
		})
	}
}
