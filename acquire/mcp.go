package acquire

import (
	"context"
	"errors"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/vigie/kit"
)

// RegisterMCP registers the vigie tools on an MCP server.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	s.registerRunTool(srv)
	s.registerListRunsTool(srv)
	s.registerGetRunTool(srv)
}

// inputSchema builds a JSON Schema object with type "object".
func inputSchema(properties map[string]any, required []string) map[string]any {
	sc := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		sc["required"] = required
	}
	return sc
}

type runRequest struct{}

func (s *Service) registerRunTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "vigie_run",
		Description: "Run the acquisition pipeline once and return its report. Fails if a run is already active.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}
	endpoint := func(ctx context.Context, _ any) (any, error) {
		return s.Run(ctx)
	}
	kit.RegisterMCPTool(srv, tool, kit.Logging(s.logger, tool.Name)(endpoint), kit.DecodeJSON[runRequest]())
}

type listRunsRequest struct {
	Limit int `json:"limit,omitempty"`
}

func (s *Service) registerListRunsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "vigie_runs",
		Description: "List recent pipeline runs, newest first, with status and failed steps.",
		InputSchema: inputSchema(map[string]any{
			"limit": map[string]any{"type": "integer", "description": "Max runs (default 20)"},
		}, nil),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*listRunsRequest)
		return s.Runs(ctx, r.Limit)
	}
	kit.RegisterMCPTool(srv, tool, kit.Logging(s.logger, tool.Name)(endpoint), kit.DecodeJSON[listRunsRequest]())
}

type getRunRequest struct {
	RunID string `json:"run_id"`
}

func (s *Service) registerGetRunTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "vigie_run_log",
		Description: "Show one run with the source used for every resource and the failure class of each fallback.",
		InputSchema: inputSchema(map[string]any{
			"run_id": map[string]any{"type": "string", "description": "Run ID"},
		}, []string{"run_id"}),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*getRunRequest)
		if r.RunID == "" {
			return nil, errors.New("run_id is required")
		}
		return s.GetRun(ctx, r.RunID)
	}
	kit.RegisterMCPTool(srv, tool, kit.Logging(s.logger, tool.Name)(endpoint), kit.DecodeJSON[getRunRequest]())
}
