package mcpadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/stewmckendry/health-assistant/internal/core/domain"
)

const (
	toolAnswer   = "answer_question"
	toolClassify = "classify_query"
)

func (s *Server) registerTools() {
	s.server.AddTool(mcp.NewTool(toolAnswer,
		mcp.WithDescription("Answer a health billing or funding question from structured tables and policy documents. Returns items with citations, conflicts and a confidence score."),
		mcp.WithString("query", mcp.Description("Free-text question")),
		mcp.WithArray("identifiers",
			mcp.Description("Exact codes the question is about, e.g. A135 or WC-1001"),
			mcp.Items(map[string]any{"type": "string"}),
		),
		mcp.WithNumber("top_k", mcp.Description("Maximum semantic passages to keep (default 5)"), mcp.Min(1), mcp.Max(50)),
		mcp.WithObject("filters", mcp.Description("Exact-match metadata filters, string values only")),
		mcp.WithNumber("relational_timeout_ms", mcp.Description("Deadline for the structured tables in milliseconds (default 500)"), mcp.Min(1), mcp.Max(60000)),
		mcp.WithNumber("semantic_timeout_ms", mcp.Description("Deadline for the document search in milliseconds (default 1000)"), mcp.Min(1), mcp.Max(60000)),
	), s.handleAnswer)

	s.server.AddTool(mcp.NewTool(toolClassify,
		mcp.WithDescription("Show which retrieval strategy a question would use and what the classifier extracted from it."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Free-text question")),
	), s.handleClassify)
}

func (s *Server) handleAnswer(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filters, err := stringMap(req.GetArguments()["filters"])
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	query := domain.Query{
		Text:    req.GetString("query", ""),
		Hints:   domain.Hints{Identifiers: req.GetStringSlice("identifiers", nil)},
		Filters: filters,
	}
	opts := domain.AnswerOptions{
		TopK:              req.GetInt("top_k", 0),
		RelationalTimeout: time.Duration(req.GetInt("relational_timeout_ms", 0)) * time.Millisecond,
		SemanticTimeout:   time.Duration(req.GetInt("semantic_timeout_ms", 0)) * time.Millisecond,
	}

	resp, err := s.service.Answer(ctx, query, opts)
	if err != nil {
		s.logger.Warn("mcp_answer_failed", "error", err)
		return mcp.NewToolResultError(toolErrorText(err)), nil
	}
	return jsonResult(resp)
}

func (s *Server) handleClassify(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	query := domain.Query{Text: text}
	if err := query.Validate(); err != nil {
		return mcp.NewToolResultError(toolErrorText(err)), nil
	}
	return jsonResult(s.service.Classify(query))
}

func jsonResult(payload any) (*mcp.CallToolResult, error) {
	raw, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal tool result: %w", err)
	}
	return mcp.NewToolResultText(string(raw)), nil
}

func toolErrorText(err error) string {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return "invalid input: " + err.Error()
	case domain.IsKind(err, domain.ErrMisconfigured):
		return "server misconfigured: " + err.Error()
	default:
		return err.Error()
	}
}

func stringMap(raw any) (map[string]string, error) {
	if raw == nil {
		return nil, nil
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("filters must be an object")
	}
	out := make(map[string]string, len(obj))
	for k, v := range obj {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("filter %q must be a string", k)
		}
		out[k] = s
	}
	return out, nil
}
