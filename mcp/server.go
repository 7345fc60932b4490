// Package mcp exposes the answer pipeline as a Model Context Protocol tool
// and provides a small client for calling it.
package mcp

import (
	"context"
	stderrors "errors"
	"log/slog"
	"strings"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sweetpotato0/coach-qa/answer"
	"github.com/sweetpotato0/coach-qa/ensemble"
	"github.com/sweetpotato0/coach-qa/errors"
	"github.com/sweetpotato0/coach-qa/pkg/logging"
)

// ToolName is the name of the question-answering tool.
const ToolName = "ask_coach"

// Answerer is the pipeline entry point served by the tool.
type Answerer interface {
	Answer(ctx context.Context, req answer.Request) (*answer.Package, error)
}

// AskArgs are the tool arguments.
type AskArgs struct {
	Question string `json:"question" jsonschema:"The athlete's question, in their own words"`
	CoachID  string `json:"coach_id" jsonschema:"Coach whose content grounds the answer"`
	UserID   string `json:"user_id" jsonschema:"Athlete asking the question"`
	Mode     string `json:"mode,omitempty" jsonschema:"Optional ensemble mode: consensus, crosscheck or moe"`
}

// ServerInfo describes the advertised implementation.
type ServerInfo struct {
	Name    string
	Version string
}

// NewServer builds an MCP server with the ask_coach tool bound to a.
func NewServer(a Answerer, info ServerInfo, logger *slog.Logger) *sdkmcp.Server {
	if info.Name == "" {
		info.Name = "coach-qa"
	}
	if info.Version == "" {
		info.Version = "0.1.0"
	}
	logger = logging.Or(logger, "mcp")

	server := sdkmcp.NewServer(&sdkmcp.Implementation{
		Name:    info.Name,
		Title:   "Coach Q&A",
		Version: info.Version,
	}, nil)

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name: ToolName,
		Description: "Answer an athlete's question in their coach's voice, grounded in the coach's content. " +
			"Health and safety questions are screened and may return a fixed safety message instead of an answer.",
	}, func(ctx context.Context, req *sdkmcp.CallToolRequest, in AskArgs) (*sdkmcp.CallToolResult, any, error) {
		mode, err := parseMode(in.Mode)
		if err != nil {
			return toolError(err), nil, nil
		}
		pkg, err := a.Answer(ctx, answer.Request{
			Question: in.Question,
			CoachID:  in.CoachID,
			UserID:   in.UserID,
			Mode:     mode,
		})
		if err != nil {
			if stderrors.Is(err, errors.ErrInvalidInput) {
				return toolError(err), nil, nil
			}
			logger.Warn("ask_coach failed", "coach_id", in.CoachID, "error", err)
			return nil, nil, err
		}
		return &sdkmcp.CallToolResult{
			Content:           []sdkmcp.Content{&sdkmcp.TextContent{Text: pkg.FinalText}},
			StructuredContent: pkg,
		}, nil, nil
	})

	return server
}

func parseMode(raw string) (ensemble.Mode, error) {
	if strings.TrimSpace(raw) == "" {
		return "", nil
	}
	return ensemble.ParseMode(raw)
}

func toolError(err error) *sdkmcp.CallToolResult {
	return &sdkmcp.CallToolResult{
		IsError: true,
		Content: []sdkmcp.Content{&sdkmcp.TextContent{Text: err.Error()}},
	}
}
