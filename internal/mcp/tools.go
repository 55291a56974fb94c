package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

const attachmentsToolName = "get-attachments-list"

// maxSafeInteger 是 float64 能精确表示的最大整数，超出后 ID 会失真。
const maxSafeInteger = 1<<53 - 1

func boolPtr(v bool) *bool { return &v }

func attachmentsTool() toolDescription {
	return toolDescription{
		Name: attachmentsToolName,
		Description: "Get list of attachments for a specific BugSplat issue. The attachments tool lists the " +
			"attachments (log files, screenshots, etc.) for a specific crash and is useful for determining " +
			"the cause of and fixing a specific crash.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"id": map[string]any{
					"type":        "number",
					"description": "Issue ID to retrieve",
				},
			},
			"required": []string{"id"},
		},
		Annotations: &toolAnnotations{
			ReadOnlyHint:  boolPtr(true),
			OpenWorldHint: boolPtr(true),
		},
	}
}

func (s *Server) handleToolsList(encoder *lockedEncoder, req *request) error {
	tools := make([]toolDescription, 0, 4)
	if s.issues != nil {
		tools = append(tools, issuesTool(), issueTool(), summaryTool())
	}
	tools = append(tools, attachmentsTool())
	return writeResult(encoder, req.ID, toolsListResult{Tools: tools})
}

func (s *Server) handleToolsCall(ctx context.Context, encoder *lockedEncoder, req *request) error {
	var params toolsCallParams
	if len(req.Params) == 0 {
		return writeError(encoder, req.ID, codeInvalidParams, "params required for tools/call")
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return writeError(encoder, req.ID, codeInvalidParams, "invalid tools/call params: "+err.Error())
	}

	var (
		text string
		err  error
	)
	switch {
	case params.Name == attachmentsToolName:
		text, err = s.callAttachmentsList(ctx, params.Arguments)
	case params.Name == issueToolName && s.issues != nil:
		text, err = s.callGetIssue(ctx, params.Arguments)
	case params.Name == issuesToolName && s.issues != nil:
		text, err = s.callGetIssues(ctx, params.Arguments)
	case params.Name == summaryToolName && s.issues != nil:
		text, err = s.callGetSummary(ctx, params.Arguments)
	default:
		return writeError(encoder, req.ID, codeInvalidParams, "unknown tool: "+params.Name)
	}

	var argErr *argumentError
	if errors.As(err, &argErr) {
		return writeError(encoder, req.ID, codeInvalidParams, argErr.Error())
	}
	if err != nil {
		return writeResult(encoder, req.ID, errorResult(err))
	}
	return writeResult(encoder, req.ID, textResult(text))
}

// argumentError 表示工具参数不合法，映射为 JSON-RPC invalidParams 而不是 isError 结果。
type argumentError struct {
	err error
}

func (e *argumentError) Error() string { return e.err.Error() }

func (e *argumentError) Unwrap() error { return e.err }

func (s *Server) callAttachmentsList(ctx context.Context, raw json.RawMessage) (string, error) {
	crashID, err := parseCrashIDArgument(raw)
	if err != nil {
		return "", &argumentError{err: err}
	}
	files, err := s.attachments.EnsurePopulated(ctx, crashID)
	if err != nil {
		return "", err
	}
	return formatAttachmentsList(s.attachments.Database(), crashID, files), nil
}

// parseCrashIDArgument 解析 {"id": <number>}；42.0 之类的整数值浮点数也接受，ID 必须为正。
func parseCrashIDArgument(raw json.RawMessage) (int, error) {
	if len(raw) == 0 {
		return 0, fmt.Errorf("missing required argument: id")
	}
	var args struct {
		ID json.Number `json:"id"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return 0, fmt.Errorf("invalid arguments: %v", err)
	}
	if args.ID == "" {
		return 0, fmt.Errorf("missing required argument: id")
	}
	return crashIDFromNumber(args.ID)
}

func crashIDFromNumber(n json.Number) (int, error) {
	value, err := n.Float64()
	if err != nil || value != math.Trunc(value) || value > maxSafeInteger {
		return 0, fmt.Errorf("argument id must be an integer, got %s", n)
	}
	if value <= 0 {
		return 0, fmt.Errorf("argument id must be a positive integer, got %s", n)
	}
	return int(value), nil
}

func formatAttachmentsList(database string, crashID int, files []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Attachments for crash #%d in database %s\n", crashID, database)
	lines := make([]string, 0, len(files))
	for _, file := range files {
		lines = append(lines, "- "+file)
	}
	b.WriteString(strings.Join(lines, "\n"))
	return b.String()
}

func textResult(text string) toolsCallResult {
	return toolsCallResult{
		Content: []contentBlock{{Type: "text", Text: text}},
	}
}

func errorResult(err error) toolsCallResult {
	return toolsCallResult{
		Content: []contentBlock{{Type: "text", Text: "Error: " + err.Error()}},
		IsError: true,
	}
}
