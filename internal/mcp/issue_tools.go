package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/bugsplat-mcp/bugsplat-mcp/internal/bugsplat"
)

const (
	issuesToolName  = "get-issues"
	issueToolName   = "get-issue"
	summaryToolName = "get-summary"

	maxIssuesPageSize  = 100
	maxSummaryPageSize = 20
)

func issuesTool() toolDescription {
	return toolDescription{
		Name: issuesToolName,
		Description: "Get BugSplat issues with optional filtering. The issues tool lists the all crashes in the " +
			"BugSplat database and is useful for determining the most recent crashes.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"application": stringProperty("Application name to filter by"),
				"version":     stringProperty("Version to filter by"),
				"stackGroup":  stringProperty("Stack group to filter by"),
				"startDate":   stringProperty("Start date for filtering (ISO format)"),
				"endDate":     stringProperty("End date for filtering (ISO format)"),
				"pageSize":    pageSizeProperty(maxIssuesPageSize),
			},
		},
		Annotations: readOnlyRemote(),
	}
}

func issueTool() toolDescription {
	return toolDescription{
		Name: issueToolName,
		Description: "Get details of a specific BugSplat issue. The issue tool lists the details of a specific " +
			"crash and is useful for determining the cause of and fixing a specific crash.",
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
		Annotations: readOnlyRemote(),
	}
}

func summaryTool() toolDescription {
	return toolDescription{
		Name: summaryToolName,
		Description: "Get summary of BugSplat issues with optional filtering. The summary tool lists information " +
			"about groups of crashes and is useful for determining what issues are most prevalent.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"applications": stringArrayProperty("Application names to filter by"),
				"versions":     stringArrayProperty("Versions to filter by"),
				"startDate":    stringProperty("Start date for filtering (ISO format)"),
				"endDate":      stringProperty("End date for filtering (ISO format)"),
				"pageSize":     pageSizeProperty(maxSummaryPageSize),
			},
		},
		Annotations: readOnlyRemote(),
	}
}

func stringProperty(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

func stringArrayProperty(description string) map[string]any {
	return map[string]any{
		"type":        "array",
		"items":       map[string]any{"type": "string"},
		"description": description,
	}
}

func pageSizeProperty(limit int) map[string]any {
	return map[string]any{
		"type":        "number",
		"minimum":     1,
		"maximum":     limit,
		"default":     10,
		"description": fmt.Sprintf("Number of results per page (1-%d, defaults to 10)", limit),
	}
}

func readOnlyRemote() *toolAnnotations {
	return &toolAnnotations{
		ReadOnlyHint:  boolPtr(true),
		OpenWorldHint: boolPtr(true),
	}
}

func (s *Server) callGetIssue(ctx context.Context, raw json.RawMessage) (string, error) {
	crashID, err := parseCrashIDArgument(raw)
	if err != nil {
		return "", &argumentError{err: err}
	}
	issue, err := s.issues.GetIssue(ctx, crashID)
	if err != nil {
		return "", err
	}
	return formatIssue(s.attachments.Database(), issue), nil
}

func (s *Server) callGetIssues(ctx context.Context, raw json.RawMessage) (string, error) {
	var args struct {
		Application string      `json:"application"`
		Version     string      `json:"version"`
		StackGroup  string      `json:"stackGroup"`
		StartDate   string      `json:"startDate"`
		EndDate     string      `json:"endDate"`
		PageSize    json.Number `json:"pageSize"`
	}
	if err := decodeArguments(raw, &args); err != nil {
		return "", err
	}
	pageSize, err := parsePageSize(args.PageSize, maxIssuesPageSize)
	if err != nil {
		return "", err
	}

	rows, err := s.issues.ListIssues(ctx, bugsplat.IssueFilter{
		Application: args.Application,
		Version:     args.Version,
		StackGroup:  args.StackGroup,
		StartDate:   args.StartDate,
		EndDate:     args.EndDate,
		PageSize:    pageSize,
	})
	if err != nil {
		return "", err
	}
	return formatIssues(s.attachments.Database(), rows), nil
}

func (s *Server) callGetSummary(ctx context.Context, raw json.RawMessage) (string, error) {
	var args struct {
		Applications []string    `json:"applications"`
		Versions     []string    `json:"versions"`
		StartDate    string      `json:"startDate"`
		EndDate      string      `json:"endDate"`
		PageSize     json.Number `json:"pageSize"`
	}
	if err := decodeArguments(raw, &args); err != nil {
		return "", err
	}
	pageSize, err := parsePageSize(args.PageSize, maxSummaryPageSize)
	if err != nil {
		return "", err
	}

	rows, err := s.issues.GetSummary(ctx, bugsplat.SummaryFilter{
		Applications: args.Applications,
		Versions:     args.Versions,
		StartDate:    args.StartDate,
		EndDate:      args.EndDate,
		PageSize:     pageSize,
	})
	if err != nil {
		return "", err
	}
	return formatSummary(s.attachments.Database(), rows), nil
}

// decodeArguments 允许参数整体缺省；类型不符时返回 argumentError。
func decodeArguments(raw json.RawMessage, out any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &argumentError{err: fmt.Errorf("invalid arguments: %v", err)}
	}
	return nil
}

// parsePageSize 缺省为 10，超出 [1, limit] 视为参数错误。
func parsePageSize(n json.Number, limit int) (int, error) {
	if n == "" {
		return 10, nil
	}
	value, err := n.Float64()
	if err != nil || value != math.Trunc(value) || value < 1 || value > float64(limit) {
		return 0, &argumentError{err: fmt.Errorf("argument pageSize must be an integer between 1 and %d, got %s", limit, n)}
	}
	return int(value), nil
}

func formatIssue(database string, issue bugsplat.Issue) string {
	lines := []string{fmt.Sprintf("Issue #%d in database %s", issue.ID, database)}
	add := func(label, value string) {
		if value = strings.TrimSpace(value); value != "" {
			lines = append(lines, label+": "+value)
		}
	}

	add("Application", issue.AppName)
	add("Version", issue.AppVersion)
	add("Crash time", issue.CrashTime)
	if issue.StackKey != "" {
		add("Stack key", fmt.Sprintf("%s (id %d)", issue.StackKey, issue.StackKeyID))
	}
	add("Exception code", issue.ExceptionCode)
	add("Exception message", issue.ExceptionMessage)
	add("Processor", issue.Processor)
	add("User", issue.User)
	add("Email", issue.Email)
	add("IP address", issue.IPAddress)
	add("Description", issue.Description)
	add("Comments", issue.Comments)
	if issue.DumpFile != "" {
		lines = append(lines, fmt.Sprintf("Attachments: %d bytes, use %s with id %d", int64(issue.DumpFileSize), attachmentsToolName, issue.ID))
	}
	return strings.Join(lines, "\n")
}

func formatIssues(database string, rows []bugsplat.IssueRow) string {
	if len(rows) == 0 {
		return "No issues found in database " + database
	}
	lines := make([]string, 0, len(rows)+1)
	lines = append(lines, fmt.Sprintf("Found %d issues in database %s:", len(rows), database))
	for _, row := range rows {
		line := fmt.Sprintf("- #%d %s %s", row.ID, row.AppName, row.AppVersion)
		if row.CrashTime != "" {
			line += " | " + row.CrashTime
		}
		if row.StackKey != "" {
			line += " | " + row.StackKey
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func formatSummary(database string, rows []bugsplat.SummaryRow) string {
	if len(rows) == 0 {
		return "No crash groups found in database " + database
	}
	lines := make([]string, 0, len(rows)+1)
	lines = append(lines, fmt.Sprintf("Top %d crash groups in database %s:", len(rows), database))
	for _, row := range rows {
		lines = append(lines, fmt.Sprintf("- %s (stack key id %d): %d crashes, first %s, last %s",
			row.StackKey, row.StackKeyID, int64(row.CrashSum), row.FirstReport, row.LastReport))
	}
	return strings.Join(lines, "\n")
}
