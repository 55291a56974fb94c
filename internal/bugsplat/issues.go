package bugsplat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// 表格查询的条件关键字，沿用 BugSplat 列表接口的 filter 参数约定。
const (
	conditionEqual       = "EQUAL"
	conditionOnOrAfter   = "GREATER_THAN_OR_EQUAL"
	conditionOnOrBefore  = "LESS_THAN_OR_EQUAL"
	filterOperatorAnd    = "0"
	defaultIssuePageSize = 10
)

// IssueFilter 描述 get-issues 的可选过滤条件，日期为 ISO 8601 字符串。
type IssueFilter struct {
	Application string
	Version     string
	StackGroup  string
	StartDate   string
	EndDate     string
	PageSize    int
}

// IssueRow 是 /api/crashes 列表中的一行。
type IssueRow struct {
	ID               int    `json:"id"`
	AppName          string `json:"appName"`
	AppVersion       string `json:"appVersion"`
	CrashTime        string `json:"crashTime"`
	StackKey         string `json:"stackKey"`
	StackKeyID       int    `json:"stackKeyId"`
	ExceptionMessage string `json:"exceptionMessage"`
	User             string `json:"user"`
}

type filterClause struct {
	field     string
	condition string
	value     string
}

// ListIssues 按时间倒序查询最近的崩溃。
func (c *Client) ListIssues(ctx context.Context, filter IssueFilter) ([]IssueRow, error) {
	query := url.Values{}
	query.Set("database", c.database)
	query.Set("pagesize", strconv.Itoa(pageSizeOrDefault(filter.PageSize)))
	query.Set("sortdatafield", "id")
	query.Set("sortorder", "desc")

	var clauses []filterClause
	if filter.Application != "" {
		clauses = append(clauses, filterClause{"appName", conditionEqual, filter.Application})
	}
	if filter.Version != "" {
		clauses = append(clauses, filterClause{"appVersion", conditionEqual, filter.Version})
	}
	if filter.StackGroup != "" {
		clauses = append(clauses, filterClause{"stackKey", conditionEqual, filter.StackGroup})
	}
	clauses = appendDateRange(clauses, filter.StartDate, filter.EndDate)
	encodeFilters(query, clauses)

	var rows []IssueRow
	if err := c.getTable(ctx, "/api/crashes", query, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func appendDateRange(clauses []filterClause, start, end string) []filterClause {
	if start = strings.TrimSpace(start); start != "" {
		clauses = append(clauses, filterClause{"crashTime", conditionOnOrAfter, start})
	}
	if end = strings.TrimSpace(end); end != "" {
		clauses = append(clauses, filterClause{"crashTime", conditionOnOrBefore, end})
	}
	return clauses
}

// encodeFilters 写入 filterscount 与按序号展开的 filterdatafieldN/filtervalueN 等参数。
func encodeFilters(query url.Values, clauses []filterClause) {
	if len(clauses) == 0 {
		return
	}
	query.Set("filterscount", strconv.Itoa(len(clauses)))
	for i, clause := range clauses {
		query.Set(fmt.Sprintf("filterdatafield%d", i), clause.field)
		query.Set(fmt.Sprintf("filtercondition%d", i), clause.condition)
		query.Set(fmt.Sprintf("filtervalue%d", i), clause.value)
		query.Set(fmt.Sprintf("filteroperator%d", i), filterOperatorAnd)
	}
}

func pageSizeOrDefault(size int) int {
	if size <= 0 {
		return defaultIssuePageSize
	}
	return size
}

// tablePage 兼容 {"rows": [...]} 与 [{"Rows": [...]}] 两种列表响应。
type tablePage struct {
	Rows json.RawMessage `json:"rows"`
}

func (c *Client) getTable(ctx context.Context, path string, query url.Values, out interface{}) error {
	var raw json.RawMessage
	if err := c.getJSON(ctx, path, query, &raw); err != nil {
		return err
	}
	rows, err := tableRows(raw)
	if err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	if len(rows) == 0 {
		return nil
	}
	if err := json.Unmarshal(rows, out); err != nil {
		return fmt.Errorf("decode %s rows: %w", path, err)
	}
	return nil
}

func tableRows(raw json.RawMessage) (json.RawMessage, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if raw[0] == '[' {
		var pages []tablePage
		if err := json.Unmarshal(raw, &pages); err != nil {
			return nil, err
		}
		if len(pages) == 0 {
			return nil, nil
		}
		return pages[0].Rows, nil
	}
	var page tablePage
	if err := json.Unmarshal(raw, &page); err != nil {
		return nil, err
	}
	return page.Rows, nil
}
