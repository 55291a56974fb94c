package bugsplat

import (
	"context"
	"net/url"
	"strconv"
	"strings"
)

// SummaryFilter 描述 get-summary 的过滤条件。
type SummaryFilter struct {
	Applications []string
	Versions     []string
	StartDate    string
	EndDate      string
	PageSize     int
}

// SummaryRow 是按调用栈分组后的崩溃统计。
type SummaryRow struct {
	StackKey    string    `json:"stackKey"`
	StackKeyID  int       `json:"stackKeyId"`
	CrashSum    FlexInt64 `json:"crashSum"`
	FirstReport string    `json:"firstReport"`
	LastReport  string    `json:"lastReport"`
	Comments    string    `json:"comments"`
}

// GetSummary 查询崩溃最多的调用栈分组，按 crashSum 倒序。
func (c *Client) GetSummary(ctx context.Context, filter SummaryFilter) ([]SummaryRow, error) {
	query := url.Values{}
	query.Set("database", c.database)
	query.Set("pagesize", strconv.Itoa(pageSizeOrDefault(filter.PageSize)))
	query.Set("sortdatafield", "crashSum")
	query.Set("sortorder", "desc")
	if apps := joinNonEmpty(filter.Applications); apps != "" {
		query.Set("applications", apps)
	}
	if versions := joinNonEmpty(filter.Versions); versions != "" {
		query.Set("versions", versions)
	}
	encodeFilters(query, appendDateRange(nil, filter.StartDate, filter.EndDate))

	var rows []SummaryRow
	if err := c.getTable(ctx, "/api/summary", query, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func joinNonEmpty(values []string) string {
	kept := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			kept = append(kept, v)
		}
	}
	return strings.Join(kept, ",")
}
