package bugsplat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/bugsplat-mcp/bugsplat-mcp/internal/attachment"
)

// Issue 是 /api/crash/data 返回的单个崩溃详情。
type Issue struct {
	ID               int       `json:"id"`
	AppName          string    `json:"appName"`
	AppVersion       string    `json:"appVersion"`
	StackKey         string    `json:"stackKey"`
	StackKeyID       int       `json:"stackKeyId"`
	CrashTime        string    `json:"crashTime"`
	User             string    `json:"user"`
	Email            string    `json:"email"`
	Description      string    `json:"description"`
	Comments         string    `json:"comments"`
	ExceptionCode    string    `json:"exceptionCode"`
	ExceptionMessage string    `json:"exceptionMessage"`
	Processor        string    `json:"processor"`
	IPAddress        string    `json:"ipAddress"`
	DumpFile         string    `json:"dumpfile"`
	DumpFileSize     FlexInt64 `json:"dumpfileSize"`
}

// FlexInt64 兼容数字与数字字符串两种 JSON 表示，空串与 null 视为 0。
type FlexInt64 int64

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexInt64) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = 0
		return nil
	}

	raw := string(data)
	if data[0] == '"' {
		unquoted, err := strconv.Unquote(raw)
		if err != nil {
			return err
		}
		raw = strings.TrimSpace(unquoted)
		if raw == "" {
			*f = 0
			return nil
		}
	}

	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		floatValue, floatErr := strconv.ParseFloat(raw, 64)
		if floatErr != nil {
			return fmt.Errorf("invalid size %s", string(data))
		}
		value = int64(floatValue)
	}
	*f = FlexInt64(value)
	return nil
}

// GetIssue 查询单个崩溃详情。
func (c *Client) GetIssue(ctx context.Context, crashID int) (Issue, error) {
	query := url.Values{}
	query.Set("database", c.database)
	query.Set("id", strconv.Itoa(crashID))

	var issue Issue
	if err := c.getJSON(ctx, "/api/crash/data", query, &issue); err != nil {
		return Issue{}, err
	}
	return issue, nil
}

// ArchiveDescriptor 将崩溃详情转换为附件缓存所需的下载描述，满足 attachment.DescriptorSource。
func (c *Client) ArchiveDescriptor(ctx context.Context, crashID int) (attachment.ArchiveDescriptor, error) {
	issue, err := c.GetIssue(ctx, crashID)
	if err != nil {
		return attachment.ArchiveDescriptor{}, err
	}
	if strings.TrimSpace(issue.DumpFile) == "" {
		return attachment.ArchiveDescriptor{}, errors.New("crash has no dumpfile url")
	}
	return attachment.ArchiveDescriptor{
		URL:  issue.DumpFile,
		Size: int64(issue.DumpFileSize),
	}, nil
}

var _ json.Unmarshaler = (*FlexInt64)(nil)
