package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if _, err := logrus.ParseLevel(g.LogLevel); err != nil {
		return newFieldError("Global.LogLevel", "无法识别的日志级别: "+g.LogLevel)
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if g.ListenPort < 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 0-65535（0 表示关闭 HTTP）")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}
	if g.PurgeInterval.DurationValue() < 0 {
		return newFieldError("Global.PurgeInterval", "不能为负数")
	}

	b := c.BugSplat
	if err := validateDatabase(b.Database); err != nil {
		return err
	}
	if b.ClientID == "" {
		return newFieldError(bugsplatField("ClientID"), "不能为空（可通过 BUGSPLAT_CLIENT_ID 设置）")
	}
	if b.ClientSecret == "" {
		return newFieldError(bugsplatField("ClientSecret"), "不能为空（可通过 BUGSPLAT_CLIENT_SECRET 设置）")
	}
	if err := validateBaseURL(b.BaseURL); err != nil {
		return fmt.Errorf("%s: %w", bugsplatField("BaseURL"), err)
	}

	return nil
}

// validateDatabase 确保数据库名可以安全地作为单级目录名使用。
func validateDatabase(name string) error {
	field := bugsplatField("Database")
	if name == "" {
		return newFieldError(field, "不能为空（可通过 BUGSPLAT_DATABASE 设置）")
	}
	if name == "." || name == ".." {
		return newFieldError(field, "不能是相对路径")
	}
	if strings.ContainsAny(name, `/\`) {
		return newFieldError(field, "不允许包含路径分隔符")
	}
	if strings.TrimSpace(name) != name {
		return newFieldError(field, "不允许包含首尾空白")
	}
	return nil
}

func validateBaseURL(raw string) error {
	if raw == "" {
		return errors.New("缺少 API 地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("API 地址缺少 Host: %s", raw)
	}
	return nil
}
