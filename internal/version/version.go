package version

import "fmt"

// Version/Commit 可在构建时通过 -ldflags 注入，默认使用开发占位符。
var (
	Version = "0.1.0"
	Commit  = "dev"
)

// Name 是二进制名，同时作为 MCP serverInfo.name 与 User-Agent 前缀。
const Name = "bugsplat-mcp"

// Full 返回便于 CLI 打印的完整版本信息。
func Full() string {
	return fmt.Sprintf("%s %s (%s)", Name, Version, Commit)
}

// UserAgent 返回访问 BugSplat API 与下载归档时携带的 User-Agent。
func UserAgent() string {
	return Name + "/" + Version
}
