package config

import "testing"

func TestLoadFailsWithMissingFields(t *testing.T) {
	clearBugSplatEnv(t)
	if _, err := Load(testConfigPath(t, "missing.toml")); err == nil {
		t.Fatalf("缺失字段的配置应返回错误")
	}
}

func TestLoadFailsWhenFileAbsent(t *testing.T) {
	if _, err := Load(testConfigPath(t, "does-not-exist.toml")); err == nil {
		t.Fatalf("显式指定的配置文件不存在时应返回错误")
	}
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	clearBugSplatEnv(t)
	cfg := `
LogLevel = "info"
StoragePath = "./data"
UpstreamTimeout = "boom"

[BugSplat]
Database = "fred"
ClientID = "id"
ClientSecret = "secret"
`
	path := writeTempConfig(t, cfg)
	if _, err := Load(path); err == nil {
		t.Fatalf("无效 Duration 应失败")
	}
}

func TestLoadRejectsUnknownLogLevel(t *testing.T) {
	clearBugSplatEnv(t)
	cfg := `
LogLevel = "chatty"

[BugSplat]
Database = "fred"
ClientID = "id"
ClientSecret = "secret"
`
	if _, err := Load(writeTempConfig(t, cfg)); err == nil {
		t.Fatalf("未知日志级别应失败")
	}
}
