package main

import (
	"bytes"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

var repoRoot string

func init() {
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		return
	}
	dir := filepath.Dir(file)
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			repoRoot = dir
			return
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return
		}
		dir = parent
	}
}

func projectRoot(t *testing.T) string {
	t.Helper()
	if repoRoot == "" {
		t.Fatal("无法定位项目根目录")
	}
	return repoRoot
}

func configFixture(t *testing.T, name string) string {
	t.Helper()
	return filepath.Join(projectRoot(t), "internal", "config", "testdata", name)
}

// useBufferWriters swaps stdIn/stdOut/stdErr with in-memory buffers for the
// duration of a test, allowing assertions on CLI output without polluting test logs.
func useBufferWriters(t *testing.T, input string) {
	t.Helper()

	prevIn, prevOut, prevErr := stdIn, stdOut, stdErr
	stdIn = strings.NewReader(input)
	stdOut = &bytes.Buffer{}
	stdErr = &bytes.Buffer{}

	t.Cleanup(func() {
		stdIn = prevIn
		stdOut = prevOut
		stdErr = prevErr
	})
}

func stdOutString() string {
	if buf, ok := stdOut.(*bytes.Buffer); ok {
		return buf.String()
	}
	return ""
}

func stdErrString() string {
	if buf, ok := stdErr.(*bytes.Buffer); ok {
		return buf.String()
	}
	return ""
}

// clearEnv 清空会影响配置加载的环境变量，避免宿主环境干扰测试。
func clearEnv(t *testing.T) {
	t.Helper()
	for _, env := range []string{
		"BUGSPLAT_DATABASE",
		"BUGSPLAT_CLIENT_ID",
		"BUGSPLAT_CLIENT_SECRET",
		"BUGSPLAT_BASE_URL",
		"BUGSPLAT_MCP_STORAGE_PATH",
		"BUGSPLAT_MCP_LOG_LEVEL",
		"BUGSPLAT_MCP_CONFIG",
	} {
		t.Setenv(env, "")
	}
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	file := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(file, []byte(strings.TrimSpace(content)), 0o600); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}
	return file
}
