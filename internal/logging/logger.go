package logging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/bugsplat-mcp/bugsplat-mcp/internal/config"
)

// errStdoutReserved 表示日志文件指向了 stdout，而 stdout 只能承载 MCP 协议帧。
var errStdoutReserved = errors.New("stdout 保留给 MCP 协议，日志改写到 stderr")

var stdoutAliases = map[string]struct{}{
	"-":               {},
	"/dev/stdout":     {},
	"/dev/fd/1":       {},
	"/proc/self/fd/1": {},
}

// InitLogger 根据全局配置初始化 JSON 结构化日志。
// console 为未配置文件或文件不可用时的输出目标，nil 时使用 os.Stderr。
func InitLogger(cfg config.GlobalConfig, console io.Writer) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("无法解析日志级别: %w", err)
	}
	if console == nil {
		console = os.Stderr
	}

	output, outErr := buildOutput(cfg, console)

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetOutput(output)
	logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})

	if outErr != nil {
		logger.WithFields(logrus.Fields{
			"action": "logger_fallback",
			"path":   cfg.LogFilePath,
		}).Warn(outErr.Error())
	}

	return logger, nil
}

func buildOutput(cfg config.GlobalConfig, console io.Writer) (io.Writer, error) {
	if cfg.LogFilePath == "" {
		return console, nil
	}
	if _, ok := stdoutAliases[filepath.Clean(cfg.LogFilePath)]; ok {
		return console, errStdoutReserved
	}

	dir := filepath.Dir(cfg.LogFilePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return console, fmt.Errorf("创建日志目录失败: %w", err)
	}

	return &lumberjack.Logger{
		Filename:   cfg.LogFilePath,
		MaxSize:    cfg.LogMaxSize,
		MaxBackups: cfg.LogMaxBackups,
		Compress:   cfg.LogCompress,
		LocalTime:  true,
	}, nil
}
