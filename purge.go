package main

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bugsplat-mcp/bugsplat-mcp/internal/attachment"
)

type purger interface {
	PurgeExpired(ctx context.Context) (attachment.PurgeResult, error)
}

// runPurgeLoop 启动时清理一次，之后按 interval 周期清理，interval 为 0 时只清理一次。
func runPurgeLoop(ctx context.Context, p purger, interval time.Duration, logger *logrus.Logger) {
	_ = purgeOnce(ctx, p, logger)
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = purgeOnce(ctx, p, logger)
		}
	}
}

func purgeOnce(ctx context.Context, p purger, logger *logrus.Logger) error {
	result, err := p.PurgeExpired(ctx)
	fields := logrus.Fields{
		"action":  "purge",
		"scanned": result.Scanned,
		"removed": len(result.Removed),
	}
	if err != nil {
		logger.WithError(err).WithFields(fields).Warn("过期附件清理未完成")
		return err
	}
	logger.WithFields(fields).Debug("过期附件清理完成")
	return nil
}
