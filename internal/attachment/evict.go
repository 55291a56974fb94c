package attachment

import (
	"context"
	"errors"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/bugsplat-mcp/bugsplat-mcp/internal/cache"
)

// PurgeResult 汇总一次清理的结果。
type PurgeResult struct {
	Scanned int
	Removed []string
}

// PurgeExpired 删除创建时间早于保留窗口的 bundle 与遗留的 staging 目录。
// 非目录条目会被忽略；已被并发删除的目录不视为错误。
func (m *Manager) PurgeExpired(ctx context.Context) (PurgeResult, error) {
	result := PurgeResult{Removed: []string{}}

	entries, err := m.store.Entries()
	if err != nil {
		return result, err
	}

	var errs []error
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if !entry.IsDir {
			continue
		}
		result.Scanned++
		if !m.retention.Expired(entry) {
			continue
		}
		if err := m.removeEntry(entry); err != nil {
			errs = append(errs, err)
			continue
		}
		result.Removed = append(result.Removed, entry.Name)
	}

	fields := logrus.Fields{
		"database": m.store.Database(),
		"scanned":  result.Scanned,
		"removed":  len(result.Removed),
	}
	err = errors.Join(errs...)
	if err != nil {
		m.logger.WithError(err).WithFields(fields).Warn("attachment_purge_partial")
	} else if len(result.Removed) > 0 {
		m.logger.WithFields(fields).Info("attachment_purge")
	}
	return result, err
}

// removeEntry 对数字目录持有同 ID 的锁，避免与正在进行的填充交错。
func (m *Manager) removeEntry(entry cache.Entry) error {
	if id, err := strconv.Atoi(entry.Name); err == nil && strconv.Itoa(id) == entry.Name {
		unlock := m.store.Lock(id)
		defer unlock()
	}
	return m.store.RemoveEntry(entry.Name)
}
