package attachment

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/natefinch/atomic"

	"github.com/bugsplat-mcp/bugsplat-mcp/internal/cache"
	"github.com/bugsplat-mcp/bugsplat-mcp/internal/logging"
)

// EnsurePopulated 保证崩溃 ID 对应的 bundle 在磁盘上完整存在，并返回其文件列表。
// 同一 ID 的并发调用会串行化，只有第一个调用方真正下载。
func (m *Manager) EnsurePopulated(ctx context.Context, crashID int) ([]string, error) {
	files, ok, err := m.cached(crashID)
	if err != nil {
		return nil, err
	}
	if ok {
		m.logPopulate(crashID, true, time.Time{}, nil)
		return files, nil
	}

	unlock := m.store.Lock(crashID)
	defer unlock()

	// 等锁期间可能已被其他调用方填充
	files, ok, err = m.cached(crashID)
	if err != nil {
		return nil, err
	}
	if ok {
		m.logPopulate(crashID, true, time.Time{}, nil)
		return files, nil
	}

	started := m.now()
	files, err = m.populate(ctx, crashID)
	m.logPopulate(crashID, false, started, err)
	return files, err
}

// cached 仅把 bundle 不存在视为未命中；其余读取错误原样返回，不会触发重新下载。
func (m *Manager) cached(crashID int) ([]string, bool, error) {
	if !m.store.Exists(crashID) {
		return nil, false, nil
	}
	files, err := m.store.ListFiles(crashID)
	if errors.Is(err, cache.ErrNotFound) {
		// bundle 恰好被清理
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("list cached attachments for crash %d: %w", crashID, err)
	}
	return files, true, nil
}

func (m *Manager) populate(ctx context.Context, crashID int) ([]string, error) {
	desc, err := m.source.ArchiveDescriptor(ctx, crashID)
	if err != nil {
		var attErr *Error
		if errors.As(err, &attErr) {
			return nil, err
		}
		return nil, newError(KindRemoteFetch, crashID, fmt.Sprintf("failed to query crash %d", crashID), err)
	}
	if err := checkSize(crashID, desc.Size); err != nil {
		return nil, err
	}
	if strings.TrimSpace(desc.URL) == "" {
		return nil, newError(KindRemoteFetch, crashID, fmt.Sprintf("crash %d has no attachment archive", crashID), nil)
	}

	data, err := m.download(ctx, crashID, desc.URL)
	if err != nil {
		return nil, err
	}

	staging, err := m.store.Stage(crashID)
	if err != nil {
		return nil, newError(KindExtraction, crashID, "failed to prepare cache directory", err)
	}
	defer staging.Discard()

	archivePath := filepath.Join(staging.Dir(), archiveName(crashID, m.now()))
	if err := atomic.WriteFile(archivePath, bytes.NewReader(data)); err != nil {
		return nil, newError(KindExtraction, crashID, "failed to write archive", err)
	}
	if err := extractArchive(archivePath, staging.Dir(), m.extractLimit); err != nil {
		return nil, newError(KindExtraction, crashID, fmt.Sprintf("failed to extract attachments for crash %d", crashID), err)
	}
	if err := os.Remove(archivePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, newError(KindExtraction, crashID, "failed to remove archive", err)
	}

	if err := staging.Commit(); err != nil && !errors.Is(err, cache.ErrBundleExists) {
		return nil, newError(KindExtraction, crashID, "failed to commit bundle", err)
	}

	files, err := m.store.ListFiles(crashID)
	if err != nil {
		return nil, newError(KindNotFound, crashID, fmt.Sprintf("bundle for crash %d disappeared", crashID), err)
	}
	return files, nil
}

// download 将归档完整读入内存，读取上限为 MaxArchiveSize+1 以识别虚报大小的响应。
func (m *Manager) download(ctx context.Context, crashID int, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, newError(KindRemoteFetch, crashID, "invalid archive url", err)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, newError(KindRemoteFetch, crashID, "archive download failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, newError(
			KindRemoteFetch,
			crashID,
			"archive download failed",
			fmt.Errorf("status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(body))),
		)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxArchiveSize+1))
	if err != nil {
		return nil, newError(KindRemoteFetch, crashID, "archive download interrupted", err)
	}
	if int64(len(data)) > MaxArchiveSize {
		return nil, sizeLimitError(crashID, int64(len(data)))
	}
	return data, nil
}

func checkSize(crashID int, size int64) error {
	if size > MaxArchiveSize {
		return sizeLimitError(crashID, size)
	}
	return nil
}

func sizeLimitError(crashID int, size int64) error {
	return newError(
		KindSizeLimitExceeded,
		crashID,
		fmt.Sprintf("Attachments zip file is too large to download (%d bytes, limit %d)", size, MaxArchiveSize),
		nil,
	)
}

// archiveName 生成 <crashId>-<epochMillis>.zip 形式的临时归档名。
func archiveName(crashID int, at time.Time) string {
	return fmt.Sprintf("%d-%d.zip", crashID, at.UnixMilli())
}

func (m *Manager) logPopulate(crashID int, hit bool, started time.Time, err error) {
	fields := logging.AttachmentFields(m.store.Database(), crashID, hit)
	if !started.IsZero() {
		fields["elapsed_ms"] = m.now().Sub(started).Milliseconds()
	}
	if err != nil {
		fields["error_kind"] = KindOf(err).String()
		m.logger.WithError(err).WithFields(fields).Warn("attachment_populate_failed")
		return
	}
	m.logger.WithFields(fields).Debug("attachment_populate")
}
