package attachment

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/bugsplat-mcp/bugsplat-mcp/internal/cache"
)

// ReadFile 返回已填充 bundle 中指定文件的完整内容，不会触发下载。
// 名称按 bundle 目录拼接，逃逸出 bundle 的名称一律视为不存在。
func (m *Manager) ReadFile(crashID int, name string) ([]byte, error) {
	data, err := m.store.ReadFile(crashID, name)
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) || errors.Is(err, cache.ErrInvalidName) {
			return nil, newError(KindNotFound, crashID, "File not found", err)
		}
		return nil, fmt.Errorf("read %s for crash %d: %w", name, crashID, err)
	}
	return data, nil
}

// ListFiles 返回已填充 bundle 的文件列表，bundle 不存在时返回 KindNotFound。
func (m *Manager) ListFiles(crashID int) ([]string, error) {
	files, err := m.store.ListFiles(crashID)
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return nil, newError(KindNotFound, crashID, fmt.Sprintf("no attachments cached for crash %d", crashID), err)
		}
		return nil, err
	}
	return files, nil
}

// ListAllPopulated 列出磁盘上已有的全部 bundle 及其文件，用于在不下载的前提下公布资源。
func (m *Manager) ListAllPopulated() (map[int][]string, error) {
	names, err := m.store.ListBundles()
	if err != nil {
		return nil, err
	}

	populated := make(map[int][]string, len(names))
	for _, name := range names {
		id, err := strconv.Atoi(name)
		if err != nil || strconv.Itoa(id) != name {
			continue
		}
		files, err := m.store.ListFiles(id)
		if err != nil {
			if errors.Is(err, cache.ErrNotFound) {
				// 扫描过程中被清理
				continue
			}
			return nil, err
		}
		populated[id] = files
	}
	return populated, nil
}
