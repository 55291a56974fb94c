package cache

import (
	"errors"
	"io/fs"
	"os"
)

// Staging 是一次填充的临时目录。调用方写入 Dir() 后调用 Commit 原子发布，
// 失败路径调用 Discard 清理；Commit 之后的 Discard 为空操作，便于 defer。
type Staging struct {
	dir       string
	target    string
	committed bool
}

// Dir 返回 staging 目录路径。
func (s *Staging) Dir() string {
	return s.dir
}

// Target 返回提交后的 bundle 目录路径。
func (s *Staging) Target() string {
	return s.target
}

// Commit 将 staging 目录 rename 为 bundle 目录。若目标已由其他填充者提交，
// 丢弃当前 staging 并返回 ErrBundleExists，已有 bundle 保持不变。
func (s *Staging) Commit() error {
	if s.committed {
		return nil
	}

	if _, err := os.Lstat(s.target); err == nil {
		_ = s.Discard()
		return ErrBundleExists
	}

	if err := os.Rename(s.dir, s.target); err != nil {
		if errors.Is(err, fs.ErrExist) {
			_ = s.Discard()
			return ErrBundleExists
		}
		return err
	}
	s.committed = true
	return nil
}

// Discard 删除未提交的 staging 目录。
func (s *Staging) Discard() error {
	if s.committed {
		return nil
	}
	if err := os.RemoveAll(s.dir); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
