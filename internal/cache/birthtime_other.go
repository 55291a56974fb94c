//go:build !linux

package cache

import (
	"io/fs"
	"time"
)

// CreatedAt 在没有 statx 的平台上退回 ModTime。
func CreatedAt(_ string, info fs.FileInfo) time.Time {
	return info.ModTime()
}
