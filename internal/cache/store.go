package cache

import (
	"errors"
	"time"
)

// Store 负责管理附件缓存目录。磁盘布局遵循：
//
//	<StoragePath>/<Database>/<crashID>/<解压后的文件...>
//	<StoragePath>/<Database>/.staging-<crashID>-<uuid>/   # 填充中的临时目录
//
// 租户根目录在首次写入时才创建；bundle 一旦存在即视为完整。
type Store interface {
	// Root 返回当前数据库的缓存根目录（可能尚未创建）。
	Root() string

	// Database 返回租户（崩溃数据库）名称。
	Database() string

	// BundleDir 是纯函数：根据崩溃 ID 计算 bundle 目录，不做任何 I/O。
	BundleDir(crashID int) string

	// Exists 当且仅当 bundle 目录存在时返回 true。
	Exists(crashID int) bool

	// ListBundles 列出根目录下已提交的 bundle 目录名；根目录不存在时返回空切片。
	ListBundles() ([]string, error)

	// ListFiles 列出 bundle 目录的直接子项（按名称排序）；bundle 不存在时返回 ErrNotFound。
	ListFiles(crashID int) ([]string, error)

	// ReadFile 读取 bundle 内的文件，文件或 bundle 不存在时返回 ErrNotFound。
	ReadFile(crashID int, name string) ([]byte, error)

	// Entries 返回根目录下的所有条目（包含残留的 staging 目录），供清理逻辑使用。
	Entries() ([]Entry, error)

	// Stage 在根目录下创建一个新的 staging 目录，提交时 rename 为 bundle 目录。
	Stage(crashID int) (*Staging, error)

	// RemoveEntry 递归删除根目录下名为 name 的条目，目标不存在时不视为错误。
	RemoveEntry(name string) error

	// Lock 获取 crashID 级别的互斥锁，返回解锁函数。
	Lock(crashID int) func()
}

// Options 显式注入缓存根目录与租户，避免在调用时读取全局环境。
type Options struct {
	BasePath string
	Database string
}

// Entry 描述根目录下的一个条目及其时间戳。
type Entry struct {
	Name      string
	Path      string
	IsDir     bool
	CreatedAt time.Time
	ModTime   time.Time
}

var (
	// ErrNotFound 表示 bundle 或其中的文件不存在。
	ErrNotFound = errors.New("attachment not found")

	// ErrInvalidName 表示文件名解析后落在 bundle 目录之外。
	ErrInvalidName = errors.New("invalid attachment name")

	// ErrBundleExists 表示提交时目标 bundle 已被其他填充者写入。
	ErrBundleExists = errors.New("bundle already exists")
)
