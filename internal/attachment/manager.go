package attachment

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bugsplat-mcp/bugsplat-mcp/internal/cache"
)

const (
	// MaxArchiveSize 是允许下载的归档上限（50 MiB），与上报大小及实际下载字节数比较。
	MaxArchiveSize int64 = 50 * 1024 * 1024

	// RetentionWindow 是 bundle 在磁盘上的保留时长。
	RetentionWindow = 14 * 24 * time.Hour

	// MaxExtractedSize 限制单个 bundle 解压后的总字节数，防止压缩炸弹写满磁盘。
	MaxExtractedSize int64 = 20 * MaxArchiveSize
)

// ArchiveDescriptor 是一次填充所需的远端归档信息，仅在填充过程中使用。
type ArchiveDescriptor struct {
	URL  string
	Size int64
}

// DescriptorSource 根据崩溃 ID 提供归档下载地址与上报大小。
type DescriptorSource interface {
	ArchiveDescriptor(ctx context.Context, crashID int) (ArchiveDescriptor, error)
}

// DescriptorSourceFunc 将函数适配为 DescriptorSource，便于测试注入。
type DescriptorSourceFunc func(ctx context.Context, crashID int) (ArchiveDescriptor, error)

// ArchiveDescriptor makes DescriptorSourceFunc satisfy DescriptorSource.
func (f DescriptorSourceFunc) ArchiveDescriptor(ctx context.Context, crashID int) (ArchiveDescriptor, error) {
	return f(ctx, crashID)
}

// Options 汇总 Manager 的依赖，Now 为空时使用 time.Now。
// MaxExtractedSize 为 0 时使用包级默认值。
type Options struct {
	Store            cache.Store
	Source           DescriptorSource
	Client           *http.Client
	Logger           *logrus.Logger
	Now              func() time.Time
	MaxExtractedSize int64
}

// Manager 负责附件 bundle 的填充、读取与过期清理，整个进程共享一份实例。
type Manager struct {
	store        cache.Store
	source       DescriptorSource
	client       *http.Client
	logger       *logrus.Logger
	now          func() time.Time
	retention    cache.RetentionPolicy
	extractLimit int64
}

// NewManager 校验依赖并构造 Manager。
func NewManager(opts Options) (*Manager, error) {
	if opts.Store == nil {
		return nil, errors.New("cache store is required")
	}
	if opts.Source == nil {
		return nil, errors.New("descriptor source is required")
	}
	if opts.Client == nil {
		return nil, errors.New("http client is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	extractLimit := opts.MaxExtractedSize
	if extractLimit <= 0 {
		extractLimit = MaxExtractedSize
	}

	return &Manager{
		store:        opts.Store,
		source:       opts.Source,
		client:       opts.Client,
		logger:       logger,
		now:          now,
		retention:    cache.NewRetentionPolicy(RetentionWindow).WithClock(now),
		extractLimit: extractLimit,
	}, nil
}

// Database 返回当前租户名称。
func (m *Manager) Database() string {
	return m.store.Database()
}

// Root 返回当前租户的缓存根目录。
func (m *Manager) Root() string {
	return m.store.Root()
}
