package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
)

const stagingPrefix = ".staging-"

// NewStore 以 BasePath/Database 为根目录构建附件缓存，整个进程复用一份实例。
// 与上游代理缓存不同，这里不会预先创建目录：根目录在首次写入时才出现。
func NewStore(opts Options) (Store, error) {
	if opts.BasePath == "" {
		return nil, errors.New("storage path required")
	}
	if opts.Database == "" {
		return nil, errors.New("database required")
	}
	if strings.ContainsAny(opts.Database, `/\`) || opts.Database == "." || opts.Database == ".." {
		return nil, fmt.Errorf("invalid database name: %q", opts.Database)
	}

	abs, err := filepath.Abs(opts.BasePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	return &fileStore{
		root:     filepath.Join(abs, opts.Database),
		database: opts.Database,
		locks:    make(map[int]*entryLock),
	}, nil
}

// fileStore 通过 entryLock 避免同一崩溃 ID 并发填充。
type fileStore struct {
	root     string
	database string

	mu    sync.Mutex
	locks map[int]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

func (s *fileStore) Root() string {
	return s.root
}

func (s *fileStore) Database() string {
	return s.database
}

func (s *fileStore) BundleDir(crashID int) string {
	return filepath.Join(s.root, strconv.Itoa(crashID))
}

func (s *fileStore) Exists(crashID int) bool {
	info, err := os.Stat(s.BundleDir(crashID))
	return err == nil && info.IsDir()
}

func (s *fileStore) ListBundles() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		names = append(names, entry.Name())
	}
	return names, nil
}

func (s *fileStore) ListFiles(crashID int) ([]string, error) {
	entries, err := os.ReadDir(s.BundleDir(crashID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	return names, nil
}

func (s *fileStore) ReadFile(crashID int, name string) ([]byte, error) {
	filePath, err := s.filePath(crashID, name)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, ErrNotFound
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

func (s *fileStore) Entries() ([]Entry, error) {
	dirEntries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	entries := make([]Entry, 0, len(dirEntries))
	for _, dirEntry := range dirEntries {
		entryPath := filepath.Join(s.root, dirEntry.Name())
		info, err := os.Lstat(entryPath)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				// 已被并发清理
				continue
			}
			return nil, err
		}
		entries = append(entries, Entry{
			Name:      dirEntry.Name(),
			Path:      entryPath,
			IsDir:     info.IsDir(),
			CreatedAt: CreatedAt(entryPath, info),
			ModTime:   info.ModTime(),
		})
	}
	return entries, nil
}

func (s *fileStore) Stage(crashID int) (*Staging, error) {
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return nil, fmt.Errorf("create cache root: %w", err)
	}

	dir := filepath.Join(s.root, fmt.Sprintf("%s%d-%s", stagingPrefix, crashID, uuid.NewString()))
	if err := os.Mkdir(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}

	return &Staging{
		dir:    dir,
		target: s.BundleDir(crashID),
	}, nil
}

func (s *fileStore) RemoveEntry(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return ErrInvalidName
	}
	if err := os.RemoveAll(filepath.Join(s.root, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (s *fileStore) Lock(crashID int) func() {
	s.mu.Lock()
	lock := s.locks[crashID]
	if lock == nil {
		lock = &entryLock{}
		s.locks[crashID] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, crashID)
		}
		s.mu.Unlock()
	}
}

// filePath 沿用 root + crashID + name 的寻址方式，但拒绝解析到 bundle 之外的名称。
func (s *fileStore) filePath(crashID int, name string) (string, error) {
	if name == "" {
		return "", ErrInvalidName
	}

	bundle := s.BundleDir(crashID)
	filePath := filepath.Join(bundle, filepath.FromSlash(name))
	rel, err := filepath.Rel(bundle, filePath)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrInvalidName
	}
	return filePath, nil
}

// IsStagingName 判断根目录下的条目是否为填充中的 staging 目录。
func IsStagingName(name string) bool {
	return strings.HasPrefix(name, stagingPrefix)
}
