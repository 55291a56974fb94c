package attachment

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/natefinch/atomic"
)

// errExtractLimit 表示解压后的累计字节数超过上限。
var errExtractLimit = errors.New("decompressed attachments exceed size limit")

// extractArchive 将 zip 中的全部条目解压到 dest，同名文件直接覆盖。
// 任何解析到 dest 之外的条目都会使整个解压失败；解压总字节数不得超过 limit。
func extractArchive(archivePath, dest string, limit int64) error {
	reader, err := zip.OpenReader(archivePath)
	if reader != nil {
		defer reader.Close()
	}
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}

	var declared uint64
	for _, file := range reader.File {
		declared += file.UncompressedSize64
		if declared > uint64(limit) {
			return fmt.Errorf("%w: declared %d bytes, limit %d", errExtractLimit, declared, limit)
		}
	}

	remaining := limit
	for _, file := range reader.File {
		name, err := entryName(file.Name)
		if err != nil {
			return err
		}
		if name == "" {
			continue
		}
		target := filepath.Join(dest, filepath.FromSlash(name))

		if file.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("create dir %s: %w", name, err)
			}
			continue
		}
		written, err := extractFile(file, target, remaining)
		if err != nil {
			return fmt.Errorf("extract %s: %w", name, err)
		}
		remaining -= written
	}
	return nil
}

// extractFile 最多写入 budget 字节；声明大小可能不实，按实际解压字节数计量。
func extractFile(file *zip.File, target string, budget int64) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return 0, err
	}
	rc, err := file.Open()
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	counter := &countingReader{r: io.LimitReader(rc, budget+1)}
	if err := atomic.WriteFile(target, counter); err != nil {
		return counter.n, err
	}
	if counter.n > budget {
		return counter.n, errExtractLimit
	}
	return counter.n, nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// entryName 规范化条目名：统一为 /、去掉前导 /，拒绝 .. 逃逸。
// 返回空串表示条目指向归档根目录本身，可跳过。
func entryName(raw string) (string, error) {
	name := strings.ReplaceAll(raw, `\`, "/")
	name = path.Clean("/" + name)
	name = strings.TrimPrefix(name, "/")
	if name == "" || name == "." {
		return "", nil
	}
	for _, part := range strings.Split(strings.ReplaceAll(raw, `\`, "/"), "/") {
		if part == ".." {
			return "", fmt.Errorf("illegal entry name %q", raw)
		}
	}
	return name, nil
}
