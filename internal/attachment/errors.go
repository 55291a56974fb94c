package attachment

import (
	"errors"
	"fmt"
)

// ErrorKind 对附件缓存的失败进行分类，边界层据此映射状态码或 isError 结果。
type ErrorKind int

const (
	// KindSizeLimitExceeded 表示归档大小超过 MaxArchiveSize，未发生下载。
	KindSizeLimitExceeded ErrorKind = iota + 1
	// KindNotFound 表示读取路径上的 bundle 或文件不存在。
	KindNotFound
	// KindRemoteFetch 表示查询崩溃信息或下载归档失败。
	KindRemoteFetch
	// KindExtraction 表示归档无法解析或解压。
	KindExtraction
)

func (k ErrorKind) String() string {
	switch k {
	case KindSizeLimitExceeded:
		return "size_limit_exceeded"
	case KindNotFound:
		return "not_found"
	case KindRemoteFetch:
		return "remote_fetch_failed"
	case KindExtraction:
		return "extraction_failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Error 是附件缓存对外暴露的唯一错误类型，Message 面向人类阅读。
type Error struct {
	Kind    ErrorKind
	CrashID int
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap 返回底层原因，使 errors.Is(err, cache.ErrNotFound) 之类的判断继续成立。
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsKind 判断 err 链上是否存在指定类别的 *Error。
func IsKind(err error, kind ErrorKind) bool {
	var attErr *Error
	if errors.As(err, &attErr) {
		return attErr.Kind == kind
	}
	return false
}

// KindOf 返回 err 的类别；非 *Error 时返回 0。
func KindOf(err error) ErrorKind {
	var attErr *Error
	if errors.As(err, &attErr) {
		return attErr.Kind
	}
	return 0
}

func newError(kind ErrorKind, crashID int, message string, cause error) *Error {
	return &Error{
		Kind:    kind,
		CrashID: crashID,
		Message: message,
		Cause:   cause,
	}
}
