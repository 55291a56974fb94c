package attachment

import (
	"path/filepath"

	"github.com/gofiber/utils/v2"
)

const defaultContentType = "application/octet-stream"

// ContentType 根据文件扩展名推断 MIME 类型，未知类型返回 application/octet-stream。
func ContentType(name string) string {
	ext := filepath.Ext(name)
	if ext == "" {
		return defaultContentType
	}
	if mime := utils.GetMIME(ext); mime != "" {
		return mime
	}
	return defaultContentType
}
