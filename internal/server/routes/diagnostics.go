package routes

import (
	"context"

	"github.com/gofiber/fiber/v3"

	"github.com/bugsplat-mcp/bugsplat-mcp/internal/attachment"
	"github.com/bugsplat-mcp/bugsplat-mcp/internal/version"
)

// Maintainer 提供诊断接口需要的缓存信息与清理能力。
type Maintainer interface {
	Database() string
	Root() string
	PurgeExpired(ctx context.Context) (attachment.PurgeResult, error)
}

// RegisterDiagnosticRoutes 暴露 /-/status 与 /-/purge 诊断接口，供运维查询缓存位置或手动触发清理。
func RegisterDiagnosticRoutes(app *fiber.App, maintainer Maintainer) {
	if app == nil || maintainer == nil {
		return
	}

	app.Get("/-/status", func(c fiber.Ctx) error {
		return c.JSON(statusPayload{
			Database:        maintainer.Database(),
			StorageRoot:     maintainer.Root(),
			Version:         version.Full(),
			RetentionDays:   int(attachment.RetentionWindow.Hours() / 24),
			MaxArchiveBytes: attachment.MaxArchiveSize,
		})
	})

	app.Post("/-/purge", func(c fiber.Ctx) error {
		result, err := maintainer.PurgeExpired(c.Context())
		payload := purgePayload{
			Scanned: result.Scanned,
			Removed: result.Removed,
		}
		if err != nil {
			payload.Error = err.Error()
			return c.Status(fiber.StatusInternalServerError).JSON(payload)
		}
		return c.JSON(payload)
	})
}

type statusPayload struct {
	Database        string `json:"database"`
	StorageRoot     string `json:"storage_root"`
	Version         string `json:"version"`
	RetentionDays   int    `json:"retention_days"`
	MaxArchiveBytes int64  `json:"max_archive_bytes"`
}

type purgePayload struct {
	Scanned int      `json:"scanned"`
	Removed []string `json:"removed"`
	Error   string   `json:"error,omitempty"`
}
