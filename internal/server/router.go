package server

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/bugsplat-mcp/bugsplat-mcp/internal/attachment"
)

// AttachmentService 是 HTTP 网关依赖的附件缓存能力，测试中可注入假实现。
type AttachmentService interface {
	Database() string
	EnsurePopulated(ctx context.Context, crashID int) ([]string, error)
	ReadFile(crashID int, name string) ([]byte, error)
	ListAllPopulated() (map[int][]string, error)
}

// AppOptions controls how the Fiber application should behave.
type AppOptions struct {
	Logger      *logrus.Logger
	Attachments AttachmentService
}

const contextKeyRequestID = "_bugsplat_request_id"

// NewApp builds a Fiber application exposing the attachment cache with
// request-id and panic recovery middleware.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Attachments == nil {
		return nil, errors.New("attachment service is required")
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
		UnescapePath:  true,
	})

	app.Use(recover.New())
	app.Use(requestContextMiddleware())

	h := &attachmentHandler{svc: opts.Attachments, logger: opts.Logger}
	app.Get("/attachments", h.listPopulated)
	app.Get("/attachments/:id", h.ensurePopulated)
	app.Get("/attachments/:id/*", h.readFile)

	return app, nil
}

// Serve 在 port 上运行 app，直到 ctx 取消后优雅关闭。启动横幅会写入 stdout，
// 与 MCP stdio 冲突，因此始终关闭。
func Serve(ctx context.Context, app *fiber.App, port int, logger *logrus.Logger) error {
	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port), fiber.ListenConfig{
		DisableStartupMessage: true,
		GracefulContext:       ctx,
		ShutdownTimeout:       5 * time.Second,
	})
}

// requestContextMiddleware 为每个请求生成请求 ID 并写入响应头。
func requestContextMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

type attachmentHandler struct {
	svc    AttachmentService
	logger *logrus.Logger
}

func (h *attachmentHandler) listPopulated(c fiber.Ctx) error {
	populated, err := h.svc.ListAllPopulated()
	if err != nil {
		return h.renderError(c, 0, err)
	}

	crashes := make(map[string][]string, len(populated))
	for id, files := range populated {
		crashes[strconv.Itoa(id)] = files
	}
	return c.JSON(fiber.Map{
		"database": h.svc.Database(),
		"crashes":  crashes,
	})
}

func (h *attachmentHandler) ensurePopulated(c fiber.Ctx) error {
	crashID, ok := parseCrashID(c.Params("id"))
	if !ok {
		return renderInvalidID(c, c.Params("id"))
	}

	files, err := h.svc.EnsurePopulated(c.Context(), crashID)
	if err != nil {
		return h.renderError(c, crashID, err)
	}
	return c.JSON(fiber.Map{
		"database": h.svc.Database(),
		"crash_id": crashID,
		"files":    files,
	})
}

func (h *attachmentHandler) readFile(c fiber.Ctx) error {
	crashID, ok := parseCrashID(c.Params("id"))
	if !ok {
		return renderInvalidID(c, c.Params("id"))
	}
	name := c.Params("*")

	data, err := h.svc.ReadFile(crashID, name)
	if err != nil {
		return h.renderError(c, crashID, err)
	}
	c.Set(fiber.HeaderContentType, attachment.ContentType(name))
	return c.Send(data)
}

func parseCrashID(raw string) (int, bool) {
	id, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func renderInvalidID(c fiber.Ctx, raw string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error":   "invalid_crash_id",
		"message": "Invalid crash ID " + raw,
	})
}

func (h *attachmentHandler) renderError(c fiber.Ctx, crashID int, err error) error {
	status, code := StatusForError(err)

	fields := logrus.Fields{
		"action":     "attachment_request",
		"request_id": RequestID(c),
		"crash_id":   crashID,
		"status":     status,
	}
	if status >= fiber.StatusInternalServerError {
		h.logger.WithError(err).WithFields(fields).Error("attachment request failed")
	} else {
		h.logger.WithError(err).WithFields(fields).Warn("attachment request rejected")
	}

	return c.Status(status).JSON(fiber.Map{
		"error":   code,
		"message": err.Error(),
	})
}

// StatusForError 将附件错误类别映射为 HTTP 状态码与错误码。
func StatusForError(err error) (int, string) {
	switch kind := attachment.KindOf(err); kind {
	case attachment.KindNotFound:
		return fiber.StatusNotFound, kind.String()
	case attachment.KindSizeLimitExceeded:
		return fiber.StatusRequestEntityTooLarge, kind.String()
	case attachment.KindRemoteFetch:
		return fiber.StatusBadGateway, kind.String()
	case attachment.KindExtraction:
		return fiber.StatusInternalServerError, kind.String()
	default:
		return fiber.StatusInternalServerError, "internal_error"
	}
}
