package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bugsplat-mcp/bugsplat-mcp/internal/bugsplat"
	"github.com/bugsplat-mcp/bugsplat-mcp/internal/version"
)

// maxMessageSize 限制单行 JSON-RPC 消息大小。
const maxMessageSize = 4 * 1024 * 1024

// Attachments 是服务端依赖的附件缓存能力，*attachment.Manager 满足该接口。
type Attachments interface {
	Database() string
	EnsurePopulated(ctx context.Context, crashID int) ([]string, error)
	ReadFile(crashID int, name string) ([]byte, error)
	ListAllPopulated() (map[int][]string, error)
}

// Issues 是崩溃查询工具依赖的 BugSplat 接口，*bugsplat.Client 满足该接口。
type Issues interface {
	GetIssue(ctx context.Context, crashID int) (bugsplat.Issue, error)
	ListIssues(ctx context.Context, filter bugsplat.IssueFilter) ([]bugsplat.IssueRow, error)
	GetSummary(ctx context.Context, filter bugsplat.SummaryFilter) ([]bugsplat.SummaryRow, error)
}

// Server 通过按行分隔的 stdio JSON-RPC 暴露附件工具、崩溃查询工具与资源。
type Server struct {
	attachments Attachments
	issues      Issues
	logger      *logrus.Logger
	initialized atomic.Bool
}

// Option 调整 Server 的可选依赖。
type Option func(*Server)

// WithIssues 启用 get-issues、get-issue 与 get-summary 工具。
func WithIssues(issues Issues) Option {
	return func(s *Server) {
		s.issues = issues
	}
}

// NewServer 构造 MCP 服务端，logger 为空时使用全局 logger。
func NewServer(attachments Attachments, logger *logrus.Logger, opts ...Option) (*Server, error) {
	if attachments == nil {
		return nil, errors.New("attachments are required")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &Server{attachments: attachments, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// lockedEncoder 串行化并发请求的响应写入，避免 JSON 行交错。
type lockedEncoder struct {
	mu      sync.Mutex
	encoder *json.Encoder
}

func (e *lockedEncoder) Encode(v any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.encoder.Encode(v)
}

// Run 从 input 读取请求并向 output 写入响应，直到 input EOF 或 ctx 取消。
// initialize 同步处理，其余请求并发执行；返回前等待所有在途请求完成。
func (s *Server) Run(ctx context.Context, input io.Reader, output io.Writer) error {
	scanner := bufio.NewScanner(input)
	scanner.Buffer(make([]byte, 0, 64*1024), maxMessageSize)
	encoder := &lockedEncoder{encoder: json.NewEncoder(output)}

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		writeErr error
	)
	recordErr := func(err error) {
		errOnce.Do(func() { writeErr = err })
	}

	for scanner.Scan() {
		if ctx.Err() != nil {
			break
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var req request
		if err := json.Unmarshal(line, &req); err != nil {
			if err := writeError(encoder, json.RawMessage("null"), codeParseError, "parse error: "+err.Error()); err != nil {
				recordErr(err)
				break
			}
			continue
		}
		if req.JSONRPC != "2.0" {
			if !req.isNotification() {
				if err := writeError(encoder, req.ID, codeInvalidRequest, "unsupported JSON-RPC version"); err != nil {
					recordErr(err)
					break
				}
			}
			continue
		}
		if req.isNotification() {
			continue
		}

		if req.Method == "initialize" {
			if err := s.dispatch(ctx, encoder, &req); err != nil {
				recordErr(err)
				break
			}
			continue
		}

		wg.Add(1)
		go func(req request) {
			defer wg.Done()
			if err := s.dispatch(ctx, encoder, &req); err != nil {
				recordErr(err)
			}
		}(req)
	}

	wg.Wait()
	if writeErr != nil {
		return writeErr
	}
	return scanner.Err()
}

func (s *Server) dispatch(ctx context.Context, encoder *lockedEncoder, req *request) error {
	started := time.Now()
	defer func() {
		s.logger.WithFields(logrus.Fields{
			"action":     "mcp_request",
			"method":     req.Method,
			"elapsed_ms": time.Since(started).Milliseconds(),
		}).Debug("mcp request handled")
	}()

	switch req.Method {
	case "initialize":
		return s.handleInitialize(encoder, req)
	case "ping":
		return writeResult(encoder, req.ID, map[string]any{})
	}

	if !s.initialized.Load() {
		return writeError(encoder, req.ID, codeInvalidRequest, "server not initialized (call initialize first)")
	}

	switch req.Method {
	case "tools/list":
		return s.handleToolsList(encoder, req)
	case "tools/call":
		return s.handleToolsCall(ctx, encoder, req)
	case "resources/list":
		return s.handleResourcesList(encoder, req)
	case "resources/templates/list":
		return s.handleResourceTemplatesList(encoder, req)
	case "resources/read":
		return s.handleResourcesRead(encoder, req)
	default:
		return writeError(encoder, req.ID, codeMethodNotFound, "unknown method: "+req.Method)
	}
}

func (s *Server) handleInitialize(encoder *lockedEncoder, req *request) error {
	if len(req.Params) == 0 {
		return writeError(encoder, req.ID, codeInvalidParams, "params required for initialize")
	}
	var params initializeParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return writeError(encoder, req.ID, codeInvalidParams, "invalid initialize params: "+err.Error())
	}

	s.initialized.Store(true)
	s.logger.WithFields(logrus.Fields{
		"action":         "mcp_initialize",
		"client":         params.ClientInfo.Name,
		"client_version": params.ClientInfo.Version,
		"protocol":       params.ProtocolVersion,
	}).Info("mcp client connected")

	return writeResult(encoder, req.ID, initializeResult{
		ProtocolVersion: protocolVersion,
		Capabilities: serverCapabilities{
			Tools:     &listCapability{},
			Resources: &listCapability{},
		},
		ServerInfo: serverInfo{
			Name:    version.Name,
			Version: version.Version,
		},
	})
}

func writeResult(encoder *lockedEncoder, id json.RawMessage, result any) error {
	return encoder.Encode(response{
		JSONRPC: "2.0",
		ID:      id,
		Result:  result,
	})
}

func writeError(encoder *lockedEncoder, id json.RawMessage, code int, message string) error {
	return encoder.Encode(response{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &rpcError{Code: code, Message: message},
	})
}
