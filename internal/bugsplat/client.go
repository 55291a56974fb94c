// Package bugsplat 封装 BugSplat REST API 中附件缓存需要的部分：鉴权与崩溃详情查询。
package bugsplat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bugsplat-mcp/bugsplat-mcp/internal/config"
)

// tokenRefreshMargin 在过期前提前刷新 token，避免请求途中失效。
const tokenRefreshMargin = 30 * time.Second

// Client 访问 BugSplat REST API，按 client-credentials 方式获取并缓存 token。
type Client struct {
	baseURL      string
	database     string
	clientID     string
	clientSecret string

	http   *http.Client
	logger *logrus.Logger
	now    func() time.Time

	mu    sync.Mutex
	token *accessToken
}

type accessToken struct {
	value     string
	tokenType string
	expiresAt time.Time
}

// Option 用于在构造时覆盖默认行为。
type Option func(*Client)

// WithClock 注入时钟，主要用于测试 token 过期。
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger 指定日志实例。
func WithLogger(logger *logrus.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient 基于 BugSplat 配置构建客户端，httpClient 通常来自 server.NewUpstreamClient。
func NewClient(cfg config.BugSplatConfig, httpClient *http.Client, opts ...Option) (*Client, error) {
	if cfg.Database == "" {
		return nil, errors.New("bugsplat database is required")
	}
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("bugsplat client credentials are required")
	}
	if httpClient == nil {
		return nil, errors.New("http client is required")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("invalid bugsplat base url: %q", cfg.BaseURL)
	}

	client := &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		database:     cfg.Database,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		http:         httpClient,
		logger:       logrus.StandardLogger(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// Database 返回客户端绑定的数据库名。
func (c *Client) Database() string {
	return c.database
}

// authorization 返回可直接写入 Authorization 头的值，必要时刷新 token。
// 并发调用方在锁内共享同一次刷新。
func (c *Client) authorization(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != nil && c.now().Before(c.token.expiresAt) {
		return c.token.header(), nil
	}

	token, err := c.fetchToken(ctx)
	if err != nil {
		return "", err
	}
	c.token = token
	return token.header(), nil
}

// invalidate 丢弃缓存的 token，下次请求时重新获取。
func (c *Client) invalidate() {
	c.mu.Lock()
	c.token = nil
	c.mu.Unlock()
}

func (c *Client) fetchToken(ctx context.Context) (*accessToken, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)
	form.Set("scope", "restricted")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/oauth2/authorize", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, newStatusError("token request", resp)
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return nil, errors.New("token response missing access_token")
	}

	tokenType := tokenResp.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	lifetime := time.Duration(tokenResp.ExpiresIn) * time.Second
	if lifetime <= 0 {
		lifetime = time.Hour
	}
	if lifetime > 2*tokenRefreshMargin {
		lifetime -= tokenRefreshMargin
	}
	expiresAt := c.now().Add(lifetime)

	c.logger.WithFields(logrus.Fields{
		"action":     "bugsplat_auth",
		"database":   c.database,
		"expires_in": tokenResp.ExpiresIn,
	}).Debug("bugsplat token refreshed")

	return &accessToken{
		value:     tokenResp.AccessToken,
		tokenType: tokenType,
		expiresAt: expiresAt,
	}, nil
}

func (t *accessToken) header() string {
	return t.tokenType + " " + t.value
}

// getJSON 以授权身份请求 path 并把响应解码到 out；401 时刷新 token 重试一次。
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	for attempt := 0; ; attempt++ {
		auth, err := c.authorization(ctx)
		if err != nil {
			return err
		}

		target := c.baseURL + path
		if len(query) > 0 {
			target += "?" + query.Encode()
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", auth)
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("request %s failed: %w", path, err)
		}

		if resp.StatusCode == http.StatusUnauthorized && attempt == 0 {
			resp.Body.Close()
			c.invalidate()
			c.logger.WithFields(logrus.Fields{
				"action":   "bugsplat_auth_retry",
				"database": c.database,
				"path":     path,
			}).Warn("bugsplat token rejected, retrying")
			continue
		}

		err = decodeResponse(path, resp, out)
		resp.Body.Close()
		return err
	}
}

func decodeResponse(path string, resp *http.Response, out interface{}) error {
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return newStatusError("request "+path, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// StatusError 表示 BugSplat 返回了非 2xx 状态码。
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s failed: status=%d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s failed: status=%d body=%s", e.Op, e.StatusCode, e.Body)
}

func newStatusError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return &StatusError{
		Op:         op,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(body)),
	}
}
