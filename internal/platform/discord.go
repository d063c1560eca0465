package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// discordEpoch 雪花 ID 的起始时间（毫秒）
const discordEpoch = 1420070400000

// ErrNotFound 平台上不存在该对象
var ErrNotFound = errors.New("平台对象不存在")

// Client Discord REST API 客户端（只读查询）
type Client struct {
	token      string
	baseURL    string
	cdnURL     string
	maxRetries int
	client     *http.Client
}

// Config 客户端配置
type Config struct {
	Token      string
	BaseURL    string
	CDNURL     string
	Timeout    time.Duration
	MaxRetries int
}

// NewClient 创建客户端
func NewClient(cfg *Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://discord.com/api/v10"
	}
	if cfg.CDNURL == "" {
		cfg.CDNURL = "https://cdn.discordapp.com"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}

	return &Client{
		token:      cfg.Token,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		cdnURL:     strings.TrimRight(cfg.CDNURL, "/"),
		maxRetries: cfg.MaxRetries,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// IsConfigured 检查是否已配置 token
func (c *Client) IsConfigured() bool {
	return c != nil && c.token != ""
}

// User 平台用户
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
}

// Guild 服务器
type Guild struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	OwnerID string `json:"owner_id"`
	Icon    string `json:"icon"`
}

// Member 服务器成员
type Member struct {
	JoinedAt time.Time `json:"joined_at"`
}

// User 查询用户
func (c *Client) User(ctx context.Context, id string) (*User, error) {
	var u User
	if err := c.getWithRetry(ctx, "/users/"+id, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// Guild 查询服务器
func (c *Client) Guild(ctx context.Context, id string) (*Guild, error) {
	var g Guild
	if err := c.getWithRetry(ctx, "/guilds/"+id, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// Member 查询成员
func (c *Client) Member(ctx context.Context, guildID, userID string) (*Member, error) {
	var m Member
	if err := c.getWithRetry(ctx, "/guilds/"+guildID+"/members/"+userID, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// AvatarURL 用户头像地址；未设置头像返回空串
func (c *Client) AvatarURL(u *User) string {
	if u == nil || u.Avatar == "" {
		return ""
	}
	return fmt.Sprintf("%s/avatars/%s/%s.png", c.cdnURL, u.ID, u.Avatar)
}

// IconURL 服务器图标地址；未设置图标返回空串
func (c *Client) IconURL(g *Guild) string {
	if g == nil || g.Icon == "" {
		return ""
	}
	return fmt.Sprintf("%s/icons/%s/%s.png", c.cdnURL, g.ID, g.Icon)
}

// SnowflakeTime 从雪花 ID 解析创建时间（UTC）
func SnowflakeTime(id string) (time.Time, error) {
	n, err := strconv.ParseUint(id, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("无效的雪花 ID %q: %w", id, err)
	}
	return time.UnixMilli(int64(n>>22) + discordEpoch).UTC(), nil
}

// apiError 非 2xx 响应
type apiError struct {
	status     int
	retryAfter time.Duration
}

func (e *apiError) Error() string {
	return fmt.Sprintf("API 错误: %d %s", e.status, http.StatusText(e.status))
}

// getWithRetry 限流与 5xx 时重试（指数退避，优先使用 Retry-After）
func (c *Client) getWithRetry(ctx context.Context, path string, out any) error {
	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		err := c.get(ctx, path, out)
		if err == nil {
			return nil
		}
		lastErr = err

		var apiErr *apiError
		if !errors.As(err, &apiErr) || !retryable(apiErr.status) {
			return err
		}

		backoff := time.Duration(1<<uint(i)) * 500 * time.Millisecond
		if apiErr.retryAfter > 0 {
			backoff = apiErr.retryAfter
		}
		slog.Warn("平台 API 调用失败，准备重试", "path", path, "attempt", i+1, "backoff", backoff, "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return fmt.Errorf("达到最大重试次数 (%d): %w", c.maxRetries, lastErr)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Authorization", "Bot "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("发送请求失败: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("读取响应失败: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		slog.Error("平台 API 错误", "path", path, "status", resp.StatusCode, "body", string(body))
		return &apiError{status: resp.StatusCode, retryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("解析响应失败: %w", err)
	}
	return nil
}

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}
