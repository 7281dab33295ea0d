package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"

	"github.com/qs3c/viral_go_server/internal/model"
)

// 外部检索服务的失败类型，每种对应不同的用户提示
var (
	ErrAuth            = errors.New("retrieval credential rejected")
	ErrTargetNotFound  = errors.New("retrieval target not found")
	ErrRateLimited     = errors.New("retrieval rate limited")
	ErrUpstream        = errors.New("retrieval upstream failure")
	ErrUnknownPlatform = errors.New("unknown platform")
)

// Request 一次检索
type Request struct {
	Platform    string
	Targets     []string // 单个用户名或批量 URL
	ResultLimit int
	DateFloor   string // YYYY-MM-DD，可为空
}

// Result 归一化后的帖子，Dropped 为校验失败被丢弃的条数
type Result struct {
	Posts   []*model.Post
	Dropped int
}

// Client 外部检索服务
type Client interface {
	Fetch(ctx context.Context, req Request) (*Result, error)
}

// Config HTTP 客户端配置
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	// Actors 平台到外部任务 ID 的映射
	Actors map[string]string
}

// HTTPClient 同步调用外部任务并读取其数据集
type HTTPClient struct {
	baseURL string
	actors  map[string]string
	http    *http.Client
}

func NewHTTPClient(cfg Config) *HTTPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token, TokenType: "Bearer"})
	return &HTTPClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		actors:  cfg.Actors,
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: &oauth2.Transport{Source: ts, Base: http.DefaultTransport},
		},
	}
}

func (c *HTTPClient) Fetch(ctx context.Context, req Request) (*Result, error) {
	actor, ok := c.actors[req.Platform]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlatform, req.Platform)
	}

	body, err := json.Marshal(buildInput(req))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal input: %w", err)
	}

	endpoint := fmt.Sprintf("%s/acts/%s/run-sync-get-dataset-items", c.baseURL, url.PathEscape(actor))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read body: %v", ErrUpstream, err)
	}

	if err := statusError(resp.StatusCode, data); err != nil {
		return nil, err
	}

	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: invalid json payload", ErrUpstream)
	}
	return Normalize(req.Platform, data)
}

// buildInput 各平台任务的输入格式不同
func buildInput(req Request) map[string]interface{} {
	input := map[string]interface{}{}
	switch req.Platform {
	case model.PlatformInstagram:
		input["username"] = req.Targets
		input["resultsLimit"] = req.ResultLimit
		if req.DateFloor != "" {
			input["onlyPostsNewerThan"] = req.DateFloor
		}
	case model.PlatformTikTok:
		input["profiles"] = req.Targets
		input["resultsPerPage"] = req.ResultLimit
		if req.DateFloor != "" {
			input["oldestPostDateUnified"] = req.DateFloor
		}
	}
	return input
}

func statusError(status int, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}

	msg := gjson.GetBytes(body, "error.message").String()
	if msg == "" {
		msg = http.StatusText(status)
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrAuth, msg)
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrTargetNotFound, msg)
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", ErrRateLimited, msg)
	default:
		return fmt.Errorf("%w: status %d: %s", ErrUpstream, status, msg)
	}
}
