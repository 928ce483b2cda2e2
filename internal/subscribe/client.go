// Package subscribe 拉取订阅列表
package subscribe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"requestx/internal/logger"
	"requestx/pkg/rulespec"

	"github.com/tidwall/gjson"
)

// DefaultTimeout 单次拉取的超时
const DefaultTimeout = 10 * time.Second

// maxBody 订阅内容的大小上限
const maxBody = 8 << 20

// ErrInvalidListData 订阅内容不是合法列表
var ErrInvalidListData = errors.New("invalid list data")

// HTTPError 非 2xx 响应
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("subscription responded %d", e.Status)
}

// Client 订阅客户端
type Client struct {
	http *http.Client
	log  logger.Logger
	now  func() time.Time
}

// NewClient 创建订阅客户端
func NewClient(timeout time.Duration, l logger.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if l == nil {
		l = logger.NewNop()
	}
	return &Client{
		http: &http.Client{Timeout: timeout},
		log:  l,
		now:  time.Now,
	}
}

// FetchListData 拉取并规范化订阅列表
// type 缺省为 request；name 可为空，由调用方决定是否保留原名；lastUpdated 取拉取时间
func (c *Client) FetchListData(ctx context.Context, url string) (*rulespec.ListData, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	c.log.Debug("拉取订阅", "url", url)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{Status: resp.StatusCode, Body: string(body)}
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: malformed json", ErrInvalidListData)
	}

	data, err := rulespec.DecodeList(body)
	if err != nil {
		return nil, fmt.Errorf("%w: missing rules", ErrInvalidListData)
	}
	data.ID = 0
	data.Name = gjson.GetBytes(body, "name").String()
	data.SubscribeURL = ""
	data.LastUpdated = c.now().UnixMilli()
	c.log.Debug("订阅已拉取", "url", url, "type", data.Type, "rules", len(data.Rules))
	return &data, nil
}
