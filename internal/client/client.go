package client

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

	"github.com/seomaster/report_server/internal/model/dto"
	"github.com/seomaster/report_server/internal/poller"
)

const defaultTimeout = 30 * time.Second

// APIError 服务端返回的错误信封
type APIError struct {
	StatusCode int
	Code       int
	Message    string
	Data       json.RawMessage
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (HTTP %d, code %d)", e.Message, e.StatusCode, e.Code)
}

// IsNotFound 报告不存在或不属于当前用户
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// IsUnauthorized 未登录或令牌失效
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Client 报告服务 REST 客户端
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func New(baseURL, token string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

// WithHTTPClient 替换底层 http.Client
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

func (c *Client) SetToken(token string) {
	c.token = token
}

// Login 登录并在客户端保存令牌
func (c *Client) Login(ctx context.Context, email, password string) (*dto.LoginResponse, error) {
	var resp dto.LoginResponse
	if err := c.do(ctx, http.MethodPost, "/api/auth/login", &dto.LoginRequest{Email: email, Password: password}, &resp); err != nil {
		return nil, err
	}
	c.token = resp.Token
	return &resp, nil
}

func (c *Client) Me(ctx context.Context) (*dto.UserInfo, error) {
	var user dto.UserInfo
	if err := c.do(ctx, http.MethodGet, "/api/auth/me", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (c *Client) CreateReport(ctx context.Context, website, options string) (*dto.ReportMeta, error) {
	var meta dto.ReportMeta
	req := &dto.CreateReportRequest{Website: website, Options: options}
	if err := c.do(ctx, http.MethodPost, "/api/reports", req, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

func (c *Client) ListReports(ctx context.Context) ([]*dto.ReportMeta, error) {
	var items []*dto.ReportMeta
	if err := c.do(ctx, http.MethodGet, "/api/reports", nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// GetReport 读取报告；statusOnly 响应只填充 id/status/时间字段
func (c *Client) GetReport(ctx context.Context, id string, mode poller.Mode) (*dto.ReportDetail, error) {
	q := url.Values{}
	switch mode {
	case poller.ModeReanalyze:
		q.Set("reanalyze", "true")
	case poller.ModeStatusOnly:
		q.Set("statusOnly", "true")
	}

	path := "/api/reports/" + url.PathEscape(id)
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var detail dto.ReportDetail
	if err := c.do(ctx, http.MethodGet, path, nil, &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

// Fetch 供 poller 使用
func (c *Client) Fetch(ctx context.Context, id string, mode poller.Mode) (*dto.ReportDetail, error) {
	return c.GetReport(ctx, id, mode)
}

// UpdateReport 整体替换 reportData，供 override.Editor 保存
func (c *Client) UpdateReport(ctx context.Context, id string, reportData map[string]interface{}) (*dto.ReportDetail, error) {
	var detail dto.ReportDetail
	req := &dto.UpdateReportRequest{ReportData: reportData}
	if err := c.do(ctx, http.MethodPatch, "/api/reports/"+url.PathEscape(id), req, &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

func (c *Client) DeleteReport(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/reports/"+url.PathEscape(id), nil, nil)
}

func (c *Client) ReportJobs(ctx context.Context, id string) ([]*dto.ReportJobInfo, error) {
	var jobs []*dto.ReportJobInfo
	if err := c.do(ctx, http.MethodGet, "/api/reports/"+url.PathEscape(id)+"/jobs", nil, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

func (c *Client) PublicReport(ctx context.Context, id string) (*dto.PublicReport, error) {
	var report dto.PublicReport
	if err := c.do(ctx, http.MethodGet, "/api/reports/public/"+url.PathEscape(id), nil, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		if resp.StatusCode >= 400 {
			return &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		}
		return fmt.Errorf("malformed response: %w", err)
	}

	if resp.StatusCode >= 400 || env.Code != 0 {
		return &APIError{
			StatusCode: resp.StatusCode,
			Code:       env.Code,
			Message:    env.Message,
			Data:       env.Data,
		}
	}

	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("malformed response data: %w", err)
	}
	return nil
}
