package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/seomaster/report_server/config"
)

var ErrMissingData = errors.New("analysis response missing data")

// StatusError 分析服务返回非 2xx
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("Backend returned status %d", e.StatusCode)
}

type analyzeRequest struct {
	URL      string `json:"url"`
	ReportID string `json:"reportId"`
}

type analyzeResponse struct {
	Data json.RawMessage `json:"data"`
}

// Client 外部 SEO 分析服务客户端
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// NewClient timeout 为 0 时不设超时，分析可能持续数分钟
func NewClient(cfg *config.AnalyzerConfig) *Client {
	return &Client{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// Analyze 请求分析并返回 data 字段
func (c *Client) Analyze(ctx context.Context, website, reportID string) (map[string]interface{}, error) {
	body, err := json.Marshal(analyzeRequest{URL: website, ReportID: reportID})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/api/analyze", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("analysis request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return nil, &StatusError{StatusCode: resp.StatusCode}
	}

	var result analyzeResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("malformed analysis response: %w", err)
	}
	if len(result.Data) == 0 || string(result.Data) == "null" {
		return nil, ErrMissingData
	}

	var data map[string]interface{}
	if err := json.Unmarshal(result.Data, &data); err != nil {
		return nil, fmt.Errorf("malformed analysis response: %w", err)
	}

	return data, nil
}
