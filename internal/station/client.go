package station

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"panel-tracker/internal/types"
	"panel-tracker/internal/util"
)

// Client 是工位终端访问编排服务的 HTTP 客户端
type Client struct {
	Endpoint string       // 编排服务地址 (e.g., http://localhost:8080)
	HTTP     *http.Client // HTTP 客户端
	logger   *slog.Logger
}

// NewClient 创建一个新的编排服务客户端
func NewClient(endpoint string, logger *slog.Logger) *Client {
	return &Client{
		Endpoint: strings.TrimRight(endpoint, "/"),
		HTTP:     &http.Client{Timeout: 5 * time.Second}, // 设置 5 秒超时
		logger:   logger.With("component", "orchestrator-client"),
	}
}

type nextPanelResponse struct {
	PanelID string `json:"panel_id"`
}

type inspectionRequest struct {
	StationID  types.StationID `json:"station_id"`
	Result     types.Verdict   `json:"result"`
	Criteria   map[string]bool `json:"criteria"`
	OperatorID string          `json:"operator_id"`
	Notes      string          `json:"notes,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NextPanel 查询工站队首面板，队列为空时 ok 为 false
func (c *Client) NextPanel(ctx context.Context, station types.StationID) (string, bool, error) {
	path := fmt.Sprintf("/api/stations/%s/next", url.PathEscape(string(station)))
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return "", false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return "", false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return "", false, responseError(resp)
	}
	var out nextPanelResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", false, fmt.Errorf("解析响应失败: %w", err)
	}
	return out.PanelID, true, nil
}

// SubmitInspection 提交质检结果并返回路由结论
func (c *Client) SubmitInspection(ctx context.Context, panelID string, outcome types.InspectionOutcome) (types.InspectionResult, error) {
	body, err := json.Marshal(inspectionRequest{
		StationID:  outcome.StationID,
		Result:     outcome.Result,
		Criteria:   outcome.Criteria,
		OperatorID: outcome.OperatorID,
		Notes:      outcome.Notes,
	})
	if err != nil {
		return types.InspectionResult{}, err
	}

	path := fmt.Sprintf("/api/panels/%s/inspections", url.PathEscape(panelID))
	resp, err := c.do(ctx, http.MethodPost, path, body)
	if err != nil {
		return types.InspectionResult{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return types.InspectionResult{}, responseError(resp)
	}
	var result types.InspectionResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return types.InspectionResult{}, fmt.Errorf("解析响应失败: %w", err)
	}
	return result, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.Endpoint+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	// 将 Trace ID 放入 HTTP Header 中，实现跨服务追踪
	if traceID, ok := util.TraceIDFromContext(ctx); ok {
		req.Header.Set(util.TraceHeader, traceID)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		c.logger.Error("远程调用失败", "method", method, "path", path, "error", err)
		return nil, fmt.Errorf("远程调用失败: %w", err)
	}
	return resp, nil
}

// responseError 把编排服务的错误状态码还原为错误分类
func responseError(resp *http.Response) error {
	var body errorResponse
	_ = json.NewDecoder(resp.Body).Decode(&body)

	var kind error
	switch resp.StatusCode {
	case http.StatusNotFound:
		kind = types.ErrNotFound
	case http.StatusConflict:
		kind = types.ErrStateConflict
	case http.StatusBadRequest:
		kind = types.ErrValidation
	default:
		return fmt.Errorf("远程服务错误: %s: %s", resp.Status, body.Error)
	}
	return fmt.Errorf("%w: %s", kind, body.Error)
}
