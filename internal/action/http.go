package action

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultHTTPTimeout 是未提供 http.Client 时的请求超时。
const DefaultHTTPTimeout = 60 * time.Second

// HTTPExecutor 把动作转发给远端执行服务（POST {endpoint}/cua/execute）。
type HTTPExecutor struct {
	endpoint   string
	httpClient *http.Client
}

// NewHTTPExecutor 创建远端执行器。httpClient 为空时使用默认超时的客户端。
func NewHTTPExecutor(endpoint string, httpClient *http.Client) (*HTTPExecutor, error) {
	endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if endpoint == "" {
		return nil, fmt.Errorf("动作执行服务地址不能为空")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &HTTPExecutor{endpoint: endpoint, httpClient: httpClient}, nil
}

type remoteRequest struct {
	ActionType string         `json:"action_type"`
	Parameters map[string]any `json:"parameters"`
	Timeout    int            `json:"timeout,omitempty"`
}

type remoteResponse struct {
	Success       bool           `json:"success"`
	ActionID      string         `json:"action_id,omitempty"`
	ResultData    map[string]any `json:"result_data"`
	ErrorMessage  string         `json:"error_message"`
	ExecutionTime float64        `json:"execution_time"`
}

// Execute 实现 Executor。远端返回 success=false 时视为动作失败而非传输错误。
func (e *HTTPExecutor) Execute(ctx context.Context, actionType string, params map[string]any) (Result, error) {
	if params == nil {
		params = map[string]any{}
	}
	payload := remoteRequest{ActionType: actionType, Parameters: params}
	if deadline, ok := ctx.Deadline(); ok {
		if secs := int(time.Until(deadline).Seconds()); secs > 0 {
			payload.Timeout = secs
		}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Result{}, fmt.Errorf("序列化动作请求失败: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint+"/cua/execute", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("构造动作请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("调用动作执行服务失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Result{}, fmt.Errorf("动作执行服务返回 %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	var decoded remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Result{}, fmt.Errorf("解析动作执行结果失败: %w", err)
	}
	return Result{Success: decoded.Success, Data: decoded.ResultData, Error: decoded.ErrorMessage}, nil
}
