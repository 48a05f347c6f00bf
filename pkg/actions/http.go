package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/template"
)

const maxResponseBytes = 10 << 20

// HTTPHandler calls an external endpoint for api_call and webhook actions.
//
// Config keys: url (required), method, headers, body. Every string in them
// is substituted from the execution context. A non-string body is sent as JSON.
type HTTPHandler struct {
	client        *http.Client
	defaultMethod string
}

func NewHTTPHandler(client *http.Client, defaultMethod string) *HTTPHandler {
	return &HTTPHandler{client: client, defaultMethod: defaultMethod}
}

func (h *HTTPHandler) Execute(ctx context.Context, action models.WorkflowAction, invocation Invocation) (any, error) {
	req, err := h.buildRequest(ctx, action, invocation.Context)
	if err != nil {
		return nil, newActionError(action.Type, 0, err)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, newActionError(action.Type, 0, fmt.Errorf("http request failed: %w", err))
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, newActionError(action.Type, resp.StatusCode, fmt.Errorf("failed to read response body: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newActionError(action.Type, resp.StatusCode,
			fmt.Errorf("%w: %s %s: %s", ErrUnexpectedStatus, req.Method, req.URL.Redacted(), truncate(string(bodyBytes), 256)))
	}

	return parseBody(bodyBytes), nil
}

func (h *HTTPHandler) buildRequest(ctx context.Context, action models.WorkflowAction, execCtx template.Context) (*http.Request, error) {
	rawURL, _ := action.Config["url"].(string)
	if strings.TrimSpace(rawURL) == "" {
		return nil, fmt.Errorf("%w: url is required", ErrInvalidConfig)
	}

	method, _ := action.Config["method"].(string)
	if method == "" {
		method = h.defaultMethod
	}

	body, contentType, err := buildBody(action.Config["body"], execCtx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(method), template.Substitute(rawURL, execCtx), body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	if headers, ok := action.Config["headers"].(map[string]any); ok {
		for key, value := range headers {
			req.Header.Set(key, template.Substitute(template.Stringify(value), execCtx))
		}
	}

	return req, nil
}

func buildBody(raw any, execCtx template.Context) (io.Reader, string, error) {
	switch body := raw.(type) {
	case nil:
		return nil, "", nil
	case string:
		if body == "" {
			return nil, "", nil
		}

		return strings.NewReader(template.Substitute(body, execCtx)), "", nil
	default:
		data, err := json.Marshal(template.SubstituteValue(body, execCtx))
		if err != nil {
			return nil, "", fmt.Errorf("%w: body: %w", ErrInvalidConfig, err)
		}

		return bytes.NewReader(data), "application/json", nil
	}
}

// parseBody returns the decoded JSON document, or the raw text when the body is not JSON.
func parseBody(data []byte) any {
	if len(bytes.TrimSpace(data)) == 0 {
		return ""
	}

	var body any
	if err := json.Unmarshal(data, &body); err != nil {
		return string(data)
	}

	return body
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}

	return s[:n] + "..."
}
