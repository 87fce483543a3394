package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/codex-k8s/desktop-mcp-server/internal/protocol"
)

const maxResponseBytes = 8 << 20

// HTTP calls an automation backend over HTTP.
type HTTP struct {
	// URL is the backend endpoint.
	URL string
	// Method overrides HTTP method.
	Method string
	// Headers adds HTTP headers.
	Headers map[string]string
	// Timeout is the HTTP client timeout.
	Timeout time.Duration
	// Client overrides the HTTP client.
	Client *http.Client
}

type backendRequest struct {
	RequestID     string         `json:"request_id"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	SessionID     string         `json:"session_id,omitempty"`
	Tool          string         `json:"tool"`
	Arguments     map[string]any `json:"arguments"`
	TimeoutMS     int64          `json:"timeout_ms,omitempty"`
}

// Execute sends the invocation to the backend and parses its response.
func (h HTTP) Execute(ctx context.Context, req Request) (any, error) {
	if strings.TrimSpace(h.URL) == "" {
		return nil, errors.New("executor url is empty")
	}

	payload := backendRequest{
		RequestID:     req.RequestID,
		CorrelationID: req.CorrelationID,
		SessionID:     req.SessionID,
		Tool:          req.ToolName,
		Arguments:     req.Arguments,
	}
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 {
			payload.TimeoutMS = remaining.Milliseconds()
		}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	method := strings.ToUpper(strings.TrimSpace(h.Method))
	if method == "" {
		method = http.MethodPost
	}
	request, err := http.NewRequestWithContext(ctx, method, h.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("X-Request-ID", req.RequestID)
	for key, value := range h.Headers {
		request.Header.Set(key, value)
	}

	resp, err := h.client().Do(request)
	if err != nil {
		return nil, fmt.Errorf("executor request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read executor response: %w", err)
	}
	trimmed := strings.TrimSpace(string(data))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("executor status %d: %s", resp.StatusCode, trimmed)
	}

	var parsed protocol.BackendResponse
	if err := json.Unmarshal(data, &parsed); err == nil && strings.TrimSpace(parsed.Status) != "" {
		switch strings.ToLower(strings.TrimSpace(parsed.Status)) {
		case protocol.StatusSuccess:
			return parsed.Result, nil
		case protocol.StatusError:
			if parsed.Error == "" {
				parsed.Error = "executor error"
			}
			return nil, errors.New(parsed.Error)
		default:
			return nil, fmt.Errorf("unknown executor status: %s", parsed.Status)
		}
	}

	var raw any
	if err := json.Unmarshal(data, &raw); err == nil {
		return raw, nil
	}
	return trimmed, nil
}

func (h HTTP) client() *http.Client {
	if h.Client != nil {
		return h.Client
	}
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{Timeout: timeout}
}
