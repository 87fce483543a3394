package permission

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/codex-k8s/desktop-mcp-server/internal/protocol"
	"github.com/codex-k8s/desktop-mcp-server/internal/security"
)

// HTTP asks an external permission service for a decision.
type HTTP struct {
	// Label is a human-friendly name.
	Label string
	// URL is the service endpoint.
	URL string
	// Method overrides HTTP method.
	Method string
	// Headers adds HTTP headers.
	Headers map[string]string
	// Timeout is the HTTP timeout.
	Timeout time.Duration
}

type httpRequest struct {
	CorrelationID string         `json:"correlation_id,omitempty"`
	Tool          string         `json:"tool"`
	Arguments     map[string]any `json:"arguments"`
}

// Name returns the checker name for audit and logging.
func (h HTTP) Name() string {
	if h.Label != "" {
		return h.Label
	}
	return "http"
}

// Check sends redacted arguments to the service and parses its decision.
func (h HTTP) Check(ctx context.Context, req Request) (Decision, error) {
	if h.URL == "" {
		return Decision{Allowed: false, Reason: "permission url is empty", Source: h.Name()}, nil
	}

	body, err := json.Marshal(httpRequest{
		CorrelationID: req.CorrelationID,
		Tool:          req.ToolName,
		Arguments:     security.RedactArguments(req.Arguments),
	})
	if err != nil {
		return Decision{}, fmt.Errorf("encode permission request: %w", err)
	}

	method := h.Method
	if method == "" {
		method = http.MethodPost
	}
	request, err := http.NewRequestWithContext(ctx, method, h.URL, bytes.NewReader(body))
	if err != nil {
		return Decision{}, fmt.Errorf("build permission request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	for key, value := range h.Headers {
		request.Header.Set(key, value)
	}

	timeout := h.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	resp, err := (&http.Client{Timeout: timeout}).Do(request)
	if err != nil {
		return Decision{}, fmt.Errorf("permission request failed: %w", err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Decision{
			Allowed: false,
			Reason:  fmt.Sprintf("permission service status %d: %s", resp.StatusCode, strings.TrimSpace(string(data))),
			Source:  h.Name(),
		}, nil
	}

	var parsed protocol.PermissionResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return Decision{}, fmt.Errorf("invalid permission response: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(parsed.Decision)) {
	case protocol.DecisionAllow:
		return Decision{Allowed: true, Reason: fallbackReason(parsed.Reason, "allowed"), Source: h.Name()}, nil
	case protocol.DecisionDeny:
		return Decision{Allowed: false, Reason: fallbackReason(parsed.Reason, "denied"), Source: h.Name()}, nil
	default:
		return Decision{}, fmt.Errorf("unknown permission decision: %q", parsed.Decision)
	}
}

func fallbackReason(reason, fallback string) string {
	if strings.TrimSpace(reason) == "" {
		return fallback
	}
	return reason
}
