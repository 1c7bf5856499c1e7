package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/augustinebeh/worklink-gateway/internal/domain"
	"github.com/augustinebeh/worklink-gateway/internal/gateway/app"
)

// Compile-time interface satisfaction checks.
var _ app.ActionHandler = (*HTTPActionHandler)(nil)
var _ app.ActionHandler = (*LogActionHandler)(nil)

// HTTPActionHandler forwards worker-initiated actions (shift applications,
// availability updates) to the core platform API. Payloads pass through
// untouched; the platform validates them. Platform rejections are
// translated to domain errors so the caller can answer the worker with a
// precise error code.
type HTTPActionHandler struct {
	hc      *http.Client
	baseURL string
}

// NewHTTPActionHandler creates an HTTPActionHandler talking to the platform
// API at baseURL. A nil client gets a default with a bounded timeout.
func NewHTTPActionHandler(baseURL string, hc *http.Client) *HTTPActionHandler {
	if hc == nil {
		hc = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &HTTPActionHandler{hc: hc, baseURL: strings.TrimRight(baseURL, "/")}
}

type actionRequest struct {
	WorkerID string          `json:"worker_id"`
	Action   string          `json:"action"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// HandleAction posts the action to the platform API. 400 and 422 responses
// surface as ErrInvalidInput, 404 as ErrNotFound; anything else comes back
// as-is.
func (h *HTTPActionHandler) HandleAction(ctx context.Context, workerID, action string, payload json.RawMessage) error {
	err := postJSON(ctx, h.hc, h.baseURL+"/v1/worker-actions", actionRequest{
		WorkerID: workerID,
		Action:   action,
		Payload:  payload,
	}, nil)
	if err == nil {
		return nil
	}

	var reqErr *requestError
	if errors.As(err, &reqErr) {
		switch reqErr.status {
		case http.StatusBadRequest, http.StatusUnprocessableEntity:
			return fmt.Errorf("actions: %s for %s: %s: %w", action, workerID, reqErr.body, domain.ErrInvalidInput)
		case http.StatusNotFound:
			return fmt.Errorf("actions: %s for %s: %w", action, workerID, domain.ErrNotFound)
		}
	}
	return fmt.Errorf("actions: %s for %s: %w", action, workerID, err)
}

// LogActionHandler logs worker actions instead of calling the platform API.
// Suitable for local development; every action is accepted.
type LogActionHandler struct {
	logger *slog.Logger
}

// NewLogActionHandler creates a LogActionHandler writing action events to
// the given structured logger.
func NewLogActionHandler(logger *slog.Logger) *LogActionHandler {
	return &LogActionHandler{logger: logger}
}

// HandleAction logs the action and accepts it. It never reaches the
// platform.
func (h *LogActionHandler) HandleAction(ctx context.Context, workerID, action string, payload json.RawMessage) error {
	h.logger.InfoContext(ctx, "worker action (log-only)",
		slog.String("worker_id", workerID),
		slog.String("action", action),
		slog.Int("payload_bytes", len(payload)),
	)
	return nil
}
