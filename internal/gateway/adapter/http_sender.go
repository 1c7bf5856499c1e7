package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/augustinebeh/worklink-gateway/internal/domain"
	"github.com/augustinebeh/worklink-gateway/internal/gateway/app"
)

// Compile-time interface satisfaction checks.
var _ app.Sender = (*HTTPSender)(nil)
var _ app.Sender = (*LogSender)(nil)

// HTTPSender delivers outbound worker messages through the platform's
// channel-delivery service, which owns the Telegram and WhatsApp bridges.
// A 2xx response with success=false means the service understood the
// request but could not deliver — distinct from a transport failure.
type HTTPSender struct {
	hc      *http.Client
	baseURL string
}

// NewHTTPSender creates an HTTPSender talking to the delivery service at
// baseURL. A nil client gets a default with a bounded timeout.
func NewHTTPSender(baseURL string, hc *http.Client) *HTTPSender {
	if hc == nil {
		hc = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &HTTPSender{hc: hc, baseURL: strings.TrimRight(baseURL, "/")}
}

type deliveryRequest struct {
	WorkerID       string `json:"worker_id"`
	Content        string `json:"content"`
	Channel        string `json:"channel,omitempty"`
	ReplyToChannel string `json:"reply_to_channel,omitempty"`
}

type deliveryReply struct {
	Success           bool   `json:"success"`
	Channel           string `json:"channel,omitempty"`
	ProviderMessageID string `json:"provider_message_id,omitempty"`
}

// SendToWorker posts the message to the delivery service and reports the
// channel outcome.
func (s *HTTPSender) SendToWorker(ctx context.Context, workerID, content string, opts app.SendOptions) (*app.SendResult, error) {
	var reply deliveryReply
	err := postJSON(ctx, s.hc, s.baseURL+"/v1/deliveries", deliveryRequest{
		WorkerID:       workerID,
		Content:        content,
		Channel:        string(opts.Channel),
		ReplyToChannel: string(opts.ReplyToChannel),
	}, &reply)
	if err != nil {
		return nil, fmt.Errorf("sender: deliver to %s: %w", workerID, err)
	}

	return &app.SendResult{
		Success:           reply.Success,
		Channel:           domain.Channel(reply.Channel),
		ProviderMessageID: reply.ProviderMessageID,
	}, nil
}

// LogSender logs outbound deliveries instead of calling a channel bridge.
// Suitable for local development, where every send succeeds on the
// requested channel.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a LogSender writing delivery events to the given
// structured logger.
func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

// SendToWorker logs the delivery and reports success. It never contacts a
// real channel.
func (s *LogSender) SendToWorker(ctx context.Context, workerID, content string, opts app.SendOptions) (*app.SendResult, error) {
	channel := opts.Channel
	if !domain.IsValidChannel(channel) {
		channel = opts.ReplyToChannel
	}
	if !domain.IsValidChannel(channel) {
		channel = domain.ChannelWeb
	}

	s.logger.InfoContext(ctx, "worker delivery (log-only)",
		slog.String("worker_id", workerID),
		slog.String("channel", string(channel)),
		slog.String("content", content),
	)

	return &app.SendResult{Success: true, Channel: channel}, nil
}
