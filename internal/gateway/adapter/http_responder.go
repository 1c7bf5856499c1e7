package adapter

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/augustinebeh/worklink-gateway/internal/domain"
	"github.com/augustinebeh/worklink-gateway/internal/gateway/app"
)

// Compile-time interface satisfaction checks.
var _ app.Responder = (*HTTPResponder)(nil)
var _ app.Responder = (*StaticResponder)(nil)

// HTTPResponder asks the platform's response service for a reply to an
// inbound worker message. The service owns the choice between canned
// templates and model-generated answers; the gateway only carries the
// question over and the answer back. Slow or failing calls are the
// pipeline's problem, not this adapter's — it reports what happened.
type HTTPResponder struct {
	hc      *http.Client
	baseURL string
}

// NewHTTPResponder creates an HTTPResponder talking to the response service
// at baseURL. A nil client gets a default with a bounded timeout.
func NewHTTPResponder(baseURL string, hc *http.Client) *HTTPResponder {
	if hc == nil {
		hc = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &HTTPResponder{hc: hc, baseURL: strings.TrimRight(baseURL, "/")}
}

type responderRequest struct {
	WorkerID string `json:"worker_id"`
	Content  string `json:"content"`
	Channel  string `json:"channel,omitempty"`
}

type responderReply struct {
	Content    string  `json:"content"`
	Source     string  `json:"source,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

// ProcessMessage posts the worker's message to the response service and
// returns its reply.
func (r *HTTPResponder) ProcessMessage(ctx context.Context, workerID, content string, channel domain.Channel) (*app.ResponderResult, error) {
	var reply responderReply
	err := postJSON(ctx, r.hc, r.baseURL+"/v1/responses", responderRequest{
		WorkerID: workerID,
		Content:  content,
		Channel:  string(channel),
	}, &reply)
	if err != nil {
		return nil, fmt.Errorf("responder: process message for %s: %w", workerID, err)
	}

	return &app.ResponderResult{
		Content:    reply.Content,
		Source:     reply.Source,
		Confidence: reply.Confidence,
	}, nil
}

// StaticResponder answers every message with one fixed acknowledgement.
// It stands in for the response service in local development, where the
// pipeline still needs a Responder that returns promptly and never fails.
type StaticResponder struct {
	reply string
}

// NewStaticResponder creates a StaticResponder. An empty reply selects a
// generic acknowledgement.
func NewStaticResponder(reply string) *StaticResponder {
	if reply == "" {
		reply = "Thanks for reaching out! A WorkLink coordinator will reply soon."
	}
	return &StaticResponder{reply: reply}
}

// ProcessMessage returns the configured reply regardless of input.
func (r *StaticResponder) ProcessMessage(ctx context.Context, workerID, content string, channel domain.Channel) (*app.ResponderResult, error) {
	return &app.ResponderResult{Content: r.reply, Source: "template", Confidence: 1}, nil
}
