// Package protocol defines the WebSocket wire format shared by the gateway
// and its clients. Every message is a single JSON object carrying a "type"
// discriminator with the payload fields alongside it:
//
//	{"type": "chat", "content": "Hello"}
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// FrameType identifies the type of WebSocket frame.
type FrameType string

const (
	// Inbound (client to server). Typing and ping travel both directions.
	FrameTypeChat         FrameType = "chat"
	FrameTypeTyping       FrameType = "typing"
	FrameTypeRead         FrameType = "read"
	FrameTypeStatusQuery  FrameType = "status_query"
	FrameTypeWorkerAction FrameType = "worker_action"
	FrameTypePing         FrameType = "ping"

	// Outbound (server to client)
	FrameTypeConnected           FrameType = "connected"
	FrameTypeChatMessage         FrameType = "chat_message"
	FrameTypeMessagesRead        FrameType = "messages_read"
	FrameTypeStatusChange        FrameType = "status_change"
	FrameTypeNotification        FrameType = "notification"
	FrameTypeProcessingStarted   FrameType = "processing_started"
	FrameTypeProcessingCompleted FrameType = "processing_completed"
	FrameTypeProcessingFailed    FrameType = "processing_failed"
	FrameTypeMessageSent         FrameType = "message_sent"
	FrameTypeNewMessage          FrameType = "new_message"
	FrameTypePong                FrameType = "pong"
	FrameTypeError               FrameType = "error"
)

// Frame is one wire message in either direction. Data holds the complete
// encoded object including the discriminator, so fan-out paths can write the
// same frame to many sockets without re-encoding.
type Frame struct {
	Type FrameType
	Data []byte
}

// NewFrame encodes a typed payload under the given discriminator. The payload
// must marshal to a JSON object (or be nil for payload-free frames).
func NewFrame(frameType FrameType, payload any) (*Frame, error) {
	fields := map[string]any{}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("protocol: marshal %s payload: %w", frameType, err)
		}
		if err := json.Unmarshal(b, &fields); err != nil {
			return nil, fmt.Errorf("protocol: %s payload is not an object: %w", frameType, err)
		}
	}
	fields["type"] = frameType
	data, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s frame: %w", frameType, err)
	}
	return &Frame{Type: frameType, Data: data}, nil
}

// Decode parses an inbound frame, extracting the discriminator and keeping
// the raw bytes for the recognizing handler to unmarshal.
func Decode(data []byte) (*Frame, error) {
	var head struct {
		Type FrameType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("protocol: decode frame: %w", err)
	}
	if head.Type == "" {
		return nil, errors.New("protocol: frame has no type")
	}
	return &Frame{Type: head.Type, Data: data}, nil
}

// ParsePayload unmarshals the frame's payload fields into the given struct.
// Unknown fields, including the discriminator itself, are ignored.
func (f *Frame) ParsePayload(v any) error {
	if f.Data == nil {
		return nil
	}
	return json.Unmarshal(f.Data, v)
}

// Chat is sent by a client to post a message. Observers name the target
// worker; a worker's own frames implicitly target their conversation.
type Chat struct {
	WorkerID string `json:"worker_id,omitempty"`
	Content  string `json:"content"`
	Channel  string `json:"channel,omitempty"`
}

// Typing mirrors a keystroke indicator to the counterpart. Never persisted.
type Typing struct {
	WorkerID string `json:"worker_id,omitempty"`
	IsTyping bool   `json:"is_typing"`
}

// Read marks the counterpart's messages in a conversation as read.
type Read struct {
	WorkerID string `json:"worker_id,omitempty"`
}

// StatusQuery asks for a worker's presence and last-seen time. Observer only.
type StatusQuery struct {
	WorkerID string `json:"worker_id"`
}

// WorkerAction runs a named business action on the worker's behalf. The
// payload travels opaquely to the action handler.
type WorkerAction struct {
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Ping requests a pong. Either role may send it.
type Ping struct {
	Timestamp int64 `json:"timestamp,omitempty"`
}

// Connected is the first frame sent on a successfully registered connection.
type Connected struct {
	ConnectionID        string `json:"connection_id"`
	Role                string `json:"role"`
	WorkerID            string `json:"worker_id,omitempty"`
	HeartbeatIntervalMs int    `json:"heartbeat_interval_ms"`
}

// Message is a stored chat message. It rides both chat_message frames
// (delivery to the worker) and new_message frames (mirror to observers).
type Message struct {
	MessageID string `json:"message_id"`
	WorkerID  string `json:"worker_id"`
	Sender    string `json:"sender"`
	Content   string `json:"content"`
	Channel   string `json:"channel,omitempty"`
	CreatedAt int64  `json:"created_at"`
	Read      bool   `json:"read"`
}

// MessagesRead tells the counterpart their messages were marked read.
type MessagesRead struct {
	WorkerID string `json:"worker_id"`
	Count    int    `json:"count"`
	ReadAt   int64  `json:"read_at"`
}

// StatusChange reports worker presence. Sent as a broadcast on worker
// connect/disconnect and as the reply to a status_query.
type StatusChange struct {
	WorkerID string `json:"worker_id"`
	Online   bool   `json:"online"`
	LastSeen int64  `json:"last_seen,omitempty"`
}

// Notification surfaces an operator-facing alert, e.g. a delivery failure
// that needs a manual resend.
type Notification struct {
	WorkerID                   string `json:"worker_id,omitempty"`
	Title                      string `json:"title"`
	Body                       string `json:"body"`
	RequiresManualIntervention bool   `json:"requires_manual_intervention,omitempty"`
}

// ProcessingStarted announces a response-pipeline run for a worker message.
type ProcessingStarted struct {
	ProcessingID string `json:"processing_id"`
	WorkerID     string `json:"worker_id"`
	MessageID    string `json:"message_id"`
}

// ProcessingCompleted reports a pipeline run that produced a reply.
type ProcessingCompleted struct {
	ProcessingID string `json:"processing_id"`
	WorkerID     string `json:"worker_id"`
	Attempts     int    `json:"attempts"`
	ElapsedMs    int64  `json:"elapsed_ms"`
}

// ProcessingFailed reports an exhausted pipeline run. The fallback reply has
// already been sent; the transcript still needs a human pass.
type ProcessingFailed struct {
	ProcessingID         string `json:"processing_id"`
	WorkerID             string `json:"worker_id"`
	Attempts             int    `json:"attempts"`
	LastError            string `json:"last_error"`
	RequiresManualReview bool   `json:"requires_manual_review"`
}

// MessageSent acknowledges the sender of a chat frame with the stored id
// and delivery outcome.
type MessageSent struct {
	MessageID string `json:"message_id"`
	WorkerID  string `json:"worker_id"`
	Delivered bool   `json:"delivered"`
	Channel   string `json:"channel,omitempty"`
}

// Pong answers a ping.
type Pong struct {
	Timestamp int64 `json:"timestamp"`
}

// Error reports a recoverable protocol or admission error without closing
// the connection.
type Error struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}
