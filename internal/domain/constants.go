package domain

import "time"

// Normative limits for the gateway. These are compiled defaults that can be
// overridden via configuration.
const (
	// Frame limits
	MaxFrameSize     = 32 * 1024 // 32 KB max inbound frame
	MaxContentLength = 8 * 1024  // Max chat message body in runes

	// Admission windows (connection attempts keyed by client origin,
	// messages keyed by connection ID)
	ConnectionRateLimit  = 10
	ConnectionRateWindow = time.Minute
	MessageRateLimit     = 30
	MessageRateWindow    = 10 * time.Second

	// Outbound buffering: events queued per connection before the handle
	// is considered not ready (fan-out skips it)
	OutboundBufferSize = 256

	// Heartbeat: server pings over the wire; a client that misses the
	// read deadline is torn down
	HeartbeatInterval = 30 * time.Second
	HeartbeatTimeout  = 60 * time.Second
	WriteTimeout      = 10 * time.Second

	// Response pipeline policy
	ResponderAttemptTimeout = 10 * time.Second
	ResponderMaxAttempts    = 3
	ResponderBackoffBase    = time.Second
	ResponderBackoffCap     = 5 * time.Second

	// Timeout contracts for infrastructure calls
	DynamoDBTimeout = 5 * time.Second
	RedisTimeout    = 2 * time.Second
	HTTPCallTimeout = 15 * time.Second

	// Graceful shutdown budget and ordering delays
	GracefulShutdownTimeout = 30 * time.Second
	ShutdownDrainDelay      = 2 * time.Second
	ShutdownHTTPTimeout     = 10 * time.Second
	ShutdownOTELTimeout     = 5 * time.Second

	// Pagination defaults for the ops history feed
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// Role identifies the class of a connected participant.
type Role string

const (
	RoleObserver Role = "observer"
	RoleWorker   Role = "worker"
)

// IsValidRole checks if a handshake role value is recognized.
func IsValidRole(r Role) bool {
	return r == RoleObserver || r == RoleWorker
}

// SenderRole identifies which side of a conversation authored a message.
// Observer-side messages are recorded as "admin" regardless of which
// operator console sent them.
type SenderRole string

const (
	SenderAdmin  SenderRole = "admin"
	SenderWorker SenderRole = "worker"
)

// IsValidSenderRole checks if a sender role value is recognized.
func IsValidSenderRole(s SenderRole) bool {
	return s == SenderAdmin || s == SenderWorker
}

// Counterpart returns the opposite side of a conversation.
func (s SenderRole) Counterpart() SenderRole {
	if s == SenderAdmin {
		return SenderWorker
	}
	return SenderAdmin
}

// Channel identifies the transport a message travelled over.
type Channel string

const (
	ChannelWeb      Channel = "web"
	ChannelTelegram Channel = "telegram"
	ChannelWhatsApp Channel = "whatsapp"
)

// IsValidChannel checks if a delivery channel is supported.
func IsValidChannel(c Channel) bool {
	return c == ChannelWeb || c == ChannelTelegram || c == ChannelWhatsApp
}

// ProcessingState is the lifecycle state of a response-pipeline record.
type ProcessingState string

const (
	ProcessingActive    ProcessingState = "processing"
	ProcessingCompleted ProcessingState = "completed"
	ProcessingFailed    ProcessingState = "failed"
)

// IsTerminal reports whether the state permits no further transitions.
func (s ProcessingState) IsTerminal() bool {
	return s == ProcessingCompleted || s == ProcessingFailed
}

// ResponderBackoff returns the wait before the retry that follows the given
// attempt count: base doubled per completed attempt, capped. Attempts start
// at 1, so the first wait equals ResponderBackoffBase.
func ResponderBackoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := ResponderBackoffBase << (attempts - 1)
	if d > ResponderBackoffCap {
		return ResponderBackoffCap
	}
	return d
}
