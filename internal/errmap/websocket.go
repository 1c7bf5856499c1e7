package errmap

import (
	"errors"

	"github.com/augustinebeh/worklink-gateway/internal/domain"
)

// WebSocket close codes per RFC 6455.
// Standard codes: https://datatracker.ietf.org/doc/html/rfc6455#section-7.4
// Application-specific codes use the 4000-4999 range.
const (
	// Standard codes (RFC 6455)
	CloseNormalClosure = 1000
	CloseGoingAway     = 1001
	CloseProtocolError = 1002
	CloseMessageTooBig = 1009
	CloseInternalError = 1011
	CloseTryAgainLater = 1013

	// Application-specific codes (4000-4999). Clients branch on these to
	// decide between fixing the request, re-authenticating, and backing off.
	CloseMissingParams = 4000
	CloseUnauthorized  = 4001
	CloseRateLimited   = 4008
)

// WebSocketClose represents a close code and reason for WebSocket termination.
type WebSocketClose struct {
	Code   int
	Reason string
}

// ToWebSocketClose converts a domain error to a WebSocket close code and
// reason. Only handshake and admission failures terminate a connection;
// in-session frame errors go out as error frames instead.
func ToWebSocketClose(err error) WebSocketClose {
	if err == nil {
		return WebSocketClose{Code: CloseNormalClosure, Reason: "normal_closure"}
	}

	switch {
	case errors.Is(err, domain.ErrMissingParams):
		return WebSocketClose{Code: CloseMissingParams, Reason: "missing_params"}

	case errors.Is(err, domain.ErrEmptyID), errors.Is(err, domain.ErrInvalidID):
		return WebSocketClose{Code: CloseMissingParams, Reason: "invalid_params"}

	case errors.Is(err, domain.ErrUnauthorized):
		return WebSocketClose{Code: CloseUnauthorized, Reason: "authentication_failed"}

	case errors.Is(err, domain.ErrRoleMismatch):
		return WebSocketClose{Code: CloseUnauthorized, Reason: "role_mismatch"}

	case errors.Is(err, domain.ErrUnknownWorker):
		return WebSocketClose{Code: CloseUnauthorized, Reason: "unknown_worker"}

	case errors.Is(err, domain.ErrSuperseded):
		return CloseSuperseded

	case errors.Is(err, domain.ErrRateLimited):
		return WebSocketClose{Code: CloseRateLimited, Reason: "rate_limited"}

	case errors.Is(err, domain.ErrMessageTooLarge):
		return WebSocketClose{Code: CloseMessageTooBig, Reason: "message_too_large"}

	case errors.Is(err, domain.ErrSlowConsumer):
		return WebSocketClose{Code: CloseTryAgainLater, Reason: "slow_consumer"}

	case errors.Is(err, domain.ErrUnavailable):
		return WebSocketClose{Code: CloseTryAgainLater, Reason: "service_unavailable"}

	default:
		return WebSocketClose{Code: CloseInternalError, Reason: "internal_error"}
	}
}

// Common close reasons for cases not triggered by a domain error.
// CloseSuperseded reuses the auth code with a distinct reason so the
// displaced client knows not to retry with the same token loop.
var (
	CloseSuperseded     = WebSocketClose{Code: CloseUnauthorized, Reason: "superseded"}
	CloseServerShutdown = WebSocketClose{Code: CloseGoingAway, Reason: "server_shutdown"}
)

// ToErrorCode converts a domain error to the machine-readable code carried
// in an error frame. Used for in-session failures where the connection
// survives.
func ToErrorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, domain.ErrMalformedFrame):
		return "malformed_frame"
	case errors.Is(err, domain.ErrMessageTooLarge):
		return "message_too_large"
	case errors.Is(err, domain.ErrInvalidChannel):
		return "invalid_channel"
	case errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrEmptyID),
		errors.Is(err, domain.ErrInvalidID):
		return "invalid_input"
	case errors.Is(err, domain.ErrUnknownWorker):
		return "unknown_worker"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrNotConnected):
		return "worker_offline"
	case errors.Is(err, domain.ErrSendFailed):
		return "delivery_failed"
	case errors.Is(err, domain.ErrUnavailable):
		return "service_unavailable"
	default:
		return "internal_error"
	}
}
