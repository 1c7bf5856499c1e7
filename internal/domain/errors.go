package domain

import "errors"

// Sentinel errors for domain error conditions.
// Use errors.Is() for matching - never compare error strings.
var (
	// ID validation errors
	ErrEmptyID   = errors.New("ID cannot be empty")
	ErrInvalidID = errors.New("invalid ID format")

	// Resource errors
	ErrNotFound      = errors.New("resource not found")
	ErrAlreadyExists = errors.New("resource already exists")

	// Handshake / authentication errors
	ErrMissingParams = errors.New("missing connection parameters")
	ErrUnauthorized  = errors.New("authentication required")
	ErrRoleMismatch  = errors.New("token role does not match claimed role")
	ErrUnknownWorker = errors.New("worker not found in directory")
	ErrSuperseded    = errors.New("connection superseded by a newer login")

	// Validation errors
	ErrInvalidInput    = errors.New("invalid input")
	ErrMalformedFrame  = errors.New("malformed frame")
	ErrMessageTooLarge = errors.New("message exceeds size limit")
	ErrInvalidChannel  = errors.New("unsupported delivery channel")

	// Admission / operational errors
	ErrRateLimited  = errors.New("rate limit exceeded")
	ErrUnavailable  = errors.New("service temporarily unavailable")
	ErrSlowConsumer = errors.New("client not consuming events fast enough")

	// Delivery errors
	ErrNotConnected = errors.New("worker has no live connection")
	ErrSendFailed   = errors.New("delivery to worker failed")

	// Responder errors
	ErrResponderFailed  = errors.New("automated responder failed")
	ErrResponderTimeout = errors.New("automated responder timed out")

	// Contact validation
	ErrInvalidPhoneNumber = errors.New("invalid phone number format")

	// Configuration errors
	ErrConfigRequired = errors.New("required configuration key missing")
)

// IsRetryable returns true if the error represents a transient condition
// that may succeed on retry. The response pipeline uses this to decide
// whether another attempt is worthwhile.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUnavailable) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrResponderFailed) ||
		errors.Is(err, ErrResponderTimeout)
}

// IsAuthFailure returns true if the error means the handshake credentials
// were rejected. These close the connection and are never retried server-side.
func IsAuthFailure(err error) bool {
	return errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrRoleMismatch) ||
		errors.Is(err, ErrUnknownWorker)
}

// clientErrors enumerates all domain errors that represent client-side issues.
var clientErrors = []error{
	ErrInvalidInput,
	ErrMalformedFrame,
	ErrMessageTooLarge,
	ErrInvalidChannel,
	ErrNotFound,
	ErrMissingParams,
	ErrUnauthorized,
	ErrRoleMismatch,
	ErrUnknownWorker,
	ErrEmptyID,
	ErrInvalidID,
	ErrInvalidPhoneNumber,
}

// IsClientError returns true if the error represents a client-side issue
// that will not succeed on retry without client-side changes.
func IsClientError(err error) bool {
	for _, target := range clientErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsNotFound returns true if the error represents a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
