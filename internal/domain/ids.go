// Package domain contains pure business logic and types.
// No external dependencies allowed - this is the innermost ring of Clean Architecture.
package domain

import (
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

// workerIDPattern matches platform-assigned worker handles: alphanumeric start,
// then up to 63 further characters drawn from [A-Za-z0-9_.-]. Worker IDs come
// from the candidate directory, not from this service, so the format is looser
// than the UUID rule used for gateway-generated identifiers.
var workerIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,63}$`)

// WorkerID is a value object identifying a worker across the platform.
// It doubles as the conversation ID: each worker has exactly one conversation.
// Always valid in memory - use NewWorkerID to construct.
type WorkerID struct {
	value string
}

// NewWorkerID creates a WorkerID from a raw string, validating the directory format.
func NewWorkerID(raw string) (WorkerID, error) {
	if raw == "" {
		return WorkerID{}, ErrEmptyID
	}
	if !workerIDPattern.MatchString(raw) {
		return WorkerID{}, fmt.Errorf("invalid worker ID %q: %w", raw, ErrInvalidID)
	}
	return WorkerID{value: raw}, nil
}

// MustWorkerID creates a WorkerID, panicking on invalid input. Use only in tests.
func MustWorkerID(raw string) WorkerID {
	id, err := NewWorkerID(raw)
	if err != nil {
		panic(err)
	}
	return id
}

func (id WorkerID) String() string { return id.value }
func (id WorkerID) IsZero() bool   { return id.value == "" }

// MessageID is a value object representing a unique message identifier.
type MessageID struct {
	value string
}

// NewMessageID creates a MessageID from a raw string, validating it is a valid UUID.
func NewMessageID(raw string) (MessageID, error) {
	if raw == "" {
		return MessageID{}, ErrEmptyID
	}
	if _, err := uuid.Parse(raw); err != nil {
		return MessageID{}, fmt.Errorf("invalid message ID %q: %w", raw, ErrInvalidID)
	}
	return MessageID{value: raw}, nil
}

// MustMessageID creates a MessageID, panicking on invalid input. Use only in tests.
func MustMessageID(raw string) MessageID {
	id, err := NewMessageID(raw)
	if err != nil {
		panic(err)
	}
	return id
}

// GenerateMessageID creates a new random MessageID.
func GenerateMessageID() MessageID {
	return MessageID{value: uuid.NewString()}
}

func (id MessageID) String() string { return id.value }
func (id MessageID) IsZero() bool   { return id.value == "" }

// ProcessingID is a value object identifying one run of the response pipeline.
// One ProcessingID exists per inbound worker message that requires an
// automated reply; it is never reused.
type ProcessingID struct {
	value string
}

// NewProcessingID creates a ProcessingID from a raw string, validating it is a valid UUID.
func NewProcessingID(raw string) (ProcessingID, error) {
	if raw == "" {
		return ProcessingID{}, ErrEmptyID
	}
	if _, err := uuid.Parse(raw); err != nil {
		return ProcessingID{}, fmt.Errorf("invalid processing ID %q: %w", raw, ErrInvalidID)
	}
	return ProcessingID{value: raw}, nil
}

// MustProcessingID creates a ProcessingID, panicking on invalid input. Use only in tests.
func MustProcessingID(raw string) ProcessingID {
	id, err := NewProcessingID(raw)
	if err != nil {
		panic(err)
	}
	return id
}

// GenerateProcessingID creates a new random ProcessingID.
func GenerateProcessingID() ProcessingID {
	return ProcessingID{value: uuid.NewString()}
}

func (id ProcessingID) String() string { return id.value }
func (id ProcessingID) IsZero() bool   { return id.value == "" }

// ConnectionID is a value object representing a unique WebSocket connection
// identifier. It is also the message-rate-limit key for the connection.
type ConnectionID struct {
	value string
}

// NewConnectionID creates a ConnectionID from a raw string, validating it is a valid UUID.
func NewConnectionID(raw string) (ConnectionID, error) {
	if raw == "" {
		return ConnectionID{}, ErrEmptyID
	}
	if _, err := uuid.Parse(raw); err != nil {
		return ConnectionID{}, fmt.Errorf("invalid connection ID %q: %w", raw, ErrInvalidID)
	}
	return ConnectionID{value: raw}, nil
}

// GenerateConnectionID creates a new random ConnectionID.
func GenerateConnectionID() ConnectionID {
	return ConnectionID{value: uuid.NewString()}
}

func (id ConnectionID) String() string { return id.value }
func (id ConnectionID) IsZero() bool   { return id.value == "" }
