// Package domain defines the core domain models for TableSync.
package domain

import (
	"errors"
	"fmt"
	"strings"
)

// DomainError represents a business domain error with a structured error code.
// Codes follow the TS-<AREA>-<NNNN> format; the numeric part mirrors the
// closest HTTP status.
type DomainError struct {
	Code    string // Error code (e.g., "TS-ROOM-4040")
	Message string // Human-readable message
	Details string // Optional additional details
	Cause   error  // Underlying error (if any)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap() support.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is() support for error comparison.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewDomainError creates a new DomainError with the given code and message.
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *DomainError) WithDetails(details string) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
		Cause:   e.Cause,
	}
}

// WithCause returns a copy of the error wrapping the given cause.
func (e *DomainError) WithCause(cause error) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		Cause:   cause,
	}
}

// IsDomainError checks if an error is a DomainError with the given code.
// If code is empty, it only checks if the error is a DomainError.
func IsDomainError(err error, code string) bool {
	var de *DomainError
	if errors.As(err, &de) {
		if code == "" {
			return true
		}
		return de.Code == code
	}
	return false
}

// GetErrorCode extracts the error code from an error if it's a DomainError.
func GetErrorCode(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// ============================================================================
// Error Kinds
// ============================================================================

// ErrorKind is the coarse failure class a caller reacts to. Many codes share a
// kind; the kind decides propagation (surface to the initiator, reconcile
// silently, reconnect).
type ErrorKind string

const (
	KindNotFound      ErrorKind = "not_found"
	KindUnauthorized  ErrorKind = "unauthorized"
	KindRejected      ErrorKind = "rejected"
	KindRoomFull      ErrorKind = "room_full"
	KindTimeout       ErrorKind = "timeout"
	KindTransportLost ErrorKind = "transport_lost"
	KindInvalidConfig ErrorKind = "invalid_config"
	KindInternal      ErrorKind = "internal"
)

// KindOf classifies err. Errors that are not DomainErrors are internal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	return KindOfCode(GetErrorCode(err))
}

// KindOfCode classifies an error code received over the wire.
func KindOfCode(code string) ErrorKind {
	if kind, ok := codeKinds[code]; ok {
		return kind
	}
	switch {
	case strings.HasSuffix(code, "-4040"), strings.HasSuffix(code, "-4041"):
		return KindNotFound
	case strings.HasPrefix(code, "TS-AUTH-"):
		return KindUnauthorized
	case strings.HasPrefix(code, "TS-SYNC-"):
		return KindRejected
	case strings.HasPrefix(code, "TS-ARG-"):
		return KindInvalidConfig
	default:
		return KindInternal
	}
}

// ============================================================================
// Room Errors (ROOM)
// ============================================================================

var (
	// ErrRoomNotFound indicates the requested room does not exist.
	ErrRoomNotFound = NewDomainError("TS-ROOM-4040", "room not found")

	// ErrRoomClosing indicates the room is shutting down and accepts no one.
	ErrRoomClosing = NewDomainError("TS-ROOM-4041", "room is closing")

	// ErrRoomConflict indicates the room ID already exists.
	ErrRoomConflict = NewDomainError("TS-ROOM-4090", "room id conflict")

	// ErrRoomFull indicates the membership cap has been reached.
	ErrRoomFull = NewDomainError("TS-ROOM-4091", "room is full")

	// ErrRoomQuotaExceeded indicates the host already runs the maximum number of rooms.
	ErrRoomQuotaExceeded = NewDomainError("TS-ROOM-4290", "room quota exceeded")
)

// ============================================================================
// Entity Errors (ENTY)
// ============================================================================

var (
	// ErrEntityNotFound indicates the target entity is not in the canonical table.
	ErrEntityNotFound = NewDomainError("TS-ENTY-4040", "entity not found")

	// ErrEntityExists indicates a create targeted a live entity id.
	ErrEntityExists = NewDomainError("TS-ENTY-4090", "entity already exists")
)

// ============================================================================
// Authorization Errors (AUTH)
// ============================================================================

var (
	// ErrUnauthorized indicates the access secret did not match.
	ErrUnauthorized = NewDomainError("TS-AUTH-4010", "access secret mismatch")

	// ErrNotMember indicates the actor is not on the room roster.
	ErrNotMember = NewDomainError("TS-AUTH-4011", "actor is not a member")

	// ErrPermissionDenied indicates the actor's role may not perform the mutation.
	ErrPermissionDenied = NewDomainError("TS-AUTH-4030", "permission denied")
)

// ============================================================================
// Synchronization Errors (SYNC)
// ============================================================================

var (
	// ErrMalformedMutation indicates the mutation failed validation.
	ErrMalformedMutation = NewDomainError("TS-SYNC-4001", "malformed mutation")

	// ErrConfirmationTimeout indicates no confirmation arrived within the staleness window.
	ErrConfirmationTimeout = NewDomainError("TS-SYNC-4080", "confirmation timed out")

	// ErrStaleMutation indicates a mutation arrived after a newer one from the same actor.
	ErrStaleMutation = NewDomainError("TS-SYNC-4090", "stale mutation")

	// ErrRateLimited indicates the actor exceeded its submission budget.
	ErrRateLimited = NewDomainError("TS-SYNC-4290", "submission rate exceeded")

	// ErrOverloaded indicates the bus queue for the room is full.
	ErrOverloaded = NewDomainError("TS-SYNC-5030", "bus overloaded")
)

// ============================================================================
// Connection Errors (CONN)
// ============================================================================

var (
	// ErrTransportLost indicates the channel dropped and retries were exhausted.
	ErrTransportLost = NewDomainError("TS-CONN-5030", "transport lost")

	// ErrProtocol indicates the peer sent a message out of sequence.
	ErrProtocol = NewDomainError("TS-CONN-4000", "protocol violation")
)

// ============================================================================
// Argument and System Errors (ARG, SYS)
// ============================================================================

var (
	// ErrInvalidConfig indicates invalid room options or server configuration.
	ErrInvalidConfig = NewDomainError("TS-ARG-4001", "invalid configuration")

	// ErrInvalidArgument indicates an invalid argument.
	ErrInvalidArgument = NewDomainError("TS-ARG-4002", "invalid argument")

	// ErrBadRequest indicates a malformed request body.
	ErrBadRequest = NewDomainError("TS-SYS-4000", "bad request")

	// ErrInternal indicates an internal server error.
	ErrInternal = NewDomainError("TS-SYS-5000", "internal server error")
)

var codeKinds = map[string]ErrorKind{
	ErrRoomNotFound.Code:        KindNotFound,
	ErrRoomClosing.Code:         KindNotFound,
	ErrRoomConflict.Code:        KindInternal,
	ErrRoomFull.Code:            KindRoomFull,
	ErrRoomQuotaExceeded.Code:   KindRejected,
	ErrEntityNotFound.Code:      KindNotFound,
	ErrEntityExists.Code:        KindRejected,
	ErrUnauthorized.Code:        KindUnauthorized,
	ErrNotMember.Code:           KindUnauthorized,
	ErrPermissionDenied.Code:    KindUnauthorized,
	ErrMalformedMutation.Code:   KindRejected,
	ErrConfirmationTimeout.Code: KindTimeout,
	ErrStaleMutation.Code:       KindRejected,
	ErrRateLimited.Code:         KindRejected,
	ErrOverloaded.Code:          KindRejected,
	ErrTransportLost.Code:       KindTransportLost,
	ErrProtocol.Code:            KindRejected,
	ErrInvalidConfig.Code:       KindInvalidConfig,
	ErrInvalidArgument.Code:     KindInvalidConfig,
	ErrBadRequest.Code:          KindRejected,
	ErrInternal.Code:            KindInternal,
}
