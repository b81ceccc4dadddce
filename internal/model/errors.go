package model

import (
	"errors"
	"fmt"
)

// ErrorKind classifies every failure that may cross the tool adapter or
// dashboard boundary. Raw provider errors are always mapped to one of
// these before leaving the scheduling engine or the credential resolver.
type ErrorKind string

const (
	KindCredentialMissing   ErrorKind = "credential_missing"
	KindCredentialExpired   ErrorKind = "credential_expired"
	KindCredentialCorrupt   ErrorKind = "credential_corrupt"
	KindNoCredentials       ErrorKind = "no_credentials"
	KindOAuthStateInvalid   ErrorKind = "oauth_state_invalid"
	KindOAuthExchangeFailed ErrorKind = "oauth_exchange_failed"
	KindSlotConflict        ErrorKind = "slot_conflict"
	KindSlotNotFound        ErrorKind = "slot_not_found"
	KindInvalidBookingID    ErrorKind = "invalid_booking_id"
	KindCalendarUnavailable ErrorKind = "calendar_unavailable"
	KindProviderRejected    ErrorKind = "provider_rejected"
	KindBadToolArguments    ErrorKind = "bad_tool_arguments"
	KindTenantNotFound      ErrorKind = "tenant_not_found"
)

// DomainError carries an ErrorKind plus a human-readable message that is
// safe to narrate to a caller. The wrapped cause stays internal.
type DomainError struct {
	Kind    ErrorKind
	Message string
	cause   error
}

func (e *DomainError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.cause
}

// Is matches two DomainErrors by kind so sentinel comparisons with
// errors.Is work regardless of message or cause.
func (e *DomainError) Is(target error) bool {
	var de *DomainError
	if errors.As(target, &de) {
		return e.Kind == de.Kind
	}
	return false
}

// NewDomainError creates a DomainError with a caller-safe message.
func NewDomainError(kind ErrorKind, message string) *DomainError {
	return &DomainError{Kind: kind, Message: message}
}

// WrapDomainError attaches an internal cause to a DomainError.
func WrapDomainError(kind ErrorKind, message string, cause error) *DomainError {
	return &DomainError{Kind: kind, Message: message, cause: cause}
}

// Sentinel instances for errors.Is comparisons.
var (
	ErrCredentialMissing   = NewDomainError(KindCredentialMissing, "no credential of the requested type")
	ErrCredentialExpired   = NewDomainError(KindCredentialExpired, "credential expired and could not be refreshed")
	ErrCredentialCorrupt   = NewDomainError(KindCredentialCorrupt, "stored credential could not be decrypted")
	ErrNoCredentials       = NewDomainError(KindNoCredentials, "no usable calendar credentials for tenant")
	ErrOAuthStateInvalid   = NewDomainError(KindOAuthStateInvalid, "authorization state is missing, expired or already used")
	ErrOAuthExchangeFailed = NewDomainError(KindOAuthExchangeFailed, "authorization code exchange failed")
	ErrSlotConflict        = NewDomainError(KindSlotConflict, "requested time window is no longer free")
	ErrSlotNotFound        = NewDomainError(KindSlotNotFound, "no matching slot found")
	ErrInvalidBookingID    = NewDomainError(KindInvalidBookingID, "appointment not found for this tenant")
	ErrCalendarUnavailable = NewDomainError(KindCalendarUnavailable, "calendar provider unavailable")
	ErrProviderRejected    = NewDomainError(KindProviderRejected, "calendar provider rejected the request")
	ErrBadToolArguments    = NewDomainError(KindBadToolArguments, "malformed tool arguments")
	ErrTenantNotFound      = NewDomainError(KindTenantNotFound, "tenant not found")
)

// KindOf extracts the ErrorKind from err, or a generic provider kind
// when the error was not classified.
func KindOf(err error) ErrorKind {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindCalendarUnavailable
}
