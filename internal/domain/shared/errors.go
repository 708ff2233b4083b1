package shared

import (
	"errors"
	"fmt"
)

// DomainError represents a domain-level error
type DomainError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface
func (e *DomainError) Error() string {
	return e.Message
}

// Is reports whether target is a DomainError with the same code, so that
// sentinel values can be matched with errors.Is regardless of message.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// NewDomainErrorf creates a new domain error with a formatted message
func NewDomainErrorf(code, format string, args ...any) *DomainError {
	return NewDomainError(code, fmt.Sprintf(format, args...))
}

// Error codes
const (
	CodeNotFound            = "NOT_FOUND"
	CodeInvalidInput        = "INVALID_INPUT"
	CodeInvalidState        = "INVALID_STATE"
	CodeConcurrencyConflict = "CONCURRENCY_CONFLICT"
	CodeValidation          = "VALIDATION_ERROR"
	CodeChainIntegrity      = "CHAIN_INTEGRITY"
	CodeAuthentication      = "AUTHENTICATION"
	CodeTransmission        = "TRANSMISSION"
	CodeSigning             = "SIGNING"
	CodeTimeout             = "TIMEOUT"
	CodeHashMismatch        = "HASH_MISMATCH"
)

// Common domain errors
var (
	ErrNotFound            = NewDomainError(CodeNotFound, "Resource not found")
	ErrInvalidInput        = NewDomainError(CodeInvalidInput, "Invalid input provided")
	ErrInvalidState        = NewDomainError(CodeInvalidState, "Operation not allowed in current state")
	ErrConcurrencyConflict = NewDomainError(CodeConcurrencyConflict, "Resource was modified by another process")

	// Pipeline taxonomy
	ErrValidation     = NewDomainError(CodeValidation, "Invoice failed validation")
	ErrChainIntegrity = NewDomainError(CodeChainIntegrity, "Hash chain could not be advanced")
	ErrAuthentication = NewDomainError(CodeAuthentication, "Request could not be authenticated")
	ErrTransmission   = NewDomainError(CodeTransmission, "Transmission to the tax authority failed")
	ErrSigning        = NewDomainError(CodeSigning, "Invoice could not be signed")
	ErrTimeout        = NewDomainError(CodeTimeout, "No outcome received in time")
	ErrHashMismatch   = NewDomainError(CodeHashMismatch, "Signed hash does not match the invoice hash")
)

// ErrorCode extracts the domain code from err, or "" when err is not a DomainError.
func ErrorCode(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}
