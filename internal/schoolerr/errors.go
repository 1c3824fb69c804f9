// Package schoolerr defines the engine's typed error envelope. Every
// error surfaced to callers carries a stable machine-readable code and
// the entity ids involved, so the HTTP layer can translate without
// string matching.
package schoolerr

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Code is a stable machine-readable error code.
type Code string

const (
	CodeStudentNotFound        Code = "STUDENT_NOT_FOUND"
	CodeEnrollmentNotFound     Code = "ENROLLMENT_NOT_FOUND"
	CodeInvoiceNotFound        Code = "INVOICE_NOT_FOUND"
	CodeAccountNotFound        Code = "ACCOUNT_NOT_FOUND"
	CodeConfigurationMissing   Code = "CONFIGURATION_MISSING"
	CodeConfigurationExists    Code = "CONFIGURATION_EXISTS"
	CodeConfigurationError     Code = "CONFIGURATION_ERROR"
	CodeDuplicateEnrollment    Code = "DUPLICATE_ENROLLMENT"
	CodeInvalidStatusTransition Code = "INVALID_STATUS_TRANSITION"
	CodePaymentExceedsBalance  Code = "PAYMENT_EXCEEDS_BALANCE"
	CodeValidationFailed       Code = "VALIDATION_FAILED"
	CodeTransactionConflict    Code = "TRANSACTION_CONFLICT"
	CodeConcurrentModification Code = "CONCURRENT_MODIFICATION"
	CodeTenantMissing          Code = "TENANT_MISSING"
	CodeStoreUnavailable       Code = "STORE_UNAVAILABLE"
)

// Error is the typed error surfaced by engine operations.
type Error struct {
	Code      Code
	Message   string
	EntityIDs map[string]string
	Err       error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.EntityIDs) > 0 {
		keys := make([]string, 0, len(e.EntityIDs))
		for k := range e.EntityIDs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%s", k, e.EntityIDs[k]))
		}
		b.WriteString(" (")
		b.WriteString(strings.Join(parts, " "))
		b.WriteString(")")
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches errors by code so callers can compare against sentinels
// built with New.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e.Code == other.Code
}

// New builds an engine error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a cause to an engine error.
func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// WithEntity returns a copy annotated with an entity id.
func (e *Error) WithEntity(kind, id string) *Error {
	ids := make(map[string]string, len(e.EntityIDs)+1)
	for k, v := range e.EntityIDs {
		ids[k] = v
	}
	ids[kind] = id
	return &Error{Code: e.Code, Message: e.Message, EntityIDs: ids, Err: e.Err}
}

// CodeOf extracts the engine code from err, or empty when err is not
// an engine error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
