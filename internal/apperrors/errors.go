// Package apperrors provides the fault representation used across the
// runtime: envelope validation, store, bus/router, and adapter failures.
// Outcomes (scope violations, version conflicts) are never represented here
// — they are ordinary envelopes returned to the caller.
package apperrors

import (
	"errors"
	"fmt"
)

// Code identifies a fault category.
type Code string

const (
	CodeValidation   Code = "ENVELOPE_VALIDATION"
	CodeStoreAppend  Code = "STORE_APPEND"
	CodeStoreQuery   Code = "STORE_QUERY"
	CodePublish      Code = "BUS_PUBLISH"
	CodeRoute        Code = "ROUTER_ROUTE"
	CodeAdapter      Code = "ADAPTER_RECEIVE"
	CodeConfig       Code = "CONFIG"
	CodeInternal     Code = "INTERNAL"
)

// ServiceError is a structured fault: a code, a human message, and the
// wrapped cause. It satisfies errors.Is/errors.As via Unwrap.
type ServiceError struct {
	Code    Code
	Message string
	Err     error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// New builds a bare ServiceError with no wrapped cause.
func New(code Code, message string) *ServiceError {
	return &ServiceError{Code: code, Message: message}
}

// Wrap attaches a code and message to an existing error.
func Wrap(code Code, message string, err error) *ServiceError {
	return &ServiceError{Code: code, Message: message, Err: err}
}

// Sentinel errors for errors.Is comparisons against fault category,
// independent of message text.
var (
	ErrValidation  = errors.New("envelope validation failed")
	ErrStoreAppend = errors.New("event store append failed")
	ErrPublish     = errors.New("bus publish failed")
	ErrRoute       = errors.New("router dispatch failed")
	ErrAdapter     = errors.New("adapter receive failed")
)

// Validation wraps err as a fault caused by malformed input at ingest.
func Validation(reason string, err error) *ServiceError {
	return Wrap(CodeValidation, reason, errors.Join(ErrValidation, err))
}

// StoreAppend wraps a durability-boundary failure.
func StoreAppend(err error) *ServiceError {
	return Wrap(CodeStoreAppend, "event store append failed", errors.Join(ErrStoreAppend, err))
}

// StoreQuery wraps a read-path failure (replay, idempotency lookup).
func StoreQuery(err error) *ServiceError {
	return Wrap(CodeStoreQuery, "event store query failed", err)
}

// Publish wraps a bus publish failure.
func Publish(err error) *ServiceError {
	return Wrap(CodePublish, "bus publish failed", errors.Join(ErrPublish, err))
}

// Route wraps a router dispatch failure.
func Route(err error) *ServiceError {
	return Wrap(CodeRoute, "router dispatch failed", errors.Join(ErrRoute, err))
}

// Adapter wraps an adapter panic or returned error from receive/tick.
func Adapter(err error) *ServiceError {
	return Wrap(CodeAdapter, "adapter receive failed", errors.Join(ErrAdapter, err))
}

// IsServiceError reports whether err (or something it wraps) is a ServiceError.
func IsServiceError(err error) bool {
	var svcErr *ServiceError
	return errors.As(err, &svcErr)
}

// As extracts a ServiceError from an error chain, or nil.
func As(err error) *ServiceError {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr
	}
	return nil
}
