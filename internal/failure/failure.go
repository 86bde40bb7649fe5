// Package failure tags errors at the fetch boundary and classifies them for
// retry decisions.
package failure

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Class is the retry classification of an error.
type Class int

// Error classes.
const (
	// Permanent failures are not retried.
	Permanent Class = iota
	// Transient failures are returned to the queue for redelivery.
	Transient
	// Credential failures mean a stored OAuth grant is dead.
	Credential
)

func (c Class) String() string {
	switch c {
	case Transient:
		return "transient"
	case Credential:
		return "credential"
	default:
		return "permanent"
	}
}

// NetworkError wraps transport level failures: resets, timeouts, DNS.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("network: %v", e.Err)
	}
	return fmt.Sprintf("network: %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// HTTPStatusError is a non-success upstream status.
type HTTPStatusError struct {
	Code int
	URL  string
}

func (e *HTTPStatusError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("http status %d %s", e.Code, http.StatusText(e.Code))
	}
	return fmt.Sprintf("http status %d %s: %s", e.Code, http.StatusText(e.Code), e.URL)
}

// ParseError is an unreadable upstream payload.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string { return fmt.Sprintf("parse: %v", e.Err) }

func (e *ParseError) Unwrap() error { return e.Err }

// CredentialError means the upstream rejected the stored OAuth grant.
type CredentialError struct {
	Err error
}

func (e *CredentialError) Error() string { return fmt.Sprintf("credential: %v", e.Err) }

func (e *CredentialError) Unwrap() error { return e.Err }

// StorageError wraps persistence failures, which are retried.
type StorageError struct {
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("storage: %v", e.Err) }

func (e *StorageError) Unwrap() error { return e.Err }

// Network tags err as a NetworkError.
func Network(op string, err error) error {
	if err == nil {
		return nil
	}
	return &NetworkError{Op: op, Err: err}
}

// HTTPStatus builds an HTTPStatusError.
func HTTPStatus(code int, url string) error {
	return &HTTPStatusError{Code: code, URL: url}
}

// Parse tags err as a ParseError.
func Parse(err error) error {
	if err == nil {
		return nil
	}
	return &ParseError{Err: err}
}

// Credentials tags err as a CredentialError.
func Credentials(err error) error {
	if err == nil {
		return nil
	}
	return &CredentialError{Err: err}
}

// Storage tags err as a StorageError.
func Storage(err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Err: err}
}

// Classify maps a tagged error to its retry class. Untagged errors are
// permanent so unknown failures do not burn the retry budget.
func Classify(err error) Class {
	if err == nil {
		return Permanent
	}
	var credErr *CredentialError
	if errors.As(err, &credErr) {
		return Credential
	}
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return classifyStatus(statusErr.Code)
	}
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return Transient
	}
	var storeErr *StorageError
	if errors.As(err, &storeErr) {
		return Transient
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Transient
	}
	return Permanent
}

// IsTransient reports whether err should be retried by the queue.
func IsTransient(err error) bool {
	return err != nil && Classify(err) == Transient
}

// StatusCode extracts the HTTP status from a tagged error, or 0.
func StatusCode(err error) int {
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code
	}
	return 0
}

func classifyStatus(code int) Class {
	switch {
	case code == http.StatusTooManyRequests:
		return Transient
	case code >= 500:
		return Transient
	default:
		return Permanent
	}
}
