// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package hfxget

import (
	"errors"
	"fmt"
	"net"
)

// Common errors returned by the library.
var (
	// ErrInvalidRepo is returned when the repository ID is not in "owner/name" format.
	ErrInvalidRepo = errors.New("invalid repository ID: expected owner/name format")

	// ErrUnauthorized is returned when authentication is required but not provided.
	ErrUnauthorized = errors.New("unauthorized: this repository requires authentication")

	// ErrNotFound is returned when the repository or revision does not exist.
	ErrNotFound = errors.New("repository or revision not found")

	// ErrRateLimited is returned when the API rate limit is exceeded.
	ErrRateLimited = errors.New("rate limited: too many requests")
)

// ConfigError reports an invalid configuration value. It is fatal and
// aborts a run before any transfer starts.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// APIError represents an HTTP-level error from the hub or a download source.
type APIError struct {
	StatusCode int
	Status     string
	URL        string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d (%s): %s", e.StatusCode, e.Status, e.URL)
}

// IsRetryable reports whether the request might succeed on retry.
func (e *APIError) IsRetryable() bool {
	switch e.StatusCode {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// Is implements errors.Is for common error comparisons.
func (e *APIError) Is(target error) bool {
	switch e.StatusCode {
	case 401, 403:
		return errors.Is(target, ErrUnauthorized)
	case 404:
		return errors.Is(target, ErrNotFound)
	case 429:
		return errors.Is(target, ErrRateLimited)
	default:
		return false
	}
}

// TransientError wraps a network or service failure that is eligible for
// retry with backoff.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient failure during %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IntegrityError is returned when post-transfer verification fails.
// It fails the file, not the run.
type IntegrityError struct {
	Path     string
	Method   string // "sha256" or "size"
	Expected string
	Actual   string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity check failed for %s: %s mismatch (expected %s, got %s)",
		e.Path, e.Method, e.Expected, e.Actual)
}

// LocalError wraps a filesystem failure on the destination side
// (disk full, permission denied). Fatal per-file, never retried.
type LocalError struct {
	Op   string
	Path string
	Err  error
}

func (e *LocalError) Error() string {
	return fmt.Sprintf("local %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *LocalError) Unwrap() error {
	return e.Err
}

// isTransient classifies an error as retry-eligible: retryable HTTP
// statuses, timeouts, and transport-level failures. Local I/O errors and
// client errors (401/403/404) are not transient.
func isTransient(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.IsRetryable()
	}

	var localErr *LocalError
	if errors.As(err, &localErr) {
		return false
	}

	var transientErr *TransientError
	if errors.As(err, &transientErr) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	// Anything else that reached the transfer loop came from the HTTP
	// transport or a truncated body read.
	return true
}
