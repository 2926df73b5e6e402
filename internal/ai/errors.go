package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
)

// ProviderError is a classified failure from an embedding provider.
type ProviderError struct {
	Provider   Provider
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s embedding: status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s embedding: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// retryableStatus reports whether an HTTP status is worth another attempt:
// rate limiting and server-side failures.
func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// classifyTransportError wraps a transport-level error. Timeouts, connection
// resets and truncated responses are retryable.
func classifyTransportError(p Provider, err error) error {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return err
	}
	return &ProviderError{Provider: p, Retryable: isTransient(err), Err: err}
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// IsRetryable reports whether err represents a transient provider failure.
func IsRetryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}
