// Package core defines sentinel errors.
package core

import (
	"context"
	"errors"
	"net"
	"syscall"
)

// Sentinel errors for the session and capture subsystems. Callers match
// with errors.Is; wrap sites add context with fmt.Errorf("...: %w", err).
var (
	// Device connection errors
	ErrNetworkUnreachable = errors.New("textcast: network unreachable")
	ErrTimeout            = errors.New("textcast: operation timed out")
	ErrRefused            = errors.New("textcast: connection refused")
	ErrAppLaunchRejected  = errors.New("textcast: app launch rejected")
	ErrClientClosed       = errors.New("textcast: connection closed")
	ErrAlreadyConnected   = errors.New("textcast: channel already open")

	// Session state errors
	ErrAlreadyConnecting = errors.New("textcast: connect already in progress")
	ErrAlreadyActive     = errors.New("textcast: session already active")
	ErrDisconnecting     = errors.New("textcast: disconnect in progress")
	ErrNotConnected      = errors.New("textcast: no active session")
	ErrTextTooLong       = errors.New("textcast: text exceeds maximum length")

	// Capture errors
	ErrCaptureUnavailable = errors.New("textcast: packet capture unavailable")

	// Configuration errors
	ErrConfigInvalid = errors.New("textcast: invalid configuration")
)

// ClassifyNetError maps a low-level network failure onto one of the
// sentinel errors above so callers can branch on the failure class
// without inspecting syscall details. The original error text is kept
// in the message; the chain carries only the sentinel.
func ClassifyNetError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return wrapClass(ErrRefused, err)
	case errors.Is(err, syscall.ENETUNREACH), errors.Is(err, syscall.EHOSTUNREACH):
		return wrapClass(ErrNetworkUnreachable, err)
	case errors.Is(err, context.DeadlineExceeded):
		return wrapClass(ErrTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return wrapClass(ErrTimeout, err)
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return wrapClass(ErrNetworkUnreachable, err)
	}

	return err
}

func wrapClass(class, cause error) error {
	return &classifiedError{class: class, cause: cause}
}

// classifiedError carries the sentinel in the Is chain while preserving
// the original error text for logs.
type classifiedError struct {
	class error
	cause error
}

func (e *classifiedError) Error() string { return e.class.Error() + ": " + e.cause.Error() }
func (e *classifiedError) Is(target error) bool {
	return errors.Is(e.class, target)
}
func (e *classifiedError) Unwrap() error { return e.cause }
