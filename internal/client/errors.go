package client

import (
	"errors"
	"fmt"

	"github.com/emersion/go-imap/v2"
)

// ConnectionError indicates a transport-level failure while talking to the
// IMAP server. It is surfaced to the caller and never retried here.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error (%s): %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// IsConnectionError reports whether err (or any error in its chain) is a
// ConnectionError.
func IsConnectionError(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}

// AuthError indicates that credentials were absent or rejected by the
// server.
type AuthError struct {
	Username string
	Err      error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed for %s: %v", e.Username, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// IsAuthError reports whether err (or any error in its chain) is an
// AuthError.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// AccessDeniedError indicates that a mailbox is not in the session's
// allow-list. No protocol command is issued for the denied operation.
type AccessDeniedError struct {
	Mailbox string
}

func (e *AccessDeniedError) Error() string {
	return fmt.Sprintf("mailbox %q is not allowed", e.Mailbox)
}

// IsAccessDenied reports whether err (or any error in its chain) is an
// AccessDeniedError.
func IsAccessDenied(err error) bool {
	var de *AccessDeniedError
	return errors.As(err, &de)
}

// NotFoundError indicates that a message UID does not exist in a mailbox.
// It is a normal outcome for lookups by stale identifiers, not a transport
// failure.
type NotFoundError struct {
	Mailbox string
	UID     imap.UID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("message %d not found in %s", e.UID, e.Mailbox)
}

// IsNotFound reports whether err (or any error in its chain) is a
// NotFoundError.
func IsNotFound(err error) bool {
	var ne *NotFoundError
	return errors.As(err, &ne)
}
