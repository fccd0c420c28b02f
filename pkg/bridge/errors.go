package bridge

import (
	"fmt"

	"github.com/chris-alexander-pop/zmqbridge/pkg/errors"
)

// Domain-specific error codes layered on top of pkg/errors' generic ones.
const (
	CodeSubjectTooLong    = "SUBJECT_TOO_LONG"
	CodeInvalidWildcard   = "INVALID_WILDCARD"
	CodeTransportClosed   = "TRANSPORT_CLOSED"
	CodeSubscriptionGone  = "SUBSCRIPTION_GONE"
	CodeInboxGone         = "INBOX_GONE"
	CodeReplyTimeout      = "REPLY_TIMEOUT"
	CodeQueueFull         = "QUEUE_FULL"
	CodeBindFailed        = "BIND_FAILED"
	CodeMalformedFrame    = "MALFORMED_FRAME"
	CodeDuplicateEndpoint = "DUPLICATE_ENDPOINT"
)

func ErrSubjectTooLong(subject string) *errors.AppError {
	return errors.New(CodeSubjectTooLong, fmt.Sprintf("subject %q exceeds max length", subject), nil)
}

func ErrInvalidWildcard(source string, cause error) *errors.AppError {
	return errors.New(CodeInvalidWildcard, fmt.Sprintf("invalid wildcard source %q", source), cause)
}

func ErrTransportClosed() *errors.AppError {
	return errors.New(CodeTransportClosed, "transport has been destroyed", nil)
}

func ErrSubscriptionGone(id string) *errors.AppError {
	return errors.New(CodeSubscriptionGone, fmt.Sprintf("subscription %s no longer live", id), nil)
}

func ErrInboxGone(id string) *errors.AppError {
	return errors.New(CodeInboxGone, fmt.Sprintf("inbox %s no longer live", id), nil)
}

func ErrReplyTimeout(subject string) *errors.AppError {
	return errors.New(CodeReplyTimeout, fmt.Sprintf("no reply for %q within deadline", subject), nil)
}

func ErrQueueFull(queue string) *errors.AppError {
	return errors.New(CodeQueueFull, fmt.Sprintf("event queue %q is full", queue), nil)
}

func ErrBindFailed(addr string, cause error) *errors.AppError {
	return errors.New(CodeBindFailed, fmt.Sprintf("failed to bind %q", addr), cause)
}

func ErrMalformedFrame(cause error) *errors.AppError {
	return errors.New(CodeMalformedFrame, "malformed wire frame", cause)
}

func ErrDuplicateEndpoint(key string) *errors.AppError {
	return errors.New(CodeDuplicateEndpoint, fmt.Sprintf("endpoint %q already registered with this identifier", key), nil)
}
