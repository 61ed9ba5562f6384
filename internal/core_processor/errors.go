package core_processor

import "errors"

var (
	// ErrAuthentication rejects a webhook before any processing.
	ErrAuthentication = errors.New("webhook authentication failed")
	// ErrMalformedPayload rejects a webhook whose body cannot be parsed.
	ErrMalformedPayload = errors.New("malformed webhook payload")
	// ErrIgnoredEvent marks a well-formed webhook that is not a new comment.
	ErrIgnoredEvent = errors.New("event ignored")
	// ErrNotFound is returned by stores for missing rows.
	ErrNotFound = errors.New("not found")
	// ErrCursorConflict means the stored cursor moved since it was read.
	ErrCursorConflict = errors.New("revision cursor changed concurrently")
	// ErrInvalidTransition rejects a run status change out of a terminal state.
	ErrInvalidTransition = errors.New("invalid run status transition")
	// ErrPost wraps comment posting failures.
	ErrPost = errors.New("post comment failed")
)
