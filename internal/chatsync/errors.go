package chatsync

import (
	"errors"

	"github.com/Gopher0727/PortalChat/internal/optimistic"
)

var (
	ErrClosed         = errors.New("controller closed")
	ErrGroupNotOpen   = errors.New("group is not open")
	ErrPendingMessage = errors.New("message has not been confirmed yet")
	ErrEmptyMessage   = errors.New("message has no content and no files")
	ErrUnknownMessage = errors.New("unknown message")
)

// SendError is returned when a send fails. The optimistic message has
// already left the view; Draft is what the user composed, unchanged.
type SendError struct {
	Draft optimistic.Draft
	Err   error
}

func (e *SendError) Error() string {
	return "send message: " + e.Err.Error()
}

func (e *SendError) Unwrap() error {
	return e.Err
}
