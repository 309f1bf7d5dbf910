// Package remote is the boundary to the chat server: the API the engine
// consumes, an HTTP/JSON implementation and an in-memory one.
package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Gopher0727/PortalChat/internal/model"
)

// ErrNetwork marks every failed remote call. Transport errors wrap it
// directly; non-2xx responses are *StatusError, which also matches it.
var ErrNetwork = errors.New("network failure")

// ErrInvalidResponse is wrapped by decode failures at the boundary.
var ErrInvalidResponse = errors.New("invalid response")

type StatusError struct {
	Op      string
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: status %d", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Op, e.Code, e.Message)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrNetwork
}

// API is what the engine needs from the server.
type API interface {
	FetchGroups(ctx context.Context) ([]model.Group, error)
	// FetchMessages returns at most limit messages in chronological order:
	// those strictly older than before, or the latest ones when before is
	// zero.
	FetchMessages(ctx context.Context, groupID string, limit int, before time.Time) ([]model.Message, error)
	SendMessage(ctx context.Context, groupID, content string, attachments []model.AttachmentRef) (*model.Message, error)
	SendMessageWithFiles(ctx context.Context, groupID, content string, files []model.PendingFile) (*model.Message, error)
	DeleteMessage(ctx context.Context, id string) error
	FetchAttachment(ctx context.Context, id string) (*model.Attachment, error)
}
