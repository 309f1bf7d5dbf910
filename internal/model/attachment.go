package model

import "time"

// Attachment is a cached attachment including its payload. Payload is nil
// until the first successful fetch.
type Attachment struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	Payload     []byte    `json:"payload,omitempty"`
	CachedAt    time.Time `json:"cached_at,omitempty"`
}

func (a *Attachment) Ref() AttachmentRef {
	return AttachmentRef{ID: a.ID, Filename: a.Filename, ContentType: a.ContentType, Size: a.Size}
}

// PendingFile is a file composed for sending that has no server id yet.
type PendingFile struct {
	Filename    string
	ContentType string
	Payload     []byte
}

// Ref snapshots the file for an optimistic message: name and size only.
func (f PendingFile) Ref() AttachmentRef {
	return AttachmentRef{Filename: f.Filename, ContentType: f.ContentType, Size: int64(len(f.Payload))}
}
