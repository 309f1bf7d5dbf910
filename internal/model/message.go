package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Status is the delivery state of a message. The zero value is StatusSending
// and the order of the constants is the only allowed direction of travel.
type Status int

const (
	StatusSending Status = iota
	StatusSent
	StatusDelivered
	StatusRead
)

var statusNames = [...]string{"sending", "sent", "delivered", "read"}

func (s Status) String() string {
	if s < StatusSending || s > StatusRead {
		return fmt.Sprintf("status(%d)", int(s))
	}
	return statusNames[s]
}

func ParseStatus(s string) (Status, error) {
	for i, name := range statusNames {
		if strings.EqualFold(s, name) {
			return Status(i), nil
		}
	}
	return StatusSending, fmt.Errorf("unknown message status %q", s)
}

// Advance returns the later of s and other.
func (s Status) Advance(other Status) Status {
	if other > s {
		return other
	}
	return s
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		var n int
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("status must be a string or number: %w", err)
		}
		if n < int(StatusSending) || n > int(StatusRead) {
			return fmt.Errorf("status %d out of range", n)
		}
		*s = Status(n)
		return nil
	}
	parsed, err := ParseStatus(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// AttachmentRef is the attachment metadata a message carries; the payload is
// fetched separately by id.
type AttachmentRef struct {
	ID          string `json:"id,omitempty"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

// Message 消息
type Message struct {
	ID          string          `json:"id"`
	GroupID     string          `json:"group_id"`
	SenderID    string          `json:"sender_id"`
	Content     string          `json:"content"`
	Attachments []AttachmentRef `json:"attachments,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	Status      Status          `json:"status"`
	ReadBy      []string        `json:"read_by,omitempty"`
	Deleted     bool            `json:"deleted"`
	CachedAt    time.Time       `json:"cached_at,omitempty"`
}

// Normalize enforces the tombstone invariant: a deleted message keeps its
// id and timestamp but carries no content or attachments.
func (m *Message) Normalize() {
	if m.Deleted {
		m.Content = ""
		m.Attachments = nil
	}
	if len(m.ReadBy) > 1 {
		sort.Strings(m.ReadBy)
		m.ReadBy = compactStrings(m.ReadBy)
	}
}

// Tombstone marks m deleted and clears its payload.
func (m *Message) Tombstone() {
	m.Deleted = true
	m.Normalize()
}

// Clone returns a deep copy so callers can hand views out without sharing
// slices.
func (m Message) Clone() Message {
	if m.Attachments != nil {
		m.Attachments = append([]AttachmentRef(nil), m.Attachments...)
	}
	if m.ReadBy != nil {
		m.ReadBy = append([]string(nil), m.ReadBy...)
	}
	return m
}

// Before reports whether m sorts before other: by created time, ties broken by id.
func (m *Message) Before(other *Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	return m.ID < other.ID
}

// SortMessages orders messages chronologically, ties broken by id.
func SortMessages(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Before(&msgs[j]) })
}

// CloneMessages deep-copies a message slice.
func CloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	for i := range msgs {
		out[i] = msgs[i].Clone()
	}
	return out
}

// UnionStrings returns the sorted set union of a and b.
func UnionStrings(a, b []string) []string {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	out := make([]string, 0, len(a)+len(b))
	out = append(out, a...)
	out = append(out, b...)
	sort.Strings(out)
	return compactStrings(out)
}

func compactStrings(sorted []string) []string {
	out := sorted[:0]
	for i, s := range sorted {
		if i == 0 || s != sorted[i-1] {
			out = append(out, s)
		}
	}
	return out
}

// TempIDPrefix namespaces client-generated ids. Server ids never carry it.
const TempIDPrefix = "local-"

// IsTemporaryID reports whether id was generated locally for an optimistic
// message.
func IsTemporaryID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}

// Merge returns fetched reconciled against held, the copy of the same id
// already known locally: status never moves backwards, a tombstone is never
// undone and read-by only grows. Everything else comes from fetched.
func Merge(held, fetched Message) Message {
	out := fetched.Clone()
	out.Status = held.Status.Advance(fetched.Status)
	out.ReadBy = UnionStrings(held.ReadBy, fetched.ReadBy)
	if held.Deleted {
		out.Deleted = true
	}
	out.Normalize()
	return out
}
