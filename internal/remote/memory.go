package remote

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/Gopher0727/PortalChat/internal/model"
)

// Operation names used for failure injection and call counting.
const (
	OpFetchGroups      = "fetch_groups"
	OpFetchMessages    = "fetch_messages"
	OpSendMessage      = "send_message"
	OpSendMessageFiles = "send_message_files"
	OpDeleteMessage    = "delete_message"
	OpFetchAttachment  = "fetch_attachment"
)

// MemoryAPI is an in-process chat server. It backs tests, the mock HTTP
// server and the CLI demo.
type MemoryAPI struct {
	mu          sync.Mutex
	now         func() time.Time
	senderID    string
	nextID      int64
	groups      map[string]model.Group
	messages    map[string][]model.Message
	msgGroup    map[string]string
	attachments map[string]model.Attachment
	failures    map[string]error
	gates       map[string]chan struct{}
	calls       map[string]int
}

type MemoryOption func(*MemoryAPI)

func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(m *MemoryAPI) { m.now = now }
}

// WithSender sets the user id stamped on messages sent through the API.
func WithSender(id string) MemoryOption {
	return func(m *MemoryAPI) { m.senderID = id }
}

func NewMemoryAPI(opts ...MemoryOption) *MemoryAPI {
	m := &MemoryAPI{
		now:         time.Now,
		senderID:    "me",
		nextID:      1000,
		groups:      make(map[string]model.Group),
		messages:    make(map[string][]model.Message),
		msgGroup:    make(map[string]string),
		attachments: make(map[string]model.Attachment),
		failures:    make(map[string]error),
		gates:       make(map[string]chan struct{}),
		calls:       make(map[string]int),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetFailure makes every call of op fail with err wrapped in ErrNetwork.
// A nil err clears it.
func (m *MemoryAPI) SetFailure(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, op)
		return
	}
	m.failures[op] = err
}

// Block holds every call of op until the returned release func is called
// or the caller's context ends.
func (m *MemoryAPI) Block(op string) (release func()) {
	ch := make(chan struct{})
	m.mu.Lock()
	m.gates[op] = ch
	m.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			if m.gates[op] == ch {
				delete(m.gates, op)
			}
			m.mu.Unlock()
			close(ch)
		})
	}
}

func (m *MemoryAPI) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// enter counts the call, waits on a gate and reports an injected failure.
// It returns with m.mu held on success.
func (m *MemoryAPI) enter(ctx context.Context, op string) error {
	m.mu.Lock()
	m.calls[op]++
	gate := m.gates[op]
	m.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return fmt.Errorf("%s: %w: %w", op, ErrNetwork, ctx.Err())
		}
	}

	m.mu.Lock()
	if err := m.failures[op]; err != nil {
		m.mu.Unlock()
		return fmt.Errorf("%s: %w: %w", op, ErrNetwork, err)
	}
	return nil
}

func (m *MemoryAPI) newID() string {
	m.nextID++
	return strconv.FormatInt(m.nextID, 10)
}

// AddGroup creates or replaces a group.
func (m *MemoryAPI) AddGroup(g model.Group) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g.MemberCount == 0 {
		g.MemberCount = len(g.Members)
	}
	g.CachedAt = time.Time{}
	m.groups[g.ID] = g
}

func (m *MemoryAPI) RemoveGroup(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.groups, id)
}

// AddMessage stores a message as another participant would have sent it.
// An empty id is assigned; a zero CreatedAt becomes now.
func (m *MemoryAPI) AddMessage(msg model.Message) model.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insert(msg)
}

func (m *MemoryAPI) insert(msg model.Message) model.Message {
	if msg.ID == "" {
		msg.ID = m.newID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = m.now()
	}
	if msg.Status == model.StatusSending {
		msg.Status = model.StatusSent
	}
	msg.CachedAt = time.Time{}
	msg.Normalize()

	list := m.messages[msg.GroupID]
	list = append(list, msg.Clone())
	model.SortMessages(list)
	m.messages[msg.GroupID] = list
	m.msgGroup[msg.ID] = msg.GroupID
	return msg.Clone()
}

func (m *MemoryAPI) update(id string, fn func(*model.Message)) bool {
	list := m.messages[m.msgGroup[id]]
	for i := range list {
		if list[i].ID == id {
			fn(&list[i])
			list[i].Normalize()
			return true
		}
	}
	return false
}

// SetStatus changes the delivery status the server reports for id.
func (m *MemoryAPI) SetStatus(id string, status model.Status) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.update(id, func(msg *model.Message) { msg.Status = status })
}

// MarkRead adds userID to the read-by set of id and advances it to read.
func (m *MemoryAPI) MarkRead(id, userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.update(id, func(msg *model.Message) {
		msg.ReadBy = model.UnionStrings(msg.ReadBy, []string{userID})
		msg.Status = msg.Status.Advance(model.StatusRead)
	})
}

// AddAttachment stores a payload so FetchAttachment can serve it.
func (m *MemoryAPI) AddAttachment(att model.Attachment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if att.Size == 0 {
		att.Size = int64(len(att.Payload))
	}
	att.CachedAt = time.Time{}
	m.attachments[att.ID] = att
}

func (m *MemoryAPI) FetchGroups(ctx context.Context) ([]model.Group, error) {
	if err := m.enter(ctx, OpFetchGroups); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()

	out := make([]model.Group, 0, len(m.groups))
	for _, g := range m.groups {
		g.Members = append([]string(nil), g.Members...)
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryAPI) FetchMessages(ctx context.Context, groupID string, limit int, before time.Time) ([]model.Message, error) {
	if err := m.enter(ctx, OpFetchMessages); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()

	var window []model.Message
	for _, msg := range m.messages[groupID] {
		if before.IsZero() || msg.CreatedAt.Before(before) {
			window = append(window, msg)
		}
	}
	if limit > 0 && len(window) > limit {
		window = window[len(window)-limit:]
	}
	return model.CloneMessages(window), nil
}

func (m *MemoryAPI) SendMessage(ctx context.Context, groupID, content string, attachments []model.AttachmentRef) (*model.Message, error) {
	if err := m.enter(ctx, OpSendMessage); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()

	if _, ok := m.groups[groupID]; !ok {
		return nil, &StatusError{Op: OpSendMessage, Code: 404, Message: "group not found"}
	}
	msg := m.insert(model.Message{
		GroupID:     groupID,
		SenderID:    m.senderID,
		Content:     content,
		Attachments: append([]model.AttachmentRef(nil), attachments...),
		Status:      model.StatusSent,
	})
	return &msg, nil
}

func (m *MemoryAPI) SendMessageWithFiles(ctx context.Context, groupID, content string, files []model.PendingFile) (*model.Message, error) {
	if err := m.enter(ctx, OpSendMessageFiles); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()

	if _, ok := m.groups[groupID]; !ok {
		return nil, &StatusError{Op: OpSendMessageFiles, Code: 404, Message: "group not found"}
	}
	refs := make([]model.AttachmentRef, 0, len(files))
	for _, f := range files {
		att := model.Attachment{
			ID:          "att-" + m.newID(),
			Filename:    f.Filename,
			ContentType: f.ContentType,
			Size:        int64(len(f.Payload)),
			Payload:     append([]byte(nil), f.Payload...),
		}
		m.attachments[att.ID] = att
		refs = append(refs, att.Ref())
	}
	msg := m.insert(model.Message{
		GroupID:     groupID,
		SenderID:    m.senderID,
		Content:     content,
		Attachments: refs,
		Status:      model.StatusSent,
	})
	return &msg, nil
}

// DeleteMessage tombstones the message in place.
func (m *MemoryAPI) DeleteMessage(ctx context.Context, id string) error {
	if err := m.enter(ctx, OpDeleteMessage); err != nil {
		return err
	}
	defer m.mu.Unlock()

	if !m.update(id, func(msg *model.Message) { msg.Tombstone() }) {
		return &StatusError{Op: OpDeleteMessage, Code: 404, Message: "message not found"}
	}
	return nil
}

func (m *MemoryAPI) FetchAttachment(ctx context.Context, id string) (*model.Attachment, error) {
	if err := m.enter(ctx, OpFetchAttachment); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()

	att, ok := m.attachments[id]
	if !ok {
		return nil, &StatusError{Op: OpFetchAttachment, Code: 404, Message: "attachment not found"}
	}
	att.Payload = append([]byte(nil), att.Payload...)
	return &att, nil
}

// RemoteDelete tombstones a message as if another participant deleted it.
func (m *MemoryAPI) RemoteDelete(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.update(id, func(msg *model.Message) { msg.Tombstone() })
}

var _ API = (*MemoryAPI)(nil)
var _ API = (*HTTPClient)(nil)
