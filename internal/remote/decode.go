package remote

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/Gopher0727/PortalChat/internal/model"
)

// The server is loose about shapes: ids may be strings or numbers, keys
// snake_case or camelCase, timestamps RFC 3339 or epoch milliseconds, and
// payloads may sit under a "data" envelope. Everything is mapped to the
// model types here, once.

func unwrap(body []byte) gjson.Result {
	if !gjson.ValidBytes(body) {
		return gjson.Result{}
	}
	root := gjson.ParseBytes(body)
	if data := root.Get("data"); root.IsObject() && (data.IsObject() || data.IsArray()) {
		return data
	}
	return root
}

func field(r gjson.Result, names ...string) gjson.Result {
	for _, name := range names {
		if v := r.Get(name); v.Exists() && v.Type != gjson.Null {
			return v
		}
	}
	return gjson.Result{}
}

func idOf(r gjson.Result) string {
	switch r.Type {
	case gjson.String:
		return strings.TrimSpace(r.Str)
	case gjson.Number:
		return r.Raw
	}
	return ""
}

func timeOf(r gjson.Result) (time.Time, error) {
	switch r.Type {
	case gjson.Number:
		return time.UnixMilli(r.Int()).UTC(), nil
	case gjson.String:
		t, err := time.Parse(time.RFC3339Nano, r.Str)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: timestamp %q", ErrInvalidResponse, r.Str)
		}
		return t.UTC(), nil
	}
	return time.Time{}, nil
}

func stringsOf(r gjson.Result) []string {
	var out []string
	r.ForEach(func(_, v gjson.Result) bool {
		id := idOf(v)
		if v.IsObject() {
			id = idOf(field(v, "id", "userId", "user_id"))
		}
		if id != "" {
			out = append(out, id)
		}
		return true
	})
	return out
}

func serverID(r gjson.Result, what string) (string, error) {
	id := idOf(field(r, "id", "_id"))
	if id == "" {
		return "", fmt.Errorf("%w: %s without id", ErrInvalidResponse, what)
	}
	if model.IsTemporaryID(id) {
		return "", fmt.Errorf("%w: server %s id %q uses the local id namespace", ErrInvalidResponse, what, id)
	}
	return id, nil
}

func decodeGroup(r gjson.Result) (model.Group, error) {
	id, err := serverID(r, "group")
	if err != nil {
		return model.Group{}, err
	}
	typ, err := model.ParseGroupType(field(r, "type", "groupType", "group_type").String())
	if err != nil {
		return model.Group{}, fmt.Errorf("%w: group %s: %w", ErrInvalidResponse, id, err)
	}
	g := model.Group{
		ID:          id,
		Name:        field(r, "name").String(),
		Description: field(r, "description").String(),
		Icon:        field(r, "icon", "image").String(),
		Members:     stringsOf(field(r, "members")),
		Type:        typ,
	}
	if mc := field(r, "member_count", "memberCount"); mc.Exists() {
		g.MemberCount = int(mc.Int())
	} else {
		g.MemberCount = len(g.Members)
	}
	return g, nil
}

func decodeAttachmentRef(r gjson.Result) model.AttachmentRef {
	return model.AttachmentRef{
		ID:          idOf(field(r, "id", "_id")),
		Filename:    field(r, "filename", "fileName", "name").String(),
		ContentType: field(r, "content_type", "contentType", "mimetype").String(),
		Size:        field(r, "size", "sizeBytes", "size_bytes").Int(),
	}
}

func decodeMessage(r gjson.Result) (model.Message, error) {
	id, err := serverID(r, "message")
	if err != nil {
		return model.Message{}, err
	}
	created, err := timeOf(field(r, "created_at", "createdAt", "timestamp"))
	if err != nil {
		return model.Message{}, err
	}

	// whatever the server returns has at least been sent
	status := model.StatusSent
	switch s := field(r, "status"); s.Type {
	case gjson.String:
		if status, err = model.ParseStatus(s.Str); err != nil {
			return model.Message{}, fmt.Errorf("%w: message %s: %w", ErrInvalidResponse, id, err)
		}
	case gjson.Number:
		n := s.Int()
		if n < int64(model.StatusSending) || n > int64(model.StatusRead) {
			return model.Message{}, fmt.Errorf("%w: message %s: status %d", ErrInvalidResponse, id, n)
		}
		status = model.Status(n)
	}

	m := model.Message{
		ID:        id,
		GroupID:   idOf(field(r, "group_id", "groupId", "group")),
		SenderID:  idOf(field(r, "sender_id", "senderId", "sender")),
		Content:   field(r, "content", "text").String(),
		CreatedAt: created,
		Status:    status,
		ReadBy:    stringsOf(field(r, "read_by", "readBy")),
		Deleted:   field(r, "deleted", "isDeleted").Bool(),
	}
	field(r, "attachments", "files").ForEach(func(_, v gjson.Result) bool {
		m.Attachments = append(m.Attachments, decodeAttachmentRef(v))
		return true
	})
	m.Normalize()
	return m, nil
}

// decodeMessages decodes a page and returns it in chronological order,
// whatever order the server used.
func decodeMessages(r gjson.Result) ([]model.Message, error) {
	if !r.IsArray() {
		return nil, fmt.Errorf("%w: expected a message array", ErrInvalidResponse)
	}
	var out []model.Message
	for _, v := range r.Array() {
		m, err := decodeMessage(v)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	model.SortMessages(out)
	return out, nil
}

func decodeGroups(r gjson.Result) ([]model.Group, error) {
	if !r.IsArray() {
		return nil, fmt.Errorf("%w: expected a group array", ErrInvalidResponse)
	}
	var out []model.Group
	for _, v := range r.Array() {
		g, err := decodeGroup(v)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, nil
}

func decodeAttachment(r gjson.Result, id string) (*model.Attachment, error) {
	if !r.IsObject() {
		return nil, fmt.Errorf("%w: expected an attachment object", ErrInvalidResponse)
	}
	payload := field(r, "payload", "data", "content")
	var raw []byte
	if payload.Type == gjson.String {
		var err error
		if raw, err = decodeBase64(payload.Str); err != nil {
			return nil, fmt.Errorf("%w: attachment %s payload: %w", ErrInvalidResponse, id, err)
		}
	}
	ref := decodeAttachmentRef(r)
	if ref.Size == 0 {
		ref.Size = int64(len(raw))
	}
	return &model.Attachment{
		ID:          id,
		Filename:    ref.Filename,
		ContentType: ref.ContentType,
		Size:        ref.Size,
		Payload:     raw,
	}, nil
}

// decodeBase64 accepts standard or URL-safe base64, padded or not, with an
// optional data-URI prefix.
func decodeBase64(s string) ([]byte, error) {
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, ","); i >= 0 {
			s = s[i+1:]
		}
	}
	s = strings.TrimRight(s, "=")
	if strings.ContainsAny(s, "-_") {
		return base64.RawURLEncoding.DecodeString(s)
	}
	return base64.RawStdEncoding.DecodeString(s)
}
