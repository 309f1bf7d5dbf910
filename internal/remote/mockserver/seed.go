package mockserver

import (
	"fmt"
	"time"

	"github.com/Gopher0727/PortalChat/internal/model"
	"github.com/Gopher0727/PortalChat/internal/remote"
)

// Seed fills api with a few demo groups and a history of messages per
// group, the newest at now.
func Seed(api *remote.MemoryAPI, viewerID string, history int, now time.Time) {
	api.AddGroup(model.Group{
		ID:          "1",
		Name:        "General",
		Description: "Everyone in the portal",
		Type:        model.GroupPublic,
		Members:     []string{viewerID, "alice", "bob"},
	})
	api.AddGroup(model.Group{
		ID:          "2",
		Name:        "Book Club",
		Description: "Monthly reads",
		Type:        model.GroupPrivate,
		Members:     []string{viewerID, "carol"},
	})
	api.AddGroup(model.Group{
		ID:          "3",
		Name:        "Managers",
		Description: "Portal staff only",
		Type:        model.GroupManagerOnly,
		Members:     []string{"dave"},
	})

	senders := []string{"alice", "bob", viewerID}
	for _, gid := range []string{"1", "2"} {
		for i := 1; i <= history; i++ {
			api.AddMessage(model.Message{
				GroupID:   gid,
				SenderID:  senders[i%len(senders)],
				Content:   fmt.Sprintf("message %d in group %s", i, gid),
				CreatedAt: now.Add(-time.Duration(history-i) * time.Minute),
				Status:    model.StatusDelivered,
			})
		}
	}

	msg := api.AddMessage(model.Message{
		GroupID:   "1",
		SenderID:  "alice",
		Content:   "the agenda",
		CreatedAt: now.Add(time.Second),
		Attachments: []model.AttachmentRef{
			{ID: "att-agenda", Filename: "agenda.txt", ContentType: "text/plain", Size: 19},
		},
	})
	api.AddAttachment(model.Attachment{
		ID:          msg.Attachments[0].ID,
		Filename:    "agenda.txt",
		ContentType: "text/plain",
		Payload:     []byte("1. intro\n2. budget\n"),
	})
}
