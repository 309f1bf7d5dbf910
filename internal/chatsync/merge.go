package chatsync

import (
	"slices"

	"github.com/Gopher0727/PortalChat/internal/model"
)

func lastID(msgs []model.Message) string {
	if len(msgs) == 0 {
		return ""
	}
	return msgs[len(msgs)-1].ID
}

func sameMessage(a, b model.Message) bool {
	return a.ID == b.ID &&
		a.GroupID == b.GroupID &&
		a.SenderID == b.SenderID &&
		a.Content == b.Content &&
		a.CreatedAt.Equal(b.CreatedAt) &&
		a.Status == b.Status &&
		a.Deleted == b.Deleted &&
		slices.Equal(a.ReadBy, b.ReadBy) &&
		slices.Equal(a.Attachments, b.Attachments)
}

// mergeLatest folds the latest page into the held view.
//
// Every held message that appears in fetched is overwritten with the
// fetched copy (merged so status and tombstones never go backwards). Only
// when the last ids of held and fetched differ are the fetched ids that
// held lacks appended; membership, not position, decides what is new.
func mergeLatest(held, fetched []model.Message) (out, appended, updated []model.Message) {
	out = model.CloneMessages(held)
	index := make(map[string]int, len(out))
	for i, m := range out {
		index[m.ID] = i
	}

	for _, f := range fetched {
		i, ok := index[f.ID]
		if !ok {
			continue
		}
		merged := model.Merge(out[i], f)
		merged.CachedAt = out[i].CachedAt
		if !sameMessage(out[i], merged) {
			out[i] = merged
			updated = append(updated, merged.Clone())
		}
	}

	if lastID(held) != lastID(fetched) {
		for _, f := range fetched {
			if _, ok := index[f.ID]; ok {
				continue
			}
			f = f.Clone()
			f.Normalize()
			index[f.ID] = len(out)
			out = append(out, f)
			appended = append(appended, f.Clone())
		}
		if len(appended) > 0 {
			model.SortMessages(out)
		}
	}
	return out, appended, updated
}
