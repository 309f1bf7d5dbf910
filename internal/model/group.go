package model

import (
	"fmt"
	"sort"
	"time"
)

// GroupType controls who may see a group in listings.
type GroupType string

const (
	GroupPublic      GroupType = "public"
	GroupPrivate     GroupType = "private"
	GroupManagerOnly GroupType = "manager_only"
)

func ParseGroupType(s string) (GroupType, error) {
	switch GroupType(s) {
	case GroupPublic, GroupPrivate, GroupManagerOnly:
		return GroupType(s), nil
	case "manager-only", "managerOnly":
		return GroupManagerOnly, nil
	case "":
		return GroupPublic, nil
	}
	return "", fmt.Errorf("unknown group type %q", s)
}

// Group 群组
type Group struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Icon        string    `json:"icon,omitempty"` // opaque image reference or data URI
	Members     []string  `json:"members"`
	Type        GroupType `json:"type"`
	MemberCount int       `json:"member_count"`
	CachedAt    time.Time `json:"cached_at,omitempty"`
}

func (g *Group) HasMember(userID string) bool {
	for _, m := range g.Members {
		if m == userID {
			return true
		}
	}
	return false
}

// Viewer is the user a group listing is rendered for.
type Viewer struct {
	UserID  string
	Manager bool
}

// VisibleTo reports whether v may see g in a listing. Manager-only groups
// are hidden from non-managers; private groups are listed only to their
// members and to managers.
func (g *Group) VisibleTo(v Viewer) bool {
	switch g.Type {
	case GroupManagerOnly:
		return v.Manager
	case GroupPrivate:
		return v.Manager || g.HasMember(v.UserID)
	default:
		return true
	}
}

// FilterVisible returns the groups v may see, preserving order.
func FilterVisible(groups []Group, v Viewer) []Group {
	out := make([]Group, 0, len(groups))
	for i := range groups {
		if groups[i].VisibleTo(v) {
			out = append(out, groups[i])
		}
	}
	return out
}

// SortGroups orders groups by name, then id.
func SortGroups(groups []Group) {
	sort.SliceStable(groups, func(i, j int) bool {
		if groups[i].Name != groups[j].Name {
			return groups[i].Name < groups[j].Name
		}
		return groups[i].ID < groups[j].ID
	})
}
