// Package pagination walks a group's history backwards one page at a time.
package pagination

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Gopher0727/PortalChat/internal/model"
)

const DefaultPageSize = 10

// Source returns up to limit messages of a group strictly older than
// before, in chronological order. A zero before means the latest page.
type Source interface {
	FetchMessages(ctx context.Context, groupID string, limit int, before time.Time) ([]model.Message, error)
}

// Page is one step backwards. HasMore == false is the normal end of the
// conversation, not an error.
type Page struct {
	Messages []model.Message
	HasMore  bool
}

// Cursor remembers, per group, whether the start of the conversation has
// been reached. Once it has, LoadOlder stops calling the source.
type Cursor struct {
	source   Source
	pageSize int
	logger   *zap.Logger

	mu        sync.Mutex
	exhausted map[string]bool
}

func NewCursor(source Source, pageSize int, logger *zap.Logger) *Cursor {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cursor{
		source:    source,
		pageSize:  pageSize,
		logger:    logger,
		exhausted: make(map[string]bool),
	}
}

func (c *Cursor) PageSize() int {
	return c.pageSize
}

func (c *Cursor) HasMore(groupID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.exhausted[groupID]
}

// MarkExhausted records that the start of the group was reached by some
// other path, e.g. an initial load shorter than a page.
func (c *Cursor) MarkExhausted(groupID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exhausted[groupID] = true
}

// LoadOlder fetches the page before oldest. With no oldest message there is
// nothing to page from yet and the state is left as it is. An oldest
// without a timestamp halts pagination instead of issuing an unbounded
// query. A page shorter than the page size proves the start was reached.
func (c *Cursor) LoadOlder(ctx context.Context, groupID string, oldest *model.Message) (Page, error) {
	if !c.HasMore(groupID) {
		return Page{}, nil
	}
	if oldest == nil {
		return Page{HasMore: true}, nil
	}
	if oldest.CreatedAt.IsZero() {
		c.logger.Warn("no usable cursor, stopping pagination", zap.String("group_id", groupID))
		c.MarkExhausted(groupID)
		return Page{}, nil
	}

	before := oldest.CreatedAt
	fetched, err := c.source.FetchMessages(ctx, groupID, c.pageSize, before)
	if err != nil {
		return Page{HasMore: true}, fmt.Errorf("load older messages of %s: %w", groupID, err)
	}

	older := make([]model.Message, 0, len(fetched))
	for _, m := range fetched {
		if m.CreatedAt.Before(before) {
			older = append(older, m)
		}
	}
	model.SortMessages(older)

	hasMore := len(fetched) >= c.pageSize && len(older) > 0
	if !hasMore {
		c.MarkExhausted(groupID)
	}
	c.logger.Debug("loaded older page",
		zap.String("group_id", groupID),
		zap.Int("count", len(older)),
		zap.Bool("has_more", hasMore),
	)
	return Page{Messages: older, HasMore: hasMore}, nil
}

// MergeOlder prepends older to loaded, skipping ids loaded already holds and
// duplicates within older. It returns the merged list and how many
// messages were prepended.
func MergeOlder(loaded, older []model.Message) ([]model.Message, int) {
	seen := make(map[string]struct{}, len(loaded)+len(older))
	for _, m := range loaded {
		seen[m.ID] = struct{}{}
	}
	fresh := make([]model.Message, 0, len(older))
	for _, m := range older {
		if _, ok := seen[m.ID]; ok {
			continue
		}
		seen[m.ID] = struct{}{}
		fresh = append(fresh, m.Clone())
	}
	model.SortMessages(fresh)

	merged := make([]model.Message, 0, len(fresh)+len(loaded))
	merged = append(merged, fresh...)
	merged = append(merged, model.CloneMessages(loaded)...)
	return merged, len(fresh)
}

// ScrollAnchor is the scroll position captured before a prepend. After the
// new content is laid out, Restore gives the offset that keeps the same
// message under the viewport.
type ScrollAnchor struct {
	Offset int
	Height int
}

func (a ScrollAnchor) Restore(newHeight int) int {
	return a.Offset + (newHeight - a.Height)
}
