// Package cache provides typed read-through access to the persistent store
// and the freshness rules for groups and messages.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Gopher0727/PortalChat/internal/metrics"
	"github.com/Gopher0727/PortalChat/internal/model"
	"github.com/Gopher0727/PortalChat/internal/store"
)

const (
	DefaultGroupsTTL   = 30 * time.Second
	DefaultMessagesTTL = 10 * time.Second
)

type Option func(*Manager)

func WithGroupsTTL(d time.Duration) Option {
	return func(m *Manager) { m.groups.Window = d }
}

func WithMessagesTTL(d time.Duration) Option {
	return func(m *Manager) { m.messages.Window = d }
}

// WithClock sets the clock of both freshness policies. The store stamps
// CachedAt with its own clock, so tests normally pass the same func to both.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
		m.groups.Now = now
		m.messages.Now = now
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// Manager is the only writer of the persistent store. Store failures are
// returned wrapped in store.ErrStoreUnavailable; callers treat them as a
// miss and carry on network-only.
type Manager struct {
	store    store.Store
	groups   FreshnessPolicy
	messages FreshnessPolicy
	now      func() time.Time
	logger   *zap.Logger

	mu               sync.Mutex
	groupsInvalid    bool
	groupsWrittenAt  time.Time
	messageWrittenAt map[string]time.Time
}

func NewManager(st store.Store, opts ...Option) *Manager {
	m := &Manager{
		store:            st,
		groups:           FreshnessPolicy{Window: DefaultGroupsTTL},
		messages:         FreshnessPolicy{Window: DefaultMessagesTTL},
		now:              time.Now,
		logger:           zap.NewNop(),
		messageWrittenAt: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) degraded(op string, err error) {
	if errors.Is(err, store.ErrStoreUnavailable) {
		metrics.IncStoreError(op)
		m.logger.Warn("store unavailable, continuing network-only", zap.String("op", op), zap.Error(err))
	}
}

// ReadGroups returns every cached group ordered by name then id, with
// CachedAt set from the store.
func (m *Manager) ReadGroups(ctx context.Context) ([]model.Group, error) {
	recs, err := m.store.GetAll(ctx, store.KindGroup)
	if err != nil {
		m.degraded("read_groups", err)
		metrics.IncCacheLookup("group", "error")
		return nil, err
	}
	groups := make([]model.Group, 0, len(recs))
	for _, rec := range recs {
		var g model.Group
		if err := json.Unmarshal(rec.Data, &g); err != nil {
			m.logger.Warn("skipping undecodable group record", zap.String("id", rec.ID), zap.Error(err))
			continue
		}
		g.ID = rec.ID
		g.CachedAt = rec.CachedAt
		groups = append(groups, g)
	}
	if len(groups) == 0 {
		metrics.IncCacheLookup("group", "miss")
	} else {
		metrics.IncCacheLookup("group", "hit")
	}
	model.SortGroups(groups)
	return groups, nil
}

// IsGroupsFresh is true iff the most recent group write lies inside the
// groups window and InvalidateGroups has not been called since.
func (m *Manager) IsGroupsFresh(ctx context.Context) bool {
	m.mu.Lock()
	invalid, last := m.groupsInvalid, m.groupsWrittenAt
	m.mu.Unlock()
	if invalid {
		return false
	}
	if last.IsZero() {
		// nothing written by this process; fall back to persisted stamps
		recs, err := m.store.GetAll(ctx, store.KindGroup)
		if err != nil {
			return false
		}
		for _, rec := range recs {
			if rec.CachedAt.After(last) {
				last = rec.CachedAt
			}
		}
	}
	return m.groups.Fresh(last)
}

// WriteGroups replaces the cached group set with groups.
func (m *Manager) WriteGroups(ctx context.Context, groups []model.Group) error {
	keep := make(map[string]struct{}, len(groups))
	for i := range groups {
		g := groups[i]
		g.CachedAt = time.Time{}
		data, err := json.Marshal(&g)
		if err != nil {
			return fmt.Errorf("encode group %s: %w", g.ID, err)
		}
		if err := m.store.Put(ctx, &store.Record{Kind: store.KindGroup, ID: g.ID, Data: data}); err != nil {
			m.degraded("write_groups", err)
			return err
		}
		keep[g.ID] = struct{}{}
	}

	existing, err := m.store.GetAll(ctx, store.KindGroup)
	if err != nil {
		m.degraded("write_groups", err)
		return err
	}
	for _, rec := range existing {
		if _, ok := keep[rec.ID]; ok {
			continue
		}
		if err := m.store.Remove(ctx, store.KindGroup, rec.ID); err != nil {
			m.degraded("write_groups", err)
			return err
		}
	}

	m.mu.Lock()
	m.groupsInvalid = false
	m.groupsWrittenAt = m.now()
	m.mu.Unlock()
	m.logger.Debug("groups cached", zap.Int("count", len(groups)))
	return nil
}

// InvalidateGroups makes the next group read bypass the cache until groups
// are written again. Cached groups stay readable as a fallback for a failed
// refetch.
func (m *Manager) InvalidateGroups() {
	m.mu.Lock()
	m.groupsInvalid = true
	m.mu.Unlock()
}

// GroupsInvalidated reports whether InvalidateGroups was called since the
// last successful WriteGroups.
func (m *Manager) GroupsInvalidated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.groupsInvalid
}

func decodeMessage(rec *store.Record) (model.Message, error) {
	var msg model.Message
	if err := json.Unmarshal(rec.Data, &msg); err != nil {
		return msg, err
	}
	msg.ID = rec.ID
	msg.CachedAt = rec.CachedAt
	return msg, nil
}

// ReadMessages returns the cached messages of a group in chronological
// order, ties broken by id.
func (m *Manager) ReadMessages(ctx context.Context, groupID string) ([]model.Message, error) {
	recs, err := m.store.GetByGroup(ctx, groupID)
	if err != nil {
		m.degraded("read_messages", err)
		metrics.IncCacheLookup("message", "error")
		return nil, err
	}
	msgs := make([]model.Message, 0, len(recs))
	for _, rec := range recs {
		msg, err := decodeMessage(rec)
		if err != nil {
			m.logger.Warn("skipping undecodable message record", zap.String("id", rec.ID), zap.Error(err))
			continue
		}
		msgs = append(msgs, msg)
	}
	if len(msgs) == 0 {
		metrics.IncCacheLookup("message", "miss")
	} else {
		metrics.IncCacheLookup("message", "hit")
	}
	model.SortMessages(msgs)
	return msgs, nil
}

func (m *Manager) IsMessagesFresh(ctx context.Context, groupID string) bool {
	m.mu.Lock()
	last := m.messageWrittenAt[groupID]
	m.mu.Unlock()
	if last.IsZero() {
		recs, err := m.store.GetByGroup(ctx, groupID)
		if err != nil {
			return false
		}
		for _, rec := range recs {
			if rec.CachedAt.After(last) {
				last = rec.CachedAt
			}
		}
	}
	return m.messages.Fresh(last)
}

// WriteMessages upserts msgs by id. Messages absent from msgs are kept:
// deletion only ever happens through a tombstone. Each write is merged with
// the cached copy so a stale page cannot roll status or a tombstone back.
// Temporary ids are never persisted.
func (m *Manager) WriteMessages(ctx context.Context, groupID string, msgs []model.Message) error {
	held := make(map[string]model.Message)
	recs, err := m.store.GetByGroup(ctx, groupID)
	if err != nil {
		m.degraded("write_messages", err)
		return err
	}
	for _, rec := range recs {
		if msg, err := decodeMessage(rec); err == nil {
			held[msg.ID] = msg
		}
	}

	for _, msg := range msgs {
		if model.IsTemporaryID(msg.ID) {
			continue
		}
		msg.GroupID = groupID
		if prev, ok := held[msg.ID]; ok {
			msg = model.Merge(prev, msg)
		}
		if err := m.putMessage(ctx, msg); err != nil {
			m.degraded("write_messages", err)
			return err
		}
	}

	m.mu.Lock()
	m.messageWrittenAt[groupID] = m.now()
	m.mu.Unlock()
	return nil
}

func (m *Manager) putMessage(ctx context.Context, msg model.Message) error {
	msg.CachedAt = time.Time{}
	data, err := json.Marshal(&msg)
	if err != nil {
		return fmt.Errorf("encode message %s: %w", msg.ID, err)
	}
	return m.store.Put(ctx, &store.Record{Kind: store.KindMessage, ID: msg.ID, GroupID: msg.GroupID, Data: data})
}

// WriteMessage upserts a single message, merged with its cached copy.
func (m *Manager) WriteMessage(ctx context.Context, msg model.Message) error {
	if model.IsTemporaryID(msg.ID) {
		return nil
	}
	rec, err := m.store.Get(ctx, store.KindMessage, msg.ID)
	switch {
	case err == nil:
		if prev, err := decodeMessage(rec); err == nil {
			msg = model.Merge(prev, msg)
		}
	case !errors.Is(err, store.ErrNotFound):
		m.degraded("write_message", err)
		return err
	}
	if err := m.putMessage(ctx, msg); err != nil {
		m.degraded("write_message", err)
		return err
	}
	return nil
}

// TombstoneMessage rewrites a cached message into its deleted form. A
// message that is not cached is left alone.
func (m *Manager) TombstoneMessage(ctx context.Context, id string) error {
	rec, err := m.store.Get(ctx, store.KindMessage, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		m.degraded("tombstone_message", err)
		return err
	}
	msg, err := decodeMessage(rec)
	if err != nil {
		return fmt.Errorf("decode message %s: %w", id, err)
	}
	msg.Tombstone()
	if err := m.putMessage(ctx, msg); err != nil {
		m.degraded("tombstone_message", err)
		return err
	}
	return nil
}

// ClearMessages drops every cached message of the group, so the next read
// misses and IsMessagesFresh reports false.
func (m *Manager) ClearMessages(ctx context.Context, groupID string) error {
	m.mu.Lock()
	delete(m.messageWrittenAt, groupID)
	m.mu.Unlock()

	recs, err := m.store.GetByGroup(ctx, groupID)
	if err != nil {
		m.degraded("clear_messages", err)
		return err
	}
	for _, rec := range recs {
		if err := m.store.Remove(ctx, store.KindMessage, rec.ID); err != nil {
			m.degraded("clear_messages", err)
			return err
		}
	}
	return nil
}

// ReadAttachment returns store.ErrNotFound when the attachment has not been
// fetched yet.
func (m *Manager) ReadAttachment(ctx context.Context, id string) (*model.Attachment, error) {
	rec, err := m.store.Get(ctx, store.KindAttachment, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			metrics.IncCacheLookup("attachment", "miss")
		} else {
			metrics.IncCacheLookup("attachment", "error")
			m.degraded("read_attachment", err)
		}
		return nil, err
	}
	var att model.Attachment
	if err := json.Unmarshal(rec.Data, &att); err != nil {
		return nil, fmt.Errorf("decode attachment %s: %w", id, err)
	}
	att.ID = rec.ID
	att.CachedAt = rec.CachedAt
	metrics.IncCacheLookup("attachment", "hit")
	return &att, nil
}

// WriteAttachment stores att and stamps att.CachedAt.
func (m *Manager) WriteAttachment(ctx context.Context, att *model.Attachment) error {
	stored := *att
	stored.CachedAt = time.Time{}
	data, err := json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("encode attachment %s: %w", att.ID, err)
	}
	rec := &store.Record{Kind: store.KindAttachment, ID: att.ID, Data: data}
	if err := m.store.Put(ctx, rec); err != nil {
		m.degraded("write_attachment", err)
		return err
	}
	att.CachedAt = rec.CachedAt
	return nil
}
