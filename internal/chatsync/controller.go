// Package chatsync ties the cache, the remote API and the UI together: it
// owns the message view of the open group, polls it, and drives optimistic
// sends, deletes and backward pagination.
package chatsync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/Gopher0727/PortalChat/config"
	"github.com/Gopher0727/PortalChat/internal/attachment"
	"github.com/Gopher0727/PortalChat/internal/cache"
	"github.com/Gopher0727/PortalChat/internal/metrics"
	"github.com/Gopher0727/PortalChat/internal/model"
	"github.com/Gopher0727/PortalChat/internal/optimistic"
	"github.com/Gopher0727/PortalChat/internal/pagination"
	"github.com/Gopher0727/PortalChat/internal/remote"
	"github.com/Gopher0727/PortalChat/internal/utils"
)

const DefaultPollInterval = 3 * time.Second

type Config struct {
	PollInterval time.Duration
	PageSize     int
	Workers      int
	QueueSize    int
	Viewer       model.Viewer
}

func ConfigFrom(cfg *config.Config) Config {
	return Config{
		PollInterval: cfg.Sync.PollInterval,
		PageSize:     cfg.Sync.PageSize,
		Workers:      cfg.Sync.Workers,
		QueueSize:    cfg.Sync.QueueSize,
		Viewer:       model.Viewer{UserID: cfg.Viewer.UserID, Manager: cfg.Viewer.Manager},
	}
}

type Option func(*Controller)

func WithLogger(logger *zap.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock is handed to the optimistic reconciler so temp messages carry
// a controllable timestamp.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

type Controller struct {
	api     remote.API
	cache   *cache.Manager
	cfg     Config
	logger  *zap.Logger
	now     func() time.Time
	events  *emitter
	fetcher *attachment.Fetcher
	sends   *optimistic.Reconciler
	pool    *utils.WorkerPool
	flight  singleflight.Group

	loadingGroups   atomic.Bool
	loadingMessages atomic.Bool
	loadingOlder    atomic.Bool

	mu       sync.Mutex
	closed   bool
	groupID  string
	gen      uint64
	messages []model.Message
	sub      *Subscription
	// one cursor per open, so a page still in flight for an earlier open
	// cannot end pagination for the current one
	cursor *pagination.Cursor
}

func New(api remote.API, cm *cache.Manager, cfg Config, opts ...Option) (*Controller, error) {
	if api == nil || cm == nil {
		return nil, errors.New("chatsync: api and cache are required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = pagination.DefaultPageSize
	}

	c := &Controller{
		api:    api,
		cache:  cm,
		cfg:    cfg,
		logger: zap.NewNop(),
		now:    time.Now,
		events: newEmitter(),
	}
	for _, opt := range opts {
		opt(c)
	}

	sends, err := optimistic.NewReconciler(cfg.Viewer.UserID,
		optimistic.WithClock(c.now),
		optimistic.WithLogger(c.logger.Named("optimistic")),
	)
	if err != nil {
		return nil, err
	}
	c.sends = sends
	c.fetcher = attachment.NewFetcher(cm, api, c.logger.Named("attachment"))
	c.pool = utils.NewWorkerPool(cfg.Workers, cfg.QueueSize, c.logger.Named("pool"))
	c.pool.Start()
	return c, nil
}

// On registers h for event. Handlers run on the goroutine that produced the
// event and must not block.
func (c *Controller) On(event Event, h Handler) {
	c.events.on(event, h)
}

func (c *Controller) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// GetGroups returns the groups visible to the configured viewer. Fresh
// cache is served as is; stale cache is served and refreshed in the
// background; an empty or invalidated cache or force goes to the network,
// falling back to whatever is cached when the network fails.
func (c *Controller) GetGroups(ctx context.Context, force bool) ([]model.Group, error) {
	if c.isClosed() {
		return nil, ErrClosed
	}

	// invalidated groups go to the network first; the cache is only a
	// fallback for a failed fetch
	if !force && !c.cache.GroupsInvalidated() {
		cached, err := c.cache.ReadGroups(ctx)
		if err == nil && len(cached) > 0 {
			if !c.cache.IsGroupsFresh(ctx) {
				c.refreshGroupsInBackground()
			}
			return model.FilterVisible(cached, c.cfg.Viewer), nil
		}
	}

	groups, err := c.refreshGroups(ctx)
	if err != nil {
		cached, cerr := c.cache.ReadGroups(ctx)
		if cerr == nil && len(cached) > 0 {
			c.logger.Warn("group refresh failed, serving cache", zap.Int("cached", len(cached)), zap.Error(err))
			return model.FilterVisible(cached, c.cfg.Viewer), nil
		}
		return nil, err
	}
	return model.FilterVisible(groups, c.cfg.Viewer), nil
}

// refreshGroups fetches and writes through. Concurrent refreshes share one
// request.
func (c *Controller) refreshGroups(ctx context.Context) ([]model.Group, error) {
	v, err, _ := c.flight.Do("groups", func() (any, error) {
		c.loadingGroups.Store(true)
		defer c.loadingGroups.Store(false)

		groups, err := c.api.FetchGroups(ctx)
		if err != nil {
			return nil, fmt.Errorf("fetch groups: %w", err)
		}
		if err := c.cache.WriteGroups(ctx, groups); err != nil {
			c.logger.Debug("groups not cached", zap.Error(err))
		}
		model.SortGroups(groups)
		c.events.emit(EventGroupsRefreshed, Payload{Groups: model.FilterVisible(groups, c.cfg.Viewer)})
		return groups, nil
	})
	if err != nil {
		return nil, err
	}
	return cloneGroups(v.([]model.Group)), nil
}

func (c *Controller) refreshGroupsInBackground() {
	accepted := c.pool.TrySubmit(func(ctx context.Context) {
		if _, err := c.refreshGroups(ctx); err != nil {
			c.logger.Warn("background group refresh failed", zap.Error(err))
		}
	})
	if !accepted {
		c.logger.Debug("background group refresh dropped, pool busy")
	}
}

func cloneGroups(groups []model.Group) []model.Group {
	out := make([]model.Group, len(groups))
	for i, g := range groups {
		g.Members = append([]string(nil), g.Members...)
		out[i] = g
	}
	return out
}

// OpenGroup makes groupID the open group: the view is cleared, pagination
// is reset, the initial page is loaded cache-first and a poll starts.
// Opening a group closes the previous subscription.
//
// When the initial load fails the subscription is still returned with the
// error; polling keeps trying.
func (c *Controller) OpenGroup(ctx context.Context, groupID string) (*Subscription, error) {
	if groupID == "" {
		return nil, errors.New("open group: empty group id")
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	prev := c.sub
	c.gen++
	gen := c.gen
	c.groupID = groupID
	c.messages = nil
	cur := pagination.NewCursor(c.api, c.cfg.PageSize, c.logger.Named("pagination"))
	c.cursor = cur
	sub := newSubscription(c, groupID, gen)
	c.sub = sub
	c.mu.Unlock()

	if prev != nil {
		prev.stop()
	}
	sub.start()

	stale, err := c.initialLoad(ctx, groupID, gen, cur)
	if stale {
		sub.kick()
	}
	return sub, err
}

// initialLoad fills the view for gen. It reports whether what was shown came
// from a stale cache, so the caller can refresh right away.
func (c *Controller) initialLoad(ctx context.Context, groupID string, gen uint64, cur *pagination.Cursor) (bool, error) {
	c.loadingMessages.Store(true)
	defer c.loadingMessages.Store(false)

	pageSize := cur.PageSize()
	cached, _ := c.cache.ReadMessages(ctx, groupID)
	if len(cached) > 0 {
		if len(cached) > pageSize {
			cached = cached[len(cached)-pageSize:]
		}
		if !c.applyLatest(gen, groupID, cached) {
			return false, nil
		}
		return !c.cache.IsMessagesFresh(ctx, groupID), nil
	}

	fetched, err := c.api.FetchMessages(ctx, groupID, pageSize, time.Time{})
	if err != nil {
		c.forgetGroup(ctx, groupID, err)
		return false, fmt.Errorf("open group %s: %w", groupID, err)
	}
	if len(fetched) < pageSize {
		cur.MarkExhausted(groupID)
	}
	if err := c.cache.WriteMessages(ctx, groupID, fetched); err != nil {
		c.logger.Debug("initial page not cached", zap.String("group_id", groupID), zap.Error(err))
	}
	c.applyLatest(gen, groupID, fetched)
	return false, nil
}

// applyLatest merges a latest page into the view if gen is still current
// and emits the resulting events. It reports whether the page was applied.
func (c *Controller) applyLatest(gen uint64, groupID string, fetched []model.Message) bool {
	c.mu.Lock()
	if c.closed || c.gen != gen {
		c.mu.Unlock()
		c.logger.Debug("discarding result for a group that is no longer open", zap.String("group_id", groupID))
		metrics.IncPollTick("discarded")
		return false
	}
	out, appended, updated := mergeLatest(c.messages, fetched)
	c.messages = out
	c.mu.Unlock()

	switch {
	case len(appended) > 0:
		metrics.IncPollTick("appended")
	case len(updated) > 0:
		metrics.IncPollTick("updated")
	default:
		metrics.IncPollTick("unchanged")
	}
	if len(updated) > 0 {
		c.events.emit(EventMessagesUpdated, Payload{GroupID: groupID, Messages: updated})
	}
	if len(appended) > 0 {
		c.events.emit(EventMessagesAppended, Payload{GroupID: groupID, Messages: appended})
		c.events.emit(EventScrollLatest, Payload{GroupID: groupID})
	}
	return true
}

// pollOnce fetches the latest page of groupID and merges it silently.
func (c *Controller) pollOnce(ctx context.Context, groupID string, gen uint64) {
	if ctx.Err() != nil || !c.isCurrent(gen) {
		return
	}
	fetched, err := c.api.FetchMessages(ctx, groupID, c.cfg.PageSize, time.Time{})
	if err != nil {
		if ctx.Err() == nil {
			metrics.IncPollTick("error")
			c.logger.Debug("poll failed", zap.String("group_id", groupID), zap.Error(err))
			c.forgetGroup(ctx, groupID, err)
		}
		return
	}
	if !c.isCurrent(gen) {
		metrics.IncPollTick("discarded")
		return
	}
	if err := c.cache.WriteMessages(ctx, groupID, fetched); err != nil {
		c.logger.Debug("polled page not cached", zap.String("group_id", groupID), zap.Error(err))
	}
	c.applyLatest(gen, groupID, fetched)
}

// forgetGroup handles a group the server no longer serves to this viewer:
// its cached messages are dropped and the group list is marked for refetch.
// Other failures are left alone.
func (c *Controller) forgetGroup(ctx context.Context, groupID string, err error) {
	var se *remote.StatusError
	if !errors.As(err, &se) || (se.Code != http.StatusNotFound && se.Code != http.StatusForbidden) {
		return
	}
	c.logger.Warn("group refused by server, dropping its cache",
		zap.String("group_id", groupID), zap.Int("status", se.Code))
	if err := c.cache.ClearMessages(ctx, groupID); err != nil {
		c.logger.Debug("cached messages not cleared", zap.String("group_id", groupID), zap.Error(err))
	}
	c.cache.InvalidateGroups()
}

func (c *Controller) isCurrent(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && c.gen == gen
}

// refreshLatestInBackground queues a poll of the open group on the pool.
func (c *Controller) refreshLatestInBackground(groupID string) {
	c.mu.Lock()
	gen, current := c.gen, c.groupID == groupID
	c.mu.Unlock()
	if !current {
		return
	}
	if !c.pool.TrySubmit(func(ctx context.Context) { c.pollOnce(ctx, groupID, gen) }) {
		c.logger.Debug("background message refresh dropped, pool busy", zap.String("group_id", groupID))
	}
}

// SendMessage shows an optimistic message at once and sends it. On success
// the temp entry is replaced by the server copy and the group is
// refreshed. On failure the temp entry is removed and a *SendError carrying
// the untouched draft is returned.
func (c *Controller) SendMessage(ctx context.Context, groupID, content string, files []model.PendingFile) (*model.Message, error) {
	if strings.TrimSpace(content) == "" && len(files) == 0 {
		return nil, ErrEmptyMessage
	}
	if c.isClosed() {
		return nil, ErrClosed
	}

	temp, pending := c.sends.Begin(optimistic.Draft{GroupID: groupID, Content: content, Files: files})
	if c.insertTemp(temp) {
		c.events.emit(EventMessagesAppended, Payload{GroupID: groupID, Messages: []model.Message{temp.Clone()}})
		c.events.emit(EventScrollLatest, Payload{GroupID: groupID})
	}

	var (
		sent *model.Message
		err  error
	)
	if len(files) > 0 {
		sent, err = c.api.SendMessageWithFiles(ctx, groupID, content, files)
	} else {
		sent, err = c.api.SendMessage(ctx, groupID, content, nil)
	}
	if err != nil {
		draft := c.sends.Rollback(pending)
		c.removeTemp(temp.ID)
		c.logger.Warn("send failed, rolled back", zap.String("group_id", groupID), zap.String("temp_id", temp.ID), zap.Error(err))
		c.events.emit(EventSendFailed, Payload{GroupID: groupID, TempID: temp.ID, Draft: &draft, Err: err})
		return nil, &SendError{Draft: draft, Err: err}
	}

	c.sends.Confirm(pending)
	confirmed := sent.Clone()
	if confirmed.GroupID == "" {
		confirmed.GroupID = groupID
	}
	if err := c.cache.WriteMessage(ctx, confirmed); err != nil {
		c.logger.Debug("sent message not cached", zap.String("id", confirmed.ID), zap.Error(err))
	}
	if shown, ok := c.replaceTemp(temp.ID, confirmed); ok {
		c.events.emit(EventMessagesUpdated, Payload{GroupID: groupID, TempID: temp.ID, Messages: []model.Message{shown}})
	}
	c.refreshLatestInBackground(groupID)
	return &confirmed, nil
}

func (c *Controller) insertTemp(msg model.Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.groupID != msg.GroupID {
		return false
	}
	c.messages = append(c.messages, msg.Clone())
	return true
}

func (c *Controller) removeTemp(tempID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.messages {
		if c.messages[i].ID == tempID {
			c.messages = append(c.messages[:i], c.messages[i+1:]...)
			return
		}
	}
}

// replaceTemp swaps the temp entry for the confirmed message in one step.
// If a poll already brought the confirmed id in, the temp entry is simply
// dropped and the held copy merged.
func (c *Controller) replaceTemp(tempID string, confirmed model.Message) (model.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tempAt, heldAt := -1, -1
	for i := range c.messages {
		switch c.messages[i].ID {
		case tempID:
			tempAt = i
		case confirmed.ID:
			heldAt = i
		}
	}
	if tempAt < 0 {
		return model.Message{}, false
	}
	if heldAt >= 0 {
		merged := model.Merge(c.messages[heldAt], confirmed)
		c.messages[heldAt] = merged
		c.messages = append(c.messages[:tempAt], c.messages[tempAt+1:]...)
		return merged.Clone(), true
	}
	c.messages[tempAt] = confirmed.Clone()
	model.SortMessages(c.messages)
	return confirmed.Clone(), true
}

// DeleteMessage deletes remotely, then tombstones the message in the cache
// and in the view without moving it.
func (c *Controller) DeleteMessage(ctx context.Context, id string) error {
	if model.IsTemporaryID(id) {
		if c.sends.IsPending(id) {
			return ErrPendingMessage
		}
		return fmt.Errorf("delete message %s: %w", id, ErrUnknownMessage)
	}
	if c.isClosed() {
		return ErrClosed
	}
	if err := c.api.DeleteMessage(ctx, id); err != nil {
		return fmt.Errorf("delete message %s: %w", id, err)
	}
	if err := c.cache.TombstoneMessage(ctx, id); err != nil {
		c.logger.Debug("tombstone not cached", zap.String("id", id), zap.Error(err))
	}

	c.mu.Lock()
	groupID := c.groupID
	var tombstoned *model.Message
	for i := range c.messages {
		if c.messages[i].ID == id {
			c.messages[i].Tombstone()
			m := c.messages[i].Clone()
			tombstoned = &m
			break
		}
	}
	c.mu.Unlock()

	if tombstoned != nil {
		c.events.emit(EventMessagesUpdated, Payload{GroupID: groupID, Messages: []model.Message{*tombstoned}})
	}
	return nil
}

// LoadOlderMessages prepends the page before the oldest loaded message.
// When the network fails, older messages from the cache are shown instead
// if there are any.
func (c *Controller) LoadOlderMessages(ctx context.Context, groupID string) (pagination.Page, error) {
	c.mu.Lock()
	if c.closed || c.groupID != groupID {
		c.mu.Unlock()
		return pagination.Page{}, ErrGroupNotOpen
	}
	gen, cur := c.gen, c.cursor
	var oldest *model.Message
	for i := range c.messages {
		if !model.IsTemporaryID(c.messages[i].ID) {
			m := c.messages[i].Clone()
			oldest = &m
			break
		}
	}
	c.mu.Unlock()

	// nothing confirmed in view yet (failed open, empty group, only pending
	// sends): there is no anchor to page from, which is not the start
	if oldest == nil {
		return pagination.Page{HasMore: cur.HasMore(groupID)}, nil
	}

	c.loadingOlder.Store(true)
	defer c.loadingOlder.Store(false)

	page, err := cur.LoadOlder(ctx, groupID, oldest)
	if err != nil {
		older := c.cachedOlder(ctx, groupID, oldest)
		if len(older) == 0 {
			return page, err
		}
		c.logger.Warn("older page unavailable, serving cache",
			zap.String("group_id", groupID), zap.Int("cached", len(older)), zap.Error(err))
		page = pagination.Page{Messages: older, HasMore: true}
	} else if len(page.Messages) > 0 {
		if err := c.cache.WriteMessages(ctx, groupID, page.Messages); err != nil {
			c.logger.Debug("older page not cached", zap.String("group_id", groupID), zap.Error(err))
		}
	}

	c.mu.Lock()
	if c.closed || c.gen != gen {
		c.mu.Unlock()
		return pagination.Page{HasMore: page.HasMore}, nil
	}
	merged, n := pagination.MergeOlder(c.messages, page.Messages)
	c.messages = merged
	prepended := model.CloneMessages(merged[:n])
	c.mu.Unlock()

	page.Messages = prepended
	if n > 0 {
		c.events.emit(EventMessagesPrepended, Payload{GroupID: groupID, Messages: prepended})
	}
	return page, nil
}

// cachedOlder returns up to a page of cached messages older than oldest.
func (c *Controller) cachedOlder(ctx context.Context, groupID string, oldest *model.Message) []model.Message {
	if oldest == nil {
		return nil
	}
	cached, err := c.cache.ReadMessages(ctx, groupID)
	if err != nil {
		return nil
	}
	var older []model.Message
	for _, m := range cached {
		if m.Before(oldest) {
			older = append(older, m)
		}
	}
	if n := c.cfg.PageSize; len(older) > n {
		older = older[len(older)-n:]
	}
	return older
}

// FetchAttachment returns the attachment payload, fetching it at most once
// however many callers ask concurrently.
func (c *Controller) FetchAttachment(ctx context.Context, id string) (*model.Attachment, error) {
	return c.fetcher.Get(ctx, id)
}

// Messages returns a copy of the open group's view in display order.
func (c *Controller) Messages() []model.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return model.CloneMessages(c.messages)
}

func (c *Controller) OpenGroupID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.groupID
}

// HasMoreMessages reports whether older history may exist for the open
// group. With no group open it is false.
func (c *Controller) HasMoreMessages() bool {
	c.mu.Lock()
	groupID, cur := c.groupID, c.cursor
	c.mu.Unlock()
	if groupID == "" || cur == nil {
		return false
	}
	return cur.HasMore(groupID)
}

func (c *Controller) LoadingGroups() bool   { return c.loadingGroups.Load() }
func (c *Controller) LoadingMessages() bool { return c.loadingMessages.Load() }
func (c *Controller) LoadingOlder() bool    { return c.loadingOlder.Load() }

// PendingSends is the number of sends not yet confirmed or rolled back.
func (c *Controller) PendingSends() int {
	return c.sends.InFlight()
}

// detach forgets sub if it is still the open subscription.
func (c *Controller) detach(sub *Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sub != sub {
		return
	}
	c.sub = nil
	c.gen++
	c.groupID = ""
	c.messages = nil
}

// Close stops polling and the worker pool. Results still in flight are
// discarded. It must not be called from an event handler.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	sub := c.sub
	c.sub = nil
	c.gen++
	c.groupID = ""
	c.messages = nil
	c.mu.Unlock()

	if sub != nil {
		sub.stop()
		<-sub.Done()
	}
	c.pool.Stop()
	c.logger.Debug("controller closed")
	return nil
}
