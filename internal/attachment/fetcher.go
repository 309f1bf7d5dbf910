// Package attachment fetches attachment payloads on demand, at most once per
// id.
package attachment

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/Gopher0727/PortalChat/internal/cache"
	"github.com/Gopher0727/PortalChat/internal/metrics"
	"github.com/Gopher0727/PortalChat/internal/model"
	"github.com/Gopher0727/PortalChat/internal/store"
)

// ErrAttachmentUnavailable is returned when the payload could not be
// fetched. Nothing is cached on failure; calling Get again retries.
var ErrAttachmentUnavailable = errors.New("attachment unavailable")

// Source is the remote side of the fetcher.
type Source interface {
	FetchAttachment(ctx context.Context, id string) (*model.Attachment, error)
}

type Fetcher struct {
	cache  *cache.Manager
	source Source
	logger *zap.Logger
	group  singleflight.Group

	// local holds payloads the store refused, so an outage never costs a
	// second network fetch.
	mu    sync.RWMutex
	local map[string]*model.Attachment
}

func NewFetcher(c *cache.Manager, source Source, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		cache:  c,
		source: source,
		logger: logger,
		local:  make(map[string]*model.Attachment),
	}
}

func clone(att *model.Attachment) *model.Attachment {
	c := *att
	c.Payload = append([]byte(nil), att.Payload...)
	return &c
}

func (f *Fetcher) lookupLocal(id string) (*model.Attachment, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	att, ok := f.local[id]
	return att, ok
}

func (f *Fetcher) lookup(ctx context.Context, id string) (*model.Attachment, bool) {
	if att, ok := f.lookupLocal(id); ok {
		metrics.IncAttachmentFetch("memory")
		return att, true
	}
	att, err := f.cache.ReadAttachment(ctx, id)
	if err == nil {
		metrics.IncAttachmentFetch("cache")
		return att, true
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		f.logger.Debug("attachment cache read failed", zap.String("id", id), zap.Error(err))
	}
	return nil, false
}

// Get returns the attachment with its payload. Concurrent calls for the
// same uncached id share one remote fetch; a caller whose ctx ends stops
// waiting without cancelling the fetch for the others.
func (f *Fetcher) Get(ctx context.Context, id string) (*model.Attachment, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty id", ErrAttachmentUnavailable)
	}
	if att, ok := f.lookup(ctx, id); ok {
		return clone(att), nil
	}

	ch := f.group.DoChan(id, func() (any, error) {
		return f.fetch(context.WithoutCancel(ctx), id)
	})
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrAttachmentUnavailable, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return clone(res.Val.(*model.Attachment)), nil
	}
}

func (f *Fetcher) fetch(ctx context.Context, id string) (*model.Attachment, error) {
	// a fetch that finished between lookup and DoChan already cached it
	if att, ok := f.lookup(ctx, id); ok {
		return att, nil
	}

	att, err := f.source.FetchAttachment(ctx, id)
	if err != nil {
		metrics.IncAttachmentFetch("error")
		f.logger.Warn("attachment fetch failed", zap.String("id", id), zap.Error(err))
		return nil, fmt.Errorf("%w: %s: %w", ErrAttachmentUnavailable, id, err)
	}
	metrics.IncAttachmentFetch("network")

	att.ID = id
	if att.Size == 0 {
		att.Size = int64(len(att.Payload))
	}
	if err := f.cache.WriteAttachment(ctx, att); err != nil {
		f.mu.Lock()
		f.local[id] = att
		f.mu.Unlock()
	}
	return att, nil
}
