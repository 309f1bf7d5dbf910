package chatsync

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Subscription is the handle of an open group. It owns the poll loop;
// closing it stops the ticker and, if the group is still the open one,
// clears the view.
type Subscription struct {
	c       *Controller
	groupID string
	gen     uint64

	ctx    context.Context
	cancel context.CancelFunc
	kickCh chan struct{}
	done   chan struct{}
	once   sync.Once
}

func newSubscription(c *Controller, groupID string, gen uint64) *Subscription {
	ctx, cancel := context.WithCancel(context.Background())
	return &Subscription{
		c:       c,
		groupID: groupID,
		gen:     gen,
		ctx:     ctx,
		cancel:  cancel,
		kickCh:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

func (s *Subscription) GroupID() string {
	return s.groupID
}

// Done is closed once the poll loop has exited.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

func (s *Subscription) start() {
	go s.run(s.c.cfg.PollInterval)
}

func (s *Subscription) run(interval time.Duration) {
	defer close(s.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.c.logger.Debug("poll started", zap.String("group_id", s.groupID), zap.Duration("interval", interval))
	for {
		select {
		case <-s.ctx.Done():
			s.c.logger.Debug("poll stopped", zap.String("group_id", s.groupID))
			return
		case <-s.kickCh:
			s.c.pollOnce(s.ctx, s.groupID, s.gen)
		case <-ticker.C:
			s.c.pollOnce(s.ctx, s.groupID, s.gen)
		}
	}
}

// kick asks for a poll now instead of at the next tick.
func (s *Subscription) kick() {
	select {
	case s.kickCh <- struct{}{}:
	default:
	}
}

func (s *Subscription) stop() {
	s.once.Do(s.cancel)
}

// Close stops polling. It is idempotent and does not wait for a poll in
// flight; its result is discarded.
func (s *Subscription) Close() error {
	s.c.detach(s)
	s.stop()
	return nil
}
