// Package optimistic tracks messages shown to the sender before the server
// has confirmed them.
package optimistic

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Gopher0727/PortalChat/internal/metrics"
	"github.com/Gopher0727/PortalChat/internal/model"
	"github.com/Gopher0727/PortalChat/utils/snowflake"
)

// Draft is what the user composed. A failed send hands it back unchanged.
type Draft struct {
	GroupID string
	Content string
	Files   []model.PendingFile
}

func (d Draft) clone() Draft {
	if d.Files == nil {
		return d
	}
	files := make([]model.PendingFile, len(d.Files))
	for i, f := range d.Files {
		f.Payload = append([]byte(nil), f.Payload...)
		files[i] = f
	}
	d.Files = files
	return d
}

// Pending is the handle of one in-flight send.
type Pending struct {
	TempID    string
	Draft     Draft
	StartedAt time.Time
}

type Reconciler struct {
	senderID string
	ids      *snowflake.Generator
	now      func() time.Time
	logger   *zap.Logger

	mu      sync.Mutex
	pending map[string]*Pending
}

type Option func(*Reconciler)

func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

func WithLogger(logger *zap.Logger) Option {
	return func(r *Reconciler) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func NewReconciler(senderID string, opts ...Option) (*Reconciler, error) {
	r := &Reconciler{
		senderID: senderID,
		now:      time.Now,
		logger:   zap.NewNop(),
		pending:  make(map[string]*Pending),
	}
	for _, opt := range opts {
		opt(r)
	}
	ids, err := snowflake.NewGenerator(snowflake.Config{WorkerID: -1, Now: r.now})
	if err != nil {
		return nil, fmt.Errorf("temp id generator: %w", err)
	}
	r.ids = ids
	return r, nil
}

// Begin registers a new send and returns the optimistic message to show.
// Every call yields an independent record; sends are not serialized.
func (r *Reconciler) Begin(d Draft) (model.Message, *Pending) {
	p := &Pending{
		TempID:    r.ids.NextString(model.TempIDPrefix),
		Draft:     d.clone(),
		StartedAt: r.now(),
	}

	var refs []model.AttachmentRef
	for _, f := range d.Files {
		refs = append(refs, f.Ref())
	}
	msg := model.Message{
		ID:          p.TempID,
		GroupID:     d.GroupID,
		SenderID:    r.senderID,
		Content:     d.Content,
		Attachments: refs,
		CreatedAt:   p.StartedAt,
		Status:      model.StatusSending,
	}

	r.mu.Lock()
	r.pending[p.TempID] = p
	n := len(r.pending)
	r.mu.Unlock()
	metrics.SetSendsInFlight(n)

	r.logger.Debug("optimistic send started", zap.String("temp_id", p.TempID), zap.String("group_id", d.GroupID))
	return msg, p
}

func (r *Reconciler) finish(p *Pending) bool {
	r.mu.Lock()
	_, ok := r.pending[p.TempID]
	delete(r.pending, p.TempID)
	n := len(r.pending)
	r.mu.Unlock()
	metrics.SetSendsInFlight(n)
	return ok
}

// Confirm ends a successful send. The caller drops TempID from its view in
// the same step that adds the confirmed message.
func (r *Reconciler) Confirm(p *Pending) {
	if r.finish(p) {
		metrics.IncSend("confirmed")
		r.logger.Debug("optimistic send confirmed", zap.String("temp_id", p.TempID))
	}
}

// Rollback ends a failed send and returns the original draft.
func (r *Reconciler) Rollback(p *Pending) Draft {
	if r.finish(p) {
		metrics.IncSend("rolled_back")
		r.logger.Debug("optimistic send rolled back", zap.String("temp_id", p.TempID))
	}
	return p.Draft.clone()
}

func (r *Reconciler) IsPending(tempID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pending[tempID]
	return ok
}

func (r *Reconciler) InFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
