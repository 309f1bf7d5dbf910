// Package store is the durable keyed storage under the chat cache. It knows
// nothing about groups or messages beyond a record kind, an id, and the
// group-id secondary index used by message records; typed access lives in
// the cache package.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Gopher0727/PortalChat/config"
	"github.com/Gopher0727/PortalChat/internal/pkg/redis"
)

var (
	// ErrStoreUnavailable reports that local persistence cannot be used
	// (quota exceeded, storage disabled, backend down). Callers degrade to
	// network-only operation instead of failing the request.
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrNotFound         = errors.New("record not found")
)

// Kind is one of the three logical stores.
type Kind string

const (
	KindGroup      Kind = "group"
	KindMessage    Kind = "message"
	KindAttachment Kind = "attachment"
)

func (k Kind) Valid() bool {
	switch k {
	case KindGroup, KindMessage, KindAttachment:
		return true
	}
	return false
}

// Record is one stored entry. GroupID is only meaningful for message
// records and feeds the secondary index.
type Record struct {
	Kind     Kind
	ID       string
	GroupID  string
	Data     []byte
	CachedAt time.Time
}

// Store is implemented by every backend. Each call is atomic on its own;
// there are no multi-call transactions.
type Store interface {
	// Put upserts rec by (kind, id) and stamps rec.CachedAt with the
	// store clock.
	Put(ctx context.Context, rec *Record) error
	// Get returns ErrNotFound when the record is absent.
	Get(ctx context.Context, kind Kind, id string) (*Record, error)
	// GetAll returns every record of a kind in no particular order.
	GetAll(ctx context.Context, kind Kind) ([]*Record, error)
	// GetByGroup returns the message records indexed under groupID.
	GetByGroup(ctx context.Context, groupID string) ([]*Record, error)
	// Remove deletes a record; removing an absent record is not an error.
	Remove(ctx context.Context, kind Kind, id string) error
	Close() error
}

// Option configures a backend.
type Option func(*options)

type options struct {
	now    func() time.Time
	logger *zap.Logger
}

// WithClock overrides the clock used to stamp CachedAt.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func unavailable(op string, err error) error {
	return fmt.Errorf("store %s: %w: %w", op, ErrStoreUnavailable, err)
}

func validate(rec *Record) error {
	if rec == nil {
		return errors.New("store: nil record")
	}
	if !rec.Kind.Valid() {
		return fmt.Errorf("store: invalid kind %q", rec.Kind)
	}
	if rec.ID == "" {
		return errors.New("store: empty record id")
	}
	return nil
}

func unixNanos(n int64) time.Time {
	return time.Unix(0, n)
}

func cloneRecord(rec *Record) *Record {
	c := *rec
	c.Data = append([]byte(nil), rec.Data...)
	return &c
}

// Open builds the backend selected by cfg.Store.Backend.
func Open(cfg *config.Config, opts ...Option) (Store, error) {
	switch cfg.Store.Backend {
	case "memory":
		return NewMemoryStore(cfg.Store.Quota, opts...), nil
	case "pebble":
		return OpenPebble(cfg.Store.Path, opts...)
	case "redis":
		client, err := redis.NewClient(&cfg.Redis)
		if err != nil {
			return nil, unavailable("open", err)
		}
		return NewRedisStore(client, opts...), nil
	case "postgres":
		return OpenPostgres(&cfg.Postgres, opts...)
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
}
