package store

import (
	"context"
	"errors"
	"sync"
)

var errQuotaExceeded = errors.New("quota exceeded")

// MemoryStore is a goroutine-safe in-memory backend. A positive quota caps
// the number of records; inserts past it fail with ErrStoreUnavailable the
// way browser storage does when full.
type MemoryStore struct {
	mu       sync.RWMutex
	opts     options
	quota    int
	size     int
	records  map[Kind]map[string]*Record
	byGroup  map[string]map[string]struct{}
	disabled bool
	closed   bool
}

func NewMemoryStore(quota int, opts ...Option) *MemoryStore {
	return &MemoryStore{
		opts:  buildOptions(opts),
		quota: quota,
		records: map[Kind]map[string]*Record{
			KindGroup:      {},
			KindMessage:    {},
			KindAttachment: {},
		},
		byGroup: make(map[string]map[string]struct{}),
	}
}

// SetAvailable toggles a simulated storage outage.
func (s *MemoryStore) SetAvailable(available bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disabled = !available
}

func (s *MemoryStore) check(op string) error {
	if s.closed {
		return unavailable(op, errClosed)
	}
	if s.disabled {
		return unavailable(op, errors.New("storage disabled"))
	}
	return nil
}

func (s *MemoryStore) Put(ctx context.Context, rec *Record) error {
	if err := validate(rec); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("put"); err != nil {
		return err
	}

	bucket := s.records[rec.Kind]
	prev, exists := bucket[rec.ID]
	if !exists && s.quota > 0 && s.size >= s.quota {
		return unavailable("put", errQuotaExceeded)
	}

	stored := cloneRecord(rec)
	stored.CachedAt = s.opts.now()
	rec.CachedAt = stored.CachedAt

	if exists && prev.GroupID != "" && prev.GroupID != stored.GroupID {
		s.unindex(prev.GroupID, prev.ID)
	}
	bucket[rec.ID] = stored
	if !exists {
		s.size++
	}
	if rec.Kind == KindMessage && stored.GroupID != "" {
		idx, ok := s.byGroup[stored.GroupID]
		if !ok {
			idx = make(map[string]struct{})
			s.byGroup[stored.GroupID] = idx
		}
		idx[stored.ID] = struct{}{}
	}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, kind Kind, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check("get"); err != nil {
		return nil, err
	}
	rec, ok := s.records[kind][id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRecord(rec), nil
}

func (s *MemoryStore) GetAll(ctx context.Context, kind Kind) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check("get all"); err != nil {
		return nil, err
	}
	out := make([]*Record, 0, len(s.records[kind]))
	for _, rec := range s.records[kind] {
		out = append(out, cloneRecord(rec))
	}
	return out, nil
}

func (s *MemoryStore) GetByGroup(ctx context.Context, groupID string) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check("get by group"); err != nil {
		return nil, err
	}
	idx := s.byGroup[groupID]
	out := make([]*Record, 0, len(idx))
	for id := range idx {
		if rec, ok := s.records[KindMessage][id]; ok {
			out = append(out, cloneRecord(rec))
		}
	}
	return out, nil
}

func (s *MemoryStore) Remove(ctx context.Context, kind Kind, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("remove"); err != nil {
		return err
	}
	rec, ok := s.records[kind][id]
	if !ok {
		return nil
	}
	delete(s.records[kind], id)
	s.size--
	if rec.GroupID != "" {
		s.unindex(rec.GroupID, id)
	}
	return nil
}

func (s *MemoryStore) unindex(groupID, id string) {
	idx := s.byGroup[groupID]
	delete(idx, id)
	if len(idx) == 0 {
		delete(s.byGroup, groupID)
	}
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
