package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"
)

// PebbleStore keeps records on disk. Key layout:
//
//	rec/<kind>/<id>          -> encoded record
//	idx/group/<gid>/<id>     -> empty (message index)
//
// ids are path-escaped so a '/' inside an id cannot leak into the prefix.
type PebbleStore struct {
	// mu guards the db handle against Close; pebble itself is safe for
	// concurrent use. Put holds it exclusively so the read-then-write of
	// the group index cannot interleave with another Put of the same id.
	mu   sync.RWMutex
	db   *pebble.DB
	opts options
}

var errClosed = errors.New("closed")

type pebbleValue struct {
	GroupID  string    `json:"g,omitempty"`
	CachedAt time.Time `json:"t"`
	Data     []byte    `json:"d"`
}

func OpenPebble(path string, opts ...Option) (*PebbleStore, error) {
	o := buildOptions(opts)
	o.logger.Info("opening pebble store", zap.String("path", path))
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		o.logger.Error("pebble open failed", zap.String("path", path), zap.Error(err))
		return nil, unavailable("open", err)
	}
	return &PebbleStore{db: db, opts: o}, nil
}

func recordKey(kind Kind, id string) []byte {
	return []byte("rec/" + string(kind) + "/" + url.PathEscape(id))
}

func kindPrefix(kind Kind) []byte {
	return []byte("rec/" + string(kind) + "/")
}

func indexKey(groupID, id string) []byte {
	return []byte("idx/group/" + url.PathEscape(groupID) + "/" + url.PathEscape(id))
}

func indexPrefix(groupID string) []byte {
	return []byte("idx/group/" + url.PathEscape(groupID) + "/")
}

// upperBound returns the smallest key greater than every key with prefix.
func upperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

func (s *PebbleStore) read(key []byte) (*pebbleValue, error) {
	data, closer, err := s.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer closer.Close()
	var v pebbleValue
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return &v, nil
}

func (s *PebbleStore) Put(ctx context.Context, rec *Record) error {
	if err := validate(rec); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return unavailable("put", errClosed)
	}
	key := recordKey(rec.Kind, rec.ID)

	prev, err := s.read(key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return unavailable("put", err)
	}

	rec.CachedAt = s.opts.now()
	data, err := json.Marshal(pebbleValue{GroupID: rec.GroupID, CachedAt: rec.CachedAt, Data: rec.Data})
	if err != nil {
		return fmt.Errorf("store put: %w", err)
	}

	batch := s.db.NewBatch()
	defer batch.Close()
	if prev != nil && prev.GroupID != "" && prev.GroupID != rec.GroupID {
		if err := batch.Delete(indexKey(prev.GroupID, rec.ID), nil); err != nil {
			return unavailable("put", err)
		}
	}
	if err := batch.Set(key, data, nil); err != nil {
		return unavailable("put", err)
	}
	if rec.Kind == KindMessage && rec.GroupID != "" {
		if err := batch.Set(indexKey(rec.GroupID, rec.ID), nil, nil); err != nil {
			return unavailable("put", err)
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		s.opts.logger.Error("pebble commit failed", zap.String("kind", string(rec.Kind)), zap.String("id", rec.ID), zap.Error(err))
		return unavailable("put", err)
	}
	return nil
}

func (s *PebbleStore) Get(ctx context.Context, kind Kind, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.get(kind, id)
}

func (s *PebbleStore) get(kind Kind, id string) (*Record, error) {
	if s.db == nil {
		return nil, unavailable("get", errClosed)
	}
	v, err := s.read(recordKey(kind, id))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, unavailable("get", err)
	}
	return &Record{Kind: kind, ID: id, GroupID: v.GroupID, Data: v.Data, CachedAt: v.CachedAt}, nil
}

func (s *PebbleStore) scan(prefix []byte, fn func(key, value []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: upperBound(prefix)})
	if err != nil {
		return err
	}
	defer iter.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

func (s *PebbleStore) GetAll(ctx context.Context, kind Kind) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, unavailable("get all", errClosed)
	}
	prefix := kindPrefix(kind)
	var out []*Record
	err := s.scan(prefix, func(key, value []byte) error {
		id, err := url.PathUnescape(string(key[len(prefix):]))
		if err != nil {
			return err
		}
		var v pebbleValue
		if err := json.Unmarshal(value, &v); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		out = append(out, &Record{Kind: kind, ID: id, GroupID: v.GroupID, Data: v.Data, CachedAt: v.CachedAt})
		return nil
	})
	if err != nil {
		return nil, unavailable("get all", err)
	}
	return out, nil
}

func (s *PebbleStore) GetByGroup(ctx context.Context, groupID string) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, unavailable("get by group", errClosed)
	}
	prefix := indexPrefix(groupID)
	var ids []string
	err := s.scan(prefix, func(key, _ []byte) error {
		id, err := url.PathUnescape(string(key[len(prefix):]))
		if err != nil {
			return err
		}
		ids = append(ids, id)
		return nil
	})
	if err != nil {
		return nil, unavailable("get by group", err)
	}

	out := make([]*Record, 0, len(ids))
	for _, id := range ids {
		rec, err := s.get(KindMessage, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *PebbleStore) Remove(ctx context.Context, kind Kind, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return unavailable("remove", errClosed)
	}
	key := recordKey(kind, id)
	prev, err := s.read(key)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return unavailable("remove", err)
	}

	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batch.Delete(key, nil); err != nil {
		return unavailable("remove", err)
	}
	if prev.GroupID != "" {
		if err := batch.Delete(indexKey(prev.GroupID, id), nil); err != nil {
			return unavailable("remove", err)
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return unavailable("remove", err)
	}
	return nil
}

func (s *PebbleStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	s.opts.logger.Info("pebble store closed")
	return err
}
