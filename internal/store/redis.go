package store

import (
	"context"
	"errors"
	"strconv"
	"sync"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	pkgredis "github.com/Gopher0727/PortalChat/internal/pkg/redis"
)

// RedisStore keeps each record in a hash and maintains two sets:
//
//	portalchat:rec:<kind>:<id>   hash {g, t, d}
//	portalchat:kind:<kind>       set of ids
//	portalchat:group:<gid>       set of message ids
type RedisStore struct {
	client *pkgredis.Client
	opts   options

	// mu serializes writers; the group index move on Put reads the
	// previous group id before the MULTI.
	mu sync.Mutex
}

func NewRedisStore(client *pkgredis.Client, opts ...Option) *RedisStore {
	return &RedisStore{client: client, opts: buildOptions(opts)}
}

func (s *RedisStore) recKey(kind Kind, id string) string {
	return s.client.Key("rec", string(kind), id)
}

func (s *RedisStore) kindKey(kind Kind) string {
	return s.client.Key("kind", string(kind))
}

func (s *RedisStore) groupKey(groupID string) string {
	return s.client.Key("group", groupID)
}

func (s *RedisStore) Put(ctx context.Context, rec *Record) error {
	if err := validate(rec); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rdb := s.client.GetClient()
	key := s.recKey(rec.Kind, rec.ID)
	prevGroup, err := rdb.HGet(ctx, key, "g").Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return unavailable("put", err)
	}

	rec.CachedAt = s.opts.now()
	_, err = rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"g", rec.GroupID,
			"t", strconv.FormatInt(rec.CachedAt.UnixNano(), 10),
			"d", rec.Data,
		)
		pipe.SAdd(ctx, s.kindKey(rec.Kind), rec.ID)
		if prevGroup != "" && prevGroup != rec.GroupID {
			pipe.SRem(ctx, s.groupKey(prevGroup), rec.ID)
		}
		if rec.Kind == KindMessage && rec.GroupID != "" {
			pipe.SAdd(ctx, s.groupKey(rec.GroupID), rec.ID)
		}
		return nil
	})
	if err != nil {
		s.opts.logger.Error("redis put failed", zap.String("kind", string(rec.Kind)), zap.String("id", rec.ID), zap.Error(err))
		return unavailable("put", err)
	}
	return nil
}

func decodeHash(kind Kind, id string, h map[string]string) (*Record, error) {
	if len(h) == 0 {
		return nil, ErrNotFound
	}
	nanos, err := strconv.ParseInt(h["t"], 10, 64)
	if err != nil {
		return nil, err
	}
	return &Record{
		Kind:     kind,
		ID:       id,
		GroupID:  h["g"],
		Data:     []byte(h["d"]),
		CachedAt: unixNanos(nanos),
	}, nil
}

func (s *RedisStore) Get(ctx context.Context, kind Kind, id string) (*Record, error) {
	h, err := s.client.GetClient().HGetAll(ctx, s.recKey(kind, id)).Result()
	if err != nil {
		return nil, unavailable("get", err)
	}
	rec, err := decodeHash(kind, id, h)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, unavailable("get", err)
	}
	return rec, err
}

func (s *RedisStore) loadMany(ctx context.Context, op string, kind Kind, ids []string) ([]*Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rdb := s.client.GetClient()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err := rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, s.recKey(kind, id))
		}
		return nil
	})
	if err != nil {
		return nil, unavailable(op, err)
	}

	out := make([]*Record, 0, len(ids))
	for i, cmd := range cmds {
		rec, err := decodeHash(kind, ids[i], cmd.Val())
		if errors.Is(err, ErrNotFound) {
			// index entry outlived its record
			continue
		}
		if err != nil {
			return nil, unavailable(op, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *RedisStore) GetAll(ctx context.Context, kind Kind) ([]*Record, error) {
	ids, err := s.client.GetClient().SMembers(ctx, s.kindKey(kind)).Result()
	if err != nil {
		return nil, unavailable("get all", err)
	}
	return s.loadMany(ctx, "get all", kind, ids)
}

func (s *RedisStore) GetByGroup(ctx context.Context, groupID string) ([]*Record, error) {
	ids, err := s.client.GetClient().SMembers(ctx, s.groupKey(groupID)).Result()
	if err != nil {
		return nil, unavailable("get by group", err)
	}
	return s.loadMany(ctx, "get by group", KindMessage, ids)
}

func (s *RedisStore) Remove(ctx context.Context, kind Kind, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rdb := s.client.GetClient()
	key := s.recKey(kind, id)
	groupID, err := rdb.HGet(ctx, key, "g").Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return unavailable("remove", err)
	}
	_, err = rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.SRem(ctx, s.kindKey(kind), id)
		if groupID != "" {
			pipe.SRem(ctx, s.groupKey(groupID), id)
		}
		return nil
	})
	if err != nil {
		return unavailable("remove", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
