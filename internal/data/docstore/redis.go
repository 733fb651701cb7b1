package docstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"gorm.io/datatypes"

	"github.com/yungbote/research-agent-backend/internal/platform/dbctx"
	"github.com/yungbote/research-agent-backend/internal/platform/logger"
)

const (
	fieldVersion = "v"
	fieldData    = "d"
	fieldUpdated = "u"

	redisPutAttempts = 8
	redisScanCount   = 200
)

// redisStore keeps each document in a hash and relies on WATCH/MULTI for the
// conditional write.
type redisStore struct {
	log    *logger.Logger
	rdb    *goredis.Client
	prefix string
}

func NewRedisStore(rdb *goredis.Client, prefix string, log *logger.Logger) Store {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "docs"
	}
	return &redisStore{log: log.With("store", "RedisDocStore"), rdb: rdb, prefix: prefix}
}

func (s *redisStore) key(collection, id string) string {
	return s.prefix + ":" + collection + ":" + id
}

func ctxOf(dbc dbctx.Context) context.Context {
	if dbc.Ctx == nil {
		return context.Background()
	}
	return dbc.Ctx
}

func (s *redisStore) Get(dbc dbctx.Context, collection, id string) (*Record, error) {
	vals, err := s.rdb.HGetAll(ctxOf(dbc), s.key(collection, id)).Result()
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	if len(vals) == 0 {
		return nil, ErrNotFound
	}
	return decodeHash(id, vals)
}

func (s *redisStore) Put(dbc dbctx.Context, collection string, rec Record) (*Record, error) {
	ctx := ctxOf(dbc)
	key := s.key(collection, rec.ID)
	var out *Record
	for attempt := 0; attempt < redisPutAttempts; attempt++ {
		err := s.rdb.Watch(ctx, func(tx *goredis.Tx) error {
			current, err := readVersion(ctx, tx, key)
			if err != nil {
				return err
			}
			now := time.Now().UTC()
			_, err = tx.TxPipelined(ctx, func(p goredis.Pipeliner) error {
				p.HSet(ctx, key, hashFields(current+1, rec.Data, now)...)
				return nil
			})
			if err == nil {
				out = &Record{ID: rec.ID, Version: current + 1, Data: cloneData(rec.Data), UpdatedAt: now}
			}
			return err
		}, key)
		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("put %s/%s: %w", collection, rec.ID, err)
		}
		return out, nil
	}
	return nil, fmt.Errorf("put %s/%s: too much contention", collection, rec.ID)
}

func (s *redisStore) ConditionalPut(dbc dbctx.Context, collection string, rec Record, expectedVersion int64, also ...Write) (*Record, error) {
	ctx := ctxOf(dbc)
	key := s.key(collection, rec.ID)
	var out *Record
	err := s.rdb.Watch(ctx, func(tx *goredis.Tx) error {
		current, err := readVersion(ctx, tx, key)
		if err != nil {
			return err
		}
		if current != expectedVersion {
			return ErrVersionMismatch
		}
		now := time.Now().UTC()
		_, err = tx.TxPipelined(ctx, func(p goredis.Pipeliner) error {
			p.HSet(ctx, key, hashFields(expectedVersion+1, rec.Data, now)...)
			for _, w := range also {
				wk := s.key(w.Collection, w.Record.ID)
				if w.Delete {
					p.Del(ctx, wk)
					continue
				}
				p.HSet(ctx, wk, fieldData, []byte(nonNullJSON(w.Record.Data)), fieldUpdated, now.UnixNano())
				p.HIncrBy(ctx, wk, fieldVersion, 1)
			}
			return nil
		})
		if err == nil {
			out = &Record{ID: rec.ID, Version: expectedVersion + 1, Data: cloneData(rec.Data), UpdatedAt: now}
		}
		return err
	}, key)
	if errors.Is(err, goredis.TxFailedErr) || errors.Is(err, ErrVersionMismatch) {
		return nil, ErrVersionMismatch
	}
	if err != nil {
		return nil, fmt.Errorf("conditional put %s/%s: %w", collection, rec.ID, err)
	}
	return out, nil
}

func (s *redisStore) Delete(dbc dbctx.Context, collection, id string) error {
	n, err := s.rdb.Del(ctxOf(dbc), s.key(collection, id)).Result()
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Scan walks the keyspace with SCAN, so documents written during the pass may
// or may not be visited.
func (s *redisStore) Scan(dbc dbctx.Context, collection string, fn func(Record) error) error {
	ctx := ctxOf(dbc)
	prefix := s.key(collection, "")
	iter := s.rdb.Scan(ctx, 0, prefix+"*", redisScanCount).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		vals, err := s.rdb.HGetAll(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("scan %s: %w", collection, err)
		}
		if len(vals) == 0 {
			continue // deleted since SCAN returned it
		}
		rec, err := decodeHash(strings.TrimPrefix(key, prefix), vals)
		if err != nil {
			return err
		}
		if err := fn(*rec); err != nil {
			return err
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan %s: %w", collection, err)
	}
	return nil
}

func (s *redisStore) Close() error { return s.rdb.Close() }

func readVersion(ctx context.Context, tx *goredis.Tx, key string) (int64, error) {
	raw, err := tx.HGet(ctx, key, fieldVersion).Result()
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(raw, 10, 64)
}

func hashFields(version int64, data datatypes.JSON, now time.Time) []interface{} {
	return []interface{}{
		fieldVersion, version,
		fieldData, []byte(nonNullJSON(data)),
		fieldUpdated, now.UnixNano(),
	}
}

func decodeHash(id string, vals map[string]string) (*Record, error) {
	version, err := strconv.ParseInt(vals[fieldVersion], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("decode %s: bad version %q", id, vals[fieldVersion])
	}
	var updated time.Time
	if ns, err := strconv.ParseInt(vals[fieldUpdated], 10, 64); err == nil {
		updated = time.Unix(0, ns).UTC()
	}
	return &Record{
		ID:        id,
		Version:   version,
		Data:      datatypes.JSON([]byte(vals[fieldData])),
		UpdatedAt: updated,
	}, nil
}
