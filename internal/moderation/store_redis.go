package moderation

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

// redisStore keeps ban records in Redis so they survive a relay restart.
// Records carry no TTL: expiry stays lazy in the ledger so an observed-expired
// record can still trigger the lifted notice.
type redisStore struct {
	rdb *redis.Client
}

// NewRedisStore connects to redisURL and returns a Redis-backed Store.
func NewRedisStore(redisURL string) (Store, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, fmt.Errorf("redis url required")
	}
	opts, err := parseRedisURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &redisStore{rdb: rdb}, nil
}

func banKey(identity string) string { return "ban:" + strings.TrimSpace(identity) }

const banIndexKey = "ban:index"

func (s *redisStore) Get(ctx context.Context, identity string) (*Record, error) {
	raw, err := s.rdb.Get(ctx, banKey(identity)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *redisStore) Put(ctx context.Context, rec *Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, banKey(rec.Identity), raw, 0)
	pipe.SAdd(ctx, banIndexKey, rec.Identity)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *redisStore) Delete(ctx context.Context, identity string) error {
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, banKey(identity))
	pipe.SRem(ctx, banIndexKey, identity)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *redisStore) List(ctx context.Context) ([]*Record, error) {
	ids, err := s.rdb.SMembers(ctx, banIndexKey).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*Record, 0, len(ids))
	for _, id := range ids {
		rec, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			// index entry without record; heal the index
			_ = s.rdb.SRem(ctx, banIndexKey, id).Err()
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func parseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			db = n
		}
	}
	pass, _ := u.User.Password()
	return &redis.Options{Addr: u.Host, Password: pass, DB: db}, nil
}
