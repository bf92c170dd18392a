package pairing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "pairing:code:"

// redisExpiryGrace keeps a key past its ExpiresAt so a late poll is told the
// code expired rather than that it never existed.
const redisExpiryGrace = time.Minute

// RedisStore keeps requests in Redis with native key expiry, so several
// fleetd instances share one code space and no sweep is needed.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore creates a store on an existing client.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func redisKey(code string) string {
	return redisKeyPrefix + code
}

// redisTTL is the key lifetime for req: its validity plus the grace period.
func redisTTL(req *Request) time.Duration {
	valid := req.ExpiresAt.Sub(req.CreatedAt)
	if valid <= 0 {
		return 0
	}
	return valid + redisExpiryGrace
}

// Create implements Store with SET NX, which is atomic across instances.
func (s *RedisStore) Create(ctx context.Context, req *Request) (bool, error) {
	ttl := redisTTL(req)
	if ttl <= 0 {
		return false, fmt.Errorf("%w: request already expired", ErrInvalidRequest)
	}

	data, err := json.Marshal(req)
	if err != nil {
		return false, fmt.Errorf("encoding pairing request: %w", err)
	}

	ok, err := s.client.SetNX(ctx, redisKey(req.Code), data, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("storing pairing request: %w", err)
	}
	return ok, nil
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, code string) (*Request, error) {
	data, err := s.client.Get(ctx, redisKey(code)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCodeNotFound
		}
		return nil, fmt.Errorf("loading pairing request: %w", err)
	}

	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("decoding pairing request: %w", err)
	}
	return &req, nil
}

// Delete implements Store. DEL reports the number of removed keys, which
// makes it the arbiter between racing deleters.
func (s *RedisStore) Delete(ctx context.Context, code string) (bool, error) {
	n, err := s.client.Del(ctx, redisKey(code)).Result()
	if err != nil {
		return false, fmt.Errorf("deleting pairing request: %w", err)
	}
	return n > 0, nil
}

// List implements Store using SCAN, so it never blocks the server. Values
// are fetched with a pipeline of GETs because keys may live in different
// cluster slots.
func (s *RedisStore) List(ctx context.Context) ([]Request, error) {
	keys, err := s.scanKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("scanning pairing requests: %w", err)
	}
	if len(keys) == 0 {
		return []Request{}, nil
	}

	cmds := make([]*redis.StringCmd, len(keys))
	_, err = s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, k := range keys {
			cmds[i] = p.Get(ctx, k)
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("loading pairing requests: %w", err)
	}

	out := make([]Request, 0, len(cmds))
	for _, cmd := range cmds {
		raw, err := cmd.Bytes()
		if err != nil {
			// Expired between SCAN and GET.
			continue
		}
		var req Request
		if err := json.Unmarshal(raw, &req); err != nil {
			continue
		}
		out = append(out, req)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// scanKeys collects every pairing key. A cluster client is scanned master
// by master since SCAN only walks the node it is sent to.
func (s *RedisStore) scanKeys(ctx context.Context) ([]string, error) {
	scan := func(ctx context.Context, c redis.Cmdable) ([]string, error) {
		var keys []string
		iter := c.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
		}
		return keys, iter.Err()
	}

	cluster, ok := s.client.(*redis.ClusterClient)
	if !ok {
		return scan(ctx, s.client)
	}

	var (
		mu   sync.Mutex
		keys []string
	)
	err := cluster.ForEachMaster(ctx, func(ctx context.Context, node *redis.Client) error {
		found, err := scan(ctx, node)
		if err != nil {
			return err
		}
		mu.Lock()
		keys = append(keys, found...)
		mu.Unlock()
		return nil
	})
	return keys, err
}

// Sweep implements Store. Redis expires keys itself.
func (s *RedisStore) Sweep(context.Context, time.Time) (int, error) {
	return 0, nil
}
