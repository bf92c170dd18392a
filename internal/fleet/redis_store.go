package fleet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Trivenidigital/Vizora-sub012/internal/protocol"
)

// RedisStore shares fleet state between fleetd instances.
//
// Key layout:
//
//	device:status:{id}                        JSON StatusRecord
//	device:commands:{id}                      list of JSON Command
//	heartbeat:{id}:latest                     JSON HeartbeatRecord, 5m TTL
//	stats:device:{id}:impressions:YYYY-MM-DD  counter, 24h TTL
//	errors:device:{id}                        list of JSON ErrorRecord, 1h TTL
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore creates a store on an existing client.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func statusKey(id string) string   { return "device:status:" + id }
func commandsKey(id string) string { return "device:commands:" + id }
func heartbeatKey(id string) string {
	return "heartbeat:" + id + ":latest"
}
func impressionsKey(id string, at time.Time) string {
	return "stats:device:" + id + ":impressions:" + dayKey(at)
}
func errorsKey(id string) string { return "errors:device:" + id }

func (s *RedisStore) SetStatus(ctx context.Context, displayID string, rec StatusRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding status: %w", err)
	}
	if err := s.client.Set(ctx, statusKey(displayID), data, 0).Err(); err != nil {
		return fmt.Errorf("storing status: %w", err)
	}
	return nil
}

func (s *RedisStore) GetStatus(ctx context.Context, displayID string) (*StatusRecord, error) {
	var rec StatusRecord
	if err := s.getJSON(ctx, statusKey(displayID), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *RedisStore) SaveHeartbeat(ctx context.Context, displayID string, rec HeartbeatRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding heartbeat: %w", err)
	}
	if err := s.client.Set(ctx, heartbeatKey(displayID), data, HeartbeatTTL).Err(); err != nil {
		return fmt.Errorf("storing heartbeat: %w", err)
	}
	return nil
}

func (s *RedisStore) LatestHeartbeat(ctx context.Context, displayID string) (*HeartbeatRecord, error) {
	var rec HeartbeatRecord
	if err := s.getJSON(ctx, heartbeatKey(displayID), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *RedisStore) PushCommand(ctx context.Context, displayID string, cmd protocol.Command) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("encoding command: %w", err)
	}
	key := commandsKey(displayID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, data)
		pipe.LTrim(ctx, key, -MaxQueuedCommands, -1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("queueing command: %w", err)
	}
	return nil
}

// DrainCommands reads and deletes the queue in one MULTI so a command
// pushed concurrently is either returned now or kept for the next drain.
func (s *RedisStore) DrainCommands(ctx context.Context, displayID string) ([]protocol.Command, error) {
	key := commandsKey(displayID)
	var lrange *redis.StringSliceCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		lrange = pipe.LRange(ctx, key, 0, -1)
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("draining commands: %w", err)
	}

	cmds := make([]protocol.Command, 0, len(lrange.Val()))
	for _, raw := range lrange.Val() {
		var cmd protocol.Command
		if err := json.Unmarshal([]byte(raw), &cmd); err != nil {
			continue
		}
		cmds = append(cmds, cmd)
	}
	return cmds, nil
}

func (s *RedisStore) IncrImpressions(ctx context.Context, displayID string, at time.Time) (int64, error) {
	key := impressionsKey(displayID, at)
	var incr *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, ImpressionCounterTTL)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("counting impression: %w", err)
	}
	return incr.Val(), nil
}

func (s *RedisStore) Impressions(ctx context.Context, displayID string, at time.Time) (int64, error) {
	n, err := s.client.Get(ctx, impressionsKey(displayID, at)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading impressions: %w", err)
	}
	return n, nil
}

func (s *RedisStore) AppendError(ctx context.Context, displayID string, rec ErrorRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding error record: %w", err)
	}
	key := errorsKey(displayID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, data)
		pipe.LTrim(ctx, key, -MaxErrorLog, -1)
		pipe.Expire(ctx, key, ErrorLogTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("storing error record: %w", err)
	}
	return nil
}

func (s *RedisStore) RecentErrors(ctx context.Context, displayID string) ([]ErrorRecord, error) {
	raws, err := s.client.LRange(ctx, errorsKey(displayID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("reading error records: %w", err)
	}
	out := make([]ErrorRecord, 0, len(raws))
	for _, raw := range raws {
		var rec ErrorRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *RedisStore) getJSON(ctx context.Context, key string, v any) error {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		return fmt.Errorf("loading %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding %s: %w", key, err)
	}
	return nil
}
