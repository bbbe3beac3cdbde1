package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"buoy-svr/internal/pipeline"
)

const counterTTL = 48 * time.Hour

// Redis keeps the latest reading per device and a per-day frame counter.
type Redis struct {
	rdb *redis.Client
	ttl time.Duration
	now func() time.Time
}

func NewRedis(ctx context.Context, addr string, db int, ttl time.Duration) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &Redis{rdb: rdb, ttl: ttl, now: time.Now}, nil
}

func (s *Redis) Close() error {
	return s.rdb.Close()
}

func lastKey(deviceID string) string {
	return "buoy:" + deviceID + ":last"
}

func framesKey(deviceID string, day time.Time) string {
	return "buoy:" + deviceID + ":frames:" + day.UTC().Format("20060102")
}

// SaveReading stores r as the device's latest reading and bumps today's counter.
func (s *Redis) SaveReading(ctx context.Context, r *pipeline.Reading) error {
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal reading: %w", err)
	}
	key := framesKey(r.DeviceID, s.now())

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, lastKey(r.DeviceID), b, s.ttl)
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, counterTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis save %s: %w", r.DeviceID, err)
	}
	return nil
}

// LastReading returns the latest reading for a device; ok is false when none
// is cached.
func (s *Redis) LastReading(ctx context.Context, deviceID string) (*pipeline.Reading, bool, error) {
	val, err := s.rdb.Get(ctx, lastKey(deviceID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", deviceID, err)
	}
	var r pipeline.Reading
	if err := json.Unmarshal(val, &r); err != nil {
		return nil, false, fmt.Errorf("decode cached reading %s: %w", deviceID, err)
	}
	return &r, true, nil
}

// LastReadings fetches the latest reading of several devices in one round
// trip. Devices without a cached reading are absent from the result.
func (s *Redis) LastReadings(ctx context.Context, deviceIDs []string) (map[string]*pipeline.Reading, error) {
	out := make(map[string]*pipeline.Reading, len(deviceIDs))
	if len(deviceIDs) == 0 {
		return out, nil
	}
	keys := make([]string, len(deviceIDs))
	for i, id := range deviceIDs {
		keys[i] = lastKey(id)
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget: %w", err)
	}
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var r pipeline.Reading
		if err := json.Unmarshal([]byte(str), &r); err != nil {
			continue
		}
		out[deviceIDs[i]] = &r
	}
	return out, nil
}

// DailyFrames returns how many frames a device delivered on the given UTC day.
func (s *Redis) DailyFrames(ctx context.Context, deviceID string, day time.Time) (int64, error) {
	val, err := s.rdb.Get(ctx, framesKey(deviceID, day)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get counter %s: %w", deviceID, err)
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse counter %s: %w", deviceID, err)
	}
	return n, nil
}

func (s *Redis) Name() string { return "redis" }

func (s *Redis) Handle(ctx context.Context, r *pipeline.Reading) error {
	return s.SaveReading(ctx, r)
}
