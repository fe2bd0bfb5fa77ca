package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"fleetguard/internal/config"
	"fleetguard/internal/model"
)

type RedisState struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisState(ctx context.Context, cfg config.CacheConfig) (*RedisState, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     20,
		MinIdleConns: 2,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisState{client: client, ttl: ttl}, nil
}

func stateKey(vin string) string {
	return fmt.Sprintf("vehicle:%s:state", vin)
}

func geoKey(fleetID string) string {
	return fmt.Sprintf("fleet:%s:geo", fleetID)
}

// PutLatest writes the sample unless a newer one is already cached.
func (r *RedisState) PutLatest(ctx context.Context, s model.TelemetrySample, fleetID string) error {
	key := stateKey(s.VehicleVIN)
	prev, err := r.client.HGet(ctx, key, "timestamp").Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis read state: %w", err)
	}
	if err == nil && prev > s.Timestamp.UnixNano() {
		return nil
	}

	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	state := map[string]interface{}{
		"vehicle_vin":   s.VehicleVIN,
		"fleet_id":      fleetID,
		"lat":           s.Latitude,
		"lng":           s.Longitude,
		"speed":         s.Speed,
		"fuel_battery":  s.FuelBatteryLevel,
		"engine_status": string(s.EngineStatus),
		"timestamp":     s.Timestamp.UnixNano(),
		"sample":        string(payload),
	}

	pipe := r.client.Pipeline()
	pipe.HSet(ctx, key, state)
	pipe.Expire(ctx, key, r.ttl)
	if fleetID != "" {
		pipe.GeoAdd(ctx, geoKey(fleetID), &redis.GeoLocation{
			Name:      s.VehicleVIN,
			Longitude: s.Longitude,
			Latitude:  s.Latitude,
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline failed: %w", err)
	}
	return nil
}

func (r *RedisState) Latest(ctx context.Context, vin string) (*model.TelemetrySample, error) {
	raw, err := r.client.HGet(ctx, stateKey(vin), "sample").Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get state: %w", err)
	}
	var s model.TelemetrySample
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("decode cached state: %w", err)
	}
	return &s, nil
}

func (r *RedisState) Evict(ctx context.Context, vin string) error {
	return r.client.Del(ctx, stateKey(vin)).Err()
}

func (r *RedisState) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisState) Close() error {
	return r.client.Close()
}
