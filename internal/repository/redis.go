package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/goerajat/online-betting-sub000/internal/config"
	"github.com/goerajat/online-betting-sub000/internal/model"
)

const (
	violationRecentKey = "risk:violations:recent"
	violationRecentMax = 1000
	violationCountTTL  = 48 * time.Hour
)

type RedisClient struct {
	Client *redis.Client
	now    func() time.Time
}

func NewRedisClient(cfg *config.Config) (*RedisClient, error) {
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis address is empty")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisClient{Client: rdb, now: time.Now}, nil
}

func (r *RedisClient) Close() error {
	return r.Client.Close()
}

// 按 UTC 日期分割计数
func violationCountKey(t time.Time) string {
	return "risk:violations:" + t.UTC().Format("2006-01-02")
}

// Record implements the risk ViolationRepo: a per-day counter hash plus a
// capped list of recent violations.
func (r *RedisClient) Record(ctx context.Context, v model.RiskViolation) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	countKey := violationCountKey(r.now())

	pipe := r.Client.TxPipeline()
	pipe.HIncrBy(ctx, countKey, string(v.Check), 1)
	pipe.Expire(ctx, countKey, violationCountTTL)
	pipe.LPush(ctx, violationRecentKey, payload)
	pipe.LTrim(ctx, violationRecentKey, 0, violationRecentMax-1)
	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisClient) Recent(ctx context.Context, limit int) ([]model.RiskViolation, error) {
	if limit <= 0 || limit > violationRecentMax {
		limit = violationRecentMax
	}
	items, err := r.Client.LRange(ctx, violationRecentKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]model.RiskViolation, 0, len(items))
	for _, raw := range items {
		var v model.RiskViolation
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

// Counts returns today's violation counts by check.
func (r *RedisClient) Counts(ctx context.Context) (map[model.CheckKind]int64, error) {
	raw, err := r.Client.HGetAll(ctx, violationCountKey(r.now())).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	return parseCounts(raw), nil
}

func parseCounts(raw map[string]string) map[model.CheckKind]int64 {
	out := make(map[model.CheckKind]int64, len(raw))
	for k, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		out[model.CheckKind(k)] = n
	}
	return out
}
